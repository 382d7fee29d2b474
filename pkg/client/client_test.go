package client

import (
	"context"
	"encoding/pem"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/api"
	"gate-console/pkg/config"
	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
	"gate-console/pkg/store"
)

func newAdmin(t *testing.T) (*Client, *store.MemoryStore, *api.Hub) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.AddCluster(model.Cluster{Name: "c1"}))
	hub := api.NewHub()
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, st, hub, api.Options{MaxNodes: 5})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return New(srv.URL, WithActor("tester")), st, hub
}

func rule(url string) model.RouteRule {
	return model.RouteRule{
		Name: "r", Method: "GET", URL: url, Handlers: []string{},
		NodeGroup: []model.Node{{Cluster: "c1", Rewrite: "/x", ParamGroup: []model.Param{}}},
	}
}

func TestRoundTrip(t *testing.T) {
	c, st, _ := newAdmin(t)
	ctx := context.Background()

	saved, err := c.CreateRoute(ctx, rule("/a"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	list, err := c.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	next := rule("/a2")
	require.NoError(t, c.UpdateRoute(ctx, model.KeyOf(saved), next))
	_, ok, _ := st.GetRoute(model.Key{Method: "GET", URL: "/a2"})
	assert.True(t, ok)

	require.NoError(t, c.DeleteRoute(ctx, model.Key{ID: saved.ID, Method: "GET", URL: "/a2"}))
	list, err = c.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)

	audit, err := c.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "tester", audit[0].Actor)
}

func TestApplicationErrorsCarryCode(t *testing.T) {
	c, _, _ := newAdmin(t)
	ctx := context.Background()
	_, err := c.CreateRoute(ctx, rule("/a"))
	require.NoError(t, err)

	_, err = c.CreateRoute(ctx, rule("/a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errcode.APIAlreadyExist)
	var ce *errcode.Error
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Message, "already exists")

	err = c.DeleteRoute(ctx, model.Key{Method: "GET", URL: "/nope"})
	assert.Equal(t, errcode.APINotFound.Code, errcode.CodeOf(err))
}

func TestCreateWithoutEchoKeepsRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"message":"success"}`))
	}))
	defer srv.Close()

	r := rule("/a")
	r.ID = "client-id"
	saved, err := New(srv.URL).CreateRoute(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, r, saved)
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = New("http://" + addr).ListRoutes(context.Background())
	require.Error(t, err)
	assert.Equal(t, -1, errcode.CodeOf(err))
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err = New(srv.URL).ListRoutes(context.Background())
	assert.ErrorContains(t, err, "502")
}

func TestWatch(t *testing.T) {
	c, _, hub := newAdmin(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan model.ChangeEvent, 4)
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, func(ev model.ChangeEvent) { events <- ev }) }()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := c.CreateRoute(context.Background(), rule("/w"))
	require.NoError(t, err)
	select {
	case ev := <-events:
		assert.Equal(t, model.EventCreated, ev.Type)
		assert.Equal(t, "/w", ev.Key.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWithTLSTrustsServerCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":[],"message":"success"}`))
	}))
	defer srv.Close()

	ca := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(ca, pemBytes, 0o600))

	_, err := New(srv.URL).ListRoutes(context.Background())
	require.Error(t, err, "unknown authority without the ca")

	tcfg, err := config.TLS{CA: ca}.Client()
	require.NoError(t, err)
	list, err := New(srv.URL, WithTLS(tcfg)).ListRoutes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
