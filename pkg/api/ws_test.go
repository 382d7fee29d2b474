package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/model"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastDoesNotWaitForStalledConsole(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	// connected but never reads
	dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := model.ChangeEvent{Type: model.EventCreated, Key: model.Key{Method: "GET", URL: "/" + strings.Repeat("x", 4096)}}
	start := time.Now()
	for i := 0; i < 20000; i++ {
		hub.Broadcast(ev)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)

	// a console that reads still gets events after the stalled one is gone
	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(model.ChangeEvent{Type: model.EventDeleted, Key: model.Key{Method: "GET", URL: "/a"}})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.ChangeEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EventDeleted, got.Type)
	assert.Equal(t, "/a", got.Key.URL)
}

func TestBroadcastOnNilHub(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Broadcast(model.ChangeEvent{Type: model.EventRefresh}) })
}
