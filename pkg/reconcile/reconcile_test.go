package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/model"
)

func rule(method, url string) model.RouteRule {
	return model.RouteRule{Name: method + url, Method: method, URL: url, Handlers: []string{}, NodeGroup: []model.Node{}}
}

func TestUpdatedReplacesMatch(t *testing.T) {
	s := State{Items: []model.RouteRule{rule("GET", "/a"), rule("POST", "/b")}}
	next := rule("GET", "/a")
	next.Name = "renamed"

	out, n := Updated(s, model.Key{Method: "GET", URL: "/a"}, next)
	assert.Equal(t, 1, n)
	assert.Equal(t, "renamed", out.Items[0].Name)
	assert.Equal(t, "GET/a", s.Items[0].Name, "input must not change")
}

func TestUpdatedWithoutMatchIsNoop(t *testing.T) {
	s := State{Items: []model.RouteRule{rule("POST", "/b")}}
	out, n := Updated(s, model.Key{Method: "GET", URL: "/a"}, rule("GET", "/a"))
	assert.Equal(t, 0, n)
	assert.Equal(t, s, out)
}

func TestUpdatedByIDAllowsKeyChange(t *testing.T) {
	r := rule("GET", "/a")
	r.ID = "r1"
	s := State{Items: []model.RouteRule{r}}

	moved := rule("PUT", "/z")
	moved.ID = "r1"
	out, n := Updated(s, model.KeyOf(r), moved)
	require.Equal(t, 1, n)
	assert.Equal(t, "/z", out.Items[0].URL)

	// the old business key no longer matches once the id is known
	out, n = Updated(out, model.Key{ID: "r1", Method: "GET", URL: "/a"}, rule("GET", "/a"))
	assert.Equal(t, 1, n)
}

func TestDeletedRemovesEveryMatch(t *testing.T) {
	s := State{Items: []model.RouteRule{rule("GET", "/a"), rule("POST", "/b"), rule("GET", "/a")}}
	out, n := Deleted(s, model.Key{Method: "GET", URL: "/a"})
	assert.Equal(t, 2, n)
	assert.Equal(t, []model.RouteRule{rule("POST", "/b")}, out.Items)
	assert.Len(t, s.Items, 3)
}

func TestCreatedAllowsDuplicates(t *testing.T) {
	s := Created(Created(State{}, rule("GET", "/a")), rule("GET", "/a"))
	assert.Len(t, s.Items, 2)
}

func TestFetchTransitions(t *testing.T) {
	s := State{Items: []model.RouteRule{rule("GET", "/a")}, Message: "old"}

	started, ok := FetchStarted(s)
	require.True(t, ok)
	assert.True(t, started.Fetching)
	assert.Empty(t, started.Message)

	_, ok = FetchStarted(started)
	assert.False(t, ok)

	failed := FetchFailed(started, "boom")
	assert.False(t, failed.Fetching)
	assert.Equal(t, "boom", failed.Message)
	assert.Equal(t, s.Items, failed.Items)

	done := FetchSucceeded(started, []model.RouteRule{rule("PUT", "/c")})
	assert.False(t, done.Fetching)
	assert.Equal(t, []model.RouteRule{rule("PUT", "/c")}, done.Items)
}

type fetcher struct {
	items   []model.RouteRule
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fetcher) ListRoutes(context.Context) ([]model.RouteRule, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.items, f.err
}

func TestReconcilerFetchAll(t *testing.T) {
	f := &fetcher{items: []model.RouteRule{rule("GET", "/a"), rule("POST", "/b")}}
	r := New(f)
	require.NoError(t, r.FetchAll(context.Background()))
	snap := r.Snapshot()
	assert.False(t, snap.Fetching)
	assert.Len(t, snap.Items, 2)

	f.err = errors.New("connection refused")
	err := r.FetchAll(context.Background())
	require.Error(t, err)
	snap = r.Snapshot()
	assert.Equal(t, "connection refused", snap.Message)
	assert.Len(t, snap.Items, 2)
}

func TestReconcilerSingleFetchInFlight(t *testing.T) {
	f := &fetcher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := New(f)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.FetchAll(context.Background()))
	}()
	<-f.entered
	assert.True(t, r.Snapshot().Fetching)
	assert.ErrorIs(t, r.FetchAll(context.Background()), ErrFetchInFlight)
	close(f.block)
	wg.Wait()
	assert.False(t, r.Snapshot().Fetching)
}

func TestReconcilerApplyAndNotify(t *testing.T) {
	r := New(&fetcher{})
	var seen []int
	r.OnChange(func(s State) { seen = append(seen, len(s.Items)) })

	created := rule("GET", "/a")
	created.ID = "r1"
	r.Apply(created, nil)
	assert.True(t, r.Exists("GET", "/a"))

	edited := created
	edited.Name = "edited"
	key := model.KeyOf(created)
	r.Apply(edited, &key)
	got, ok := r.Find(model.Key{ID: "r1"})
	require.True(t, ok)
	assert.Equal(t, "edited", got.Name)

	assert.Equal(t, 1, r.Delete(key))
	assert.Equal(t, 0, r.Delete(key))
	assert.Equal(t, []int{1, 1, 0, 0}, seen)
}

func TestSnapshotIsDetached(t *testing.T) {
	r := New(&fetcher{})
	r.Create(model.RouteRule{Method: "GET", URL: "/a", NodeGroup: []model.Node{{Cluster: "c1"}}})
	snap := r.Snapshot()
	snap.Items[0].NodeGroup[0].Cluster = "changed"
	assert.Equal(t, "c1", r.Snapshot().Items[0].NodeGroup[0].Cluster)
}
