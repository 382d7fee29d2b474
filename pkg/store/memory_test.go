package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

func route(method, url string) model.RouteRule {
	return model.RouteRule{Name: "r", Method: method, URL: url, Handlers: []string{}, NodeGroup: []model.Node{}}
}

func TestMemoryCreateAssignsIDAndRejectsDuplicates(t *testing.T) {
	m := NewMemoryStore()
	saved, err := m.CreateRoute(route("GET", "/a"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	_, err = m.CreateRoute(route("GET", "/a"))
	assert.ErrorIs(t, err, errcode.APIAlreadyExist)

	_, err = m.CreateRoute(route("POST", "/a"))
	assert.NoError(t, err)

	all, err := m.ListRoutes()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemoryStore()
	a, _ := m.CreateRoute(route("GET", "/a"))
	_, _ = m.CreateRoute(route("GET", "/b"))

	next := route("PUT", "/a2")
	next.Name = "moved"
	got, err := m.UpdateRoute(model.KeyOf(a), next)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID, "id survives a key change")

	r, ok, err := m.GetRoute(model.Key{ID: a.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "moved", r.Name)

	_, err = m.UpdateRoute(model.Key{Method: "GET", URL: "/missing"}, route("GET", "/missing"))
	assert.ErrorIs(t, err, errcode.APINotFound)

	_, err = m.UpdateRoute(model.Key{Method: "PUT", URL: "/a2"}, route("GET", "/b"))
	assert.ErrorIs(t, err, errcode.APIAlreadyExist)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemoryStore()
	_, _ = m.CreateRoute(route("GET", "/a"))
	require.NoError(t, m.DeleteRoute(model.Key{Method: "GET", URL: "/a"}))
	assert.ErrorIs(t, m.DeleteRoute(model.Key{Method: "GET", URL: "/a"}), errcode.APINotFound)
}

func TestMemoryListIsDetached(t *testing.T) {
	m := NewMemoryStore()
	r := route("GET", "/a")
	r.NodeGroup = []model.Node{{Cluster: "c1", Rewrite: "/a"}}
	_, _ = m.CreateRoute(r)

	all, _ := m.ListRoutes()
	all[0].NodeGroup[0].Cluster = "changed"
	again, _ := m.ListRoutes()
	assert.Equal(t, "c1", again[0].NodeGroup[0].Cluster)
}

func TestMemoryClustersAndPlugins(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.AddCluster(model.Cluster{Name: "c2"}))
	require.NoError(t, m.AddCluster(model.Cluster{Name: "c1"}))
	assert.ErrorIs(t, m.AddCluster(model.Cluster{Name: "c1"}), errcode.ClusterAlreadyExist)
	assert.ErrorIs(t, m.AddCluster(model.Cluster{}), errcode.ClusterNameEmpty)

	r := route("GET", "/a")
	r.NodeGroup = []model.Node{{Cluster: "c1", Rewrite: "/a"}}
	_, _ = m.CreateRoute(r)

	clusters, err := m.ListClusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "c1", clusters[0].Name)
	assert.True(t, clusters[0].Exist)
	assert.False(t, clusters[1].Exist)

	plugins, err := m.ListPlugins()
	require.NoError(t, err)
	assert.Len(t, plugins, len(model.DefaultPlugins()))
	assert.ErrorIs(t, m.RegisterPlugin(model.Plugin{Name: "auth"}), errcode.PluginAlreadyExist)
}

func TestMemoryAuditKeepsNewest(t *testing.T) {
	m := NewMemoryStore()
	for _, a := range []string{"a", "b", "c"} {
		require.NoError(t, m.AppendAudit(model.AuditEntry{Action: a}))
	}
	got, err := m.ListAudit(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Action)
	assert.False(t, got[1].Timestamp.IsZero())
}

func TestCheckConflictSkipsSelf(t *testing.T) {
	existing := []model.RouteRule{route("GET", "/a")}
	self := model.Key{Method: "GET", URL: "/a"}
	assert.NoError(t, CheckConflict(existing, route("GET", "/a"), &self))
	assert.ErrorIs(t, CheckConflict(existing, route("GET", "/a"), nil), errcode.APIAlreadyExist)
}
