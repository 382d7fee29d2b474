package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo.
type MemoryStore struct {
	mu       sync.RWMutex
	routes   []model.RouteRule
	clusters map[string]model.Cluster
	plugins  map[string]model.Plugin
	audit    []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		clusters: make(map[string]model.Cluster),
		plugins:  make(map[string]model.Plugin),
	}
	for _, p := range model.DefaultPlugins() {
		m.plugins[p.Name] = p
	}
	return m
}

func (m *MemoryStore) ListRoutes() ([]model.RouteRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RouteRule, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *MemoryStore) GetRoute(key model.Key) (model.RouteRule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(key); i >= 0 {
		return m.routes[i].Clone(), true, nil
	}
	return model.RouteRule{}, false, nil
}

func (m *MemoryStore) CreateRoute(r model.RouteRule) (model.RouteRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckConflict(m.routes, r, nil); err != nil {
		return r, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.routes = append(m.routes, r.Clone())
	return r, nil
}

func (m *MemoryStore) UpdateRoute(key model.Key, r model.RouteRule) (model.RouteRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(key)
	if i < 0 {
		return r, errcode.APINotFound.Withf("api %s not found", key)
	}
	self := model.KeyOf(m.routes[i])
	if err := CheckConflict(m.routes, r, &self); err != nil {
		return r, err
	}
	r.ID = m.routes[i].ID
	m.routes[i] = r.Clone()
	return r, nil
}

func (m *MemoryStore) DeleteRoute(key model.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(key)
	if i < 0 {
		return errcode.APINotFound.Withf("api %s not found", key)
	}
	m.routes = append(m.routes[:i], m.routes[i+1:]...)
	return nil
}

func (m *MemoryStore) indexOf(key model.Key) int {
	for i, r := range m.routes {
		if key.Matches(r) {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) ListClusters() ([]model.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return CountUsage(out, m.routes), nil
}

func (m *MemoryStore) AddCluster(c model.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Name == "" {
		return errcode.ClusterNameEmpty
	}
	if _, ok := m.clusters[c.Name]; ok {
		return errcode.ClusterAlreadyExist.Withf("cluster %s already exists", c.Name)
	}
	m.clusters[c.Name] = c
	return nil
}

func (m *MemoryStore) ListPlugins() ([]model.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) RegisterPlugin(p model.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[p.Name]; ok {
		return errcode.PluginAlreadyExist.Withf("plugin %s already exists", p.Name)
	}
	m.plugins[p.Name] = p
	return nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, 0, limit)
	start := len(m.audit) - limit
	for i := start; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// Ping reports readiness for health endpoints.
func (m *MemoryStore) Ping() error { return nil }
