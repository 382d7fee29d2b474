package model

import "time"

// Cluster is a named group of backend endpoints. Routes reference it by name.
type Cluster struct {
	Name        string `json:"clusterName"`
	Description string `json:"description,omitempty"`
	Exist       bool   `json:"exist"` // referenced by at least one stored route
	BackendNum  int    `json:"backendNum"`
}

// Plugin is a request/response handler a route can enable.
type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Private bool   `json:"private"` // always on; not selectable per route
}

// DefaultPlugins is the catalog every fresh store is seeded with.
func DefaultPlugins() []Plugin {
	return []Plugin{
		{Name: "proxy", Version: "0.1", Private: true},
		{Name: "recovery", Version: "0.1", Private: true},
		{Name: "auth", Version: "0.1"},
		{Name: "snapshot", Version: "0.1"},
	}
}

// AuditEntry captures an operation against the route table.
type AuditEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
