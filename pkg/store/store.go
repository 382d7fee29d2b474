package store

import (
	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

// RouteStore defines the persistence layer for the route table and the
// reference data the console reads.
type RouteStore interface {
	ListRoutes() ([]model.RouteRule, error)
	GetRoute(key model.Key) (model.RouteRule, bool, error)
	// CreateRoute fails with errcode.APIAlreadyExist when method+url is taken.
	CreateRoute(model.RouteRule) (model.RouteRule, error)
	// UpdateRoute replaces the rule matching key; errcode.APINotFound when none does.
	UpdateRoute(key model.Key, rule model.RouteRule) (model.RouteRule, error)
	DeleteRoute(key model.Key) error
	ListClusters() ([]model.Cluster, error)
	AddCluster(model.Cluster) error
	ListPlugins() ([]model.Plugin, error)
	RegisterPlugin(model.Plugin) error
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
}

// CheckConflict returns errcode.APIAlreadyExist when a rule other than the one
// matched by self already uses rule's method+url. self may be nil on create.
func CheckConflict(existing []model.RouteRule, rule model.RouteRule, self *model.Key) error {
	for _, r := range existing {
		if self != nil && self.Matches(r) {
			continue
		}
		if model.SameRoute(r, rule) {
			return errcode.APIAlreadyExist.Withf("api %s %s already exists", rule.Method, rule.URL)
		}
	}
	return nil
}

// CountUsage fills Exist on each cluster from the routes referencing it.
func CountUsage(clusters []model.Cluster, routes []model.RouteRule) []model.Cluster {
	used := map[string]bool{}
	for _, r := range routes {
		for _, n := range r.NodeGroup {
			used[n.Cluster] = true
		}
	}
	out := make([]model.Cluster, len(clusters))
	for i, c := range clusters {
		c.Exist = used[c.Name]
		out[i] = c
	}
	return out
}
