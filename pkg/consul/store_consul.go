//go:build consul

package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	consulapi "github.com/hashicorp/consul/api"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

// Store is a Consul KV backed route store. Each rule lives under its ID.
type Store struct {
	cli *consulapi.Client
}

const (
	routePrefix   = "gate-console/apis/"
	clusterPrefix = "gate-console/clusters/"
	pluginPrefix  = "gate-console/plugins/"
	auditPrefix   = "gate-console/audit/"
	// indexPrefix maps METHOD/escaped-url to the owning route id so that
	// (method, url) uniqueness holds across gate-admin instances.
	indexPrefix = "gate-console/keys/"
)

func indexKey(method, u string) string {
	return indexPrefix + strings.ToUpper(method) + "/" + url.QueryEscape(u)
}

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	s := &Store{cli: cli}
	// seed the plugin catalog when empty
	pairs, _, err := cli.KV().List(pluginPrefix, nil)
	if err == nil && len(pairs) == 0 {
		for _, p := range model.DefaultPlugins() {
			_ = s.RegisterPlugin(p)
		}
	}
	return s, nil
}

func (s *Store) put(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListRoutes() ([]model.RouteRule, error) {
	pairs, _, err := s.cli.KV().List(routePrefix, nil)
	if err != nil {
		return nil, errcode.StoreFailed.Withf("list routes: %v", err)
	}
	out := make([]model.RouteRule, 0, len(pairs))
	for _, p := range pairs {
		var r model.RouteRule
		if err := json.Unmarshal(p.Value, &r); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) GetRoute(key model.Key) (model.RouteRule, bool, error) {
	if key.ID != "" {
		kv, _, err := s.cli.KV().Get(routePrefix+key.ID, nil)
		if err != nil || kv == nil {
			return model.RouteRule{}, false, err
		}
		var r model.RouteRule
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return model.RouteRule{}, false, err
		}
		return r, true, nil
	}
	all, err := s.ListRoutes()
	if err != nil {
		return model.RouteRule{}, false, err
	}
	for _, r := range all {
		if key.Matches(r) {
			return r, true, nil
		}
	}
	return model.RouteRule{}, false, nil
}

func (s *Store) CreateRoute(r model.RouteRule) (model.RouteRule, error) {
	all, err := s.ListRoutes()
	if err != nil {
		return r, err
	}
	for _, existing := range all {
		if model.SameRoute(existing, r) {
			return r, errcode.APIAlreadyExist.Withf("api %s %s already exists", r.Method, r.URL)
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return r, err
	}
	return r, s.txn("create route", r, createOps(r, b))
}

func createOps(r model.RouteRule, doc []byte) consulapi.KVTxnOps {
	return consulapi.KVTxnOps{
		{Verb: consulapi.KVCheckNotExists, Key: indexKey(r.Method, r.URL)},
		{Verb: consulapi.KVCheckNotExists, Key: routePrefix + r.ID},
		{Verb: consulapi.KVSet, Key: indexKey(r.Method, r.URL), Value: []byte(r.ID)},
		{Verb: consulapi.KVSet, Key: routePrefix + r.ID, Value: doc},
	}
}

// updateOps replaces cur with r, failing when cur changed since it was read
// (modifyIndex) or when r moves onto a (method, url) someone else owns.
func updateOps(cur, r model.RouteRule, modifyIndex uint64, doc []byte) consulapi.KVTxnOps {
	ops := consulapi.KVTxnOps{
		{Verb: consulapi.KVCheckIndex, Key: routePrefix + cur.ID, Index: modifyIndex},
	}
	oldKey, newKey := indexKey(cur.Method, cur.URL), indexKey(r.Method, r.URL)
	if oldKey != newKey {
		ops = append(ops,
			&consulapi.KVTxnOp{Verb: consulapi.KVCheckNotExists, Key: newKey},
			&consulapi.KVTxnOp{Verb: consulapi.KVDelete, Key: oldKey},
		)
	}
	return append(ops,
		&consulapi.KVTxnOp{Verb: consulapi.KVSet, Key: newKey, Value: []byte(r.ID)},
		&consulapi.KVTxnOp{Verb: consulapi.KVSet, Key: routePrefix + r.ID, Value: doc},
	)
}

func (s *Store) txn(op string, r model.RouteRule, ops consulapi.KVTxnOps) error {
	ok, resp, _, err := s.cli.KV().Txn(ops, nil)
	if err != nil {
		return errcode.StoreFailed.Withf("%s: %v", op, err)
	}
	if !ok {
		return txnError(op, r, ops, resp)
	}
	return nil
}

// txnError turns a rolled back transaction into the coded error of the
// first failed check.
func txnError(op string, r model.RouteRule, ops consulapi.KVTxnOps, resp *consulapi.KVTxnResponse) error {
	if resp != nil {
		for _, e := range resp.Errors {
			if e.OpIndex < 0 || e.OpIndex >= len(ops) {
				continue
			}
			switch failed := ops[e.OpIndex]; {
			case failed.Verb == consulapi.KVCheckIndex:
				return errcode.StoreFailed.Withf("%s: api %s changed concurrently", op, r.ID)
			case strings.HasPrefix(failed.Key, indexPrefix):
				return errcode.APIAlreadyExist.Withf("api %s %s already exists", r.Method, r.URL)
			case strings.HasPrefix(failed.Key, routePrefix):
				return errcode.APIAlreadyExist.Withf("api id %s already exists", r.ID)
			}
		}
	}
	return errcode.StoreFailed.Withf("%s: transaction rolled back", op)
}

func (s *Store) UpdateRoute(key model.Key, r model.RouteRule) (model.RouteRule, error) {
	cur, ok, err := s.GetRoute(key)
	if err != nil {
		return r, errcode.StoreFailed.Withf("update route: %v", err)
	}
	if !ok {
		return r, errcode.APINotFound.Withf("api %s not found", key)
	}
	all, err := s.ListRoutes()
	if err != nil {
		return r, err
	}
	self := model.KeyOf(cur)
	for _, existing := range all {
		if self.Matches(existing) {
			continue
		}
		if model.SameRoute(existing, r) {
			return r, errcode.APIAlreadyExist.Withf("api %s %s already exists", r.Method, r.URL)
		}
	}
	r.ID = cur.ID
	kv, _, err := s.cli.KV().Get(routePrefix+cur.ID, nil)
	if err != nil {
		return r, errcode.StoreFailed.Withf("update route: %v", err)
	}
	if kv == nil {
		return r, errcode.APINotFound.Withf("api %s not found", key)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return r, err
	}
	return r, s.txn("update route", r, updateOps(cur, r, kv.ModifyIndex, b))
}

func (s *Store) DeleteRoute(key model.Key) error {
	cur, ok, err := s.GetRoute(key)
	if err != nil {
		return errcode.StoreFailed.Withf("delete route: %v", err)
	}
	if !ok {
		return errcode.APINotFound.Withf("api %s not found", key)
	}
	return s.txn("delete route", cur, consulapi.KVTxnOps{
		{Verb: consulapi.KVDelete, Key: routePrefix + cur.ID},
		{Verb: consulapi.KVDelete, Key: indexKey(cur.Method, cur.URL)},
	})
}

func (s *Store) ListClusters() ([]model.Cluster, error) {
	pairs, _, err := s.cli.KV().List(clusterPrefix, nil)
	if err != nil {
		return nil, err
	}
	routes, err := s.ListRoutes()
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for _, r := range routes {
		for _, n := range r.NodeGroup {
			used[n.Cluster] = true
		}
	}
	out := make([]model.Cluster, 0, len(pairs))
	for _, p := range pairs {
		var c model.Cluster
		if err := json.Unmarshal(p.Value, &c); err == nil {
			c.Exist = used[c.Name]
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) AddCluster(c model.Cluster) error {
	if c.Name == "" {
		return errcode.ClusterNameEmpty
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: clusterPrefix + c.Name, Value: b, ModifyIndex: 0}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errcode.ClusterAlreadyExist.Withf("cluster %s already exists", c.Name)
	}
	return nil
}

func (s *Store) ListPlugins() ([]model.Plugin, error) {
	pairs, _, err := s.cli.KV().List(pluginPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Plugin, 0, len(pairs))
	for _, p := range pairs {
		var pl model.Plugin
		if err := json.Unmarshal(p.Value, &pl); err == nil {
			out = append(out, pl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RegisterPlugin(p model.Plugin) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: pluginPrefix + p.Name, Value: b, ModifyIndex: 0}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errcode.PluginAlreadyExist.Withf("plugin %s already exists", p.Name)
	}
	return nil
}

func (s *Store) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	key := fmt.Sprintf("%s%d-%s", auditPrefix, entry.Timestamp.UnixNano(), entry.Action)
	return s.put(key, entry)
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping checks the agent is reachable.
func (s *Store) Ping() error {
	_, err := s.cli.Status().Leader()
	return err
}

// WatchRoutes calls fn after every change under the route prefix until ctx ends.
func (s *Store) WatchRoutes(ctx context.Context, fn func()) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, meta, err := s.cli.KV().List(routePrefix, q)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		if q.WaitIndex != 0 && meta.LastIndex != q.WaitIndex {
			fn()
		}
		q.WaitIndex = meta.LastIndex
	}
}
