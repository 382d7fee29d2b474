package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
	"gate-console/pkg/store"
	"gate-console/pkg/version"
)

// Options tunes the server-side checks.
type Options struct {
	// MaxNodes caps a rule's node group. Zero disables the check.
	MaxNodes int
}

// RegisterRoutes wires the admin HTTP handlers on the provided mux.
func RegisterRoutes(mux *http.ServeMux, st store.RouteStore, hub *Hub, opts Options) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gate-admin " + version.Build))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if p, ok := st.(interface{ Ping() error }); ok {
			if err := p.Ping(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/apis", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		routes, err := st.ListRoutes()
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, routes)
	})

	mux.HandleFunc("/v1/api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var rule model.RouteRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			fail(w, errcode.ParamParseFailed.Withf("invalid payload: %v", err))
			return
		}
		normalize(&rule)
		if err := checkRule(st, rule, opts); err != nil {
			fail(w, err)
			return
		}
		saved, err := st.CreateRoute(rule)
		if err != nil {
			fail(w, err)
			return
		}
		audit(st, r, "create_api", model.KeyOf(saved), saved.Name)
		hub.Broadcast(model.ChangeEvent{Type: model.EventCreated, Key: model.KeyOf(saved)})
		log.WithFields(log.Fields{"subsystem": "api", "key": model.KeyOf(saved).String()}).Info("api created")
		respond(w, saved)
	})

	mux.HandleFunc("/v1/api/update", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req model.UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(w, errcode.ParamParseFailed.Withf("invalid payload: %v", err))
			return
		}
		if req.ID == "" && (req.Method == "" || req.URL == "") {
			fail(w, errcode.ParamParseFailed.Withf("method and url of the rule to update are required"))
			return
		}
		rule := req.Info
		normalize(&rule)
		if err := checkRule(st, rule, opts); err != nil {
			fail(w, err)
			return
		}
		saved, err := st.UpdateRoute(req.Key(), rule)
		if err != nil {
			fail(w, err)
			return
		}
		audit(st, r, "update_api", req.Key(), fmt.Sprintf("now %s %s", saved.Method, saved.URL))
		hub.Broadcast(model.ChangeEvent{Type: model.EventUpdated, Key: model.KeyOf(saved)})
		log.WithFields(log.Fields{"subsystem": "api", "key": req.Key().String()}).Info("api updated")
		respond(w, nil)
	})

	mux.HandleFunc("/v1/api/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req model.DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(w, errcode.ParamParseFailed.Withf("invalid payload: %v", err))
			return
		}
		if err := st.DeleteRoute(req.Key()); err != nil {
			fail(w, err)
			return
		}
		audit(st, r, "delete_api", req.Key(), "")
		hub.Broadcast(model.ChangeEvent{Type: model.EventDeleted, Key: req.Key()})
		log.WithFields(log.Fields{"subsystem": "api", "key": req.Key().String()}).Info("api deleted")
		respond(w, nil)
	})

	mux.HandleFunc("/v1/clusters", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		clusters, err := st.ListClusters()
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, clusters)
	})

	mux.HandleFunc("/v1/cluster", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var c model.Cluster
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			fail(w, errcode.ParamParseFailed.Withf("invalid payload: %v", err))
			return
		}
		if err := st.AddCluster(c); err != nil {
			fail(w, err)
			return
		}
		_ = st.AppendAudit(model.AuditEntry{Actor: actorOf(r), Action: "add_cluster", Target: c.Name, Timestamp: time.Now()})
		respond(w, nil)
	})

	mux.HandleFunc("/v1/plugins", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		plugins, err := st.ListPlugins()
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, plugins)
	})

	mux.HandleFunc("/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				fail(w, errcode.ParamParseFailed.Withf("invalid limit %q", v))
				return
			}
			limit = n
		}
		entries, err := st.ListAudit(limit)
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, entries)
	})

	mux.HandleFunc("/v1/ws", hub.HandleWS)
}

// normalize fills the empty collections so stored rules always serialize
// handlers and nodeGroup as arrays.
func normalize(r *model.RouteRule) {
	if r.Handlers == nil {
		r.Handlers = []string{}
	}
	if r.NodeGroup == nil {
		r.NodeGroup = []model.Node{}
	}
	for i := range r.NodeGroup {
		if r.NodeGroup[i].ParamGroup == nil {
			r.NodeGroup[i].ParamGroup = []model.Param{}
		}
	}
}

// checkRule runs the checks that need more than the rule itself: node limit,
// cluster and plugin references.
func checkRule(st store.RouteStore, r model.RouteRule, opts Options) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if opts.MaxNodes > 0 && len(r.NodeGroup) > opts.MaxNodes {
		return errcode.TooManyNodes.Withf("at most %d nodes, got %d", opts.MaxNodes, len(r.NodeGroup))
	}
	if len(r.NodeGroup) > 0 {
		clusters, err := st.ListClusters()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(clusters))
		for _, c := range clusters {
			known[c.Name] = true
		}
		for i, n := range r.NodeGroup {
			if !known[n.Cluster] {
				return errcode.ClusterNotFound.Withf("nodeGroup[%d]: cluster %s not found", i, n.Cluster)
			}
		}
	}
	if len(r.Handlers) > 0 {
		plugins, err := st.ListPlugins()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(plugins))
		for _, p := range plugins {
			known[p.Name] = true
		}
		for _, h := range r.Handlers {
			if !known[h] {
				return errcode.PluginNotFound.Withf("plugin %s not found", h)
			}
		}
	}
	return nil
}

func actorOf(r *http.Request) string {
	if a := r.Header.Get("X-Gate-Actor"); a != "" {
		return a
	}
	return "admin"
}

func audit(st store.RouteStore, r *http.Request, action string, key model.Key, detail string) {
	err := st.AppendAudit(model.AuditEntry{
		Actor:     actorOf(r),
		Action:    action,
		Target:    key.String(),
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.WithFields(log.Fields{"subsystem": "api", "action": action}).WithError(err).Warn("audit append failed")
	}
}

type response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

func respond(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, response{Code: errcode.OK.Code, Data: data, Message: errcode.OK.Message})
}

// fail reports err in the envelope. Application errors keep HTTP 200.
func fail(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	msg := err.Error()
	if code == -1 {
		code = errcode.StoreFailed.Code
	}
	var ce *errcode.Error
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	writeJSON(w, http.StatusOK, response{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("subsystem", "api").WithError(err).Warn("failed to write response")
	}
}
