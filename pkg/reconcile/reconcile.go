// Package reconcile keeps the canonical, server-confirmed list of route rules
// that list views render from.
//
// The transition functions are pure: each takes a State and returns a new one
// without touching the input's Items. Reconciler owns one State and applies
// the transitions under a lock.
package reconcile

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"gate-console/pkg/model"
)

// State is the canonical list plus fetch status.
type State struct {
	Fetching bool              `json:"fetching"`
	Items    []model.RouteRule `json:"items"`
	Message  string            `json:"message"`
}

func (s State) clone() State {
	out := s
	out.Items = make([]model.RouteRule, len(s.Items))
	for i, r := range s.Items {
		out.Items[i] = r.Clone()
	}
	return out
}

// Created appends rule. Duplicate keys are not rejected here.
func Created(s State, rule model.RouteRule) State {
	out := s.clone()
	out.Items = append(out.Items, rule.Clone())
	return out
}

// Updated replaces every item matching key with rule and reports how many
// were replaced. Zero matches leave the list as it was.
func Updated(s State, key model.Key, rule model.RouteRule) (State, int) {
	out := s.clone()
	n := 0
	for i := range out.Items {
		if key.Matches(s.Items[i]) {
			out.Items[i] = rule.Clone()
			n++
		}
	}
	return out, n
}

// Deleted removes every item matching key and reports how many were removed.
func Deleted(s State, key model.Key) (State, int) {
	out := s
	out.Items = make([]model.RouteRule, 0, len(s.Items))
	for _, r := range s.Items {
		if key.Matches(r) {
			continue
		}
		out.Items = append(out.Items, r.Clone())
	}
	return out, len(s.Items) - len(out.Items)
}

// FetchStarted marks a fetch in flight. ok is false when one already is.
func FetchStarted(s State) (State, bool) {
	if s.Fetching {
		return s, false
	}
	out := s.clone()
	out.Fetching = true
	out.Message = ""
	return out, true
}

// FetchSucceeded replaces the items wholesale.
func FetchSucceeded(_ State, items []model.RouteRule) State {
	out := State{Items: make([]model.RouteRule, len(items))}
	for i, r := range items {
		out.Items[i] = r.Clone()
	}
	return out
}

// FetchFailed records msg and keeps the items.
func FetchFailed(s State, msg string) State {
	out := s.clone()
	out.Fetching = false
	out.Message = msg
	return out
}

// ErrFetchInFlight is returned by FetchAll when another fetch is running.
var ErrFetchInFlight = errors.New("fetch already in flight")

// Fetcher loads the full list from the server.
type Fetcher interface {
	ListRoutes(ctx context.Context) ([]model.RouteRule, error)
}

// Reconciler is the single owner of the canonical list.
type Reconciler struct {
	mu      sync.Mutex
	state   State
	fetcher Fetcher
	notify  []func(State)
}

func New(f Fetcher) *Reconciler {
	return &Reconciler{fetcher: f, state: State{Items: []model.RouteRule{}}}
}

// OnChange registers fn to receive a snapshot after every transition.
func (r *Reconciler) OnChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = append(r.notify, fn)
}

// Snapshot returns a deep copy of the current state.
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Find returns the first item matching key.
func (r *Reconciler) Find(key model.Key) (model.RouteRule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.state.Items {
		if key.Matches(item) {
			return item.Clone(), true
		}
	}
	return model.RouteRule{}, false
}

// Exists reports whether another item already uses method+url.
func (r *Reconciler) Exists(method, url string) bool {
	_, ok := r.Find(model.Key{Method: method, URL: url})
	return ok
}

func (r *Reconciler) Create(rule model.RouteRule) {
	r.apply(func(s State) State { return Created(s, rule) })
}

func (r *Reconciler) Update(key model.Key, rule model.RouteRule) int {
	var n int
	r.apply(func(s State) State {
		var out State
		out, n = Updated(s, key, rule)
		return out
	})
	return n
}

func (r *Reconciler) Delete(key model.Key) int {
	var n int
	r.apply(func(s State) State {
		var out State
		out, n = Deleted(s, key)
		return out
	})
	return n
}

// Apply records a confirmed create (Original nil) or update.
func (r *Reconciler) Apply(rule model.RouteRule, original *model.Key) {
	if original == nil {
		r.Create(rule)
		return
	}
	if n := r.Update(*original, rule); n == 0 {
		log.WithFields(log.Fields{"subsystem": "reconcile", "key": original.String()}).Debug("update matched nothing")
	}
}

// FetchAll replaces the list from the server. While one fetch is running a
// second call returns ErrFetchInFlight without doing anything. A failed fetch
// sets Message and keeps Items.
func (r *Reconciler) FetchAll(ctx context.Context) error {
	started := false
	r.apply(func(s State) State {
		var out State
		out, started = FetchStarted(s)
		return out
	})
	if !started {
		return ErrFetchInFlight
	}
	items, err := r.fetcher.ListRoutes(ctx)
	if err != nil {
		log.WithFields(log.Fields{"subsystem": "reconcile"}).WithError(err).Warn("fetch failed")
		r.apply(func(s State) State { return FetchFailed(s, err.Error()) })
		return err
	}
	r.apply(func(s State) State { return FetchSucceeded(s, items) })
	return nil
}

func (r *Reconciler) apply(fn func(State) State) {
	r.mu.Lock()
	r.state = fn(r.state)
	snap := r.state.clone()
	notify := append([]func(State){}, r.notify...)
	r.mu.Unlock()
	for _, n := range notify {
		n(snap)
	}
}
