// Package console is one operator session against the admin server: the
// canonical route list, the reference data the wizard needs, and the
// authoring wizards themselves.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gate-console/pkg/client"
	"gate-console/pkg/editor"
	"gate-console/pkg/journal"
	"gate-console/pkg/model"
	"gate-console/pkg/reconcile"
	"gate-console/pkg/wizard"
)

type Console struct {
	client *client.Client
	rec    *reconcile.Reconciler

	journal         *journal.Journal
	maxNodes        int
	validatePlugins bool
	retry           time.Duration

	mu       sync.RWMutex
	clusters []model.Cluster
	plugins  []model.Plugin
}

type Option func(*Console)

// WithJournal records every submitted operation and its outcome.
func WithJournal(j *journal.Journal) Option {
	return func(c *Console) { c.journal = j }
}

func WithMaxNodes(n int) Option {
	return func(c *Console) { c.maxNodes = n }
}

func WithPluginValidation(enabled bool) Option {
	return func(c *Console) { c.validatePlugins = enabled }
}

// WithRetryInterval sets how long Follow waits before redialing the change feed.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Console) { c.retry = d }
}

func New(cl *client.Client, opts ...Option) *Console {
	c := &Console{
		client: cl,
		rec:    reconcile.New(cl),
		retry:  5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Routes is the canonical list views render from.
func (c *Console) Routes() *reconcile.Reconciler {
	return c.rec
}

// Refresh replaces the canonical list from the server.
func (c *Console) Refresh(ctx context.Context) error {
	return c.rec.FetchAll(ctx)
}

// LoadReferences fetches the cluster and plugin catalogs.
func (c *Console) LoadReferences(ctx context.Context) error {
	clusters, err := c.client.ListClusters(ctx)
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}
	plugins, err := c.client.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	c.mu.Lock()
	c.clusters = clusters
	c.plugins = plugins
	c.mu.Unlock()
	return nil
}

func (c *Console) Clusters() []model.Cluster {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Cluster(nil), c.clusters...)
}

func (c *Console) Plugins() []model.Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Plugin(nil), c.plugins...)
}

// NewWizard returns a closed wizard checking against the loaded references
// and the canonical list. Without LoadReferences any cluster name is accepted.
func (c *Console) NewWizard() *wizard.Wizard {
	c.mu.RLock()
	var names []string
	for _, cl := range c.clusters {
		names = append(names, cl.Name)
	}
	plugins := append([]model.Plugin(nil), c.plugins...)
	c.mu.RUnlock()

	return wizard.New(c.client,
		wizard.WithClusters(names),
		wizard.WithPlugins(plugins),
		wizard.WithPluginValidation(c.validatePlugins),
		wizard.WithMaxNodes(c.maxNodes),
		wizard.WithConflictCheck(c.rec.Exists),
	)
}

// Submit submits w and records the confirmed rule in the canonical list.
func (c *Console) Submit(ctx context.Context, w *wizard.Wizard) (wizard.Submission, error) {
	action := "create"
	if w.Mode() == wizard.Edit {
		action = "update"
	}
	draft := w.Draft()
	sub, err := w.Submit(ctx)
	if reachedServer(err) {
		target, rule := model.KeyOf(draft), draft
		if err == nil {
			target, rule = model.KeyOf(sub.Rule), sub.Rule
		}
		if sub.Original != nil {
			target = *sub.Original
		}
		c.record(ctx, action, target, rule, err)
	}
	if err != nil {
		return sub, err
	}
	c.rec.Apply(sub.Rule, sub.Original)
	return sub, nil
}

// Delete removes the rule on the server, then from the canonical list.
func (c *Console) Delete(ctx context.Context, key model.Key) error {
	err := c.client.DeleteRoute(ctx, key)
	c.record(ctx, "delete", key, model.RouteRule{}, err)
	if err != nil {
		return err
	}
	c.rec.Delete(key)
	return nil
}

// Author drives a wizard through all three steps with the values of rule.
// original selects the rule to edit; nil creates a new one.
func (c *Console) Author(ctx context.Context, rule model.RouteRule, original *model.Key) (wizard.Submission, error) {
	w := c.NewWizard()
	if original == nil {
		w.OpenCreate()
	} else {
		existing, ok := c.rec.Find(*original)
		if !ok {
			return wizard.Submission{}, fmt.Errorf("rule %s is not in the loaded list", original)
		}
		w.OpenEdit(existing)
	}
	steps := []func() error{
		func() error { return w.SetName(rule.Name) },
		func() error { return w.SetMethod(rule.Method) },
		func() error { return w.SetURL(rule.URL) },
		func() error { return w.SetDomain(rule.Domain) },
		w.Next,
		func() error { return w.SetHandlers(rule.Handlers) },
		w.Next,
		func() error { return w.SetNodes(rule.NodeGroup) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			at := w.Step()
			w.Cancel()
			return wizard.Submission{}, fmt.Errorf("step %d (%s): %w", at.Index()+1, at, err)
		}
	}
	sub, err := c.Submit(ctx, w)
	if err != nil {
		w.Cancel()
	}
	return sub, err
}

// Follow refreshes the canonical list whenever the change feed reports a
// change, redialing after failures, until ctx is done.
func (c *Console) Follow(ctx context.Context) error {
	logger := log.WithField("subsystem", "console")
	for {
		err := c.client.Watch(ctx, func(ev model.ChangeEvent) {
			logger.WithFields(log.Fields{"type": ev.Type, "key": ev.Key.String()}).Debug("change received")
			if err := c.rec.FetchAll(ctx); err != nil && !errors.Is(err, reconcile.ErrFetchInFlight) {
				logger.WithError(err).Warn("refresh after change failed")
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).Warnf("change feed lost, retrying in %s", c.retry)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retry):
		}
	}
}

// History returns the journaled operations, newest first.
func (c *Console) History(ctx context.Context, limit int) ([]journal.Op, error) {
	if c.journal == nil {
		return nil, nil
	}
	return c.journal.List(ctx, limit)
}

// HistoryOf returns the journaled operations against one rule, oldest first.
func (c *Console) HistoryOf(ctx context.Context, key model.Key) ([]journal.Op, error) {
	if c.journal == nil {
		return nil, nil
	}
	return c.journal.History(ctx, key)
}

// ClusterOptions lists the cluster choices for the node that would follow
// nodes; clusters nodes already use are disabled.
func (c *Console) ClusterOptions(nodes []model.Node) []editor.Option {
	return editor.ClusterOptions(c.Clusters(), nodes, len(nodes))
}

func (c *Console) record(ctx context.Context, action string, target model.Key, rule model.RouteRule, err error) {
	if c.journal == nil {
		return
	}
	op := journal.Op{Action: action, Target: target.String(), Outcome: "ok"}
	if action != "delete" {
		op.RuleHash = journal.HashRule(rule)
	}
	if err != nil {
		op.Outcome = err.Error()
	}
	if jerr := c.journal.Record(ctx, op); jerr != nil {
		log.WithField("subsystem", "console").WithError(jerr).Warn("journal write failed")
	}
}

// reachedServer reports whether a submit got as far as the network.
func reachedServer(err error) bool {
	if err == nil {
		return true
	}
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	return !errors.Is(err, wizard.ErrClosed) &&
		!errors.Is(err, wizard.ErrWrongStep) &&
		!errors.Is(err, wizard.ErrSubmitInFlight)
}
