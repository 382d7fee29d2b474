// Package wizard implements the three-step route rule editor: base info, plugin
// selection, then node and param configuration.
//
// The wizard owns every field value of the draft. A rendering layer reads the
// values for the current step from the accessors and writes user input back
// through the setters, so nothing has to be injected into form inputs after a
// step change.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gate-console/pkg/editor"
	"gate-console/pkg/fieldpath"
	"gate-console/pkg/model"
)

// Step is a wizard state.
type Step int

const (
	Closed Step = iota
	BaseInfo
	PluginSelect
	NodeConfig
)

func (s Step) String() string {
	switch s {
	case BaseInfo:
		return "BaseInfo"
	case PluginSelect:
		return "PluginSelect"
	case NodeConfig:
		return "NodeConfig"
	}
	return "Closed"
}

// Index is the zero based position shown in a step indicator, -1 when closed.
func (s Step) Index() int {
	return int(s) - 1
}

// Mode tells whether the session creates a new rule or edits an existing one.
type Mode int

const (
	Create Mode = iota
	Edit
)

var (
	ErrClosed         = errors.New("wizard is closed")
	ErrWrongStep      = errors.New("operation not available at this step")
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	ErrFixedSlot      = errors.New("the first node cannot be removed")
)

// ValidationError lists the fields that blocked a transition, keyed by field
// name or node-group path.
type ValidationError struct {
	Step   Step
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, fieldpath.Errors(e.Fields).Error())
}

// Persister performs the network round trip for a finished draft.
type Persister interface {
	CreateRoute(ctx context.Context, rule model.RouteRule) (model.RouteRule, error)
	UpdateRoute(ctx context.Context, key model.Key, rule model.RouteRule) error
}

// Submission is the outcome of a successful submit. Original is the pre-edit
// key for edits and nil for creates.
type Submission struct {
	Rule     model.RouteRule
	Original *model.Key
}

// Base holds the fields of the first step.
type Base struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

type options struct {
	validatePlugins bool
	plugins         []model.Plugin
	clusters        []string
	maxNodes        int
	newID           func() string
	conflict        func(method, url string) bool
}

type Option func(*options)

// WithPluginValidation makes PluginSelect -> NodeConfig check the selected
// handlers against the plugin catalog.
func WithPluginValidation(enabled bool) Option {
	return func(o *options) { o.validatePlugins = enabled }
}

// WithPlugins sets the plugin catalog used by plugin validation.
func WithPlugins(plugins []model.Plugin) Option {
	return func(o *options) { o.plugins = plugins }
}

// WithClusters restricts node clusters to the given names.
func WithClusters(names []string) Option {
	return func(o *options) { o.clusters = names }
}

// WithMaxNodes caps the node group size checked on submit. Zero disables the cap.
func WithMaxNodes(n int) Option {
	return func(o *options) { o.maxNodes = n }
}

// WithIDGenerator overrides how ids of created rules are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithConflictCheck reports whether method+url is already taken by another rule.
func WithConflictCheck(fn func(method, url string) bool) Option {
	return func(o *options) { o.conflict = fn }
}

// Wizard is one editing session. It is safe to call from several goroutines,
// but only one Submit can be outstanding at a time.
type Wizard struct {
	mu        sync.Mutex
	persister Persister
	opts      options

	step Step
	mode Mode
	seed *model.RouteRule

	base          Base
	handlers      []string
	handlersReady bool
	nodes         []model.Node
	nodesReady    bool

	submitting bool
	lastErr    string
	session    int // bumped on every reset
}

func New(p Persister, opts ...Option) *Wizard {
	o := options{newID: uuid.NewString}
	for _, fn := range opts {
		fn(&o)
	}
	return &Wizard{persister: p, opts: o}
}

// OpenCreate starts a session with an empty draft.
func (w *Wizard) OpenCreate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	w.mode = Create
	w.step = BaseInfo
}

// OpenEdit starts a session seeded from rule. Only the base fields are loaded
// now; handlers and nodes are taken from the seed when their step is reached.
func (w *Wizard) OpenEdit(rule model.RouteRule) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	seed := rule.Clone()
	w.seed = &seed
	w.mode = Edit
	w.step = BaseInfo
	w.base = Base{Name: rule.Name, Method: rule.Method, URL: rule.URL, Domain: rule.Domain}
}

// Cancel discards the session from any step.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func (w *Wizard) reset() {
	w.session++
	w.step = Closed
	w.mode = Create
	w.seed = nil
	w.base = Base{}
	w.handlers = nil
	w.handlersReady = false
	w.nodes = nil
	w.nodesReady = false
	w.submitting = false
	w.lastErr = ""
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

func (w *Wizard) Base() Base {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

func (w *Wizard) Handlers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.handlers...)
}

func (w *Wizard) Nodes() []model.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.CloneNodes(w.nodes)
}

// Submitting reports whether a submit round trip is outstanding.
func (w *Wizard) Submitting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitting
}

// LastError is the message of the last failed submit, empty after a success.
func (w *Wizard) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Draft assembles the rule from the accumulated step values.
func (w *Wizard) Draft() model.RouteRule {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft()
}

func (w *Wizard) draft() model.RouteRule {
	r := model.RouteRule{
		Name:      strings.TrimSpace(w.base.Name),
		Method:    w.base.Method,
		URL:       strings.TrimSpace(w.base.URL),
		Domain:    strings.TrimSpace(w.base.Domain),
		Handlers:  append([]string{}, w.handlers...),
		NodeGroup: model.CloneNodes(w.nodes),
	}
	if r.NodeGroup == nil {
		r.NodeGroup = []model.Node{}
	}
	if w.seed != nil {
		r.ID = w.seed.ID
	}
	return r
}

func (w *Wizard) SetName(v string) error   { return w.setBase(func(b *Base) { b.Name = v }) }
func (w *Wizard) SetMethod(v string) error { return w.setBase(func(b *Base) { b.Method = v }) }
func (w *Wizard) SetURL(v string) error    { return w.setBase(func(b *Base) { b.URL = v }) }
func (w *Wizard) SetDomain(v string) error { return w.setBase(func(b *Base) { b.Domain = v }) }

func (w *Wizard) setBase(fn func(*Base)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.at(BaseInfo); err != nil {
		return err
	}
	fn(&w.base)
	return nil
}

// SetHandlers replaces the plugin selection. Duplicates are dropped.
func (w *Wizard) SetHandlers(names []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.at(PluginSelect); err != nil {
		return err
	}
	w.handlers = dedupe(names)
	w.handlersReady = true
	return nil
}

func (w *Wizard) AddNode() error {
	return w.editNodes(func(n []model.Node) ([]model.Node, error) { return editor.AddNode(n), nil })
}

// RemoveNode drops the node at index. The first node only offers add.
func (w *Wizard) RemoveNode(index int) error {
	if index == 0 {
		return ErrFixedSlot
	}
	return w.editNodes(func(n []model.Node) ([]model.Node, error) { return editor.RemoveNode(n, index) })
}

func (w *Wizard) SetNodeField(index int, key editor.NodeField, value interface{}) error {
	return w.editNodes(func(n []model.Node) ([]model.Node, error) {
		return editor.SetNodeField(n, index, key, value)
	})
}

func (w *Wizard) AddParam(nodeIndex int) error {
	return w.editNodes(func(n []model.Node) ([]model.Node, error) { return editor.AddParam(n, nodeIndex) })
}

func (w *Wizard) RemoveParam(nodeIndex, paramIndex int) error {
	return w.editNodes(func(n []model.Node) ([]model.Node, error) {
		return editor.RemoveParam(n, nodeIndex, paramIndex)
	})
}

func (w *Wizard) SetParamField(nodeIndex, paramIndex int, key editor.ParamField, value interface{}) error {
	return w.editNodes(func(n []model.Node) ([]model.Node, error) {
		return editor.SetParamField(n, nodeIndex, paramIndex, key, value)
	})
}

// SetNodes replaces the whole node group, e.g. with an undo snapshot.
func (w *Wizard) SetNodes(nodes []model.Node) error {
	return w.editNodes(func([]model.Node) ([]model.Node, error) { return model.CloneNodes(nodes), nil })
}

func (w *Wizard) editNodes(op func([]model.Node) ([]model.Node, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.at(NodeConfig); err != nil {
		return err
	}
	next, err := op(w.nodes)
	if err != nil {
		return err
	}
	w.nodes = next
	return nil
}

func (w *Wizard) at(step Step) error {
	if w.step == Closed {
		return ErrClosed
	}
	if w.step != step {
		return fmt.Errorf("%w: at %s, need %s", ErrWrongStep, w.step, step)
	}
	return nil
}

// Next advances BaseInfo -> PluginSelect -> NodeConfig. A validation failure
// returns *ValidationError and leaves the wizard where it was.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.step {
	case Closed:
		return ErrClosed
	case BaseInfo:
		if errs := w.validateBase(); len(errs) > 0 {
			return &ValidationError{Step: BaseInfo, Fields: errs}
		}
		if !w.handlersReady {
			if w.seed != nil {
				w.handlers = dedupe(w.seed.Handlers)
			}
			w.handlersReady = true
		}
		w.step = PluginSelect
	case PluginSelect:
		if w.opts.validatePlugins {
			if errs := w.validatePlugins(); len(errs) > 0 {
				return &ValidationError{Step: PluginSelect, Fields: errs}
			}
		}
		if !w.nodesReady {
			switch {
			case w.seed != nil && w.seed.NodeGroup != nil:
				w.nodes = model.CloneNodes(w.seed.NodeGroup)
			default:
				w.nodes = []model.Node{editor.NewNode()}
			}
			w.nodesReady = true
		}
		w.step = NodeConfig
	case NodeConfig:
		return fmt.Errorf("%w: NodeConfig finishes with Submit", ErrWrongStep)
	}
	log.WithFields(log.Fields{"subsystem": "wizard", "step": w.step.String()}).Debug("advanced")
	return nil
}

// Back returns to the previous step without validation; values are kept.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.step {
	case Closed:
		return ErrClosed
	case PluginSelect:
		w.step = BaseInfo
	case NodeConfig:
		w.step = PluginSelect
	default:
		return fmt.Errorf("%w: no step before %s", ErrWrongStep, w.step)
	}
	return nil
}

// Validate checks the current step without moving.
func (w *Wizard) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs map[string]string
	switch w.step {
	case Closed:
		return ErrClosed
	case BaseInfo:
		errs = w.validateBase()
	case PluginSelect:
		if w.opts.validatePlugins {
			errs = w.validatePlugins()
		}
	case NodeConfig:
		errs = w.validateNodes()
	}
	if len(errs) > 0 {
		return &ValidationError{Step: w.step, Fields: errs}
	}
	return nil
}

func (w *Wizard) validateBase() map[string]string {
	errs := map[string]string{}
	b := w.base
	if strings.TrimSpace(b.Name) == "" {
		errs["name"] = "name is required"
	}
	switch {
	case b.Method == "":
		errs["method"] = "method is required"
	case !model.ValidMethod(b.Method):
		errs["method"] = fmt.Sprintf("method %s is not allowed", b.Method)
	}
	url := strings.TrimSpace(b.URL)
	if url == "" {
		errs["url"] = "url is required"
	}
	if len(errs) > 0 {
		return errs
	}
	keyChanged := w.seed == nil || w.seed.Method != b.Method || w.seed.URL != url
	if w.seed != nil && w.seed.ID == "" && keyChanged {
		errs["url"] = "method and url identify this rule and cannot be changed"
		return errs
	}
	if keyChanged && w.opts.conflict != nil && w.opts.conflict(b.Method, url) {
		errs["url"] = fmt.Sprintf("%s %s already exists", b.Method, url)
	}
	return errs
}

func (w *Wizard) validatePlugins() map[string]string {
	catalog := make(map[string]model.Plugin, len(w.opts.plugins))
	for _, p := range w.opts.plugins {
		catalog[p.Name] = p
	}
	var bad []string
	for _, h := range w.handlers {
		p, ok := catalog[h]
		if !ok || p.Private {
			bad = append(bad, h)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return map[string]string{"handlers": "unknown or private plugins: " + strings.Join(bad, ", ")}
}

func (w *Wizard) validateNodes() map[string]string {
	errs := map[string]string{}
	for k, v := range fieldpath.Validate(w.nodes, fieldpath.Generate(w.nodes), fieldpath.Options{KnownClusters: w.opts.clusters}) {
		errs[k] = v
	}
	if w.opts.maxNodes > 0 && len(w.nodes) > w.opts.maxNodes {
		errs["nodeGroup"] = fmt.Sprintf("at most %d nodes", w.opts.maxNodes)
	}
	return errs
}

// Submit validates the node step and hands the assembled rule to the
// persister. Only one submit runs at a time; a failure keeps the draft so the
// user can correct it and retry, a success closes the wizard.
func (w *Wizard) Submit(ctx context.Context) (Submission, error) {
	w.mu.Lock()
	if err := w.at(NodeConfig); err != nil {
		w.mu.Unlock()
		return Submission{}, err
	}
	if w.submitting {
		w.mu.Unlock()
		return Submission{}, ErrSubmitInFlight
	}
	if errs := w.validateNodes(); len(errs) > 0 {
		w.mu.Unlock()
		return Submission{}, &ValidationError{Step: NodeConfig, Fields: errs}
	}
	rule := w.draft()
	var original *model.Key
	if w.mode == Edit && w.seed != nil {
		k := model.KeyOf(*w.seed)
		original = &k
	}
	w.submitting = true
	w.lastErr = ""
	session := w.session
	w.mu.Unlock()

	var err error
	if original == nil {
		if rule.ID == "" {
			rule.ID = w.opts.newID()
		}
		var saved model.RouteRule
		saved, err = w.persister.CreateRoute(ctx, rule)
		if err == nil && saved.ID != "" {
			rule = saved
		}
	} else {
		err = w.persister.UpdateRoute(ctx, *original, rule)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	fields := log.Fields{"subsystem": "wizard", "method": rule.Method, "url": rule.URL}
	current := w.session == session
	if err != nil {
		if current {
			w.submitting = false
			w.lastErr = err.Error()
		}
		log.WithFields(fields).WithError(err).Warn("submit failed")
		return Submission{}, err
	}
	log.WithFields(fields).Info("submitted")
	if current {
		w.reset()
	}
	return Submission{Rule: rule, Original: original}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
