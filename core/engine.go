package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

var (
	// DefaultCascadeLimit bounds how many events a single
	// Transition can pass through.
	DefaultCascadeLimit = 64
)

// Observation kinds.
const (
	KindAdvance = "advance"
	KindAttempt = "attempt"
	KindFire    = "fire"
	KindReset   = "reset"
)

// Observation reports one persisted change.
type Observation struct {
	Workflow string        `json:"workflow"`
	Entity   string        `json:"entity"`
	Kind     string        `json:"kind"`
	From     Specification `json:"from"`
	To       Specification `json:"to"`

	// Pending is the deferred command (if any).
	Pending string `json:"pending,omitempty"`

	// Elapsed is the time since the call that made this change
	// started.
	Elapsed time.Duration `json:"elapsed"`
}

// Observer hears about changes after they are persisted (or
// deferred).  Observers must not block.
type Observer interface {
	Observe(ctx context.Context, o Observation)
}

// ObserverFunc makes a function an Observer.
type ObserverFunc func(ctx context.Context, o Observation)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, o Observation) {
	f(ctx, o)
}

// TransitionOptions influences Transition and Invoke.
type TransitionOptions struct {
	// Quiet means a failed guard is reported via the returned
	// (unchanged) Specification instead of a TransitionFailed
	// error.
	Quiet bool
}

// Result is what Transition (and friends) produce.
type Result struct {
	// Spec is the resulting Specification.  When the result is
	// Pending, Spec is what the Specification will be once the
	// Command runs.
	Spec Specification `json:"spec"`

	// Command is the deferred write (if any).
	Command string `json:"command,omitempty"`
}

// Pending reports whether the write was deferred.  A pending result
// is not confirmed.
func (r *Result) Pending() bool {
	return r != nil && r.Command != ""
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the Engine's clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the Engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver adds an Observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithCascadeLimit sets the maximum number of events one Transition
// can pass through.
func WithCascadeLimit(n int) EngineOption {
	return func(e *Engine) {
		e.limit = n
	}
}

// Engine runs workflows.
//
// An Engine holds no state about entities.  Everything it knows
// about an entity comes from its Adapter on each call, so one Engine
// can be used concurrently for different entities.  Concurrent calls
// for the same entity are not coordinated: the last write wins.
type Engine struct {
	definer   Definer
	adapter   Adapter
	now       func() time.Time
	logger    *slog.Logger
	observers []Observer
	limit     int
}

// NewEngine makes an Engine for the given workflow Definer and
// Adapter.
func NewEngine(definer Definer, adapter Adapter, opts ...EngineOption) *Engine {
	e := &Engine{
		definer: definer,
		adapter: adapter,
		now:     time.Now,
		logger:  slog.Default(),
		limit:   DefaultCascadeLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the current Definition.
func (e *Engine) Definition() *Definition {
	return e.definer.Definition()
}

// Now is the Engine's idea of the current time in Unix seconds.
func (e *Engine) Now() int64 {
	return e.now().UTC().Unix()
}

// call holds the state for one operation on one entity, including
// the read cache.
type call struct {
	e       *Engine
	def     *Definition
	entity  string
	started time.Time
	logger  *slog.Logger

	cached *Specification
}

func (e *Engine) newCall(entity string) *call {
	def := e.definer.Definition()
	return &call{
		e:       e,
		def:     def,
		entity:  entity,
		started: time.Now(),
		logger:  e.logger.With("workflow", def.Name(), "entity", entity),
	}
}

func (c *call) read(ctx context.Context) (Specification, error) {
	if c.cached != nil {
		return *c.cached, nil
	}
	js, found, err := c.e.adapter.Load(ctx, c.entity)
	if err != nil {
		return Specification{}, err
	}
	var spec Specification
	switch {
	case !found:
		c.logger.Debug("no specification")
	case js == "":
		c.logger.Warn("empty specification")
	default:
		if spec, err = FromJSON(js); err != nil {
			c.logger.Warn("malformed specification", "error", err, "json", js)
			spec = Specification{}
		}
	}
	c.cached = &spec
	return spec, nil
}

func (c *call) write(ctx context.Context, kind string, from, to Specification) (*Result, error) {
	pending, err := c.e.adapter.Store(ctx, c.entity, to)
	c.cached = nil
	if err != nil {
		return nil, fmt.Errorf("storing %s for %s: %w", to, c.entity, err)
	}
	c.logger.Debug("wrote", "kind", kind, "from", from.String(), "to", to.String(), "pending", pending != "")
	c.observe(ctx, kind, from, to, pending)
	return &Result{
		Spec:    to,
		Command: pending,
	}, nil
}

func (c *call) observe(ctx context.Context, kind string, from, to Specification, pending string) {
	if len(c.e.observers) == 0 {
		return
	}
	o := Observation{
		Workflow: c.def.Name(),
		Entity:   c.entity,
		Kind:     kind,
		From:     from,
		To:       to,
		Pending:  pending,
		Elapsed:  time.Since(c.started),
	}
	for _, obs := range c.e.observers {
		obs.Observe(ctx, o)
	}
}

func (c *call) expired(spec Specification) bool {
	return c.e.Now() >= spec.Timestamp+c.def.Expiry(spec.Name)
}

func (c *call) action(name string) (Callback, error) {
	a := c.def.Action(name)
	if a.IsNone() {
		return None, c.def.configError("no action registered with name %q", name)
	}
	return a, nil
}

// Read returns the entity's current Specification.  A missing entity
// or attribute and malformed data all give the empty Specification.
func (e *Engine) Read(ctx context.Context, entity string) (Specification, error) {
	return e.newCall(entity).read(ctx)
}

// Expired reports whether the given Specification's event has run
// its course: now >= timestamp + expires.
func (e *Engine) Expired(spec Specification) bool {
	return e.Now() >= spec.Timestamp+e.Definition().Expiry(spec.Name)
}

// Finished reports whether the entity is in an expired terminus
// event.
func (e *Engine) Finished(ctx context.Context, entity string) (bool, error) {
	c := e.newCall(entity)
	spec, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	if spec.Empty() {
		return false, nil
	}
	ev := c.def.Event(spec.Name)
	if ev.IsNone() {
		return false, &UnknownEvent{Workflow: c.def.Name(), Name: spec.Name}
	}
	return c.expired(spec) && ev.Terminus(), nil
}

// IsInState reports whether the entity is currently in the named
// event.  The name must be a registered event.
func (e *Engine) IsInState(ctx context.Context, entity, event string) (bool, error) {
	c := e.newCall(entity)
	if c.def.Event(event).IsNone() {
		return false, &UnknownEvent{Workflow: c.def.Name(), Name: event}
	}
	spec, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	return spec.Name == event, nil
}

// Reset deletes the entity's Specification, so the next Transition
// starts the workflow over.
func (e *Engine) Reset(ctx context.Context, entity string) (*Result, error) {
	c := e.newCall(entity)
	pending, err := e.adapter.Remove(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("resetting %s: %w", entity, err)
	}
	c.logger.Info("reset", "pending", pending != "")
	c.observe(ctx, KindReset, Specification{}, Specification{}, pending)
	return &Result{Command: pending}, nil
}

// Invoke forces the entity into the named event now, regardless of
// expiry.  The event's guard (if any) still applies.
//
// External callers use Invoke to announce milestones ("boot request
// observed") instead of waiting for a timer.
func (e *Engine) Invoke(ctx context.Context, event, entity string, opts TransitionOptions) (*Result, error) {
	c := e.newCall(entity)
	target := c.def.Event(event)
	if target.IsNone() {
		return nil, &UnknownEvent{Workflow: c.def.Name(), Name: event}
	}
	spec, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	res, _, err := c.advance(ctx, spec, target, opts)
	return res, err
}

// Transition moves the entity along its workflow as far as the clock
// allows.
//
// A new entity enters the initial event.  An entity whose event
// hasn't expired stays put (without any writes).  An expired event
// with a Transition advances (subject to its target's guard), and
// the advance continues through any events that are expired as soon
// as they are entered.  An expired event without a Transition runs
// its OnTransition action in place.
func (e *Engine) Transition(ctx context.Context, entity string, opts TransitionOptions) (*Result, error) {
	c := e.newCall(entity)
	spec, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	if spec.Empty() {
		initial := c.def.Initial()
		target := c.def.Event(initial)
		if initial == "" || target.IsNone() {
			return nil, c.def.configError("initial event %q not registered", initial)
		}
		c.logger.Info("initializing", "event", initial)
		res, _, err := c.advance(ctx, spec, target, opts)
		return res, err
	}

	return c.cascade(ctx, spec, opts)
}

func (c *call) cascade(ctx context.Context, spec Specification, opts TransitionOptions) (*Result, error) {
	path := []string{spec.Name}
	for {
		ev := c.def.Event(spec.Name)
		if ev.IsNone() {
			return nil, &UnknownEvent{Workflow: c.def.Name(), Name: spec.Name}
		}

		if !c.expired(spec) {
			return &Result{Spec: spec}, nil
		}

		if len(path) == 1 {
			if err := c.cycle(spec.Name); err != nil {
				return nil, err
			}
		}

		next := ev.Transition()
		if next == "" {
			return c.fire(ctx, spec, ev)
		}

		target := c.def.Event(next)
		if target.IsNone() {
			return nil, c.def.configError("event %q transitions to unregistered event %q", ev.Name, next)
		}

		if c.e.limit < len(path) {
			return nil, &CycleError{Workflow: c.def.Name(), Path: path}
		}

		res, advanced, err := c.advance(ctx, spec, target, opts)
		if err != nil || !advanced || res.Pending() {
			return res, err
		}

		if name := target.OnTransition(); name != "" {
			a, err := c.action(name)
			if err != nil {
				return res, err
			}
			c.logger.Debug("on_transition", "event", target.Name, "action", name)
			if _, err = a.Call(ctx, c.entity, c.e); err != nil {
				return res, err
			}
		}

		if !c.expired(res.Spec) || res.Spec.Name == ev.Name {
			return res, nil
		}

		spec = res.Spec
		path = append(path, spec.Name)
	}
}

// cycle follows transitions from the expired event through events
// that expire at once.  Reaching one of them again is a CycleError,
// found before anything is written.
func (c *call) cycle(from string) error {
	var (
		path    = []string{from}
		visited = map[string]bool{from: true}
		name    = from
	)
	for {
		next := c.def.Event(name).Transition()
		if next == "" || next == name {
			return nil
		}
		target := c.def.Event(next)
		if target.IsNone() || 0 < target.Expires() {
			return nil
		}
		if visited[next] {
			return &CycleError{Workflow: c.def.Name(), Path: append(path, next)}
		}
		visited[next] = true
		path = append(path, next)
		name = next
	}
}

// advance is the guarded advance into the target event.  The second
// return value reports whether the entity actually moved.
func (c *call) advance(ctx context.Context, old Specification, target Event, opts TransitionOptions) (*Result, bool, error) {
	if guard := target.BeforeTransition(); guard != "" {
		a, err := c.action(guard)
		if err != nil {
			return nil, false, err
		}
		result, err := a.Call(ctx, c.entity, c.e)
		if Failed(result, err) {
			c.logger.Warn("guard failed", "from", old.Name, "to", target.Name, "guard", guard, "error", err)
			res, werr := c.write(ctx, KindAttempt, old, old.WithAttempt(target.Name, c.e.Now()))
			if werr != nil {
				return nil, false, werr
			}
			if opts.Quiet {
				return res, false, nil
			}
			return res, false, &TransitionFailed{
				Entity: c.entity,
				From:   old.Name,
				To:     target.Name,
				Guard:  guard,
				Err:    err,
			}
		}
	}

	spec := NewSpecification(target.Name, target.Description(), c.e.Now(), nil).Merge(old)
	c.logger.Info("advancing", "from", old.Name, "to", target.Name)
	res, err := c.write(ctx, KindAdvance, old, spec)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// fire runs an expired event's OnTransition action in place.
func (c *call) fire(ctx context.Context, spec Specification, ev Event) (*Result, error) {
	name := ev.OnTransition()
	if name == "" {
		return &Result{Spec: spec}, nil
	}
	a, err := c.action(name)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("firing in place", "event", ev.Name, "action", name)
	result, err := a.Call(ctx, c.entity, c.e)
	if err != nil {
		return nil, err
	}
	return c.write(ctx, KindFire, spec, spec.WithLog(ev.Name, c.e.Now(), result))
}
