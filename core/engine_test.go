package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is an EntityStore that counts writes.
type mapStore struct {
	sync.Mutex
	entities map[string]map[string]string
	writes   int
	getErr   error
}

func newMapStore(ids ...string) *mapStore {
	s := &mapStore{
		entities: make(map[string]map[string]string),
	}
	for _, id := range ids {
		s.entities[id] = make(map[string]string)
	}
	return s
}

func (s *mapStore) Get(ctx context.Context, id string) (*Entity, error) {
	s.Lock()
	defer s.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	attrs, have := s.entities[id]
	if !have {
		return nil, ErrNotFound
	}
	acc := make(map[string]string, len(attrs))
	for k, v := range attrs {
		acc[k] = v
	}
	return &Entity{Tag: id, Attributes: acc}, nil
}

func (s *mapStore) SetAttribute(ctx context.Context, id, key, value string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	attrs, have := s.entities[id]
	if !have {
		return false, nil
	}
	attrs[key] = value
	s.writes++
	return true, nil
}

func (s *mapStore) DeleteAttribute(ctx context.Context, id, key string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	attrs, have := s.entities[id]
	if !have {
		return false, nil
	}
	delete(attrs, key)
	s.writes++
	return true, nil
}

func (s *mapStore) Writes() int {
	s.Lock()
	defer s.Unlock()
	return s.writes
}

// clock is a settable clock.
type clock struct {
	t int64
}

func (c *clock) Now() time.Time {
	return time.Unix(c.t, 0)
}

func (c *clock) Advance(secs int64) {
	c.t += secs
}

type fixture struct {
	def    *Definition
	store  *mapStore
	clock  *clock
	engine *Engine
	seen   []Observation
}

func newFixture(t *testing.T, def *Definition, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		def:   def,
		store: newMapStore("tag1"),
		clock: &clock{t: 1500000000},
	}
	opts = append([]EngineOption{
		WithClock(f.clock.Now),
		WithObserver(ObserverFunc(func(ctx context.Context, o Observation) {
			f.seen = append(f.seen, o)
		})),
	}, opts...)
	f.engine = NewEngine(def, NewAttributeAdapter(f.store, def), opts...)
	return f
}

func (f *fixture) transition(t *testing.T) Specification {
	t.Helper()
	res, err := f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	require.NoError(t, err)
	require.False(t, res.Pending())
	return res.Spec
}

func (f *fixture) stored(t *testing.T) Specification {
	t.Helper()
	js := f.store.entities["tag1"][f.def.AttributeKey()]
	spec, err := FromJSON(js)
	require.NoError(t, err)
	return spec
}

func TestEngineWorkedScenario(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	t0 := f.clock.t
	spec := f.transition(t)
	assert.Equal(t, "start", spec.Name)
	assert.Equal(t, t0, spec.Timestamp)
	assert.Equal(t, "Entity has entered the workflow", spec.Description)
	assert.Equal(t, 1, f.store.Writes())

	f.clock.Advance(5)
	t1 := f.clock.t
	spec = f.transition(t)
	assert.Equal(t, "middle", spec.Name)
	assert.Equal(t, t1, spec.Timestamp)
	assert.Equal(t, 2, f.store.Writes())
	assert.True(t, f.stored(t).Equal(spec))

	f.clock.Advance(3599)
	spec = f.transition(t)
	assert.Equal(t, "middle", spec.Name)
	assert.Equal(t, 2, f.store.Writes(), "no-op wrote")

	finished, err := f.engine.Finished(ctx, "tag1")
	require.NoError(t, err)
	assert.False(t, finished)

	f.clock.Advance(1)
	t2 := f.clock.t
	spec = f.transition(t)
	assert.Equal(t, "done", spec.Name)
	assert.Equal(t, t2, spec.Timestamp)
	assert.Equal(t, 3, f.store.Writes())

	finished, err = f.engine.Finished(ctx, "tag1")
	require.NoError(t, err)
	assert.True(t, finished)

	// Settled.
	f.clock.Advance(100)
	spec = f.transition(t)
	assert.Equal(t, "done", spec.Name)
	assert.Equal(t, t2, spec.Timestamp)
	assert.Equal(t, 3, f.store.Writes())

	kinds := make([]string, 0, len(f.seen))
	for _, o := range f.seen {
		kinds = append(kinds, o.Kind+":"+o.To.Name)
	}
	assert.Equal(t, []string{"advance:start", "advance:middle", "advance:done"}, kinds)
	assert.Equal(t, "example", f.seen[0].Workflow)
	assert.Equal(t, "tag1", f.seen[0].Entity)
}

func TestEngineIdempotentBeforeExpiry(t *testing.T) {
	def, err := NewBuilder("w", "a").
		Event("a", Options{OptDesc: "A", OptExpires: 10, OptTransition: "b"}).
		Event("b", Options{OptDesc: "B"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	first := f.transition(t)
	for i := 0; i < 5; i++ {
		f.clock.Advance(1)
		again := f.transition(t)
		assert.True(t, first.Equal(again))
	}
	assert.Equal(t, 1, f.store.Writes())

	// Exactly at the boundary.
	f.clock.t = first.Timestamp + 10
	assert.Equal(t, "b", f.transition(t).Name)
}

func TestEngineCascadeThroughZeroDelay(t *testing.T) {
	var entered []string
	note := func(name string) ActionFunc {
		return func(ctx context.Context, entity string) (interface{}, error) {
			entered = append(entered, name)
			return nil, nil
		}
	}
	def, err := NewBuilder("w", "a").
		Action("noteB", nil, note("b")).
		Action("noteC", nil, note("c")).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptTransition: "c", OptOnTransition: "noteB"}).
		Event("c", Options{OptDesc: "C", OptExpires: 60, OptTransition: "d", OptOnTransition: "noteC"}).
		Event("d", Options{OptDesc: "D"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	assert.Equal(t, "a", f.transition(t).Name)
	assert.Empty(t, entered, "initialization ran on_transition")

	assert.Equal(t, "c", f.transition(t).Name)
	assert.Equal(t, []string{"b", "c"}, entered)
	assert.Equal(t, 3, f.store.Writes())
}

func TestEngineCascadeLimit(t *testing.T) {
	b := NewBuilder("w", "e0")
	for i := 0; i < 10; i++ {
		b.Event(fmt.Sprintf("e%d", i), Options{
			OptDesc:       "step",
			OptTransition: fmt.Sprintf("e%d", i+1),
		})
	}
	b.Event("e10", Options{OptDesc: "end"})
	def, err := b.Build()
	require.NoError(t, err)

	f := newFixture(t, def, WithCascadeLimit(3))
	f.transition(t)
	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	var ce *CycleError
	require.True(t, errors.As(err, &ce), "got %v", err)

	f = newFixture(t, def)
	f.transition(t)
	assert.Equal(t, "e10", f.transition(t).Name)
}

func TestEngineGuardFailure(t *testing.T) {
	var allow bool
	def, err := NewBuilder("w", "a").
		Action("ready", nil, func(ctx context.Context, entity string) (bool, error) {
			return allow, nil
		}).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptBeforeTransition: "ready", OptExpires: 60}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	before := f.transition(t)
	require.Equal(t, "a", before.Name)

	f.clock.Advance(1)
	res, err := f.engine.Transition(ctx, "tag1", TransitionOptions{Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Spec.Name)
	assert.Equal(t, before.Timestamp, res.Spec.Timestamp)
	attempts := res.Spec.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, Attempt{Count: 1, Timestamp: f.clock.t, Name: "b"}, attempts[0])
	assert.Len(t, f.stored(t).Attempts(), 1)

	f.clock.Advance(1)
	res, err = f.engine.Transition(ctx, "tag1", TransitionOptions{})
	var tf *TransitionFailed
	require.True(t, errors.As(err, &tf), "got %v", err)
	assert.Equal(t, "a", tf.From)
	assert.Equal(t, "b", tf.To)
	assert.Equal(t, "ready", tf.Guard)
	require.NotNil(t, res)
	assert.Len(t, res.Spec.Attempts(), 2)
	assert.Equal(t, 2, f.stored(t).Attempts()[1].Count)

	allow = true
	f.clock.Advance(1)
	spec := f.transition(t)
	assert.Equal(t, "b", spec.Name)
	assert.Len(t, spec.Attempts(), 2, "attempts carried forward")
	assert.Equal(t, KindAttempt, f.seen[1].Kind)
}

func TestEngineGuardError(t *testing.T) {
	boom := errors.New("boom")
	def, err := NewBuilder("w", "a").
		Action("check", nil, func(ctx context.Context, entity string) (interface{}, error) {
			return true, boom
		}).
		Event("a", Options{OptDesc: "A", OptBeforeTransition: "check"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	res, err := f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Spec.Empty())
	require.Len(t, res.Spec.Attempts(), 1)
	assert.Equal(t, "a", res.Spec.Attempts()[0].Name)
}

func TestEngineFireInPlace(t *testing.T) {
	calls := 0
	def, err := NewBuilder("w", "a").
		Action("poll", nil, func(ctx context.Context, entity string) (interface{}, error) {
			calls++
			return fmt.Sprintf("poll %d", calls), nil
		}).
		Event("a", Options{OptDesc: "A", OptExpires: 30, OptOnTransition: "poll"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	start := f.transition(t)
	assert.Equal(t, 0, calls)

	f.clock.Advance(29)
	f.transition(t)
	assert.Equal(t, 0, calls)

	f.clock.Advance(1)
	spec := f.transition(t)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a", spec.Name)
	assert.Equal(t, start.Timestamp, spec.Timestamp)
	log := spec.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "poll 1", log[0].Result)
	assert.Equal(t, "a", log[0].Name)

	f.clock.Advance(1)
	spec = f.transition(t)
	assert.Equal(t, 2, calls)
	assert.Len(t, spec.Log(), 2)
	assert.Len(t, f.stored(t).Log(), 2)
}

func TestEngineOnTransitionError(t *testing.T) {
	boom := errors.New("boom")
	def, err := NewBuilder("w", "a").
		Action("explode", nil, func(ctx context.Context, entity string) (interface{}, error) {
			return nil, boom
		}).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptOnTransition: "explode", OptExpires: 10}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{Quiet: true})
	assert.ErrorIs(t, err, boom)
	// The advance was persisted before the action ran.
	assert.Equal(t, "b", f.stored(t).Name)
}

func TestEngineZeroDelayCycle(t *testing.T) {
	def, err := NewBuilder("w", "start").
		Event("start", Options{OptDesc: "Start", OptTransition: "A"}).
		Event("A", Options{OptDesc: "A", OptTransition: "start"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	assert.Equal(t, []string{"start", "A", "start"}, cycle.Path)
	// Nothing moved.
	assert.Equal(t, "start", f.stored(t).Name)
	assert.Equal(t, 1, f.store.Writes())

	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "w", ce.Workflow)
}

func TestEngineCycleAfterWait(t *testing.T) {
	def, err := NewBuilder("w", "start").
		Event("start", Options{OptDesc: "Start", OptExpires: 60, OptTransition: "a"}).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptTransition: "a"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)
	f.clock.Advance(60)

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	assert.Equal(t, []string{"start", "a", "b", "a"}, cycle.Path)
	assert.Equal(t, "start", f.stored(t).Name)
	assert.Equal(t, 1, f.store.Writes())
}

func TestEngineReturnToWaitingEvent(t *testing.T) {
	def, err := NewBuilder("w", "start").
		Event("start", Options{OptDesc: "Start", OptExpires: 60, OptTransition: "a"}).
		Event("a", Options{OptDesc: "A", OptTransition: "start"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)
	f.clock.Advance(60)

	spec := f.transition(t)
	assert.Equal(t, "start", spec.Name)
	assert.Equal(t, f.clock.t, spec.Timestamp)
	assert.Equal(t, 3, f.store.Writes())
}

func TestEngineSelfLoop(t *testing.T) {
	def, err := NewBuilder("w", "a").
		Event("a", Options{OptDesc: "A", OptTransition: "a"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	first := f.transition(t)
	f.clock.Advance(1)
	spec := f.transition(t)
	assert.Equal(t, "a", spec.Name)
	assert.Equal(t, first.Timestamp+1, spec.Timestamp)
	assert.Equal(t, 2, f.store.Writes())
}

func TestEngineUnknownEvent(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.store.entities["tag1"][def.AttributeKey()] = `{"name":"gone","description":"Gone","timestamp":1}`
	ctx := context.Background()

	_, err = f.engine.Transition(ctx, "tag1", TransitionOptions{})
	var ue *UnknownEvent
	require.True(t, errors.As(err, &ue), "got %v", err)
	assert.Equal(t, "gone", ue.Name)

	_, err = f.engine.Finished(ctx, "tag1")
	assert.True(t, errors.As(err, &ue))

	_, err = f.engine.IsInState(ctx, "tag1", "nope")
	assert.True(t, errors.As(err, &ue))

	_, err = f.engine.Invoke(ctx, "nope", "tag1", TransitionOptions{})
	assert.True(t, errors.As(err, &ue))
}

func TestEngineMalformedSpecification(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.store.entities["tag1"][def.AttributeKey()] = `{"name":`
	ctx := context.Background()

	spec, err := f.engine.Read(ctx, "tag1")
	require.NoError(t, err)
	assert.True(t, spec.Empty())

	// Treated as new.
	assert.Equal(t, "start", f.transition(t).Name)
}

func TestEngineMissingEntity(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	spec, err := f.engine.Read(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, spec.Empty())

	finished, err := f.engine.Finished(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, finished)

	// The store won't create entities.
	_, err = f.engine.Transition(ctx, "nobody", TransitionOptions{})
	assert.Error(t, err)
}

func TestEngineStoreError(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.store.getErr = errors.New("connection refused")

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 0, f.store.Writes())
}

func TestEngineBadInitial(t *testing.T) {
	def, err := NewBuilder("w", "missing").
		Event("a", Options{OptDesc: "A"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, f.store.Writes())
}

func TestEngineMissingAction(t *testing.T) {
	def, err := NewBuilder("w", "a").
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptBeforeTransition: "ghost"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)

	_, err = f.engine.Transition(context.Background(), "tag1", TransitionOptions{})
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Msg, "ghost")
}

func TestEngineInvoke(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	f.transition(t)
	f.transition(t)

	in, err := f.engine.IsInState(ctx, "tag1", "middle")
	require.NoError(t, err)
	assert.True(t, in)

	// Jump ahead without waiting for the hour.
	res, err := f.engine.Invoke(ctx, "done", "tag1", TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Spec.Name)

	in, err = f.engine.IsInState(ctx, "tag1", "middle")
	require.NoError(t, err)
	assert.False(t, in)

	in, err = f.engine.IsInState(ctx, "tag1", "done")
	require.NoError(t, err)
	assert.True(t, in)
}

func TestEngineReset(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	f.transition(t)
	f.transition(t)

	res, err := f.engine.Reset(ctx, "tag1")
	require.NoError(t, err)
	assert.False(t, res.Pending())

	spec, err := f.engine.Read(ctx, "tag1")
	require.NoError(t, err)
	assert.True(t, spec.Empty())
	assert.Equal(t, "start", f.transition(t).Name)

	_, err = f.engine.Reset(ctx, "nobody")
	assert.Error(t, err)
}

func TestEngineActionSeesEngine(t *testing.T) {
	var during Specification
	def, err := NewBuilder("w", "a").
		Action("peek", nil, func(ctx context.Context, entity string, e *Engine) (interface{}, error) {
			s, err := e.Read(ctx, entity)
			during = s
			return nil, err
		}).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptExpires: 10, OptOnTransition: "peek"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)
	f.transition(t)

	assert.Equal(t, "b", during.Name, "on_transition should see the new state")
}

// deferringAdapter never writes.  It returns a command instead.
type deferringAdapter struct {
	js string
}

func (a *deferringAdapter) Load(ctx context.Context, entity string) (string, bool, error) {
	return a.js, a.js != "", nil
}

func (a *deferringAdapter) Store(ctx context.Context, entity string, spec Specification) (string, error) {
	return "store " + entity + " " + spec.Name, nil
}

func (a *deferringAdapter) Remove(ctx context.Context, entity string) (string, error) {
	return "remove " + entity, nil
}

func TestEngineDeferred(t *testing.T) {
	ran := false
	def, err := NewBuilder("w", "a").
		Action("act", nil, func(ctx context.Context, entity string) (interface{}, error) {
			ran = true
			return nil, nil
		}).
		Event("a", Options{OptDesc: "A", OptTransition: "b"}).
		Event("b", Options{OptDesc: "B", OptTransition: "c", OptOnTransition: "act"}).
		Event("c", Options{OptDesc: "C"}).
		Build()
	require.NoError(t, err)

	adapter := &deferringAdapter{js: `{"name":"a","description":"A","timestamp":1}`}
	e := NewEngine(def, adapter)
	res, err := e.Transition(context.Background(), "tag1", TransitionOptions{})
	require.NoError(t, err)
	assert.True(t, res.Pending())
	assert.Equal(t, "store tag1 b", res.Command)
	assert.Equal(t, "b", res.Spec.Name)
	assert.False(t, ran, "deferred advance ran on_transition")

	res, err = e.Reset(context.Background(), "tag1")
	require.NoError(t, err)
	assert.Equal(t, "remove tag1", res.Command)
}

func TestEnginePlan(t *testing.T) {
	def, err := ExampleDefinition()
	require.NoError(t, err)
	f := newFixture(t, def)
	ctx := context.Background()

	steps, err := f.engine.Plan(ctx, "tag1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, PlanStep{Kind: PlanEvent, Name: "start", Detail: "initialize"}, steps[0])

	f.transition(t)
	steps, err = f.engine.Plan(ctx, "tag1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, PlanEvent, steps[0].Kind)
	assert.Equal(t, "middle", steps[0].Name)

	f.transition(t)
	f.clock.Advance(100)
	steps, err = f.engine.Plan(ctx, "tag1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "noop middle: expires in 3500s", steps[0].String())

	// Planning didn't write.
	assert.Equal(t, 2, f.store.Writes())
}

func TestEnginePlanCycle(t *testing.T) {
	def, err := NewBuilder("w", "start").
		Event("start", Options{OptDesc: "Start", OptTransition: "A"}).
		Event("A", Options{OptDesc: "A", OptTransition: "start"}).
		Build()
	require.NoError(t, err)
	f := newFixture(t, def)
	f.transition(t)

	steps, err := f.engine.Plan(context.Background(), "tag1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, PlanError, steps[1].Kind)
	assert.Equal(t, "zero-delay cycle", steps[1].Detail)
}

func TestAttributeAdapter(t *testing.T) {
	ctx := context.Background()
	def, err := ExampleDefinition()
	require.NoError(t, err)
	store := newMapStore("x")

	var a Adapter = NewAttributeAdapter(store, def)
	assert.Same(t, store, a.(*AttributeAdapter).Entities)

	pending, err := a.Store(ctx, "x", NewSpecification("start", "Start", 1, nil))
	require.NoError(t, err)
	assert.Equal(t, "", pending)

	js, found, err := a.Load(ctx, "x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, js, `"name":"start"`)

	_, err = a.Store(ctx, "nobody", NewSpecification("start", "Start", 1, nil))
	assert.ErrorContains(t, err, "refused")

	_, err = a.Remove(ctx, "x")
	require.NoError(t, err)
	_, found, err = a.Load(ctx, "x")
	require.NoError(t, err)
	assert.False(t, found)
}
