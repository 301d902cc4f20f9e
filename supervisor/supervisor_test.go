package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/store/memory"
	"github.com/Comcast/tortoise/util/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memory.Store
	clock *testutil.Clock
	def   *core.Definition
	sup   *Supervisor
}

func newFixture(t *testing.T, def *core.Definition, schedule string) *fixture {
	f := &fixture{
		store: memory.NewStore(),
		clock: testutil.NewClock(1000),
		def:   def,
	}
	e := core.NewEngine(def, core.NewAttributeAdapter(f.store, def), f.clock.Option())
	sup, err := New(e, f.store, schedule)
	require.NoError(t, err)
	f.sup = sup
	return f
}

func (f *fixture) run(t *testing.T) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.sup.Run(ctx)
	}()
	require.True(t, f.sup.timers.Wait(time.Second))
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("supervisor didn't stop")
		}
	}
}

func (f *fixture) state(t *testing.T, entity string) string {
	spec, err := f.sup.Engine.Read(context.Background(), entity)
	require.NoError(t, err)
	return spec.Name
}

func example(t *testing.T) *core.Definition {
	def, err := core.ExampleDefinition()
	require.NoError(t, err)
	return def
}

func TestBadSchedule(t *testing.T) {
	e := core.NewEngine(example(t), core.NewAttributeAdapter(memory.NewStore(), example(t)))
	_, err := New(e, nil, "every tuesday")
	assert.ErrorContains(t, err, "every tuesday")
}

func TestSweepSkipsStrangers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, example(t), "")

	_, err := f.sup.Step(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, "b"))

	require.NoError(t, f.sup.Sweep(ctx))
	assert.Equal(t, "middle", f.state(t, "a"))
	assert.Equal(t, "", f.state(t, "b"))

	f.clock.Advance(3600)
	require.NoError(t, f.sup.Sweep(ctx))
	assert.Equal(t, "done", f.state(t, "a"))
}

func TestSweepEnrolls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, example(t), "")
	f.sup.Lister = nil
	f.sup.Entities = []string{"a", "b"}

	require.NoError(t, f.sup.Sweep(ctx))
	assert.Equal(t, "start", f.state(t, "a"))
	assert.Equal(t, "start", f.state(t, "b"))
}

func TestSweepErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AutoCreate = false
	def := example(t)
	e := core.NewEngine(def, core.NewAttributeAdapter(store, def))
	sup, err := New(e, nil, "")
	require.NoError(t, err)
	sup.Entities = []string{"ghost"}

	err = sup.Sweep(ctx)
	assert.ErrorContains(t, err, "ghost")
}

func TestArming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, example(t), "")
	stop := f.run(t)
	defer stop()

	// start expires immediately, so the timer armed after entering
	// start fires right away.
	_, err := f.sup.Step(ctx, "x")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.state(t, "x") == "middle"
	}, 2*time.Second, 10*time.Millisecond)

	var armed []Timer
	require.Eventually(t, func() bool {
		armed = f.sup.Armed()
		return len(armed) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "x", armed[0].ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), armed[0].At, 5*time.Second)

	f.clock.Advance(3600)
	_, err = f.sup.Step(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "done", f.state(t, "x"))
	assert.Empty(t, f.sup.Armed())

	_, err = f.sup.Reset(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "", f.state(t, "x"))
}

func TestRetryAfterFailedGuard(t *testing.T) {
	ctx := context.Background()
	def, err := core.NewBuilder("guarded", "start").
		Action("never", nil, func(ctx context.Context, entity string) (bool, error) {
			return false, nil
		}).
		Event("start", core.Options{core.OptDesc: "Start", core.OptTransition: "end"}).
		Event("end", core.Options{core.OptDesc: "End", core.OptBeforeTransition: "never", core.OptTerminus: true}).
		Build()
	require.NoError(t, err)

	f := newFixture(t, def, "")
	f.sup.Options.Quiet = true
	f.sup.Retry = time.Hour
	stop := f.run(t)
	defer stop()

	_, err = f.sup.Step(ctx, "x")
	require.NoError(t, err)

	// The immediate timer tries (and fails) the guard, and then
	// the retry is an hour out.
	require.Eventually(t, func() bool {
		armed := f.sup.Armed()
		return len(armed) == 1 && time.Until(armed[0].At) > 30*time.Minute
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "start", f.state(t, "x"))
}

func TestRetryAfterLoudFailedGuard(t *testing.T) {
	ctx := context.Background()
	def, err := core.NewBuilder("guarded", "start").
		Action("never", nil, func(ctx context.Context, entity string) (bool, error) {
			return false, nil
		}).
		Event("start", core.Options{core.OptDesc: "Start", core.OptTransition: "end"}).
		Event("end", core.Options{core.OptDesc: "End", core.OptBeforeTransition: "never", core.OptTerminus: true}).
		Build()
	require.NoError(t, err)

	f := newFixture(t, def, "")
	f.sup.Retry = time.Hour
	stop := f.run(t)
	defer stop()

	// The first Step enters start, and its timer fires at once.
	_, err = f.sup.Step(ctx, "x")
	require.NoError(t, err)

	// That fire fails the guard with an error, and the entity still
	// gets its retry.
	require.Eventually(t, func() bool {
		armed := f.sup.Armed()
		return len(armed) == 1 && time.Until(armed[0].At) > 30*time.Minute
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "start", f.state(t, "x"))

	// A direct Step reports the failure and keeps the timer.
	res, err := f.sup.Step(ctx, "x")
	var tf *core.TransitionFailed
	require.True(t, errors.As(err, &tf), "%v", err)
	assert.Equal(t, "end", tf.To)
	require.NotNil(t, res)
	assert.Equal(t, "start", res.Spec.Name)
	armed := f.sup.Armed()
	require.Len(t, armed, 1)
	assert.Equal(t, "x", armed[0].ID)
	assert.True(t, time.Until(armed[0].At) > 30*time.Minute)
}

func TestRealTime(t *testing.T) {
	ctx := context.Background()
	def, err := core.NewBuilder("quick", "start").
		Event("start", core.Options{core.OptDesc: "Start", core.OptTransition: "middle"}).
		Event("middle", core.Options{core.OptDesc: "Middle", core.OptExpires: 1, core.OptTransition: "done"}).
		Event("done", core.Options{core.OptDesc: "Done", core.OptTerminus: true}).
		Build()
	require.NoError(t, err)

	store := memory.NewStore()
	e := core.NewEngine(def, core.NewAttributeAdapter(store, def))
	sup, err := New(e, store, "")
	require.NoError(t, err)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sup.Run(rctx)
	require.True(t, sup.timers.Wait(time.Second))

	_, err = sup.Step(ctx, "x")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		in, err := e.IsInState(ctx, "x", "done")
		return err == nil && in
	}, 4*time.Second, 50*time.Millisecond)
}

func TestScheduledSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, example(t), "* * * * * * *")

	_, err := f.sup.Step(ctx, "x")
	require.NoError(t, err)
	_, err = f.sup.Step(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "middle", f.state(t, "x"))

	stop := f.run(t)
	defer stop()

	f.clock.Advance(3600)
	require.Eventually(t, func() bool {
		return f.state(t, "x") == "done"
	}, 3*time.Second, 50*time.Millisecond)
}
