package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTooMany        = errors.New("too many")
	ErrIDExists       = errors.New("id exists")
	ErrNotRunning     = errors.New("not running")
	ErrAlreadyRunning = errors.New("already running")
)

const (
	notRunning = int64(iota)
	running
)

// Timer represents some work to be done in the future.
type Timer struct {
	// ID is unique across all timers managed by a given Timers
	// instance.
	ID string `json:"id"`

	// F is the work to be performed in the future.
	F func(context.Context, *Timer) `json:"-"`

	// At is the desired time to execute F.
	At time.Time `json:"at"`

	// Executed, which is the time that F was actually executed,
	// will be written when F is executed.
	Executed time.Time `json:"executed,omitempty"`
}

// Timers is a managed set of Timer instances.  Only one time.Timer
// exists at any time: the one for the soonest pending Timer.  When
// the head of the backlog changes, Run replaces that time.Timer.
//
// A Timers is designed to manage thousands of timers that don't all
// fire at once.  Each F runs in its own goroutine, so it's okay for
// that work to block.
//
// You need to Run the Timers before calling Add.
type Timers struct {
	Max    int `json:"max"`
	Logger *slog.Logger

	sync.Mutex
	backlog []*Timer
	kick    chan struct{}
	running int64
	started chan struct{}
	once    sync.Once
}

// NewTimers makes a new instance with the given maximum number of
// pending timers.
func NewTimers(max int) *Timers {
	initial := max / 4
	if initial < 8 {
		initial = 8
	}
	return &Timers{
		Max:     max,
		Logger:  slog.Default(),
		backlog: make([]*Timer, 0, initial),
		kick:    make(chan struct{}, 1),
		started: make(chan struct{}),
	}
}

// Run processes timers in the current goroutine until the context is
// done.
func (ts *Timers) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&ts.running, notRunning, running) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt64(&ts.running, notRunning)

	ts.once.Do(func() { close(ts.started) })

	// timer holds the current time.Timer, which is replaced when
	// a new Timer becomes the next in line.
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	ts.reset()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ts.kick:
			if timer != nil {
				timer.Stop()
				timer = nil
			}
			ts.Lock()
			var next *Timer
			if 0 < len(ts.backlog) {
				next = ts.backlog[0]
			}
			ts.Unlock()
			if next == nil {
				continue
			}
			ts.debug("arming", "id", next.ID, "in", time.Until(next.At))
			timer = time.AfterFunc(time.Until(next.At), func() {
				// A Timer that was removed or replaced
				// after this time.Timer started doesn't
				// fire.
				if !ts.fired(next) {
					return
				}
				ts.debug("firing", "id", next.ID, "late", next.Executed.Sub(next.At))
				next.F(ctx, next)
			})
		}
	}
}

// IsRunning tries to report whether the Run method is currently
// executing.
func (ts *Timers) IsRunning() bool {
	return atomic.LoadInt64(&ts.running) == running
}

// Wait waits for Run to start.
func (ts *Timers) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ts.started:
		return true
	}
}

// Add adds the given timer.
func (ts *Timers) Add(t *Timer) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}
	ts.Lock()
	defer ts.Unlock()
	if ts.index(t.ID) >= 0 {
		return ErrIDExists
	}
	return ts.insert(t)
}

// Set adds the given timer, replacing any timer with the same ID.
func (ts *Timers) Set(t *Timer) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}
	ts.Lock()
	defer ts.Unlock()
	if i := ts.index(t.ID); i >= 0 {
		ts.removeAt(i)
	}
	return ts.insert(t)
}

// Rem removes the timer with the given ID.
func (ts *Timers) Rem(id string) error {
	ts.Lock()
	defer ts.Unlock()
	i := ts.index(id)
	if i < 0 {
		return ErrNotFound
	}
	ts.removeAt(i)
	return nil
}

// Pending returns copies of the pending timers in the order they
// will fire.
func (ts *Timers) Pending() []Timer {
	ts.Lock()
	defer ts.Unlock()
	acc := make([]Timer, len(ts.backlog))
	for i, t := range ts.backlog {
		acc[i] = *t
	}
	return acc
}

// fired removes the given Timer (if it's still pending) and records
// when it fired.
func (ts *Timers) fired(t *Timer) bool {
	ts.Lock()
	defer ts.Unlock()
	for i, x := range ts.backlog {
		if x == t {
			ts.removeAt(i)
			t.Executed = time.Now()
			return true
		}
	}
	return false
}

// index finds the timer with the given ID.  Caller holds the lock.
func (ts *Timers) index(id string) int {
	for i, x := range ts.backlog {
		if x.ID == id {
			return i
		}
	}
	return -1
}

// insert keeps the backlog in ascending order.  Caller holds the
// lock.
func (ts *Timers) insert(t *Timer) error {
	if 0 < ts.Max && len(ts.backlog) >= ts.Max {
		return ErrTooMany
	}
	i := sort.Search(len(ts.backlog), func(i int) bool {
		return ts.backlog[i].At.After(t.At)
	})
	ts.backlog = append(ts.backlog, nil)
	copy(ts.backlog[i+1:], ts.backlog[i:])
	ts.backlog[i] = t
	if i == 0 {
		ts.reset()
	}
	return nil
}

// removeAt removes the timer at the given position.  Caller holds the
// lock.
func (ts *Timers) removeAt(i int) {
	n := len(ts.backlog)
	copy(ts.backlog[i:], ts.backlog[i+1:])
	// Try to avoid leaks.
	ts.backlog[n-1] = nil
	ts.backlog = ts.backlog[:n-1]
	if i == 0 {
		ts.reset()
	}
}

// reset asks Run to replace its time.Timer.
func (ts *Timers) reset() {
	select {
	case ts.kick <- struct{}{}:
	default:
	}
}

func (ts *Timers) debug(msg string, args ...interface{}) {
	if ts.Logger != nil {
		ts.Logger.Debug("timers "+msg, args...)
	}
}
