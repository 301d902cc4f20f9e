package supervisor

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runTimers(t *testing.T, max int) (*Timers, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := NewTimers(max)
	go ts.Run(ctx)
	if !ts.Wait(time.Second) {
		cancel()
		t.Fatal("timers didn't start running")
	}
	return ts, cancel
}

func TestTimersBasic(t *testing.T) {
	ts, cancel := runTimers(t, 10)
	defer cancel()

	firings := make(chan string, 16)
	f := func(_ context.Context, t *Timer) {
		firings <- t.ID
	}

	ft := func(id string, d time.Duration) {
		if err := ts.Add(&Timer{ID: id, At: time.Now().Add(d), F: f}); err != nil {
			t.Fatal(err)
		}
	}

	ft("3", 200*time.Millisecond)
	ft("2", 100*time.Millisecond)
	ft("1", 20*time.Millisecond)
	if err := ts.Rem("2"); err != nil {
		t.Fatal(err)
	}
	ft("5", 300*time.Millisecond)
	ft("4", 240*time.Millisecond)
	if err := ts.Rem("5"); err != nil {
		t.Fatal(err)
	}
	ft("6", 400*time.Millisecond)

	want := []string{"1", "3", "4", "6"}
	for i, expect := range want {
		select {
		case got := <-firings:
			if got != expect {
				t.Fatalf("expected '%s' but got '%s' at %d", expect, got, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", expect)
		}
	}

	select {
	case got := <-firings:
		t.Fatalf("unexpected firing %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	if n := len(ts.Pending()); n != 0 {
		t.Fatalf("%d still pending", n)
	}
}

func TestTimersRemHead(t *testing.T) {
	ts, cancel := runTimers(t, 10)
	defer cancel()

	var fired int64
	f := func(context.Context, *Timer) { atomic.AddInt64(&fired, 1) }
	if err := ts.Add(&Timer{ID: "x", At: time.Now().Add(50 * time.Millisecond), F: f}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Rem("x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadInt64(&fired); n != 0 {
		t.Fatalf("fired %d times", n)
	}
	if err := ts.Rem("x"); err != ErrNotFound {
		t.Fatal(err)
	}
}

func TestTimersSet(t *testing.T) {
	ts, cancel := runTimers(t, 10)
	defer cancel()

	firings := make(chan time.Time, 4)
	f := func(_ context.Context, t *Timer) { firings <- t.At }

	first := time.Now().Add(30 * time.Millisecond)
	second := time.Now().Add(100 * time.Millisecond)
	if err := ts.Set(&Timer{ID: "x", At: first, F: f}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(&Timer{ID: "x", At: first, F: f}); err != ErrIDExists {
		t.Fatal(err)
	}
	if err := ts.Set(&Timer{ID: "x", At: second, F: f}); err != nil {
		t.Fatal(err)
	}
	if n := len(ts.Pending()); n != 1 {
		t.Fatalf("%d pending", n)
	}

	select {
	case at := <-firings:
		if !at.Equal(second) {
			t.Fatalf("fired the replaced timer")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	select {
	case <-firings:
		t.Fatal("fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimersLimits(t *testing.T) {
	ts := NewTimers(1)
	if err := ts.Add(&Timer{ID: "x"}); err != ErrNotRunning {
		t.Fatal(err)
	}

	ts, cancel := runTimers(t, 1)
	defer cancel()

	f := func(context.Context, *Timer) {}
	if err := ts.Add(&Timer{ID: "x", At: time.Now().Add(time.Hour), F: f}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(&Timer{ID: "y", At: time.Now().Add(time.Hour), F: f}); err != ErrTooMany {
		t.Fatal(err)
	}
	if err := ts.Run(context.Background()); err != ErrAlreadyRunning {
		t.Fatal(err)
	}
}

func TestTimersLag(t *testing.T) {
	const n = 100
	dMax := 50 * time.Millisecond

	ts, cancel := runTimers(t, n)
	defer cancel()

	var (
		wg       sync.WaitGroup
		totalLag int64
	)
	f := func(_ context.Context, t *Timer) {
		atomic.AddInt64(&totalLag, int64(t.Executed.Sub(t.At)))
		wg.Done()
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		d := time.Duration(rand.Int63n(int64(dMax)))
		if err := ts.Add(&Timer{ID: strconv.Itoa(i), At: time.Now().Add(d), F: f}); err != nil {
			t.Fatal(err)
		}
	}

	waited := make(chan bool)
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout with %d pending", len(ts.Pending()))
	case <-waited:
	}
	t.Logf("mean lag: %v", time.Duration(atomic.LoadInt64(&totalLag)/n))
}
