/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package supervisor calls an Engine's Transition for entities when
// their events expire.
//
// The Engine doesn't schedule anything.  A Supervisor does: after
// each call it arms a timer for the time the entity's event expires.
// Timers live in memory, so a Supervisor also sweeps all entities on
// start and (optionally) on a cron schedule.
//
// A Supervisor serializes its own calls for each entity.  It doesn't
// coordinate with other processes.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Comcast/tortoise/core"

	"github.com/gorhill/cronexpr"
)

// DefaultMaxTimers is the default limit on armed timers.
var DefaultMaxTimers = 10000

// Lister can enumerate entities.  The stores implement Lister.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Supervisor drives one workflow's entities.
type Supervisor struct {
	Engine *core.Engine

	// Lister, if not nil, provides the entities to sweep.  A
	// sweep only considers listed entities that are already in
	// the workflow.
	Lister Lister

	// Entities are swept and enrolled in the workflow if they
	// aren't already.
	Entities []string

	// Options are used for every Transition.
	Options core.TransitionOptions

	// Retry is how long to wait before trying again when a call
	// leaves an entity in an expired event with a transition,
	// which happens when a guard fails.  Zero means leave it to
	// sweeps.
	Retry time.Duration

	Logger *slog.Logger

	schedule *cronexpr.Expression
	timers   *Timers

	sync.Mutex
	locks map[string]*sync.Mutex
}

// New makes a Supervisor.  The schedule, if not empty, is a cron
// expression for sweeps.  See https://github.com/gorhill/cronexpr.
func New(e *core.Engine, lister Lister, schedule string) (*Supervisor, error) {
	s := &Supervisor{
		Engine: e,
		Lister: lister,
		Logger: slog.Default(),
		Retry:  time.Minute,
		timers: NewTimers(DefaultMaxTimers),
		locks:  make(map[string]*sync.Mutex, 32),
	}
	if schedule != "" {
		x, err := cronexpr.Parse(schedule)
		if err != nil {
			return nil, fmt.Errorf("supervisor schedule %q: %w", schedule, err)
		}
		s.schedule = x
	}
	return s, nil
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Supervisor) lock(entity string) func() {
	s.Lock()
	l, have := s.locks[entity]
	if !have {
		l = &sync.Mutex{}
		s.locks[entity] = l
	}
	s.Unlock()
	l.Lock()
	return l.Unlock
}

// Run sweeps once and then runs timers (and scheduled sweeps) until
// the context is done.
func (s *Supervisor) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.timers.Run(ctx)
	}()
	if !s.timers.Wait(time.Second) {
		return errors.New("supervisor timers didn't start")
	}

	if err := s.Sweep(ctx); err != nil {
		s.logger().Warn("sweep", "workflow", s.workflow(), "error", err)
	}

	for {
		var (
			tick  <-chan time.Time
			timer *time.Timer
		)
		if s.schedule != nil {
			now := time.Now()
			if next := s.schedule.Next(now); !next.IsZero() {
				timer = time.NewTimer(next.Sub(now))
				tick = timer.C
			}
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return <-errs
		case err := <-errs:
			if timer != nil {
				timer.Stop()
			}
			return err
		case <-tick:
			if err := s.Sweep(ctx); err != nil {
				s.logger().Warn("sweep", "workflow", s.workflow(), "error", err)
			}
		}
	}
}

func (s *Supervisor) workflow() string {
	return s.Engine.Definition().Name()
}

// Step calls Transition for the entity with s.Options and arms a
// timer for the result.
func (s *Supervisor) Step(ctx context.Context, entity string) (*core.Result, error) {
	return s.Transition(ctx, entity, s.Options)
}

// Transition is Step with other options.
func (s *Supervisor) Transition(ctx context.Context, entity string, opts core.TransitionOptions) (*core.Result, error) {
	unlock := s.lock(entity)
	before := s.current(ctx, entity)
	res, err := s.Engine.Transition(ctx, entity, opts)
	unlock()
	return s.after(entity, before, res, err)
}

// Invoke calls Invoke for the entity and arms a timer for the
// result.
func (s *Supervisor) Invoke(ctx context.Context, event, entity string, opts core.TransitionOptions) (*core.Result, error) {
	unlock := s.lock(entity)
	before := s.current(ctx, entity)
	res, err := s.Engine.Invoke(ctx, event, entity, opts)
	unlock()
	return s.after(entity, before, res, err)
}

// Reset resets the entity and disarms its timer.
func (s *Supervisor) Reset(ctx context.Context, entity string) (*core.Result, error) {
	unlock := s.lock(entity)
	res, err := s.Engine.Reset(ctx, entity)
	unlock()
	s.timers.Rem(entity)
	return res, err
}

// current is the name of the entity's event or the empty string.
func (s *Supervisor) current(ctx context.Context, entity string) string {
	spec, err := s.Engine.Read(ctx, entity)
	if err != nil {
		return ""
	}
	return spec.Name
}

func (s *Supervisor) after(entity, before string, res *core.Result, err error) (*core.Result, error) {
	if err != nil {
		s.logger().Warn("transition", "workflow", s.workflow(), "entity", entity, "error", err)
		// A failed guard still wrote the attempt, so the entity
		// needs its retry.
		var tf *core.TransitionFailed
		if errors.As(err, &tf) && res != nil {
			s.arm(entity, before, res.Spec)
		}
		return res, err
	}
	s.arm(entity, before, res.Spec)
	return res, nil
}

// arm sets a timer for when the Specification's event expires.
//
// An entity that just entered an event that has already expired gets
// a timer that fires now.  An entity that stayed in an expired event
// gets a timer after Retry.  No timer is set for an event without a
// transition.
func (s *Supervisor) arm(entity, before string, spec core.Specification) {
	ev := s.Engine.Definition().Event(spec.Name)
	if spec.Empty() || ev.IsNone() || ev.Transition() == "" {
		s.timers.Rem(entity)
		return
	}
	delay := time.Duration(spec.Timestamp+ev.Expires()-s.Engine.Now()) * time.Second
	if delay <= 0 {
		switch {
		case spec.Name != before:
			delay = 0
		case 0 < s.Retry:
			delay = s.Retry
		default:
			s.timers.Rem(entity)
			return
		}
	}
	err := s.timers.Set(&Timer{
		ID: entity,
		At: time.Now().Add(delay),
		F: func(ctx context.Context, t *Timer) {
			s.Step(ctx, t.ID)
		},
	})
	if err != nil {
		s.logger().Debug("not armed", "workflow", s.workflow(), "entity", entity, "error", err)
		return
	}
	s.logger().Debug("armed", "workflow", s.workflow(), "entity", entity, "in", delay)
}

// Armed returns the pending timers.
func (s *Supervisor) Armed() []Timer {
	return s.timers.Pending()
}

// Sweep calls Step for every entity in the workflow.  Errors are
// logged, and all of them are returned together.
func (s *Supervisor) Sweep(ctx context.Context) error {
	var errs []error
	seen := make(map[string]bool, len(s.Entities))
	for _, entity := range s.Entities {
		seen[entity] = true
		if _, err := s.Step(ctx, entity); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entity, err))
		}
	}

	if s.Lister != nil {
		ids, err := s.Lister.List(ctx)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		for _, entity := range ids {
			if seen[entity] {
				continue
			}
			spec, err := s.Engine.Read(ctx, entity)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", entity, err))
				continue
			}
			if spec.Empty() {
				continue
			}
			if _, err := s.Step(ctx, entity); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", entity, err))
			}
		}
	}

	s.logger().Debug("swept", "workflow", s.workflow(), "errors", len(errs))
	return errors.Join(errs...)
}
