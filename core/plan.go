package core

import (
	"context"
	"fmt"
)

// PlanStep kinds.
const (
	PlanEvent  = "event"
	PlanAction = "action"
	PlanError  = "error"
	PlanNoop   = "noop"
)

// PlanStep describes one thing Transition would do.
type PlanStep struct {
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s PlanStep) String() string {
	if s.Name == "" {
		return s.Kind + ": " + s.Detail
	}
	return s.Kind + " " + s.Name + ": " + s.Detail
}

// Plan describes what Transition would do right now without doing
// any of it.  Guards are assumed to succeed, and no actions are run.
//
// Configuration problems are reported as PlanError steps rather than
// as errors.  The returned error is only for trouble reading the
// entity.
func (e *Engine) Plan(ctx context.Context, entity string) ([]PlanStep, error) {
	c := e.newCall(entity)
	spec, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	var (
		now   = e.Now()
		steps = make([]PlanStep, 0, 4)
		add   = func(kind, name, format string, args ...interface{}) {
			steps = append(steps, PlanStep{
				Kind:   kind,
				Name:   name,
				Detail: fmt.Sprintf(format, args...),
			})
		}
	)

	if spec.Empty() {
		initial := c.def.Initial()
		target := c.def.Event(initial)
		if initial == "" || target.IsNone() {
			add(PlanError, initial, "initial event not registered")
			return steps, nil
		}
		add(PlanEvent, initial, "initialize%s", guardNote(target))
		return steps, nil
	}

	visited := map[string]bool{spec.Name: true}
	for i := 0; ; i++ {
		ev := c.def.Event(spec.Name)
		if ev.IsNone() {
			add(PlanError, spec.Name, "no event defined with name %s", spec.Name)
			return steps, nil
		}

		if remaining := spec.Timestamp + ev.Expires() - now; 0 < remaining {
			add(PlanNoop, spec.Name, "expires in %ds", remaining)
			return steps, nil
		}

		next := ev.Transition()
		if next == "" {
			if name := ev.OnTransition(); name != "" {
				if c.def.Action(name).IsNone() {
					add(PlanError, name, "no action registered with name %q", name)
				} else {
					add(PlanAction, name, "fire in place at %s", ev.Name)
				}
			} else {
				add(PlanNoop, spec.Name, "settled")
			}
			return steps, nil
		}

		target := c.def.Event(next)
		if target.IsNone() {
			add(PlanError, next, "event %q transitions to unregistered event", ev.Name)
			return steps, nil
		}
		if guard := target.BeforeTransition(); guard != "" && c.def.Action(guard).IsNone() {
			add(PlanError, guard, "no action registered with name %q", guard)
			return steps, nil
		}
		if next != ev.Name && visited[next] && target.Expires() == 0 {
			add(PlanError, next, "zero-delay cycle")
			return steps, nil
		}
		if e.limit < i {
			add(PlanError, next, "cascade limit %d exceeded", e.limit)
			return steps, nil
		}

		add(PlanEvent, next, "advance from %s%s", ev.Name, guardNote(target))

		if name := target.OnTransition(); name != "" {
			if c.def.Action(name).IsNone() {
				add(PlanError, name, "no action registered with name %q", name)
				return steps, nil
			}
			add(PlanAction, name, "after entering %s", next)
		}

		if 0 < target.Expires() || next == ev.Name {
			return steps, nil
		}

		spec = NewSpecification(next, target.Description(), now, nil)
		visited[next] = true
	}
}

func guardNote(target Event) string {
	if guard := target.BeforeTransition(); guard != "" {
		return " if " + guard + " succeeds"
	}
	return ""
}
