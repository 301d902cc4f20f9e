/* Copyright 2018 Comcast Cable Communications Management, LLC
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

// Package tools has utilities for looking at workflow definitions:
// a static analysis and renderings as Graphviz, Mermaid, and HTML.
package tools

import (
	"sort"

	"github.com/Comcast/tortoise/core"
)

// Analysis reports some facts and possible problems about a
// Definition.
type Analysis struct {
	Workflow string

	EventCount  int
	ActionCount int

	// Guards is the number of events with a before_transition.
	Guards int

	// Terminals are the events marked terminus.
	Terminals []string

	// DeadEnds are events with no transition that aren't marked
	// terminus.  An entity that gets there stays there.
	DeadEnds []string

	// Orphans are events that no transition targets.  The initial
	// event isn't an orphan.  Orphans can still be entered via
	// Invoke.
	Orphans []string

	// Unreachable are events that can't be reached from the
	// initial event by following transitions.
	Unreachable []string

	// MissingTargets are transition targets that aren't events.
	MissingTargets []string

	// MissingActions are action names that events refer to but
	// that aren't registered.
	MissingActions []string

	// UnusedActions are registered actions that no event uses.
	UnusedActions []string

	// ZeroDelayCycles are loops of events that all expire
	// immediately.  The Engine refuses to run these.  Each cycle
	// starts with its least name.  Self-loops aren't included.
	ZeroDelayCycles [][]string
}

// OK reports whether the analysis found no outright errors.
func (a *Analysis) OK() bool {
	return len(a.MissingTargets) == 0 && len(a.MissingActions) == 0 && len(a.ZeroDelayCycles) == 0
}

// Analyze looks at the Definition.  The Definition needn't be valid.
func Analyze(def *core.Definition) *Analysis {
	names := def.Events()
	a := &Analysis{
		Workflow:    def.Name(),
		EventCount:  len(names),
		ActionCount: len(def.Actions()),
	}

	targeted := make(map[string]bool, len(names))
	missingTargets := make(map[string]bool)
	missingActions := make(map[string]bool)
	used := make(map[string]bool)

	for _, name := range names {
		ev := def.Event(name)
		if ev.BeforeTransition() != "" {
			a.Guards++
		}
		for _, action := range []string{ev.BeforeTransition(), ev.OnTransition()} {
			if action == "" {
				continue
			}
			used[action] = true
			if def.Action(action).IsNone() {
				missingActions[action] = true
			}
		}
		if ev.Terminus() {
			a.Terminals = append(a.Terminals, name)
		}
		to := ev.Transition()
		switch {
		case to == "":
			if !ev.Terminus() {
				a.DeadEnds = append(a.DeadEnds, name)
			}
		case def.Event(to).IsNone():
			missingTargets[to] = true
		default:
			targeted[to] = true
		}
	}

	for _, name := range names {
		if !targeted[name] && name != def.Initial() {
			a.Orphans = append(a.Orphans, name)
		}
	}

	reached := make(map[string]bool, len(names))
	for at := def.Initial(); at != "" && !reached[at] && !def.Event(at).IsNone(); at = def.Event(at).Transition() {
		reached[at] = true
	}
	for _, name := range names {
		if !reached[name] {
			a.Unreachable = append(a.Unreachable, name)
		}
	}

	for _, name := range def.Actions() {
		if !used[name] {
			a.UnusedActions = append(a.UnusedActions, name)
		}
	}

	a.MissingTargets = sortedKeys(missingTargets)
	a.MissingActions = sortedKeys(missingActions)
	a.ZeroDelayCycles = zeroDelayCycles(def)

	return a
}

// zeroDelayCycles finds the cycles in the transition graph in which
// every event expires immediately.  Each event has at most one
// transition, so a walk from any event finds at most one cycle.
func zeroDelayCycles(def *core.Definition) [][]string {
	var (
		acc  [][]string
		seen = make(map[string]bool)
	)
	for _, start := range def.Events() {
		if seen[start] {
			continue
		}
		index := make(map[string]int)
		path := make([]string, 0, 8)
		at := start
		for at != "" && !def.Event(at).IsNone() {
			if i, have := index[at]; have {
				cycle := path[i:]
				if 1 < len(cycle) && allZero(def, cycle) {
					acc = append(acc, rotate(cycle))
				}
				break
			}
			if seen[at] {
				break
			}
			index[at] = len(path)
			path = append(path, at)
			at = def.Event(at).Transition()
		}
		for _, name := range path {
			seen[name] = true
		}
	}
	return acc
}

func allZero(def *core.Definition, names []string) bool {
	for _, name := range names {
		if def.Expiry(name) != 0 {
			return false
		}
	}
	return true
}

// rotate returns a copy of the cycle starting at its least element.
func rotate(cycle []string) []string {
	least := 0
	for i, name := range cycle {
		if name < cycle[least] {
			least = i
		}
	}
	acc := make([]string, 0, len(cycle))
	acc = append(acc, cycle[least:]...)
	return append(acc, cycle[:least]...)
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	acc := make([]string, 0, len(m))
	for k := range m {
		acc = append(acc, k)
	}
	sort.Strings(acc)
	return acc
}
