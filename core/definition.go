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

package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Event option names.
const (
	OptDesc             = "desc"
	OptDescription      = "description"
	OptBeforeTransition = "before_transition"
	OptExpires          = "expires"
	OptOnTransition     = "on_transition"
	OptTransition       = "transition"
	OptTerminus         = "terminus"
)

// Event is a named state in a workflow.  It's just a Callback with
// no code and some options.
type Event struct {
	Callback
}

// Description is the required description.
func (e Event) Description() string {
	if s := e.Options.String(OptDesc); s != "" {
		return s
	}
	return e.Options.String(OptDescription)
}

// BeforeTransition is the name of the guard action (if any) that
// must succeed before this event can be entered.
func (e Event) BeforeTransition() string {
	return e.Options.String(OptBeforeTransition)
}

// Expires is the number of seconds this event lasts.  Zero means the
// event is expired as soon as it's entered.
func (e Event) Expires() int64 {
	return e.Options.Int(OptExpires)
}

// OnTransition is the name of the action (if any) to run after this
// event is entered or, for an event without a Transition, whenever
// it has expired.
func (e Event) OnTransition() string {
	return e.Options.String(OptOnTransition)
}

// Transition is the name of the next event (if any).
func (e Event) Transition() string {
	return e.Options.String(OptTransition)
}

// Terminus reports whether this event is a final state.
func (e Event) Terminus() bool {
	return e.Options.Bool(OptTerminus)
}

// Duration converts a value in the given unit ("seconds", "minutes",
// "hours", or "days", singular or plural) to seconds.  An unknown
// unit means the value is already in seconds.
func Duration(value int64, unit string) int64 {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s") {
	case "minute":
		return value * 60
	case "hour":
		return value * 60 * 60
	case "day":
		return value * 24 * 60 * 60
	default:
		return value
	}
}

// ParseDuration parses strings like "90", "2 hours", or "1 day".
func ParseDuration(s string) (int64, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1, 2:
	default:
		return 0, fmt.Errorf("bad duration %q", s)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", s, err)
	}
	if len(fields) == 1 {
		return n, nil
	}
	return Duration(n, fields[1]), nil
}

// Definition is the static configuration for one workflow type: its
// events, its actions, and the name of its initial event.
//
// Make one with a Builder.  A Definition is not changed after it's
// built.
type Definition struct {
	name    string
	initial string
	doc     string
	events  map[string]Event
	actions map[string]Callback
}

// Name is the workflow's name.
func (d *Definition) Name() string {
	return d.name
}

// Initial is the name of the event a new entity enters.
func (d *Definition) Initial() string {
	return d.initial
}

// Doc is optional documentation (Markdown).
func (d *Definition) Doc() string {
	return d.doc
}

// AttributeKey is the name of the entity attribute that holds the
// serialized Specification.
func (d *Definition) AttributeKey() string {
	return strings.ToLower(d.name) + "_json"
}

// Event finds the named event.  The result IsNone() if there's no
// such event.
func (d *Definition) Event(name string) Event {
	if e, have := d.events[name]; have {
		return e
	}
	return Event{None}
}

// Action finds the named action.  The result IsNone() if there's no
// such action.
func (d *Definition) Action(name string) Callback {
	if a, have := d.actions[name]; have {
		return a
	}
	return None
}

// Events returns the event names in order.
func (d *Definition) Events() []string {
	acc := make([]string, 0, len(d.events))
	for name := range d.events {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}

// Actions returns the action names in order.
func (d *Definition) Actions() []string {
	acc := make([]string, 0, len(d.actions))
	for name := range d.actions {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}

// Expiry is the named event's Expires or zero if there's no such
// event.
func (d *Definition) Expiry(name string) int64 {
	return d.Event(name).Expires()
}

// Definition makes a Definition a Definer.
func (d *Definition) Definition() *Definition {
	return d
}

func (d *Definition) configError(format string, args ...interface{}) error {
	return &ConfigError{
		Workflow: d.name,
		Msg:      fmt.Sprintf(format, args...),
	}
}

// Validate checks the references between events and actions.  The
// Engine reports these problems when it encounters them, but it's
// nicer to hear about them at boot.
func (d *Definition) Validate() error {
	if d.initial == "" {
		return d.configError("no initial event")
	}
	if d.Event(d.initial).IsNone() {
		return d.configError("initial event %q not registered", d.initial)
	}
	for _, name := range d.Events() {
		e := d.events[name]
		for _, ref := range []string{e.BeforeTransition(), e.OnTransition()} {
			if ref != "" && d.Action(ref).IsNone() {
				return d.configError("event %q refers to unregistered action %q", name, ref)
			}
		}
		if to := e.Transition(); to != "" && d.Event(to).IsNone() {
			return d.configError("event %q transitions to unregistered event %q", name, to)
		}
	}
	return nil
}

// Builder accumulates registrations for a Definition.
//
// The first registration error is remembered and returned by Build.
type Builder struct {
	def *Definition
	err error
}

// NewBuilder starts a workflow with the given name and initial event
// name.
func NewBuilder(name, initial string) *Builder {
	return &Builder{
		def: &Definition{
			name:    name,
			initial: initial,
			events:  make(map[string]Event),
			actions: make(map[string]Callback),
		},
	}
}

// Doc sets the workflow's documentation.
func (b *Builder) Doc(doc string) *Builder {
	b.def.doc = doc
	return b
}

// Action registers an action.  A later registration with the same
// name wins.  See NewCallback for the supported function shapes.
func (b *Builder) Action(name string, opts Options, fn interface{}) *Builder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = b.def.configError("action %q has no code", name)
		return b
	}
	c, err := NewCallback(name, opts.Copy(), fn)
	if err != nil {
		if ce, is := err.(*ConfigError); is {
			ce.Workflow = b.def.name
		}
		b.err = err
		return b
	}
	b.def.actions[name] = c
	return b
}

// Event registers an event.  The options must include a description.
//
// The "expires" option can be a number of seconds or a string that
// ParseDuration understands.
func (b *Builder) Event(name string, opts Options) *Builder {
	if b.err != nil {
		return b
	}
	opts = opts.Copy()
	e := Event{Callback{Name: name, Options: opts}}
	if e.Description() == "" {
		b.err = b.def.configError("event %q requires a description", name)
		return b
	}
	switch vv := opts[OptExpires].(type) {
	case nil:
	case string:
		n, err := ParseDuration(vv)
		if err != nil {
			b.err = b.def.configError("event %q: %s", name, err)
			return b
		}
		opts[OptExpires] = n
	default:
		opts[OptExpires] = opts.Int(OptExpires)
	}
	if n := opts.Int(OptExpires); n < 0 {
		b.err = b.def.configError("event %q has negative expires %d", name, n)
		return b
	}
	b.def.events[name] = e
	return b
}

// Err returns the first registration error (if any).
func (b *Builder) Err() error {
	return b.err
}

// Build returns the Definition or the first registration error.
//
// The Builder shouldn't be used after Build.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.def, nil
}
