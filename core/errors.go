package core

// These errors are mostly user (configuration) errors, not internal
// errors.

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by an EntityStore when the entity doesn't
// exist.
var ErrNotFound = errors.New("not found")

// ConfigError occurs when a Definition is wrong: an event without a
// description, a missing initial event, a reference to an
// unregistered action or event, or a cycle of zero-delay events.
//
// These errors are fatal and should never be retried.
type ConfigError struct {
	Workflow string
	Msg      string
}

func (e *ConfigError) Error() string {
	if e.Workflow == "" {
		return "configuration error: " + e.Msg
	}
	return `configuration error in workflow "` + e.Workflow + `": ` + e.Msg
}

// UnknownEvent occurs when a persisted Specification names an event
// that isn't in the Definition.
type UnknownEvent struct {
	Workflow string
	Name     string
}

func (e *UnknownEvent) Error() string {
	return `no event defined with name ` + e.Name + ` in workflow "` + e.Workflow + `"`
}

// CycleError occurs when a single Transition would re-enter an event
// it already passed through.  A CycleError is a configuration error
// (see errors.As).
//
// A zero-delay cycle is found before the first write, so the entity
// stays where it was.  Exceeding the cascade limit is found during
// the cascade, and the hops already taken stay persisted.
type CycleError struct {
	Workflow string
	Path     []string
}

func (e *CycleError) Error() string {
	return `zero-delay cycle in workflow "` + e.Workflow + `": ` + strings.Join(e.Path, " -> ")
}

// As lets errors.As find a *ConfigError in a CycleError.
func (e *CycleError) As(target interface{}) bool {
	if ce, is := target.(**ConfigError); is {
		*ce = &ConfigError{
			Workflow: e.Workflow,
			Msg:      "cycle " + strings.Join(e.Path, " -> "),
		}
		return true
	}
	return false
}

// TransitionFailed occurs when a before_transition guard fails and
// the caller didn't ask for quiet.  The attempt has already been
// recorded.
type TransitionFailed struct {
	Entity string
	From   string
	To     string
	Guard  string

	// Err is the guard's error, if any.  A guard that just
	// returned false has no error.
	Err error
}

func (e *TransitionFailed) Error() string {
	msg := `transition of "` + e.Entity + `" from "` + e.From + `" to "` + e.To +
		`" failed: guard "` + e.Guard + `"`
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + " returned false"
}

func (e *TransitionFailed) Unwrap() error {
	return e.Err
}
