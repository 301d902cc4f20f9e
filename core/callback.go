package core

import (
	"context"
	"fmt"
	"sort"
)

// ActionFunc is an action that only needs the entity.
type ActionFunc func(ctx context.Context, entity string) (interface{}, error)

// EngineActionFunc is an action that also wants the Engine, which it
// can use to (say) read the entity's Specification.
type EngineActionFunc func(ctx context.Context, entity string, e *Engine) (interface{}, error)

// Options is a bag of named settings.  Events are nothing but
// Options.
type Options map[string]interface{}

// Copy makes a shallow copy.
func (o Options) Copy() Options {
	acc := make(Options, len(o))
	for k, v := range o {
		acc[k] = v
	}
	return acc
}

// String returns the string at key or "".
func (o Options) String(key string) string {
	if s, is := o[key].(string); is {
		return s
	}
	return ""
}

// Bool returns the bool at key or false.
func (o Options) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Int returns the integer at key or 0.  Numbers that came from JSON
// or YAML are converted.
func (o Options) Int(key string) int64 {
	switch vv := o[key].(type) {
	case int:
		return int64(vv)
	case int32:
		return int64(vv)
	case int64:
		return vv
	case uint:
		return int64(vv)
	case uint64:
		return int64(vv)
	case float64:
		return int64(vv)
	case float32:
		return int64(vv)
	default:
		return 0
	}
}

// Keys returns the option names in order.
func (o Options) Keys() []string {
	acc := make([]string, 0, len(o))
	for k := range o {
		acc = append(acc, k)
	}
	sort.Strings(acc)
	return acc
}

// Callback is a named, option-bearing wrapper around a unit of user
// code.  Both actions and events are Callbacks.  An event's Callback
// has no code.
type Callback struct {
	Name    string  `json:"name"`
	Options Options `json:"options,omitempty"`

	f  ActionFunc
	ef EngineActionFunc
}

// None is the "not found" Callback.
var None = Callback{}

// NewCallback wraps the given function, which must have one of the
// supported shapes:
//
//	func(context.Context, string) (interface{}, error)
//	func(context.Context, string, *Engine) (interface{}, error)
//	func(context.Context, string) (bool, error)
//	func(context.Context, string, *Engine) (bool, error)
//
// A nil function gives a Callback without code.
func NewCallback(name string, opts Options, fn interface{}) (Callback, error) {
	c := Callback{
		Name:    name,
		Options: opts,
	}
	switch vv := fn.(type) {
	case nil:
	case ActionFunc:
		c.f = vv
	case func(context.Context, string) (interface{}, error):
		c.f = vv
	case EngineActionFunc:
		c.ef = vv
	case func(context.Context, string, *Engine) (interface{}, error):
		c.ef = vv
	case func(context.Context, string) (bool, error):
		c.f = func(ctx context.Context, entity string) (interface{}, error) {
			return vv(ctx, entity)
		}
	case func(context.Context, string, *Engine) (bool, error):
		c.ef = func(ctx context.Context, entity string, e *Engine) (interface{}, error) {
			return vv(ctx, entity, e)
		}
	default:
		return None, &ConfigError{
			Workflow: "",
			Msg:      fmt.Sprintf("action %q has unsupported type %T", name, fn),
		}
	}
	return c, nil
}

// IsNone reports whether this Callback is the "not found" sentinel.
func (c Callback) IsNone() bool {
	return c.Name == ""
}

// Callable reports whether this Callback has code.
func (c Callback) Callable() bool {
	return c.f != nil || c.ef != nil
}

// Arity is the number of (non-context) arguments the code takes: 1
// for the entity alone, 2 for the entity and the Engine.  Zero means
// no code.
func (c Callback) Arity() int {
	switch {
	case c.ef != nil:
		return 2
	case c.f != nil:
		return 1
	default:
		return 0
	}
}

// Call runs the code with the arguments its arity wants.
func (c Callback) Call(ctx context.Context, entity string, e *Engine) (interface{}, error) {
	switch c.Arity() {
	case 2:
		return c.ef(ctx, entity, e)
	case 1:
		return c.f(ctx, entity)
	default:
		return nil, fmt.Errorf("callback %q has no code", c.Name)
	}
}

// Failed reports whether the result of Call means failure: an error
// or exactly false.
func Failed(result interface{}, err error) bool {
	if err != nil {
		return true
	}
	b, is := result.(bool)
	return is && !b
}
