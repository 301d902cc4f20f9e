package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackArity(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		description string
		fn          interface{}
		arity       int
		result      interface{}
	}{
		{
			description: "entity",
			fn: func(ctx context.Context, entity string) (interface{}, error) {
				return "hi " + entity, nil
			},
			arity:  1,
			result: "hi tag1",
		},
		{
			description: "entity and engine",
			fn: func(ctx context.Context, entity string, e *Engine) (interface{}, error) {
				return e == nil, nil
			},
			arity:  2,
			result: true,
		},
		{
			description: "bool entity",
			fn: func(ctx context.Context, entity string) (bool, error) {
				return false, nil
			},
			arity:  1,
			result: false,
		},
		{
			description: "bool entity and engine",
			fn: func(ctx context.Context, entity string, e *Engine) (bool, error) {
				return true, nil
			},
			arity:  2,
			result: true,
		},
		{
			description: "named type",
			fn: ActionFunc(func(ctx context.Context, entity string) (interface{}, error) {
				return 42, nil
			}),
			arity:  1,
			result: 42,
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			c, err := NewCallback("a", nil, tc.fn)
			require.NoError(t, err)
			assert.Equal(t, tc.arity, c.Arity())
			assert.True(t, c.Callable())
			assert.False(t, c.IsNone())
			x, err := c.Call(ctx, "tag1", nil)
			require.NoError(t, err)
			assert.Equal(t, tc.result, x)
		})
	}
}

func TestCallbackUnsupported(t *testing.T) {
	_, err := NewCallback("bad", nil, func(s string) bool { return true })
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, ce.Error(), `"bad"`)
}

func TestCallbackNone(t *testing.T) {
	assert.True(t, None.IsNone())
	assert.Equal(t, 0, None.Arity())
	_, err := None.Call(context.Background(), "x", nil)
	assert.Error(t, err)

	c, err := NewCallback("data", Options{"likes": "queso"}, nil)
	require.NoError(t, err)
	assert.False(t, c.Callable())
	assert.Equal(t, "queso", c.Options.String("likes"))
}

func TestFailed(t *testing.T) {
	assert.True(t, Failed(false, nil))
	assert.True(t, Failed(true, errors.New("nope")))
	assert.False(t, Failed(true, nil))
	assert.False(t, Failed(nil, nil))
	assert.False(t, Failed(0, nil))
	assert.False(t, Failed("", nil))
}

func TestOptions(t *testing.T) {
	o := Options{
		"i":   3,
		"f":   float64(4),
		"i64": int64(5),
		"s":   "str",
		"b":   true,
	}
	assert.Equal(t, int64(3), o.Int("i"))
	assert.Equal(t, int64(4), o.Int("f"))
	assert.Equal(t, int64(5), o.Int("i64"))
	assert.Equal(t, int64(0), o.Int("s"))
	assert.Equal(t, "str", o.String("s"))
	assert.Equal(t, "", o.String("i"))
	assert.True(t, o.Bool("b"))
	assert.False(t, o.Bool("missing"))
	assert.Equal(t, []string{"b", "f", "i", "i64", "s"}, o.Keys())
}
