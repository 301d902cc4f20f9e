package interpreters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandard(t *testing.T) {
	ctx := context.Background()
	is := Standard()
	assert.Equal(t, []string{"ecmascript", "goja", "noop"}, is.Names())

	f, err := is.Action(ctx, "goja", nil, `return _.entity + "!";`)
	require.NoError(t, err)
	x, err := f(ctx, "bart", nil)
	require.NoError(t, err)
	assert.Equal(t, "bart!", x)

	_, err = is.Action(ctx, "cobol", nil, "DISPLAY 'HI'.")
	assert.ErrorContains(t, err, "cobol")
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	is := Noop()

	// Doesn't even parse.
	f, err := is.Action(ctx, "goja", nil, `return {`)
	require.NoError(t, err)
	x, err := f(ctx, "bart", nil)
	require.NoError(t, err)
	assert.Equal(t, true, x)
}
