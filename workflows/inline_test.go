package workflows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInline(t *testing.T) {
	input := `
I like %inline("tacos"), and
I also like %inline("queso").
Both are delicious.
`
	want := `
I like TACOS, and
I also like QUESO.
Both are delicious.
`

	find := func(name string) ([]byte, error) {
		return []byte(strings.ToUpper(name)), nil
	}

	got, err := Inline([]byte(input), find)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestInlineIndents(t *testing.T) {
	input := "source: |\n  %inline(\"x.js\")\nnext: 1\n"
	got, err := Inline([]byte(input), func(string) ([]byte, error) {
		return []byte("var x = 1;\nreturn x;\n"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "source: |\n  var x = 1;\n  return x;\nnext: 1\n", string(got))
}

func TestLoadFileInlines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "check.js"),
		[]byte("var limit = 3;\nreturn _.entity.length < limit;\n"), 0644))
	src := `name: inlined
initial: a
actions:
  check:
    interpreter: goja
    source: |
      %inline("check.js")
events:
  a:
    desc: A
    before_transition: check
`
	filename := filepath.Join(dir, "inlined.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(src), 0644))

	def, err := NewLoader().LoadFile(context.Background(), filename)
	require.NoError(t, err)

	x, err := def.Action("check").Call(context.Background(), "ab", nil)
	require.NoError(t, err)
	assert.Equal(t, true, x)

	x, err = def.Action("check").Call(context.Background(), "abcd", nil)
	require.NoError(t, err)
	assert.Equal(t, false, x)

	_, err = ReadFileWithInlines(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}
