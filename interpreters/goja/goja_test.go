package goja

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/store/memory"
)

func exec(t *testing.T, i *Interpreter, src interface{}, props core.Options) (interface{}, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	compiled, err := i.Compile(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	return i.Exec(ctx, "homer", nil, props, src, compiled)
}

func TestActionsSimple(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `return {likes:"chips", who:_.entity};`, nil)
	if err != nil {
		t.Fatal(err)
	}
	m, is := x.(map[string]interface{})
	if !is {
		t.Fatalf("%#v is a %T", x, x)
	}
	if m["likes"] != "chips" {
		t.Fatalf("didn't want %#v", m["likes"])
	}
	if m["who"] != "homer" {
		t.Fatalf("didn't want %#v", m["who"])
	}
}

func TestActionsFalse(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `return 1 > 2;`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !core.Failed(x, err) {
		t.Fatalf("%#v didn't fail", x)
	}
}

func TestActionsUndefined(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `var y = 1;`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if x != nil {
		t.Fatalf("wanted nil, not %#v", x)
	}
	if core.Failed(x, err) {
		t.Fatal("nil failed")
	}
}

func TestActionsParam(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `return _.props.port + 1;`, core.Options{"port": 8079})
	if err != nil {
		t.Fatal(err)
	}
	if x != float64(8080) {
		t.Fatalf("didn't want %#v (%T)", x, x)
	}
}

func TestActionsTimeout(t *testing.T) {
	i := NewInterpreter()
	i.Testing = true
	i.Timeout = 50 * time.Millisecond

	_, err := exec(t, i, `for (;;) { sleep(10); } null;`, nil)
	if err == nil {
		t.Fatal("didn't timeout")
	}
	if err != Interrupted {
		t.Fatalf("surprised by \"%s\"", err)
	}
}

func TestActionsError(t *testing.T) {
	if _, err := exec(t, NewInterpreter(), `likes + tacos; null;`, nil); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestActionsCompileError(t *testing.T) {
	if _, err := NewInterpreter().Compile(context.Background(), `return {`); err == nil {
		t.Fatal("didn't protest")
	}
	if _, err := NewInterpreter().Compile(context.Background(), 42); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestActionsCronNextGood(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `return _.cronNext("0 0 * * *");`, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, is := x.(string)
	if !is {
		t.Fatalf("%#v is a %T", x, x)
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		t.Fatal(err)
	}
}

func TestActionsCronNextBad(t *testing.T) {
	if _, err := exec(t, NewInterpreter(), `return _.cronNext("bad");`, nil); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestActionsUtilities(t *testing.T) {
	x, err := exec(t, NewInterpreter(), `
var a = _.gensym(), b = _.gensym();
_.log({a: a});
return {differ: a != b, esc: _.esc("a b&c")};`, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := x.(map[string]interface{})
	if m["differ"] != true {
		t.Fatal("gensyms collided")
	}
	if m["esc"] != "a+b%26c" {
		t.Fatalf("bad esc %#v", m["esc"])
	}
}

func TestActionsRequireSimple(t *testing.T) {
	code := map[string]interface{}{
		"requires": []interface{}{"foo", "bar"},
		"code":     `return {likes: foo(), wants: bar()}`,
	}

	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"foo": `
function foo() {
  var acc = [];
  for (var i = 0; i < 10; i++) {
      acc.push(i);
  }
  return "chips";
}
`,
		"bar": `
require("baz");
function bar() { return baz(); }
`,
		"baz": `function baz() { return "queso"; }`,
	})

	x, err := exec(t, i, code, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := x.(map[string]interface{})
	if m["likes"] != "chips" || m["wants"] != "queso" {
		t.Fatalf("didn't want %#v", m)
	}
}

func TestActionsRequireMissing(t *testing.T) {
	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{})
	code := map[string]interface{}{
		"requires": "nope",
		"code":     `return 1;`,
	}
	if _, err := i.Compile(context.Background(), code); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestActionsRequireFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "libs"), 0755); err != nil {
		t.Fatal(err)
	}
	lib := `function tomorrow(t) { return t + 86400; }`
	if err := os.WriteFile(filepath.Join(dir, "libs", "time.js"), []byte(lib), 0644); err != nil {
		t.Fatal(err)
	}

	i := NewInterpreter()
	i.LibraryProvider = MakeFileLibraryProvider(dir)
	code := map[interface{}]interface{}{
		"requires": []interface{}{"file://libs/time.js"},
		"code":     `return tomorrow(1);`,
	}
	x, err := exec(t, i, code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if x != float64(86401) {
		t.Fatalf("didn't want %#v", x)
	}

	if _, err := i.Compile(context.Background(), map[string]interface{}{
		"requires": "file://../../etc/passwd",
		"code":     "return 1;",
	}); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestActionsRequireHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `function answer() { return 42; }`)
	}))
	defer server.Close()

	i := NewInterpreter()
	code := map[string]interface{}{
		"requires": []interface{}{server.URL},
		"code":     `return answer();`,
	}
	x, err := exec(t, i, code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if x != float64(42) {
		t.Fatalf("didn't want %#v", x)
	}
}

func TestActionWithEngine(t *testing.T) {
	ctx := context.Background()
	i := NewInterpreter()

	ready, err := i.Action(ctx, nil, `var s = _.spec(); return s.name == "start" && _.workflow == "scripted";`)
	if err != nil {
		t.Fatal(err)
	}
	stamp, err := i.Action(ctx, core.Options{"note": "hi"}, `return _.props.note + " at " + _.now();`)
	if err != nil {
		t.Fatal(err)
	}

	def, err := core.NewBuilder("scripted", "start").
		Action("ready", nil, ready).
		Action("stamp", nil, stamp).
		Event("start", core.Options{core.OptDesc: "Start", core.OptTransition: "go"}).
		Event("go", core.Options{
			core.OptDesc:             "Go",
			core.OptBeforeTransition: "ready",
			core.OptOnTransition:     "stamp",
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	store := memory.NewStore()
	e := core.NewEngine(def, core.NewAttributeAdapter(store, def),
		core.WithClock(func() time.Time { return time.Unix(1000, 0) }))

	if _, err = e.Transition(ctx, "homer", core.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	res, err := e.Transition(ctx, "homer", core.TransitionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Spec.Name != "go" {
		t.Fatalf("at %s", res.Spec.Name)
	}
	// "go" has no transition, so the cascade fired stamp in place.
	log := res.Spec.Log()
	if len(log) != 1 || log[0].Result != "hi at 1000" {
		t.Fatalf("log %#v", log)
	}
}
