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

// Package goja provides script actions written in ECMAScript.
//
// See https://github.com/dop251/goja.
package goja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Comcast/tortoise/core"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Exec if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// Interpreter compiles and runs ECMAScript actions using Goja.
//
// An action's source is the body of a function.  Its return value
// is the action's result, so a guard fails with "return false;".
type Interpreter struct {

	// Testing is used to expose or hide some runtime
	// capabilities.
	Testing bool

	// Timeout, if positive, bounds each execution.
	Timeout time.Duration

	Logger *slog.Logger

	// LibraryProvider resolves library names given in an
	// action's "requires".  If nil, DefaultLibraryProvider is
	// used.
	LibraryProvider func(ctx context.Context, i *Interpreter, libraryName string) (string, error)
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		Logger: slog.Default(),
	}
}

// ProvideLibrary resolves the library name into source.  A library
// can itself require() other libraries at its top level.
func (i *Interpreter) ProvideLibrary(ctx context.Context, name string) (string, error) {
	provider := i.LibraryProvider
	if provider == nil {
		provider = DefaultLibraryProvider
	}
	src, err := provider(ctx, i, name)
	if err != nil {
		return "", err
	}
	return InlineRequires(ctx, src, func(ctx context.Context, name string) (string, error) {
		return provider(ctx, i, name)
	})
}

// DefaultLibraryProvider reads libraries relative to the current
// directory.
var DefaultLibraryProvider = MakeFileLibraryProvider(".")

// MakeFileLibraryProvider makes a provider that supports (barely)
// names that are URLs with protocols of "file", "http", and
// "https".  There is no additional control when using HTTP/HTTPS.
func MakeFileLibraryProvider(dir string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		parts := strings.SplitN(name, "://", 2)
		if 2 != len(parts) {
			return "", fmt.Errorf("bad link '%s'", name)
		}
		switch parts[0] {
		case "file":
			filename := filepath.Clean(parts[1])
			if strings.HasPrefix(filename, "..") {
				return "", fmt.Errorf("library '%s' is outside %s", name, dir)
			}
			bs, err := os.ReadFile(filepath.Join(dir, filename))
			if err != nil {
				return "", err
			}
			return string(bs), nil
		case "http", "https":
			req, err := http.NewRequestWithContext(ctx, "GET", name, nil)
			if err != nil {
				return "", err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("library fetch status %s %d",
					resp.Status, resp.StatusCode)
			}
			bs, err := io.ReadAll(resp.Body)
			if err != nil {
				return "", err
			}
			return string(bs), nil
		default:
			return "", fmt.Errorf("unknown protocol '%s'", parts[0])
		}
	}
}

// MakeMapLibraryProvider serves libraries from a map.
func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// parseSource looks into the given map to try to find "requires" and
// "code" properties.
func parseSource(vv map[string]interface{}) (code string, libs []string, err error) {
	s, is := vv["code"].(string)
	if !is {
		err = errors.New("bad Goja action code")
		return
	}
	code = s

	switch vv := vv["requires"].(type) {
	case nil:
	case string:
		libs = []string{vv}
	case []string:
		libs = vv
	case []interface{}:
		libs = make([]string, 0, len(vv))
		for _, x := range vv {
			s, is := x.(string)
			if !is {
				err = fmt.Errorf("bad library (%T)", x)
				return
			}
			libs = append(libs, s)
		}
	default:
		err = fmt.Errorf("bad requires (%T)", vv)
	}

	return
}

// AsSource accepts either a string or a map with "code" and
// (optionally) "requires".
//
// The YAML parser https://github.com/go-yaml/yaml returns
// map[interface{}]interface{}, which is correct but inconvenient.
// The fork at https://github.com/jsccast/yaml returns
// map[string]interface{}.  Both are supported here.
func AsSource(src interface{}) (code string, libs []string, err error) {
	switch vv := src.(type) {
	case string:
		code = vv
		return
	case map[interface{}]interface{}:
		m := make(map[string]interface{})
		for k, v := range vv {
			str, ok := k.(string)
			if !ok {
				err = fmt.Errorf("bad src key (%T)", k)
				return
			}
			m[str] = v
		}
		return parseSource(m)
	case map[string]interface{}:
		return parseSource(vv)
	default:
		err = fmt.Errorf("bad Goja source (%T)", src)
		return
	}
}

// Compile resolves any libraries and calls goja.Compile.
//
// This method can block if the interpreter's library provider blocks
// in order to obtain external libraries.
func (i *Interpreter) Compile(ctx context.Context, src interface{}) (interface{}, error) {
	code, libs, err := AsSource(src)
	if err != nil {
		return nil, err
	}

	code = wrapSrc(code)

	var libsSrc string
	for _, lib := range libs {
		libSrc, err := i.ProvideLibrary(ctx, lib)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	code = libsSrc + code

	obj, err := goja.Compile("", code, true)
	if err != nil {
		return nil, errors.New(err.Error() + ": " + code)
	}

	return obj, nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// Exec runs the compiled action for the given entity.  If compiled
// is nil, the source is compiled first.
//
// The following properties are available from the runtime at _.
//
//	entity: the entity's id.
//	workflow: the workflow's name (if there's an Engine).
//	props: the action's options.
//	spec(): the entity's current Specification (if there's an Engine).
//	now(): the Engine's clock in Unix seconds.
//
// Some useful utilities:
//
//	log(x): log x as JSON.
//	gensym(): generate a random string.
//	esc(s): URL query-escape the given string.
//	cronNext(expr): the next time (RFC3339) the cron expression fires.
//
// For testing only:
//
//	sleep(ms): sleep for the given number of milliseconds.
//
// The Testing flag must be set to see sleep().
func (i *Interpreter) Exec(ctx context.Context, entity string, e *core.Engine, props core.Options, src interface{}, compiled interface{}) (interface{}, error) {
	if compiled == nil {
		var err error
		if compiled, err = i.Compile(ctx, src); err != nil {
			return nil, err
		}
	}
	p, is := compiled.(*goja.Program)
	if !is {
		return nil, fmt.Errorf("Goja bad compilation: %T %#v", compiled, compiled)
	}

	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := map[string]interface{}{
		"entity": entity,
	}
	if props == nil {
		env["props"] = map[string]interface{}{}
	} else {
		env["props"] = map[string]interface{}(props.Copy())
	}

	o := goja.New()

	o.Set("_", env)

	if i.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	now := time.Now
	if e != nil {
		env["workflow"] = e.Definition().Name()
		env["spec"] = func() interface{} {
			spec, err := e.Read(ctx, entity)
			if err != nil {
				protest(o, err.Error())
			}
			x, err := core.Canonicalize(spec)
			if err != nil {
				protest(o, err.Error())
			}
			return x
		}
		now = func() time.Time {
			return time.Unix(e.Now(), 0)
		}
	}

	env["now"] = func() interface{} {
		return now().Unix()
	}

	env["gensym"] = func() interface{} {
		return uuid.NewString()
	}

	env["cronNext"] = func(x interface{}) interface{} {
		cronExpr, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}

		c, err := cronexpr.Parse(cronExpr)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(now()).UTC().Format(time.RFC3339Nano)
	}

	env["esc"] = func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		return url.QueryEscape(s)
	}

	env["log"] = func(x interface{}) interface{} {
		x = export(x)
		js, err := json.Marshal(&x)
		if err != nil {
			logger.Warn("goja.log can't marshal", "error", err, "entity", entity)
		} else {
			logger.Info("goja.log", "entity", entity, "value", string(js))
		}
		return x
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	var (
		ictx   context.Context
		cancel context.CancelFunc
	)
	if 0 < i.Timeout {
		ictx, cancel = context.WithTimeout(ctx, i.Timeout)
	} else {
		ictx, cancel = context.WithCancel(ctx)
	}
	go func() {
		<-ictx.Done()
		// If Exec calls cancel() after RunProgram returns,
		// then this interrupt is harmless.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, Interrupted
		}
		return nil, err
	}

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return core.Canonicalize(v.Export())
}

// Action compiles the source once and returns a function that runs
// it, which is what core.Builder.Action wants.
func (i *Interpreter) Action(ctx context.Context, props core.Options, src interface{}) (core.EngineActionFunc, error) {
	compiled, err := i.Compile(ctx, src)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, entity string, e *core.Engine) (interface{}, error) {
		return i.Exec(ctx, entity, e, props, src, compiled)
	}, nil
}
