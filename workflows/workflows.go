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

// Package workflows reads workflow definitions from YAML.
//
// A workflow file looks like this:
//
//	name: provision
//	initial: start
//	doc: |
//	  Some Markdown.
//	actions:
//	  power_on:
//	    builtin: succeed
//	  check:
//	    interpreter: goja
//	    source: |
//	      return _.entity != "";
//	events:
//	  start:
//	    desc: Entity has entered the workflow
//	    expires: 1 hour
//	    transition: done
//	  done:
//	    desc: Finished
//	    terminus: true
//
// An event's expires can be a number of seconds, a string like "2
// hours", or a map like {value: 2, unit: hours}.  Any other event
// keys are kept as options.
package workflows

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/interpreters"

	"github.com/jsccast/yaml"
)

// File is the YAML representation of a workflow.
type File struct {
	Name    string                            `yaml:"name" json:"name"`
	Initial string                            `yaml:"initial" json:"initial"`
	Doc     string                            `yaml:"doc,omitempty" json:"doc,omitempty"`
	Actions map[string]*ActionSource          `yaml:"actions,omitempty" json:"actions,omitempty"`
	Events  map[string]map[string]interface{} `yaml:"events" json:"events"`
}

// ActionSource says where an action's code comes from: either a Go
// builtin or source for an interpreter.
type ActionSource struct {
	Builtin     string                 `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	Interpreter string                 `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	Source      interface{}            `yaml:"source,omitempty" json:"source,omitempty"`
	Options     map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

// Loader turns Files into Definitions.
type Loader struct {
	// Interpreters compile actions with source.
	Interpreters interpreters.InterpretersMap

	// Builtins are Go actions that a File can name.  See
	// core.NewCallback for the supported types.
	Builtins map[string]interface{}

	// Validate, if true, calls Definition.Validate after
	// building.
	Validate bool

	Logger *slog.Logger
}

// NewLoader makes a Loader with the standard interpreters and
// builtins.
func NewLoader() *Loader {
	return &Loader{
		Interpreters: interpreters.Standard(),
		Builtins:     StandardBuiltins(),
		Validate:     true,
		Logger:       slog.Default(),
	}
}

// Parse decodes YAML (or JSON).
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: definition is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return &f, nil
}

// Load parses and builds.
func (l *Loader) Load(ctx context.Context, data []byte) (*core.Definition, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return l.Build(ctx, f)
}

// LoadFile loads a workflow from a file.  If the file doesn't give a
// name, the file's base name (without extension) is used.
//
// The file can use '%inline("NAME")' to include other files.  See
// Inline.
func (l *Loader) LoadFile(ctx context.Context, filename string) (*core.Definition, error) {
	bs, err := ReadFileWithInlines(filename)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", filename, err)
	}
	f, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", filename, err)
	}
	if f.Name == "" {
		base := filepath.Base(filename)
		f.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	def, err := l.Build(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", filename, err)
	}
	return def, nil
}

// Build makes a Definition from a File.
func (l *Loader) Build(ctx context.Context, f *File) (*core.Definition, error) {
	if f.Name == "" {
		return nil, &core.ConfigError{Msg: "workflow has no name"}
	}
	b := core.NewBuilder(f.Name, f.Initial).Doc(f.Doc)

	for _, name := range sortedKeys(f.Actions) {
		fn, err := l.action(ctx, f.Name, name, f.Actions[name])
		if err != nil {
			return nil, err
		}
		var opts core.Options
		if src := f.Actions[name]; src != nil && src.Options != nil {
			opts = core.Options(src.Options)
		}
		b.Action(name, opts, fn)
	}

	names := make([]string, 0, len(f.Events))
	for name := range f.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts, err := eventOptions(f.Events[name])
		if err != nil {
			return nil, &core.ConfigError{
				Workflow: f.Name,
				Msg:      fmt.Sprintf("event %q: %s", name, err),
			}
		}
		b.Event(name, opts)
	}

	def, err := b.Build()
	if err != nil {
		return nil, err
	}
	if l.Validate {
		if err = def.Validate(); err != nil {
			return nil, err
		}
	}
	if l.Logger != nil {
		l.Logger.Debug("loaded workflow", "workflow", def.Name(),
			"events", len(def.Events()), "actions", len(def.Actions()))
	}
	return def, nil
}

func (l *Loader) action(ctx context.Context, workflow, name string, src *ActionSource) (interface{}, error) {
	protest := func(format string, args ...interface{}) error {
		return &core.ConfigError{
			Workflow: workflow,
			Msg:      fmt.Sprintf("action %q: ", name) + fmt.Sprintf(format, args...),
		}
	}
	switch {
	case src == nil:
		return nil, protest("no source")
	case src.Builtin != "" && src.Interpreter != "":
		return nil, protest("both builtin and interpreter")
	case src.Builtin != "":
		fn, have := l.Builtins[src.Builtin]
		if !have {
			return nil, protest("unknown builtin %q", src.Builtin)
		}
		return fn, nil
	case src.Interpreter != "":
		fn, err := l.Interpreters.Action(ctx, src.Interpreter, core.Options(src.Options), src.Source)
		if err != nil {
			return nil, protest("%s", err)
		}
		return fn, nil
	default:
		return nil, protest("needs builtin or interpreter")
	}
}

func sortedKeys(m map[string]*ActionSource) []string {
	acc := make([]string, 0, len(m))
	for k := range m {
		acc = append(acc, k)
	}
	sort.Strings(acc)
	return acc
}

// eventOptions copies the event's map and normalizes expires.
func eventOptions(m map[string]interface{}) (core.Options, error) {
	opts := make(core.Options, len(m))
	for k, v := range m {
		opts[k] = v
	}
	switch vv := opts[core.OptExpires].(type) {
	case map[string]interface{}:
		n, err := expiresMap(vv)
		if err != nil {
			return nil, err
		}
		opts[core.OptExpires] = n
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			m[fmt.Sprint(k)] = v
		}
		n, err := expiresMap(m)
		if err != nil {
			return nil, err
		}
		opts[core.OptExpires] = n
	}
	return opts, nil
}

func expiresMap(m map[string]interface{}) (int64, error) {
	value := core.Options(m).Int("value")
	if _, have := m["value"]; !have {
		return 0, fmt.Errorf("expires needs a value")
	}
	unit, _ := m["unit"].(string)
	return core.Duration(value, unit), nil
}
