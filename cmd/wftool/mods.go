package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/interpreters"
	"github.com/Comcast/tortoise/tools"
	"github.com/Comcast/tortoise/workflows"

	"github.com/jsccast/yaml"
)

// Mods are the subcommands that read a workflow from stdin and write
// it (perhaps modified) to stdout.
var Mods = map[string]Mod{
	"addCancel":  &AddCancelMod{},
	"setExpires": &SetExpiresMod{},
	"analyze":    &Analyzer{},
	"graph":      &Grapher{},
	"html":       &Renderer{},
}

var (
	NoSuchEvent = errors.New("no such event")
	EventExists = errors.New("event exists")
)

// Mod is a subcommand.
type Mod interface {
	F(*workflows.File) error
	Doc() string
	Flags() *flag.FlagSet
}

// definition builds the File without running any code, so a broken
// action doesn't stop us from looking at the workflow.
func definition(f *workflows.File) (*core.Definition, error) {
	l := workflows.NewLoader()
	l.Interpreters = interpreters.Noop()
	l.Validate = false
	l.Logger = nil
	builtins := make(map[string]interface{}, len(f.Actions))
	for _, a := range f.Actions {
		if a != nil && a.Builtin != "" {
			builtins[a.Builtin] = func(ctx context.Context, entity string) (bool, error) { return true, nil }
		}
	}
	l.Builtins = builtins
	return l.Build(context.Background(), f)
}

// AddCancel adds a terminus event that every non-terminus event can
// be invoked into.
func AddCancel(f *workflows.File, name, desc string) error {
	if _, have := f.Events[name]; have {
		return fmt.Errorf("%w: %s", EventExists, name)
	}
	if f.Events == nil {
		f.Events = make(map[string]map[string]interface{}, 8)
	}
	f.Events[name] = map[string]interface{}{
		core.OptDesc:     desc,
		core.OptTerminus: true,
	}
	if f.Doc != "" {
		f.Doc += "\n\n"
	}
	f.Doc += fmt.Sprintf("Invoke `%s` to stop early.", name)
	return nil
}

type AddCancelMod struct {
	Name        string
	Description string
}

func (m *AddCancelMod) Doc() string {
	return `
Adds a terminus event (default "cancelled") and mentions it in the
workflow's doc.  Callers invoke it to stop an entity's workflow.
`
}

func (m *AddCancelMod) Flags() *flag.FlagSet {
	fs := flag.NewFlagSet("addCancel", flag.ContinueOnError)
	fs.StringVar(&m.Name, "n", "cancelled", "event name")
	fs.StringVar(&m.Description, "d", "Cancelled", "event description")
	return fs
}

func (m *AddCancelMod) F(f *workflows.File) error {
	return AddCancel(f, m.Name, m.Description)
}

type SetExpiresMod struct {
	Event   string
	Expires string
}

func (m *SetExpiresMod) Doc() string {
	return `
Sets an event's expires to a duration like "2 hours" (stored in
seconds).
`
}

func (m *SetExpiresMod) Flags() *flag.FlagSet {
	fs := flag.NewFlagSet("setExpires", flag.ContinueOnError)
	fs.StringVar(&m.Event, "e", "", "event name")
	fs.StringVar(&m.Expires, "d", "0", "duration")
	return fs
}

func (m *SetExpiresMod) F(f *workflows.File) error {
	ev, have := f.Events[m.Event]
	if !have {
		return fmt.Errorf("%w: %q", NoSuchEvent, m.Event)
	}
	secs, err := core.ParseDuration(m.Expires)
	if err != nil {
		return err
	}
	if ev == nil {
		ev = make(map[string]interface{}, 2)
		f.Events[m.Event] = ev
	}
	ev[core.OptExpires] = secs
	return nil
}

// Analyzer writes an analysis to Out (stderr by default) and fails
// if the analysis found errors.
type Analyzer struct {
	Out io.Writer
}

func (m *Analyzer) F(f *workflows.File) error {
	def, err := definition(f)
	if err != nil {
		return err
	}
	a := tools.Analyze(def)
	bs, err := yaml.Marshal(a)
	if err != nil {
		return err
	}
	out := m.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "%s\n", bs)
	if !a.OK() {
		return fmt.Errorf("workflow %q has errors", def.Name())
	}
	return nil
}

func (m *Analyzer) Doc() string {
	return "Writes an analysis of the workflow to stderr."
}

func (m *Analyzer) Flags() *flag.FlagSet {
	return flag.NewFlagSet("analyze", flag.ContinueOnError)
}

type Grapher struct {
	OutputFilename string
	Format         string
}

func (m *Grapher) F(f *workflows.File) error {
	def, err := definition(f)
	if err != nil {
		return err
	}
	if m.Format == "png" {
		_, err = tools.PNG(def, strings.TrimSuffix(m.OutputFilename, ".png"), "", "")
		return err
	}
	out, err := os.Create(m.OutputFilename)
	if err != nil {
		return err
	}
	switch m.Format {
	case "mermaid":
		err = tools.Mermaid(def, out, nil, "", "")
	case "dot":
		err = tools.Dot(def, out, "", "")
	default:
		err = fmt.Errorf("unknown format %q", m.Format)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *Grapher) Doc() string {
	return "Writes a graph of the workflow (dot, mermaid, or png)."
}

func (m *Grapher) Flags() *flag.FlagSet {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	fs.StringVar(&m.OutputFilename, "o", "workflow.dot", "output filename")
	fs.StringVar(&m.Format, "f", "dot", "dot, mermaid, or png")
	return fs
}

type Renderer struct {
	OutputFilename string
	Graph          bool
}

func (m *Renderer) F(f *workflows.File) error {
	def, err := definition(f)
	if err != nil {
		return err
	}
	out, err := os.Create(m.OutputFilename)
	if err != nil {
		return err
	}
	err = tools.RenderPage(def, out, nil, m.Graph)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *Renderer) Doc() string {
	return "Writes an HTML page documenting the workflow."
}

func (m *Renderer) Flags() *flag.FlagSet {
	fs := flag.NewFlagSet("html", flag.ContinueOnError)
	fs.StringVar(&m.OutputFilename, "o", "workflow.html", "output filename")
	fs.BoolVar(&m.Graph, "g", true, "include a graph")
	return fs
}
