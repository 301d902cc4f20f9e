package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/store/memory"
	"github.com/Comcast/tortoise/tools"
	"github.com/Comcast/tortoise/workflows"
)

var (
	id = `([-a-zA-Z0-9_.:]+)`

	cmdHelp       = regexp.MustCompile(`^(help|h|\?)$`)
	cmdQuit       = regexp.MustCompile(`^(quit|exit)$`)
	cmdLoad       = regexp.MustCompile(`^load +(.+)$`)
	cmdReload     = regexp.MustCompile(`^reload$`)
	cmdOpen       = regexp.MustCompile(`^open +(.+)$`)
	cmdSave       = regexp.MustCompile(`^save( +(.+))?$`)
	cmdTransition = regexp.MustCompile(`^(transition|t|step) +` + id + `( +quiet)?$`)
	cmdInvoke     = regexp.MustCompile(`^invoke +` + id + ` +` + id + `( +quiet)?$`)
	cmdPrint      = regexp.MustCompile(`^print( +` + id + `)?$`)
	cmdSet        = regexp.MustCompile(`^set +` + id + ` +(\{.*)$`)
	cmdReset      = regexp.MustCompile(`^(reset|rem|del) +` + id + `$`)
	cmdPlan       = regexp.MustCompile(`^plan +` + id + `$`)
	cmdFinished   = regexp.MustCompile(`^finished +` + id + `$`)
	cmdIn         = regexp.MustCompile(`^in +` + id + ` +` + id + `$`)
	cmdClock      = regexp.MustCompile(`^clock( +set +(-?[0-9]+))?$`)
	cmdAdvance    = regexp.MustCompile(`^advance +(.+)$`)
	cmdAnalyze    = regexp.MustCompile(`^analy[sz]e$`)
	cmdDot        = regexp.MustCompile(`^dot +(.+)$`)
	cmdMermaid    = regexp.MustCompile(`^mermaid$`)
	cmdHTML       = regexp.MustCompile(`^html +(.+)$`)
	cmdDebug      = regexp.MustCompile(`^debug(ging)? +(on|off)$`)
)

const outputPrefix = "# "

// Host holds the debugger's state.
type Host struct {
	Loader *workflows.Loader
	Store  *memory.Store
	Logger *slog.Logger

	// Now is the real clock.  The debugger's clock is Now plus an
	// offset.
	Now func() time.Time

	w         io.Writer
	def       *core.Definition
	filename  string
	offset    int64
	debugging bool
	quit      bool
}

func NewHost(w io.Writer) *Host {
	return &Host{
		Loader: workflows.NewLoader(),
		Store:  memory.NewStore(),
		Logger: slog.Default(),
		Now:    time.Now,
		w:      w,
	}
}

func (h *Host) say(format string, args ...interface{}) {
	fmt.Fprintf(h.w, outputPrefix+format+"\n", args...)
}

func (h *Host) protest(format string, args ...interface{}) {
	h.say("error: "+format, args...)
}

func (h *Host) clock() time.Time {
	return h.Now().Add(time.Duration(h.offset) * time.Second)
}

func (h *Host) engine() (*core.Engine, error) {
	if h.def == nil {
		return nil, errors.New("no workflow loaded (try 'load FILENAME')")
	}
	return core.NewEngine(h.def, core.NewAttributeAdapter(h.Store, h.def),
		core.WithClock(h.clock),
		core.WithLogger(h.Logger)), nil
}

// Do executes one command.
func (h *Host) Do(ctx context.Context, line string) error {
	var ss []string
	line = strings.TrimSpace(line)

	if ss = cmdReload.FindStringSubmatch(line); ss != nil {
		if h.filename == "" {
			return errors.New("nothing to reload")
		}
		line = "load " + h.filename
		// Fall through!
	}

	switch {
	case cmdHelp.MatchString(line):
		for _, s := range strings.Split(strings.TrimSpace(doc()), "\n") {
			h.say("%s", s)
		}
		return nil

	case cmdQuit.MatchString(line):
		h.quit = true
		return nil
	}

	if ss = cmdLoad.FindStringSubmatch(line); ss != nil {
		def, err := h.Loader.LoadFile(ctx, ss[1])
		if err != nil {
			return err
		}
		h.def, h.filename = def, ss[1]
		h.say("workflow %s: %d events, %d actions, key %s",
			def.Name(), len(def.Events()), len(def.Actions()), def.AttributeKey())
		return nil
	}

	if ss = cmdOpen.FindStringSubmatch(line); ss != nil {
		h.Store.Filename = ss[1]
		if err := h.Store.Open(ctx); err != nil {
			return err
		}
		ids, err := h.Store.List(ctx)
		if err != nil {
			return err
		}
		h.say("store has %d entities", len(ids))
		return nil
	}

	if ss = cmdSave.FindStringSubmatch(line); ss != nil {
		if ss[2] != "" {
			h.Store.Filename = ss[2]
		}
		if h.Store.Filename == "" {
			return errors.New("no filename")
		}
		if err := h.Store.Save(ctx); err != nil {
			return err
		}
		h.say("saved %s", h.Store.Filename)
		return nil
	}

	if ss = cmdClock.FindStringSubmatch(line); ss != nil {
		if ss[2] != "" {
			n, err := strconv.ParseInt(ss[2], 10, 64)
			if err != nil {
				return err
			}
			h.offset = n - h.Now().Unix()
		}
		h.say("clock %d (%s)", h.clock().Unix(), core.Timestamp(h.clock().Unix()))
		return nil
	}

	if ss = cmdAdvance.FindStringSubmatch(line); ss != nil {
		n, err := core.ParseDuration(ss[1])
		if err != nil {
			return err
		}
		h.offset += n
		h.say("clock %d (%s)", h.clock().Unix(), core.Timestamp(h.clock().Unix()))
		return nil
	}

	if ss = cmdDebug.FindStringSubmatch(line); ss != nil {
		h.debugging = ss[2] == "on"
		if h.debugging {
			h.say("debugging")
		} else {
			h.say("not debugging")
		}
		return nil
	}

	// Everything else needs a workflow.
	e, err := h.engine()
	if err != nil {
		return err
	}

	if ss = cmdTransition.FindStringSubmatch(line); ss != nil {
		res, err := e.Transition(ctx, ss[2], core.TransitionOptions{Quiet: ss[3] != ""})
		if err != nil {
			return err
		}
		h.render(res)
		return nil
	}

	if ss = cmdInvoke.FindStringSubmatch(line); ss != nil {
		res, err := e.Invoke(ctx, ss[2], ss[1], core.TransitionOptions{Quiet: ss[3] != ""})
		if err != nil {
			return err
		}
		h.render(res)
		return nil
	}

	if ss = cmdPrint.FindStringSubmatch(line); ss != nil {
		ids := []string{ss[2]}
		if ss[2] == "" {
			if ids, err = h.Store.List(ctx); err != nil {
				return err
			}
		}
		for _, entity := range ids {
			spec, err := e.Read(ctx, entity)
			if err != nil {
				return err
			}
			h.say("%s: %s", entity, h.describe(e, spec))
		}
		return nil
	}

	if ss = cmdSet.FindStringSubmatch(line); ss != nil {
		spec, err := core.FromJSON(ss[2])
		if err != nil {
			return err
		}
		js, err := spec.ToJSON()
		if err != nil {
			return err
		}
		ok, err := h.Store.SetAttribute(ctx, ss[1], h.def.AttributeKey(), js)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("couldn't set %s", ss[1])
		}
		h.say("%s: %s", ss[1], h.describe(e, spec))
		return nil
	}

	if ss = cmdReset.FindStringSubmatch(line); ss != nil {
		if _, err := e.Reset(ctx, ss[2]); err != nil {
			return err
		}
		h.say("%s reset", ss[2])
		return nil
	}

	if ss = cmdPlan.FindStringSubmatch(line); ss != nil {
		steps, err := e.Plan(ctx, ss[1])
		if err != nil {
			return err
		}
		for i, step := range steps {
			h.say("%d. %s", i+1, step)
		}
		return nil
	}

	if ss = cmdFinished.FindStringSubmatch(line); ss != nil {
		finished, err := e.Finished(ctx, ss[1])
		if err != nil {
			return err
		}
		h.say("%s finished: %v", ss[1], finished)
		return nil
	}

	if ss = cmdIn.FindStringSubmatch(line); ss != nil {
		in, err := e.IsInState(ctx, ss[1], ss[2])
		if err != nil {
			return err
		}
		h.say("%s in %s: %v", ss[1], ss[2], in)
		return nil
	}

	if ss = cmdAnalyze.FindStringSubmatch(line); ss != nil {
		a := tools.Analyze(h.def)
		js, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return err
		}
		for _, s := range strings.Split(string(js), "\n") {
			h.say("%s", s)
		}
		return nil
	}

	if ss = cmdDot.FindStringSubmatch(line); ss != nil {
		var buf bytes.Buffer
		if err := tools.Dot(h.def, &buf, "", ""); err != nil {
			return err
		}
		if err := os.WriteFile(ss[1], buf.Bytes(), 0644); err != nil {
			return err
		}
		h.say("wrote %s", ss[1])
		return nil
	}

	if ss = cmdMermaid.FindStringSubmatch(line); ss != nil {
		return tools.Mermaid(h.def, h.w, nil, "", "")
	}

	if ss = cmdHTML.FindStringSubmatch(line); ss != nil {
		var buf bytes.Buffer
		if err := tools.RenderPage(h.def, &buf, nil, true); err != nil {
			return err
		}
		if err := os.WriteFile(ss[1], buf.Bytes(), 0644); err != nil {
			return err
		}
		h.say("wrote %s", ss[1])
		return nil
	}

	return fmt.Errorf("unsupported command: %s", line)
}

func (h *Host) describe(e *core.Engine, spec core.Specification) string {
	if spec.Empty() {
		return "not in " + h.def.Name()
	}
	var state string
	switch {
	case !e.Expired(spec):
		left := spec.Timestamp + h.def.Expiry(spec.Name) - e.Now()
		state = fmt.Sprintf("expires in %ds", left)
	default:
		state = "expired"
	}
	return fmt.Sprintf("%s (%s) since %s, %s",
		spec.Name, spec.Description, core.Timestamp(spec.Timestamp), state)
}

func (h *Host) render(res *core.Result) {
	h.say("now %s: %s", res.Spec.Name, res.Spec.Description)
	if res.Pending() {
		h.say("pending %s", res.Command)
	}
	if h.debugging {
		js, _ := json.MarshalIndent(res, "  ", "  ")
		fmt.Fprintln(h.w, string(js))
	}
}

func doc() string {
	return `
  load FILENAME              Load a workflow file
  reload                     Load the last workflow file again
  open FILENAME              Read entities from a JSON file
  save [FILENAME]            Write entities to a JSON file
  transition ID [quiet]      Move the entity along as far as the clock allows
  invoke ID EVENT [quiet]    Force the entity into that event
  print [ID]                 Print the entity's Specification
  set ID JSON                Write the entity's Specification
  reset ID                   Remove the entity's Specification
  plan ID                    Say what transition would do
  finished ID                Report whether the entity is finished
  in ID EVENT                Report whether the entity is in that event
  clock [set UNIXSECS]       Show (or set) the clock
  advance DURATION           Move the clock forward ("90", "2 hours")
  analyze                    Analyze the workflow
  dot FILENAME               Write a Graphviz file for the workflow
  mermaid                    Print a Mermaid diagram for the workflow
  html FILENAME              Write an HTML page for the workflow
  debug on/off               When debugging, show full results
  quit                       Leave
  help                       Show this documentation
`
}
