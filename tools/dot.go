/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

package tools

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/Comcast/tortoise/core"

	"gopkg.in/yaml.v2"
)

// Dot writes a Graphviz dot file for the given workflow.
//
// The optional fromEvent and toEvent can be names of events during a
// transition.  If given, the edge between them is red, and toEvent
// is filled red.
func Dot(def *core.Definition, w io.Writer, fromEvent, toEvent string) error {
	fmt.Fprintf(w, "digraph G {\n")
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
  edge [fontsize = "12"]
`)

	for _, name := range order(def) {
		ev := def.Event(name)

		label := name
		if doc := ev.Description(); doc != "" {
			if 40 < len(doc) {
				if period := strings.Index(doc, ". "); 0 < period {
					doc = doc[0 : period+1]
				}
			}
			label += "<BR/><FONT POINT-SIZE='8'>" + htmlEscape(doc) + "</FONT>"
		}
		if n := ev.Expires(); 0 < n {
			label += "<BR/><FONT POINT-SIZE='8'>expires " + expiresString(n) + "</FONT>"
		}
		if extra := extraOptions(ev.Options); extra != nil {
			bs, err := yaml.Marshal(extra)
			if err != nil {
				bs = []byte(err.Error())
			}
			label += `<FONT POINT-SIZE="6"><BR/>` +
				strings.Replace(htmlEscape(string(bs)), "\n", `<BR ALIGN="LEFT"/>`, -1) +
				`</FONT>`
		}

		var (
			color     = "black"
			fillcolor = "#99ddc8"
			shape     = "record"
			style     = "filled"
		)
		if ev.Terminus() {
			fillcolor = "#52aa5e"
			shape = "doubleoctagon"
		}
		if ev.OnTransition() != "" {
			shape = "note"
		}
		if toEvent == name {
			color = "red"
			fillcolor = "#f98b8b"
		}
		if name == def.Initial() {
			style += ",bold"
		}
		if ev.Transition() == "" && !ev.Terminus() {
			style += ",dashed"
		}
		fmt.Fprintf(w, "  %s [shape=\"%s\", style=\"%s\", color=\"%s\", fillcolor=\"%s\", label=<%s> ]\n",
			dotID(name), shape, style, color, fillcolor, label)
	}

	for _, name := range order(def) {
		ev := def.Event(name)
		to := ev.Transition()
		if to == "" {
			continue
		}
		label := "after " + expiresString(ev.Expires())
		if target := def.Event(to); !target.IsNone() {
			if guard := target.BeforeTransition(); guard != "" {
				label += `<BR ALIGN="LEFT"/><FONT COLOR="#2d93ad">guard</FONT> ` + htmlEscape(guard)
			}
			if action := target.OnTransition(); action != "" {
				label += `<BR ALIGN="LEFT"/><FONT COLOR="#52aa5e">then</FONT> ` + htmlEscape(action)
			}
		}
		color := "black"
		if fromEvent == name && toEvent == to {
			color = "red"
		}
		fmt.Fprintf(w, "  %s -> %s [ color=\"%s\" label = <%s> ]\n",
			dotID(name), dotID(to), color, label)
	}

	fmt.Fprintf(w, "}\n")
	return nil
}

// PNG generates a PNG image based on output from Dot.
//
// This function with write two files: basename.dot and basename.png,
// where the basename is the given string.  Requires Graphviz's dot.
func PNG(def *core.Definition, basename string, fromEvent, toEvent string) (string, error) {
	dotname := basename + ".dot"
	pngname := basename + ".png"

	dotfile, err := os.Create(dotname)
	if err != nil {
		return pngname, err
	}
	if err := Dot(def, dotfile, fromEvent, toEvent); err != nil {
		dotfile.Close()
		return pngname, err
	}
	if err := dotfile.Close(); err != nil {
		return pngname, err
	}
	out, err := os.Create(pngname)
	if err != nil {
		return pngname, err
	}
	defer out.Close()
	cmd := exec.Command("dot", "-Tpng", "-Gstart=1", dotname)
	cmd.Stdout = out
	if err := cmd.Run(); err != nil {
		return pngname, err
	}
	return pngname, nil
}

// order returns the event names with the initial event first and
// then the rest in the order a transition walk visits them, followed
// by anything left over.
func order(def *core.Definition) []string {
	names := def.Events()
	seen := make(map[string]bool, len(names))
	acc := make([]string, 0, len(names))
	for at := def.Initial(); at != "" && !seen[at] && !def.Event(at).IsNone(); at = def.Event(at).Transition() {
		seen[at] = true
		acc = append(acc, at)
	}
	for _, name := range names {
		if !seen[name] {
			acc = append(acc, name)
		}
	}
	return acc
}

// extraOptions returns the event options that aren't rendered some
// other way.
func extraOptions(opts core.Options) map[string]interface{} {
	var acc map[string]interface{}
	for _, k := range opts.Keys() {
		switch k {
		case core.OptDesc, core.OptDescription, core.OptExpires, core.OptTransition,
			core.OptBeforeTransition, core.OptOnTransition, core.OptTerminus:
			continue
		}
		if acc == nil {
			acc = make(map[string]interface{})
		}
		acc[k] = opts[k]
	}
	return acc
}

func expiresString(secs int64) string {
	switch {
	case secs == 0:
		return "0s"
	case secs%86400 == 0:
		return fmt.Sprintf("%dd", secs/86400)
	case secs%3600 == 0:
		return fmt.Sprintf("%dh", secs/3600)
	case secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	}
	return fmt.Sprintf("%ds", secs)
}

func dotID(s string) string {
	return `"` + strings.Replace(s, `"`, `\"`, -1) + `"`
}

func htmlEscape(s string) string {
	s = strings.Replace(s, "&", "&amp;", -1)
	s = strings.Replace(s, "<", "&lt;", -1)
	s = strings.Replace(s, ">", "&gt;", -1)
	return s
}
