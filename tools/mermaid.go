/* Copyright 2018 Comcast Cable Communications Management, LLC
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

import (
	"fmt"
	"io"
	"strings"

	"github.com/Comcast/tortoise/core"
)

type MermaidOpts struct {
	// ShowExpires labels each edge with the time an entity waits
	// before taking it.
	ShowExpires bool `json:"showExpires"`

	// ShowActions adds the target's guard and on_transition
	// action names to edge labels.
	ShowActions bool `json:"showActions"`

	// ActionFill is the fill color for events with an
	// on_transition action.
	ActionFill string `json:"actionFill,omitempty"`

	// TerminusFill is the fill color for terminal events.
	TerminusFill string `json:"terminusFill,omitempty"`
}

// DefaultMermaidOpts is what Mermaid uses when given nil options.
var DefaultMermaidOpts = MermaidOpts{
	ShowExpires:  true,
	ShowActions:  true,
	ActionFill:   "#bcf2db",
	TerminusFill: "#52aa5e",
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the given workflow.
func Mermaid(def *core.Definition, w io.Writer, opts *MermaidOpts, fromEvent, toEvent string) error {
	if opts == nil {
		opts = &DefaultMermaidOpts
	}

	fmt.Fprintf(w, "graph TB\n")

	nids := make(map[string]string)
	num := 0
	node := func(name string) string {
		if nid, already := nids[name]; already {
			return nid
		}
		num++
		nid := fmt.Sprintf("n%d", num)
		nids[name] = nid

		ev := def.Event(name)
		switch {
		case ev.Terminus():
			fmt.Fprintf(w, "  %s((\"%s\"))\n", nid, mermaidQuote(name))
			if opts.TerminusFill != "" {
				fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.TerminusFill)
			}
		case ev.OnTransition() != "":
			fmt.Fprintf(w, "  %s[\"%s\"]\n", nid, mermaidQuote(name))
			if opts.ActionFill != "" {
				fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.ActionFill)
			}
		default:
			fmt.Fprintf(w, "  %s(\"%s\")\n", nid, mermaidQuote(name))
		}
		if name == toEvent {
			fmt.Fprintf(w, "  style %s stroke:#f00,stroke-width:3px\n", nid)
		}
		return nid
	}

	for _, name := range order(def) {
		from := node(name)
		ev := def.Event(name)
		to := ev.Transition()
		if to == "" {
			continue
		}
		target := node(to)

		var parts []string
		if opts.ShowExpires {
			parts = append(parts, "after "+expiresString(ev.Expires()))
		}
		if opts.ShowActions {
			t := def.Event(to)
			if guard := t.BeforeTransition(); guard != "" {
				parts = append(parts, "guard "+guard)
			}
			if action := t.OnTransition(); action != "" {
				parts = append(parts, "then "+action)
			}
		}
		arrow := "-->"
		if name == fromEvent && to == toEvent {
			arrow = "==>"
		}
		if len(parts) == 0 {
			fmt.Fprintf(w, "  %s %s %s\n", from, arrow, target)
			continue
		}
		fmt.Fprintf(w, "  %s %s|\"%s\"| %s\n", from, arrow, mermaidQuote(strings.Join(parts, "<br/>")), target)
	}

	fmt.Fprintf(w, "\n")
	return nil
}

func mermaidQuote(s string) string {
	return strings.Replace(s, `"`, "#quot;", -1)
}
