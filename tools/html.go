package tools

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/interpreters"
	"github.com/Comcast/tortoise/workflows"

	md "github.com/russross/blackfriday/v2"
	"gopkg.in/yaml.v2"
)

// RenderHTML writes an HTML fragment describing the workflow.  The
// workflow doc and event descriptions are rendered as Markdown.
func RenderHTML(def *core.Definition, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="workflowDoc doc">%s</div>`, md.Run([]byte(def.Doc())))

	f(`<div class="events"><table>`)
	for _, name := range order(def) {
		ev := def.Event(name)
		id := html.EscapeString(name)
		f(`<tr class="event"><td><span id="%s" class="eventName">%s</span></td><td>`, id, id)
		f(`<div class="eventDoc doc">%s</div>`, md.Run([]byte(ev.Description())))
		f(`<table>`)
		if n := ev.Expires(); 0 < n {
			f(`<tr><td>expires</td><td>%s</td></tr>`, expiresString(n))
		}
		if guard := ev.BeforeTransition(); guard != "" {
			f(`<tr><td>guard</td><td><a href="#action-%s"><code>%s</code></a></td></tr>`,
				html.EscapeString(guard), html.EscapeString(guard))
		}
		if action := ev.OnTransition(); action != "" {
			f(`<tr><td>on transition</td><td><a href="#action-%s"><code>%s</code></a></td></tr>`,
				html.EscapeString(action), html.EscapeString(action))
		}
		if to := ev.Transition(); to != "" {
			f(`<tr><td>transition</td><td><a href="#%s"><code>%s</code></a></td></tr>`,
				html.EscapeString(to), html.EscapeString(to))
		}
		if ev.Terminus() {
			f(`<tr><td colspan="2" class="terminus">terminus</td></tr>`)
		}
		f(`</table>`)
		f(`</td></tr>`)
	}
	f(`</table></div>`)

	if actions := def.Actions(); 0 < len(actions) {
		f(`<div class="actions"><table>`)
		for _, name := range actions {
			a := def.Action(name)
			id := html.EscapeString(name)
			f(`<tr class="action"><td><span id="action-%s" class="actionName">%s</span></td><td>`, id, id)
			if 0 < len(a.Options) {
				bs, err := yaml.Marshal(map[string]interface{}(a.Options))
				if err != nil {
					return err
				}
				f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(string(bs)))
			}
			f(`</td></tr>`)
		}
		f(`</table></div>`)
	}

	return nil
}

// RenderPage writes a complete HTML page for the workflow.  If
// includeGraph is true, the page includes a Mermaid diagram.
func RenderPage(def *core.Definition, out io.Writer, cssFiles []string, includeGraph bool) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/workflow.css"}
	}

	title := html.EscapeString(def.Name())
	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, title)

	if includeGraph {
		fmt.Fprintf(out, `  <script src="https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.min.js"></script>
  <script>mermaid.initialize({startOnLoad:true});</script>
`)
	}

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, title)

	if includeGraph {
		fmt.Fprintf(out, `<div class="mermaid">`+"\n")
		if err := Mermaid(def, out, nil, "", ""); err != nil {
			return err
		}
		fmt.Fprintf(out, "</div>\n")
	}

	if err := RenderHTML(def, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}

// ReadAndRenderPage loads a workflow file and renders it with
// RenderPage.  Action code is not compiled, so a workflow whose code
// doesn't compile still renders.
func ReadAndRenderPage(ctx context.Context, filename string, cssFiles []string, out io.Writer, includeGraph bool) error {
	loader := workflows.NewLoader()
	loader.Interpreters = interpreters.Noop()
	loader.Validate = false

	def, err := loader.LoadFile(ctx, filename)
	if err != nil {
		return err
	}

	return RenderPage(def, out, cssFiles, includeGraph)
}
