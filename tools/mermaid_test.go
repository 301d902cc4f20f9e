package tools

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Comcast/tortoise/core"
)

func TestMermaid(t *testing.T) {
	def, err := core.ExampleDefinition()
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Mermaid(def, &out, nil, "middle", "done"); err != nil {
		t.Fatal(err)
	}
	s := out.String()

	for _, want := range []string{
		"graph TB\n",
		`  n1("start")`,
		`  n1 -->|"after 0s"| n2`,
		`  n2 ==>|"after 1h"| n3`,
		`  n3(("done"))`,
		"  style n3 stroke:#f00",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in\n%s", want, s)
		}
	}
}

func TestMermaidQuiet(t *testing.T) {
	def, err := core.ExampleDefinition()
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Mermaid(def, &out, &MermaidOpts{}, "", ""); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "after") {
		t.Fatalf("unexpected label in\n%s", out.String())
	}
	if !strings.Contains(out.String(), "  n1 --> n2\n") {
		t.Fatalf("missing plain edge in\n%s", out.String())
	}
}
