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

// Command wftool reads a workflow from stdin, maybe changes it or
// reports on it, and writes it to stdout.
//
//	wftool analyze < provision.yaml > /dev/null
//	wftool setExpires -e draining -d "3 hours" < in.yaml > out.yaml
//	wftool yamltojson -p < provision.yaml
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Comcast/tortoise/workflows"

	"github.com/jsccast/yaml"
)

func main() {
	if len(os.Args) < 2 {
		Usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, in io.Reader, out io.Writer) error {
	bs, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	switch cmd {
	case "yamltojson":
		pretty := len(args) == 1 && args[0] == "-p"
		if len(args) != 0 && !pretty {
			return fmt.Errorf("unsupported args: %v", args)
		}
		f, err := workflows.Parse(bs)
		if err != nil {
			return err
		}
		if pretty {
			bs, err = json.MarshalIndent(f, "", "  ")
		} else {
			bs, err = json.Marshal(f)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", bs)
		return err

	case "jsontoyaml":
		var f workflows.File
		if err = json.Unmarshal(bs, &f); err != nil {
			return err
		}
		if bs, err = yaml.Marshal(&f); err != nil {
			return err
		}
		_, err = out.Write(bs)
		return err
	}

	mod, have := Mods[cmd]
	if !have {
		Usage(os.Stderr)
		return fmt.Errorf("unknown subcommand %q", cmd)
	}
	if err = mod.Flags().Parse(args); err != nil {
		return err
	}
	f, err := workflows.Parse(bs)
	if err != nil {
		return err
	}
	if err = mod.F(f); err != nil {
		return err
	}
	if bs, err = yaml.Marshal(f); err != nil {
		return err
	}
	_, err = out.Write(bs)
	return err
}

func Usage(w io.Writer) {
	fmt.Fprintf(w, "Subcommands:\n\n")
	names := make([]string, 0, len(Mods))
	for name := range Mods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mod := Mods[name]
		fs := mod.Flags()
		fs.SetOutput(w)
		fs.Usage()
		fmt.Fprintln(w, "  "+mod.Doc())
	}
	fmt.Fprintf(w, "Usage of yamltojson:\n  -p    pretty-print\n\n")
	fmt.Fprintf(w, "Usage of jsontoyaml: (no arguments)\n\n")
}
