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

// Package main is a command-line workflow debugger in the spirit of
// gdb.
//
// Entities live in memory.  The clock is under your control, so you
// can walk an entity through a workflow that takes days in a few
// keystrokes.  Type "help" for the commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Comcast/tortoise/logging"
)

type Opts struct {
	workflow string
	state    string
	echo     bool
	level    string
}

func main() {
	opts := &Opts{}
	flag.StringVar(&opts.workflow, "w", "", "workflow file to load")
	flag.StringVar(&opts.state, "s", "", "optional entity state file to open")
	flag.BoolVar(&opts.echo, "e", false, "echo input")
	flag.StringVar(&opts.level, "l", "warn", "log level")
	flag.Parse()

	if err := opts.run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func (opts *Opts) run(in io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, closer := logging.Setup("tortoise", "", logging.Options{Level: opts.level})
	defer closer.Close()

	h := NewHost(w)
	h.Logger = logger

	if opts.state != "" {
		if err := h.Do(ctx, "open "+opts.state); err != nil {
			return err
		}
	}
	if opts.workflow != "" {
		if err := h.Do(ctx, "load "+opts.workflow); err != nil {
			return err
		}
	}

	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		line = strings.TrimSpace(line)
		if opts.echo && line != "" {
			fmt.Fprintln(w, line)
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			if derr := h.Do(ctx, line); derr != nil {
				h.protest("%s", derr)
			}
		}
		if err == io.EOF || h.quit {
			return nil
		}
	}
}
