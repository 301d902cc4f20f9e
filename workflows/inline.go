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

package workflows

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
)

var inlinePattern = regexp.MustCompile(`(?s)(.*?)(%inline *\("([^"]*)"\))`)

// Inline replaces '%inline("NAME")' with f(NAME).
//
// Lines after the first in a replacement get the indentation of the
// line with the directive, so a directive in a YAML block scalar
// inlines a whole file.
func Inline(bs []byte, f func(string) ([]byte, error)) ([]byte, error) {
	i := 0
	acc := make([]byte, 0, len(bs))
	for {
		part := inlinePattern.FindSubmatch(bs[i:])
		if part == nil {
			acc = append(acc, bs[i:]...)
			break
		}
		i += len(part[0])
		acc = append(acc, part[1]...)
		replacement, err := f(string(part[3]))
		if err != nil {
			return nil, err
		}
		replacement = bytes.TrimRight(replacement, "\n")
		if indent := indentation(acc); 0 < len(indent) {
			replacement = bytes.Replace(replacement, []byte("\n"), append([]byte("\n"), indent...), -1)
		}
		acc = append(acc, replacement...)
	}

	return acc, nil
}

// indentation returns the leading whitespace of the last line in bs.
func indentation(bs []byte) []byte {
	line := bs[bytes.LastIndexByte(bs, '\n')+1:]
	n := 0
	for n < len(line) && (line[n] == ' ' || line[n] == '\t') {
		n++
	}
	return line[:n]
}

// ReadFileWithInlines is os.ReadFile plus Inline.  Names are
// relative to the file's directory.
func ReadFileWithInlines(filename string) ([]byte, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filename)
	return Inline(bs, func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	})
}
