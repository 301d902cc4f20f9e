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

package core

import (
	"encoding/json"
	"fmt"
)

const (
	// AttemptsKey is the reserved Extras key for failed guarded
	// transitions.
	AttemptsKey = "attempts"

	// LogKey is the reserved Extras key for fire-in-place action
	// results.
	LogKey = "log"
)

// Extras is the open bag of auxiliary bookkeeping that travels with a
// Specification.
type Extras map[string]interface{}

// Copy makes a shallow copy.  Reserved lists are copied so that
// appending to the copy doesn't disturb the original.
func (x Extras) Copy() Extras {
	acc := make(Extras, len(x))
	for k, v := range x {
		if vs, is := v.([]interface{}); is {
			cp := make([]interface{}, len(vs))
			copy(cp, vs)
			v = cp
		}
		acc[k] = v
	}
	return acc
}

// Specification represents what state an entity is in and since
// when.
//
// A Specification is a value.  Operations that "change" one return a
// new Specification.
type Specification struct {
	// Name is the name of the current event.  The empty string
	// means the entity hasn't entered the workflow yet.
	Name string `json:"name"`

	// Description is for humans.
	Description string `json:"description"`

	// Timestamp is when this event was entered (Unix seconds,
	// UTC).
	Timestamp int64 `json:"timestamp"`

	Extras Extras `json:"extras,omitempty"`
}

// NewSpecification makes a Specification.  The given extras are
// copied.
func NewSpecification(name, description string, timestamp int64, extras Extras) Specification {
	s := Specification{
		Name:        name,
		Description: description,
		Timestamp:   timestamp,
	}
	if 0 < len(extras) {
		s.Extras = extras.Copy()
	}
	return s
}

// Empty reports whether this Specification is the "uninitialized"
// sentinel.
//
// Name and Description are defined jointly: a Specification with
// only one of them set is still considered defined.
func (s Specification) Empty() bool {
	return s.Name == "" && s.Description == ""
}

// Defined is !Empty().
func (s Specification) Defined() bool {
	return !s.Empty()
}

// Merge returns a copy of s whose Extras are other's Extras
// overlaid with s's Extras.  Keys in s win.
func (s Specification) Merge(other Specification) Specification {
	acc := make(Extras, len(s.Extras)+len(other.Extras))
	for k, v := range other.Extras.Copy() {
		acc[k] = v
	}
	for k, v := range s.Extras.Copy() {
		acc[k] = v
	}
	merged := s
	merged.Extras = nil
	if 0 < len(acc) {
		merged.Extras = acc
	}
	return merged
}

// Equal compares Name and Timestamp only.  Two Specifications
// recorded at the same moment in the same state are the same
// regardless of their Description or Extras.
func (s Specification) Equal(other Specification) bool {
	return s.Name == other.Name && s.Timestamp == other.Timestamp
}

func (s Specification) String() string {
	if s.Empty() {
		return "<empty>"
	}
	return fmt.Sprintf("%s@%d", s.Name, s.Timestamp)
}

// ToJSON renders the wire representation.
func (s Specification) ToJSON() (string, error) {
	js, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(js), nil
}

// FromJSON parses the wire representation.
func FromJSON(js string) (Specification, error) {
	var s Specification
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return Specification{}, err
	}
	if len(s.Extras) == 0 {
		s.Extras = nil
	}
	return s, nil
}

// Attempt records a failed guarded transition.
type Attempt struct {
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
}

// LogEntry records a fire-in-place action.
type LogEntry struct {
	Count     int         `json:"count"`
	Timestamp int64       `json:"timestamp"`
	Name      string      `json:"name"`
	Result    interface{} `json:"result"`
}

// Attempts decodes the "attempts" extra.  Junk is ignored.
func (s Specification) Attempts() []Attempt {
	var acc []Attempt
	decodeExtra(s.Extras, AttemptsKey, &acc)
	return acc
}

// Log decodes the "log" extra.  Junk is ignored.
func (s Specification) Log() []LogEntry {
	var acc []LogEntry
	decodeExtra(s.Extras, LogKey, &acc)
	return acc
}

func decodeExtra(x Extras, key string, dst interface{}) {
	v, have := x[key]
	if !have {
		return
	}
	js, err := json.Marshal(v)
	if err != nil {
		return
	}
	json.Unmarshal(js, dst)
}

// records returns the reserved list at key.  Lists that came from
// JSON are []interface{}; anything else is replaced.
func (x Extras) records(key string) []interface{} {
	switch vv := x[key].(type) {
	case []interface{}:
		return vv
	case nil:
		return nil
	default:
		// Normalize typed lists (say []map[string]interface{}).
		js, err := json.Marshal(vv)
		if err != nil {
			return nil
		}
		var acc []interface{}
		if err = json.Unmarshal(js, &acc); err != nil {
			return nil
		}
		return acc
	}
}

// withRecord returns a copy of s with the given record appended to
// the list at key.  The record's "count" is the new list length.
func (s Specification) withRecord(key string, record map[string]interface{}) Specification {
	x := s.Extras.Copy()
	rs := x.records(key)
	record["count"] = len(rs) + 1
	x[key] = append(rs, record)
	s.Extras = x
	return s
}

// WithAttempt appends an "attempts" record for the named event.
func (s Specification) WithAttempt(name string, now int64) Specification {
	return s.withRecord(AttemptsKey, map[string]interface{}{
		"timestamp": now,
		"name":      name,
	})
}

// WithLog appends a "log" record for the named event.
func (s Specification) WithLog(name string, now int64, result interface{}) Specification {
	return s.withRecord(LogKey, map[string]interface{}{
		"timestamp": now,
		"name":      name,
		"result":    result,
	})
}
