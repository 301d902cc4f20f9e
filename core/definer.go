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
	"sync/atomic"
)

// Definer enables other things to manifest themselves as
// Definitions.
//
// A Definition is itself a Definer.  An UpdatableDefinition is also
// a Definer, but it's not itself a Definition.
type Definer interface {
	Definition() *Definition
}

// UpdatableDefinition is a Definer with an underlying Definition that
// can be changed at any time.  The service uses one to reload
// workflow files without restarting.
//
// An Engine asks its Definer for the Definition once per call, so a
// swap never changes the rules in the middle of a Transition.
type UpdatableDefinition struct {
	def atomic.Pointer[Definition]
}

// NewUpdatableDefinition makes one with the given initial
// definition, which can be changed later via SetDefinition.
func NewUpdatableDefinition(def *Definition) *UpdatableDefinition {
	u := &UpdatableDefinition{}
	u.def.Store(def)
	return u
}

// SetDefinition atomically changes the underlying definition.
func (u *UpdatableDefinition) SetDefinition(def *Definition) {
	u.def.Store(def)
}

// Definition implements the Definer interface.
func (u *UpdatableDefinition) Definition() *Definition {
	return u.def.Load()
}
