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

// Package core provides the core gear for durable, clock-driven
// workflows.
//
// A workflow is a set of named events (think states) and named
// actions.  An event can have a guard action (BeforeTransition) that
// must succeed before the event can be entered, a lifetime
// (Expires), a next event (Transition), and an action to run once
// the event has been entered (OnTransition).  A Definition holds a
// workflow's events and actions along with the name of the initial
// event.  Use a Builder to make one.
//
// Where an entity is in a workflow is a Specification: the name of
// the current event, when the entity entered it, and some
// bookkeeping.  Specifications don't live in memory.  An Adapter
// reads and writes them to an attribute of the entity in some
// external EntityStore.
//
// The Engine is the runtime.  Engine.Transition reads an entity's
// Specification, checks whether its event has expired, runs guards
// and actions, and writes the new Specification.  The Engine doesn't
// schedule anything.  Something else (a supervisor, a cron job, a
// webhook) calls Transition when it likes, and the Engine does
// whatever the clock allows.
//
// To use this package, make a Definition, an Adapter for your
// store, and an Engine.  Then call Transition.
package core
