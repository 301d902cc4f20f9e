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

// Package testutil has small helpers for tests.
package testutil

import (
	"sync"
	"time"

	"github.com/Comcast/tortoise/core"
)

// Clock is a settable clock for Engines under test.
type Clock struct {
	sync.Mutex
	secs int64
}

// NewClock makes a Clock that reads the given Unix time.
func NewClock(secs int64) *Clock {
	return &Clock{secs: secs}
}

// Now is the clock's time.
func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return time.Unix(c.secs, 0)
}

// Advance moves the clock forward.
func (c *Clock) Advance(secs int64) {
	c.Lock()
	c.secs += secs
	c.Unlock()
}

// Set sets the clock.
func (c *Clock) Set(secs int64) {
	c.Lock()
	c.secs = secs
	c.Unlock()
}

// Option makes an Engine use this clock.
func (c *Clock) Option() core.EngineOption {
	return core.WithClock(c.Now)
}
