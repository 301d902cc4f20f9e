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

// Package memory is an in-process core.EntityStore.
//
// The store can be written to and read from a JSON file.  Not
// glamorous or efficient, but handy for demos, tests, and the CLI.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/Comcast/tortoise/core"
)

// Store is an in-memory core.EntityStore.
type Store struct {
	// AutoCreate means SetAttribute on an unknown entity creates
	// it.  Otherwise SetAttribute on an unknown entity returns
	// false, which is what a real record store does.
	AutoCreate bool

	// Filename, if not empty, is where Save writes the state and
	// where Open reads it.
	Filename string

	Logger *slog.Logger

	sync.RWMutex
	entities map[string]map[string]string
}

// NewStore makes an empty Store.
func NewStore() *Store {
	return &Store{
		AutoCreate: true,
		Logger:     slog.Default(),
		entities:   make(map[string]map[string]string),
	}
}

// Open reads s.Filename (if set and present).
func (s *Store) Open(ctx context.Context) error {
	if s.Filename == "" {
		return nil
	}
	js, err := os.ReadFile(s.Filename)
	if os.IsNotExist(err) {
		s.Logger.Info("no state file", "filename", s.Filename)
		return nil
	}
	if err != nil {
		return err
	}
	state := make(map[string]map[string]string)
	if err = json.Unmarshal(js, &state); err != nil {
		return fmt.Errorf("parsing %s: %w", s.Filename, err)
	}
	// A snapshot of null, or an entity whose attributes are null,
	// still has to take writes.
	if state == nil {
		state = make(map[string]map[string]string)
	}
	for id, attrs := range state {
		if attrs == nil {
			state[id] = make(map[string]string)
		}
	}
	s.Lock()
	s.entities = state
	s.Unlock()
	s.Logger.Info("loaded state", "filename", s.Filename, "entities", len(state))
	return nil
}

// Save writes the entire state as JSON to s.Filename (if set).
func (s *Store) Save(ctx context.Context) error {
	if s.Filename == "" {
		return nil
	}
	s.RLock()
	js, err := json.MarshalIndent(&s.entities, "", "  ")
	s.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(s.Filename, js, 0644)
}

// Close saves the state.
func (s *Store) Close(ctx context.Context) error {
	return s.Save(ctx)
}

// Create makes an entity (if it doesn't already exist).
func (s *Store) Create(ctx context.Context, id string) error {
	s.Lock()
	defer s.Unlock()
	if _, have := s.entities[id]; !have {
		s.entities[id] = make(map[string]string)
	}
	return nil
}

// Delete removes an entity entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.Lock()
	delete(s.entities, id)
	s.Unlock()
	return nil
}

// List returns the tags of all entities in order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.RLock()
	acc := make([]string, 0, len(s.entities))
	for id := range s.entities {
		acc = append(acc, id)
	}
	s.RUnlock()
	sort.Strings(acc)
	return acc, nil
}

// Get implements core.EntityStore.
func (s *Store) Get(ctx context.Context, id string) (*core.Entity, error) {
	s.RLock()
	defer s.RUnlock()
	attrs, have := s.entities[id]
	if !have {
		return nil, fmt.Errorf("entity %s: %w", id, core.ErrNotFound)
	}
	e := &core.Entity{
		Tag:        id,
		Attributes: make(map[string]string, len(attrs)),
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	return e, nil
}

// SetAttribute implements core.EntityStore.
func (s *Store) SetAttribute(ctx context.Context, id, key, value string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	attrs, have := s.entities[id]
	if !have {
		if !s.AutoCreate {
			return false, nil
		}
		attrs = make(map[string]string)
		s.entities[id] = attrs
	}
	attrs[key] = value
	return true, nil
}

// DeleteAttribute implements core.EntityStore.  Deleting an
// attribute that isn't there is fine, but the entity must exist.
func (s *Store) DeleteAttribute(ctx context.Context, id, key string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	attrs, have := s.entities[id]
	if !have {
		return false, nil
	}
	delete(attrs, key)
	return true, nil
}
