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

// Package bolt is a core.EntityStore on a local BoltDB file.
//
// Each entity is a bucket, and each attribute is a key in that
// bucket.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Comcast/tortoise/core"

	bolt "go.etcd.io/bbolt"
)

// Storage is a BoltDB core.EntityStore.
type Storage struct {
	Debug bool

	// AutoCreate means SetAttribute on an unknown entity creates
	// it.
	AutoCreate bool

	Logger *slog.Logger

	filename string
	db       *bolt.DB
}

// NewStorage makes a Storage for the given file.  Call Open before
// using it.
func NewStorage(filename string) (*Storage, error) {
	if filename == "" {
		return nil, errors.New("no filename")
	}
	return &Storage{
		AutoCreate: true,
		Logger:     slog.Default(),
		filename:   filename,
	}, nil
}

// Open opens (and perhaps creates) the database file.
func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.filename, err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) logf(msg string, args ...interface{}) {
	if s.Debug {
		s.Logger.Debug("bolt storage "+msg, args...)
	}
}

// Create makes an entity (if it doesn't already exist).
func (s *Storage) Create(ctx context.Context, id string) error {
	s.logf("Create", "entity", id)
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(id))
		return err
	})
}

// Delete removes an entity entirely.
func (s *Storage) Delete(ctx context.Context, id string) error {
	s.logf("Delete", "entity", id)
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(id))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// List returns the tags of all entities in key order.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	acc := make([]string, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Get implements core.EntityStore.
func (s *Storage) Get(ctx context.Context, id string) (*core.Entity, error) {
	s.logf("Get", "entity", id)
	var e *core.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(id))
		if b == nil {
			return nil
		}
		e = &core.Entity{
			Tag:        id,
			Attributes: make(map[string]string, 8),
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// Copy: v is only valid during the transaction.
			e.Attributes[string(k)] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("entity %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

// SetAttribute implements core.EntityStore.
func (s *Storage) SetAttribute(ctx context.Context, id, key, value string) (bool, error) {
	s.logf("SetAttribute", "entity", id, "key", key)
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(id))
		if b == nil {
			if !s.AutoCreate {
				return nil
			}
			var err error
			if b, err = tx.CreateBucket([]byte(id)); err != nil {
				return err
			}
		}
		if err := b.Put([]byte(key), []byte(value)); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// DeleteAttribute implements core.EntityStore.
func (s *Storage) DeleteAttribute(ctx context.Context, id, key string) (bool, error) {
	s.logf("DeleteAttribute", "entity", id, "key", key)
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(id))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}
