package core

import (
	"context"
	"errors"
	"fmt"
)

// Entity is what an EntityStore returns: a record with a stable tag
// and some string attributes.
type Entity struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attribute returns the named attribute.
func (e *Entity) Attribute(key string) (string, bool) {
	if e == nil || e.Attributes == nil {
		return "", false
	}
	v, have := e.Attributes[key]
	return v, have
}

// EntityStore is the external record store.  The store owns the
// entity records; the Engine only reads and writes one attribute per
// workflow.
type EntityStore interface {
	// Get returns ErrNotFound (possibly wrapped) when there's no
	// such entity.
	Get(ctx context.Context, id string) (*Entity, error)

	SetAttribute(ctx context.Context, id, key, value string) (bool, error)

	DeleteAttribute(ctx context.Context, id, key string) (bool, error)
}

// Adapter moves Specifications between the Engine and an external
// store.
//
// Store and Remove return a non-empty pending string when the write
// was deferred: the string is a self-contained command that will do
// the write later.
type Adapter interface {
	// Load returns the raw serialized Specification (if any).
	Load(ctx context.Context, entity string) (js string, found bool, err error)

	Store(ctx context.Context, entity string, spec Specification) (pending string, err error)

	Remove(ctx context.Context, entity string) (pending string, err error)
}

// AttributeAdapter is the default Adapter.  It writes the JSON
// representation synchronously to an entity attribute.
type AttributeAdapter struct {
	Entities EntityStore

	// Key is the attribute name.  See Definition.AttributeKey.
	Key string
}

// NewAttributeAdapter makes an AttributeAdapter for the given
// workflow.
func NewAttributeAdapter(store EntityStore, def *Definition) *AttributeAdapter {
	return &AttributeAdapter{
		Entities: store,
		Key:      def.AttributeKey(),
	}
}

// Load implements Adapter.  A missing entity is not an error.
func (a *AttributeAdapter) Load(ctx context.Context, entity string) (string, bool, error) {
	return LoadAttribute(ctx, a.Entities, entity, a.Key)
}

// LoadAttribute is the shared Load for Adapters that read through an
// EntityStore.
func LoadAttribute(ctx context.Context, store EntityStore, entity, key string) (string, bool, error) {
	e, err := store.Get(ctx, entity)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	js, have := e.Attribute(key)
	return js, have, nil
}

// Store implements Adapter.
func (a *AttributeAdapter) Store(ctx context.Context, entity string, spec Specification) (string, error) {
	js, err := spec.ToJSON()
	if err != nil {
		return "", err
	}
	ok, err := a.Entities.SetAttribute(ctx, entity, a.Key, js)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("store refused to set %s on %s", a.Key, entity)
	}
	return "", nil
}

// Remove implements Adapter.
func (a *AttributeAdapter) Remove(ctx context.Context, entity string) (string, error) {
	ok, err := a.Entities.DeleteAttribute(ctx, entity, a.Key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("store refused to delete %s on %s", a.Key, entity)
	}
	return "", nil
}
