// Package tortoise is the root of a clock-driven workflow engine.
//
// A workflow is a set of named events connected by transitions.  An
// entity sits in one event at a time, and when that event expires
// the entity moves on, perhaps after a guard action agrees.  The
// entity's position is persisted as an attribute in an external
// record store, so nothing needs to run between calls.
//
// The engine is in package 'core'.  Workflows are read from YAML by
// package 'workflows', and 'supervisor' calls the engine when events
// expire.  Commands are in `cmd`.
package tortoise
