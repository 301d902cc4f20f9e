package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Comcast/tortoise/core"
)

// Dir holds the workflows read from the YAML files in a directory.
//
// Each workflow is a core.UpdatableDefinition, so an Engine made
// with one sees the new Definition after Read runs again.
type Dir struct {
	sync.RWMutex

	Loader *Loader
	Path   string

	defs map[string]*core.UpdatableDefinition
}

// NewDir makes a Dir.  Call Read to load it.
func NewDir(loader *Loader, path string) *Dir {
	return &Dir{
		Loader: loader,
		Path:   path,
		defs:   make(map[string]*core.UpdatableDefinition, 8),
	}
}

// Find returns the named workflow.
func (d *Dir) Find(name string) (*core.UpdatableDefinition, error) {
	d.RLock()
	def, have := d.defs[name]
	d.RUnlock()
	if !have {
		return nil, fmt.Errorf(`couldn't find workflow named "%s"`, name)
	}
	return def, nil
}

// Names returns the workflow names in order.
func (d *Dir) Names() []string {
	d.RLock()
	acc := make([]string, 0, len(d.defs))
	for name := range d.defs {
		acc = append(acc, name)
	}
	d.RUnlock()
	sort.Strings(acc)
	return acc
}

// Read loads every .yaml (or .yml) file in the directory.
//
// Nothing changes if any file fails to load.  Existing workflows are
// updated in place.  Workflows whose files have gone away are kept.
func (d *Dir) Read(ctx context.Context) error {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return err
	}

	loaded := make(map[string]*core.Definition, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		def, err := d.Loader.LoadFile(ctx, filepath.Join(d.Path, name))
		if err != nil {
			return err
		}
		if _, have := loaded[def.Name()]; have {
			return fmt.Errorf("workflow %q defined twice in %s", def.Name(), d.Path)
		}
		loaded[def.Name()] = def
	}

	d.Lock()
	defer d.Unlock()
	for name, def := range loaded {
		if u, have := d.defs[name]; have {
			u.SetDefinition(def)
		} else {
			d.defs[name] = core.NewUpdatableDefinition(def)
		}
	}
	if d.Loader.Logger != nil {
		d.Loader.Logger.Info("read workflows", "dir", d.Path, "count", len(loaded))
	}
	return nil
}
