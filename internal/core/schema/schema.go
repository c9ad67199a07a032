// Package schema is the ComponentSchema registry (spec.md §3): systems
// register a JSON Schema per component type when they register, and any
// process can later ask the coordinator what schema backs a component
// (spec.md §6, SchemaRequest/SchemaResponse).
package schema

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/internal/core/ecsid"
)

// Entry is one registered component schema: its declared name, the
// ComponentTypeID that name hashes to, and the compiled validator.
type Entry struct {
	Name   string
	TypeID ecsid.ComponentTypeID
	Raw    []byte

	compiled *jsonschema.Schema
}

// Registry is the coordinator's live ComponentSchema table: name and
// ComponentTypeID are both unique keys into the same entry.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Entry
	byType  map[ecsid.ComponentTypeID]*Entry
	persist Store
}

// Store is the persistence collaborator a Registry can optionally be
// backed by (store/sqlite.go implements it over modernc.org/sqlite).
type Store interface {
	Save(e Entry) error
	LoadAll() ([]Entry, error)
}

// New builds an empty registry, optionally backed by persist. If persist
// is non-nil its contents are loaded immediately.
func New(persist Store) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*Entry),
		byType:  make(map[ecsid.ComponentTypeID]*Entry),
		persist: persist,
	}
	if persist == nil {
		return r, nil
	}
	entries, err := persist.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load schema registry: %w", err)
	}
	for _, e := range entries {
		if err := r.register(e, false); err != nil {
			return nil, fmt.Errorf("replay schema %q: %w", e.Name, err)
		}
	}
	return r, nil
}

// Register compiles and stores a component schema under name, enforcing
// that name's FNV-1a hash (spec.md §1) never collides with a different
// name already registered under the same ComponentTypeID.
func (r *Registry) Register(name string, raw []byte) (ecsid.ComponentTypeID, error) {
	typeID := ecsid.HashComponentName(name)
	compiled, err := compile(raw)
	if err != nil {
		return 0, fmt.Errorf("compile schema %q: %w", name, err)
	}
	e := Entry{Name: name, TypeID: typeID, Raw: raw, compiled: compiled}
	if err := r.register(e, true); err != nil {
		return 0, err
	}
	return typeID, nil
}

func (r *Registry) register(e Entry, persist bool) error {
	if e.compiled == nil {
		compiled, err := compile(e.Raw)
		if err != nil {
			return err
		}
		e.compiled = compiled
	}

	r.mu.Lock()
	if existing, ok := r.byType[e.TypeID]; ok {
		switch {
		case existing.Name != e.Name:
			r.mu.Unlock()
			return fmt.Errorf("%w: %q and %q both hash to %d", ecserr.ErrDuplicateSchema, existing.Name, e.Name, e.TypeID)
		case !bytes.Equal(existing.Raw, e.Raw):
			r.mu.Unlock()
			return fmt.Errorf("%w: %q re-registered with a different schema body", ecserr.ErrDuplicateSchema, e.Name)
		}
	}
	r.byName[e.Name] = &e
	r.byType[e.TypeID] = &e
	r.mu.Unlock()

	if persist && r.persist != nil {
		if err := r.persist.Save(e); err != nil {
			return fmt.Errorf("persist schema %q: %w", e.Name, err)
		}
	}
	return nil
}

// Validate checks value (already decoded to a generic any, e.g. from CBOR)
// against the schema registered for typeID.
func (r *Registry) Validate(typeID ecsid.ComponentTypeID, value any) error {
	r.mu.RLock()
	e, ok := r.byType[typeID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for component type %d", typeID)
	}
	if err := e.compiled.Validate(value); err != nil {
		return fmt.Errorf("schema validation for %q: %w", e.Name, err)
	}
	return nil
}

// ByName looks up a schema entry by its declared name.
func (r *Registry) ByName(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ByType looks up a schema entry by its ComponentTypeID.
func (r *Registry) ByType(typeID ecsid.ComponentTypeID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[typeID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func compile(raw []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	const resource = "inline.json"
	if err := c.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}
