// Package world implements the coordinator's canonical state: archetype
// tables keyed by a deterministic signature, entity allocation, and
// inter-archetype migration. The store is mutated only by the coordinator,
// only between tick stages (spec.md §3, §4.1, §5).
package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
)

// location pinpoints an entity within the world: which archetype table and
// which row of it.
type location struct {
	sigKey string
	row    int
}

// Store is the mapping archetype_signature -> Table, plus an O(1)
// entity -> (signature, row) index. It is not safe for concurrent
// mutation; the tick orchestrator is the sole mutator and respects the
// stage/merge boundaries (spec.md §5, §9 "Global mutable state").
type Store struct {
	mu sync.RWMutex

	logger log.Log

	archetypes map[string]*Table
	index      map[ecsid.EntityID]location
	nextEntity ecsid.EntityID

	// epoch increments on every archetype creation; the query cache is keyed
	// partly on this value (spec.md §4.4).
	epoch uint64

	onCreated   []func(ecsid.EntityID, ecsid.Signature)
	onDestroyed []func(ecsid.EntityID)
}

// New creates an empty world store.
func New(logger log.Log) *Store {
	if logger == nil {
		logger = log.Provide()
	}
	return &Store{
		logger:     logger.With(log.String("component", "world")),
		archetypes: make(map[string]*Table),
		index:      make(map[ecsid.EntityID]location),
	}
}

// OnEntityCreated registers a callback invoked from AllocateEntity, under
// the store's lock. Keep handlers fast; they run on the orchestrator's
// goroutine.
func (s *Store) OnEntityCreated(fn func(ecsid.EntityID, ecsid.Signature)) {
	s.mu.Lock()
	s.onCreated = append(s.onCreated, fn)
	s.mu.Unlock()
}

// OnEntityDestroyed registers a callback invoked from DestroyEntity.
func (s *Store) OnEntityDestroyed(fn func(ecsid.EntityID)) {
	s.mu.Lock()
	s.onDestroyed = append(s.onDestroyed, fn)
	s.mu.Unlock()
}

// Epoch returns the current archetype epoch, bumped on every new archetype.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Archetypes returns every archetype table currently present. Callers must
// not mutate the returned tables directly.
func (s *Store) Archetypes() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Table, 0, len(s.archetypes))
	for _, t := range s.archetypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].signature.Key() < out[j].signature.Key() })
	return out
}

// tableFor returns the table for sig, creating it (and bumping the epoch)
// if absent. Caller must hold s.mu.
func (s *Store) tableFor(sig ecsid.Signature) *Table {
	key := sig.Key()
	t, ok := s.archetypes[key]
	if !ok {
		t = newTable(sig)
		s.archetypes[key] = t
		s.epoch++
		s.logger.Info("archetype created", log.String("signature", key))
	}
	return t
}

// AllocateEntity appends a new row to the archetype table for sig,
// allocating a fresh entity id. cells must supply a byte value for every
// component type in sig.
func (s *Store) AllocateEntity(sig ecsid.Signature, cells map[ecsid.ComponentTypeID][]byte) (ecsid.EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig = ecsid.NewSignature(sig...)
	t := s.tableFor(sig)
	s.nextEntity++
	id := s.nextEntity
	row := t.append(id, cells)
	s.index[id] = location{sigKey: sig.Key(), row: row}

	for _, fn := range s.onCreated {
		fn(id, sig)
	}
	return id, nil
}

// DestroyEntity removes the entity's row via swap-remove and broadcasts
// EntityDestroyed. No-op if the entity is unknown (already destroyed, or
// never existed).
func (s *Store) DestroyEntity(e ecsid.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(e)
}

func (s *Store) destroyLocked(e ecsid.EntityID) error {
	loc, ok := s.index[e]
	if !ok {
		return nil
	}
	t, ok := s.archetypes[loc.sigKey]
	if !ok {
		delete(s.index, e)
		return nil
	}
	moved, movedRow, hadMove := t.swapRemove(loc.row)
	delete(s.index, e)
	if hadMove {
		s.index[moved] = location{sigKey: loc.sigKey, row: movedRow}
	}
	for _, fn := range s.onDestroyed {
		fn(e)
	}
	return nil
}

// Mutate overwrites the column cell for (entity, componentType).
func (s *Store) Mutate(e ecsid.EntityID, c ecsid.ComponentTypeID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.index[e]
	if !ok {
		return fmt.Errorf("%w: entity %d", ecserr.ErrUnknownEntity, e)
	}
	t, ok := s.archetypes[loc.sigKey]
	if !ok {
		return fmt.Errorf("%w: entity %d", ecserr.ErrUnknownEntity, e)
	}
	if !t.setCell(loc.row, c, value) {
		return fmt.Errorf("%w: component %d on entity %d", ecserr.ErrComponentNotInArchetype, c, e)
	}
	return nil
}

// Migrate removes e from its current archetype and inserts it into
// newSig, carrying forward preserved columns, writing addedBytes for any
// newly-introduced component types, and dropping droppedTypes. A table for
// newSig is created if absent.
func (s *Store) Migrate(e ecsid.EntityID, newSig ecsid.Signature, addedBytes map[ecsid.ComponentTypeID][]byte, droppedTypes []ecsid.ComponentTypeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.index[e]
	if !ok {
		return fmt.Errorf("%w: entity %d", ecserr.ErrUnknownEntity, e)
	}
	oldTable, ok := s.archetypes[loc.sigKey]
	if !ok {
		return fmt.Errorf("%w: entity %d", ecserr.ErrUnknownEntity, e)
	}

	newSig = ecsid.NewSignature(newSig...)
	dropped := make(map[ecsid.ComponentTypeID]bool, len(droppedTypes))
	for _, d := range droppedTypes {
		dropped[d] = true
	}

	cells := make(map[ecsid.ComponentTypeID][]byte, len(newSig))
	for _, c := range newSig {
		if dropped[c] {
			continue
		}
		if col, ok := oldTable.Column(c); ok {
			if row, found := oldTable.RowOf(e); found {
				cells[c] = col[row]
				continue
			}
		}
		if v, ok := addedBytes[c]; ok {
			cells[c] = v
		}
	}

	row, found := oldTable.RowOf(e)
	if !found {
		return fmt.Errorf("%w: entity %d", ecserr.ErrUnknownEntity, e)
	}
	moved, movedRow, hadMove := oldTable.swapRemove(row)
	delete(s.index, e)
	if hadMove {
		s.index[moved] = location{sigKey: loc.sigKey, row: movedRow}
	}

	newTbl := s.tableFor(newSig)
	newRow := newTbl.append(e, cells)
	s.index[e] = location{sigKey: newSig.Key(), row: newRow}
	return nil
}

// MarkChanged records per-tick change bits for entities on componentType,
// consumed by Changed(t) query filters.
func (s *Store) MarkChanged(c ecsid.ComponentTypeID, entities []ecsid.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		loc, ok := s.index[e]
		if !ok {
			continue
		}
		t := s.archetypes[loc.sigKey]
		t.touchChanged(loc.row, c)
	}
	return nil
}

// ClearChangeBits resets every per-column change bit across every
// archetype. Called once at the tick boundary, after merge (spec.md §4.1).
func (s *Store) ClearChangeBits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.archetypes {
		t.clearChanged()
	}
}

// IsChanged reports whether (entity, componentType) was written since the
// last ClearChangeBits call.
func (s *Store) IsChanged(e ecsid.EntityID, c ecsid.ComponentTypeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.index[e]
	if !ok {
		return false
	}
	t := s.archetypes[loc.sigKey]
	return t.isChanged(loc.row, c)
}

// Locate returns the archetype signature and row for an entity.
func (s *Store) Locate(e ecsid.EntityID) (ecsid.Signature, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.index[e]
	if !ok {
		return nil, 0, false
	}
	return s.archetypes[loc.sigKey].signature, loc.row, true
}

// Snapshot is a read-only, tick-boundary-consistent view of the world: a
// deep copy of every archetype table taken under the store's lock. It is
// safe to query concurrently with further store mutation, which is what
// backs ad-hoc QueryRequest handling (spec.md §5: "Concurrent readers
// (ad-hoc queries) are served from a snapshot taken at a tick boundary —
// never mid-stage").
type Snapshot struct {
	epoch      uint64
	archetypes []*Table
}

// Epoch returns the archetype epoch the snapshot was taken at.
func (s *Snapshot) Epoch() uint64 { return s.epoch }

// Archetypes returns the frozen archetype tables captured at snapshot time,
// in signature-key-sorted order. Callers must not mutate them.
func (s *Snapshot) Archetypes() []*Table { return s.archetypes }

// Snapshot captures a frozen copy of every archetype table. Take one at a
// tick boundary and hand it to anything that must read world state without
// racing the orchestrator's stage/merge mutations (never call this mid-stage
// from a stage-exchange goroutine; that path reads the live store directly
// because it already runs under the tick's own sequencing).
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Table, 0, len(s.archetypes))
	for _, t := range s.archetypes {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].signature.Key() < out[j].signature.Key() })
	return &Snapshot{epoch: s.epoch, archetypes: out}
}

// EntityCount returns the total number of live entities across all archetypes.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// CheckInvariants verifies P2/P3 across the whole store: every entity
// reachable from exactly one (signature, row), and every table's columns
// equal-length to its entity list. Intended for tests.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[ecsid.EntityID]string)
	for key, t := range s.archetypes {
		if !t.checkInvariants() {
			return fmt.Errorf("archetype %s: column length mismatch", key)
		}
		for _, e := range t.entities {
			if prev, ok := seen[e]; ok {
				return fmt.Errorf("entity %d present in both %s and %s", e, prev, key)
			}
			seen[e] = key
		}
	}
	if len(seen) != len(s.index) {
		return fmt.Errorf("index size %d does not match live entity count %d", len(s.index), len(seen))
	}
	return nil
}
