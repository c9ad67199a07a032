// Package query compiles QueryDescriptors, matches them against the
// world's archetype tables, and shards matching rows across system
// instances (spec.md §4.4).
package query

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/world"
)

// FilterKind distinguishes the archetype/row predicates a query may carry.
type FilterKind uint8

const (
	With FilterKind = iota
	Without
	Changed
)

// Filter is one archetype or row-level predicate.
type Filter struct {
	Kind FilterKind
	Type ecsid.ComponentTypeID
}

// Descriptor is the set of reads/writes/optionals/filters a system
// declares against the world (spec.md §3).
type Descriptor struct {
	Reads     ecsid.Signature
	Writes    ecsid.Signature
	Optionals ecsid.Signature
	Filters   []Filter
}

// AccessSet returns the union of Reads, Writes, and Optionals — the set the
// scheduler's conflict relation treats as "observed" by this system
// (spec.md §4.2: "optionals count as reads for the purpose of this
// relation").
func (d Descriptor) AccessSet() ecsid.Signature {
	return ecsid.NewSignature(append(append(append(ecsid.Signature{}, d.Reads...), d.Writes...), d.Optionals...)...)
}

// cacheKey hashes a Descriptor plus the archetype epoch it was matched
// against. xxhash64 is used here purely as an internal cache key; it has no
// bearing on the FNV-1a identity hash pinned by spec.md §3 for
// ComponentTypeID (see SPEC_FULL.md §13.4).
func cacheKey(d Descriptor, epoch uint64) uint64 {
	h := xxhash.New()
	write := func(sig ecsid.Signature) {
		for _, t := range sig {
			var b [8]byte
			putU64(b[:], uint64(t))
			_, _ = h.Write(b[:])
		}
		_, _ = h.Write([]byte{0xff})
	}
	write(d.Reads)
	write(d.Writes)
	write(d.Optionals)
	for _, f := range d.Filters {
		var b [9]byte
		b[0] = byte(f.Kind)
		putU64(b[1:], uint64(f.Type))
		_, _ = h.Write(b[:])
	}
	var e [8]byte
	putU64(e[:], epoch)
	_, _ = h.Write(e[:])
	return h.Sum64()
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Match is one archetype table matching a Descriptor, plus the row indices
// within it that pass the row-level filters (Changed).
type Match struct {
	Table *world.Table
	Rows  []int
}

// Engine compiles and caches query matches against a Store. The cache is
// shared across the tick orchestrator's per-system stage-exchange
// goroutines (one per system in a stage, running concurrently) and any
// out-of-band QueryRequest handler goroutine, so all access to it is
// serialized by mu.
type Engine struct {
	store *world.Store

	mu    sync.Mutex
	cache map[uint64][]Match
}

// New creates a query engine bound to store.
func New(store *world.Store) *Engine {
	return &Engine{store: store, cache: make(map[uint64][]Match)}
}

// Select returns every archetype/row match for d. Results are cached keyed
// by (Descriptor, archetype epoch); a new archetype invalidates the whole
// cache by virtue of changing the epoch (spec.md §4.4).
func (e *Engine) Select(d Descriptor) []Match {
	epoch := e.store.Epoch()
	key := cacheKey(d, epoch)

	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.cache[key]; ok {
		return cached
	}
	if len(e.cache) > 0 {
		// A cache entry exists from a prior epoch; the whole map is stale.
		for k := range e.cache {
			delete(e.cache, k)
		}
	}

	matches := matchArchetypes(e.store.Archetypes(), d)
	e.cache[key] = matches
	return matches
}

// SelectSnapshot matches d against the frozen archetypes of snap rather than
// the live store. Ad-hoc query handling routes through this instead of
// Select so it never observes mid-stage mutation (spec.md §5).
func SelectSnapshot(snap *world.Snapshot, d Descriptor) []Match {
	return matchArchetypes(snap.Archetypes(), d)
}

// matchArchetypes is the archetype/row matching logic of spec.md §4.4,
// shared by the cached live-store path (Select) and the uncached
// snapshot path (SelectSnapshot).
func matchArchetypes(tables []*world.Table, d Descriptor) []Match {
	required := ecsid.NewSignature(append(append(ecsid.Signature{}, d.Reads...), d.Writes...)...)
	var withs, withouts ecsid.Signature
	changedTypes := make(map[ecsid.ComponentTypeID]bool)
	for _, f := range d.Filters {
		switch f.Kind {
		case With:
			withs = withs.With(f.Type)
		case Without:
			withouts = withouts.With(f.Type)
		case Changed:
			changedTypes[f.Type] = true
		}
	}
	required = ecsid.NewSignature(append(append(ecsid.Signature{}, required...), withs...)...)

	var matches []Match
	for _, t := range tables {
		sig := t.Signature()
		if !sig.SupersetOf(required) || !sig.DisjointFrom(withouts) {
			continue
		}
		rows := make([]int, 0, t.Len())
		for row := 0; row < t.Len(); row++ {
			if rowPasses(t, row, changedTypes) {
				rows = append(rows, row)
			}
		}
		if len(rows) > 0 {
			matches = append(matches, Match{Table: t, Rows: rows})
		}
	}
	return matches
}

func rowPasses(t *world.Table, row int, changedTypes map[ecsid.ComponentTypeID]bool) bool {
	for c := range changedTypes {
		if !t.IsChangedAt(row, c) {
			return false
		}
	}
	return true
}

// TotalRows returns the sum of matching row counts across matches, the R
// in spec.md §4.4's instance-sharding description.
func TotalRows(matches []Match) int {
	n := 0
	for _, m := range matches {
		n += len(m.Rows)
	}
	return n
}

// Shard splits R matching rows (flattened across archetypes, in archetype
// then row order) into n contiguous, roughly-equal ranges, one per
// instance. This implementation picks contiguous-row partitioning, per the
// Open Question resolution in SPEC_FULL.md §13.1.
func Shard(matches []Match, n int) []Range {
	total := TotalRows(matches)
	if n <= 0 {
		n = 1
	}
	ranges := make([]Range, n)
	base := total / n
	rem := total % n
	start := 0
	for i := 0; i < n; i++ {
		count := base
		if i < rem {
			count++
		}
		ranges[i] = Range{Start: start, Count: count}
		start += count
	}
	return ranges
}

// Range is a contiguous slice [Start, Start+Count) of the flattened
// row-match list handed to one system instance.
type Range struct {
	Start int
	Count int
}

// FlattenEntities concatenates the matched rows, in archetype-then-row
// order, returning the entity id at each flattened position. Archetypes are
// iterated in a deterministic (signature-key-sorted) order — Engine.Select
// already returns them that way via Store.Archetypes — so the flattening is
// stable across ticks for an unchanged world (spec.md P8).
func FlattenEntities(matches []Match) []ecsid.EntityID {
	out := make([]ecsid.EntityID, 0, TotalRows(matches))
	for _, m := range matches {
		entities := m.Table.Entities()
		for _, row := range m.Rows {
			out = append(out, entities[row])
		}
	}
	return out
}
