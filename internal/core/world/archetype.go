package world

import "github.com/tickforge/ecsengine/internal/core/ecsid"

// Table is a struct-of-arrays container for every entity sharing one
// archetype signature. Columns hold the independently-encoded byte form of
// each component value; decoding is left to callers (spec: "encoding is
// the identity").
//
// Invariants, enforced by every Store mutation:
//   - componentTypes is sorted ascending and unique (it is the signature).
//   - entities[i] is the entity occupying row i; rows are dense and
//     insertion-ordered.
//   - columns[t][i] holds the encoded value of component t for entities[i].
//   - len(columns[t]) == len(entities) for every t, between tick phases.
type Table struct {
	signature ecsid.Signature
	entities  []ecsid.EntityID
	columns   map[ecsid.ComponentTypeID][][]byte
	changed   map[ecsid.ComponentTypeID]*changeBits
}

func newTable(sig ecsid.Signature) *Table {
	t := &Table{
		signature: sig,
		entities:  make([]ecsid.EntityID, 0),
		columns:   make(map[ecsid.ComponentTypeID][][]byte, len(sig)),
		changed:   make(map[ecsid.ComponentTypeID]*changeBits, len(sig)),
	}
	for _, c := range sig {
		t.columns[c] = make([][]byte, 0)
		t.changed[c] = newChangeBits(0)
	}
	return t
}

// Signature returns the archetype's component-type set.
func (t *Table) Signature() ecsid.Signature { return t.signature }

// Len returns the number of entities currently in the table.
func (t *Table) Len() int { return len(t.entities) }

// Entities returns the dense, insertion-ordered entity list. Callers must
// not mutate the returned slice.
func (t *Table) Entities() []ecsid.EntityID { return t.entities }

// Column returns the raw byte column for a component type, or (nil, false)
// if the archetype does not carry that component.
func (t *Table) Column(c ecsid.ComponentTypeID) ([][]byte, bool) {
	col, ok := t.columns[c]
	return col, ok
}

// RowOf performs a linear scan for an entity's row within the table. Store
// keeps an O(1) index separately; this is used only for verification and
// small tables (tests).
func (t *Table) RowOf(e ecsid.EntityID) (int, bool) {
	for i, id := range t.entities {
		if id == e {
			return i, true
		}
	}
	return 0, false
}

// append inserts a new dense row, returning its index. cells must contain
// exactly one entry per component in the signature, in signature order.
func (t *Table) append(e ecsid.EntityID, cells map[ecsid.ComponentTypeID][]byte) int {
	row := len(t.entities)
	t.entities = append(t.entities, e)
	for _, c := range t.signature {
		t.columns[c] = append(t.columns[c], cells[c])
		t.changed[c].grow(row + 1)
	}
	return row
}

// swapRemove removes row via swap-with-last, returning the entity that now
// occupies the vacated slot (if any) along with its destination row, so the
// caller can fix up the entity index.
func (t *Table) swapRemove(row int) (moved ecsid.EntityID, movedRow int, hadMove bool) {
	last := len(t.entities) - 1
	if row < 0 || row > last {
		return 0, 0, false
	}
	if row != last {
		t.entities[row] = t.entities[last]
		moved = t.entities[row]
		movedRow = row
		hadMove = true
	}
	t.entities = t.entities[:last]
	for _, c := range t.signature {
		col := t.columns[c]
		if row != last {
			col[row] = col[last]
		}
		t.columns[c] = col[:last]
		t.changed[c].swapRemove(row)
	}
	return moved, movedRow, hadMove
}

// setCell overwrites the value for component c at row, marking the change
// bit. Returns false if c is not part of this archetype.
func (t *Table) setCell(row int, c ecsid.ComponentTypeID, value []byte) bool {
	col, ok := t.columns[c]
	if !ok || row < 0 || row >= len(col) {
		return false
	}
	col[row] = value
	t.changed[c].set(row)
	return true
}

// touchChanged marks the change bit for component c at row without
// modifying the stored value. Used by MarkChanged, which records that a
// component was written by some external process (e.g. a merged shard)
// without re-encoding the value.
func (t *Table) touchChanged(row int, c ecsid.ComponentTypeID) bool {
	cb, ok := t.changed[c]
	if !ok || row < 0 || row >= len(t.entities) {
		return false
	}
	cb.set(row)
	return true
}

// isChanged reports whether component c changed at row since the last
// clearChanged call.
func (t *Table) isChanged(row int, c ecsid.ComponentTypeID) bool {
	cb, ok := t.changed[c]
	if !ok {
		return false
	}
	return cb.get(row)
}

// IsChangedAt is the exported form of isChanged, used by the query engine's
// Changed(t) row filter.
func (t *Table) IsChangedAt(row int, c ecsid.ComponentTypeID) bool {
	return t.isChanged(row, c)
}

// clearChanged resets every change bit in the table; called at the tick
// boundary after merge.
func (t *Table) clearChanged() {
	for _, cb := range t.changed {
		cb.clearAll()
	}
}

// clone returns an independent copy of t: a new entities slice, new column
// slices, and new change-bit sets. The []byte cell values themselves are
// shared (setCell/append only ever replace a cell's slice header, never
// mutate its bytes in place), so sharing them across a snapshot and the live
// table is safe. Used by Store.Snapshot to freeze a tick-boundary view that
// can be read concurrently with further store mutation (spec.md §5).
func (t *Table) clone() *Table {
	entities := make([]ecsid.EntityID, len(t.entities))
	copy(entities, t.entities)

	columns := make(map[ecsid.ComponentTypeID][][]byte, len(t.columns))
	for c, col := range t.columns {
		cloned := make([][]byte, len(col))
		copy(cloned, col)
		columns[c] = cloned
	}

	changed := make(map[ecsid.ComponentTypeID]*changeBits, len(t.changed))
	for c, cb := range t.changed {
		changed[c] = cb.clone()
	}

	return &Table{signature: t.signature, entities: entities, columns: columns, changed: changed}
}

// checkInvariants verifies column-length equality (P3); used by tests and
// by debug builds of Store.
func (t *Table) checkInvariants() bool {
	n := len(t.entities)
	for _, col := range t.columns {
		if len(col) != n {
			return false
		}
	}
	return true
}
