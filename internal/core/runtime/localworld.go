package runtime

import (
	"sort"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/wire"
)

// localArchetype is the harness-side reconstruction of one archetype
// table, built purely from the ComponentShard stream the coordinator
// broadcasts. Each shard's rows are placed at its Start offset, so row
// order follows the coordinator's matched-row order regardless of the order
// the shards arrive in.
type localArchetype struct {
	signature ecsid.Signature
	entities  []ecsid.EntityID
	values    map[ecsid.ComponentTypeID]map[ecsid.EntityID][]byte
}

// LocalWorld is the per-tick, per-instance view a SystemFunc operates on:
// the subset of canonical world state the coordinator sent this system,
// plus a staging area for the mutations and spawn requests the system
// wants to publish back (spec.md §4.5).
type LocalWorld struct {
	archetypes      map[string]*localArchetype
	entityArchetype map[ecsid.EntityID]string

	pendingChanges map[ecsid.ComponentTypeID]map[ecsid.EntityID][]byte
	pendingSpawns  []wire.EntitySpawnRequest
}

func newLocalWorld() *LocalWorld {
	return &LocalWorld{
		archetypes:      make(map[string]*localArchetype),
		entityArchetype: make(map[ecsid.EntityID]string),
		pendingChanges:  make(map[ecsid.ComponentTypeID]map[ecsid.EntityID][]byte),
	}
}

// ingest folds one ComponentShard into the reconstructed local tables.
func (lw *LocalWorld) ingest(shard wire.ComponentShard) {
	sig := ecsid.NewSignature(shard.Archetype...)
	key := sig.Key()
	a, ok := lw.archetypes[key]
	if !ok {
		a = &localArchetype{signature: sig, values: make(map[ecsid.ComponentTypeID]map[ecsid.EntityID][]byte)}
		lw.archetypes[key] = a
	}

	needed := shard.Start + len(shard.Entities)
	for len(a.entities) < needed {
		a.entities = append(a.entities, 0)
	}
	for i, e := range shard.Entities {
		a.entities[shard.Start+i] = e
		lw.entityArchetype[e] = key
	}

	col, ok := a.values[shard.Component]
	if !ok {
		col = make(map[ecsid.EntityID][]byte, len(shard.Entities))
		a.values[shard.Component] = col
	}
	for i, e := range shard.Entities {
		col[e] = shard.Data[i]
	}
}

// flattenEntities returns every received entity, archetype-then-row
// ordered by ascending signature key — the same deterministic order
// query.FlattenEntities uses on the coordinator side, so a SystemSchedule
// shard_range hint computed there lands on the same rows here.
func (lw *LocalWorld) flattenEntities() []ecsid.EntityID {
	keys := make([]string, 0, len(lw.archetypes))
	for k := range lw.archetypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []ecsid.EntityID
	for _, k := range keys {
		out = append(out, lw.archetypes[k].entities...)
	}
	return out
}

// Row is one entity's view into the local world, handed to a SystemFunc.
type Row struct {
	world  *LocalWorld
	Entity ecsid.EntityID
}

// Get returns the raw bytes for component c on this row's entity.
func (r Row) Get(c ecsid.ComponentTypeID) ([]byte, bool) {
	key, ok := r.world.entityArchetype[r.Entity]
	if !ok {
		return nil, false
	}
	col, ok := r.world.archetypes[key].values[c]
	if !ok {
		return nil, false
	}
	v, ok := col[r.Entity]
	return v, ok
}

// Rows returns every received row, or the contiguous sub-range named by a
// SystemSchedule shard hint when one was supplied.
func (lw *LocalWorld) Rows(shardStart, shardCount *int) []Row {
	entities := lw.flattenEntities()
	if shardStart != nil && shardCount != nil {
		start := *shardStart
		end := start + *shardCount
		if start > len(entities) {
			start = len(entities)
		}
		if end > len(entities) {
			end = len(entities)
		}
		entities = entities[start:end]
	}
	rows := make([]Row, len(entities))
	for i, e := range entities {
		rows[i] = Row{world: lw, Entity: e}
	}
	return rows
}

// Set stages an outgoing mutation to component c on entity e, published as
// a ComponentShard on the changed-back subject once the system function
// returns (spec.md §4.3.1 step 8, §4.5 Publishing).
func (lw *LocalWorld) Set(e ecsid.EntityID, c ecsid.ComponentTypeID, value []byte) {
	col, ok := lw.pendingChanges[c]
	if !ok {
		col = make(map[ecsid.EntityID][]byte)
		lw.pendingChanges[c] = col
	}
	col[e] = value
}

// SpawnEntity stages an EntitySpawnRequest, resolved by the coordinator at
// the start of the next tick (spec.md §4.3 step 2).
func (lw *LocalWorld) SpawnEntity(types []ecsid.ComponentTypeID, data map[ecsid.ComponentTypeID][]byte) {
	lw.pendingSpawns = append(lw.pendingSpawns, wire.EntitySpawnRequest{
		RequestID: wire.NewSpawnRequestID(),
		Types:     types,
		Data:      data,
	})
}

// archetypeOf returns the archetype signature of entity e, if known.
func (lw *LocalWorld) archetypeOf(e ecsid.EntityID) (ecsid.Signature, bool) {
	key, ok := lw.entityArchetype[e]
	if !ok {
		return nil, false
	}
	return lw.archetypes[key].signature, true
}
