package wire

import (
	"time"

	"github.com/google/uuid"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
)

// TickStart is broadcast by the coordinator on SubjectTick when tick t
// begins (spec.md §4.3 step 6, §6).
type TickStart struct {
	TickID uint64 `cbor:"tick_id"`
}

// TickAck is published by a system instance on SubjectTickDone once it has
// published its changed shards, ChangesDone, and any spawn requests
// (spec.md §4.3.1 step 7).
type TickAck struct {
	TickID     uint64 `cbor:"tick_id"`
	System     string `cbor:"system"`
	InstanceID string `cbor:"instance_id"`
}

// EntityCreated is broadcast on SubjectEntityCreate when an entity is
// allocated (spec.md §4.3 step 2, §6).
type EntityCreated struct {
	Entity    ecsid.EntityID    `cbor:"entity"`
	Archetype []ecsid.ComponentTypeID `cbor:"archetype"`
}

// EntityDestroyed is broadcast on SubjectEntityDestroy (spec.md §4.1).
type EntityDestroyed struct {
	Entity ecsid.EntityID `cbor:"entity"`
}

// EntitySpawnRequest is published by a system on SubjectEntitySpawnRequest,
// queued by the coordinator and resolved at the start of the next tick
// (spec.md §4.3 step 2).
type EntitySpawnRequest struct {
	RequestID  string                          `cbor:"request_id"`
	Types      []ecsid.ComponentTypeID         `cbor:"types"`
	Data       map[ecsid.ComponentTypeID][]byte `cbor:"data"`
	Source     string                          `cbor:"source"`
	InstanceID string                          `cbor:"instance_id"`
}

// NewSpawnRequestID returns a fresh identifier for an EntitySpawnRequest.
func NewSpawnRequestID() string { return uuid.NewString() }

// ComponentShard is a contiguous row range from one archetype's column,
// framed for transport (spec.md §3, §6).
type ComponentShard struct {
	Archetype []ecsid.ComponentTypeID `cbor:"archetype"`
	Component ecsid.ComponentTypeID    `cbor:"component"`
	Start     int                      `cbor:"start"`
	Entities  []ecsid.EntityID         `cbor:"entities"`
	Data      [][]byte                 `cbor:"data"`
}

// DataDone is the end-of-stream sentinel on a coordinator->system data
// subject (spec.md §4.3.1 step 3, §9 "Sentinel vs length-prefix").
type DataDone struct {
	TickID uint64 `cbor:"tick_id"`
}

// ChangesDone is the end-of-stream sentinel on a system->coordinator
// mutation subject (spec.md §4.3.1 step 5).
type ChangesDone struct {
	TickID     uint64 `cbor:"tick_id"`
	InstanceID string `cbor:"instance_id"`
}

// SystemDescriptor registers (or re-registers) one system instance
// (spec.md §3, §6).
type SystemDescriptor struct {
	Name        string                  `cbor:"name"`
	InstanceID  string                  `cbor:"instance_id"`
	Reads       []ecsid.ComponentTypeID `cbor:"reads"`
	Writes      []ecsid.ComponentTypeID `cbor:"writes"`
	Optionals   []ecsid.ComponentTypeID `cbor:"optionals"`
	Filters     []FilterSpec            `cbor:"filters"`
	Schemas     []SchemaSpec            `cbor:"schemas,omitempty"`
	OrderBefore []string                `cbor:"order_before,omitempty"`
	OrderAfter  []string                `cbor:"order_after,omitempty"`
}

// FilterSpec is the wire form of a query.Filter.
type FilterSpec struct {
	Kind string                  `cbor:"kind"` // "with" | "without" | "changed"
	Type ecsid.ComponentTypeID    `cbor:"type"`
}

// SchemaSpec is the wire form of a ComponentSchema registration bundled
// with a SystemDescriptor (spec.md §3).
type SchemaSpec struct {
	Name   string `cbor:"name"`
	TypeID ecsid.ComponentTypeID `cbor:"type_id"`
	Schema []byte `cbor:"schema"`
}

// SystemUnregister removes a previously-registered instance (spec.md §5:
// "only explicit SystemUnregister removes an instance").
type SystemUnregister struct {
	Name       string `cbor:"name"`
	InstanceID string `cbor:"instance_id"`
}

// SystemSchedule triggers one instance's execution for tick t, optionally
// hinting the contiguous row range it should process (spec.md §4.3.1 step
// 4, §4.4).
type SystemSchedule struct {
	TickID     uint64      `cbor:"tick_id"`
	ShardStart *int        `cbor:"shard_start,omitempty"`
	ShardCount *int        `cbor:"shard_count,omitempty"`
}

// Heartbeat reports instance health/load (spec.md §4.5).
type Heartbeat struct {
	InstanceID string  `cbor:"instance_id"`
	System     string  `cbor:"system"`
	Load       float64 `cbor:"load"`
	At         time.Time `cbor:"at"`
}

// QueryRequest is an ad-hoc, out-of-band query against a tick-boundary
// snapshot of the world (spec.md §5, §6).
type QueryRequest struct {
	RequestID string   `cbor:"request_id"`
	Reads     []ecsid.ComponentTypeID `cbor:"reads"`
	Writes    []ecsid.ComponentTypeID `cbor:"writes"`
	Optionals []ecsid.ComponentTypeID `cbor:"optionals"`
	Filters   []FilterSpec `cbor:"filters"`
}

// QueryResponse carries the matched shards for a QueryRequest.
type QueryResponse struct {
	RequestID string            `cbor:"request_id"`
	Shards    []ComponentShard  `cbor:"shards"`
	Error     string            `cbor:"error,omitempty"`
}

// SchemaRequest asks the coordinator for a component's registered schema
// (spec.md §6).
type SchemaRequest struct {
	RequestID string `cbor:"request_id"`
	Name      string `cbor:"name,omitempty"`
	TypeID    ecsid.ComponentTypeID `cbor:"type_id,omitempty"`
}

// SchemaResponse carries the schema found for a SchemaRequest, or an error
// if none matched.
type SchemaResponse struct {
	RequestID string `cbor:"request_id"`
	Name      string `cbor:"name,omitempty"`
	TypeID    ecsid.ComponentTypeID `cbor:"type_id,omitempty"`
	Schema    []byte `cbor:"schema,omitempty"`
	Error     string `cbor:"error,omitempty"`
}
