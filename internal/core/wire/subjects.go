// Package wire defines the subject namespace, envelope, and message types
// exchanged between the coordinator and system processes (spec.md §6).
package wire

import "fmt"

// Namespace prefixes every subject the engine publishes or subscribes to.
const Namespace = "engine."

const (
	SubjectTick        = Namespace + "coord.tick"
	SubjectTickDone    = Namespace + "coord.tick.done"
	SubjectEntityCreate = Namespace + "entity.create"
	SubjectEntityDestroy = Namespace + "entity.destroy"
	SubjectEntitySpawnRequest = Namespace + "entity.spawn.request"
	SubjectSystemRegister   = Namespace + "system.register"
	SubjectSystemUnregister = Namespace + "system.unregister"
	SubjectSystemHeartbeat  = Namespace + "system.heartbeat"
	SubjectQueryRequest  = Namespace + "query.request"
	SubjectQueryResponse = Namespace + "query.response"
	SubjectSchemaRequest  = Namespace + "schema.request"
	SubjectSchemaResponse = Namespace + "schema.response"
)

// SubjectComponentSet returns the coordinator->system data subject for a
// system's logical name: engine.component.set.<sys>.
func SubjectComponentSet(system string) string {
	return fmt.Sprintf("%scomponent.set.%s", Namespace, system)
}

// SubjectComponentChanged returns the system->coordinator mutation subject
// for a system's logical name: engine.component.changed.<sys>.
func SubjectComponentChanged(system string) string {
	return fmt.Sprintf("%scomponent.changed.%s", Namespace, system)
}

// SubjectSystemSchedule returns the per-instance execute-trigger subject:
// engine.system.schedule.<sys>. Delivery is queue-group load-balanced
// across instances, group QueueGroup(system).
func SubjectSystemSchedule(system string) string {
	return fmt.Sprintf("%ssystem.schedule.%s", Namespace, system)
}

// QueueGroup returns the queue group name for a system's schedule subject:
// q.<sys>.
func QueueGroup(system string) string {
	return "q." + system
}

// Header keys carried on every envelope (spec.md §6).
const (
	HeaderMsgType    = "msg-type"
	HeaderTickID     = "tick-id"
	HeaderInstanceID = "instance-id"
	HeaderEncoding   = "content-encoding"
)

// Message-type header values, required on subjects that multiplex more
// than one payload shape (sentinels in particular).
const (
	MsgTypeComponentShard     = "component_shard"
	MsgTypeDataDone           = "data_done"
	MsgTypeChangesDone        = "changes_done"
	MsgTypeTickStart          = "tick_start"
	MsgTypeTickAck            = "tick_ack"
	MsgTypeEntityCreated      = "entity_created"
	MsgTypeEntityDestroyed    = "entity_destroyed"
	MsgTypeEntitySpawnRequest = "entity_spawn_request"
	MsgTypeSystemDescriptor   = "system_descriptor"
	MsgTypeSystemUnregister   = "system_unregister"
	MsgTypeSystemSchedule     = "system_schedule"
	MsgTypeHeartbeat          = "heartbeat"
	MsgTypeQueryRequest       = "query_request"
	MsgTypeQueryResponse      = "query_response"
	MsgTypeSchemaRequest      = "schema_request"
	MsgTypeSchemaResponse     = "schema_response"
)

// EncodingZstd marks a ComponentShard payload as zstd-compressed (DOMAIN
// addition, SPEC_FULL.md §7).
const EncodingZstd = "zstd"
