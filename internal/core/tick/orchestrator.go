// Package tick drives the six-step tick pipeline and the per-stage
// exchange protocol described in spec.md §4.3/§4.3.1: the coordinator side
// of the coordinator<->system wire contract, built on top of world, query,
// scheduler, wire, and transport.
package tick

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/scheduler"
	"github.com/tickforge/ecsengine/internal/core/schema"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
	"github.com/tickforge/ecsengine/internal/core/world"
	"github.com/tickforge/ecsengine/pkg/concurrent"
	"github.com/tickforge/ecsengine/pkg/sequence"
)

// Config tunes the orchestrator's deadlines and shard sizing. Defaults
// follow spec.md §5: a 5-second sentinel-drain deadline.
type Config struct {
	SentinelDrainDeadline time.Duration
	TickAckDeadline       time.Duration
	MaxShardRows          int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		SentinelDrainDeadline: 5 * time.Second,
		TickAckDeadline:       5 * time.Second,
		MaxShardRows:          512,
	}
}

// Orchestrator is the coordinator's tick driver: the sole mutator of
// store between tick boundaries (spec.md §5).
type Orchestrator struct {
	store     *world.Store
	engine    *query.Engine
	bus       transport.Bus
	logger    log.Log
	cfg       Config
	schemaReg *schema.Registry

	reg *registry

	// snapshot holds the world state as of the last tick boundary, refreshed
	// at the end of every RunTick (step 6). handleQueryRequest reads through
	// it instead of the live store so an out-of-band query never observes
	// mid-stage mutation (spec.md §5).
	snapshot atomic.Pointer[world.Snapshot]

	tickID uint64

	spawnMu       sync.Mutex
	pendingSpawns []wire.EntitySpawnRequest

	deferredMu        sync.Mutex
	deferredCreated   []wire.EntityCreated
	deferredDestroyed []wire.EntityDestroyed
}

// New builds an orchestrator bound to store/engine/bus. schemaReg may be
// nil, in which case SchemaRequest/SystemDescriptor.Schemas are ignored.
func New(store *world.Store, engine *query.Engine, bus transport.Bus, logger log.Log, cfg Config, schemaReg *schema.Registry) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		engine:    engine,
		bus:       bus,
		logger:    logger.With(log.String("component", "tick")),
		cfg:       cfg,
		schemaReg: schemaReg,
		reg:       newRegistry(),
	}
	o.snapshot.Store(store.Snapshot())
	store.OnEntityDestroyed(func(e ecsid.EntityID) {
		o.deferredMu.Lock()
		o.deferredDestroyed = append(o.deferredDestroyed, wire.EntityDestroyed{Entity: e})
		o.deferredMu.Unlock()
	})
	return o
}

// Start subscribes to the registration, unregistration, and external
// spawn-request subjects, queuing their effects for the next tick
// boundary (spec.md §4.3 step 1, step 2). It returns once the initial
// subscriptions succeed; delivery continues in background goroutines
// until ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context) error {
	registerSub, err := o.bus.Subscribe(ctx, wire.SubjectSystemRegister)
	if err != nil {
		return err
	}
	go o.forward(ctx, registerSub, func(env wire.Envelope) {
		d, err := decodeAs[wire.SystemDescriptor](env)
		if err != nil {
			o.logger.Warn("bad SystemDescriptor", log.Error(err))
			return
		}
		o.reg.queueRegister(d)
		o.registerSchemas(d.Schemas)
	})

	unregisterSub, err := o.bus.Subscribe(ctx, wire.SubjectSystemUnregister)
	if err != nil {
		return err
	}
	go o.forward(ctx, unregisterSub, func(env wire.Envelope) {
		u, err := decodeAs[wire.SystemUnregister](env)
		if err != nil {
			o.logger.Warn("bad SystemUnregister", log.Error(err))
			return
		}
		o.reg.queueUnregister(u)
	})

	spawnSub, err := o.bus.Subscribe(ctx, wire.SubjectEntitySpawnRequest)
	if err != nil {
		return err
	}
	go o.forward(ctx, spawnSub, func(env wire.Envelope) {
		req, err := decodeAs[wire.EntitySpawnRequest](env)
		if err != nil {
			o.logger.Warn("bad EntitySpawnRequest", log.Error(err))
			return
		}
		o.spawnMu.Lock()
		o.pendingSpawns = append(o.pendingSpawns, req)
		o.spawnMu.Unlock()
	})

	heartbeatSub, err := o.bus.Subscribe(ctx, wire.SubjectSystemHeartbeat)
	if err != nil {
		return err
	}
	go o.forward(ctx, heartbeatSub, func(env wire.Envelope) {
		hb, err := decodeAs[wire.Heartbeat](env)
		if err != nil {
			return
		}
		o.logger.Debug("heartbeat", log.String("system", hb.System), log.String("instance", hb.InstanceID), log.Float64("load", hb.Load))
	})

	schemaSub, err := o.bus.Subscribe(ctx, wire.SubjectSchemaRequest)
	if err != nil {
		return err
	}
	go o.forward(ctx, schemaSub, func(env wire.Envelope) {
		req, err := decodeAs[wire.SchemaRequest](env)
		if err != nil {
			o.logger.Warn("bad SchemaRequest", log.Error(err))
			return
		}
		o.handleSchemaRequest(ctx, req)
	})

	querySub, err := o.bus.Subscribe(ctx, wire.SubjectQueryRequest)
	if err != nil {
		return err
	}
	go o.forward(ctx, querySub, func(env wire.Envelope) {
		req, err := decodeAs[wire.QueryRequest](env)
		if err != nil {
			o.logger.Warn("bad QueryRequest", log.Error(err))
			return
		}
		o.handleQueryRequest(ctx, req)
	})

	return nil
}

// handleQueryRequest answers an ad-hoc, out-of-band query against the
// snapshot taken at the last tick boundary (spec.md §5: "Concurrent readers
// (ad-hoc queries) are served from a snapshot taken at a tick boundary —
// never mid-stage"). It never mutates store and runs concurrently with any
// in-flight tick, including other stage-exchange goroutines querying the
// live engine — reading through the frozen snapshot instead of the engine's
// cache avoids racing that concurrent access.
func (o *Orchestrator) handleQueryRequest(ctx context.Context, req wire.QueryRequest) {
	filters := make([]query.Filter, 0, len(req.Filters))
	for _, f := range req.Filters {
		var kind query.FilterKind
		switch f.Kind {
		case "with":
			kind = query.With
		case "without":
			kind = query.Without
		case "changed":
			kind = query.Changed
		}
		filters = append(filters, query.Filter{Kind: kind, Type: f.Type})
	}
	qd := query.Descriptor{Reads: req.Reads, Writes: req.Writes, Optionals: req.Optionals, Filters: filters}
	matches := query.SelectSnapshot(o.snapshot.Load(), qd)

	resp := wire.QueryResponse{RequestID: req.RequestID}
	accessTypes := dedupTypes(req.Reads, req.Writes, req.Optionals)
	for _, m := range matches {
		entities := m.Table.Entities()
		for _, c := range accessTypes {
			col, ok := m.Table.Column(c)
			if !ok {
				continue
			}
			shardEntities := make([]ecsid.EntityID, 0, len(m.Rows))
			shardData := make([][]byte, 0, len(m.Rows))
			for _, row := range m.Rows {
				shardEntities = append(shardEntities, entities[row])
				shardData = append(shardData, col[row])
			}
			resp.Shards = append(resp.Shards, wire.ComponentShard{
				Archetype: m.Table.Signature(),
				Component: c,
				Entities:  shardEntities,
				Data:      shardData,
			})
		}
	}

	env, err := encodeMsg(wire.SubjectQueryResponse, wire.MsgTypeQueryResponse, o.tickID, req.RequestID, resp)
	if err != nil {
		o.logger.Warn("encode QueryResponse failed", log.Error(err))
		return
	}
	if err := o.bus.Publish(ctx, env); err != nil {
		o.logger.Warn("publish QueryResponse failed", log.Error(err))
	}
}

// registerSchemas compiles and stores every ComponentSchema a system
// bundled into its SystemDescriptor (spec.md §3).
func (o *Orchestrator) registerSchemas(specs []wire.SchemaSpec) {
	if o.schemaReg == nil {
		return
	}
	for _, s := range specs {
		typeID, err := o.schemaReg.Register(s.Name, s.Schema)
		if err != nil {
			o.logger.Warn("schema registration failed", log.String("name", s.Name), log.Error(err))
			continue
		}
		if typeID != s.TypeID && s.TypeID != 0 {
			o.logger.Warn("schema type id mismatch", log.String("name", s.Name),
				log.Uint64("declared", uint64(s.TypeID)), log.Uint64("computed", uint64(typeID)))
		}
	}
}

func (o *Orchestrator) handleSchemaRequest(ctx context.Context, req wire.SchemaRequest) {
	var (
		entry schema.Entry
		ok    bool
	)
	if o.schemaReg != nil {
		if req.Name != "" {
			entry, ok = o.schemaReg.ByName(req.Name)
		} else {
			entry, ok = o.schemaReg.ByType(req.TypeID)
		}
	}
	resp := wire.SchemaResponse{RequestID: req.RequestID}
	if !ok {
		resp.Error = "schema not found"
	} else {
		resp.Name = entry.Name
		resp.TypeID = entry.TypeID
		resp.Schema = entry.Raw
	}
	env, err := encodeMsg(wire.SubjectSchemaResponse, wire.MsgTypeSchemaResponse, o.tickID, req.RequestID, resp)
	if err != nil {
		o.logger.Warn("encode SchemaResponse failed", log.Error(err))
		return
	}
	if err := o.bus.Publish(ctx, env); err != nil {
		o.logger.Warn("publish SchemaResponse failed", log.Error(err))
	}
}

func (o *Orchestrator) forward(ctx context.Context, sub transport.Subscription, handle func(wire.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Messages():
			if !ok {
				return
			}
			handle(env)
		}
	}
}

// RunTick executes one full six-step pipeline (spec.md §4.3).
func (o *Orchestrator) RunTick(ctx context.Context) error {
	t := o.tickID

	// Clear the previous tick's change bits. Bits set by this tick's merges
	// stay readable, including through the snapshot taken in step 6, until
	// the next RunTick.
	o.store.ClearChangeBits()

	// Step 1: apply pending registry changes; the system set is frozen for
	// the rest of this tick.
	o.reg.applyPending()

	// Step 2: resolve pending entity spawn requests.
	o.applyPendingSpawns()

	// Step 3: compute stages.
	infos, instances, descriptors := o.reg.snapshot()
	constraints := o.reg.constraints()
	stages, err := scheduler.BuildStages(infos, constraints)
	if err != nil {
		o.logger.Error("schedule infeasible, tick skipped", log.Error(err), log.Uint64("tick_id", t))
		return err
	}

	// Step 4: stage exchange, in order; stage k+1 never starts before k's
	// merge completes because we await StageExchange before looping.
	for _, stage := range stages {
		if err := o.stageExchange(ctx, t, stage, instances, descriptors); err != nil {
			o.logger.Error("stage exchange error", log.Error(err))
		}
	}

	// Step 5: flush deferred broadcasts.
	if err := o.flushDeferred(ctx); err != nil {
		o.logger.Warn("failed flushing deferred broadcasts", log.Error(err))
	}

	// Step 6: refresh the tick-boundary snapshot ad-hoc queries read
	// through, advance tick counter, publish next TickStart.
	o.snapshot.Store(o.store.Snapshot())
	o.tickID++
	startEnv, encErr := encodeMsg(wire.SubjectTick, wire.MsgTypeTickStart, o.tickID, "", wire.TickStart{TickID: o.tickID})
	if encErr != nil {
		return encErr
	}
	return o.bus.Publish(ctx, startEnv)
}

func (o *Orchestrator) applyPendingSpawns() {
	o.spawnMu.Lock()
	spawns := o.pendingSpawns
	o.pendingSpawns = nil
	o.spawnMu.Unlock()

	for _, req := range spawns {
		sig := ecsid.NewSignature(req.Types...)
		entity, err := o.store.AllocateEntity(sig, req.Data)
		if err != nil {
			o.logger.Warn("spawn request failed", log.Error(err), log.String("request_id", req.RequestID))
			continue
		}
		o.deferredMu.Lock()
		o.deferredCreated = append(o.deferredCreated, wire.EntityCreated{Entity: entity, Archetype: sig})
		o.deferredMu.Unlock()
	}
}

func (o *Orchestrator) flushDeferred(ctx context.Context) error {
	o.deferredMu.Lock()
	created := o.deferredCreated
	destroyed := o.deferredDestroyed
	o.deferredCreated = nil
	o.deferredDestroyed = nil
	o.deferredMu.Unlock()

	var errs error
	for _, ec := range created {
		env, err := encodeMsg(wire.SubjectEntityCreate, wire.MsgTypeEntityCreated, o.tickID, "", ec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, o.bus.Publish(ctx, env))
	}
	for _, ed := range destroyed {
		env, err := encodeMsg(wire.SubjectEntityDestroy, wire.MsgTypeEntityDestroyed, o.tickID, "", ed)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, o.bus.Publish(ctx, env))
	}
	return errs
}

// stageExchange runs the per-system exchange (spec.md §4.3.1) for every
// system in stage, concurrently across systems — never across instances of
// the same system, which is the queue group's job (spec.md §5).
func (o *Orchestrator) stageExchange(ctx context.Context, t uint64, stage scheduler.Stage, instances map[string][]string, descriptors map[string]wire.SystemDescriptor) error {
	return concurrent.Concurrent(sequence.From(stage.Systems), func(name string) error {
		return o.exchangeOneSystem(ctx, t, name, descriptors[name], instances[name])
	})
}

func (o *Orchestrator) exchangeOneSystem(ctx context.Context, t uint64, name string, desc wire.SystemDescriptor, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		o.logger.Warn("system has no registered instances, skipping", log.String("system", name))
		return nil
	}

	// Step 1: subscribe to the changed-back subject before publishing
	// anything, so late arrivals are not lost.
	changedSub, err := o.bus.Subscribe(ctx, wire.SubjectComponentChanged(name))
	if err != nil {
		return fmt.Errorf("subscribe changed-back for %q: %w", name, err)
	}
	defer func() { _ = changedSub.Unsubscribe() }()

	ackSub, err := o.bus.Subscribe(ctx, wire.SubjectTickDone)
	if err != nil {
		return fmt.Errorf("subscribe tick-done for %q: %w", name, err)
	}
	defer func() { _ = ackSub.Unsubscribe() }()

	qd := descriptorToQuery(desc)
	matches := o.engine.Select(qd)
	dataSubject := wire.SubjectComponentSet(name)

	// Step 2: publish ComponentShard messages.
	if err := o.publishShards(ctx, t, dataSubject, matches, desc); err != nil {
		return err
	}

	// Step 3: DataDone sentinel.
	doneEnv, err := encodeMsg(dataSubject, wire.MsgTypeDataDone, t, "", wire.DataDone{TickID: t})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, doneEnv); err != nil {
		return err
	}

	// Step 4: one SystemSchedule per instance, contiguous shard ranges.
	ranges := query.Shard(matches, len(instanceIDs))
	scheduleSubject := wire.SubjectSystemSchedule(name)
	for i, id := range instanceIDs {
		rng := ranges[i]
		start, count := rng.Start, rng.Count
		msg := wire.SystemSchedule{TickID: t, ShardStart: &start, ShardCount: &count}
		env, err := encodeMsg(scheduleSubject, wire.MsgTypeSystemSchedule, t, id, msg)
		if err != nil {
			return err
		}
		if err := o.bus.Publish(ctx, env); err != nil {
			return err
		}
	}

	// Steps 5-7: drain changed-back traffic and tick acks until every
	// instance is accounted for or the deadlines elapse.
	shards, spawns, changesDoneBy := o.drainChangedBack(ctx, changedSub, len(instanceIDs))
	ackedBy := o.drainTickAcks(ctx, ackSub, name, len(instanceIDs))

	valid := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		if changesDoneBy[id] && ackedBy[id] {
			valid[id] = true
		} else {
			o.logger.Warn("instance missing ChangesDone or TickAck, dropping its results",
				log.String("system", name), log.String("instance", id), log.Uint64("tick_id", t))
		}
	}
	if len(valid) == 0 {
		o.logger.Warn("all instances missing, skipping system for this tick", log.String("system", name), log.Uint64("tick_id", t))
		return nil
	}

	// Step 8: merge — overwrite-only, one writer per cell within a stage.
	o.mergeShards(shards, valid)
	o.spawnMu.Lock()
	for _, s := range spawns {
		if valid[s.InstanceID] {
			o.pendingSpawns = append(o.pendingSpawns, s)
		}
	}
	o.spawnMu.Unlock()

	return nil
}

func (o *Orchestrator) publishShards(ctx context.Context, t uint64, subject string, matches []query.Match, desc wire.SystemDescriptor) error {
	accessTypes := dedupTypes(desc.Reads, desc.Writes, desc.Optionals)
	maxRows := o.cfg.MaxShardRows
	if maxRows <= 0 {
		maxRows = 512
	}

	for _, m := range matches {
		for _, c := range accessTypes {
			col, ok := m.Table.Column(c)
			if !ok {
				continue
			}
			entities := m.Table.Entities()
			for start := 0; start < len(m.Rows); start += maxRows {
				end := start + maxRows
				if end > len(m.Rows) {
					end = len(m.Rows)
				}
				shardEntities := make([]ecsid.EntityID, 0, end-start)
				shardData := make([][]byte, 0, end-start)
				for _, row := range m.Rows[start:end] {
					shardEntities = append(shardEntities, entities[row])
					shardData = append(shardData, col[row])
				}
				shard := wire.ComponentShard{
					Archetype: m.Table.Signature(),
					Component: c,
					Start:     start,
					Entities:  shardEntities,
					Data:      shardData,
				}
				env, err := encodeMsg(subject, wire.MsgTypeComponentShard, t, "", shard)
				if err != nil {
					return err
				}
				if len(env.Payload) >= wire.CompressThreshold {
					compressed, ok := wire.MaybeCompress(env.Payload)
					if ok {
						env.Payload = compressed
						env.SetHeader(wire.HeaderEncoding, wire.EncodingZstd)
					}
				}
				if err := o.bus.Publish(ctx, env); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// receivedShard pairs a merge-bound shard with the instance that produced
// it, so a missing ChangesDone/TickAck can drop exactly that instance's
// contribution without touching another's.
type receivedShard struct {
	shard      wire.ComponentShard
	instanceID string
}

// drainChangedBack reads the changed-back subject until a ChangesDone has
// been observed from every one of wantCount instances, or the sentinel
// deadline elapses (spec.md §4.3.1 step 5).
func (o *Orchestrator) drainChangedBack(ctx context.Context, sub transport.Subscription, wantCount int) ([]receivedShard, []wire.EntitySpawnRequest, map[string]bool) {
	var shards []receivedShard
	var spawns []wire.EntitySpawnRequest
	done := make(map[string]bool)

	deadline := time.NewTimer(o.cfg.SentinelDrainDeadline)
	defer deadline.Stop()

	for len(done) < wantCount {
		select {
		case <-ctx.Done():
			return shards, spawns, done
		case <-deadline.C:
			return shards, spawns, done
		case env, ok := <-sub.Messages():
			if !ok {
				return shards, spawns, done
			}
			instanceID := env.Header(wire.HeaderInstanceID)
			switch env.Header(wire.HeaderMsgType) {
			case wire.MsgTypeComponentShard:
				shard, err := decodeAs[wire.ComponentShard](env)
				if err != nil {
					continue
				}
				shards = append(shards, receivedShard{shard: shard, instanceID: instanceID})
			case wire.MsgTypeEntitySpawnRequest:
				req, err := decodeAs[wire.EntitySpawnRequest](env)
				if err != nil {
					continue
				}
				req.InstanceID = instanceID
				spawns = append(spawns, req)
			case wire.MsgTypeChangesDone:
				cd, err := decodeAs[wire.ChangesDone](env)
				if err != nil {
					continue
				}
				done[cd.InstanceID] = true
			}
		}
	}
	return shards, spawns, done
}

func (o *Orchestrator) drainTickAcks(ctx context.Context, sub transport.Subscription, system string, wantCount int) map[string]bool {
	acked := make(map[string]bool)
	deadline := time.NewTimer(o.cfg.TickAckDeadline)
	defer deadline.Stop()

	for len(acked) < wantCount {
		select {
		case <-ctx.Done():
			return acked
		case <-deadline.C:
			return acked
		case env, ok := <-sub.Messages():
			if !ok {
				return acked
			}
			ack, err := decodeAs[wire.TickAck](env)
			if err != nil || ack.System != system {
				continue
			}
			acked[ack.InstanceID] = true
		}
	}
	return acked
}

func (o *Orchestrator) mergeShards(received []receivedShard, valid map[string]bool) {
	for _, r := range received {
		if r.instanceID != "" && !valid[r.instanceID] {
			continue
		}
		shard := r.shard
		for i, entity := range shard.Entities {
			if err := o.store.Mutate(entity, shard.Component, shard.Data[i]); err != nil {
				o.logger.Debug("merge skipped cell", log.Error(err))
				continue
			}
		}
		if err := o.store.MarkChanged(shard.Component, shard.Entities); err != nil {
			o.logger.Warn("mark changed failed", log.Error(err))
		}
	}
}

func dedupTypes(sets ...ecsid.Signature) ecsid.Signature {
	var all ecsid.Signature
	for _, s := range sets {
		all = append(all, s...)
	}
	sig := ecsid.NewSignature(all...)
	sort.Slice(sig, func(i, j int) bool { return sig[i] < sig[j] })
	return sig
}

func encodeMsg(subject, msgType string, tickID uint64, instanceID string, v any) (wire.Envelope, error) {
	payload, err := codec.Encode(v)
	if err != nil {
		return wire.Envelope{}, err
	}
	env := wire.NewEnvelope(subject, payload)
	env.SetHeader(wire.HeaderMsgType, msgType)
	env.SetHeader(wire.HeaderTickID, fmt.Sprintf("%d", tickID))
	if instanceID != "" {
		env.SetHeader(wire.HeaderInstanceID, instanceID)
	}
	return env, nil
}

func decodeAs[T any](env wire.Envelope) (T, error) {
	var v T
	payload := env.Payload
	if env.Header(wire.HeaderEncoding) == wire.EncodingZstd {
		decompressed, err := wire.Decompress(payload)
		if err != nil {
			return v, err
		}
		payload = decompressed
	}
	if err := codec.Decode(payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
