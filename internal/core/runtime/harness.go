// Package runtime is the per-process system runtime: the state machine a
// system implementation runs inside to participate in the tick protocol
// (spec.md §4.5), plus the SystemFunc sugar that lets a concrete system be
// written as a plain function against a LocalWorld instead of hand-rolling
// the state machine.
package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
)

// State is one stop on the per-process state machine (spec.md §4.5).
type State int32

const (
	Disconnected State = iota
	Connecting
	Registering
	Idle
	Draining
	Executing
	Publishing
	Unregistering
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Registering:
		return "registering"
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Executing:
		return "executing"
	case Publishing:
		return "publishing"
	case Unregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// SystemFunc is a concrete system's entry point: given every row this
// instance received this tick, mutate view and return. The SystemSchedule
// shard hint is not passed to the function, so every instance of a system
// sees the full row set. This is ergonomic sugar over the operations spec.md §4.5 already names,
// not new protocol surface.
type SystemFunc func(ctx context.Context, view *LocalWorld) error

// Descriptor declares the access sets and ordering a system registers
// with (the harness fills in InstanceID itself).
type Descriptor struct {
	Name        string
	Reads       ecsid.Signature
	Writes      ecsid.Signature
	Optionals   ecsid.Signature
	Filters     []query.Filter
	OrderBefore []string
	OrderAfter  []string
}

// Config tunes harness timing.
type Config struct {
	DataDeadline      time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig mirrors the coordinator's sentinel-drain default.
func DefaultConfig() Config {
	return Config{DataDeadline: 5 * time.Second, HeartbeatInterval: 2 * time.Second}
}

// Harness runs one system instance's side of the tick protocol.
type Harness struct {
	desc       Descriptor
	instanceID string
	bus        transport.Bus
	logger     log.Log
	fn         SystemFunc
	cfg        Config

	state atomic.Int32

	executingSince atomic.Int64 // unix nanos, 0 when not executing
	loadEMA        atomic.Value // float64
}

// New builds a harness for desc, running fn against the bus.
func New(desc Descriptor, fn SystemFunc, bus transport.Bus, logger log.Log, cfg Config) *Harness {
	h := &Harness{
		desc:       desc,
		instanceID: uuid.NewString(),
		bus:        bus,
		logger:     logger.With(log.String("component", "runtime"), log.String("system", desc.Name)),
		fn:         fn,
		cfg:        cfg,
	}
	h.loadEMA.Store(0.0)
	h.setState(Disconnected)
	return h
}

func (h *Harness) setState(s State) {
	h.state.Store(int32(s))
	h.logger.Debug("state transition", log.String("state", s.String()))
}

// State returns the harness's current state.
func (h *Harness) State() State { return State(h.state.Load()) }

// Run registers the system and drives the tick loop until ctx is
// canceled, at which point it unregisters and returns.
func (h *Harness) Run(ctx context.Context) error {
	h.setState(Connecting)
	h.setState(Registering)
	if err := h.register(ctx); err != nil {
		return fmt.Errorf("register %s: %w", h.desc.Name, err)
	}
	h.setState(Idle)

	dataSub, err := h.bus.Subscribe(ctx, wire.SubjectComponentSet(h.desc.Name))
	if err != nil {
		return err
	}
	defer func() { _ = dataSub.Unsubscribe() }()

	scheduleSub, err := h.bus.QueueSubscribe(ctx, wire.SubjectSystemSchedule(h.desc.Name), wire.QueueGroup(h.desc.Name))
	if err != nil {
		return err
	}
	defer func() { _ = scheduleSub.Unsubscribe() }()

	stopHeartbeat := h.startHeartbeat(ctx)
	defer stopHeartbeat()

	for {
		if err := h.runOneTick(ctx, dataSub, scheduleSub); err != nil {
			if ctx.Err() != nil {
				break
			}
			h.logger.Warn("tick cycle error", log.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	h.setState(Unregistering)
	_ = h.unregister(context.Background())
	h.setState(Disconnected)
	return nil
}

func (h *Harness) register(ctx context.Context) error {
	filters := make([]wire.FilterSpec, 0, len(h.desc.Filters))
	for _, f := range h.desc.Filters {
		kind := "with"
		switch f.Kind {
		case query.Without:
			kind = "without"
		case query.Changed:
			kind = "changed"
		}
		filters = append(filters, wire.FilterSpec{Kind: kind, Type: f.Type})
	}
	d := wire.SystemDescriptor{
		Name:        h.desc.Name,
		InstanceID:  h.instanceID,
		Reads:       h.desc.Reads,
		Writes:      h.desc.Writes,
		Optionals:   h.desc.Optionals,
		Filters:     filters,
		OrderBefore: h.desc.OrderBefore,
		OrderAfter:  h.desc.OrderAfter,
	}
	return h.publish(ctx, wire.SubjectSystemRegister, wire.MsgTypeSystemDescriptor, 0, d)
}

func (h *Harness) unregister(ctx context.Context) error {
	u := wire.SystemUnregister{Name: h.desc.Name, InstanceID: h.instanceID}
	return h.publish(ctx, wire.SubjectSystemUnregister, wire.MsgTypeSystemUnregister, 0, u)
}

// runOneTick executes the Idle -> Draining -> Executing -> Publishing ->
// Idle cycle for a single tick (spec.md §4.5).
func (h *Harness) runOneTick(ctx context.Context, dataSub, scheduleSub transport.Subscription) error {
	h.setState(Draining)

	view := newLocalWorld()
	var tickID uint64
	var shardStart, shardCount *int
	dataDone := false
	scheduled := false

	deadline := time.NewTimer(h.cfg.DataDeadline)
	defer deadline.Stop()

	for !(dataDone && scheduled) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			dataDone, scheduled = true, true
		case env, ok := <-dataSub.Messages():
			if !ok {
				return nil
			}
			switch env.Header(wire.HeaderMsgType) {
			case wire.MsgTypeComponentShard:
				shard, err := decodeEnv[wire.ComponentShard](env)
				if err == nil {
					view.ingest(shard)
				}
			case wire.MsgTypeDataDone:
				dd, err := decodeEnv[wire.DataDone](env)
				if err == nil {
					tickID = dd.TickID
					dataDone = true
				}
			}
		case env, ok := <-scheduleSub.Messages():
			if !ok {
				return nil
			}
			sched, err := decodeEnv[wire.SystemSchedule](env)
			if err == nil {
				tickID = sched.TickID
				shardStart, shardCount = sched.ShardStart, sched.ShardCount
				scheduled = true
			}
		}
	}

	h.setState(Executing)
	h.executingSince.Store(time.Now().UnixNano())
	var fnErr error
	if h.fn != nil {
		fnErr = h.fn(ctx, view)
	}
	elapsed := time.Since(time.Unix(0, h.executingSince.Load()))
	h.executingSince.Store(0)
	h.updateLoad(elapsed)
	if fnErr != nil {
		h.logger.Warn("system function returned error", log.Error(fnErr))
	}

	h.setState(Publishing)
	if err := h.publishResults(ctx, tickID, view, shardStart, shardCount); err != nil {
		return err
	}

	h.setState(Idle)
	return nil
}

func (h *Harness) publishResults(ctx context.Context, tickID uint64, view *LocalWorld, shardStart, shardCount *int) error {
	changedSubject := wire.SubjectComponentChanged(h.desc.Name)

	for c, col := range view.pendingChanges {
		entities := make([]ecsid.EntityID, 0, len(col))
		data := make([][]byte, 0, len(col))
		var archetype ecsid.Signature
		for e, v := range col {
			entities = append(entities, e)
			data = append(data, v)
			if archetype == nil {
				if sig, ok := view.archetypeOf(e); ok {
					archetype = sig
				}
			}
		}
		shard := wire.ComponentShard{Archetype: archetype, Component: c, Start: 0, Entities: entities, Data: data}
		if err := h.publish(ctx, changedSubject, wire.MsgTypeComponentShard, tickID, shard); err != nil {
			return err
		}
	}

	for _, spawn := range view.pendingSpawns {
		spawn.Source = h.desc.Name
		spawn.InstanceID = h.instanceID
		if err := h.publish(ctx, changedSubject, wire.MsgTypeEntitySpawnRequest, tickID, spawn); err != nil {
			return err
		}
	}

	done := wire.ChangesDone{TickID: tickID, InstanceID: h.instanceID}
	if err := h.publish(ctx, changedSubject, wire.MsgTypeChangesDone, tickID, done); err != nil {
		return err
	}

	ack := wire.TickAck{TickID: tickID, System: h.desc.Name, InstanceID: h.instanceID}
	return h.publish(ctx, wire.SubjectTickDone, wire.MsgTypeTickAck, tickID, ack)
}

func (h *Harness) startHeartbeat(ctx context.Context) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				load, _ := h.loadEMA.Load().(float64)
				hb := wire.Heartbeat{InstanceID: h.instanceID, System: h.desc.Name, Load: load, At: time.Now()}
				if err := h.publish(ctx, wire.SubjectSystemHeartbeat, wire.MsgTypeHeartbeat, 0, hb); err != nil {
					h.logger.Debug("heartbeat publish failed", log.Error(err))
				}
			}
		}
	}()
	return func() { close(stop) }
}

// updateLoad folds the fraction of the heartbeat interval spent in
// Executing into an exponential moving average.
func (h *Harness) updateLoad(executing time.Duration) {
	const alpha = 0.3
	sample := executing.Seconds() / h.cfg.HeartbeatInterval.Seconds()
	if sample > 1 {
		sample = 1
	}
	prev, _ := h.loadEMA.Load().(float64)
	h.loadEMA.Store(prev*(1-alpha) + sample*alpha)
}

func (h *Harness) publish(ctx context.Context, subject, msgType string, tickID uint64, v any) error {
	payload, err := codec.Encode(v)
	if err != nil {
		return err
	}
	env := wire.NewEnvelope(subject, payload)
	env.SetHeader(wire.HeaderMsgType, msgType)
	env.SetHeader(wire.HeaderTickID, strconv.FormatUint(tickID, 10))
	env.SetHeader(wire.HeaderInstanceID, h.instanceID)
	return h.bus.Publish(ctx, env)
}

func decodeEnv[T any](env wire.Envelope) (T, error) {
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
