package tick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/schema"
	"github.com/tickforge/ecsengine/internal/core/transport/inproc"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
	"github.com/tickforge/ecsengine/internal/core/world"
)

var (
	typePosition = ecsid.HashComponentName("Position")
	typeVelocity = ecsid.HashComponentName("Velocity")
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *world.Store, *inproc.Bus) {
	t.Helper()
	bus := inproc.New()
	store := world.New(nil)
	engine := query.New(store)
	o := New(store, engine, bus, log.New(log.LevelInfo), Config{
		SentinelDrainDeadline: 500 * time.Millisecond,
		TickAckDeadline:       500 * time.Millisecond,
		MaxShardRows:          512,
	}, nil)
	return o, store, bus
}

func registerSystem(t *testing.T, ctx context.Context, bus *inproc.Bus, desc wire.SystemDescriptor) {
	t.Helper()
	payload, err := codec.Encode(desc)
	require.NoError(t, err)
	env := wire.NewEnvelope(wire.SubjectSystemRegister, payload)
	require.NoError(t, bus.Publish(ctx, env))
}

// fakeSystemInstance plays the role of a single system.Harness instance,
// just enough of the stage-exchange protocol to let RunTick's merge step
// observe a round trip.
func fakeSystemInstance(t *testing.T, ctx context.Context, bus *inproc.Bus, name, instanceID string, mutate func(wire.ComponentShard) wire.ComponentShard) {
	t.Helper()
	dataSub, err := bus.Subscribe(ctx, wire.SubjectComponentSet(name))
	require.NoError(t, err)
	scheduleSub, err := bus.QueueSubscribe(ctx, wire.SubjectSystemSchedule(name), wire.QueueGroup(name))
	require.NoError(t, err)

	go func() {
		defer dataSub.Unsubscribe()
		defer scheduleSub.Unsubscribe()

		var shards []wire.ComponentShard
		var tickID uint64
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-dataSub.Messages():
				if !ok {
					return
				}
				switch env.Header(wire.HeaderMsgType) {
				case wire.MsgTypeComponentShard:
					var shard wire.ComponentShard
					_ = codec.Decode(env.Payload, &shard)
					shards = append(shards, shard)
				case wire.MsgTypeDataDone:
					var dd wire.DataDone
					_ = codec.Decode(env.Payload, &dd)
					tickID = dd.TickID
					goto waitSchedule
				}
			}
		}

	waitSchedule:
		select {
		case <-ctx.Done():
			return
		case <-scheduleSub.Messages():
		}

		changedSubject := wire.SubjectComponentChanged(name)
		for _, shard := range shards {
			out := mutate(shard)
			payload, _ := codec.Encode(out)
			env := wire.NewEnvelope(changedSubject, payload)
			env.SetHeader(wire.HeaderMsgType, wire.MsgTypeComponentShard)
			env.SetHeader(wire.HeaderInstanceID, instanceID)
			_ = bus.Publish(ctx, env)
		}

		cdPayload, _ := codec.Encode(wire.ChangesDone{TickID: tickID, InstanceID: instanceID})
		cdEnv := wire.NewEnvelope(changedSubject, cdPayload)
		cdEnv.SetHeader(wire.HeaderMsgType, wire.MsgTypeChangesDone)
		cdEnv.SetHeader(wire.HeaderInstanceID, instanceID)
		_ = bus.Publish(ctx, cdEnv)

		ackPayload, _ := codec.Encode(wire.TickAck{TickID: tickID, System: name, InstanceID: instanceID})
		ackEnv := wire.NewEnvelope(wire.SubjectTickDone, ackPayload)
		ackEnv.SetHeader(wire.HeaderMsgType, wire.MsgTypeTickAck)
		_ = bus.Publish(ctx, ackEnv)
	}()
}

func TestRunTickMergesSystemResults(t *testing.T) {
	o, store, bus := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, o.Start(ctx))

	e, err := store.AllocateEntity(ecsid.NewSignature(typePosition, typeVelocity), map[ecsid.ComponentTypeID][]byte{
		typePosition: []byte("0"),
		typeVelocity: []byte("1"),
	})
	require.NoError(t, err)

	instanceID := "inst-1"
	registerSystem(t, ctx, bus, wire.SystemDescriptor{
		Name:       "physics",
		InstanceID: instanceID,
		Reads:      []ecsid.ComponentTypeID{typeVelocity},
		Writes:     []ecsid.ComponentTypeID{typePosition},
	})

	fakeSystemInstance(t, ctx, bus, "physics", instanceID, func(shard wire.ComponentShard) wire.ComponentShard {
		for i := range shard.Data {
			shard.Data[i] = []byte("moved")
		}
		return shard
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, o.RunTick(ctx))

	var pos []byte
	sig, row, ok := store.Locate(e)
	require.True(t, ok)
	table := store.Archetypes()
	for _, tb := range table {
		if tb.Signature().Equal(sig) {
			col, _ := tb.Column(typePosition)
			pos = col[row]
		}
	}
	require.Equal(t, []byte("moved"), pos)
	require.True(t, store.IsChanged(e, typePosition))
}

func TestRunTickSkipsInstanceMissingTickAck(t *testing.T) {
	o, store, bus := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, o.Start(ctx))

	e, err := store.AllocateEntity(ecsid.NewSignature(typePosition), map[ecsid.ComponentTypeID][]byte{
		typePosition: []byte("untouched"),
	})
	require.NoError(t, err)

	instanceID := "inst-missing-ack"
	registerSystem(t, ctx, bus, wire.SystemDescriptor{
		Name:       "physics",
		InstanceID: instanceID,
		Writes:     []ecsid.ComponentTypeID{typePosition},
	})

	dataSub, err := bus.Subscribe(ctx, wire.SubjectComponentSet("physics"))
	require.NoError(t, err)
	scheduleSub, err := bus.QueueSubscribe(ctx, wire.SubjectSystemSchedule("physics"), wire.QueueGroup("physics"))
	require.NoError(t, err)
	// The instance publishes a write and ChangesDone but never a TickAck.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-dataSub.Messages():
			case env := <-scheduleSub.Messages():
				var sched wire.SystemSchedule
				_ = codec.Decode(env.Payload, &sched)
				changedSubject := wire.SubjectComponentChanged("physics")
				shardPayload, _ := codec.Encode(wire.ComponentShard{
					Archetype: ecsid.NewSignature(typePosition),
					Component: typePosition,
					Entities:  []ecsid.EntityID{e},
					Data:      [][]byte{[]byte("moved")},
				})
				shardEnv := wire.NewEnvelope(changedSubject, shardPayload)
				shardEnv.SetHeader(wire.HeaderMsgType, wire.MsgTypeComponentShard)
				shardEnv.SetHeader(wire.HeaderInstanceID, instanceID)
				_ = bus.Publish(ctx, shardEnv)

				cdPayload, _ := codec.Encode(wire.ChangesDone{TickID: sched.TickID, InstanceID: instanceID})
				cdEnv := wire.NewEnvelope(changedSubject, cdPayload)
				cdEnv.SetHeader(wire.HeaderMsgType, wire.MsgTypeChangesDone)
				cdEnv.SetHeader(wire.HeaderInstanceID, instanceID)
				_ = bus.Publish(ctx, cdEnv)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, o.RunTick(ctx))

	_, row, ok := store.Locate(e)
	require.True(t, ok)
	sig, _, _ := store.Locate(e)
	for _, tb := range store.Archetypes() {
		if tb.Signature().Equal(sig) {
			col, _ := tb.Column(typePosition)
			require.Equal(t, []byte("untouched"), col[row])
		}
	}
}

func TestHandleQueryRequestPublishesResponse(t *testing.T) {
	o, store, bus := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx))

	_, err := store.AllocateEntity(ecsid.NewSignature(typePosition), map[ecsid.ComponentTypeID][]byte{typePosition: []byte("p")})
	require.NoError(t, err)

	// A query is answered from the snapshot taken at the last tick boundary
	// (spec.md §5), not from the live store, so a tick has to run once
	// before the new entity is visible to handleQueryRequest.
	require.NoError(t, o.RunTick(ctx))

	respSub, err := bus.Subscribe(ctx, wire.SubjectQueryResponse)
	require.NoError(t, err)

	payload, err := codec.Encode(wire.QueryRequest{RequestID: "req-1", Reads: []ecsid.ComponentTypeID{typePosition}})
	require.NoError(t, err)
	env := wire.NewEnvelope(wire.SubjectQueryRequest, payload)
	require.NoError(t, bus.Publish(ctx, env))

	select {
	case got := <-respSub.Messages():
		var resp wire.QueryResponse
		require.NoError(t, codec.Decode(got.Payload, &resp))
		require.Equal(t, "req-1", resp.RequestID)
		require.Len(t, resp.Shards, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for QueryResponse")
	}
}

func TestHandleSchemaRequestNotFound(t *testing.T) {
	bus := inproc.New()
	store := world.New(nil)
	engine := query.New(store)
	reg, err := schema.New(nil)
	require.NoError(t, err)
	o := New(store, engine, bus, log.New(log.LevelInfo), DefaultConfig(), reg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx))

	respSub, err := bus.Subscribe(ctx, wire.SubjectSchemaResponse)
	require.NoError(t, err)

	payload, err := codec.Encode(wire.SchemaRequest{RequestID: "s-1", Name: "Missing"})
	require.NoError(t, err)
	env := wire.NewEnvelope(wire.SubjectSchemaRequest, payload)
	require.NoError(t, bus.Publish(ctx, env))

	select {
	case got := <-respSub.Messages():
		var resp wire.SchemaResponse
		require.NoError(t, codec.Decode(got.Payload, &resp))
		require.Equal(t, "s-1", resp.RequestID)
		require.NotEmpty(t, resp.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SchemaResponse")
	}
}
