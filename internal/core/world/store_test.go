package world

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
)

var (
	typePosition = ecsid.HashComponentName("Position")
	typeVelocity = ecsid.HashComponentName("Velocity")
	typeHealth   = ecsid.HashComponentName("Health")
)

func TestStoreAllocateEntity(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition, typeVelocity)

	e1, err := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{
		typePosition: []byte("pos1"),
		typeVelocity: []byte("vel1"),
	})
	require.NoError(t, err)

	e2, err := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{
		typePosition: []byte("pos2"),
		typeVelocity: []byte("vel2"),
	})
	require.NoError(t, err)
	require.NotEqual(t, e1, e2)
	require.Equal(t, 2, s.EntityCount())
	require.NoError(t, s.CheckInvariants())
}

func TestStoreAllocateEntityFiresCallback(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typeHealth)

	var gotEntity ecsid.EntityID
	var gotSig ecsid.Signature
	s.OnEntityCreated(func(e ecsid.EntityID, sg ecsid.Signature) {
		gotEntity = e
		gotSig = sg
	})

	e, err := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typeHealth: []byte("100")})
	require.NoError(t, err)
	require.Equal(t, e, gotEntity)
	require.True(t, sig.Equal(gotSig))
}

func TestStoreDestroyEntity(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition)

	e1, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("a")})
	e2, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("b")})

	var destroyed ecsid.EntityID
	s.OnEntityDestroyed(func(e ecsid.EntityID) { destroyed = e })

	require.NoError(t, s.DestroyEntity(e1))
	require.Equal(t, e1, destroyed)
	require.Equal(t, 1, s.EntityCount())
	require.NoError(t, s.CheckInvariants())

	_, _, ok := s.Locate(e1)
	require.False(t, ok)
	_, _, ok = s.Locate(e2)
	require.True(t, ok)
}

func TestStoreDestroyUnknownEntityIsNoop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.DestroyEntity(999))
}

func TestStoreMutate(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition)
	e, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("initial")})

	require.NoError(t, s.Mutate(e, typePosition, []byte("updated")))
	require.True(t, s.IsChanged(e, typePosition))

	_, row, ok := s.Locate(e)
	require.True(t, ok)
	require.Equal(t, 0, row)
}

func TestStoreMutateUnknownEntity(t *testing.T) {
	s := New(nil)
	err := s.Mutate(999, typePosition, []byte("x"))
	require.Error(t, err)
}

func TestStoreMigrate(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition)
	e, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("pos")})

	newSig := ecsid.NewSignature(typePosition, typeVelocity)
	err := s.Migrate(e, newSig, map[ecsid.ComponentTypeID][]byte{typeVelocity: []byte("vel")}, nil)
	require.NoError(t, err)

	gotSig, _, ok := s.Locate(e)
	require.True(t, ok)
	require.True(t, gotSig.Equal(newSig))
	require.NoError(t, s.CheckInvariants())
}

func TestStoreMigrateDropsComponent(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition, typeVelocity)
	e, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{
		typePosition: []byte("pos"),
		typeVelocity: []byte("vel"),
	})

	newSig := ecsid.NewSignature(typePosition)
	err := s.Migrate(e, newSig, nil, []ecsid.ComponentTypeID{typeVelocity})
	require.NoError(t, err)

	gotSig, _, ok := s.Locate(e)
	require.True(t, ok)
	require.True(t, gotSig.Equal(newSig))
}

func TestStoreClearChangeBits(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition)
	e, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("a")})
	require.NoError(t, s.Mutate(e, typePosition, []byte("b")))
	require.True(t, s.IsChanged(e, typePosition))

	s.ClearChangeBits()
	require.False(t, s.IsChanged(e, typePosition))
}

func TestStoreMarkChanged(t *testing.T) {
	s := New(nil)
	sig := ecsid.NewSignature(typePosition)
	e, _ := s.AllocateEntity(sig, map[ecsid.ComponentTypeID][]byte{typePosition: []byte("a")})

	require.NoError(t, s.MarkChanged(typePosition, []ecsid.EntityID{e}))
	require.True(t, s.IsChanged(e, typePosition))
}

func TestStoreEpochBumpsOnNewArchetype(t *testing.T) {
	s := New(nil)
	before := s.Epoch()
	_, err := s.AllocateEntity(ecsid.NewSignature(typePosition), map[ecsid.ComponentTypeID][]byte{typePosition: []byte("a")})
	require.NoError(t, err)
	require.Greater(t, s.Epoch(), before)

	after := s.Epoch()
	_, err = s.AllocateEntity(ecsid.NewSignature(typePosition), map[ecsid.ComponentTypeID][]byte{typePosition: []byte("b")})
	require.NoError(t, err)
	require.Equal(t, after, s.Epoch(), "reusing an existing archetype must not bump the epoch")
}
