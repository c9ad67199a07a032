package ecsid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashComponentName(t *testing.T) {
	t.Run("deterministic across calls", func(t *testing.T) {
		require.Equal(t, HashComponentName("Position"), HashComponentName("Position"))
	})

	t.Run("empty string hashes to the FNV-1a offset basis", func(t *testing.T) {
		require.Equal(t, ComponentTypeID(0xcbf29ce484222325), HashComponentName(""))
	})

	t.Run("distinct names hash differently", func(t *testing.T) {
		require.NotEqual(t, HashComponentName("Position"), HashComponentName("Velocity"))
	})
}

func TestNewSignature(t *testing.T) {
	t.Run("sorts and dedupes", func(t *testing.T) {
		s := NewSignature(3, 1, 2, 1, 3)
		require.Equal(t, Signature{1, 2, 3}, s)
	})

	t.Run("empty input yields empty signature", func(t *testing.T) {
		require.Equal(t, Signature{}, NewSignature())
	})
}

func TestSignatureEqual(t *testing.T) {
	a := NewSignature(1, 2, 3)
	b := NewSignature(3, 2, 1)
	c := NewSignature(1, 2)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestSignatureContains(t *testing.T) {
	s := NewSignature(1, 5, 9)

	require.True(t, s.Contains(5))
	require.False(t, s.Contains(6))
}

func TestSignatureSupersetOf(t *testing.T) {
	s := NewSignature(1, 2, 3, 4)

	require.True(t, s.SupersetOf(NewSignature(2, 4)))
	require.False(t, s.SupersetOf(NewSignature(2, 99)))
}

func TestSignatureDisjointFrom(t *testing.T) {
	s := NewSignature(1, 2, 3)

	require.True(t, s.DisjointFrom(NewSignature(4, 5)))
	require.False(t, s.DisjointFrom(NewSignature(3, 5)))
}

func TestSignatureWith(t *testing.T) {
	s := NewSignature(1, 3)

	require.Equal(t, Signature{1, 2, 3}, s.With(2))
	require.Equal(t, Signature{1, 3}, s.With(1), "adding an existing member is a no-op")
}

func TestSignatureWithout(t *testing.T) {
	s := NewSignature(1, 2, 3)

	require.Equal(t, Signature{1, 3}, s.Without(2))
	require.Equal(t, Signature{1, 2, 3}, s.Without(99), "removing a missing member is a no-op")
}

func TestSignatureKey(t *testing.T) {
	t.Run("stable across equal signatures", func(t *testing.T) {
		a := NewSignature(1, 2, 3)
		b := NewSignature(3, 1, 2)
		require.Equal(t, a.Key(), b.Key())
	})

	t.Run("distinct for distinct signatures", func(t *testing.T) {
		require.NotEqual(t, NewSignature(1, 2).Key(), NewSignature(1, 3).Key())
	})
}
