// Package ecsid defines the identifier types shared across the engine:
// entity identifiers, component type identifiers, and archetype signatures.
package ecsid

import (
	"hash/fnv"
	"sort"
)

// EntityID is a monotonically allocated, opaque entity identifier.
// The coordinator is the sole allocator; ids are never recycled.
type EntityID uint64

// ComponentTypeID is the FNV-1a 64 hash of a component's short PascalCase
// name. Two distinct component schemas must never register under the same
// hash; the registry enforces this at registration time.
type ComponentTypeID uint64

// HashComponentName computes the FNV-1a 64 hash of name. The empty string
// hashes to the FNV-1a offset basis, 0xcbf29ce484222325.
func HashComponentName(name string) ComponentTypeID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return ComponentTypeID(h.Sum64())
}

// Signature is a sorted, duplicate-free sequence of ComponentTypeIDs. Equal
// signatures designate the same archetype.
type Signature []ComponentTypeID

// NewSignature sorts and deduplicates ids into a canonical Signature.
func NewSignature(ids ...ComponentTypeID) Signature {
	if len(ids) == 0 {
		return Signature{}
	}
	cp := make(Signature, len(ids))
	copy(cp, ids)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:1]
	for _, id := range cp[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// Equal reports whether two signatures contain the same component types.
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether t is present in the signature.
func (s Signature) Contains(t ComponentTypeID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= t })
	return i < len(s) && s[i] == t
}

// SupersetOf reports whether s contains every component type in required.
func (s Signature) SupersetOf(required Signature) bool {
	for _, t := range required {
		if !s.Contains(t) {
			return false
		}
	}
	return true
}

// DisjointFrom reports whether s shares no component type with excluded.
func (s Signature) DisjointFrom(excluded Signature) bool {
	for _, t := range excluded {
		if s.Contains(t) {
			return false
		}
	}
	return true
}

// With returns a new signature with t added, preserving sorted-uniqueness.
func (s Signature) With(t ComponentTypeID) Signature {
	if s.Contains(t) {
		return s
	}
	return NewSignature(append(append(Signature{}, s...), t)...)
}

// Without returns a new signature with t removed, if present.
func (s Signature) Without(t ComponentTypeID) Signature {
	if !s.Contains(t) {
		return s
	}
	out := make(Signature, 0, len(s)-1)
	for _, id := range s {
		if id != t {
			out = append(out, id)
		}
	}
	return out
}

// Key renders the signature as a stable map key, usable as an identity hash
// for the archetype table registry.
func (s Signature) Key() string {
	buf := make([]byte, 0, len(s)*9)
	for _, t := range s {
		buf = appendUint64(buf, uint64(t))
		buf = append(buf, '|')
	}
	return string(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	if v == 0 {
		i--
		tmp[i] = '0'
	}
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[i:]...)
}
