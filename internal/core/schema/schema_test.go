package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/internal/core/ecsid"
)

const positionSchema = `{
	"type": "object",
	"properties": {"x": {"type": "number"}, "y": {"type": "number"}},
	"required": ["x", "y"]
}`

func TestRegisterAndValidate(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	typeID, err := r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)
	require.Equal(t, ecsid.HashComponentName("Position"), typeID)

	require.NoError(t, r.Validate(typeID, map[string]any{"x": 1.0, "y": 2.0}))
	require.Error(t, r.Validate(typeID, map[string]any{"x": 1.0}))
}

func TestRegisterSameNameTwiceIsIdempotent(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	_, err = r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)
	_, err = r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)
}

func TestByNameAndByType(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	typeID, err := r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)

	byName, ok := r.ByName("Position")
	require.True(t, ok)
	require.Equal(t, typeID, byName.TypeID)

	byType, ok := r.ByType(typeID)
	require.True(t, ok)
	require.Equal(t, "Position", byType.Name)

	_, ok = r.ByName("Missing")
	require.False(t, ok)
}

type fakeStore struct {
	saved []Entry
}

func (f *fakeStore) Save(e Entry) error {
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeStore) LoadAll() ([]Entry, error) {
	return f.saved, nil
}

func TestRegisterPersistsToStore(t *testing.T) {
	store := &fakeStore{}
	r, err := New(store)
	require.NoError(t, err)

	_, err = r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	require.Equal(t, "Position", store.saved[0].Name)
}

func TestNewReplaysPersistedEntries(t *testing.T) {
	store := &fakeStore{saved: []Entry{{
		Name:   "Position",
		TypeID: ecsid.HashComponentName("Position"),
		Raw:    []byte(positionSchema),
	}}}

	r, err := New(store)
	require.NoError(t, err)

	_, ok := r.ByName("Position")
	require.True(t, ok)
}

func TestValidateUnknownTypeErrors(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	err = r.Validate(ecsid.HashComponentName("Unregistered"), map[string]any{})
	require.Error(t, err)
}

func TestCompileInvalidSchemaErrors(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	_, err = r.Register("Bad", []byte("not json"))
	require.Error(t, err)
}

func manuallyRegisterCollision(t *testing.T, r *Registry) error {
	t.Helper()
	forcedID := ecsid.HashComponentName("Position")
	return r.register(Entry{Name: "Location", TypeID: forcedID, Raw: []byte(positionSchema)}, false)
}

func TestSchemaCollisionWrapsErrDuplicateSchema(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	_, err = r.Register("Position", []byte(positionSchema))
	require.NoError(t, err)

	err = manuallyRegisterCollision(t, r)
	require.Error(t, err)
	require.True(t, errors.Is(err, ecserr.ErrDuplicateSchema))
}

// TestRegisterSameNameDifferentBodyIsRejected is spec.md §8 scenario S6:
// registering the same component name twice with differing schema bodies
// must reject the second registration, keeping the first.
func TestRegisterSameNameDifferentBodyIsRejected(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	firstTypeID, err := r.Register("Velocity", []byte(positionSchema))
	require.NoError(t, err)

	otherSchema := `{
		"type": "object",
		"properties": {"dx": {"type": "number"}, "dy": {"type": "number"}},
		"required": ["dx", "dy"]
	}`
	_, err = r.Register("Velocity", []byte(otherSchema))
	require.Error(t, err)
	require.True(t, errors.Is(err, ecserr.ErrDuplicateSchema))

	entry, ok := r.ByName("Velocity")
	require.True(t, ok)
	require.Equal(t, firstTypeID, entry.TypeID)
	require.JSONEq(t, positionSchema, string(entry.Raw))
}
