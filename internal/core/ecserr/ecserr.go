// Package ecserr defines the error taxonomy shared by the world store,
// scheduler, wire protocol, and runtime harness. Callers compare with
// errors.Is; wrapped errors carry entity/system/tick context via fmt.Errorf
// ("%w").
package ecserr

import "errors"

var (
	// ErrEncode signals a serialization failure while encoding a value.
	ErrEncode = errors.New("ecserr: encode failed")
	// ErrDecode signals a serialization failure while decoding a value.
	ErrDecode = errors.New("ecserr: decode failed")

	// ErrTransport signals a publish/subscribe/connect failure at the bus.
	ErrTransport = errors.New("ecserr: transport failed")
	// ErrMissingHeader signals a required header absent on a sentinel or ack.
	ErrMissingHeader = errors.New("ecserr: missing header")

	// ErrUnknownEntity signals a reference to an entity not present in the world.
	ErrUnknownEntity = errors.New("ecserr: unknown entity")
	// ErrUnknownArchetype signals a reference to an archetype signature with no table.
	ErrUnknownArchetype = errors.New("ecserr: unknown archetype")
	// ErrComponentNotInArchetype signals a mutation targeting a column the archetype lacks.
	ErrComponentNotInArchetype = errors.New("ecserr: component not in archetype")

	// ErrDuplicateSchema signals two registrations claiming the same ComponentTypeID
	// with differing schema bodies.
	ErrDuplicateSchema = errors.New("ecserr: duplicate schema")

	// ErrScheduleInfeasible signals ordering constraints that cannot be satisfied.
	ErrScheduleInfeasible = errors.New("ecserr: schedule infeasible")

	// ErrTimeout signals a sentinel, tick-ack, or stage deadline elapsed.
	ErrTimeout = errors.New("ecserr: timeout")
)
