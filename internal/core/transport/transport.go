// Package transport abstracts the asynchronous publish/subscribe bus the
// engine's core consumes (spec.md §1, §6). The bus daemon itself is an
// external collaborator; this package defines the client-side contract and
// ships two implementations, inproc and quicbus, plus the wsgateway
// request/response gateway that is a client of a Bus (see SPEC_FULL.md §8).
package transport

import (
	"context"

	"github.com/tickforge/ecsengine/internal/core/wire"
)

// Bus is the transport contract: subject-based publish/subscribe, named
// queue groups for load-balanced delivery, per-message headers, and a
// durable-stream mode for replay (spec.md §6).
type Bus interface {
	// Publish delivers an envelope to every current subscriber of Subject.
	Publish(ctx context.Context, env wire.Envelope) error

	// Subscribe delivers every message on subject to this subscription
	// (broadcast fan-out: every subscriber on the subject sees every
	// message).
	Subscribe(ctx context.Context, subject string) (Subscription, error)

	// QueueSubscribe joins a named queue group on subject: the bus
	// delivers each message to exactly one member of the group
	// (spec.md glossary "Queue group").
	QueueSubscribe(ctx context.Context, subject, group string) (Subscription, error)

	// PublishDurable publishes to a subject backed by a persistent stream,
	// enabling later replay (spec.md §6 "durable-stream mode").
	PublishDurable(ctx context.Context, env wire.Envelope) error

	// SubscribeDurable subscribes to a persistent-stream subject, replaying
	// from the oldest retained message unless the implementation tracks a
	// consumer cursor.
	SubscribeDurable(ctx context.Context, subject string) (Subscription, error)

	// Close releases all resources held by the bus connection.
	Close() error
}

// Subscription delivers envelopes on a channel until Unsubscribe is
// called or the bus is closed.
type Subscription interface {
	// Messages is the delivery channel. It is closed when the subscription
	// ends.
	Messages() <-chan wire.Envelope
	// Unsubscribe stops delivery and closes Messages.
	Unsubscribe() error
}
