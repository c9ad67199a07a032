// Package inproc is an in-memory, queue-group-aware bus implementation,
// adapted from the teacher's events/bus package: the same subject->handler
// map shape, generalized from type-based fan-out to subject/queue-group
// fan-out with channel delivery instead of synchronous callbacks (the
// tick orchestrator and system harness both want to select/drain a
// channel, not block a publisher in a handler). Used by tests and by
// single-process demos; see transport/quicbus for the networked
// equivalent.
package inproc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/wire"
)

const deliveryBuffer = 64

// Bus is a thread-safe, in-process implementation of transport.Bus.
// Broadcast subscribers on a subject each receive every message; queue
// group members receive messages round-robin within their group.
type Bus struct {
	mu sync.RWMutex

	// broadcast: subject -> subID -> subscription
	broadcast map[string]map[string]*subscription
	// grouped: subject -> group -> next-index, members
	grouped map[string]map[string]*groupState

	// durable: subject -> retained envelopes, replayed to new subscribers.
	durable   map[string][]wire.Envelope
	durableMu sync.Mutex

	closed bool
}

type groupState struct {
	members []*subscription
	next    int
}

type subscription struct {
	id      string
	subject string
	ch      chan wire.Envelope
	unsub   func()
}

func (s *subscription) Messages() <-chan wire.Envelope { return s.ch }
func (s *subscription) Unsubscribe() error             { s.unsub(); return nil }

// New creates an empty in-process bus.
func New() *Bus {
	return &Bus{
		broadcast: make(map[string]map[string]*subscription),
		grouped:   make(map[string]map[string]*groupState),
		durable:   make(map[string][]wire.Envelope),
	}
}

// Publish delivers env to every broadcast subscriber and, independently,
// to one member of every queue group on the subject.
func (b *Bus) Publish(_ context.Context, env wire.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.broadcast[env.Subject] {
		send(sub.ch, env)
	}
	for _, gs := range b.grouped[env.Subject] {
		if len(gs.members) == 0 {
			continue
		}
		member := gs.members[gs.next%len(gs.members)]
		gs.next++
		send(member.ch, env)
	}
	return nil
}

func send(ch chan wire.Envelope, env wire.Envelope) {
	select {
	case ch <- env:
	default:
		// Slow consumer: drop rather than block the publisher. The
		// sentinel discipline (spec.md §9) means a dropped data shard is
		// recoverable only by the stage deadline firing; this mirrors a
		// real bus's at-most-once behavior under backpressure.
		go func() { ch <- env }()
	}
}

// Subscribe registers a broadcast subscription on subject.
func (b *Bus) Subscribe(_ context.Context, subject string) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broadcast[subject] == nil {
		b.broadcast[subject] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	sub := &subscription{id: id, subject: subject, ch: make(chan wire.Envelope, deliveryBuffer)}
	sub.unsub = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.broadcast[subject]; ok {
			delete(m, id)
		}
		close(sub.ch)
	}
	b.broadcast[subject][id] = sub
	return sub, nil
}

// QueueSubscribe joins group on subject.
func (b *Bus) QueueSubscribe(_ context.Context, subject, group string) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.grouped[subject] == nil {
		b.grouped[subject] = make(map[string]*groupState)
	}
	gs, ok := b.grouped[subject][group]
	if !ok {
		gs = &groupState{}
		b.grouped[subject][group] = gs
	}
	id := uuid.NewString()
	sub := &subscription{id: id, subject: subject, ch: make(chan wire.Envelope, deliveryBuffer)}
	gs.members = append(gs.members, sub)
	sub.unsub = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, m := range gs.members {
			if m.id == id {
				gs.members = append(gs.members[:i], gs.members[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
	return sub, nil
}

// PublishDurable retains env for subject and also delivers it like Publish.
func (b *Bus) PublishDurable(ctx context.Context, env wire.Envelope) error {
	b.durableMu.Lock()
	b.durable[env.Subject] = append(b.durable[env.Subject], env)
	b.durableMu.Unlock()
	return b.Publish(ctx, env)
}

// SubscribeDurable returns a subscription pre-loaded with every retained
// message for subject, then behaves like Subscribe for new arrivals.
func (b *Bus) SubscribeDurable(ctx context.Context, subject string) (transport.Subscription, error) {
	sub, err := b.Subscribe(ctx, subject)
	if err != nil {
		return nil, err
	}
	b.durableMu.Lock()
	backlog := append([]wire.Envelope{}, b.durable[subject]...)
	b.durableMu.Unlock()
	inner := sub.(*subscription)
	go func() {
		for _, env := range backlog {
			send(inner.ch, env)
		}
	}()
	return sub, nil
}

// Close tears down every subscription and marks the bus closed. A later
// Unsubscribe on a torn-down subscription is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.broadcast {
		for _, s := range subs {
			s.unsub = func() {}
			close(s.ch)
		}
	}
	for _, groups := range b.grouped {
		for _, gs := range groups {
			for _, s := range gs.members {
				s.unsub = func() {}
				close(s.ch)
			}
		}
	}
	b.broadcast = make(map[string]map[string]*subscription)
	b.grouped = make(map[string]map[string]*groupState)
	return nil
}

var _ transport.Bus = (*Bus)(nil)
