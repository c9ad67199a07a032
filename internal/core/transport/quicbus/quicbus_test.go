package quicbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/wire"
)

func startBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	cfg := DefaultConfig()
	b := NewBroker(cfg, log.New(log.LevelInfo))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = b.Close() })

	addr := "127.0.0.1:0"
	go func() { _ = b.Serve(ctx, addr) }()
	// Poll briefly for the listener to be assigned; Serve binds it
	// synchronously before entering its accept loop.
	deadline := time.Now().Add(2 * time.Second)
	for b.listener == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, b.listener, "broker never bound a listener")

	return b, b.listener.Addr().String()
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, DefaultConfig(), addr, log.New(log.LevelInfo))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientPublishSubscribeRoundTrip(t *testing.T) {
	_, addr := startBroker(t)
	publisher := dialClient(t, addr)
	subscriber := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sub, err := subscriber.Subscribe(ctx, "test.subject")
	require.NoError(t, err)

	// Give the broker a moment to register the subscribe stream before
	// publishing, since stream setup is asynchronous on the broker side.
	time.Sleep(100 * time.Millisecond)

	env := wire.NewEnvelope("test.subject", []byte("hello"))
	env.SetHeader(wire.HeaderMsgType, "test")
	require.NoError(t, publisher.Publish(ctx, env))

	select {
	case got := <-sub.Messages():
		require.Equal(t, "test.subject", got.Subject)
		require.Equal(t, []byte("hello"), got.Payload)
		require.Equal(t, "test", got.Header(wire.HeaderMsgType))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published envelope")
	}
}

func TestClientQueueSubscribeRoundRobin(t *testing.T) {
	_, addr := startBroker(t)
	publisher := dialClient(t, addr)
	workerA := dialClient(t, addr)
	workerB := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	subA, err := workerA.QueueSubscribe(ctx, "work.queue", "workers")
	require.NoError(t, err)
	subB, err := workerB.QueueSubscribe(ctx, "work.queue", "workers")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 4; i++ {
		env := wire.NewEnvelope("work.queue", []byte("job"))
		require.NoError(t, publisher.Publish(ctx, env))
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 4 {
		select {
		case <-subA.Messages():
			received++
		case <-subB.Messages():
			received++
		case <-timeout:
			t.Fatalf("only received %d/4 jobs before timeout", received)
		}
	}
}

func TestClientUnsubscribeClosesSubscription(t *testing.T) {
	_, addr := startBroker(t)
	subscriber := dialClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := subscriber.Subscribe(ctx, "closing.subject")
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())

	select {
	case _, ok := <-sub.Messages():
		require.False(t, ok, "channel should be closed after Unsubscribe")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel never closed")
	}
}
