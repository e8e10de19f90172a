package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan crawler.QueueMessage, 1)
	go func() {
		_ = b.Subscribe(ctx, "jobs", func(_ context.Context, msg crawler.QueueMessage) error {
			got <- msg
			return nil
		})
	}()

	require.NoError(t, b.Publish(ctx, "jobs", crawler.QueueMessage{JobID: "job-1"}))
	select {
	case msg := <-got:
		require.Equal(t, "job-1", msg.JobID)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestBrokerRedeliversOnHandlerError(t *testing.T) {
	t.Parallel()

	b := NewBroker(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	acked := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "jobs", func(_ context.Context, _ crawler.QueueMessage) error {
			if calls.Add(1) < 3 {
				return errors.New("try again")
			}
			close(acked)
			return nil
		})
	}()

	require.NoError(t, b.Publish(ctx, "jobs", crawler.QueueMessage{JobID: "job-1"}))
	select {
	case <-acked:
		require.Equal(t, int32(3), calls.Load())
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestBrokerQueuesAreIsolated(t *testing.T) {
	t.Parallel()

	b := NewBroker(2, nil)
	require.NoError(t, b.Publish(context.Background(), "a", crawler.QueueMessage{JobID: "1"}))
	require.NoError(t, b.Publish(context.Background(), "b", crawler.QueueMessage{JobID: "2"}))
	require.NoError(t, b.Publish(context.Background(), "b", crawler.QueueMessage{JobID: "3"}))
	require.Equal(t, 1, b.Len("a"))
	require.Equal(t, 2, b.Len("b"))
}

func TestBrokerPublishCanceledWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroker(1, nil)
	require.NoError(t, b.Publish(context.Background(), "jobs", crawler.QueueMessage{JobID: "primed"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Publish(ctx, "jobs", crawler.QueueMessage{JobID: "late"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBrokerClosed(t *testing.T) {
	t.Parallel()

	b := NewBroker(1, nil)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "jobs", crawler.QueueMessage{JobID: "x"})
	require.ErrorIs(t, err, crawler.ErrNotConnected)
	require.ErrorIs(t, b.Connect(context.Background()), crawler.ErrNotConnected)
	err = b.Subscribe(context.Background(), "jobs", func(context.Context, crawler.QueueMessage) error { return nil })
	require.ErrorIs(t, err, crawler.ErrNotConnected)
}

func TestBrokerSubscribeStopsOnClose(t *testing.T) {
	t.Parallel()

	b := NewBroker(1, nil)
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(context.Background(), "jobs", func(context.Context, crawler.QueueMessage) error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}
