package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/models"
)

func TestQueuePreservesOrder(t *testing.T) {
	queue := NewQueue(4)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.TryPut(models.Message{ClientMessageID: id}))
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		msg, err := queue.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, want, msg.ClientMessageID)
	}
}

func TestQueueTryPutFull(t *testing.T) {
	queue := NewQueue(1)

	require.NoError(t, queue.TryPut(models.Message{ClientMessageID: "a"}))
	require.ErrorIs(t, queue.TryPut(models.Message{ClientMessageID: "b"}), ErrQueueFull)

	// Draining makes room again, nothing was lost.
	msg, err := queue.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", msg.ClientMessageID)
	require.NoError(t, queue.TryPut(models.Message{ClientMessageID: "b"}))
}

func TestQueueGetCancelled(t *testing.T) {
	queue := NewQueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := queue.Get(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Get did not observe cancellation")
	}
}

func TestQueueLen(t *testing.T) {
	queue := NewQueue(4)
	require.Equal(t, 0, queue.Len())

	require.NoError(t, queue.TryPut(models.Message{}))
	require.Equal(t, 1, queue.Len())
}

func queueDepthGauge(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "gateway_dispatch_queue_depth" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("gateway_dispatch_queue_depth not registered")
	return 0
}

func TestQueueDepthGaugeTracksEnqueues(t *testing.T) {
	queue := NewQueue(4)

	require.NoError(t, queue.TryPut(models.Message{ClientMessageID: "a"}))
	require.NoError(t, queue.TryPut(models.Message{ClientMessageID: "b"}))
	require.Equal(t, float64(2), queueDepthGauge(t), "enqueues must refresh the gauge")

	_, err := queue.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(1), queueDepthGauge(t))
}
