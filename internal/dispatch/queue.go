package dispatch

import (
	"context"
	"errors"

	"chat-gateway/internal/models"
	"chat-gateway/internal/observability"
)

// ErrQueueFull signals that an enqueue would block because the queue is at
// capacity. The broker consumer treats it as a back-pressure signal and
// requeues the delivery instead of waiting.
var ErrQueueFull = errors.New("dispatch queue is full")

// Queue is the bounded in-process FIFO buffer between broker consumption and
// local socket delivery. Single writer, single reader.
type Queue struct {
	items chan models.Message
}

// NewQueue creates a queue with the given capacity.
func NewQueue(size int) *Queue {
	return &Queue{items: make(chan models.Message, size)}
}

// TryPut enqueues without blocking, returning ErrQueueFull when at capacity.
func (q *Queue) TryPut(msg models.Message) error {
	select {
	case q.items <- msg:
		observability.SetDispatchQueueDepth(len(q.items))
		return nil
	default:
		return ErrQueueFull
	}
}

// Put enqueues, blocking until there is room or the context is cancelled.
func (q *Queue) Put(ctx context.Context, msg models.Message) error {
	select {
	case q.items <- msg:
		observability.SetDispatchQueueDepth(len(q.items))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next message, blocking until one is available or the
// context is cancelled.
func (q *Queue) Get(ctx context.Context) (models.Message, error) {
	select {
	case msg := <-q.items:
		observability.SetDispatchQueueDepth(len(q.items))
		return msg, nil
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.items)
}
