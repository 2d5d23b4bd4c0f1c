package mq

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

const memoryQueueSize = 64

// MemoryBackend is an in-process Backend for tests and single-binary
// development setups. Each channel is a buffered queue; failed messages are
// requeued unless the handler marks them permanent.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]chan Message
	nextID int
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]chan Message)}
}

func (m *MemoryBackend) queue(channel string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("memory backend closed")
	}
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan Message, memoryQueueSize)
		m.queues[channel] = q
	}
	return q, nil
}

func (m *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.mu.Unlock()

	select {
	case q <- Message{ID: id, Data: append([]byte(nil), data...), Attributes: attrs}:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe delivers messages until ctx is cancelled.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := m.queue(channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil && !IsPermanent(err) {
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

// Close rejects further publishes. Pending messages are discarded.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
