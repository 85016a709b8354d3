package stream

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
)

// Memory is a bounded in-process stream with hash partitions. Records with
// the same key land in the same partition and are delivered in publish order.
// Delivery is at-most-once within the process: Fetch removes what it returns.
type Memory struct {
	capacity int

	mu     sync.Mutex
	parts  [][]Message
	next   int // round-robin start for Fetch
	seq    atomic.Uint64
	signal chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewMemory allocates a stream with the given partition count and
// per-partition capacity.
func NewMemory(partitions, capacity int) *Memory {
	if partitions <= 0 {
		partitions = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		parts:    make([][]Message, partitions),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (m *Memory) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.parts)))
}

// Publish enqueues without blocking; a full partition is a transport error.
func (m *Memory) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if m.closed.Load() {
		return fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	}
	p := m.partition(key)
	msg := Message{ID: strconv.FormatUint(m.seq.Add(1), 10), Key: key, Payload: payload}

	m.mu.Lock()
	if len(m.parts[p]) >= m.capacity {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransport, ErrQueueFull)
	}
	m.parts[p] = append(m.parts[p], msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// Fetch returns up to max messages, draining partitions round-robin so each
// partition's order is kept.
func (m *Memory) Fetch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	for {
		if out := m.take(max); len(out) > 0 {
			return out, nil
		}
		if m.closed.Load() {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.done:
		case <-m.signal:
		}
	}
}

func (m *Memory) take(max int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	n := len(m.parts)
	for i := 0; i < n && len(out) < max; i++ {
		p := (m.next + i) % n
		k := min(max-len(out), len(m.parts[p]))
		if k == 0 {
			continue
		}
		out = append(out, m.parts[p][:k]...)
		m.parts[p] = append(m.parts[p][:0:0], m.parts[p][k:]...)
	}
	m.next = (m.next + 1) % n
	return out
}

// Ack is a no-op: messages leave the stream when fetched.
func (m *Memory) Ack(context.Context, ...Message) error { return nil }

// Len reports buffered messages across partitions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, p := range m.parts {
		total += len(p)
	}
	return total
}

// Close stops accepting publishes and wakes blocked consumers once drained.
func (m *Memory) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
	}
}
