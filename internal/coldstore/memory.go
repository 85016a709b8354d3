package coldstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory keeps objects in a map. Used in tests and when no archive root is set.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, when set, is returned wrapped in ErrColdStore by Put.
	FailPut error
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrColdStore, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return fmt.Errorf("%w: %w", ErrColdStore, m.FailPut)
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
