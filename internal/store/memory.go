package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketpipe/internal/record"
)

// Memory is an in-process Durable for local runs and tests.
type Memory struct {
	mu   sync.RWMutex
	rows map[string][]record.CanonicalRecord // ascending observed_at
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string][]record.CanonicalRecord)}
}

func (m *Memory) Put(ctx context.Context, rec record.CanonicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[rec.Symbol]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].ObservedAt >= rec.ObservedAt })
	if i < len(rows) && rows[i].ObservedAt == rec.ObservedAt {
		rows[i] = rec
		return nil
	}
	rows = append(rows, record.CanonicalRecord{})
	copy(rows[i+1:], rows[i:])
	rows[i] = rec
	m.rows[rec.Symbol] = rows
	return nil
}

func (m *Memory) Latest(ctx context.Context, symbol string) (record.CanonicalRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.CanonicalRecord{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.rows[symbol]
	if len(rows) == 0 {
		return record.CanonicalRecord{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (m *Memory) Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	lo, hi := from.Unix(), to.Unix()
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.rows[symbol]
	out := make([]record.CanonicalRecord, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		ts := rows[i].ObservedAt
		if ts > hi {
			continue
		}
		if ts < lo {
			break
		}
		out = append(out, rows[i])
	}
	return out, nil
}
