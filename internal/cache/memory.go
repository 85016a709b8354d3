package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketpipe/internal/record"
)

// entry stores the latest record for a single symbol with expiry.
type entry struct {
	expiresAt time.Time
	rec       record.CanonicalRecord
}

type window struct {
	mu   sync.Mutex
	recs []record.CanonicalRecord // ascending observed_at
}

// Memory is an in-process Cache. Latest entries expire by TTL; windows keep
// at most Cap entries per symbol.
type Memory struct {
	Cap      int
	MaxItems int
	Now      func() time.Time

	mu      sync.RWMutex
	items   map[string]entry
	windows map[string]*window
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultWindowCap
	}
	return &Memory{
		Cap:     capacity,
		Now:     time.Now,
		items:   make(map[string]entry),
		windows: make(map[string]*window),
	}
}

func (c *Memory) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Memory) SetLatest(ctx context.Context, rec record.CanonicalRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()
	c.mu.Lock()
	c.items[rec.Symbol] = entry{expiresAt: now.Add(ttl), rec: rec}
	// best-effort cap: expired entries go first, then arbitrary ones
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if !now.Before(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != rec.Symbol {
				delete(c.items, k)
			}
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Memory) GetLatest(ctx context.Context, symbol string) (record.CanonicalRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.CanonicalRecord{}, false, err
	}
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return record.CanonicalRecord{}, false, nil
	}
	return e.rec, true, nil
}

func (c *Memory) window(symbol string, create bool) *window {
	c.mu.RLock()
	w := c.windows[symbol]
	c.mu.RUnlock()
	if w != nil || !create {
		return w
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w = c.windows[symbol]; w == nil {
		w = &window{}
		c.windows[symbol] = w
	}
	return w
}

func (c *Memory) Append(ctx context.Context, rec record.CanonicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := c.window(rec.Symbol, true)
	w.mu.Lock()
	defer w.mu.Unlock()
	i := sort.Search(len(w.recs), func(i int) bool { return w.recs[i].ObservedAt >= rec.ObservedAt })
	if i < len(w.recs) && w.recs[i].ObservedAt == rec.ObservedAt {
		w.recs[i] = rec
		return nil
	}
	w.recs = append(w.recs, record.CanonicalRecord{})
	copy(w.recs[i+1:], w.recs[i:])
	w.recs[i] = rec
	if over := len(w.recs) - c.Cap; over > 0 {
		w.recs = append(w.recs[:0:0], w.recs[over:]...)
	}
	return nil
}

func (c *Memory) Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := c.window(symbol, false)
	if w == nil {
		return nil, nil
	}
	if limit <= 0 || limit > c.Cap {
		limit = c.Cap
	}
	lo, hi := from.Unix(), to.Unix()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []record.CanonicalRecord
	for i := len(w.recs) - 1; i >= 0 && len(out) < limit; i-- {
		ts := w.recs[i].ObservedAt
		if ts > hi {
			continue
		}
		if ts < lo {
			break
		}
		out = append(out, w.recs[i])
	}
	return out, nil
}

func (c *Memory) Len(ctx context.Context, symbol string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w := c.window(symbol, false)
	if w == nil {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recs), nil
}
