package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpipe/internal/cache"
	"marketpipe/internal/coldstore"
	"marketpipe/internal/record"
	"marketpipe/internal/store"
	"marketpipe/internal/stream"
)

// ErrDecode marks a stream payload that is not a record.
var ErrDecode = errors.New("processor: undecodable payload")

// Outcome is the fan-out result for one record. Err is set when the record
// failed (decode, validation or durable write); the other errors come from
// best-effort steps and never fail the record.
type Outcome struct {
	MessageID  string
	Symbol     string
	ObservedAt int64
	Err        error
	CacheErr   error
	WindowErr  error
	ArchiveErr error
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Result summarizes a batch. Outcomes line up with the input messages.
type Result struct {
	Processed int
	Failed    int
	Outcomes  []Outcome
}

// Processor fans each record out to the durable store, the latest-value
// cache, the historical window and the cold archive.
type Processor struct {
	Durable store.Durable
	Cache   cache.Cache
	// Cold is optional; archiving is skipped when nil.
	Cold   coldstore.Store
	Logger *slog.Logger

	TTL       time.Duration
	Workers   int
	BatchSize int
	// RetryDelay pauses Run after a batch in which every message was left
	// unacked, so a durable store outage is not hammered.
	RetryDelay time.Duration

	locks cache.KeyedMutex
}

func New(durable store.Durable, c cache.Cache, cold coldstore.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Durable:   durable,
		Cache:     c,
		Cold:      cold,
		Logger:    logger,
		TTL:        cache.DefaultTTL,
		Workers:    8,
		BatchSize:  100,
		RetryDelay: time.Second,
	}
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Apply writes one record. The durable write is authoritative: when it fails
// nothing else is touched. Records for the same symbol are applied one at a
// time.
func (p *Processor) Apply(ctx context.Context, rec record.CanonicalRecord) Outcome {
	out := Outcome{Symbol: rec.Symbol, ObservedAt: rec.ObservedAt}
	if err := rec.Validate(); err != nil {
		out.Err = err
		return out
	}

	unlock := p.locks.Lock(rec.Symbol)
	defer unlock()

	if err := p.Durable.Put(ctx, rec); err != nil {
		if !errors.Is(err, store.ErrDurableWrite) {
			err = fmt.Errorf("%w: %w", store.ErrDurableWrite, err)
		}
		out.Err = err
		return out
	}

	log := p.logger().With("symbol", rec.Symbol, "observed_at", rec.ObservedAt)
	if p.Cache != nil {
		ttl := p.TTL
		if ttl <= 0 {
			ttl = cache.DefaultTTL
		}
		if err := p.Cache.SetLatest(ctx, rec, ttl); err != nil {
			out.CacheErr = asCacheErr(err)
			log.Warn("latest cache update failed", "err", err)
		}
		if err := p.Cache.Append(ctx, rec); err != nil {
			out.WindowErr = asCacheErr(err)
			log.Warn("history window append failed", "err", err)
		}
	}
	if p.Cold != nil {
		if key, err := coldstore.Archive(ctx, p.Cold, rec); err != nil {
			if !errors.Is(err, coldstore.ErrColdStore) {
				err = fmt.Errorf("%w: %w", coldstore.ErrColdStore, err)
			}
			out.ArchiveErr = err
			log.Warn("cold archive failed", "key", key, "err", err)
		}
	}
	return out
}

func asCacheErr(err error) error {
	if errors.Is(err, cache.ErrCache) {
		return err
	}
	return fmt.Errorf("%w: %w", cache.ErrCache, err)
}

// Process decodes and applies a batch. Symbols are handled in parallel while
// records of one symbol keep their stream order.
func (p *Processor) Process(ctx context.Context, msgs []stream.Message) Result {
	outcomes := make([]Outcome, len(msgs))
	recs := make([]record.CanonicalRecord, len(msgs))
	var order []string
	groups := make(map[string][]int)
	for i, m := range msgs {
		outcomes[i].MessageID = m.ID
		rec, err := record.Decode(m.Payload)
		if err != nil {
			outcomes[i].Err = fmt.Errorf("%w: message %s: %w", ErrDecode, m.ID, err)
			continue
		}
		recs[i] = rec
		if _, ok := groups[rec.Symbol]; !ok {
			order = append(order, rec.Symbol)
		}
		groups[rec.Symbol] = append(groups[rec.Symbol], i)
	}

	var g errgroup.Group
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, sym := range order {
		idx := groups[sym]
		g.Go(func() error {
			for _, i := range idx {
				o := p.Apply(ctx, recs[i])
				o.MessageID = msgs[i].ID
				outcomes[i] = o
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Failed() {
			res.Failed++
			p.logger().Error("record failed", "message_id", o.MessageID, "symbol", o.Symbol, "err", o.Err)
		} else {
			res.Processed++
		}
	}
	return res
}

// Run consumes batches until ctx is done or the consumer closes. A batch
// that has been fetched is finished and acknowledged even after ctx is
// cancelled. Records whose durable write failed are left unacknowledged for
// redelivery; everything else is acknowledged.
func (p *Processor) Run(ctx context.Context, c stream.Consumer) error {
	log := p.logger()
	size := p.BatchSize
	if size <= 0 {
		size = 100
	}
	for {
		msgs, err := c.Fetch(ctx, size)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, stream.ErrClosed) {
				return nil
			}
			log.Error("fetch batch failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(msgs) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		bctx := context.WithoutCancel(ctx)
		res := p.Process(bctx, msgs)
		acked := ackable(msgs, res)
		if err := c.Ack(bctx, acked...); err != nil {
			log.Error("ack failed", "err", err)
		}
		log.Info("batch processed", "processed", res.Processed, "failed", res.Failed)

		if len(acked) == 0 && p.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.RetryDelay):
			}
		}
	}
}

func ackable(msgs []stream.Message, res Result) []stream.Message {
	out := make([]stream.Message, 0, len(msgs))
	for i, m := range msgs {
		if errors.Is(res.Outcomes[i].Err, store.ErrDurableWrite) {
			continue
		}
		out = append(out, m)
	}
	return out
}
