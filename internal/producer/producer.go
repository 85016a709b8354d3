package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketpipe/internal/record"
	"marketpipe/internal/source"
	"marketpipe/internal/stream"
)

const (
	DefaultInterval       = 60 * time.Second
	DefaultFetchTimeout   = 10 * time.Second
	DefaultPublishTimeout = 10 * time.Second
)

// ErrTooManyFailures stops Run once MaxConsecutiveFailures fetches in a row
// have failed.
var ErrTooManyFailures = errors.New("producer: too many consecutive fetch failures")

// Cycle counts one fetch/publish round.
type Cycle struct {
	Fetched   int
	Published int
	Failed    int
}

// Producer pulls the source on an interval and publishes one stream record
// per asset, keyed by symbol.
type Producer struct {
	Source    source.Source
	Publisher stream.Publisher
	Logger    *slog.Logger

	Interval       time.Duration
	FetchTimeout   time.Duration
	PublishTimeout time.Duration
	// MaxConsecutiveFailures of 0 retries forever.
	MaxConsecutiveFailures int
	Backoff                Backoff
	// Tag is stamped into CanonicalRecord.Source.
	Tag string
	Now func() time.Time
}

func New(src source.Source, pub stream.Publisher, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		Source:         src,
		Publisher:      pub,
		Logger:         logger,
		Interval:       DefaultInterval,
		FetchTimeout:   DefaultFetchTimeout,
		PublishTimeout: DefaultPublishTimeout,
		Backoff:        DefaultBackoff(DefaultInterval),
		Tag:            record.SourceCoinGecko,
		Now:            time.Now,
	}
}

func (p *Producer) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RunOnce performs one cycle. A fetch failure publishes nothing and returns
// an error wrapping source.ErrFetch; publish failures are counted only.
func (p *Producer) RunOnce(ctx context.Context) (Cycle, error) {
	var cyc Cycle
	log := p.logger()

	fctx, cancel := context.WithTimeout(ctx, orDefault(p.FetchTimeout, DefaultFetchTimeout))
	raw, err := p.Source.Fetch(fctx)
	cancel()
	if err != nil {
		if !errors.Is(err, source.ErrFetch) {
			err = fmt.Errorf("%w: %s: %w", source.ErrFetch, p.Source.Name(), err)
		}
		return cyc, err
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	tag := p.Tag
	if tag == "" {
		tag = record.SourceCoinGecko
	}
	recs, verr := record.Normalize(raw, now(), tag)
	if verr != nil {
		log.Warn("dropped assets during normalization", "err", verr)
	}
	cyc.Fetched = len(recs)

	pctx, cancel := context.WithTimeout(ctx, orDefault(p.PublishTimeout, DefaultPublishTimeout))
	defer cancel()
	for _, rec := range recs {
		b, err := record.Encode(rec)
		if err == nil {
			err = p.Publisher.Publish(pctx, rec.Symbol, b)
		}
		if err != nil {
			cyc.Failed++
			log.Warn("publish failed", "symbol", rec.Symbol, "err", err)
			continue
		}
		cyc.Published++
	}
	return cyc, nil
}

// Run ticks until ctx is cancelled. The first cycle starts immediately. After
// a failed fetch the next attempt waits a backoff bounded by Interval.
func (p *Producer) Run(ctx context.Context) error {
	log := p.logger()
	interval := orDefault(p.Interval, DefaultInterval)
	bo := p.Backoff
	if bo.Max <= 0 || bo.Max > interval {
		bo.Max = interval
	}

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		cyc, err := p.RunOnce(ctx)
		wait := interval
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			log.Error("fetch cycle failed", "attempt", failures, "err", err)
			if p.MaxConsecutiveFailures > 0 && failures >= p.MaxConsecutiveFailures {
				return fmt.Errorf("%w: %d: %w", ErrTooManyFailures, failures, err)
			}
			wait = bo.Next(failures)
		default:
			failures = 0
			log.Info("cycle published", "fetched", cyc.Fetched, "published", cyc.Published, "failed", cyc.Failed)
		}
		timer.Reset(wait)
	}
}
