package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"marketpipe/internal/record"
)

var errRefreshUnconfigured = errors.New("query: refresh needs a source and an applier")

// RefreshResult counts a finished refresh.
type RefreshResult struct {
	Fetched int `json:"fetched"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// RefreshJob is an asynchronous re-pull of the source pushed through the
// processing path.
type RefreshJob struct {
	ID        string
	StartedAt time.Time

	done   chan struct{}
	err    error
	result RefreshResult
}

// Done is closed when the job finishes.
func (j *RefreshJob) Done() <-chan struct{} { return j.done }

// Err is valid after Done is closed.
func (j *RefreshJob) Err() error {
	<-j.done
	return j.err
}

// Result blocks until the job finishes.
func (j *RefreshJob) Result() RefreshResult {
	<-j.done
	return j.result
}

// RefreshCache starts a refresh, or returns the one already in flight. The
// job outlives ctx cancellation but keeps its values.
func (s *Service) RefreshCache(ctx context.Context) *RefreshJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.running; j != nil {
		select {
		case <-j.done:
		default:
			return j
		}
	}
	j := &RefreshJob{ID: uuid.NewString(), StartedAt: s.now(), done: make(chan struct{})}
	s.running = j

	timeout := s.RefreshTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	go func() {
		defer cancel()
		defer close(j.done)
		j.result, j.err = s.refresh(rctx)
		log := s.logger().With("job", j.ID)
		if j.err != nil {
			log.Error("cache refresh failed", "err", j.err)
			return
		}
		log.Info("cache refreshed", "fetched", j.result.Fetched, "applied", j.result.Applied, "failed", j.result.Failed)
	}()
	return j
}

func (s *Service) refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if s.Source == nil || s.Applier == nil {
		return res, errRefreshUnconfigured
	}
	raw, err := s.Source.Fetch(ctx)
	if err != nil {
		return res, err
	}
	tag := s.Tag
	if tag == "" {
		tag = record.SourceCoinGecko
	}
	recs, verr := record.Normalize(raw, s.now(), tag)
	if verr != nil {
		s.logger().Warn("dropped assets during normalization", "err", verr)
	}
	res.Fetched = len(recs)
	for _, rec := range recs {
		if o := s.Applier.Apply(ctx, rec); o.Failed() {
			res.Failed++
			continue
		}
		res.Applied++
	}
	return res, nil
}
