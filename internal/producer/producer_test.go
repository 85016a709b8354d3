package producer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketpipe/internal/producer"
	"marketpipe/internal/record"
	"marketpipe/internal/source"
	"marketpipe/internal/stream"
)

type stubSource struct {
	snap  record.RawSnapshot
	err   error
	calls atomic.Int32
}

func (s *stubSource) Name() string { return "stub" }
func (s *stubSource) Fetch(ctx context.Context) (record.RawSnapshot, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func f(v float64) *float64 { return &v }
func i64(v int64) *int64   { return &v }

func snapshot() record.RawSnapshot {
	return record.RawSnapshot{
		"bitcoin":  {USD: f(50000), USDMarketCap: f(1e12), USD24hVol: f(3e10), USD24hChange: f(1.5), LastUpdatedAt: i64(1_700_000_000)},
		"ethereum": {USD: f(3000), LastUpdatedAt: i64(1_700_000_010)},
		"solana":   {USD: f(100)},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunOnce_PublishesOneRecordPerAssetKeyedBySymbol(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	pub := NewMockPublisher(ctrl)
	p := producer.New(&stubSource{snap: snapshot()}, pub, quiet())
	captured := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return captured }

	var got []record.CanonicalRecord
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, payload []byte) error {
			rec, err := record.Decode(payload)
			require.NoError(t, err)
			require.Equal(t, rec.Symbol, key)
			got = append(got, rec)
			return nil
		}).Times(3)

	// Act
	cyc, err := p.RunOnce(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, producer.Cycle{Fetched: 3, Published: 3}, cyc)
	require.Equal(t, "BITCOIN", got[0].Symbol)
	require.Equal(t, 1e12, got[0].MarketCap)
	require.Equal(t, "ETHEREUM", got[1].Symbol)
	require.Zero(t, got[1].MarketCap)
	require.Equal(t, "SOLANA", got[2].Symbol)
	require.Equal(t, captured.Unix(), got[2].ObservedAt)
	require.Equal(t, record.SourceCoinGecko, got[2].Source)
}

func TestRunOnce_PublishFailuresAreCountedNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := NewMockPublisher(ctrl)
	p := producer.New(&stubSource{snap: snapshot()}, pub, quiet())

	pub.EXPECT().Publish(gomock.Any(), "ETHEREUM", gomock.Any()).Return(stream.ErrTransport)
	pub.EXPECT().Publish(gomock.Any(), gomock.Not("ETHEREUM"), gomock.Any()).Return(nil).Times(2)

	cyc, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, producer.Cycle{Fetched: 3, Published: 2, Failed: 1}, cyc)
}

func TestRunOnce_FetchFailurePublishesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := NewMockPublisher(ctrl) // no expectations: any Publish fails the test
	p := producer.New(&stubSource{err: errors.New("dial tcp: timeout")}, pub, quiet())

	cyc, err := p.RunOnce(t.Context())
	require.ErrorIs(t, err, source.ErrFetch)
	require.Zero(t, cyc)
}

func TestRun_StopsAfterMaxConsecutiveFailures(t *testing.T) {
	src := &stubSource{err: errors.New("unreachable")}
	p := producer.New(src, stream.NewMemory(1, 10), quiet())
	p.Interval = 20 * time.Millisecond
	p.Backoff = producer.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}
	p.MaxConsecutiveFailures = 3

	err := p.Run(t.Context())
	require.ErrorIs(t, err, producer.ErrTooManyFailures)
	require.ErrorIs(t, err, source.ErrFetch)
	require.Equal(t, int32(3), src.calls.Load())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	src := &stubSource{snap: snapshot()}
	s := stream.NewMemory(2, 100)
	p := producer.New(src, s, quiet())
	p.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.GreaterOrEqual(t, s.Len(), 6)
}

func TestBackoff_BoundedByMax(t *testing.T) {
	b := producer.Backoff{Min: time.Second, Max: 4 * time.Second, Factor: 2, Jitter: 0.5}
	for attempt := 1; attempt < 20; attempt++ {
		require.LessOrEqual(t, b.Next(attempt), 4*time.Second)
	}
	exact := producer.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}
	require.Equal(t, time.Second, exact.Next(1))
	require.Equal(t, 4*time.Second, exact.Next(3))
	require.Equal(t, time.Minute, exact.Next(30))
}
