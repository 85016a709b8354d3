package stream

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedis_PublishFetchAck(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedis(rdb, RedisConfig{Stream: "prices", Group: "g", Consumer: "c1", Block: 50 * time.Millisecond})
	require.NoError(t, s.EnsureGroup(t.Context()))
	require.NoError(t, s.EnsureGroup(t.Context()), "group creation is idempotent")

	require.NoError(t, s.Publish(t.Context(), "BTC", []byte(`{"symbol":"BTC"}`)))
	require.NoError(t, s.Publish(t.Context(), "ETH", []byte(`{"symbol":"ETH"}`)))

	msgs, err := s.Fetch(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "BTC", msgs[0].Key)
	require.JSONEq(t, `{"symbol":"BTC"}`, string(msgs[0].Payload))
	require.Equal(t, "ETH", msgs[1].Key)

	require.NoError(t, s.Ack(t.Context(), msgs...))

	pending, err := rdb.XPending(t.Context(), "prices", "g").Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestRedis_UnackedRedeliveredAfterRestart(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := RedisConfig{Stream: "prices", Group: "g", Consumer: "c1", Block: 50 * time.Millisecond}

	first := NewRedis(rdb, cfg)
	require.NoError(t, first.EnsureGroup(t.Context()))
	require.NoError(t, first.Publish(t.Context(), "BTC", []byte("p1")))

	msgs, err := first.Fetch(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	// no ack: simulate a crash

	second := NewRedis(rdb, cfg)
	again, err := second.Fetch(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, msgs[0].ID, again[0].ID)
}

func TestRedis_FailingPendingEntryDoesNotStarveNewOnes(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := RedisConfig{Stream: "prices", Group: "g", Consumer: "c1", Block: 20 * time.Millisecond, PendingRetry: time.Hour}

	crashed := NewRedis(rdb, cfg)
	require.NoError(t, crashed.EnsureGroup(t.Context()))
	require.NoError(t, crashed.Publish(t.Context(), "BAD", []byte("bad")))
	first, err := crashed.Fetch(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	s := NewRedis(rdb, cfg)
	require.NoError(t, s.Publish(t.Context(), "ETH", []byte("eth")))

	deliveries := map[string]int{}
	for i := 0; i < 5; i++ {
		msgs, err := s.Fetch(t.Context(), 10)
		require.NoError(t, err)
		for _, m := range msgs {
			deliveries[m.Key]++
			if m.Key == "ETH" {
				require.NoError(t, s.Ack(t.Context(), m))
			}
		}
	}
	require.Equal(t, map[string]int{"BAD": 1, "ETH": 1}, deliveries)
}

func TestRedis_PendingReplayWalksPastBatchSize(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := RedisConfig{Stream: "prices", Group: "g", Consumer: "c1", Block: 20 * time.Millisecond, PendingRetry: time.Hour}

	crashed := NewRedis(rdb, cfg)
	require.NoError(t, crashed.EnsureGroup(t.Context()))
	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, crashed.Publish(t.Context(), k, []byte(k)))
	}
	_, err := crashed.Fetch(t.Context(), 10)
	require.NoError(t, err)

	s := NewRedis(rdb, cfg)
	var keys []string
	for i := 0; i < 4; i++ {
		msgs, err := s.Fetch(t.Context(), 1)
		require.NoError(t, err)
		for _, m := range msgs {
			keys = append(keys, m.Key)
		}
	}
	require.Equal(t, []string{"A", "B", "C"}, keys)
}

func TestRedis_PendingRescannedAfterRetryInterval(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := RedisConfig{Stream: "prices", Group: "g", Consumer: "c1", Block: 20 * time.Millisecond, PendingRetry: time.Minute}
	s := NewRedis(rdb, cfg)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	require.NoError(t, s.EnsureGroup(t.Context()))
	require.NoError(t, s.Publish(t.Context(), "BAD", []byte("bad")))

	fetchKeys := func() []string {
		msgs, err := s.Fetch(t.Context(), 10)
		require.NoError(t, err)
		var keys []string
		for _, m := range msgs {
			keys = append(keys, m.Key)
		}
		return keys
	}

	require.Equal(t, []string{"BAD"}, fetchKeys(), "new entry")
	require.Empty(t, fetchKeys(), "unacked entry waits for the next pass")
	now = now.Add(time.Minute)
	require.Equal(t, []string{"BAD"}, fetchKeys(), "redelivered once the retry interval elapses")
	require.Empty(t, fetchKeys())
}
