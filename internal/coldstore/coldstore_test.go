package coldstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"marketpipe/internal/record"
)

func TestKeyFor_PartitionsByObservedHourUTC(t *testing.T) {
	rec := record.CanonicalRecord{Symbol: "BTC", ObservedAt: 1_700_000_000} // 2023-11-14 22:13:20 UTC
	require.Equal(t, "raw/crypto/2023/11/14/22/BTC_1700000000.json", KeyFor(rec))
}

func TestArchive_RoundTripsThroughFS(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	rec := record.CanonicalRecord{Symbol: "ETH", PriceUSD: 2000.5, ObservedAt: 1_700_000_000, CapturedAt: "2023-11-14T22:13:21Z", Source: record.SourceCoinGecko}

	key, err := Archive(t.Context(), s, rec)
	require.NoError(t, err)

	b, err := s.Get(t.Context(), key)
	require.NoError(t, err)
	got, err := record.Decode(b)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../x.json", "/abs.json", ""} {
		err := s.Put(t.Context(), key, []byte("{}"))
		require.ErrorIs(t, err, ErrColdStore, key)
	}
}

func TestFS_GetMissing(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(t.Context(), "raw/crypto/nope.json")
	require.ErrorIs(t, err, ErrNotExist)
}

func TestMemory_FailPutWrapsErrColdStore(t *testing.T) {
	m := NewMemory()
	m.FailPut = errors.New("bucket unavailable")
	_, err := Archive(t.Context(), m, record.CanonicalRecord{Symbol: "BTC", ObservedAt: 1})
	require.ErrorIs(t, err, ErrColdStore)
	require.Empty(t, m.Keys())
}
