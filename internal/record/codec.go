package record

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Encode serializes a record for the stream, cache and cold store.
func Encode(r CanonicalRecord) ([]byte, error) {
	b, err := sonic.ConfigStd.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Symbol, err)
	}
	return b, nil
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (CanonicalRecord, error) {
	var r CanonicalRecord
	if err := sonic.ConfigStd.Unmarshal(b, &r); err != nil {
		return CanonicalRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
