package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_StampsDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "marketpipe/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "demo", r.Header.Get("X-Key"))
		assert.Equal(t, "keep", r.Header.Get("X-Own"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(2 * time.Second)
	c.Headers = map[string]string{"X-Key": "demo", "X-Own": "overridden"}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-Own", "keep")

	res, err := c.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
}
