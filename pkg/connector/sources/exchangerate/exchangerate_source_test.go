package exchangerate

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/testutil"
)

func newServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the key rides in the path: /<key>/<endpoint>/...
		require.True(t, strings.HasPrefix(r.URL.Path, "/test-key/"),
			"request missing API key in path: %s", r.URL.Path)
		rest := strings.TrimPrefix(r.URL.Path, "/test-key/")

		switch {
		case strings.HasPrefix(rest, "latest/"):
			fmt.Fprint(w, `{"result":"success","base_code":"USD",
				"time_last_update_unix":1748822401,
				"conversion_rates":{"EUR":0.92,"GBP":0.79}}`)
		case strings.HasPrefix(rest, "pair/"):
			fmt.Fprint(w, `{"result":"success","base_code":"USD","target_code":"EUR",
				"time_last_update_unix":1748822401,"conversion_rate":0.92}`)
		case rest == "quota":
			fmt.Fprint(w, `{"result":"success","plan_quota":1500,
				"requests_remaining":1497,"refresh_day_of_month":12}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newSource(t *testing.T, baseURL string) *ExchangeRateSource {
	t.Helper()
	s := NewExchangeRateSource()
	cfg := testutil.NewConfig("exchangerate", map[string]string{
		"api_key":  "test-key",
		"base_url": baseURL,
	})
	require.NoError(t, s.Initialize(testutil.NewContext(t), cfg))
	t.Cleanup(func() { _ = s.Close(testutil.NewContext(t)) })
	return s
}

func TestSyncProducesAllThreeTables(t *testing.T) {
	server := newServer(t)
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	latest := got.Upserts("latest_rate")
	require.Len(t, latest, 2)
	for _, op := range latest {
		assert.Equal(t, "USD", op.Data["base_code"])
		assert.NotEmpty(t, op.Data["target_code"])
	}

	pair := got.Upserts("pair_rate")
	require.Len(t, pair, 1)
	assert.Equal(t, "EUR", pair[0].Data["target_code"])
	assert.Equal(t, 0.92, pair[0].Data["conversion_rate"])

	quota := got.Upserts("quota")
	require.Len(t, quota, 1)
	assert.Equal(t, int64(1497), quota[0].Data["requests_remaining"])

	require.Len(t, got.Checkpoints(), 1)
}

func TestErrorResultFailsSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"error","error-type":"invalid-key"}`)
	}))
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.Error(t, got.Err)
	assert.True(t, errors.IsType(got.Err, errors.ErrorTypeData))
	assert.Empty(t, got.Checkpoints())
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	s := NewExchangeRateSource()
	err := s.Initialize(testutil.NewContext(t), testutil.NewConfig("exchangerate", nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
