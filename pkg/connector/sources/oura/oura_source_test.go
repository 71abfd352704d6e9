package oura

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/testutil"
)

func newSource(t *testing.T, baseURL string) *OuraSource {
	t.Helper()
	s := NewOuraSource()
	cfg := testutil.NewConfig("oura", map[string]string{
		"access_token": "test-token",
		"base_url":     baseURL,
		"window_days":  "7",
	})
	require.NoError(t, s.Initialize(testutil.NewContext(t), cfg))
	t.Cleanup(func() { _ = s.Close(testutil.NewContext(t)) })
	return s
}

func TestSyncFetchesEveryCollection(t *testing.T) {
	seen := make(map[string]bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("start_date"))
		assert.NotEmpty(t, r.URL.Query().Get("end_date"))

		seen[r.URL.Path] = true
		fmt.Fprintf(w, `{"data":[{"id":"%s-1","day":"2025-06-01","score":88}],"next_token":null}`,
			r.URL.Path[1:])
	}))
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	for _, table := range []string{"daily_sleep", "daily_activity", "daily_readiness", "daily_stress"} {
		upserts := got.Upserts(table)
		require.Len(t, upserts, 1, "table %s", table)
		assert.Equal(t, table+"-1", upserts[0].Data["id"])
	}
	assert.Len(t, seen, 4)

	// one end-of-run checkpoint with today's date
	cps := got.Checkpoints()
	require.Len(t, cps, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"),
		cps[0].State["last_sync_date"])
}

func TestSyncFollowsNextToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/daily_sleep" {
			fmt.Fprint(w, `{"data":[],"next_token":null}`)
			return
		}
		switch r.URL.Query().Get("next_token") {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"s1","day":"2025-06-01"}],"next_token":"T2"}`)
		case "T2":
			fmt.Fprint(w, `{"data":[{"id":"s2","day":"2025-06-02"}],"next_token":""}`)
		default:
			t.Errorf("unexpected next_token %q", r.URL.Query().Get("next_token"))
		}
	}))
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	upserts := got.Upserts("daily_sleep")
	require.Len(t, upserts, 2)
	assert.Equal(t, "s1", upserts[0].Data["id"])
	assert.Equal(t, "s2", upserts[1].Data["id"])
}

func TestResyncStartsFromLastSyncDate(t *testing.T) {
	var sawStart string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawStart = r.URL.Query().Get("start_date")
		fmt.Fprint(w, `{"data":[],"next_token":null}`)
	}))
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{
		"last_sync_date": "2025-05-20",
	})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)
	assert.Equal(t, "2025-05-20", sawStart)
}

func TestInvalidTokenAbortsSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := newSource(t, server.URL)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.Error(t, got.Err)
	assert.True(t, errors.IsType(got.Err, errors.ErrorTypeAuthentication))
	assert.Empty(t, got.Checkpoints())
}

func TestInitializeRequiresAccessToken(t *testing.T) {
	s := NewOuraSource()
	err := s.Initialize(testutil.NewContext(t), testutil.NewConfig("oura", nil))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
