package nationalparks

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/testutil"
)

// fakeNPS serves the three endpoints with offset pagination over canned
// items, mimicking the NPS envelope (total and start as strings).
type fakeNPS struct {
	items map[string][]string // path -> JSON items
}

func (f *fakeNPS) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		items, ok := f.items[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		end := start + limit
		if end > len(items) {
			end = len(items)
		}
		page := ""
		if start < end {
			for i, item := range items[start:end] {
				if i > 0 {
					page += ","
				}
				page += item
			}
		}
		fmt.Fprintf(w, `{"total":"%d","limit":"%d","start":"%d","data":[%s]}`,
			len(items), limit, start, page)
	}
}

func newSource(t *testing.T, baseURL string, pageSize int) *NationalParksSource {
	t.Helper()
	s := NewNationalParksSource()
	cfg := testutil.NewConfig("nationalparks", map[string]string{
		"api_key":   "test-key",
		"base_url":  baseURL,
		"page_size": strconv.Itoa(pageSize),
	})
	require.NoError(t, s.Initialize(testutil.NewContext(t), cfg))
	t.Cleanup(func() { _ = s.Close(testutil.NewContext(t)) })
	return s
}

func TestSyncPagesAllEndpoints(t *testing.T) {
	fake := &fakeNPS{items: map[string][]string{
		"/parks": {
			`{"id":"p1","fullName":"Acadia"}`,
			`{"id":"p2","fullName":"Zion"}`,
			`{"id":"p3","fullName":"Denali"}`,
		},
		"/feespasses": {`{"id":"f1"}`},
		"/people":     {`{"id":"h1"}`, `{"id":"h2"}`},
	}}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	s := newSource(t, server.URL, 2)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	assert.Len(t, got.Upserts("parks"), 3)
	assert.Len(t, got.Upserts("feespasses"), 1)
	assert.Len(t, got.Upserts("people"), 2)

	// per-page checkpoints; the final one carries every endpoint's offset
	final := got.LastCheckpoint()
	require.NotNil(t, final)
	assert.Equal(t, 3, final.GetInt("offset_parks", -1))
	assert.Equal(t, 1, final.GetInt("offset_feespasses", -1))
	assert.Equal(t, 2, final.GetInt("offset_people", -1))
}

func TestSyncResumesFromSavedOffsets(t *testing.T) {
	fake := &fakeNPS{items: map[string][]string{
		"/parks":      {`{"id":"p1"}`, `{"id":"p2"}`, `{"id":"p3"}`},
		"/feespasses": {},
		"/people":     {},
	}}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	s := newSource(t, server.URL, 10)
	stream, err := s.Update(testutil.NewContext(t), core.State{
		"offset_parks": float64(2),
	})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	upserts := got.Upserts("parks")
	require.Len(t, upserts, 1)
	assert.Equal(t, "p3", upserts[0].Data["id"])
}

func TestItemWithoutIDIsSkipped(t *testing.T) {
	fake := &fakeNPS{items: map[string][]string{
		"/parks":      {`{"fullName":"No ID"}`, `{"id":"p2"}`},
		"/feespasses": {},
		"/people":     {},
	}}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	s := newSource(t, server.URL, 10)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.NoError(t, got.Err)

	upserts := got.Upserts("parks")
	require.Len(t, upserts, 1)
	assert.Equal(t, "p2", upserts[0].Data["id"])
}

func TestAuthFailureAbortsSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := newSource(t, server.URL, 10)
	stream, err := s.Update(testutil.NewContext(t), core.State{})
	require.NoError(t, err)

	got := testutil.DrainStream(t, stream)
	require.Error(t, got.Err)
	assert.True(t, errors.IsType(got.Err, errors.ErrorTypeAuthentication))
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	s := NewNationalParksSource()
	err := s.Initialize(testutil.NewContext(t), testutil.NewConfig("nationalparks", nil))
	require.Error(t, err)
}
