package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

func TestLoadMissingFileYieldsEmptyState(t *testing.T) {
	s := NewStateStore(filepath.Join(t.TempDir(), "state.json"))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := NewStateStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Save(core.State{
		"cursor":        "abc",
		"request_count": 12,
	}))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", state.GetString("cursor", ""))
	assert.Equal(t, 12, state.GetInt("request_count", 0))
}

// Each checkpoint replaces the file wholesale: keys from earlier states do
// not survive a save that omits them.
func TestSaveReplacesWholesale(t *testing.T) {
	s := NewStateStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Save(core.State{"old_key": "x", "cursor": "1"}))
	require.NoError(t, s.Save(core.State{"cursor": "2"}))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "2", state.GetString("cursor", ""))
	_, hasOld := state["old_key"]
	assert.False(t, hasOld)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStateStore(path).Load()
	assert.Error(t, err)
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	s := NewStateStore(path)

	require.NoError(t, s.Save(core.State{"cursor": "abc"}))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
