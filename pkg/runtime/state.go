package runtime

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	jsonpool "github.com/ajitpratap0/stardust/pkg/json"
)

// StateStore persists sync state as a JSON file between debug runs. Each
// checkpoint replaces the file wholesale; a missing file means an empty
// state (initial sync).
type StateStore struct {
	path string
}

// NewStateStore creates a state store backed by the JSON file at path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads the persisted state. A missing file yields an empty state.
func (s *StateStore) Load() (core.State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return core.State{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file")
	}

	state := core.State{}
	if len(data) > 0 {
		if err := jsonpool.Unmarshal(data, &state); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "state file is not valid JSON")
		}
	}
	return state, nil
}

// Save replaces the persisted state. The write goes through a temp file and
// rename so a crash mid-write cannot corrupt the previous checkpoint.
func (s *StateStore) Save(state core.State) error {
	data, err := jsonpool.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory")
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create temp state file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to close temp state file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}
