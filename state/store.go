package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/errors"
)

const (
	packageName = "state"
)

// Store reads and writes the state file on local disk
type Store struct {
	path string
}

// NewStore creates a store for the given state file path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location
func (st *Store) Path() string {
	return st.path
}

// Load reads the state file. A missing file yields a fresh empty state with a
// new lineage; corrupt JSON is an error and the file is left untouched.
func (st *Store) Load() (*State, error) {
	logger := zap.L().With(zap.String("package", packageName))

	raw, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("State file missing, starting with fresh state",
				zap.String("operation", "state_load"),
				zap.String("path", st.path),
			)
			return New(), nil
		}
		return nil, errors.New(errors.ErrStateLoad, "failed to read state file",
			map[string]interface{}{
				"path": st.path,
			}, err)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New(errors.ErrStateLoad, "state file is not valid JSON",
			map[string]interface{}{
				"path": st.path,
			}, err)
	}
	if s.Outputs == nil {
		s.Outputs = make(map[string]OutputValue)
	}

	logger.Info("State file loaded",
		zap.String("operation", "state_load"),
		zap.String("path", st.path),
		zap.Uint64("serial", s.Serial),
		zap.Int("resources", len(s.Resources)),
	)
	return &s, nil
}

// Save writes the state atomically (temp file + rename) and bumps the serial
func (st *Store) Save(s *State) error {
	logger := zap.L().With(zap.String("package", packageName))

	s.Serial++
	s.Version = Version
	s.EngineVersion = EngineVersion

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.New(errors.ErrStateSave, "failed to encode state",
			map[string]interface{}{
				"path": st.path,
			}, err)
	}

	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, ".stackpilot-state-*")
	if err != nil {
		return errors.New(errors.ErrStateSave, "failed to create temp state file",
			map[string]interface{}{
				"dir": dir,
			}, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.New(errors.ErrStateSave, "failed to write temp state file",
			map[string]interface{}{
				"path": tmpName,
			}, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.New(errors.ErrStateSave, "failed to close temp state file",
			map[string]interface{}{
				"path": tmpName,
			}, err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		os.Remove(tmpName)
		return errors.New(errors.ErrStateSave, "failed to replace state file",
			map[string]interface{}{
				"path": st.path,
			}, err)
	}

	logger.Info("State file saved",
		zap.String("operation", "state_save"),
		zap.String("path", st.path),
		zap.Uint64("serial", s.Serial),
	)
	return nil
}
