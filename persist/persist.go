// Package persist implements the optional engine-boots/engine-ID
// persistence file (§6 "Persistent state"): two serialized fields, a
// big-endian int32 boots counter followed by the engine-ID octet string.
// On Load the boots counter is incremented (clamped to 1 if it was <= 0)
// and written back immediately so a crash between Load calls never hands
// out the same boots value twice.
//
// The write path is an atomic temp-file-then-rename: the new contents go
// to a temp file that is renamed over the real path; §1 carries engine-ID persistence as an out-of-scope external
// collaborator's file format, but the atomic-write mechanics are still
// worth getting right.
package persist

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// EngineIDLength is the byte length of a freshly generated engine ID when
// no persisted file exists yet (RFC 3411 §5's 5-32 byte range; 12 matches
// the common "80 00 00 00 01" + 7 random bytes convention minus the
// enterprise prefix, kept simple here as all-random).
const EngineIDLength = 12

// State is the persisted engine-boots/engine-ID pair (§6).
type State struct {
	Boots    int32
	EngineID []byte
}

// Store reads and atomically rewrites the engine-boots/engine-ID file at
// path.
type Store struct {
	path string
}

// NewStore returns a Store backed by path. The file is created on first
// Load if it doesn't exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load implements §6 "Persistent state": "On startup: read both, increment
// boots (clamp to 1 if ≤0), write back. Engine ID is stable across
// restarts; a new ID is generated and persisted if absent."
func (s *Store) Load() (*State, error) {
	state, err := s.read()
	if os.IsNotExist(err) {
		state = &State{Boots: 0}
	} else if err != nil {
		return nil, err
	}

	if len(state.EngineID) == 0 {
		engineID, genErr := generateEngineID()
		if genErr != nil {
			return nil, genErr
		}
		state.EngineID = engineID
	}

	state.Boots++
	if state.Boots <= 0 {
		state.Boots = 1
	}

	if err := s.write(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("persist: %s: truncated boots field", s.path)
	}
	boots := int32(binary.BigEndian.Uint32(data[:4]))
	engineID := append([]byte(nil), data[4:]...)
	return &State{Boots: boots, EngineID: engineID}, nil
}

// write implements the atomic temp-file-then-rename pattern.
func (s *Store) write(state *State) error {
	out := make([]byte, 4+len(state.EngineID))
	binary.BigEndian.PutUint32(out[:4], uint32(state.Boots))
	copy(out[4:], state.EngineID)

	dir := filepath.Dir(s.path)
	tmpFile := s.path + ".tmp"

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("persist: creating %s: %w", dir, err)
	}
	if err := os.WriteFile(tmpFile, out, 0o600); err != nil {
		return fmt.Errorf("persist: writing %s: %w", tmpFile, err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("persist: renaming %s: %w", tmpFile, err)
	}
	return nil
}

func generateEngineID() ([]byte, error) {
	id := make([]byte, EngineIDLength)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("persist: generating engine ID: %w", err)
	}
	return id, nil
}
