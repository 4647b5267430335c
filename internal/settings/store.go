// Package settings persists thermostat configuration across power loss.
// Each setting lives in its own small JSON file written atomically
// (temp write, verify, rename), so a reader observes either the prior
// complete value or the new complete value and never a partial write.
package settings

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// StateVersion is written into every persisted file. A file carrying a
// different version is treated as "no saved state" rather than crashing.
const StateVersion = 1

// Store reads and writes persisted state files under a single directory.
type Store struct {
	// mu serializes the temp-write/rename sequence per store. On a
	// multithreaded runtime two writers targeting the same file would
	// otherwise race between the temp write and the rename.
	mu  sync.Mutex
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of a state file.
func (s *Store) Path(file string) string {
	return filepath.Join(s.dir, file)
}

// SaveState atomically persists data to file. The value is serialized to a
// temporary file, read back and verified, and only then renamed over the
// target; any failure leaves the original file untouched and returns false.
// The version field is stamped in if absent.
func (s *Store) SaveState(data map[string]any, file string) bool {
	if data == nil {
		return false
	}

	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	if _, ok := record["version"]; !ok {
		record["version"] = StateVersion
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		log.Printf("settings: marshal %s: %v", file, err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.Path(file)
	tmp := target + ".tmp"

	if err := writeAndSync(tmp, encoded); err != nil {
		log.Printf("settings: write %s: %v", tmp, err)
		os.Remove(tmp)
		return false
	}

	// Read back and verify before the rename makes the write visible.
	readback, err := os.ReadFile(tmp)
	if err != nil || !bytes.Equal(readback, encoded) {
		log.Printf("settings: verify %s failed", tmp)
		os.Remove(tmp)
		return false
	}

	if err := os.Rename(tmp, target); err != nil {
		log.Printf("settings: rename %s: %v", file, err)
		os.Remove(tmp)
		return false
	}
	return true
}

// LoadState returns the persisted value for file, or nil when the file is
// missing, empty, corrupt, or not carrying the expected state version. It
// never fails boot: corruption is logged and treated as missing.
func (s *Store) LoadState(file string) map[string]any {
	raw, err := os.ReadFile(s.Path(file))
	if err != nil {
		return nil // missing file is not an error
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("settings: corrupt state file %s: %v", file, err)
		return nil
	}

	v, ok := data["version"]
	if !ok {
		log.Printf("settings: %s has no state version; ignoring", file)
		return nil
	}
	version, isNum := toFloat(v)
	if !isNum || int(version) != StateVersion {
		log.Printf("settings: %s has state version %v, want %d; ignoring", file, v, StateVersion)
		return nil
	}
	return data
}

// DeleteState removes a state file. Removing a missing file succeeds.
func (s *Store) DeleteState(file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.Path(file))
	if err != nil && !os.IsNotExist(err) {
		log.Printf("settings: delete %s: %v", file, err)
		return false
	}
	return true
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// toFloat coerces the numeric types JSON decoding and callers produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
