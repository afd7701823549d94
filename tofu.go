package gemini

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TrustStore keeps the public key digest pinned for each host[:port].
type TrustStore interface {
	// Lookup returns the pinned digest for key, if any.
	Lookup(key string) (digest string, ok bool, err error)
	// RecordOrCompare pins digest for key on first use. Later calls with
	// another digest return a *MismatchError and leave the pin untouched.
	RecordOrCompare(key, digest string) error
}

// MismatchError is returned when a host presents a public key other than
// the one pinned for it.
type MismatchError struct {
	Key      string
	Old      string
	New      string
	// Location is where the pin lives, for the user to remove it.
	Location string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("key mismatch for %s: former key was %s, new is %s, delete %s if the change is intentional",
		e.Key, e.Old, e.New, e.Location)
}

// FileStore keeps one file per host in a directory, holding the base64
// digest. An empty Dir disables it: nothing is read or written and every
// key is accepted.
type FileStore struct {
	Dir string

	mu sync.Mutex
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(key string) string {
	// Keys are hostnames with an optional port; keep them inside Dir.
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(key)
	if name == "." || name == ".." {
		name = "_" + name
	}
	return filepath.Join(s.Dir, name)
}

func (s *FileStore) Lookup(key string) (string, bool, error) {
	if s.Dir == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key)
}

func (s *FileStore) read(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read pinned key for %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (s *FileStore) RecordOrCompare(key, digest string) error {
	if s.Dir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok, err := s.read(key)
	if err != nil {
		return err
	}
	if ok {
		if old != digest {
			return &MismatchError{Key: key, Old: old, New: digest, Location: s.path(key)}
		}
		return nil
	}

	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create TOFU directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".pin-*")
	if err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(digest + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	return nil
}

type noStore struct{}

func (noStore) Lookup(string) (string, bool, error) { return "", false, nil }
func (noStore) RecordOrCompare(string, string) error { return nil }
