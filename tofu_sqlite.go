package gemini

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const pinsSchema = `CREATE TABLE IF NOT EXISTS pins (
	host_port TEXT PRIMARY KEY,
	digest    TEXT NOT NULL,
	pinned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps pinned keys in a SQLite database, one row per host[:port].
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open TOFU database: %w", err)
	}
	// One writer keeps read-then-insert consistent inside this process.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(pinsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize TOFU schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Lookup(key string) (string, bool, error) {
	var digest string
	err := s.db.QueryRow("SELECT digest FROM pins WHERE host_port = ?", key).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read pinned key for %s: %w", key, err)
	}
	return digest, true, nil
}

func (s *SQLiteStore) RecordOrCompare(key, digest string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var old string
	err = tx.QueryRow("SELECT digest FROM pins WHERE host_port = ?", key).Scan(&old)
	switch {
	case err == nil:
		if old != digest {
			return &MismatchError{
				Key: key, Old: old, New: digest,
				Location: fmt.Sprintf("the row %q of %s", key, s.path),
			}
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read pinned key for %s: %w", key, err)
	}

	if _, err := tx.Exec("INSERT INTO pins (host_port, digest) VALUES (?, ?)", key, digest); err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to pin key for %s: %w", key, err)
	}
	return nil
}
