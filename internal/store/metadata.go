package store

import (
	"database/sql"
	"errors"
)

// MetaLastRun holds the ID of the most recently started run.
const MetaLastRun = "last_run_id"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// LastRun returns the most recently started run, or nil if none was recorded.
func (s *Store) LastRun() (*RunRef, error) {
	id, err := s.GetMetadata(MetaLastRun)
	if err != nil || id == "" {
		return nil, err
	}
	r, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}
	return &RunRef{ID: r.ID, Dir: r.Dir}, nil
}

// RunRef identifies a run and its output directory.
type RunRef struct {
	ID  string
	Dir string
}
