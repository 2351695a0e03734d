package store

import (
	"database/sql"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// SaveCheckpoint stores a named snapshot payload. Re-saving a name replaces
// the old snapshot.
func (s *Store) SaveCheckpoint(name, specFolder, metadata, payload string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (name, spec_folder, metadata, payload, created_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
			spec_folder = excluded.spec_folder,
			metadata = excluded.metadata,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		name, specFolder, metadata, payload, time.Now().UnixMilli())
	if err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// GetCheckpoint returns a snapshot's payload and row metadata.
func (s *Store) GetCheckpoint(name string) (*Checkpoint, string, error) {
	var cp Checkpoint
	var payload string
	var created int64
	err := s.db.QueryRow(
		`SELECT name, spec_folder, metadata, payload, created_at FROM checkpoints WHERE name = ?`, name).
		Scan(&cp.Name, &cp.SpecFolder, &cp.Metadata, &payload, &created)
	if err == sql.ErrNoRows {
		return nil, "", engerrors.NotFound("checkpoint", name)
	}
	if err != nil {
		return nil, "", engerrors.Database(err)
	}
	cp.CreatedAt = time.UnixMilli(created)
	return &cp, payload, nil
}

// ListCheckpoints returns snapshot rows without payloads, newest first.
func (s *Store) ListCheckpoints() ([]*Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT name, spec_folder, metadata, created_at FROM checkpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var created int64
		if err := rows.Scan(&cp.Name, &cp.SpecFolder, &cp.Metadata, &created); err != nil {
			return nil, engerrors.Database(err)
		}
		cp.CreatedAt = time.UnixMilli(created)
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes a snapshot by name.
func (s *Store) DeleteCheckpoint(name string) error {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE name = ?`, name)
	if err != nil {
		return engerrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerrors.NotFound("checkpoint", name)
	}
	return nil
}
