package store

import (
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// RecordConflict appends one gate decision to the audit log.
func (s *Store) RecordConflict(c *ConflictRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO memory_conflicts (
			new_memory_hash, existing_memory_id, similarity_score, action,
			contradiction_detected, notes, spec_folder, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		c.NewMemoryHash, c.ExistingMemoryID, c.SimilarityScore, c.Action,
		boolToInt(c.ContradictionDetected), c.Notes, c.SpecFolder, c.CreatedAt.UnixMilli())
	if err != nil {
		return engerrors.Database(err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// ListConflicts returns the most recent gate decisions, optionally scoped to
// a folder.
func (s *Store) ListConflicts(specFolder string, limit int) ([]*ConflictRecord, error) {
	q := `SELECT id, new_memory_hash, existing_memory_id, similarity_score, action,
		contradiction_detected, notes, spec_folder, created_at
		FROM memory_conflicts`
	args := []any{}
	if specFolder != "" {
		q += ` WHERE spec_folder = ?`
		args = append(args, specFolder)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*ConflictRecord
	for rows.Next() {
		var c ConflictRecord
		var detected int
		var created int64
		if err := rows.Scan(&c.ID, &c.NewMemoryHash, &c.ExistingMemoryID, &c.SimilarityScore,
			&c.Action, &detected, &c.Notes, &c.SpecFolder, &created); err != nil {
			return nil, engerrors.Database(err)
		}
		c.ContradictionDetected = detected != 0
		c.CreatedAt = time.UnixMilli(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
