package store

import (
	"database/sql"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// UpsertWorkingMemory writes one activation row for a session.
func (s *Store) UpsertWorkingMemory(e *WorkingMemoryEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO working_memory (session_id, memory_id, attention_score, last_turn_activated, last_decay_turn)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(session_id, memory_id) DO UPDATE SET
			attention_score = excluded.attention_score,
			last_turn_activated = excluded.last_turn_activated,
			last_decay_turn = excluded.last_decay_turn`,
		e.SessionID, e.MemoryID, e.AttentionScore, e.LastTurnActivated, e.LastDecayTurn)
	if err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// UpsertWorkingMemoryBatch writes many activation rows in one transaction.
func (s *Store) UpsertWorkingMemoryBatch(entries []*WorkingMemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT INTO working_memory (session_id, memory_id, attention_score, last_turn_activated, last_decay_turn)
			 VALUES (?,?,?,?,?)
			 ON CONFLICT(session_id, memory_id) DO UPDATE SET
				attention_score = excluded.attention_score,
				last_turn_activated = excluded.last_turn_activated,
				last_decay_turn = excluded.last_decay_turn`)
		if err != nil {
			return engerrors.Database(err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.Exec(e.SessionID, e.MemoryID, e.AttentionScore, e.LastTurnActivated, e.LastDecayTurn); err != nil {
				return engerrors.Database(err)
			}
		}
		return nil
	})
}

// WorkingMemoryForSession returns a session's activation rows, strongest
// first.
func (s *Store) WorkingMemoryForSession(sessionID string) ([]*WorkingMemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT session_id, memory_id, attention_score, last_turn_activated, last_decay_turn
		 FROM working_memory WHERE session_id = ? ORDER BY attention_score DESC`, sessionID)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*WorkingMemoryEntry
	for rows.Next() {
		var e WorkingMemoryEntry
		if err := rows.Scan(&e.SessionID, &e.MemoryID, &e.AttentionScore, &e.LastTurnActivated, &e.LastDecayTurn); err != nil {
			return nil, engerrors.Database(err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AllWorkingMemory returns every session's activation rows. Checkpoint
// snapshots capture working memory through this.
func (s *Store) AllWorkingMemory() ([]*WorkingMemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT session_id, memory_id, attention_score, last_turn_activated, last_decay_turn
		 FROM working_memory ORDER BY session_id, memory_id`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*WorkingMemoryEntry
	for rows.Next() {
		var e WorkingMemoryEntry
		if err := rows.Scan(&e.SessionID, &e.MemoryID, &e.AttentionScore, &e.LastTurnActivated, &e.LastDecayTurn); err != nil {
			return nil, engerrors.Database(err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteWorkingMemory removes activation rows. memoryIDs nil clears the whole
// session.
func (s *Store) DeleteWorkingMemory(sessionID string, memoryIDs []int64) error {
	if memoryIDs == nil {
		_, err := s.db.Exec(`DELETE FROM working_memory WHERE session_id = ?`, sessionID)
		if err != nil {
			return engerrors.Database(err)
		}
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`DELETE FROM working_memory WHERE session_id = ? AND memory_id = ?`)
		if err != nil {
			return engerrors.Database(err)
		}
		defer stmt.Close()
		for _, id := range memoryIDs {
			if _, err := stmt.Exec(sessionID, id); err != nil {
				return engerrors.Database(err)
			}
		}
		return nil
	})
}
