package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// InsertPreflight records the start-of-task self-assessment. A second
// preflight for the same (spec_folder, task_id) replaces the first.
func (s *Store) InsertPreflight(r *LearningRecord) (int64, error) {
	now := time.Now()
	r.Phase = PhasePreflight
	r.CreatedAt = now
	r.UpdatedAt = now
	res, err := s.db.Exec(
		`INSERT INTO session_learning (
			spec_folder, task_id, phase, session_id,
			pre_knowledge, pre_uncertainty, pre_context, knowledge_gaps,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(spec_folder, task_id) DO UPDATE SET
			phase = excluded.phase,
			session_id = excluded.session_id,
			pre_knowledge = excluded.pre_knowledge,
			pre_uncertainty = excluded.pre_uncertainty,
			pre_context = excluded.pre_context,
			knowledge_gaps = excluded.knowledge_gaps,
			updated_at = excluded.updated_at`,
		r.SpecFolder, r.TaskID, string(r.Phase), r.SessionID,
		r.PreKnowledge, r.PreUncertainty, r.PreContext, mustJSON(r.KnowledgeGaps),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		return 0, engerrors.Database(err)
	}
	id, _ := res.LastInsertId()
	r.ID = id
	return id, nil
}

// CompleteLearning writes the postflight half of a record and flips its phase.
func (s *Store) CompleteLearning(r *LearningRecord) error {
	r.Phase = PhaseComplete
	r.UpdatedAt = time.Now()
	res, err := s.db.Exec(
		`UPDATE session_learning SET
			phase = ?, post_knowledge = ?, post_uncertainty = ?, post_context = ?,
			delta_knowledge = ?, delta_uncertainty = ?, delta_context = ?,
			learning_index = ?, gaps_closed = ?, new_gaps_discovered = ?, updated_at = ?
		 WHERE spec_folder = ? AND task_id = ?`,
		string(r.Phase), r.PostKnowledge, r.PostUncertainty, r.PostContext,
		r.DeltaKnowledge, r.DeltaUncertainty, r.DeltaContext,
		r.LearningIndex, mustJSON(r.GapsClosed), mustJSON(r.NewGapsDiscovered),
		r.UpdatedAt.UnixMilli(),
		r.SpecFolder, r.TaskID)
	if err != nil {
		return engerrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerrors.NotFound("preflight record", r.SpecFolder+"/"+r.TaskID)
	}
	return nil
}

// GetLearning loads one record by task identity.
func (s *Store) GetLearning(specFolder, taskID string) (*LearningRecord, error) {
	row := s.db.QueryRow(learningSelect+` WHERE spec_folder = ? AND task_id = ?`, specFolder, taskID)
	r, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, engerrors.NotFound("learning record", specFolder+"/"+taskID)
	}
	return r, err
}

// LearningFilter narrows a history query. Zero values mean "no filter".
type LearningFilter struct {
	SpecFolder   string
	SessionID    string
	OnlyComplete bool
	Limit        int
}

// LearningHistory returns matching records, newest first. Filters apply
// before the limit so a capped query still returns the newest matches.
func (s *Store) LearningHistory(f LearningFilter) ([]*LearningRecord, error) {
	q := learningSelect
	var where []string
	var args []any
	if f.SpecFolder != "" {
		where = append(where, `spec_folder = ?`)
		args = append(args, f.SpecFolder)
	}
	if f.SessionID != "" {
		where = append(where, `session_id = ?`)
		args = append(args, f.SessionID)
	}
	if f.OnlyComplete {
		where = append(where, `phase = ?`)
		args = append(args, string(PhaseComplete))
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*LearningRecord
	for rows.Next() {
		r, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const learningSelect = `SELECT id, spec_folder, task_id, phase, session_id,
	pre_knowledge, pre_uncertainty, pre_context, knowledge_gaps,
	post_knowledge, post_uncertainty, post_context,
	delta_knowledge, delta_uncertainty, delta_context,
	learning_index, gaps_closed, new_gaps_discovered,
	created_at, updated_at
	FROM session_learning`

func scanLearning(row rowScanner) (*LearningRecord, error) {
	var (
		r                         LearningRecord
		phase, gaps, closed, news string
		created, updated          int64
	)
	err := row.Scan(&r.ID, &r.SpecFolder, &r.TaskID, &phase, &r.SessionID,
		&r.PreKnowledge, &r.PreUncertainty, &r.PreContext, &gaps,
		&r.PostKnowledge, &r.PostUncertainty, &r.PostContext,
		&r.DeltaKnowledge, &r.DeltaUncertainty, &r.DeltaContext,
		&r.LearningIndex, &closed, &news,
		&created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, engerrors.Database(err)
	}
	r.Phase = LearningPhase(phase)
	_ = json.Unmarshal([]byte(gaps), &r.KnowledgeGaps)
	_ = json.Unmarshal([]byte(closed), &r.GapsClosed)
	_ = json.Unmarshal([]byte(news), &r.NewGapsDiscovered)
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}
