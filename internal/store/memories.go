package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

const memoryColumns = `id, spec_folder, file_path, title, content_hash, content,
	trigger_phrases, context_type, importance_tier, importance_weight,
	embedding, embedding_status, file_mtime_ns,
	stability, difficulty, last_review, review_count,
	access_count, last_accessed, confidence, validation_count,
	related_memories, created_at, updated_at`

// InsertMemory writes a new memory row, its FTS shadow (via triggers), and
// its vector, all atomically. The returned ID is assigned by SQLite.
func (s *Store) InsertMemory(m *Memory) (int64, error) {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.ImportanceWeight == 0 {
		m.ImportanceWeight = m.ImportanceTier.Weight()
	}
	if m.Stability == 0 {
		m.Stability = DefaultStability
	}
	if m.Difficulty == 0 {
		m.Difficulty = DefaultDifficulty
	}
	if m.EmbeddingStatus == "" {
		m.EmbeddingStatus = EmbeddingPending
	}

	triggers := mustJSON(NormalizeTriggers(m.TriggerPhrases))
	related := mustJSON(m.RelatedMemories)

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO memory_index (
			spec_folder, file_path, title, content_hash, content,
			trigger_phrases, context_type, importance_tier, importance_weight,
			embedding, embedding_status, file_mtime_ns,
			stability, difficulty, last_review, review_count,
			access_count, last_accessed, confidence, validation_count,
			related_memories, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.SpecFolder, m.FilePath, m.Title, m.ContentHash, m.Content,
			triggers, string(m.ContextType), string(m.ImportanceTier), m.ImportanceWeight,
			nullableBlob(m.Embedding), string(m.EmbeddingStatus), m.FileMtimeNS,
			m.Stability, m.Difficulty, unixOrZero(m.LastReview), m.ReviewCount,
			m.AccessCount, unixOrZero(m.LastAccessed), m.Confidence, m.ValidationCount,
			related, m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
		if err != nil {
			return engerrors.Database(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return engerrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.ID = id
	if len(m.Embedding) == s.dim && m.EmbeddingStatus == EmbeddingSuccess {
		s.vectors.Add(id, m.Embedding)
	}
	s.triggers.invalidate()
	s.BumpSentinel()
	return id, nil
}

// UpdateMemory rewrites the content-bearing columns of an existing row and
// refreshes the vector index entry.
func (s *Store) UpdateMemory(m *Memory) error {
	if m.ID == 0 {
		return fmt.Errorf("update memory: missing id")
	}
	m.UpdatedAt = time.Now()
	triggers := mustJSON(NormalizeTriggers(m.TriggerPhrases))
	related := mustJSON(m.RelatedMemories)

	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE memory_index SET
			spec_folder = ?, file_path = ?, title = ?, content_hash = ?, content = ?,
			trigger_phrases = ?, context_type = ?, importance_tier = ?, importance_weight = ?,
			embedding = ?, embedding_status = ?, file_mtime_ns = ?,
			confidence = ?, validation_count = ?, related_memories = ?, updated_at = ?
			WHERE id = ?`,
			m.SpecFolder, m.FilePath, m.Title, m.ContentHash, m.Content,
			triggers, string(m.ContextType), string(m.ImportanceTier), m.ImportanceWeight,
			nullableBlob(m.Embedding), string(m.EmbeddingStatus), m.FileMtimeNS,
			m.Confidence, m.ValidationCount, related, m.UpdatedAt.UnixMilli(),
			m.ID)
		if err != nil {
			return engerrors.Database(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return engerrors.NotFound("memory", fmt.Sprint(m.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(m.Embedding) == s.dim && m.EmbeddingStatus == EmbeddingSuccess {
		s.vectors.Add(m.ID, m.Embedding)
	} else {
		s.vectors.Remove(m.ID)
	}
	s.triggers.invalidate()
	s.BumpSentinel()
	return nil
}

// UpdateMemoryWithReview rewrites the content-bearing columns together with
// the scheduling state in one transaction, so a review bump never commits
// without its content change. The caller sets LastReview and ReviewCount on
// m beforehand.
func (s *Store) UpdateMemoryWithReview(m *Memory) error {
	if m.ID == 0 {
		return fmt.Errorf("update memory: missing id")
	}
	m.UpdatedAt = time.Now()
	triggers := mustJSON(NormalizeTriggers(m.TriggerPhrases))
	related := mustJSON(m.RelatedMemories)

	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE memory_index SET
			spec_folder = ?, file_path = ?, title = ?, content_hash = ?, content = ?,
			trigger_phrases = ?, context_type = ?, importance_tier = ?, importance_weight = ?,
			embedding = ?, embedding_status = ?, file_mtime_ns = ?,
			confidence = ?, validation_count = ?, related_memories = ?, updated_at = ?,
			stability = ?, difficulty = ?, last_review = ?, review_count = ?
			WHERE id = ?`,
			m.SpecFolder, m.FilePath, m.Title, m.ContentHash, m.Content,
			triggers, string(m.ContextType), string(m.ImportanceTier), m.ImportanceWeight,
			nullableBlob(m.Embedding), string(m.EmbeddingStatus), m.FileMtimeNS,
			m.Confidence, m.ValidationCount, related, m.UpdatedAt.UnixMilli(),
			m.Stability, m.Difficulty, m.LastReview.UnixMilli(), m.ReviewCount,
			m.ID)
		if err != nil {
			return engerrors.Database(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return engerrors.NotFound("memory", fmt.Sprint(m.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(m.Embedding) == s.dim && m.EmbeddingStatus == EmbeddingSuccess {
		s.vectors.Add(m.ID, m.Embedding)
	} else {
		s.vectors.Remove(m.ID)
	}
	s.triggers.invalidate()
	s.BumpSentinel()
	return nil
}

// GetMemory loads one row by ID.
func (s *Store) GetMemory(id int64) (*Memory, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memory_index WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, engerrors.NotFound("memory", fmt.Sprint(id))
	}
	return m, err
}

// GetMemoryByPath loads one row by its file path.
func (s *Store) GetMemoryByPath(path string) (*Memory, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memory_index WHERE file_path = ?`, path)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, engerrors.NotFound("memory", path)
	}
	return m, err
}

// ListMemories returns rows, optionally filtered by spec folder, newest
// first. limit <= 0 means no limit.
func (s *Store) ListMemories(specFolder string, limit int) ([]*Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memory_index`
	args := []any{}
	if specFolder != "" {
		q += ` WHERE spec_folder = ?`
		args = append(args, specFolder)
	}
	q += ` ORDER BY updated_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMemories(q, args...)
}

// MemoriesByTier returns all rows in a tier, most recently updated first.
func (s *Store) MemoriesByTier(tier ImportanceTier, limit int) ([]*Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memory_index WHERE importance_tier = ? ORDER BY updated_at DESC`
	args := []any{string(tier)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMemories(q, args...)
}

// MemoriesByStatus returns rows with the given embedding status.
func (s *Store) MemoriesByStatus(status EmbeddingStatus) ([]*Memory, error) {
	return s.queryMemories(
		`SELECT `+memoryColumns+` FROM memory_index WHERE embedding_status = ? ORDER BY id`,
		string(status))
}

// AllMemories returns every row ordered by ID.
func (s *Store) AllMemories() ([]*Memory, error) {
	return s.queryMemories(`SELECT ` + memoryColumns + ` FROM memory_index ORDER BY id`)
}

// DeleteMemory removes a row; causal edges and working-memory entries cascade
// via foreign keys, the FTS shadow via triggers.
func (s *Store) DeleteMemory(id int64) error {
	res, err := s.db.Exec(`DELETE FROM memory_index WHERE id = ?`, id)
	if err != nil {
		return engerrors.Database(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engerrors.NotFound("memory", fmt.Sprint(id))
	}
	s.vectors.Remove(id)
	s.triggers.invalidate()
	s.BumpSentinel()
	return nil
}

// UpdateEmbedding stores a freshly computed vector and marks the row
// successful.
func (s *Store) UpdateEmbedding(id int64, vec []float32) error {
	_, err := s.db.Exec(
		`UPDATE memory_index SET embedding = ?, embedding_status = ?, updated_at = ? WHERE id = ?`,
		EncodeVector(vec), EmbeddingSuccess, time.Now().UnixMilli(), id)
	if err != nil {
		return engerrors.Database(err)
	}
	s.vectors.Add(id, vec)
	s.BumpSentinel()
	return nil
}

// TouchMtime records a new file mtime without counting as a content update;
// updated_at is deliberately left alone.
func (s *Store) TouchMtime(id int64, mtimeNS int64) error {
	_, err := s.db.Exec(`UPDATE memory_index SET file_mtime_ns = ? WHERE id = ?`, mtimeNS, id)
	if err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// SetEmbeddingStatus flips the status column without touching the vector.
func (s *Store) SetEmbeddingStatus(id int64, status EmbeddingStatus) error {
	_, err := s.db.Exec(
		`UPDATE memory_index SET embedding_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return engerrors.Database(err)
	}
	if status != EmbeddingSuccess {
		s.vectors.Remove(id)
	}
	return nil
}

// RecordAccess bumps access_count and last_accessed for retrieved memories.
func (s *Store) RecordAccess(ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`UPDATE memory_index SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`)
		if err != nil {
			return engerrors.Database(err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.Exec(at.UnixMilli(), id); err != nil {
				return engerrors.Database(err)
			}
		}
		return nil
	})
}

// UpdateScheduling writes the scheduler state after a review.
func (s *Store) UpdateScheduling(id int64, stability, difficulty float64, lastReview time.Time, reviewCount int) error {
	_, err := s.db.Exec(
		`UPDATE memory_index SET stability = ?, difficulty = ?, last_review = ?, review_count = ? WHERE id = ?`,
		stability, difficulty, lastReview.UnixMilli(), reviewCount, id)
	if err != nil {
		return engerrors.Database(err)
	}
	return nil
}

// CountMemories returns the total row count.
func (s *Store) CountMemories() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_index`).Scan(&n); err != nil {
		return 0, engerrors.Database(err)
	}
	return n, nil
}

func (s *Store) queryMemories(q string, args ...any) ([]*Memory, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, engerrors.Database(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var (
		m                           Memory
		triggers, related           string
		ctxType, tier, status       string
		lastReview, lastAccessed    int64
		createdAt, updatedAt        int64
		blob                        []byte
	)
	err := r.Scan(
		&m.ID, &m.SpecFolder, &m.FilePath, &m.Title, &m.ContentHash, &m.Content,
		&triggers, &ctxType, &tier, &m.ImportanceWeight,
		&blob, &status, &m.FileMtimeNS,
		&m.Stability, &m.Difficulty, &lastReview, &m.ReviewCount,
		&m.AccessCount, &lastAccessed, &m.Confidence, &m.ValidationCount,
		&related, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, engerrors.Database(err)
	}
	_ = json.Unmarshal([]byte(triggers), &m.TriggerPhrases)
	_ = json.Unmarshal([]byte(related), &m.RelatedMemories)
	m.ContextType = ContextType(ctxType)
	m.ImportanceTier = ImportanceTier(tier)
	m.EmbeddingStatus = EmbeddingStatus(status)
	if len(blob) > 0 {
		if vec, err := DecodeVector(blob); err == nil {
			m.Embedding = vec
		}
	}
	m.LastReview = timeOrZero(lastReview)
	m.LastAccessed = timeOrZero(lastAccessed)
	m.CreatedAt = time.UnixMilli(createdAt)
	m.UpdatedAt = time.UnixMilli(updatedAt)
	return &m, nil
}

func mustJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func nullableBlob(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return EncodeVector(vec)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
