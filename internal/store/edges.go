package store

import (
	"database/sql"
	"fmt"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// InsertEdge adds a causal edge. Re-inserting an existing (source, target,
// relation) triple updates strength and evidence instead of duplicating.
func (s *Store) InsertEdge(e *CausalEdge) (int64, error) {
	if e.SourceID == e.TargetID {
		return 0, engerrors.InvalidParam("target_id", "self-edges are not allowed")
	}
	if e.Strength <= 0 {
		e.Strength = DefaultEdgeStrength
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO causal_edges (source_id, target_id, relation, strength, evidence, created_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(source_id, target_id, relation)
		 DO UPDATE SET strength = excluded.strength, evidence = excluded.evidence`,
		e.SourceID, e.TargetID, string(e.Relation), e.Strength, e.Evidence, e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, engerrors.Database(err)
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return id, nil
}

// DeleteEdge removes one edge by ID.
func (s *Store) DeleteEdge(id int64) error {
	res, err := s.db.Exec(`DELETE FROM causal_edges WHERE id = ?`, id)
	if err != nil {
		return engerrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerrors.NotFound("edge", fmt.Sprint(id))
	}
	return nil
}

// EdgesFrom returns outgoing edges of a memory.
func (s *Store) EdgesFrom(memoryID int64) ([]*CausalEdge, error) {
	return s.queryEdges(`SELECT id, source_id, target_id, relation, strength, evidence, created_at
		FROM causal_edges WHERE source_id = ? ORDER BY strength DESC`, memoryID)
}

// EdgesTo returns incoming edges of a memory.
func (s *Store) EdgesTo(memoryID int64) ([]*CausalEdge, error) {
	return s.queryEdges(`SELECT id, source_id, target_id, relation, strength, evidence, created_at
		FROM causal_edges WHERE target_id = ? ORDER BY strength DESC`, memoryID)
}

// AllEdges returns every edge ordered by ID.
func (s *Store) AllEdges() ([]*CausalEdge, error) {
	return s.queryEdges(`SELECT id, source_id, target_id, relation, strength, evidence, created_at
		FROM causal_edges ORDER BY id`)
}

// EdgeCountsByRelation returns how many edges exist per relation type.
func (s *Store) EdgeCountsByRelation() (map[Relation]int, error) {
	rows, err := s.db.Query(`SELECT relation, COUNT(*) FROM causal_edges GROUP BY relation`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	counts := make(map[Relation]int)
	for rows.Next() {
		var rel string
		var n int
		if err := rows.Scan(&rel, &n); err != nil {
			return nil, engerrors.Database(err)
		}
		counts[Relation(rel)] = n
	}
	return counts, rows.Err()
}

// ConnectedMemoryIDs returns the distinct set of memory IDs that appear on
// either end of any edge.
func (s *Store) ConnectedMemoryIDs() (map[int64]bool, error) {
	rows, err := s.db.Query(
		`SELECT source_id FROM causal_edges UNION SELECT target_id FROM causal_edges`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, engerrors.Database(err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *Store) queryEdges(q string, args ...any) ([]*CausalEdge, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()
	var out []*CausalEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, engerrors.Database(err)
	}
	return out, nil
}

func scanEdge(r rowScanner) (*CausalEdge, error) {
	var e CausalEdge
	var rel string
	var created int64
	if err := r.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel, &e.Strength, &e.Evidence, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, engerrors.Database(err)
	}
	e.Relation = Relation(rel)
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}
