package store

import (
	"strings"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// FTSHit is one full-text match. Score is the negated bm25 rank so that
// higher is better, matching the vector side.
type FTSHit struct {
	ID    int64
	Score float64
}

// SearchFTS runs an FTS5 match over title and content. The query is sanitized
// into a conjunction of quoted terms so user punctuation cannot break the
// MATCH grammar. Title hits weigh 2x content hits.
func (s *Store) SearchFTS(query string, specFolder string, limit int) ([]FTSHit, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	q := `SELECT f.rowid, bm25(memory_fts, 2.0, 1.0) AS rank
	      FROM memory_fts f`
	args := []any{}
	if specFolder != "" {
		q += ` JOIN memory_index m ON m.id = f.rowid
		       WHERE memory_fts MATCH ? AND m.spec_folder = ?`
		args = append(args, match, specFolder)
	} else {
		q += ` WHERE memory_fts MATCH ?`
		args = append(args, match)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		var rank float64
		if err := rows.Scan(&h.ID, &rank); err != nil {
			return nil, engerrors.Database(err)
		}
		// bm25() returns lower-is-better negative values.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// sanitizeFTSQuery turns free text into `"term1" "term2" ...`, dropping
// characters that would be parsed as FTS5 operators.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, f)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
