package store

import (
	"fmt"
	"log/slog"
	"os"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// IntegrityIssue describes one problem found during verification.
type IntegrityIssue struct {
	Kind     string `json:"kind"`
	MemoryID int64  `json:"memory_id,omitempty"`
	Detail   string `json:"detail"`
	Cleaned  bool   `json:"cleaned"`
}

// IntegrityReport is what VerifyIntegrity returns.
type IntegrityReport struct {
	MemoryCount  int              `json:"memory_count"`
	VectorCount  int              `json:"vector_count"`
	EdgeCount    int              `json:"edge_count"`
	Issues       []IntegrityIssue `json:"issues"`
	CleanedCount int              `json:"cleaned_count"`
}

// VerifyIntegrity cross-checks the index against the filesystem and its own
// invariants: rows whose source file vanished, rows with missing or
// off-dimension embeddings marked successful, and edges pointing at dead
// rows. With autoClean, stale rows are deleted and bad embeddings demoted to
// pending so the next scan re-embeds them.
func (s *Store) VerifyIntegrity(autoClean bool) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	memories, err := s.AllMemories()
	if err != nil {
		return nil, err
	}
	report.MemoryCount = len(memories)
	report.VectorCount = s.vectors.Len()

	for _, m := range memories {
		if _, err := os.Stat(m.FilePath); os.IsNotExist(err) {
			issue := IntegrityIssue{
				Kind:     "missing_file",
				MemoryID: m.ID,
				Detail:   m.FilePath,
			}
			if autoClean {
				if err := s.DeleteMemory(m.ID); err == nil {
					issue.Cleaned = true
					report.CleanedCount++
				}
			}
			report.Issues = append(report.Issues, issue)
			continue
		}
		if m.EmbeddingStatus == EmbeddingSuccess && len(m.Embedding) != s.dim {
			issue := IntegrityIssue{
				Kind:     "bad_embedding",
				MemoryID: m.ID,
				Detail:   fmt.Sprintf("dim %d, want %d", len(m.Embedding), s.dim),
			}
			if autoClean {
				if err := s.SetEmbeddingStatus(m.ID, EmbeddingPending); err == nil {
					issue.Cleaned = true
					report.CleanedCount++
				}
			}
			report.Issues = append(report.Issues, issue)
		}
	}

	var edgeCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM causal_edges`).Scan(&edgeCount); err != nil {
		return nil, engerrors.Database(err)
	}
	report.EdgeCount = edgeCount

	// Foreign keys cascade edge deletion, so dangling edges only appear on
	// databases written before foreign_keys was enabled.
	rows, err := s.db.Query(`SELECT e.id FROM causal_edges e
		LEFT JOIN memory_index s1 ON s1.id = e.source_id
		LEFT JOIN memory_index t1 ON t1.id = e.target_id
		WHERE s1.id IS NULL OR t1.id IS NULL`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	var dangling []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, engerrors.Database(err)
		}
		dangling = append(dangling, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, engerrors.Database(err)
	}
	for _, id := range dangling {
		issue := IntegrityIssue{Kind: "dangling_edge", Detail: fmt.Sprintf("edge %d", id)}
		if autoClean {
			if err := s.DeleteEdge(id); err == nil {
				issue.Cleaned = true
				report.CleanedCount++
			}
		}
		report.Issues = append(report.Issues, issue)
	}

	if len(report.Issues) > 0 {
		s.logger.Warn("integrity check found issues",
			slog.Int("issues", len(report.Issues)),
			slog.Int("cleaned", report.CleanedCount))
	}
	return report, nil
}
