// Package index is the write-path orchestrator: parse a memory file, embed
// it, run the prediction-error gate, and commit the verdict atomically. Scans
// walk the memory roots incrementally with an mtime+hash fast path under a
// persisted cooldown.
package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/engramhq/engram/internal/embed"
	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/gate"
	"github.com/engramhq/engram/internal/memfile"
	"github.com/engramhq/engram/internal/store"
)

// Status summarizes what happened to one file.
type Status string

const (
	StatusCreated    Status = "created"
	StatusUpdated    Status = "updated"
	StatusReinforced Status = "reinforced"
	StatusSuperseded Status = "superseded"
	StatusUnchanged  Status = "unchanged"
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
)

// Config tunes the indexer.
type Config struct {
	// Roots are the directories memory files may live under.
	Roots []string
	// ConstitutionalRoots hold always-on rule files; scans only walk them
	// when asked to.
	ConstitutionalRoots []string
	// Cooldown is the minimum interval between scans.
	Cooldown time.Duration
	// Concurrency bounds how many files embed and commit at once.
	Concurrency int
}

// allRoots returns memory and constitutional roots together, for path
// validation of single-file indexing.
func (c Config) allRoots() []string {
	if len(c.ConstitutionalRoots) == 0 {
		return c.Roots
	}
	roots := make([]string, 0, len(c.Roots)+len(c.ConstitutionalRoots))
	roots = append(roots, c.Roots...)
	roots = append(roots, c.ConstitutionalRoots...)
	return roots
}

// FileResult reports the outcome of indexing one file.
type FileResult struct {
	Path         string        `json:"path"`
	Status       Status        `json:"status"`
	MemoryID     int64         `json:"memory_id,omitempty"`
	PEAction     string        `json:"pe_action,omitempty"`
	Similarity   float64       `json:"similarity,omitempty"`
	SupersededID int64         `json:"superseded_id,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Indexer owns the write path for one store and provider.
type Indexer struct {
	store    *store.Store
	provider embed.Provider
	gate     *gate.Gate
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an indexer. Zero config fields get defaults.
func New(s *store.Store, p embed.Provider, g *gate.Gate, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: s, provider: p, gate: g, cfg: cfg, logger: logger, now: time.Now}
}

// IndexFile indexes one memory file. Re-indexing an unchanged file is a fast
// no-op; a changed file updates its existing row in place. New files go
// through the prediction-error gate. With allowPartial, an embedding failure
// stores the row with embedding_status pending instead of rolling back.
func (ix *Indexer) IndexFile(ctx context.Context, path string, allowPartial bool) (*FileResult, error) {
	parsed, err := memfile.ParseFile(path, ix.cfg.allRoots())
	if err != nil {
		return nil, engerrors.InvalidParam("file_path", err.Error())
	}
	res := &FileResult{Path: parsed.FilePath, Warnings: parsed.Warnings}

	existing, err := ix.store.GetMemoryByPath(parsed.FilePath)
	if err != nil && engerrors.Code(err) != engerrors.CodeNotFound {
		return nil, err
	}

	if existing != nil {
		return ix.reindexExisting(ctx, parsed, existing, res, allowPartial)
	}
	return ix.indexNew(ctx, parsed, res, allowPartial)
}

// reindexExisting handles a path already in the store: unchanged content is
// at most an mtime touch, changed content re-embeds and rewrites the row.
// The gate is not consulted; the file and the row are the same memory.
func (ix *Indexer) reindexExisting(ctx context.Context, parsed *memfile.Parsed, existing *store.Memory, res *FileResult, allowPartial bool) (*FileResult, error) {
	res.MemoryID = existing.ID
	if parsed.ContentHash == existing.ContentHash {
		if parsed.FileMtimeNS != existing.FileMtimeNS {
			if err := ix.store.TouchMtime(existing.ID, parsed.FileMtimeNS); err != nil {
				return nil, err
			}
		}
		res.Status = StatusUnchanged
		return res, nil
	}

	updated := parsed.ToMemory()
	updated.ID = existing.ID
	updated.Confidence = existing.Confidence
	updated.ValidationCount = existing.ValidationCount

	vec, err := ix.provider.EmbedDocument(ctx, parsed.EmbeddingText())
	if err != nil {
		if !allowPartial {
			return nil, err
		}
		updated.EmbeddingStatus = store.EmbeddingPending
		res.Status = StatusPending
		res.Warnings = append(res.Warnings, "embedding failed, stored as pending: "+err.Error())
	} else {
		updated.Embedding = vec
		updated.EmbeddingStatus = store.EmbeddingSuccess
		res.Status = StatusUpdated
	}
	if err := ix.store.UpdateMemory(updated); err != nil {
		return nil, err
	}
	return res, nil
}

func (ix *Indexer) indexNew(ctx context.Context, parsed *memfile.Parsed, res *FileResult, allowPartial bool) (*FileResult, error) {
	m := parsed.ToMemory()
	m.LastReview = ix.now()

	vec, embErr := ix.provider.EmbedDocument(ctx, parsed.EmbeddingText())
	if embErr != nil {
		if !allowPartial {
			return nil, embErr
		}
		m.EmbeddingStatus = store.EmbeddingPending
		id, err := ix.store.InsertMemory(m)
		if err != nil {
			return nil, err
		}
		res.MemoryID = id
		res.Status = StatusPending
		res.Warnings = append(res.Warnings, "embedding failed, stored as pending: "+embErr.Error())
		return res, nil
	}
	m.Embedding = vec
	m.EmbeddingStatus = store.EmbeddingSuccess

	decision, err := ix.gate.Evaluate(m)
	if err != nil {
		return nil, err
	}
	res.PEAction = string(decision.Action)
	res.Similarity = decision.Similarity

	switch decision.Action {
	case gate.ActionReinforce:
		return ix.commitReinforce(decision, res)
	case gate.ActionUpdate:
		return ix.commitUpdate(parsed, m, decision, res)
	case gate.ActionSupersede:
		return ix.commitSupersede(m, decision, res)
	case gate.ActionCreateLinked:
		m.RelatedMemories = append(m.RelatedMemories, decision.NeighborID)
		fallthrough
	default:
		id, err := ix.store.InsertMemory(m)
		if err != nil {
			return nil, err
		}
		res.MemoryID = id
		res.Status = StatusCreated
		return res, nil
	}
}

// commitReinforce strengthens the near-duplicate instead of storing a copy.
// The duplicate file stays on disk but never gets a row.
func (ix *Indexer) commitReinforce(d *gate.Decision, res *FileResult) (*FileResult, error) {
	neighbor, err := ix.store.GetMemory(d.NeighborID)
	if err != nil {
		return nil, err
	}
	st := fsrs.Review(fsrs.State{
		Stability:  neighbor.Stability,
		Difficulty: neighbor.Difficulty,
		LastReview: neighbor.LastReview,
	}, fsrs.GradeGood, ix.now())
	if err := ix.store.UpdateScheduling(neighbor.ID, st.Stability, st.Difficulty, st.LastReview, neighbor.ReviewCount+1); err != nil {
		return nil, err
	}
	res.MemoryID = neighbor.ID
	res.Status = StatusReinforced
	return res, nil
}

// commitUpdate rewrites the candidate row with the incoming content. The
// candidate keeps its identity, scheduling history, and file path.
func (ix *Indexer) commitUpdate(parsed *memfile.Parsed, m *store.Memory, d *gate.Decision, res *FileResult) (*FileResult, error) {
	neighbor, err := ix.store.GetMemory(d.NeighborID)
	if err != nil {
		return nil, err
	}
	neighbor.Title = parsed.Title
	neighbor.Content = parsed.Content
	neighbor.ContentHash = parsed.ContentHash
	neighbor.TriggerPhrases = parsed.TriggerPhrases
	neighbor.ContextType = parsed.ContextType
	neighbor.ImportanceTier = parsed.ImportanceTier
	neighbor.ImportanceWeight = parsed.ImportanceTier.Weight()
	neighbor.Embedding = m.Embedding
	neighbor.EmbeddingStatus = store.EmbeddingSuccess
	neighbor.LastReview = ix.now()
	neighbor.ReviewCount++
	// Content rewrite and review bump land in one transaction.
	if err := ix.store.UpdateMemoryWithReview(neighbor); err != nil {
		return nil, err
	}
	res.MemoryID = neighbor.ID
	res.Status = StatusUpdated
	return res, nil
}

// commitSupersede deprecates the contradicted memory, stores the new one,
// and links them with a supersedes edge.
func (ix *Indexer) commitSupersede(m *store.Memory, d *gate.Decision, res *FileResult) (*FileResult, error) {
	neighbor, err := ix.store.GetMemory(d.NeighborID)
	if err != nil {
		return nil, err
	}
	neighbor.ImportanceTier = store.TierDeprecated
	neighbor.ImportanceWeight = store.TierDeprecated.Weight()
	if err := ix.store.UpdateMemory(neighbor); err != nil {
		return nil, err
	}

	id, err := ix.store.InsertMemory(m)
	if err != nil {
		return nil, err
	}
	if _, err := ix.store.InsertEdge(&store.CausalEdge{
		SourceID: id,
		TargetID: neighbor.ID,
		Relation: store.RelSupersedes,
		Strength: 1.0,
		Evidence: d.Note,
	}); err != nil {
		ix.logger.Warn("supersedes edge insert failed", slog.String("error", err.Error()))
	}
	res.MemoryID = id
	res.SupersededID = neighbor.ID
	res.Status = StatusSuperseded
	return res, nil
}

// RemoveFile deletes the row backing a memory file that no longer exists.
func (ix *Indexer) RemoveFile(path string) error {
	m, err := ix.store.GetMemoryByPath(path)
	if err != nil {
		return err
	}
	return ix.store.DeleteMemory(m.ID)
}

// cooldownError builds the RATE_LIMITED error a premature scan gets.
func cooldownError(wait time.Duration) error {
	return engerrors.RateLimited(int(wait.Seconds()) + 1)
}
