package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/index"
	"github.com/engramhq/engram/internal/learning"
	"github.com/engramhq/engram/internal/memfile"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

// MemoryOut is the wire shape of one memory hit.
type MemoryOut struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	SpecFolder     string   `json:"spec_folder"`
	FilePath       string   `json:"file_path"`
	ContextType    string   `json:"context_type"`
	ImportanceTier string   `json:"importance_tier"`
	Content        string   `json:"content,omitempty"`
	Score          float64  `json:"score"`
	Similarity     float64  `json:"similarity,omitempty"`
	Decay          float64  `json:"decay,omitempty"`
	Pinned         bool     `json:"pinned,omitempty"`
	Trigger        string   `json:"trigger,omitempty"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty"`
}

func toMemoryOut(r search.Result) MemoryOut {
	return MemoryOut{
		ID:             r.Memory.ID,
		Title:          r.Memory.Title,
		SpecFolder:     r.Memory.SpecFolder,
		FilePath:       r.Memory.FilePath,
		ContextType:    string(r.Memory.ContextType),
		ImportanceTier: string(r.Memory.ImportanceTier),
		Content:        r.Memory.Content,
		Score:          r.Score,
		Similarity:     r.Similarity,
		Decay:          r.Decay,
		Pinned:         r.Pinned,
		Trigger:        r.Trigger,
		TriggerPhrases: r.Memory.TriggerPhrases,
	}
}

func toMemoryOuts(results []search.Result) []MemoryOut {
	out := make([]MemoryOut, len(results))
	for i, r := range results {
		out[i] = toMemoryOut(r)
	}
	return out
}

// markRetrieved applies the testing effect to returned hits. Failures are
// logged, never surfaced; retrieval already succeeded.
func (s *Server) markRetrieved(results []search.Result) {
	if len(results) == 0 {
		return
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	if err := s.deps.Engine.MarkRetrieved(ids); err != nil {
		s.logger.Warn("testing-effect update failed", slog.String("error", err.Error()))
	}
}

// MemorySearchInput is the memory_search argument shape.
type MemorySearchInput struct {
	Query                 string   `json:"query,omitempty" jsonschema:"the search query"`
	Concepts              []string `json:"concepts,omitempty" jsonschema:"2 to 5 concepts for multi-concept intersection search"`
	SpecFolder            string   `json:"spec_folder,omitempty" jsonschema:"restrict results to one spec folder"`
	Limit                 int      `json:"limit,omitempty" jsonschema:"maximum results, default 10"`
	Mode                  string   `json:"mode,omitempty" jsonschema:"retrieval mode: hybrid, vector, or fts"`
	IncludeConstitutional bool     `json:"include_constitutional,omitempty" jsonschema:"pin query-relevant constitutional memories to the head of the results"`
	Anchors               []string `json:"anchors,omitempty" jsonschema:"project results down to these anchor sections"`
}

func (s *Server) handleMemorySearch(ctx context.Context, in MemorySearchInput) (string, any, []string, error) {
	opts := search.Options{
		SpecFolder:            in.SpecFolder,
		Limit:                 in.Limit,
		Mode:                  search.Mode(in.Mode),
		IncludeConstitutional: in.IncludeConstitutional,
		AnchorIDs:             in.Anchors,
	}

	var results []search.Result
	var err error
	switch {
	case len(in.Concepts) > 0:
		results, err = s.deps.Engine.MultiConcept(ctx, in.Concepts, opts)
	case in.Query != "":
		results, err = s.deps.Engine.Search(ctx, in.Query, opts)
	default:
		return "", nil, nil, engerrors.MissingParam("query")
	}
	if err != nil {
		return "", nil, nil, err
	}
	s.markRetrieved(results)

	var hints []string
	if len(results) == 0 {
		hints = append(hints, "no matches; try broader terms or memory_index_scan if files changed recently")
	}
	return fmt.Sprintf("%d memories retrieved", len(results)),
		map[string]any{"results": toMemoryOuts(results)}, hints, nil
}

// MatchTriggersInput is the memory_match_triggers argument shape.
type MatchTriggersInput struct {
	Prompt     string `json:"prompt" jsonschema:"the prompt to match trigger phrases against"`
	SpecFolder string `json:"spec_folder,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleMatchTriggers(_ context.Context, in MatchTriggersInput) (string, any, []string, error) {
	if in.Prompt == "" {
		return "", nil, nil, engerrors.MissingParam("prompt")
	}
	results, err := s.deps.Engine.Triggered(in.Prompt, search.Options{
		SpecFolder: in.SpecFolder,
		Limit:      in.Limit,
	})
	if err != nil {
		return "", nil, nil, err
	}
	s.markRetrieved(results)
	return fmt.Sprintf("%d trigger matches", len(results)),
		map[string]any{"results": toMemoryOuts(results)}, nil, nil
}

// MemorySaveInput is the memory_save argument shape.
type MemorySaveInput struct {
	FilePath     string `json:"file_path" jsonschema:"path to the memory markdown file"`
	AllowPartial bool   `json:"allow_partial_update,omitempty" jsonschema:"store the row with embedding_status pending when embedding fails"`
}

func (s *Server) handleMemorySave(ctx context.Context, in MemorySaveInput) (string, any, []string, error) {
	if in.FilePath == "" {
		return "", nil, nil, engerrors.MissingParam("file_path")
	}
	res, err := s.deps.Indexer.IndexFile(ctx, in.FilePath, in.AllowPartial)
	if err != nil {
		return "", nil, nil, err
	}
	s.deps.Store.BumpSentinel()
	var hints []string
	if res.Status == index.StatusReinforced {
		hints = append(hints,
			fmt.Sprintf("content duplicates memory %d; the existing memory was reinforced and no new row was created", res.MemoryID))
	}
	if res.Status == index.StatusSuperseded {
		hints = append(hints,
			fmt.Sprintf("memory %d was deprecated and superseded; call memory_drift_why to review the decision", res.SupersededID))
	}
	return fmt.Sprintf("%s: memory %d", res.Status, res.MemoryID), res, hints, nil
}

// MemoryUpdateInput is the memory_update argument shape. Nil pointers mean
// "leave unchanged".
type MemoryUpdateInput struct {
	ID             int64    `json:"id" jsonschema:"memory id to update"`
	Title          *string  `json:"title,omitempty"`
	Content        *string  `json:"content,omitempty"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty"`
	ContextType    *string  `json:"context_type,omitempty"`
	ImportanceTier *string  `json:"importance_tier,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

func (s *Server) handleMemoryUpdate(ctx context.Context, in MemoryUpdateInput) (string, any, []string, error) {
	if in.ID == 0 {
		return "", nil, nil, engerrors.MissingParam("id")
	}
	m, err := s.deps.Store.GetMemory(in.ID)
	if err != nil {
		return "", nil, nil, err
	}

	if in.Title != nil {
		m.Title = *in.Title
	}
	if in.TriggerPhrases != nil {
		m.TriggerPhrases = store.NormalizeTriggers(in.TriggerPhrases)
	}
	if in.ContextType != nil {
		ct, err := store.ParseContextType(*in.ContextType)
		if err != nil {
			return "", nil, nil, engerrors.InvalidParam("context_type", err.Error())
		}
		m.ContextType = ct
	}
	if in.ImportanceTier != nil {
		tier, err := store.ParseImportanceTier(*in.ImportanceTier)
		if err != nil {
			return "", nil, nil, engerrors.InvalidParam("importance_tier", err.Error())
		}
		m.ImportanceTier = tier
		m.ImportanceWeight = tier.Weight()
	}
	if in.Confidence != nil {
		if *in.Confidence < 0 || *in.Confidence > 1 {
			return "", nil, nil, engerrors.InvalidParam("confidence", "must be in [0,1]")
		}
		m.Confidence = *in.Confidence
	}
	if in.Content != nil && *in.Content != m.Content {
		m.Content = *in.Content
		vec, err := s.deps.Provider.EmbedDocument(ctx, m.Content)
		if err != nil {
			return "", nil, nil, err
		}
		m.Embedding = vec
		m.EmbeddingStatus = store.EmbeddingSuccess
	}

	if err := s.deps.Store.UpdateMemory(m); err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("memory %d updated", m.ID), map[string]any{"id": m.ID}, nil, nil
}

// MemoryDeleteInput is the memory_delete argument shape.
type MemoryDeleteInput struct {
	ID         int64  `json:"id,omitempty" jsonschema:"memory id to delete"`
	SpecFolder string `json:"spec_folder,omitempty" jsonschema:"bulk-delete every memory in this folder"`
	Confirm    bool   `json:"confirm,omitempty" jsonschema:"required true for bulk deletion"`
}

func (s *Server) handleMemoryDelete(_ context.Context, in MemoryDeleteInput) (string, any, []string, error) {
	switch {
	case in.ID != 0:
		if err := s.deps.Store.DeleteMemory(in.ID); err != nil {
			return "", nil, nil, err
		}
		s.deps.Store.BumpSentinel()
		return fmt.Sprintf("memory %d deleted", in.ID), map[string]any{"deleted": 1}, nil, nil

	case in.SpecFolder != "":
		if !in.Confirm {
			return "", nil, nil, engerrors.InvalidParam("confirm",
				"bulk deletion requires confirm=true").
				WithRecovery("re-run with confirm=true; an automatic checkpoint is taken first")
		}
		auto, deleted, err := s.deps.Checkpoints.BulkDelete(in.SpecFolder)
		if err != nil {
			return "", nil, nil, err
		}
		s.deps.Store.BumpSentinel()
		return fmt.Sprintf("%d memories deleted from %s", deleted, in.SpecFolder),
			map[string]any{"deleted": deleted, "checkpoint": auto},
			[]string{fmt.Sprintf("checkpoint %q holds the pre-delete state; checkpoint_restore reverses this", auto)},
			nil

	default:
		return "", nil, nil, engerrors.MissingParam("id")
	}
}

// MemoryListInput is the memory_list argument shape.
type MemoryListInput struct {
	SpecFolder string `json:"spec_folder,omitempty"`
	Tier       string `json:"importance_tier,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleMemoryList(_ context.Context, in MemoryListInput) (string, any, []string, error) {
	var memories []*store.Memory
	var err error
	if in.Tier != "" {
		tier, perr := store.ParseImportanceTier(in.Tier)
		if perr != nil {
			return "", nil, nil, engerrors.InvalidParam("importance_tier", perr.Error())
		}
		memories, err = s.deps.Store.MemoriesByTier(tier, in.Limit)
	} else {
		memories, err = s.deps.Store.ListMemories(in.SpecFolder, in.Limit)
	}
	if err != nil {
		return "", nil, nil, err
	}

	out := make([]MemoryOut, 0, len(memories))
	for _, m := range memories {
		if in.Tier != "" && in.SpecFolder != "" && m.SpecFolder != in.SpecFolder {
			continue
		}
		out = append(out, MemoryOut{
			ID:             m.ID,
			Title:          m.Title,
			SpecFolder:     m.SpecFolder,
			FilePath:       m.FilePath,
			ContextType:    string(m.ContextType),
			ImportanceTier: string(m.ImportanceTier),
			TriggerPhrases: m.TriggerPhrases,
		})
	}
	return fmt.Sprintf("%d memories", len(out)), map[string]any{"memories": out}, nil, nil
}

// StatsOut is the memory_stats payload.
type StatsOut struct {
	TotalMemories       int            `json:"total_memories"`
	VectorCount         int            `json:"vector_count"`
	ByTier              map[string]int `json:"by_tier"`
	ByEmbeddingStatus   map[string]int `json:"by_embedding_status"`
	TotalEdges          int            `json:"total_edges"`
	LinkCoveragePercent float64        `json:"link_coverage_percent"`
	ByRelation          map[string]int `json:"by_relation"`
}

type memoryStatsInput struct{}

func (s *Server) handleMemoryStats(_ context.Context, _ memoryStatsInput) (string, any, []string, error) {
	memories, err := s.deps.Store.AllMemories()
	if err != nil {
		return "", nil, nil, err
	}
	out := StatsOut{
		TotalMemories:     len(memories),
		VectorCount:       s.deps.Store.Vectors().Len(),
		ByTier:            make(map[string]int),
		ByEmbeddingStatus: make(map[string]int),
		ByRelation:        make(map[string]int),
	}
	for _, m := range memories {
		out.ByTier[string(m.ImportanceTier)]++
		out.ByEmbeddingStatus[string(m.EmbeddingStatus)]++
	}
	cs, err := s.deps.Causal.Stats()
	if err != nil {
		return "", nil, nil, err
	}
	out.TotalEdges = cs.TotalEdges
	out.LinkCoveragePercent = cs.LinkCoveragePercent
	for rel, n := range cs.ByRelation {
		out.ByRelation[string(rel)] = n
	}
	return fmt.Sprintf("%d memories, %d edges", out.TotalMemories, out.TotalEdges), out, nil, nil
}

// HealthOut is the memory_health payload.
type HealthOut struct {
	Status        string                 `json:"status"`
	EmbedderReady bool                   `json:"embedder_ready"`
	Profile       string                 `json:"profile"`
	Dimension     int                    `json:"dimension"`
	LastScan      string                 `json:"last_scan,omitempty"`
	Integrity     *store.IntegrityReport `json:"integrity"`
	PendingEmbeds int                    `json:"pending_embeddings"`
	StorePath     string                 `json:"store_path"`
}

// MemoryHealthInput is the memory_health argument shape.
type MemoryHealthInput struct {
	AutoClean bool `json:"auto_clean,omitempty" jsonschema:"delete stale rows and demote bad embeddings to pending"`
}

func (s *Server) handleMemoryHealth(ctx context.Context, in MemoryHealthInput) (string, any, []string, error) {
	report, err := s.deps.Store.VerifyIntegrity(in.AutoClean)
	if err != nil {
		return "", nil, nil, err
	}
	pending, err := s.deps.Store.MemoriesByStatus(store.EmbeddingPending)
	if err != nil {
		return "", nil, nil, err
	}

	out := HealthOut{
		Status:        "ok",
		EmbedderReady: s.deps.Provider.Ready(ctx),
		Profile:       s.deps.Provider.Profile().String(),
		Dimension:     s.deps.Store.Dim(),
		Integrity:     report,
		PendingEmbeds: len(pending),
		StorePath:     s.deps.Store.Path(),
	}
	if last, err := s.deps.Store.LastScanTime(); err == nil && !last.IsZero() {
		out.LastScan = last.UTC().Format(time.RFC3339)
	}

	var hints []string
	if !out.EmbedderReady {
		out.Status = "degraded"
		hints = append(hints, "embedding provider unavailable; searches fall back to keyword and trigger paths")
	}
	if len(report.Issues) > 0 {
		out.Status = "degraded"
		hints = append(hints, fmt.Sprintf("%d integrity issues; re-run with auto_clean=true to repair", len(report.Issues)))
	}
	if out.PendingEmbeds > 0 {
		hints = append(hints, fmt.Sprintf("%d memories await embedding; run memory_index_scan once the provider is back", out.PendingEmbeds))
	}
	return fmt.Sprintf("store %s, %d memories", out.Status, report.MemoryCount), out, hints, nil
}

// MemoryValidateInput is the memory_validate argument shape.
type MemoryValidateInput struct {
	FilePath string `json:"file_path" jsonschema:"path of the memory file to dry-run"`
}

func (s *Server) handleMemoryValidate(_ context.Context, in MemoryValidateInput) (string, any, []string, error) {
	if in.FilePath == "" {
		return "", nil, nil, engerrors.MissingParam("file_path")
	}
	roots := append(s.deps.Config.MemoryRoots, s.deps.Config.ConstitutionalRoots...)
	parsed, err := memfile.ParseFile(in.FilePath, roots)
	if err != nil {
		return "", nil, nil, engerrors.InvalidParam("file_path", err.Error())
	}
	anchors := make([]string, len(parsed.Anchors))
	for i, a := range parsed.Anchors {
		anchors[i] = a.ID
	}
	data := map[string]any{
		"title":           parsed.Title,
		"spec_folder":     parsed.SpecFolder,
		"context_type":    parsed.ContextType,
		"importance_tier": parsed.ImportanceTier,
		"trigger_phrases": parsed.TriggerPhrases,
		"anchors":         anchors,
		"content_hash":    parsed.ContentHash,
		"warnings":        parsed.Warnings,
	}
	summary := "file is valid"
	if len(parsed.Warnings) > 0 {
		summary = fmt.Sprintf("file parsed with %d warnings", len(parsed.Warnings))
	}
	return summary, data, nil, nil
}

// IndexScanInput is the memory_index_scan argument shape.
type IndexScanInput struct {
	SpecFolder            string `json:"spec_folder,omitempty" jsonschema:"only scan files grouping under this spec folder"`
	IncludeConstitutional bool   `json:"include_constitutional,omitempty" jsonschema:"also scan the constitutional roots"`
	Incremental           bool   `json:"incremental,omitempty" jsonschema:"skip files whose mtime is unchanged"`
	Force                 bool   `json:"force,omitempty" jsonschema:"bypass the scan cooldown and the incremental fast path"`
	AllowPartial          bool   `json:"allow_partial_update,omitempty"`
}

func (s *Server) handleIndexScan(ctx context.Context, in IndexScanInput) (string, any, []string, error) {
	report, err := s.deps.Indexer.Scan(ctx, index.ScanOptions{
		SpecFolder:            in.SpecFolder,
		IncludeConstitutional: in.IncludeConstitutional,
		Incremental:           in.Incremental,
		Force:                 in.Force,
		AllowPartial:          in.AllowPartial,
	})
	if err != nil {
		return "", nil, nil, err
	}
	s.deps.Store.BumpSentinel()
	var hints []string
	if report.Pending > 0 {
		hints = append(hints, fmt.Sprintf("%d files stored without embeddings; re-scan when the provider recovers", report.Pending))
	}
	if report.Failed > 0 {
		hints = append(hints, fmt.Sprintf("%d files failed; per-file errors are in data.files", report.Failed))
	}
	return fmt.Sprintf("scanned %d files: %d created, %d updated, %d unchanged",
		report.Scanned, report.Created, report.Updated, report.Unchanged), report, hints, nil
}

// TaskPreflightInput is the task_preflight argument shape.
type TaskPreflightInput struct {
	SpecFolder    string   `json:"spec_folder"`
	TaskID        string   `json:"task_id"`
	SessionID     string   `json:"session_id,omitempty"`
	Knowledge     int      `json:"knowledge_score" jsonschema:"0 to 100"`
	Uncertainty   int      `json:"uncertainty_score" jsonschema:"0 to 100"`
	Context       int      `json:"context_score" jsonschema:"0 to 100"`
	KnowledgeGaps []string `json:"knowledge_gaps,omitempty"`
}

func (s *Server) handleTaskPreflight(_ context.Context, in TaskPreflightInput) (string, any, []string, error) {
	rec, err := s.deps.Learning.Preflight(in.SpecFolder, in.TaskID, in.SessionID, learning.Scores{
		Knowledge:   in.Knowledge,
		Uncertainty: in.Uncertainty,
		Context:     in.Context,
	}, in.KnowledgeGaps)
	if err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("preflight recorded for task %s", in.TaskID), rec,
		[]string{"call task_postflight with the same task_id when the work is done"}, nil
}

// TaskPostflightInput is the task_postflight argument shape.
type TaskPostflightInput struct {
	SpecFolder  string   `json:"spec_folder"`
	TaskID      string   `json:"task_id"`
	Knowledge   int      `json:"knowledge_score"`
	Uncertainty int      `json:"uncertainty_score"`
	Context     int      `json:"context_score"`
	GapsClosed  []string `json:"gaps_closed,omitempty"`
	NewGaps     []string `json:"new_gaps_discovered,omitempty"`
}

func (s *Server) handleTaskPostflight(_ context.Context, in TaskPostflightInput) (string, any, []string, error) {
	rec, err := s.deps.Learning.Postflight(in.SpecFolder, in.TaskID, learning.Scores{
		Knowledge:   in.Knowledge,
		Uncertainty: in.Uncertainty,
		Context:     in.Context,
	}, in.GapsClosed, in.NewGaps)
	if err != nil {
		return "", nil, nil, err
	}
	interp := learning.Interpret(rec.LearningIndex)
	data := map[string]any{
		"record":         rec,
		"interpretation": interp,
	}
	return fmt.Sprintf("learning index %.2f (%s)", rec.LearningIndex, interp), data, nil, nil
}

// LearningHistoryInput is the memory_get_learning_history argument shape.
type LearningHistoryInput struct {
	SpecFolder   string `json:"spec_folder,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	OnlyComplete bool   `json:"only_complete,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (s *Server) handleLearningHistory(_ context.Context, in LearningHistoryInput) (string, any, []string, error) {
	records, summary, err := s.deps.Learning.History(learning.HistoryOptions{
		SpecFolder:   in.SpecFolder,
		SessionID:    in.SessionID,
		OnlyComplete: in.OnlyComplete,
		Limit:        in.Limit,
	})
	if err != nil {
		return "", nil, nil, err
	}
	data := map[string]any{"records": records, "summary": summary}
	return fmt.Sprintf("%d learning records, mean index %.2f", summary.Total, summary.MeanIndex), data, nil, nil
}

// DriftWhyInput is the memory_drift_why argument shape.
type DriftWhyInput struct {
	SpecFolder string `json:"spec_folder,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleDriftWhy(_ context.Context, in DriftWhyInput) (string, any, []string, error) {
	conflicts, err := s.deps.Store.ListConflicts(in.SpecFolder, in.Limit)
	if err != nil {
		return "", nil, nil, err
	}
	var hints []string
	for _, c := range conflicts {
		if c.ContradictionDetected {
			hints = append(hints, fmt.Sprintf("memory %d was contradicted (similarity %.2f): %s",
				c.ExistingMemoryID, c.SimilarityScore, c.Notes))
		}
	}
	return fmt.Sprintf("%d gate decisions", len(conflicts)),
		map[string]any{"decisions": conflicts}, hints, nil
}
