// Package search is the retrieval engine: vector, full-text, and hybrid RRF
// queries over the memory store, plus multi-concept intersection, trigger
// matching, constitutional pinning, and the testing-effect callback that
// strengthens whatever gets retrieved.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/engramhq/engram/internal/embed"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeFTS    Mode = "fts"
	ModeHybrid Mode = "hybrid"
)

// DefaultLimit bounds result counts when the caller does not.
const DefaultLimit = 10

// MaxPinned caps how many constitutional memories are prepended to results.
const MaxPinned = 5

// Multi-concept queries take between two and five concepts; each result must
// clear the threshold against every concept.
const (
	MinConcepts         = 2
	MaxConcepts         = 5
	ConceptMinThreshold = 0.5
)

// PinMinSimilarity is the floor a constitutional memory must clear against
// the query before it is pinned.
const PinMinSimilarity = 0.5

// Options tunes one retrieval call.
type Options struct {
	SpecFolder   string
	Limit        int
	Mode         Mode
	DisableDecay bool
	// IncludeConstitutional pins query-relevant constitutional memories to
	// the head of the result list when none rank on their own.
	IncludeConstitutional bool
	// AnchorIDs projects results down to the named anchor sections when the
	// memory defines them.
	AnchorIDs []string
}

// Result is one scored retrieval hit.
type Result struct {
	Memory     *store.Memory
	Score      float64
	Similarity float64
	Decay      float64
	TierWeight float64
	Pinned     bool
	Trigger    string
	// MatchCount is how many trigger phrases fired, for trigger retrieval.
	MatchCount int
}

// Config tunes the engine.
type Config struct {
	// DecayTauDays is the time constant of exponential recency decay.
	DecayTauDays float64
	// ReviewThreshold marks memories due for review in health reports.
	ReviewThreshold float64
}

// Engine executes retrievals against one store and one embedding provider.
type Engine struct {
	store    *store.Store
	provider embed.Provider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an engine. Zero config fields get defaults.
func New(s *store.Store, p embed.Provider, cfg Config, logger *slog.Logger) *Engine {
	if cfg.DecayTauDays <= 0 {
		cfg.DecayTauDays = 43.3
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, provider: p, cfg: cfg, logger: logger, now: time.Now}
}

// Search runs one retrieval. Hybrid mode fuses vector and FTS lists with RRF
// and degrades to FTS-only when the embedding provider is unavailable.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}

	// One query embedding serves both ranking and pinning. FTS works
	// without it; vector mode cannot.
	qvec, embErr := e.provider.EmbedQuery(ctx, query)
	if embErr != nil {
		qvec = nil
	}

	var results []Result
	var err error
	switch opts.Mode {
	case ModeVector:
		if embErr != nil {
			return nil, embErr
		}
		results, err = e.vectorSearch(qvec, opts)
	case ModeFTS:
		results, err = e.ftsSearch(query, opts)
	default:
		results, err = e.hybridSearch(query, qvec, opts)
	}
	if err != nil {
		return nil, err
	}

	results = e.pinConstitutional(results, qvec, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	projectAnchors(results, opts.AnchorIDs)
	return results, nil
}

func (e *Engine) vectorSearch(qvec []float32, opts Options) ([]Result, error) {
	// Overfetch so folder filtering and re-scoring have room to work.
	hits := e.store.Vectors().Search(qvec, opts.Limit*3)
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		r, ok := e.scoreHit(hit.ID, hit.Score, opts)
		if ok {
			results = append(results, r)
		}
	}
	sortByScore(results)
	return results, nil
}

func (e *Engine) ftsSearch(query string, opts Options) ([]Result, error) {
	hits, err := e.store.SearchFTS(query, opts.SpecFolder, opts.Limit*3)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		// Rank-based pseudo-similarity keeps composite scoring uniform
		// across modes.
		sim := 1.0 / float64(i+1)
		r, ok := e.scoreHit(hit.ID, sim, opts)
		if ok {
			results = append(results, r)
		}
	}
	sortByScore(results)
	return results, nil
}

func (e *Engine) hybridSearch(query string, qvec []float32, opts Options) ([]Result, error) {
	ftsHits, err := e.store.SearchFTS(query, opts.SpecFolder, opts.Limit*3)
	if err != nil {
		return nil, err
	}

	var vecHits []store.VectorHit
	if qvec != nil {
		vecHits = e.store.Vectors().Search(qvec, opts.Limit*3)
	} else {
		e.logger.Warn("hybrid search degrading to fts only",
			slog.String("query", query))
	}
	if len(vecHits) == 0 {
		return e.resultsFromFTS(ftsHits, opts)
	}

	vecList := make([]rankedID, len(vecHits))
	simByID := make(map[int64]float64, len(vecHits))
	for i, h := range vecHits {
		vecList[i] = rankedID{ID: h.ID, Score: h.Score}
		simByID[h.ID] = h.Score
	}
	ftsList := make([]rankedID, len(ftsHits))
	for i, h := range ftsHits {
		ftsList[i] = rankedID{ID: h.ID, Score: h.Score}
	}

	var results []Result
	for _, f := range fuseRRF(vecList, ftsList) {
		sim, hasVec := simByID[f.ID]
		if !hasVec {
			sim = f.RRFScore * RRFK // scale rrf into a comparable band
		}
		r, ok := e.scoreHit(f.ID, sim, opts)
		if !ok {
			continue
		}
		// Fused order is authoritative; composite only modulates within it
		// through the decay and tier terms.
		r.Score = f.RRFScore * r.TierWeight * r.Decay
		results = append(results, r)
	}
	sortByScore(results)
	return results, nil
}

func (e *Engine) resultsFromFTS(hits []store.FTSHit, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		r, ok := e.scoreHit(hit.ID, 1.0/float64(i+1), opts)
		if ok {
			results = append(results, r)
		}
	}
	sortByScore(results)
	return results, nil
}

// MultiConcept returns memories similar to every concept at once. A result's
// rank score is its weakest concept similarity, so one strong match cannot
// carry an irrelevant memory.
func (e *Engine) MultiConcept(ctx context.Context, concepts []string, opts Options) ([]Result, error) {
	if len(concepts) < MinConcepts || len(concepts) > MaxConcepts {
		return nil, errConceptCount
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	vecs := make([][]float32, len(concepts))
	for i, c := range concepts {
		v, err := e.provider.EmbedQuery(ctx, c)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}

	memories, err := e.store.AllMemories()
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, m := range memories {
		if opts.SpecFolder != "" && m.SpecFolder != opts.SpecFolder {
			continue
		}
		if len(m.Embedding) == 0 {
			continue
		}
		minSim := math.MaxFloat64
		for _, v := range vecs {
			if sim := store.CosineSimilarity(m.Embedding, v); sim < minSim {
				minSim = sim
			}
		}
		if minSim < ConceptMinThreshold {
			continue
		}
		r := e.buildResult(m, minSim, opts)
		results = append(results, r)
	}
	sortByScore(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	projectAnchors(results, opts.AnchorIDs)
	return results, nil
}

// Triggered returns memories whose trigger phrases fire on the prompt,
// ranked by importance weight and then by how many phrases matched.
func (e *Engine) Triggered(prompt string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	matches, err := e.store.MatchTriggers(prompt)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int, len(matches))
	first := make(map[int64]string, len(matches))
	var ids []int64
	for _, m := range matches {
		if _, ok := first[m.MemoryID]; !ok {
			first[m.MemoryID] = m.Phrase
			ids = append(ids, m.MemoryID)
		}
		counts[m.MemoryID]++
	}
	var results []Result
	for _, id := range ids {
		r, ok := e.scoreHit(id, 1.0, opts)
		if !ok {
			continue
		}
		r.Trigger = first[id]
		r.MatchCount = counts[id]
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		wi, wj := results[i].Memory.ImportanceWeight, results[j].Memory.ImportanceWeight
		if wi != wj {
			return wi > wj
		}
		if results[i].MatchCount != results[j].MatchCount {
			return results[i].MatchCount > results[j].MatchCount
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// MarkRetrieved applies the testing effect to retrieved memories: access
// counters bump and scheduling strengthens as if each memory passed a review.
func (e *Engine) MarkRetrieved(ids []int64) error {
	now := e.now()
	if err := e.store.RecordAccess(ids, now); err != nil {
		return err
	}
	for _, id := range ids {
		m, err := e.store.GetMemory(id)
		if err != nil {
			continue
		}
		st := fsrs.Review(fsrs.State{
			Stability:  m.Stability,
			Difficulty: m.Difficulty,
			LastReview: m.LastReview,
		}, fsrs.GradeGood, now)
		if err := e.store.UpdateScheduling(id, st.Stability, st.Difficulty, st.LastReview, m.ReviewCount+1); err != nil {
			return err
		}
	}
	return nil
}

// pinConstitutional prepends up to MaxPinned constitutional memories that
// match the query when none ranked into the top-limit on their own. Pins are
// ranked by query similarity and must clear PinMinSimilarity, so an
// unrelated rule never displaces real hits. Without a query vector there is
// no similarity to rank by and the list passes through unchanged.
func (e *Engine) pinConstitutional(results []Result, qvec []float32, opts Options) []Result {
	if !opts.IncludeConstitutional || qvec == nil {
		return results
	}
	top := results
	if len(top) > opts.Limit {
		top = top[:opts.Limit]
	}
	inTop := make(map[int64]bool, len(top))
	for _, r := range top {
		if r.Memory.ImportanceTier == store.TierConstitutional {
			return results
		}
		inTop[r.Memory.ID] = true
	}

	// Constitutional rows are global rules, eligible regardless of the
	// folder filter.
	rows, err := e.store.MemoriesByTier(store.TierConstitutional, 0)
	if err != nil || len(rows) == 0 {
		return results
	}
	var head []Result
	for _, m := range rows {
		if len(m.Embedding) == 0 || inTop[m.ID] {
			continue
		}
		sim := store.CosineSimilarity(m.Embedding, qvec)
		if sim < PinMinSimilarity {
			continue
		}
		r := e.buildResult(m, sim, opts)
		r.Pinned = true
		head = append(head, r)
	}
	if len(head) == 0 {
		return results
	}
	sortByScore(head)
	if len(head) > MaxPinned {
		head = head[:MaxPinned]
	}

	taken := make(map[int64]bool, len(head))
	for _, r := range head {
		taken[r.Memory.ID] = true
	}
	for _, r := range results {
		if !taken[r.Memory.ID] {
			head = append(head, r)
		}
	}
	return head
}

func (e *Engine) scoreHit(id int64, similarity float64, opts Options) (Result, bool) {
	m, err := e.store.GetMemory(id)
	if err != nil {
		return Result{}, false
	}
	if opts.SpecFolder != "" && m.SpecFolder != opts.SpecFolder {
		return Result{}, false
	}
	return e.buildResult(m, similarity, opts), true
}

func (e *Engine) buildResult(m *store.Memory, similarity float64, opts Options) Result {
	decay := 1.0
	if !opts.DisableDecay {
		decay = e.decayOf(m)
	}
	tier := m.ImportanceTier.Weight()
	return Result{
		Memory:     m,
		Score:      similarity * tier * decay,
		Similarity: similarity,
		Decay:      decay,
		TierWeight: tier,
	}
}

// decayOf computes exponential recency decay from the fresher of last access
// and last update. Constitutional memories do not decay.
func (e *Engine) decayOf(m *store.Memory) float64 {
	if m.ImportanceTier == store.TierConstitutional {
		return 1.0
	}
	ref := m.UpdatedAt
	if m.LastAccessed.After(ref) {
		ref = m.LastAccessed
	}
	if ref.IsZero() {
		return 1.0
	}
	days := e.now().Sub(ref).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / e.cfg.DecayTauDays)
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
}
