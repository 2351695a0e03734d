package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Dir: t.TempDir(), ProfileSlug: "gate", Dim: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMemory(t *testing.T, s *store.Store, path, content string, vec []float32) int64 {
	t.Helper()
	id, err := s.InsertMemory(&store.Memory{
		SpecFolder:      "specs/x",
		FilePath:        path,
		Title:           "seed",
		ContentHash:     "hash-" + path,
		Content:         content,
		Embedding:       vec,
		EmbeddingStatus: store.EmbeddingSuccess,
	})
	require.NoError(t, err)
	return id
}

func incoming(content string, vec []float32) *store.Memory {
	return &store.Memory{
		SpecFolder:  "specs/x",
		ContentHash: "new-hash",
		Content:     content,
		Embedding:   vec,
	}
}

// agreePredicate never finds contradictions; flipPredicate always does.
type agreePredicate struct{}

func (agreePredicate) Contradicts(_, _ string) (bool, string) { return false, "" }

type flipPredicate struct{}

func (flipPredicate) Contradicts(_, _ string) (bool, string) { return true, "flip" }

func TestEmptyIndexCreates(t *testing.T) {
	s := openTestStore(t)
	g := New(s, nil, nil)

	d, err := g.Evaluate(incoming("fresh fact", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestNearDuplicateReinforces(t *testing.T) {
	s := openTestStore(t)
	seedMemory(t, s, "/m/a.md", "the api uses cursor pagination", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	d, err := g.Evaluate(incoming("the api uses cursor pagination", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionReinforce, d.Action)
	assert.GreaterOrEqual(t, d.Similarity, ReinforceThreshold)
}

func TestHighSimilarityWithoutContradictionUpdates(t *testing.T) {
	s := openTestStore(t)
	// cos = 0.92-ish between these two unit vectors.
	seedMemory(t, s, "/m/a.md", "pagination is cursor based", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	d, err := g.Evaluate(incoming("pagination is cursor based, page size 50", []float32{0.92, 0.392, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, d.Action)
}

func TestHighSimilarityWithContradictionSupersedes(t *testing.T) {
	s := openTestStore(t)
	id := seedMemory(t, s, "/m/a.md", "pagination is cursor based", []float32{1, 0, 0, 0})
	g := New(s, flipPredicate{}, nil)

	d, err := g.Evaluate(incoming("pagination is offset based", []float32{0.92, 0.392, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionSupersede, d.Action)
	assert.Equal(t, id, d.NeighborID)

	conflicts, err := s.ListConflicts("", 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.True(t, conflicts[0].ContradictionDetected)
	assert.Equal(t, "SUPERSEDE", conflicts[0].Action)
}

func TestModerateSimilarityCreatesLinked(t *testing.T) {
	s := openTestStore(t)
	// cos = 0.8 between these unit vectors.
	seedMemory(t, s, "/m/a.md", "seed", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	d, err := g.Evaluate(incoming("adjacent topic", []float32{0.8, 0.6, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreateLinked, d.Action)
}

func TestWeakSimilarityCreatesWithNote(t *testing.T) {
	s := openTestStore(t)
	// cos = 0.6.
	seedMemory(t, s, "/m/a.md", "seed", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	d, err := g.Evaluate(incoming("distant topic", []float32{0.6, 0.8, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
	assert.NotEmpty(t, d.Note)
}

func TestUnrelatedCreates(t *testing.T) {
	s := openTestStore(t)
	seedMemory(t, s, "/m/a.md", "seed", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	d, err := g.Evaluate(incoming("orthogonal", []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestDeprecatedNeighborIgnored(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(&store.Memory{
		SpecFolder:      "specs/x",
		FilePath:        "/m/old.md",
		Title:           "seed",
		ContentHash:     "hash-old",
		Content:         "the api uses cursor pagination",
		ImportanceTier:  store.TierDeprecated,
		Embedding:       []float32{1, 0, 0, 0},
		EmbeddingStatus: store.EmbeddingSuccess,
	})
	require.NoError(t, err)
	g := New(s, agreePredicate{}, nil)

	// A deprecated row is invisible to the gate even as an exact duplicate.
	d, err := g.Evaluate(incoming("the api uses cursor pagination", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Zero(t, d.NeighborID)
}

func TestNeighborsScopedToSpecFolder(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(&store.Memory{
		SpecFolder:      "specs/other",
		FilePath:        "/m/foreign.md",
		Title:           "seed",
		ContentHash:     "hash-foreign",
		Content:         "the api uses cursor pagination",
		Embedding:       []float32{1, 0, 0, 0},
		EmbeddingStatus: store.EmbeddingSuccess,
	})
	require.NoError(t, err)
	g := New(s, agreePredicate{}, nil)

	// An identical memory in another folder must not absorb the write.
	d, err := g.Evaluate(incoming("the api uses cursor pagination", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Zero(t, d.NeighborID)
}

func TestDeprecatedSkippedInFavorOfLiveNeighbor(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(&store.Memory{
		SpecFolder:      "specs/x",
		FilePath:        "/m/old.md",
		Title:           "seed",
		ContentHash:     "hash-old",
		Content:         "pagination is page based",
		ImportanceTier:  store.TierDeprecated,
		Embedding:       []float32{1, 0, 0, 0},
		EmbeddingStatus: store.EmbeddingSuccess,
	})
	require.NoError(t, err)
	live := seedMemory(t, s, "/m/live.md", "pagination is cursor based", []float32{0.92, 0.392, 0, 0})
	g := New(s, agreePredicate{}, nil)

	// The closest hit is deprecated; the gate must fall through to the
	// next live candidate instead of giving up.
	d, err := g.Evaluate(incoming("pagination is cursor based", []float32{0.92, 0.392, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, ActionReinforce, d.Action)
	assert.Equal(t, live, d.NeighborID)
}

func TestSelfMatchIgnoredOnReindex(t *testing.T) {
	s := openTestStore(t)
	id := seedMemory(t, s, "/m/a.md", "only memory", []float32{1, 0, 0, 0})
	g := New(s, agreePredicate{}, nil)

	m, err := s.GetMemory(id)
	require.NoError(t, err)
	d, err := g.Evaluate(m)
	require.NoError(t, err)
	// With itself excluded and nothing else indexed, the verdict is CREATE.
	assert.Equal(t, ActionCreate, d.Action)
}

func TestEveryDecisionIsAudited(t *testing.T) {
	s := openTestStore(t)
	g := New(s, agreePredicate{}, nil)

	_, err := g.Evaluate(incoming("a", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	_, err = g.Evaluate(incoming("b", nil))
	require.NoError(t, err)

	conflicts, err := s.ListConflicts("specs/x", 10)
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)
}

func TestAuditFailureDoesNotBlockDecision(t *testing.T) {
	s := openTestStore(t)
	g := New(s, agreePredicate{}, nil)
	require.NoError(t, s.Close())

	// With the database closed the audit insert fails; the verdict must
	// still come back.
	d, err := g.Evaluate(incoming("fact", nil))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestLexicalPredicateNegation(t *testing.T) {
	p := NewLexicalPredicate()

	got, _ := p.Contradicts(
		"retries are enabled for all writes and the queue is durable",
		"retries are not enabled, do not rely on the queue, it is no longer durable")
	assert.True(t, got)

	got, _ = p.Contradicts(
		"the cache holds 1024 entries",
		"the cache holds 1024 entries keyed by model")
	assert.False(t, got)
}

func TestLexicalPredicateOpposingDirectives(t *testing.T) {
	p := NewLexicalPredicate()

	got, reason := p.Contradicts(
		"always enable connection pooling for postgres",
		"disable connection pooling for postgres under pgbouncer")
	assert.True(t, got)
	assert.Contains(t, reason, "disable")
}
