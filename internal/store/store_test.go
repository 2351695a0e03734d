package store

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Dir:         t.TempDir(),
		ProfileSlug: "testprofile",
		Dim:         4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMemory(path string) *Memory {
	return &Memory{
		SpecFolder:      "specs/auth",
		FilePath:        path,
		Title:           "JWT refresh flow",
		ContentHash:     "abc123",
		Content:         "Tokens rotate on every refresh. The old token is revoked.",
		TriggerPhrases:  []string{"token refresh", "JWT Rotation"},
		ContextType:     ContextDecision,
		ImportanceTier:  TierImportant,
		Embedding:       []float32{0.1, 0.2, 0.3, 0.4},
		EmbeddingStatus: EmbeddingSuccess,
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertMemory(testMemory("/tmp/auth/jwt.md"))
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := s.GetMemory(id)
	require.NoError(t, err)
	assert.Equal(t, "JWT refresh flow", got.Title)
	assert.Equal(t, TierImportant, got.ImportanceTier)
	assert.InDelta(t, 0.7, got.ImportanceWeight, 1e-9)
	assert.Equal(t, []string{"token refresh", "jwt rotation"}, got.TriggerPhrases)
	assert.Len(t, got.Embedding, 4)
	assert.Equal(t, DefaultStability, got.Stability)
	assert.Equal(t, DefaultDifficulty, got.Difficulty)

	byPath, err := s.GetMemoryByPath("/tmp/auth/jwt.md")
	require.NoError(t, err)
	assert.Equal(t, id, byPath.ID)
}

func TestGetMemoryNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetMemory(999)
	require.Error(t, err)
}

func TestUpdateMemoryRefreshesVector(t *testing.T) {
	s := openTestStore(t)
	m := testMemory("/tmp/auth/jwt.md")
	id, err := s.InsertMemory(m)
	require.NoError(t, err)
	assert.Equal(t, 1, s.vectors.Len())

	m.EmbeddingStatus = EmbeddingPending
	m.Embedding = nil
	require.NoError(t, s.UpdateMemory(m))
	assert.Equal(t, 0, s.vectors.Len())

	require.NoError(t, s.UpdateEmbedding(id, []float32{1, 0, 0, 0}))
	assert.Equal(t, 1, s.vectors.Len())
}

func TestUpdateMemoryWithReviewWritesBothColumnSets(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMemory(testMemory("/tmp/auth/jwt.md"))
	require.NoError(t, err)

	m, err := s.GetMemory(id)
	require.NoError(t, err)
	m.Content = "rewritten body"
	m.ContentHash = "def456"
	m.Stability = 2.5
	m.LastReview = time.Now()
	m.ReviewCount = 3
	require.NoError(t, s.UpdateMemoryWithReview(m))

	got, err := s.GetMemory(id)
	require.NoError(t, err)
	assert.Equal(t, "rewritten body", got.Content)
	assert.Equal(t, 3, got.ReviewCount)
	assert.InDelta(t, 2.5, got.Stability, 1e-9)
	assert.False(t, got.LastReview.IsZero())
}

func TestDeleteMemoryCascades(t *testing.T) {
	s := openTestStore(t)
	a, err := s.InsertMemory(testMemory("/tmp/a.md"))
	require.NoError(t, err)
	b, err := s.InsertMemory(testMemory("/tmp/b.md"))
	require.NoError(t, err)

	_, err = s.InsertEdge(&CausalEdge{SourceID: a, TargetID: b, Relation: RelCausedBy})
	require.NoError(t, err)
	require.NoError(t, s.UpsertWorkingMemory(&WorkingMemoryEntry{
		SessionID: "s1", MemoryID: a, AttentionScore: 1.0,
	}))

	require.NoError(t, s.DeleteMemory(a))

	edges, err := s.AllEdges()
	require.NoError(t, err)
	assert.Empty(t, edges)

	wm, err := s.WorkingMemoryForSession("s1")
	require.NoError(t, err)
	assert.Empty(t, wm)
}

func TestVectorSearchOrdersBySimilarity(t *testing.T) {
	s := openTestStore(t)

	near := testMemory("/tmp/near.md")
	near.Embedding = []float32{1, 0, 0, 0}
	nearID, err := s.InsertMemory(near)
	require.NoError(t, err)

	far := testMemory("/tmp/far.md")
	far.Embedding = []float32{0, 1, 0, 0}
	_, err = s.InsertMemory(far)
	require.NoError(t, err)

	hits := s.vectors.Search([]float32{0.9, 0.1, 0, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, nearID, hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchFTS(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(testMemory("/tmp/jwt.md"))
	require.NoError(t, err)

	other := testMemory("/tmp/cache.md")
	other.Title = "Cache invalidation"
	other.Content = "Redis keys expire after one hour."
	_, err = s.InsertMemory(other)
	require.NoError(t, err)

	hits, err := s.SearchFTS("token refresh", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Punctuation must not break the MATCH grammar.
	_, err = s.SearchFTS(`token" OR "1`, "", 10)
	require.NoError(t, err)
}

func TestMatchTriggers(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertMemory(testMemory("/tmp/jwt.md"))
	require.NoError(t, err)

	matches, err := s.MatchTriggers("How does the Token   Refresh logic work?")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].MemoryID)
	assert.Equal(t, "token refresh", matches[0].Phrase)

	// Substring inside a word must not match.
	matches, err = s.MatchTriggers("jwt rotations are tricky")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTriggerReloadKeepsMidQueryInvalidation(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(testMemory("/tmp/auth/jwt.md"))
	require.NoError(t, err)

	s.triggers.mu.RLock()
	gen := s.triggers.gen
	s.triggers.mu.RUnlock()

	// A write lands while the reload query is in flight.
	s.triggers.invalidate()
	_, err = s.reloadTriggers(gen)
	require.NoError(t, err)

	// The stamp must predate the invalidation so the next read requeries.
	s.triggers.mu.RLock()
	stale := s.triggers.loaded != s.triggers.gen
	s.triggers.mu.RUnlock()
	assert.True(t, stale, "cache absorbed a mid-reload write")
}

func TestSentinelBumpFromOutsideInvalidatesTriggerCache(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(testMemory("/tmp/auth/jwt.md"))
	require.NoError(t, err)

	matches, err := s.MatchTriggers("token refresh please")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// A row changes underneath the hot cache, bypassing in-process
	// invalidation the way another writer process would.
	_, err = s.db.Exec(`UPDATE memory_index SET trigger_phrases = '["opaque cookie"]'`)
	require.NoError(t, err)

	matches, err = s.MatchTriggers("use an opaque cookie")
	require.NoError(t, err)
	assert.Empty(t, matches, "raw row change alone must stay invisible")

	// The external writer then bumps the sentinel; the next read reloads.
	path := filepath.Join(filepath.Dir(s.path), SentinelName)
	require.NoError(t, os.WriteFile(path, []byte(strconv.FormatInt(s.sentinelSeen+1, 10)), 0o644))

	matches, err = s.MatchTriggers("use an opaque cookie")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestOwnSentinelBumpKeepsCacheHot(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertMemory(testMemory("/tmp/auth/jwt.md"))
	require.NoError(t, err)

	_, err = s.MatchTriggers("token refresh")
	require.NoError(t, err)
	s.BumpSentinel()
	s.CheckSentinel()

	s.triggers.mu.RLock()
	hot := s.triggers.loaded == s.triggers.gen
	s.triggers.mu.RUnlock()
	assert.True(t, hot, "own writes must not read back as external")
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetConfig("k", "v1"))
	require.NoError(t, s.SetConfig("k", "v2"))
	v, err := s.GetConfig("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	missing, err := s.GetConfig("absent")
	require.NoError(t, err)
	assert.Equal(t, "", missing)
}

func TestDimensionMismatchOnReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, ProfileSlug: "p", Dim: 4})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(Options{Dir: dir, ProfileSlug: "p", Dim: 8})
	require.Error(t, err)
}

func TestLastScanTimePersists(t *testing.T) {
	s := openTestStore(t)
	zero, err := s.LastScanTime()
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.SetLastScanTime(now))
	got, err := s.LastScanTime()
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), got.UnixMilli())
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveCheckpoint("before-refactor", "specs/auth", `{"reason":"test"}`, `{"memories":[]}`))

	cp, payload, err := s.GetCheckpoint("before-refactor")
	require.NoError(t, err)
	assert.Equal(t, "specs/auth", cp.SpecFolder)
	assert.Equal(t, `{"memories":[]}`, payload)

	list, err := s.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteCheckpoint("before-refactor"))
	_, _, err = s.GetCheckpoint("before-refactor")
	require.Error(t, err)
}

func TestLearningRecordLifecycle(t *testing.T) {
	s := openTestStore(t)
	rec := &LearningRecord{
		SpecFolder:     "specs/auth",
		TaskID:         "T-1",
		PreKnowledge:   3,
		PreUncertainty: 8,
		PreContext:     2,
		KnowledgeGaps:  []string{"refresh semantics"},
	}
	_, err := s.InsertPreflight(rec)
	require.NoError(t, err)

	rec.PostKnowledge = 8
	rec.PostUncertainty = 2
	rec.PostContext = 7
	rec.DeltaKnowledge = 5
	rec.DeltaUncertainty = 6
	rec.DeltaContext = 5
	rec.LearningIndex = 5.35
	rec.GapsClosed = []string{"refresh semantics"}
	require.NoError(t, s.CompleteLearning(rec))

	got, err := s.GetLearning("specs/auth", "T-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, got.Phase)
	assert.InDelta(t, 5.35, got.LearningIndex, 1e-9)
	assert.Equal(t, []string{"refresh semantics"}, got.GapsClosed)
}

func TestNormalizeTriggers(t *testing.T) {
	in := []string{"  Foo   Bar ", "foo bar", "", "BAZ"}
	out := NormalizeTriggers(in)
	assert.Equal(t, []string{"foo bar", "baz"}, out)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75}
	got, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}
