package checkpoint

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Dir: t.TempDir(), ProfileSlug: "ckpt", Dim: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, folder, path string) int64 {
	t.Helper()
	id, err := s.InsertMemory(&store.Memory{
		SpecFolder:      folder,
		FilePath:        path,
		Title:           path,
		ContentHash:     "h-" + path,
		Content:         "content of " + path,
		Embedding:       []float32{1, 0, 0, 0},
		EmbeddingStatus: store.EmbeddingSuccess,
	})
	require.NoError(t, err)
	return id
}

func TestCreateListDelete(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "specs/auth", "/m/a.md")
	mgr := New(s, nil)

	cp, err := mgr.Create("before-refactor", "", `{"by":"test"}`)
	require.NoError(t, err)
	assert.Equal(t, "before-refactor", cp.Name)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, mgr.Delete("before-refactor"))
	_, err = mgr.Restore("before-refactor", false)
	require.Error(t, err)
}

func TestRestoreClearExistingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	a := seed(t, s, "specs/auth", "/m/a.md")
	b := seed(t, s, "specs/auth", "/m/b.md")
	_, err := s.InsertEdge(&store.CausalEdge{SourceID: a, TargetID: b, Relation: store.RelSupports, Strength: 0.9})
	require.NoError(t, err)

	mgr := New(s, nil)
	_, err = mgr.Create("before-cleanup", "", "")
	require.NoError(t, err)

	// Destroy everything, then restore.
	require.NoError(t, s.DeleteMemory(a))
	require.NoError(t, s.DeleteMemory(b))

	report, err := mgr.Restore("before-cleanup", true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MemoriesRestored)
	assert.Equal(t, 1, report.EdgesRestored)

	restored, err := s.ListMemories("specs/auth", 0)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	// Vector index follows the restore.
	assert.Equal(t, 2, s.Vectors().Len())

	edges, err := s.AllEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, store.RelSupports, edges[0].Relation)
}

func TestRestoreMergeKeepsLiveRows(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "specs/auth", "/m/a.md")
	mgr := New(s, nil)
	_, err := mgr.Create("cp", "", "")
	require.NoError(t, err)

	report, err := mgr.Restore("cp", false)
	require.NoError(t, err)
	// Same path already present: merge maps onto it instead of duplicating.
	assert.Equal(t, 0, report.MemoriesRestored)

	count, err := s.CountMemories()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRestoreBringsBackWorkingMemory(t *testing.T) {
	s := openTestStore(t)
	a := seed(t, s, "specs/auth", "/m/a.md")
	require.NoError(t, s.UpsertWorkingMemory(&store.WorkingMemoryEntry{
		SessionID:         "sess-1",
		MemoryID:          a,
		AttentionScore:    0.8,
		LastTurnActivated: 3,
		LastDecayTurn:     3,
	}))

	mgr := New(s, nil)
	_, err := mgr.Create("with-wm", "", "")
	require.NoError(t, err)

	// Deleting the memory cascades its working-memory row.
	require.NoError(t, s.DeleteMemory(a))

	report, err := mgr.Restore("with-wm", true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WorkingMemoryRestored)

	entries, err := s.WorkingMemoryForSession("sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.8, entries[0].AttentionScore, 1e-9)
	assert.Equal(t, 3, entries[0].LastTurnActivated)

	// The entry points at the restored row, not the dead ID.
	restored, err := s.GetMemoryByPath("/m/a.md")
	require.NoError(t, err)
	assert.Equal(t, restored.ID, entries[0].MemoryID)
}

func TestScopedCheckpointOnlyCapturesFolder(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "specs/auth", "/m/a.md")
	seed(t, s, "specs/billing", "/m/b.md")

	mgr := New(s, nil)
	_, err := mgr.Create("auth-only", "specs/auth", "")
	require.NoError(t, err)

	// Clear-restore of the scoped checkpoint must not touch other folders.
	report, err := mgr.Restore("auth-only", true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MemoriesCleared)
	assert.Equal(t, 1, report.MemoriesRestored)

	billing, err := s.ListMemories("specs/billing", 0)
	require.NoError(t, err)
	assert.Len(t, billing, 1)
}

func TestBulkDeleteTakesAutoCheckpoint(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "specs/auth", "/m/a.md")
	seed(t, s, "specs/auth", "/m/b.md")
	seed(t, s, "specs/billing", "/m/c.md")

	mgr := New(s, nil)
	auto, deleted, err := mgr.BulkDelete("specs/auth")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.True(t, strings.HasPrefix(auto, "pre-cleanup-"))

	remaining, err := s.ListMemories("specs/auth", 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// The auto checkpoint brings the folder back.
	report, err := mgr.Restore(auto, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MemoriesRestored)
}

func TestAutoNameFormat(t *testing.T) {
	name := AutoName(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	assert.Equal(t, "pre-cleanup-20260304T050607Z", name)
}
