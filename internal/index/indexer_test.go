package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/embed"
	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/gate"
	"github.com/engramhq/engram/internal/store"
)

// scriptedProvider returns fixed vectors per text and can be told to fail.
type scriptedProvider struct {
	vectors map[string][]float32
	deflt   []float32
	fail    bool
	calls   int
}

func (p *scriptedProvider) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	p.calls++
	if p.fail {
		return nil, engerrors.New(engerrors.CodeEmbeddingFailed, "scripted failure", nil)
	}
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return p.deflt, nil
}

func (p *scriptedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.EmbedDocument(ctx, text)
}

func (p *scriptedProvider) Profile() embed.Profile {
	return embed.Profile{Provider: "scripted", Model: "scripted", Dim: 4}
}
func (p *scriptedProvider) Ready(context.Context) bool       { return !p.fail }
func (p *scriptedProvider) AwaitReady(context.Context) error { return nil }
func (p *scriptedProvider) Close() error                     { return nil }

type fixture struct {
	store    *store.Store
	indexer  *Indexer
	provider *scriptedProvider
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(store.Options{Dir: t.TempDir(), ProfileSlug: "idx", Dim: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	root := t.TempDir()
	p := &scriptedProvider{vectors: map[string][]float32{}, deflt: []float32{0, 0, 0, 1}}
	g := gate.New(s, nil, nil)
	ix := New(s, p, g, Config{Roots: []string{root}, Cooldown: time.Minute}, nil)
	return &fixture{store: s, indexer: ix, provider: p, root: root}
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(f.root, "specs", "auth")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIndexNewFileCreates(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "oauth.md", "# OAuth\n\nWe use OAuth 2.0 with JWT access tokens.\n")

	res, err := f.indexer.IndexFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, "CREATE", res.PEAction)
	require.Greater(t, res.MemoryID, int64(0))

	m, err := f.store.GetMemory(res.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingSuccess, m.EmbeddingStatus)
	assert.False(t, m.LastReview.IsZero())
}

func TestReindexUnchangedIsFastPath(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "a.md", "# A\n\nbody\n")

	_, err := f.indexer.IndexFile(context.Background(), path, false)
	require.NoError(t, err)
	embedsAfterFirst := f.provider.calls

	before, err := f.store.GetMemoryByPath(path)
	require.NoError(t, err)

	// Touch the mtime without changing content.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	res, err := f.indexer.IndexFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, embedsAfterFirst, f.provider.calls, "unchanged file must not re-embed")

	after, err := f.store.GetMemoryByPath(path)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "mtime touch must not count as an update")
	assert.Equal(t, future.UnixNano(), after.FileMtimeNS)
}

func TestReindexChangedFileUpdatesRow(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "a.md", "# A\n\noriginal body\n")

	first, err := f.indexer.IndexFile(context.Background(), path, false)
	require.NoError(t, err)

	f.writeFile(t, "a.md", "# A\n\nrewritten body\n")
	res, err := f.indexer.IndexFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, first.MemoryID, res.MemoryID)

	m, err := f.store.GetMemory(res.MemoryID)
	require.NoError(t, err)
	assert.Contains(t, m.Content, "rewritten")
}

func TestDuplicateContentReinforces(t *testing.T) {
	f := newFixture(t)
	f.provider.deflt = []float32{1, 0, 0, 0}
	a := f.writeFile(t, "oauth.md", "# OAuth\n\nWe use OAuth 2.0 with JWT access tokens.\n")
	b := f.writeFile(t, "oauth-v2.md", "# OAuth\n\nWe use OAuth 2.0 with JWT access tokens!\n")

	first, err := f.indexer.IndexFile(context.Background(), a, false)
	require.NoError(t, err)
	res, err := f.indexer.IndexFile(context.Background(), b, false)
	require.NoError(t, err)

	assert.Equal(t, StatusReinforced, res.Status)
	assert.Equal(t, "REINFORCE", res.PEAction)
	assert.Equal(t, first.MemoryID, res.MemoryID)

	// No second row; the original got a review instead.
	count, err := f.store.CountMemories()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	m, err := f.store.GetMemory(first.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ReviewCount)
	assert.Greater(t, m.Stability, store.DefaultStability)

	conflicts, err := f.store.ListConflicts("", 10)
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, "REINFORCE", conflicts[0].Action)
	assert.GreaterOrEqual(t, conflicts[0].SimilarityScore, 0.95)
}

func TestRefinementUpdatesCandidateInPlace(t *testing.T) {
	f := newFixture(t)
	f.provider.vectors["Pager\n\npagination is cursor based."] = []float32{1, 0, 0, 0}
	f.provider.vectors["Pager two\n\npagination is cursor based, page size 50."] = []float32{0.92, 0.392, 0, 0}

	a := f.writeFile(t, "pager.md", "---\ntitle: Pager\n---\npagination is cursor based.\n")
	b := f.writeFile(t, "pager-two.md", "---\ntitle: Pager two\n---\npagination is cursor based, page size 50.\n")

	first, err := f.indexer.IndexFile(context.Background(), a, false)
	require.NoError(t, err)
	res, err := f.indexer.IndexFile(context.Background(), b, false)
	require.NoError(t, err)

	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, "UPDATE", res.PEAction)
	assert.Equal(t, first.MemoryID, res.MemoryID)

	count, err := f.store.CountMemories()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Candidate keeps its identity and path; content and review state
	// change together.
	m, err := f.store.GetMemory(first.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, a, m.FilePath)
	assert.Contains(t, m.Content, "page size 50")
	assert.Equal(t, 1, m.ReviewCount)
	assert.False(t, m.LastReview.IsZero())
}

func TestContradictionSupersedes(t *testing.T) {
	f := newFixture(t)
	f.provider.vectors["OAuth\n\nAlways use JWT access tokens for sessions."] = []float32{1, 0, 0, 0}
	f.provider.vectors["OAuth rotate\n\nDo not use JWT, use opaque session cookies, never store tokens."] = []float32{0.92, 0.392, 0, 0}

	a := f.writeFile(t, "oauth.md", "---\ntitle: OAuth\n---\nAlways use JWT access tokens for sessions.\n")
	b := f.writeFile(t, "oauth-rotate.md", "---\ntitle: OAuth rotate\n---\nDo not use JWT, use opaque session cookies, never store tokens.\n")

	first, err := f.indexer.IndexFile(context.Background(), a, false)
	require.NoError(t, err)
	res, err := f.indexer.IndexFile(context.Background(), b, false)
	require.NoError(t, err)

	assert.Equal(t, StatusSuperseded, res.Status)
	assert.Equal(t, "SUPERSEDE", res.PEAction)
	assert.Equal(t, first.MemoryID, res.SupersededID)

	old, err := f.store.GetMemory(first.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, store.TierDeprecated, old.ImportanceTier)

	edges, err := f.store.EdgesFrom(res.MemoryID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, store.RelSupersedes, edges[0].Relation)
}

func TestEmbeddingFailureRollsBackWithoutPartial(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "a.md", "# A\n\nbody\n")
	f.provider.fail = true

	_, err := f.indexer.IndexFile(context.Background(), path, false)
	require.Error(t, err)

	count, err := f.store.CountMemories()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEmbeddingFailureStoresPendingWithPartial(t *testing.T) {
	f := newFixture(t)
	path := f.writeFile(t, "a.md", "# A\n\nbody\n")
	f.provider.fail = true

	res, err := f.indexer.IndexFile(context.Background(), path, true)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	m, err := f.store.GetMemory(res.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingPending, m.EmbeddingStatus)
}

func TestScanCooldown(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "a.md", "# A\n\nbody\n")

	_, err := f.indexer.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	embedsBefore := f.provider.calls
	_, err = f.indexer.Scan(context.Background(), ScanOptions{})
	require.Error(t, err)
	assert.Equal(t, engerrors.CodeRateLimited, engerrors.Code(err))
	assert.Equal(t, embedsBefore, f.provider.calls, "rate-limited scan must not touch files")

	// Force bypasses the cooldown.
	_, err = f.indexer.Scan(context.Background(), ScanOptions{Force: true})
	require.NoError(t, err)
}

func TestScanIncrementalSkipsByMtime(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "a.md", "# A\n\nbody a\n")
	f.writeFile(t, "b.md", "# B\n\nbody b\n")

	report, err := f.indexer.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)

	embedsBefore := f.provider.calls
	report, err = f.indexer.Scan(context.Background(), ScanOptions{Incremental: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
	assert.Equal(t, embedsBefore, f.provider.calls)
}

func TestScanFiltersBySpecFolder(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "a.md", "# A\n\nauth body\n")

	billing := filepath.Join(f.root, "specs", "billing")
	require.NoError(t, os.MkdirAll(billing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(billing, "b.md"), []byte("# B\n\nbilling body\n"), 0o644))

	report, err := f.indexer.Scan(context.Background(), ScanOptions{SpecFolder: "specs/auth"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Created)

	// The other folder is untouched.
	memories, err := f.store.ListMemories("specs/billing", 0)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestScanWalksConstitutionalRootsOnRequest(t *testing.T) {
	s, err := store.Open(store.Options{Dir: t.TempDir(), ProfileSlug: "idx", Dim: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	root := t.TempDir()
	croot := t.TempDir()
	memDir := filepath.Join(root, "specs", "auth")
	constDir := filepath.Join(croot, "skill", "constitutional")
	require.NoError(t, os.MkdirAll(memDir, 0o755))
	require.NoError(t, os.MkdirAll(constDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "a.md"), []byte("# A\n\nbody\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(constDir, "rules.md"), []byte("# Rules\n\nnever force push\n"), 0o644))

	p := &scriptedProvider{deflt: []float32{0, 0, 0, 1}}
	ix := New(s, p, gate.New(s, nil, nil), Config{
		Roots:               []string{root},
		ConstitutionalRoots: []string{croot},
		Cooldown:            time.Minute,
	}, nil)

	report, err := ix.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned, "constitutional roots stay out by default")

	report, err = ix.Scan(context.Background(), ScanOptions{Force: true, IncludeConstitutional: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
}

func TestScanOutsideRootRejected(t *testing.T) {
	f := newFixture(t)
	other := t.TempDir()
	path := filepath.Join(other, "x.md")
	require.NoError(t, os.WriteFile(path, []byte("# X\n"), 0o644))

	_, err := f.indexer.IndexFile(context.Background(), path, false)
	require.Error(t, err)
}
