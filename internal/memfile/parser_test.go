package memfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/store"
)

const sampleFile = `---
title: Session token design
trigger_phrases:
  - token refresh
  - Session Expiry
context_type: decision
importance_tier: critical
---

# Session token design

Tokens rotate on refresh.

ANCHOR:summary
Rotation invalidates the previous token immediately.
/ANCHOR:summary

ANCHOR:next-steps
Add revocation list cleanup.
/ANCHOR:next-steps
`

func TestParseFullFile(t *testing.T) {
	p, err := Parse("/memories/specs/auth/tokens.md", []byte(sampleFile))
	require.NoError(t, err)

	assert.Equal(t, "Session token design", p.Title)
	assert.Equal(t, "specs/auth", p.SpecFolder)
	assert.Equal(t, store.ContextDecision, p.ContextType)
	assert.Equal(t, store.TierCritical, p.ImportanceTier)
	assert.Equal(t, []string{"token refresh", "session expiry"}, p.TriggerPhrases)
	assert.Empty(t, p.Warnings)

	require.Len(t, p.Anchors, 2)
	assert.Equal(t, "summary", p.Anchors[0].ID)
	assert.Equal(t, "Rotation invalidates the previous token immediately.", p.Anchors[0].Content)
	assert.Equal(t, "next-steps", p.Anchors[1].ID)
}

func TestParseNoFrontMatter(t *testing.T) {
	p, err := Parse("/memories/specs/auth/notes.md", []byte("# Just notes\n\nSome body.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Just notes", p.Title)
	assert.Equal(t, store.ContextGeneral, p.ContextType)
	assert.Equal(t, store.TierNormal, p.ImportanceTier)
}

func TestParseTitleFallsBackToFilename(t *testing.T) {
	p, err := Parse("/memories/specs/auth/rate-limits.md", []byte("no headings here\n"))
	require.NoError(t, err)
	assert.Equal(t, "rate-limits", p.Title)
}

func TestParseBOMDoesNotChangeHash(t *testing.T) {
	plain := []byte("# T\n\nbody")
	withBOM := append([]byte{0xEF, 0xBB, 0xBF}, plain...)

	p1, err := Parse("/m/a/x.md", plain)
	require.NoError(t, err)
	p2, err := Parse("/m/a/x.md", withBOM)
	require.NoError(t, err)
	assert.Equal(t, p1.ContentHash, p2.ContentHash)
}

func TestParseTrailingWhitespaceDoesNotChangeHash(t *testing.T) {
	p1, err := Parse("/m/a/x.md", []byte("# T\n\nbody"))
	require.NoError(t, err)
	p2, err := Parse("/m/a/x.md", []byte("# T\n\nbody\n\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, p1.ContentHash, p2.ContentHash)
}

func TestParseInvalidTierIsError(t *testing.T) {
	src := "---\ntitle: X\nimportance_tier: mega\n---\nbody\n"
	_, err := Parse("/m/a/x.md", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mega")
}

func TestParseMissingTierDefaultsToNormal(t *testing.T) {
	p, err := Parse("/m/a/x.md", []byte("---\ntitle: X\n---\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, store.TierNormal, p.ImportanceTier)
}

func TestParseUnterminatedFrontMatter(t *testing.T) {
	p, err := Parse("/m/a/x.md", []byte("---\ntitle: X\nno end\n"))
	require.NoError(t, err)
	assert.Contains(t, p.Warnings[0], "unterminated")
}

func TestParseUnclosedAnchorWarns(t *testing.T) {
	src := "# T\n\nANCHOR:state\nnever closed\n"
	p, err := Parse("/m/a/x.md", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, p.Anchors)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], `anchor "state" never closed`)
}

func TestParseHTMLCommentAnchors(t *testing.T) {
	src := "# T\n\n<!-- ANCHOR:state -->\ncurrent state here\n<!-- /ANCHOR:state -->\n"
	p, err := Parse("/m/a/x.md", []byte(src))
	require.NoError(t, err)
	require.Len(t, p.Anchors, 1)
	assert.Equal(t, "state", p.Anchors[0].ID)
	assert.Equal(t, "current state here", p.Anchors[0].Content)
}

func TestParseFileRejectsOutsideRoots(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	path := filepath.Join(other, "x.md")
	require.NoError(t, os.WriteFile(path, []byte("# T\n"), 0o644))

	_, err := ParseFile(path, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

func TestParseFileRecordsMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	p, err := ParseFile(path, []string{dir})
	require.NoError(t, err)
	assert.Greater(t, p.FileMtimeNS, int64(0))
}
