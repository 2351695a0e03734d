// Package memfile parses memory files: Markdown documents with YAML front
// matter that declare how a memory should be indexed, triggered, and tiered.
package memfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/internal/store"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// frontMatter is the YAML block at the top of a memory file. Unknown keys
// are ignored so files can carry extra metadata for other tools.
type frontMatter struct {
	Title           string   `yaml:"title"`
	TriggerPhrases  []string `yaml:"trigger_phrases"`
	ContextType     string   `yaml:"context_type"`
	ImportanceTier  string   `yaml:"importance_tier"`
	RelatedMemories []int64  `yaml:"related_memories"`
}

// Anchor is one named section marked with ANCHOR:<id> ... /ANCHOR:<id>.
type Anchor struct {
	ID      string
	Content string
}

// Parsed is the result of reading one memory file.
type Parsed struct {
	FilePath       string
	SpecFolder     string
	Title          string
	Content        string
	ContentHash    string
	TriggerPhrases []string
	ContextType    store.ContextType
	ImportanceTier store.ImportanceTier
	RelatedMemories []int64
	Anchors        []Anchor
	Warnings       []string
	FileMtimeNS    int64
}

// Anchor delimiters tolerate both bare and HTML-comment forms.
var (
	anchorOpenRe  = regexp.MustCompile(`(?m)^\s*(?:<!--\s*)?ANCHOR:([A-Za-z0-9_-]+)(?:\s*-->)?\s*$`)
	anchorCloseRe = regexp.MustCompile(`(?m)^\s*(?:<!--\s*)?/ANCHOR:([A-Za-z0-9_-]+)(?:\s*-->)?\s*$`)
)

// ParseFile reads and parses a memory file from disk. The path must resolve
// inside one of the allowed roots; anything else is rejected before the file
// is opened.
func ParseFile(path string, allowedRoots []string) (*Parsed, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !underAllowedRoot(abs, allowedRoots) {
		return nil, fmt.Errorf("%s is outside the configured memory roots", abs)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	p, err := Parse(abs, raw)
	if err != nil {
		return nil, err
	}
	p.FileMtimeNS = info.ModTime().UnixNano()
	return p, nil
}

// Parse parses raw memory file bytes. The content hash covers the
// BOM-stripped, right-trimmed bytes so editors that fiddle with trailing
// newlines do not force re-embedding.
func Parse(path string, raw []byte) (*Parsed, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	hashed := bytes.TrimRight(raw, " \t\r\n")
	sum := sha256.Sum256(hashed)

	p := &Parsed{
		FilePath:    path,
		SpecFolder:  SpecFolderOf(path),
		ContentHash: hex.EncodeToString(sum[:]),
	}

	fm, body, warnings := splitFrontMatter(raw)
	p.Warnings = warnings
	p.Content = strings.TrimSpace(body)

	if fm != nil {
		p.Title = strings.TrimSpace(fm.Title)
		p.TriggerPhrases = store.NormalizeTriggers(fm.TriggerPhrases)
		if len(fm.TriggerPhrases) > store.MaxTriggerPhrases {
			p.Warnings = append(p.Warnings,
				fmt.Sprintf("trigger_phrases truncated to %d entries", store.MaxTriggerPhrases))
		}
		p.RelatedMemories = fm.RelatedMemories

		ct, err := store.ParseContextType(fm.ContextType)
		if err != nil {
			p.Warnings = append(p.Warnings, err.Error()+", using general")
			ct = store.ContextGeneral
		}
		p.ContextType = ct

		// An unknown tier is a hard error: silently downgrading could bury
		// a file the author marked constitutional.
		tier, err := store.ParseImportanceTier(fm.ImportanceTier)
		if err != nil {
			return nil, err
		}
		p.ImportanceTier = tier
	} else {
		p.ContextType = store.ContextGeneral
		p.ImportanceTier = store.TierNormal
	}

	if p.Title == "" {
		p.Title = firstHeading(body)
	}
	if p.Title == "" {
		base := filepath.Base(path)
		p.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	anchors, anchorWarnings := ExtractAnchors(body)
	p.Anchors = anchors
	p.Warnings = append(p.Warnings, anchorWarnings...)

	return p, nil
}

// splitFrontMatter separates a leading YAML block delimited by --- lines.
// A malformed block degrades to a warning; the whole file then counts as
// body.
func splitFrontMatter(raw []byte) (*frontMatter, string, []string) {
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil, text, nil
	}
	rest := text[strings.Index(text, "\n")+1:]
	endRe := regexp.MustCompile(`(?m)^---\s*$`)
	loc := endRe.FindStringIndex(rest)
	if loc == nil {
		return nil, text, []string{"unterminated front matter block"}
	}
	block := rest[:loc[0]]
	body := strings.TrimPrefix(strings.TrimPrefix(rest[loc[1]:], "\r"), "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, text, []string{fmt.Sprintf("invalid front matter: %v", err)}
	}
	return &fm, body, nil
}

// firstHeading returns the text of the first Markdown # heading.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// ExtractAnchors scans for ANCHOR blocks. Unmatched opens or closes produce
// warnings, never errors; a sloppy file still indexes.
func ExtractAnchors(body string) ([]Anchor, []string) {
	var anchors []Anchor
	var warnings []string

	opens := anchorOpenRe.FindAllStringSubmatchIndex(body, -1)
	for _, open := range opens {
		id := body[open[2]:open[3]]
		rest := body[open[1]:]
		closeLoc := anchorCloseRe.FindStringSubmatchIndex(rest)
		for closeLoc != nil && rest[closeLoc[2]:closeLoc[3]] != id {
			next := anchorCloseRe.FindStringSubmatchIndex(rest[closeLoc[1]:])
			if next == nil {
				closeLoc = nil
				break
			}
			for i := range next {
				next[i] += closeLoc[1]
			}
			closeLoc = next
		}
		if closeLoc == nil {
			warnings = append(warnings, fmt.Sprintf("anchor %q never closed", id))
			continue
		}
		anchors = append(anchors, Anchor{
			ID:      id,
			Content: strings.TrimSpace(rest[:closeLoc[0]]),
		})
	}
	return anchors, warnings
}

// SpecFolderOf derives the grouping key from a file path: the parent
// directory's last two components, or one when that is all there is.
func SpecFolderOf(path string) string {
	dir := filepath.Dir(path)
	parent := filepath.Base(filepath.Dir(dir))
	base := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) || parent == "/" {
		return base
	}
	return parent + "/" + base
}

func underAllowedRoot(abs string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true
		}
	}
	return false
}

// ToMemory converts a parsed file into a store row without embedding state.
func (p *Parsed) ToMemory() *store.Memory {
	return &store.Memory{
		SpecFolder:      p.SpecFolder,
		FilePath:        p.FilePath,
		Title:           p.Title,
		ContentHash:     p.ContentHash,
		Content:         p.Content,
		TriggerPhrases:  p.TriggerPhrases,
		ContextType:     p.ContextType,
		ImportanceTier:  p.ImportanceTier,
		ImportanceWeight: p.ImportanceTier.Weight(),
		RelatedMemories: p.RelatedMemories,
		FileMtimeNS:     p.FileMtimeNS,
	}
}

// EmbeddingText is what gets embedded for this memory: the title and body
// joined, so short titles still contribute signal.
func (p *Parsed) EmbeddingText() string {
	if p.Title == "" {
		return p.Content
	}
	return p.Title + "\n\n" + p.Content
}
