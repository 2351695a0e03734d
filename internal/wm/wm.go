// Package wm maintains per-session working memory: attention scores that
// decay by a power law over turns, spike to full on trigger activation, and
// spread one hop along related and causal links.
package wm

import (
	"log/slog"
	"math"
	"sort"

	"github.com/engramhq/engram/internal/store"
)

// Tier classifies an attention score.
type Tier string

const (
	TierHot  Tier = "HOT"
	TierWarm Tier = "WARM"
	TierCold Tier = "COLD"
)

// Defaults for the attention model.
const (
	DefaultHotThreshold  = 0.75
	DefaultWarmThreshold = 0.35
	DefaultCoActivation  = 0.35
	DefaultSoftCap       = 200
	// decayExponent shapes the power-law forgetting curve: score is scaled
	// by (1+turns)^-decayExponent per decay pass.
	decayExponent = 0.8
)

// Config tunes the attention model.
type Config struct {
	HotThreshold  float64
	WarmThreshold float64
	CoActivation  float64
	SoftCap       int
}

// Entry is one working-memory slot with its classification.
type Entry struct {
	Memory    *store.Memory
	Score     float64
	Tier      Tier
	Activated bool
	Phrase    string
}

// Manager runs the attention cycle against the store.
type Manager struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a manager. Zero config fields get defaults.
func New(s *store.Store, cfg Config, logger *slog.Logger) *Manager {
	if cfg.HotThreshold <= 0 {
		cfg.HotThreshold = DefaultHotThreshold
	}
	if cfg.WarmThreshold <= 0 {
		cfg.WarmThreshold = DefaultWarmThreshold
	}
	if cfg.CoActivation <= 0 {
		cfg.CoActivation = DefaultCoActivation
	}
	if cfg.SoftCap <= 0 {
		cfg.SoftCap = DefaultSoftCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, cfg: cfg, logger: logger}
}

// Classify maps a score onto its tier.
func (m *Manager) Classify(score float64) Tier {
	switch {
	case score >= m.cfg.HotThreshold:
		return TierHot
	case score >= m.cfg.WarmThreshold:
		return TierWarm
	default:
		return TierCold
	}
}

// DecayFactor is the power-law multiplier for a gap of n turns.
func DecayFactor(turns int) float64 {
	if turns <= 0 {
		return 1.0
	}
	return math.Pow(float64(1+turns), -decayExponent)
}

// Advance runs one attention cycle for a session at the given turn: decay
// every entry, activate trigger matches from the prompt, spread co-activation
// one hop, evict past the soft cap, and persist. The returned entries are
// sorted by score and classified; COLD entries are included so callers can
// project them away.
func (m *Manager) Advance(sessionID string, turn int, prompt string) ([]Entry, error) {
	existing, err := m.store.WorkingMemoryForSession(sessionID)
	if err != nil {
		return nil, err
	}
	scores := make(map[int64]*store.WorkingMemoryEntry, len(existing))
	for _, e := range existing {
		gap := turn - e.LastDecayTurn
		e.AttentionScore *= DecayFactor(gap)
		if e.AttentionScore < 0 {
			e.AttentionScore = 0
		}
		e.LastDecayTurn = turn
		scores[e.MemoryID] = e
	}

	matches, err := m.store.MatchTriggers(prompt)
	if err != nil {
		return nil, err
	}
	activated := make(map[int64]string, len(matches))
	for _, match := range matches {
		if _, seen := activated[match.MemoryID]; seen {
			continue
		}
		activated[match.MemoryID] = match.Phrase
		e := scores[match.MemoryID]
		if e == nil {
			e = &store.WorkingMemoryEntry{SessionID: sessionID, MemoryID: match.MemoryID}
			scores[match.MemoryID] = e
		}
		e.AttentionScore = 1.0
		e.LastTurnActivated = turn
		e.LastDecayTurn = turn
	}

	// Depth-1 spread along related_memories and enabling/deriving edges.
	for id := range activated {
		for _, rel := range m.relatedIDs(id) {
			if _, isActivated := activated[rel]; isActivated {
				continue
			}
			e := scores[rel]
			if e == nil {
				e = &store.WorkingMemoryEntry{SessionID: sessionID, MemoryID: rel, LastDecayTurn: turn}
				scores[rel] = e
			}
			e.AttentionScore = math.Min(1.0, e.AttentionScore+m.cfg.CoActivation)
		}
	}

	entries := make([]*store.WorkingMemoryEntry, 0, len(scores))
	for _, e := range scores {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AttentionScore != entries[j].AttentionScore {
			return entries[i].AttentionScore > entries[j].AttentionScore
		}
		return entries[i].MemoryID < entries[j].MemoryID
	})

	// Soft cap: evict the weakest overflow entries.
	var evicted []int64
	if len(entries) > m.cfg.SoftCap {
		for _, e := range entries[m.cfg.SoftCap:] {
			evicted = append(evicted, e.MemoryID)
		}
		entries = entries[:m.cfg.SoftCap]
	}
	if len(evicted) > 0 {
		if err := m.store.DeleteWorkingMemory(sessionID, evicted); err != nil {
			return nil, err
		}
	}
	if err := m.store.UpsertWorkingMemoryBatch(entries); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		mem, err := m.store.GetMemory(e.MemoryID)
		if err != nil {
			continue // evicted or deleted underneath us
		}
		phrase, wasActivated := activated[e.MemoryID]
		out = append(out, Entry{
			Memory:    mem,
			Score:     e.AttentionScore,
			Tier:      m.Classify(e.AttentionScore),
			Activated: wasActivated,
			Phrase:    phrase,
		})
	}
	return out, nil
}

// relatedIDs returns the depth-1 neighborhood for co-activation spread.
func (m *Manager) relatedIDs(id int64) []int64 {
	var out []int64
	if mem, err := m.store.GetMemory(id); err == nil {
		out = append(out, mem.RelatedMemories...)
	}
	if edges, err := m.store.EdgesFrom(id); err == nil {
		for _, e := range edges {
			if e.Relation == store.RelEnabledBy || e.Relation == store.RelDerivedFrom {
				out = append(out, e.TargetID)
			}
		}
	}
	return out
}

// Projection is the tiered content view of one entry: HOT rows carry full
// content, WARM rows a summary, COLD rows are suppressed.
type Projection struct {
	MemoryID int64   `json:"memory_id"`
	Title    string  `json:"title"`
	Tier     Tier    `json:"tier"`
	Score    float64 `json:"score"`
	Content  string  `json:"content,omitempty"`
}

// Project renders entries for return to the caller, dropping COLD ones.
func Project(entries []Entry) []Projection {
	var out []Projection
	for _, e := range entries {
		if e.Tier == TierCold {
			continue
		}
		p := Projection{
			MemoryID: e.Memory.ID,
			Title:    e.Memory.Title,
			Tier:     e.Tier,
			Score:    e.Score,
		}
		if e.Tier == TierHot {
			p.Content = e.Memory.Content
		} else {
			p.Content = summarize(e.Memory)
		}
		out = append(out, p)
	}
	return out
}

// summarize is the WARM-tier view: the leading slice of the content.
func summarize(m *store.Memory) string {
	const maxRunes = 240
	runes := []rune(m.Content)
	if len(runes) <= maxRunes {
		return m.Content
	}
	return string(runes[:maxRunes]) + "…"
}
