// Package store is the persistence layer: a single SQLite file (WAL mode)
// holding memories, their FTS5 shadow, trigger phrases, causal edges,
// working-memory activation, session-learning records, checkpoints, and the
// config key-value table, plus an in-process HNSW vector index mirroring the
// embedding column.
package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// ContextType classifies what kind of work a memory captures.
type ContextType string

const (
	ContextResearch       ContextType = "research"
	ContextImplementation ContextType = "implementation"
	ContextDecision       ContextType = "decision"
	ContextDiscovery      ContextType = "discovery"
	ContextGeneral        ContextType = "general"
)

// ParseContextType validates a context type string.
func ParseContextType(s string) (ContextType, error) {
	switch ContextType(s) {
	case ContextResearch, ContextImplementation, ContextDecision, ContextDiscovery, ContextGeneral:
		return ContextType(s), nil
	case "":
		return ContextGeneral, nil
	}
	return "", fmt.Errorf("unknown context type %q", s)
}

// ImportanceTier ranks how aggressively a memory surfaces.
type ImportanceTier string

const (
	TierConstitutional ImportanceTier = "constitutional"
	TierCritical       ImportanceTier = "critical"
	TierImportant      ImportanceTier = "important"
	TierNormal         ImportanceTier = "normal"
	TierTemporary      ImportanceTier = "temporary"
	TierDeprecated     ImportanceTier = "deprecated"
)

// ParseImportanceTier validates a tier string.
func ParseImportanceTier(s string) (ImportanceTier, error) {
	switch ImportanceTier(s) {
	case TierConstitutional, TierCritical, TierImportant, TierNormal, TierTemporary, TierDeprecated:
		return ImportanceTier(s), nil
	case "":
		return TierNormal, nil
	}
	return "", fmt.Errorf("unknown importance tier %q", s)
}

// Weight maps a tier to its retrieval weight.
func (t ImportanceTier) Weight() float64 {
	switch t {
	case TierConstitutional:
		return 1.0
	case TierCritical:
		return 0.9
	case TierImportant:
		return 0.7
	case TierNormal:
		return 0.5
	case TierTemporary:
		return 0.3
	case TierDeprecated:
		return 0.1
	default:
		return 0.5
	}
}

// EmbeddingStatus tracks whether a memory's vector is resident.
type EmbeddingStatus string

const (
	EmbeddingSuccess EmbeddingStatus = "success"
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// Relation types a causal edge.
type Relation string

const (
	RelCausedBy    Relation = "caused_by"
	RelEnabledBy   Relation = "enabled_by"
	RelSupersedes  Relation = "supersedes"
	RelContradicts Relation = "contradicts"
	RelDerivedFrom Relation = "derived_from"
	RelSupports    Relation = "supports"
)

// Relations lists all edge types in stable order.
func Relations() []Relation {
	return []Relation{RelCausedBy, RelEnabledBy, RelSupersedes, RelContradicts, RelDerivedFrom, RelSupports}
}

// ParseRelation validates a relation string.
func ParseRelation(s string) (Relation, error) {
	for _, r := range Relations() {
		if Relation(s) == r {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown relation %q", s)
}

// Scheduler defaults for newly created memories.
const (
	DefaultStability  = 1.0
	DefaultDifficulty = 5.0
	MinStability      = 0.1
	MinDifficulty     = 1.0
	MaxDifficulty     = 10.0
)

// DefaultEdgeStrength is used when a causal edge is linked without an
// explicit strength.
const DefaultEdgeStrength = 1.0

// Trigger phrase bounds.
const (
	MaxTriggerPhrases  = 10
	MaxTriggerPhraseLen = 80
)

// Memory is one row of memory_index.
type Memory struct {
	ID              int64
	SpecFolder      string
	FilePath        string
	Title           string
	ContentHash     string
	Content         string
	TriggerPhrases  []string
	ContextType     ContextType
	ImportanceTier  ImportanceTier
	ImportanceWeight float64
	Embedding       []float32
	EmbeddingStatus EmbeddingStatus
	FileMtimeNS     int64
	Stability       float64
	Difficulty      float64
	LastReview      time.Time
	ReviewCount     int
	AccessCount     int
	LastAccessed    time.Time
	Confidence      float64
	ValidationCount int
	RelatedMemories []int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CausalEdge is one row of causal_edges.
type CausalEdge struct {
	ID        int64
	SourceID  int64
	TargetID  int64
	Relation  Relation
	Strength  float64
	Evidence  string
	CreatedAt time.Time
}

// WorkingMemoryEntry is one row of working_memory.
type WorkingMemoryEntry struct {
	SessionID         string
	MemoryID          int64
	AttentionScore    float64
	LastTurnActivated int
	LastDecayTurn     int
}

// LearningPhase is the lifecycle phase of a session-learning record.
type LearningPhase string

const (
	PhasePreflight LearningPhase = "preflight"
	PhaseComplete  LearningPhase = "complete"
)

// LearningRecord is one row of session_learning.
type LearningRecord struct {
	ID                 int64
	SpecFolder         string
	TaskID             string
	Phase              LearningPhase
	SessionID          string
	PreKnowledge       int
	PreUncertainty     int
	PreContext         int
	KnowledgeGaps      []string
	PostKnowledge      int
	PostUncertainty    int
	PostContext        int
	DeltaKnowledge     float64
	DeltaUncertainty   float64
	DeltaContext       float64
	LearningIndex      float64
	GapsClosed         []string
	NewGapsDiscovered  []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Checkpoint is one row of checkpoints (payload held separately).
type Checkpoint struct {
	Name       string
	SpecFolder string
	Metadata   string
	CreatedAt  time.Time
}

// ConflictRecord is one row of the append-only PE-gate audit log.
type ConflictRecord struct {
	ID                    int64
	NewMemoryHash         string
	ExistingMemoryID      int64
	SimilarityScore       float64
	Action                string
	ContradictionDetected bool
	Notes                 string
	SpecFolder            string
	CreatedAt             time.Time
}

// Config keys persisted in the config table.
const (
	ConfigKeyProfileSlug  = "profile_slug"
	ConfigKeyEmbeddingDim = "embedding_dim"
	ConfigKeySchemaVer    = "schema_version"
	ConfigKeyLastScanMS   = "last_scan_time_ms"
)

// NormalizePhrase lowercases, trims, and collapses internal whitespace.
// Trigger storage and matching both go through this, so a phrase saved with
// odd spacing still matches a tidy prompt.
func NormalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeTriggers applies phrase normalization, dedupes preserving first-seen
// order, clamps each phrase to MaxTriggerPhraseLen runes, and truncates the
// list to MaxTriggerPhrases.
func NormalizeTriggers(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		n := NormalizePhrase(p)
		if n == "" {
			continue
		}
		if runes := []rune(n); len(runes) > MaxTriggerPhraseLen {
			n = string(runes[:MaxTriggerPhraseLen])
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
		if len(out) == MaxTriggerPhrases {
			break
		}
	}
	return out
}

// EncodeVector serializes a float32 vector to little-endian bytes for the
// embedding BLOB column.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes an embedding BLOB.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// CosineSimilarity computes the cosine similarity of two vectors. Returns 0
// for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
