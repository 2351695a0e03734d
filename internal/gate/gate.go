// Package gate implements the prediction-error write gate. Before a parsed
// memory is committed, its embedding is compared against the closest live
// memory in the same spec folder; the similarity decides whether to
// reinforce, update, supersede, link, or create. Every decision is recorded
// in the conflict audit log.
package gate

import (
	"fmt"
	"log/slog"

	"github.com/engramhq/engram/internal/store"
)

// Action is the gate's verdict for an incoming memory.
type Action string

const (
	// ActionReinforce counts the write as a successful recall of the
	// existing memory instead of storing a duplicate.
	ActionReinforce Action = "REINFORCE"
	// ActionUpdate rewrites the existing memory in place.
	ActionUpdate Action = "UPDATE"
	// ActionSupersede stores the new memory and marks the old one
	// deprecated with a supersedes edge.
	ActionSupersede Action = "SUPERSEDE"
	// ActionCreateLinked stores the new memory with its nearest neighbor
	// recorded in related_memories.
	ActionCreateLinked Action = "CREATE_LINKED"
	// ActionCreate stores the new memory. Weak similarity in [0.50, 0.70)
	// still creates but carries a note in the audit log.
	ActionCreate Action = "CREATE"
)

// Similarity bands. Each boundary belongs to the band above it.
const (
	ReinforceThreshold   = 0.95
	ContradictThreshold  = 0.90
	LinkThreshold        = 0.70
	NoteThreshold        = 0.50
)

// Predicate decides whether two memory texts contradict each other. The
// default is lexical; a model-backed implementation can be swapped in.
type Predicate interface {
	Contradicts(existing, incoming string) (bool, string)
}

// Decision is the gate output for one incoming memory.
type Decision struct {
	Action     Action
	NeighborID int64
	Similarity float64
	Note       string
}

// Gate evaluates incoming memories against the store.
type Gate struct {
	store     *store.Store
	predicate Predicate
	logger    *slog.Logger
}

// New creates a gate. A nil predicate falls back to the lexical detector.
func New(s *store.Store, p Predicate, logger *slog.Logger) *Gate {
	if p == nil {
		p = NewLexicalPredicate()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: s, predicate: p, logger: logger}
}

// Evaluate scores an incoming memory against its nearest stored neighbor and
// returns the action to take. The embedding must already be computed; with no
// embedding or an empty index the verdict is plain CREATE.
func (g *Gate) Evaluate(incoming *store.Memory) (*Decision, error) {
	d := &Decision{Action: ActionCreate}

	if len(incoming.Embedding) > 0 {
		if neighbor, sim, ok := g.nearest(incoming); ok {
			d.NeighborID = neighbor.ID
			d.Similarity = sim
			g.decide(d, neighbor, incoming)
		}
	}

	// The audit log is best effort; a failed insert never blocks the write.
	if err := g.audit(incoming, d); err != nil {
		g.logger.Warn("conflict audit insert failed", slog.String("error", err.Error()))
	}
	g.logger.Debug("gate decision",
		slog.String("action", string(d.Action)),
		slog.Float64("similarity", d.Similarity),
		slog.Int64("neighbor", d.NeighborID))
	return d, nil
}

// neighborOverfetch widens the vector search so that filtering out other
// folders and deprecated rows still leaves candidates to consider.
const neighborOverfetch = 20

// nearest finds the closest comparable neighbor: same spec folder, not
// deprecated, similarity at or above the note threshold, and never the
// incoming memory itself (re-index of an existing file must not self-match).
func (g *Gate) nearest(incoming *store.Memory) (*store.Memory, float64, bool) {
	for _, hit := range g.store.Vectors().Search(incoming.Embedding, neighborOverfetch) {
		if hit.ID == incoming.ID || hit.Score < NoteThreshold {
			continue
		}
		m, err := g.store.GetMemory(hit.ID)
		if err != nil {
			// Row vanished between search and load; skip it.
			continue
		}
		if m.SpecFolder != incoming.SpecFolder || m.ImportanceTier == store.TierDeprecated {
			continue
		}
		return m, hit.Score, true
	}
	return nil, 0, false
}

func (g *Gate) decide(d *Decision, neighbor, incoming *store.Memory) {
	s := d.Similarity
	switch {
	case s >= ReinforceThreshold:
		d.Action = ActionReinforce
		d.Note = "near-duplicate of existing memory"
	case s >= ContradictThreshold:
		if contradicts, reason := g.predicate.Contradicts(neighbor.Content, incoming.Content); contradicts {
			d.Action = ActionSupersede
			d.Note = reason
		} else {
			d.Action = ActionUpdate
			d.Note = "high-similarity refinement"
		}
	case s >= LinkThreshold:
		d.Action = ActionCreateLinked
		d.Note = "related to existing memory"
	case s >= NoteThreshold:
		d.Action = ActionCreate
		d.Note = fmt.Sprintf("weak similarity %.2f to memory %d", s, d.NeighborID)
	default:
		d.Action = ActionCreate
	}
}

func (g *Gate) audit(incoming *store.Memory, d *Decision) error {
	return g.store.RecordConflict(&store.ConflictRecord{
		NewMemoryHash:         incoming.ContentHash,
		ExistingMemoryID:      d.NeighborID,
		SimilarityScore:       d.Similarity,
		Action:                string(d.Action),
		ContradictionDetected: d.Action == ActionSupersede,
		Notes:                 d.Note,
		SpecFolder:            incoming.SpecFolder,
	})
}
