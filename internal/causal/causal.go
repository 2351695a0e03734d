// Package causal manages the typed edge graph between memories: linking,
// unlinking, bounded chain traversal, and coverage statistics.
package causal

import (
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/store"
)

// MaxDepth bounds chain traversal regardless of what the caller asks for.
const MaxDepth = 10

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirOutgoing Direction = "outgoing"
	DirIncoming Direction = "incoming"
	DirBoth     Direction = "both"
)

// Graph wraps the store's edge operations with traversal and stats.
type Graph struct {
	store *store.Store
}

// New creates a graph over the store.
func New(s *store.Store) *Graph {
	return &Graph{store: s}
}

// Link creates (or refreshes) a typed edge. Both endpoints must exist.
func (g *Graph) Link(sourceID, targetID int64, relation string, strength float64, evidence string) (*store.CausalEdge, error) {
	rel, err := store.ParseRelation(relation)
	if err != nil {
		return nil, engerrors.InvalidParam("relation", err.Error())
	}
	if strength < 0 || strength > 1 {
		return nil, engerrors.InvalidParam("strength", "must be in [0,1]")
	}
	if _, err := g.store.GetMemory(sourceID); err != nil {
		return nil, err
	}
	if _, err := g.store.GetMemory(targetID); err != nil {
		return nil, err
	}
	edge := &store.CausalEdge{
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  rel,
		Strength:  strength,
		Evidence:  evidence,
		CreatedAt: time.Now(),
	}
	if _, err := g.store.InsertEdge(edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// Unlink removes an edge by ID.
func (g *Graph) Unlink(edgeID int64) error {
	return g.store.DeleteEdge(edgeID)
}

// RelationTypes lists the valid relation strings.
func RelationTypes() []string {
	rels := store.Relations()
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = string(r)
	}
	return out
}

// ChainOptions tunes a traversal.
type ChainOptions struct {
	MaxDepth  int
	Direction Direction
	// Relations filters which edge types are followed; empty follows all.
	Relations []string
}

// Chain is the result of a bounded BFS from one memory.
type Chain struct {
	RootID          int64                                  `json:"root_id"`
	Buckets         map[store.Relation][]*store.CausalEdge `json:"buckets"`
	All             []*store.CausalEdge                    `json:"all"`
	MaxDepthReached bool                                   `json:"max_depth_reached"`
}

// BucketNames maps relations onto the chain bucket keys callers see.
var BucketNames = map[store.Relation]string{
	store.RelCausedBy:    "by_cause",
	store.RelEnabledBy:   "by_enabled",
	store.RelSupersedes:  "by_supersedes",
	store.RelContradicts: "by_contradicts",
	store.RelDerivedFrom: "by_derived_from",
	store.RelSupports:    "by_supports",
}

// Chain runs a bounded breadth-first traversal from memoryID. Cycles are
// detected by node revisit and ignored; max_depth_reached flags a truncated
// frontier.
func (g *Graph) Chain(memoryID int64, opts ChainOptions) (*Chain, error) {
	if _, err := g.store.GetMemory(memoryID); err != nil {
		return nil, err
	}
	depth := opts.MaxDepth
	if depth <= 0 || depth > MaxDepth {
		depth = MaxDepth
	}
	dir := opts.Direction
	if dir == "" {
		dir = DirBoth
	}
	wantRel := make(map[store.Relation]bool, len(opts.Relations))
	for _, r := range opts.Relations {
		rel, err := store.ParseRelation(r)
		if err != nil {
			return nil, engerrors.InvalidParam("relations", err.Error())
		}
		wantRel[rel] = true
	}

	chain := &Chain{
		RootID:  memoryID,
		Buckets: make(map[store.Relation][]*store.CausalEdge),
	}
	visited := map[int64]bool{memoryID: true}
	seenEdge := map[int64]bool{}
	frontier := []int64{memoryID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			edges, err := g.incident(id, dir)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if len(wantRel) > 0 && !wantRel[e.Relation] {
					continue
				}
				if !seenEdge[e.ID] {
					seenEdge[e.ID] = true
					chain.All = append(chain.All, e)
					chain.Buckets[e.Relation] = append(chain.Buckets[e.Relation], e)
				}
				for _, endpoint := range []int64{e.SourceID, e.TargetID} {
					if !visited[endpoint] {
						visited[endpoint] = true
						next = append(next, endpoint)
					}
				}
			}
		}
		frontier = next
	}
	chain.MaxDepthReached = len(frontier) > 0
	return chain, nil
}

func (g *Graph) incident(id int64, dir Direction) ([]*store.CausalEdge, error) {
	var edges []*store.CausalEdge
	if dir == DirOutgoing || dir == DirBoth {
		out, err := g.store.EdgesFrom(id)
		if err != nil {
			return nil, err
		}
		edges = append(edges, out...)
	}
	if dir == DirIncoming || dir == DirBoth {
		in, err := g.store.EdgesTo(id)
		if err != nil {
			return nil, err
		}
		edges = append(edges, in...)
	}
	return edges, nil
}

// Stats summarizes graph coverage.
type Stats struct {
	TotalEdges          int                    `json:"total_edges"`
	TotalMemories       int                    `json:"total_memories"`
	LinkedMemories      int                    `json:"linked_memories"`
	LinkCoveragePercent float64                `json:"link_coverage_percent"`
	ByRelation          map[store.Relation]int `json:"by_relation"`
}

// Stats computes edge counts and the share of memories that participate in
// at least one edge.
func (g *Graph) Stats() (*Stats, error) {
	byRel, err := g.store.EdgeCountsByRelation()
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range byRel {
		total += n
	}
	memories, err := g.store.CountMemories()
	if err != nil {
		return nil, err
	}
	linked, err := g.store.ConnectedMemoryIDs()
	if err != nil {
		return nil, err
	}
	st := &Stats{
		TotalEdges:     total,
		TotalMemories:  memories,
		LinkedMemories: len(linked),
		ByRelation:     byRel,
	}
	if memories > 0 {
		st.LinkCoveragePercent = float64(len(linked)) / float64(memories) * 100
	}
	return st, nil
}

// Orphans returns edges whose endpoints no longer resolve. With foreign keys
// on these only exist in databases written by older builds.
func (g *Graph) Orphans() ([]*store.CausalEdge, error) {
	edges, err := g.store.AllEdges()
	if err != nil {
		return nil, err
	}
	var orphans []*store.CausalEdge
	for _, e := range edges {
		if _, err := g.store.GetMemory(e.SourceID); err != nil {
			orphans = append(orphans, e)
			continue
		}
		if _, err := g.store.GetMemory(e.TargetID); err != nil {
			orphans = append(orphans, e)
		}
	}
	return orphans, nil
}
