package mcp

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/causal"
	engerrors "github.com/engramhq/engram/internal/errors"
)

// CheckpointCreateInput is the checkpoint_create argument shape.
type CheckpointCreateInput struct {
	Name       string `json:"name" jsonschema:"checkpoint name"`
	SpecFolder string `json:"spec_folder,omitempty" jsonschema:"scope the snapshot to one folder"`
	Metadata   string `json:"metadata,omitempty" jsonschema:"free-form metadata stored with the checkpoint"`
}

func (s *Server) handleCheckpointCreate(_ context.Context, in CheckpointCreateInput) (string, any, []string, error) {
	cp, err := s.deps.Checkpoints.Create(in.Name, in.SpecFolder, in.Metadata)
	if err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("checkpoint %q created", cp.Name), cp, nil, nil
}

type checkpointListInput struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) handleCheckpointList(_ context.Context, in checkpointListInput) (string, any, []string, error) {
	list, err := s.deps.Checkpoints.List()
	if err != nil {
		return "", nil, nil, err
	}
	if in.Limit > 0 && len(list) > in.Limit {
		list = list[:in.Limit]
	}
	return fmt.Sprintf("%d checkpoints", len(list)),
		map[string]any{"checkpoints": list}, nil, nil
}

// CheckpointRestoreInput is the checkpoint_restore argument shape.
type CheckpointRestoreInput struct {
	Name          string `json:"name"`
	ClearExisting bool   `json:"clear_existing,omitempty" jsonschema:"replace the scoped subset instead of merging"`
}

func (s *Server) handleCheckpointRestore(_ context.Context, in CheckpointRestoreInput) (string, any, []string, error) {
	if in.Name == "" {
		return "", nil, nil, engerrors.MissingParam("name")
	}
	report, err := s.deps.Checkpoints.Restore(in.Name, in.ClearExisting)
	if err != nil {
		return "", nil, nil, err
	}
	s.deps.Store.BumpSentinel()
	var hints []string
	if !in.ClearExisting && report.MemoriesRestored > 0 {
		hints = append(hints, "merge restore may leave near-duplicates when file paths diverge; memory_health reports them")
	}
	return fmt.Sprintf("restored %d memories, %d edges from %q",
		report.MemoriesRestored, report.EdgesRestored, in.Name), report, hints, nil
}

// CheckpointDeleteInput is the checkpoint_delete argument shape.
type CheckpointDeleteInput struct {
	Name string `json:"name"`
}

func (s *Server) handleCheckpointDelete(_ context.Context, in CheckpointDeleteInput) (string, any, []string, error) {
	if in.Name == "" {
		return "", nil, nil, engerrors.MissingParam("name")
	}
	if err := s.deps.Checkpoints.Delete(in.Name); err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("checkpoint %q deleted", in.Name), nil, nil, nil
}

// CausalLinkInput is the memory_causal_link argument shape.
type CausalLinkInput struct {
	SourceID int64   `json:"source_id"`
	TargetID int64   `json:"target_id"`
	Relation string  `json:"relation" jsonschema:"one of caused_by, enabled_by, supersedes, contradicts, derived_from, supports"`
	Strength float64 `json:"strength,omitempty" jsonschema:"edge strength in [0,1], default 1"`
	Evidence string  `json:"evidence,omitempty"`
}

func (s *Server) handleCausalLink(_ context.Context, in CausalLinkInput) (string, any, []string, error) {
	if in.SourceID == 0 {
		return "", nil, nil, engerrors.MissingParam("source_id")
	}
	if in.TargetID == 0 {
		return "", nil, nil, engerrors.MissingParam("target_id")
	}
	strength := in.Strength
	if strength == 0 {
		strength = 1.0
	}
	edge, err := s.deps.Causal.Link(in.SourceID, in.TargetID, in.Relation, strength, in.Evidence)
	if err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("linked %d -%s-> %d", in.SourceID, in.Relation, in.TargetID), edge, nil, nil
}

// CausalUnlinkInput is the memory_causal_unlink argument shape.
type CausalUnlinkInput struct {
	EdgeID int64 `json:"edge_id"`
}

func (s *Server) handleCausalUnlink(_ context.Context, in CausalUnlinkInput) (string, any, []string, error) {
	if in.EdgeID == 0 {
		return "", nil, nil, engerrors.MissingParam("edge_id")
	}
	if err := s.deps.Causal.Unlink(in.EdgeID); err != nil {
		return "", nil, nil, err
	}
	return fmt.Sprintf("edge %d removed", in.EdgeID), nil, nil, nil
}

// CausalStatsInput is the memory_causal_stats argument shape. With a
// memory_id the response is that memory's bounded causal chain instead of
// graph-wide statistics.
type CausalStatsInput struct {
	MemoryID  int64    `json:"memory_id,omitempty"`
	MaxDepth  int      `json:"max_depth,omitempty" jsonschema:"traversal bound, capped at 10"`
	Direction string   `json:"direction,omitempty" jsonschema:"outgoing, incoming, or both"`
	Relations []string `json:"relations,omitempty" jsonschema:"follow only these relation types"`
}

func (s *Server) handleCausalStats(_ context.Context, in CausalStatsInput) (string, any, []string, error) {
	if in.MemoryID == 0 {
		stats, err := s.deps.Causal.Stats()
		if err != nil {
			return "", nil, nil, err
		}
		var hints []string
		if stats.TotalMemories > 0 && stats.LinkCoveragePercent < 60 {
			hints = append(hints,
				fmt.Sprintf("link coverage is %.0f%%; linking related memories improves focused retrieval", stats.LinkCoveragePercent))
		}
		return fmt.Sprintf("%d edges across %d memories (%.0f%% coverage)",
			stats.TotalEdges, stats.TotalMemories, stats.LinkCoveragePercent), stats, hints, nil
	}

	chain, err := s.deps.Causal.Chain(in.MemoryID, causal.ChainOptions{
		MaxDepth:  in.MaxDepth,
		Direction: causal.Direction(in.Direction),
		Relations: in.Relations,
	})
	if err != nil {
		return "", nil, nil, err
	}

	buckets := make(map[string]any, len(chain.Buckets))
	for rel, edges := range chain.Buckets {
		buckets[causal.BucketNames[rel]] = edges
	}
	data := map[string]any{
		"root_id":           chain.RootID,
		"buckets":           buckets,
		"edge_count":        len(chain.All),
		"max_depth_reached": chain.MaxDepthReached,
	}
	var hints []string
	if chain.MaxDepthReached {
		hints = append(hints, "chain truncated at the depth bound; raise max_depth up to 10 to see more")
	}
	return fmt.Sprintf("%d edges in the chain of memory %d", len(chain.All), in.MemoryID), data, hints, nil
}
