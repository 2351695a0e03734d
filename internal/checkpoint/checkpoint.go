// Package checkpoint implements named logical snapshots of the memory store:
// memories, causal edges, and working-memory rows serialized to a JSON
// payload inside the database itself, restorable by replace or merge.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/store"
)

// payload is the serialized snapshot body.
type payload struct {
	Memories      []*store.Memory             `json:"memories"`
	Edges         []*store.CausalEdge         `json:"edges"`
	WorkingMemory []*store.WorkingMemoryEntry `json:"working_memory,omitempty"`
}

// Manager creates, lists, restores, and deletes checkpoints.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a manager.
func New(s *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger}
}

// Create snapshots the store under the given name. With a spec folder, only
// that folder's memories and their incident edges are captured.
func (m *Manager) Create(name, specFolder, metadata string) (*store.Checkpoint, error) {
	if name == "" {
		return nil, engerrors.MissingParam("name")
	}

	memories, err := m.scopedMemories(specFolder)
	if err != nil {
		return nil, err
	}
	inScope := make(map[int64]bool, len(memories))
	for _, mem := range memories {
		inScope[mem.ID] = true
	}

	allEdges, err := m.store.AllEdges()
	if err != nil {
		return nil, err
	}
	var edges []*store.CausalEdge
	for _, e := range allEdges {
		if inScope[e.SourceID] || inScope[e.TargetID] {
			edges = append(edges, e)
		}
	}

	wmRows, err := m.store.AllWorkingMemory()
	if err != nil {
		return nil, err
	}
	var working []*store.WorkingMemoryEntry
	for _, e := range wmRows {
		if inScope[e.MemoryID] {
			working = append(working, e)
		}
	}

	body, err := json.Marshal(payload{Memories: memories, Edges: edges, WorkingMemory: working})
	if err != nil {
		return nil, engerrors.Wrap(engerrors.CodeInternal, err)
	}
	if err := m.store.SaveCheckpoint(name, specFolder, metadata, string(body)); err != nil {
		return nil, err
	}
	m.logger.Info("checkpoint created",
		slog.String("name", name),
		slog.Int("memories", len(memories)),
		slog.Int("edges", len(edges)),
		slog.Int("working_memory", len(working)))
	cp, _, err := m.store.GetCheckpoint(name)
	return cp, err
}

// List returns checkpoint rows, newest first.
func (m *Manager) List() ([]*store.Checkpoint, error) {
	return m.store.ListCheckpoints()
}

// Delete removes a checkpoint by name.
func (m *Manager) Delete(name string) error {
	return m.store.DeleteCheckpoint(name)
}

// RestoreReport summarizes a restore.
type RestoreReport struct {
	Name                  string `json:"name"`
	MemoriesRestored      int    `json:"memories_restored"`
	EdgesRestored         int    `json:"edges_restored"`
	MemoriesCleared       int    `json:"memories_cleared"`
	WorkingMemoryRestored int    `json:"working_memory_restored"`
}

// Restore reinstates a checkpoint. With clearExisting, the scoped subset is
// deleted first; otherwise the snapshot merges over what is there, which may
// leave near-duplicates when paths collide.
func (m *Manager) Restore(name string, clearExisting bool) (*RestoreReport, error) {
	cp, body, err := m.store.GetCheckpoint(name)
	if err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, engerrors.Wrap(engerrors.CodeInternal, err)
	}

	report := &RestoreReport{Name: name}

	if clearExisting {
		existing, err := m.scopedMemories(cp.SpecFolder)
		if err != nil {
			return nil, err
		}
		for _, mem := range existing {
			if err := m.store.DeleteMemory(mem.ID); err != nil {
				return nil, err
			}
			report.MemoriesCleared++
		}
	}

	// Old IDs cannot be reused; the edge endpoints remap through this table.
	idMap := make(map[int64]int64, len(p.Memories))
	for _, mem := range p.Memories {
		oldID := mem.ID
		mem.ID = 0
		if !clearExisting {
			if dup, err := m.store.GetMemoryByPath(mem.FilePath); err == nil {
				// Merge keeps the live row and maps edges onto it.
				idMap[oldID] = dup.ID
				continue
			}
		}
		newID, err := m.store.InsertMemory(mem)
		if err != nil {
			return nil, err
		}
		idMap[oldID] = newID
		report.MemoriesRestored++
	}

	for _, e := range p.Edges {
		src, okSrc := idMap[e.SourceID]
		dst, okDst := idMap[e.TargetID]
		if !okSrc || !okDst {
			continue // endpoint was outside the snapshot scope
		}
		if _, err := m.store.InsertEdge(&store.CausalEdge{
			SourceID: src,
			TargetID: dst,
			Relation: e.Relation,
			Strength: e.Strength,
			Evidence: e.Evidence,
		}); err != nil {
			return nil, err
		}
		report.EdgesRestored++
	}

	var working []*store.WorkingMemoryEntry
	for _, e := range p.WorkingMemory {
		id, ok := idMap[e.MemoryID]
		if !ok {
			continue
		}
		working = append(working, &store.WorkingMemoryEntry{
			SessionID:         e.SessionID,
			MemoryID:          id,
			AttentionScore:    e.AttentionScore,
			LastTurnActivated: e.LastTurnActivated,
			LastDecayTurn:     e.LastDecayTurn,
		})
	}
	if err := m.store.UpsertWorkingMemoryBatch(working); err != nil {
		return nil, err
	}
	report.WorkingMemoryRestored = len(working)

	m.logger.Info("checkpoint restored",
		slog.String("name", name),
		slog.Int("memories", report.MemoriesRestored),
		slog.Int("edges", report.EdgesRestored),
		slog.Int("working_memory", report.WorkingMemoryRestored))
	return report, nil
}

// AutoName builds the checkpoint name used before bulk destructive
// operations.
func AutoName(now time.Time) string {
	return fmt.Sprintf("pre-cleanup-%s", now.UTC().Format("20060102T150405Z"))
}

// BulkDelete removes every memory in a spec folder after taking an automatic
// checkpoint. It returns the auto-checkpoint name and the delete count.
func (m *Manager) BulkDelete(specFolder string) (string, int, error) {
	if specFolder == "" {
		return "", 0, engerrors.MissingParam("spec_folder")
	}
	auto := AutoName(time.Now())
	if _, err := m.Create(auto, specFolder, `{"reason":"auto checkpoint before bulk delete"}`); err != nil {
		return "", 0, err
	}
	memories, err := m.scopedMemories(specFolder)
	if err != nil {
		return auto, 0, err
	}
	deleted := 0
	for _, mem := range memories {
		if err := m.store.DeleteMemory(mem.ID); err != nil {
			return auto, deleted, err
		}
		deleted++
	}
	return auto, deleted, nil
}

func (m *Manager) scopedMemories(specFolder string) ([]*store.Memory, error) {
	if specFolder == "" {
		return m.store.AllMemories()
	}
	return m.store.ListMemories(specFolder, 0)
}
