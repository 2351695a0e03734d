package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/engramhq/engram/internal/causal"
	"github.com/engramhq/engram/internal/checkpoint"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/embed"
	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/index"
	"github.com/engramhq/engram/internal/learning"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/wm"
	"github.com/engramhq/engram/pkg/version"
)

// ServerName is the MCP implementation name advertised to clients.
const ServerName = "engram"

// Deps carries the wired components the dispatcher adapts.
type Deps struct {
	Store       *store.Store
	Engine      *search.Engine
	Indexer     *index.Indexer
	Working     *wm.Manager
	Learning    *learning.Tracker
	Causal      *causal.Graph
	Checkpoints *checkpoint.Manager
	Provider    embed.Provider
	Config      *config.Config
	Logger      *slog.Logger
}

// rawHandler is the transport-independent form of a tool: JSON args in,
// envelope out. The CLI and the tests dispatch through these directly.
type rawHandler func(ctx context.Context, args json.RawMessage) Envelope

// Server bridges MCP clients with the memory engine.
type Server struct {
	mcp    *mcpsdk.Server
	deps   Deps
	logger *slog.Logger
	tools  map[string]rawHandler
	now    func() time.Time
}

// NewServer creates the dispatcher and registers every tool.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		tools:  make(map[string]rawHandler),
		now:    time.Now,
	}
	s.mcp = mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: ServerName, Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcpsdk.Server { return s.mcp }

// ToolNames lists every registered tool, for diagnostics.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

// CallTool dispatches one call by name with raw JSON arguments. Unknown
// tools get a NOT_FOUND envelope rather than a protocol error.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) Envelope {
	h, ok := s.tools[name]
	if !ok {
		return envelope(name, s.now(), "", nil, nil,
			engerrors.NotFound("tool", name))
	}
	return h(ctx, args)
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting",
		slog.String("name", ServerName),
		slog.String("version", version.Version),
		slog.Int("tools", len(s.tools)))
	err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}

// register wires one typed tool into both the SDK server and the raw
// dispatch table. The handler returns summary, data, and hints; register
// wraps them into the envelope with timing and error mapping.
func register[In any](s *Server, name, desc string, fn func(context.Context, In) (string, any, []string, error)) {
	run := func(ctx context.Context, in In) Envelope {
		started := s.now()
		requestID := uuid.NewString()[:8]
		summary, data, hints, err := fn(ctx, in)
		if err != nil {
			s.logger.Warn("tool failed",
				slog.String("request_id", requestID),
				slog.String("tool", name),
				slog.String("code", engerrors.Code(err)),
				slog.String("error", err.Error()))
		} else {
			s.logger.Debug("tool completed",
				slog.String("request_id", requestID),
				slog.String("tool", name),
				slog.Duration("duration", time.Since(started)))
		}
		return envelope(name, started, summary, data, hints, err)
	}

	s.tools[name] = func(ctx context.Context, args json.RawMessage) Envelope {
		var in In
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return envelope(name, s.now(), "", nil, nil,
					engerrors.InvalidParam("args", err.Error()))
			}
		}
		return run(ctx, in)
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{Name: name, Description: desc},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Envelope, error) {
			return nil, run(ctx, in), nil
		})
}

func (s *Server) registerTools() {
	register(s, "memory_search",
		"Retrieve memories by hybrid semantic and keyword search. Supports multi-concept intersection, anchor projection, and folder scoping.",
		s.handleMemorySearch)
	register(s, "memory_match_triggers",
		"Return memories whose trigger phrases fire on a prompt. Fast lexical path, no embedding calls.",
		s.handleMatchTriggers)
	register(s, "memory_save",
		"Index one memory file: parse, embed, run the prediction-error gate, and commit the resulting action.",
		s.handleMemorySave)
	register(s, "memory_update",
		"Update fields of an existing memory in place. Content changes re-embed.",
		s.handleMemoryUpdate)
	register(s, "memory_delete",
		"Delete one memory by id, or bulk-delete a spec folder (requires confirm=true; an automatic checkpoint is taken first).",
		s.handleMemoryDelete)
	register(s, "memory_list",
		"List memories, optionally filtered by spec folder and importance tier.",
		s.handleMemoryList)
	register(s, "memory_stats",
		"Store-wide statistics: counts by tier and embedding status, vector index size, causal coverage.",
		s.handleMemoryStats)
	register(s, "memory_health",
		"Health report: store integrity, embedder readiness, profile, and last scan time.",
		s.handleMemoryHealth)
	register(s, "memory_validate",
		"Parse-only dry run of a memory file. Returns extracted fields and warnings without writing.",
		s.handleMemoryValidate)
	register(s, "memory_index_scan",
		"Scan the memory roots and index changed files. Subject to the scan cooldown unless forced.",
		s.handleIndexScan)
	register(s, "memory_context",
		"Intent-aware context retrieval. Routes to the right retrieval strategy by mode (auto, quick, deep, focused, resume) with mode-specific budgets.",
		s.handleMemoryContext)
	register(s, "checkpoint_create",
		"Create a named snapshot of memories and causal edges, optionally scoped to a spec folder.",
		s.handleCheckpointCreate)
	register(s, "checkpoint_list",
		"List checkpoints, newest first.",
		s.handleCheckpointList)
	register(s, "checkpoint_restore",
		"Restore a checkpoint. With clear_existing the scoped subset is replaced; otherwise the snapshot merges over live rows.",
		s.handleCheckpointRestore)
	register(s, "checkpoint_delete",
		"Delete a checkpoint by name.",
		s.handleCheckpointDelete)
	register(s, "task_preflight",
		"Record the start-of-task self-assessment (knowledge, uncertainty, context, known gaps).",
		s.handleTaskPreflight)
	register(s, "task_postflight",
		"Close out a task: record the end-of-task assessment and compute the learning index.",
		s.handleTaskPostflight)
	register(s, "memory_get_learning_history",
		"Learning records with aggregate statistics over completed tasks.",
		s.handleLearningHistory)
	register(s, "memory_causal_link",
		"Create a typed causal edge between two memories.",
		s.handleCausalLink)
	register(s, "memory_causal_unlink",
		"Remove a causal edge by id.",
		s.handleCausalUnlink)
	register(s, "memory_causal_stats",
		"Causal graph statistics, or the bounded causal chain of one memory when memory_id is given.",
		s.handleCausalStats)
	register(s, "memory_drift_why",
		"Recent prediction-error gate decisions for a folder, explaining why memories were reinforced, updated, or superseded.",
		s.handleDriftWhy)
}
