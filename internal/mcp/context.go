package mcp

import (
	"context"
	"fmt"
	"strings"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/wm"
)

// Context modes.
const (
	ModeAuto    = "auto"
	ModeQuick   = "quick"
	ModeDeep    = "deep"
	ModeFocused = "focused"
	ModeResume  = "resume"
)

// Intents recognized by the auto router.
const (
	IntentAddFeature    = "add_feature"
	IntentFixBug        = "fix_bug"
	IntentRefactor      = "refactor"
	IntentSecurityAudit = "security_audit"
	IntentUnderstand    = "understand"
)

// resumeAnchors are pinned in resume mode so a fresh session lands on the
// handoff sections first.
var resumeAnchors = []string{"state", "next-steps", "summary", "blockers"}

// Per-mode result budgets.
var modeBudgets = map[string]int{
	ModeQuick:   5,
	ModeFocused: 8,
	ModeDeep:    20,
	ModeResume:  10,
}

// intentMarkers drive lexical intent classification. First bucket with a
// marker hit wins; order encodes precedence.
var intentMarkers = []struct {
	intent  string
	markers []string
}{
	{IntentFixBug, []string{"fix", "bug", "broken", "error", "fails", "failing", "crash", "regression", "debug"}},
	{IntentSecurityAudit, []string{"security", "vulnerability", "audit", "cve", "exploit", "injection", "auth bypass"}},
	{IntentRefactor, []string{"refactor", "restructure", "clean up", "cleanup", "simplify", "extract", "rename"}},
	{IntentAddFeature, []string{"add", "implement", "build", "create", "support", "introduce", "new feature"}},
}

// classifyIntent buckets a prompt lexically. Anything unmatched is an
// understanding query.
func classifyIntent(prompt string) string {
	p := strings.ToLower(prompt)
	for _, bucket := range intentMarkers {
		for _, marker := range bucket.markers {
			if strings.Contains(p, marker) {
				return bucket.intent
			}
		}
	}
	return IntentUnderstand
}

// modeForIntent maps a classified intent onto a retrieval mode.
func modeForIntent(intent string) string {
	switch intent {
	case IntentFixBug:
		return ModeFocused
	case IntentSecurityAudit, IntentAddFeature, IntentRefactor:
		return ModeDeep
	default:
		return ModeQuick
	}
}

// MemoryContextInput is the memory_context argument shape.
type MemoryContextInput struct {
	Input      string   `json:"input" jsonschema:"the prompt or task description to retrieve context for"`
	Mode       string   `json:"mode,omitempty" jsonschema:"auto, quick, deep, focused, or resume; default auto"`
	Intent     string   `json:"intent,omitempty" jsonschema:"override the classified intent"`
	SpecFolder string   `json:"spec_folder,omitempty"`
	Limit      int      `json:"limit,omitempty" jsonschema:"override the mode budget"`
	Concepts   []string `json:"concepts,omitempty" jsonschema:"explicit concepts for focused mode"`
	SessionID  string   `json:"session_id,omitempty" jsonschema:"advance this session's working memory and include its projection"`
	Turn       int      `json:"turn,omitempty" jsonschema:"conversation turn number for working-memory decay"`
}

// ContextOut is the memory_context payload.
type ContextOut struct {
	Mode          string          `json:"mode"`
	Intent        string          `json:"intent,omitempty"`
	Results       []MemoryOut     `json:"results"`
	WorkingMemory []wm.Projection `json:"working_memory,omitempty"`
}

func (s *Server) handleMemoryContext(ctx context.Context, in MemoryContextInput) (string, any, []string, error) {
	if in.Input == "" {
		return "", nil, nil, engerrors.MissingParam("input")
	}

	mode := in.Mode
	if mode == "" {
		mode = ModeAuto
	}
	intent := in.Intent
	if mode == ModeAuto {
		if intent == "" {
			intent = classifyIntent(in.Input)
		}
		mode = modeForIntent(intent)
	}
	budget, ok := modeBudgets[mode]
	if !ok {
		return "", nil, nil, engerrors.InvalidParam("mode",
			fmt.Sprintf("%q is not one of auto, quick, deep, focused, resume", in.Mode))
	}
	if in.Limit > 0 {
		budget = in.Limit
	}

	// Context assembly always surfaces applicable constitutional rules.
	opts := search.Options{SpecFolder: in.SpecFolder, Limit: budget, IncludeConstitutional: true}
	var results []search.Result
	var err error
	switch mode {
	case ModeQuick:
		// Trigger phrases only, no embedding round trip.
		results, err = s.deps.Engine.Triggered(in.Input, opts)
	case ModeFocused:
		concepts := in.Concepts
		if len(concepts) >= search.MinConcepts && len(concepts) <= search.MaxConcepts {
			results, err = s.deps.Engine.MultiConcept(ctx, concepts, opts)
		} else {
			results, err = s.deps.Engine.Search(ctx, in.Input, opts)
		}
	case ModeResume:
		// Handoff context must not fade with age.
		opts.DisableDecay = true
		opts.AnchorIDs = resumeAnchors
		results, err = s.deps.Engine.Search(ctx, in.Input, opts)
	default: // deep
		results, err = s.deps.Engine.Search(ctx, in.Input, opts)
	}
	if err != nil {
		return "", nil, nil, err
	}
	s.markRetrieved(results)

	out := ContextOut{
		Mode:    mode,
		Intent:  intent,
		Results: toMemoryOuts(results),
	}
	if in.SessionID != "" {
		entries, werr := s.deps.Working.Advance(in.SessionID, in.Turn, in.Input)
		if werr != nil {
			return "", nil, nil, werr
		}
		out.WorkingMemory = wm.Project(entries)
	}

	var hints []string
	if intent != "" {
		hints = append(hints, fmt.Sprintf("classified intent %s, routed to %s mode", intent, mode))
	}
	if mode == ModeResume && len(results) == 0 {
		hints = append(hints, "no handoff memories found; save one with anchors state, next-steps, summary, blockers")
	}
	return fmt.Sprintf("%d context memories (%s mode)", len(results), mode), out, hints, nil
}
