// Package learning tracks per-task epistemic state: a preflight
// self-assessment before work starts, a postflight after it ends, and the
// learning index computed from the deltas.
package learning

import (
	"fmt"
	"math"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/store"
)

// Learning-index delta weights. Knowledge gained counts most, uncertainty
// burned down next, context acquired least.
const (
	WeightKnowledge   = 0.40
	WeightUncertainty = 0.35
	WeightContext     = 0.25
)

// Interpretation buckets for a learning index.
const (
	InterpSignificant = "significant_learning"
	InterpModerate    = "moderate_learning"
	InterpIncremental = "incremental_learning"
	InterpExecution   = "execution_focused"
	InterpRegression  = "regression"
)

// Scores is one side of a self-assessment, each value in [0,100].
type Scores struct {
	Knowledge   int `json:"knowledge"`
	Uncertainty int `json:"uncertainty"`
	Context     int `json:"context"`
}

func (s Scores) validate() error {
	for name, v := range map[string]int{
		"knowledge": s.Knowledge, "uncertainty": s.Uncertainty, "context": s.Context,
	} {
		if v < 0 || v > 100 {
			return engerrors.InvalidParam(name+"_score", fmt.Sprintf("%d is outside [0,100]", v))
		}
	}
	return nil
}

// Tracker runs the preflight/postflight lifecycle against the store.
type Tracker struct {
	store *store.Store
}

// New creates a tracker.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// Preflight records the start-of-task assessment. Calling it again for the
// same task replaces the earlier preflight.
func (t *Tracker) Preflight(specFolder, taskID, sessionID string, scores Scores, gaps []string) (*store.LearningRecord, error) {
	if specFolder == "" {
		return nil, engerrors.MissingParam("spec_folder")
	}
	if taskID == "" {
		return nil, engerrors.MissingParam("task_id")
	}
	if err := scores.validate(); err != nil {
		return nil, err
	}
	rec := &store.LearningRecord{
		SpecFolder:     specFolder,
		TaskID:         taskID,
		SessionID:      sessionID,
		PreKnowledge:   scores.Knowledge,
		PreUncertainty: scores.Uncertainty,
		PreContext:     scores.Context,
		KnowledgeGaps:  gaps,
	}
	if _, err := t.store.InsertPreflight(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Postflight closes out a task: it requires a matching preflight, computes
// the deltas and learning index, and transitions the record to complete.
func (t *Tracker) Postflight(specFolder, taskID string, scores Scores, gapsClosed, newGaps []string) (*store.LearningRecord, error) {
	if specFolder == "" {
		return nil, engerrors.MissingParam("spec_folder")
	}
	if taskID == "" {
		return nil, engerrors.MissingParam("task_id")
	}
	if err := scores.validate(); err != nil {
		return nil, err
	}

	rec, err := t.store.GetLearning(specFolder, taskID)
	if err != nil {
		return nil, err
	}
	if rec.Phase == store.PhaseComplete {
		return nil, engerrors.InvalidParam("task_id",
			"task already completed postflight").
			WithRecovery("each task transitions to complete exactly once",
				"use a new task_id for follow-up work")
	}

	rec.PostKnowledge = scores.Knowledge
	rec.PostUncertainty = scores.Uncertainty
	rec.PostContext = scores.Context
	rec.DeltaKnowledge = float64(scores.Knowledge - rec.PreKnowledge)
	rec.DeltaUncertainty = float64(rec.PreUncertainty - scores.Uncertainty)
	rec.DeltaContext = float64(scores.Context - rec.PreContext)
	rec.LearningIndex = Index(rec.DeltaKnowledge, rec.DeltaUncertainty, rec.DeltaContext)
	rec.GapsClosed = gapsClosed
	rec.NewGapsDiscovered = newGaps

	if err := t.store.CompleteLearning(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Index computes the weighted learning index, rounded to two decimals.
// Negative values are legitimate and mean the task left the caller more
// confused than it started.
func Index(deltaK, deltaU, deltaC float64) float64 {
	raw := WeightKnowledge*deltaK + WeightUncertainty*deltaU + WeightContext*deltaC
	return math.Round(raw*100) / 100
}

// Interpret buckets a learning index for human consumption.
func Interpret(index float64) string {
	switch {
	case index >= 40:
		return InterpSignificant
	case index >= 15:
		return InterpModerate
	case index >= 5:
		return InterpIncremental
	case index >= 0:
		return InterpExecution
	default:
		return InterpRegression
	}
}

// HistoryOptions filters a history query.
type HistoryOptions struct {
	SpecFolder   string
	SessionID    string
	OnlyComplete bool
	Limit        int
}

// Summary aggregates a history result set.
type Summary struct {
	Total            int     `json:"total"`
	Completed        int     `json:"completed"`
	MeanIndex        float64 `json:"mean_learning_index"`
	MinIndex         float64 `json:"min_learning_index"`
	MaxIndex         float64 `json:"max_learning_index"`
	MeanDeltaK       float64 `json:"mean_delta_knowledge"`
	MeanDeltaU       float64 `json:"mean_delta_uncertainty"`
	MeanDeltaC       float64 `json:"mean_delta_context"`
}

// History returns matching records, newest first, with aggregate stats over
// the completed subset. Filtering happens in the store query so the limit
// applies after the filters.
func (t *Tracker) History(opts HistoryOptions) ([]*store.LearningRecord, *Summary, error) {
	out, err := t.store.LearningHistory(store.LearningFilter{
		SpecFolder:   opts.SpecFolder,
		SessionID:    opts.SessionID,
		OnlyComplete: opts.OnlyComplete,
		Limit:        opts.Limit,
	})
	if err != nil {
		return nil, nil, err
	}

	sum := &Summary{Total: len(out), MinIndex: math.Inf(1), MaxIndex: math.Inf(-1)}
	for _, r := range out {
		if r.Phase != store.PhaseComplete {
			continue
		}
		sum.Completed++
		sum.MeanIndex += r.LearningIndex
		sum.MeanDeltaK += r.DeltaKnowledge
		sum.MeanDeltaU += r.DeltaUncertainty
		sum.MeanDeltaC += r.DeltaContext
		sum.MinIndex = math.Min(sum.MinIndex, r.LearningIndex)
		sum.MaxIndex = math.Max(sum.MaxIndex, r.LearningIndex)
	}
	if sum.Completed > 0 {
		n := float64(sum.Completed)
		sum.MeanIndex = math.Round(sum.MeanIndex/n*100) / 100
		sum.MeanDeltaK /= n
		sum.MeanDeltaU /= n
		sum.MeanDeltaC /= n
	} else {
		sum.MinIndex, sum.MaxIndex = 0, 0
	}
	return out, sum, nil
}
