package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/store"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := store.Open(store.Options{Dir: t.TempDir(), ProfileSlug: "learn", Dim: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestIndexFormula(t *testing.T) {
	// 0.40*50 + 0.35*60 + 0.25*50 = 20 + 21 + 12.5 = 53.5
	assert.Equal(t, 53.5, Index(50, 60, 50))
	// Rounded to two decimals.
	assert.Equal(t, 0.33, Index(0.5, 0.25, 0.1))
	// Negative regression stays negative.
	assert.Equal(t, -20.0, Index(-50, 0, 0))
}

func TestInterpretBuckets(t *testing.T) {
	assert.Equal(t, InterpSignificant, Interpret(40))
	assert.Equal(t, InterpModerate, Interpret(15))
	assert.Equal(t, InterpIncremental, Interpret(5))
	assert.Equal(t, InterpExecution, Interpret(0))
	assert.Equal(t, InterpRegression, Interpret(-0.01))
}

func TestPreflightPostflightLifecycle(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Preflight("specs/auth", "T-1", "sess", Scores{Knowledge: 30, Uncertainty: 70, Context: 20}, []string{"token rotation"})
	require.NoError(t, err)

	rec, err := tr.Postflight("specs/auth", "T-1", Scores{Knowledge: 80, Uncertainty: 20, Context: 60}, []string{"token rotation"}, nil)
	require.NoError(t, err)

	assert.Equal(t, store.PhaseComplete, rec.Phase)
	assert.Equal(t, 50.0, rec.DeltaKnowledge)
	assert.Equal(t, 50.0, rec.DeltaUncertainty)
	assert.Equal(t, 40.0, rec.DeltaContext)
	// 0.40*50 + 0.35*50 + 0.25*40 = 47.5
	assert.Equal(t, 47.5, rec.LearningIndex)
	assert.Equal(t, InterpSignificant, Interpret(rec.LearningIndex))
}

func TestPostflightWithoutPreflightFails(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Postflight("specs/auth", "ghost", Scores{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, engerrors.CodeNotFound, engerrors.Code(err))
}

func TestPostflightOnlyOnce(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Preflight("specs/auth", "T-1", "", Scores{Knowledge: 10, Uncertainty: 50, Context: 10}, nil)
	require.NoError(t, err)
	_, err = tr.Postflight("specs/auth", "T-1", Scores{Knowledge: 20, Uncertainty: 40, Context: 20}, nil, nil)
	require.NoError(t, err)

	_, err = tr.Postflight("specs/auth", "T-1", Scores{Knowledge: 99, Uncertainty: 1, Context: 99}, nil, nil)
	require.Error(t, err)
}

func TestPreflightReplacesEarlierPreflight(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Preflight("specs/auth", "T-1", "", Scores{Knowledge: 10, Uncertainty: 90, Context: 10}, nil)
	require.NoError(t, err)
	_, err = tr.Preflight("specs/auth", "T-1", "", Scores{Knowledge: 40, Uncertainty: 60, Context: 30}, nil)
	require.NoError(t, err)

	rec, err := tr.Postflight("specs/auth", "T-1", Scores{Knowledge: 50, Uncertainty: 50, Context: 40}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.DeltaKnowledge)
}

func TestScoreValidation(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Preflight("specs/auth", "T-1", "", Scores{Knowledge: 101}, nil)
	require.Error(t, err)
	_, err = tr.Preflight("specs/auth", "T-1", "", Scores{Uncertainty: -1}, nil)
	require.Error(t, err)
	_, err = tr.Preflight("", "T-1", "", Scores{}, nil)
	require.Error(t, err)
	assert.Equal(t, engerrors.CodeMissingRequiredParam, engerrors.Code(err))
}

func TestHistoryAggregates(t *testing.T) {
	tr := newTracker(t)
	for i, task := range []string{"T-1", "T-2"} {
		_, err := tr.Preflight("specs/auth", task, "", Scores{Knowledge: 20, Uncertainty: 60, Context: 20}, nil)
		require.NoError(t, err)
		post := Scores{Knowledge: 60 + 10*i, Uncertainty: 30, Context: 40}
		_, err = tr.Postflight("specs/auth", task, post, nil, nil)
		require.NoError(t, err)
	}
	// Incomplete record is excluded from aggregates.
	_, err := tr.Preflight("specs/auth", "T-3", "", Scores{Knowledge: 1, Uncertainty: 1, Context: 1}, nil)
	require.NoError(t, err)

	rows, sum, err := tr.History(HistoryOptions{SpecFolder: "specs/auth"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 2, sum.Completed)
	assert.Greater(t, sum.MeanIndex, 0.0)
	assert.LessOrEqual(t, sum.MinIndex, sum.MaxIndex)

	onlyDone, _, err := tr.History(HistoryOptions{SpecFolder: "specs/auth", OnlyComplete: true})
	require.NoError(t, err)
	assert.Len(t, onlyDone, 2)
}

func TestHistoryLimitAppliesAfterFilters(t *testing.T) {
	tr := newTracker(t)
	// Two completed tasks buried under newer incomplete preflights.
	for _, task := range []string{"T-1", "T-2"} {
		_, err := tr.Preflight("specs/auth", task, "sess-a", Scores{Knowledge: 20, Uncertainty: 60, Context: 20}, nil)
		require.NoError(t, err)
		_, err = tr.Postflight("specs/auth", task, Scores{Knowledge: 60, Uncertainty: 30, Context: 40}, nil, nil)
		require.NoError(t, err)
	}
	for _, task := range []string{"T-3", "T-4", "T-5"} {
		_, err := tr.Preflight("specs/auth", task, "sess-b", Scores{Knowledge: 1, Uncertainty: 1, Context: 1}, nil)
		require.NoError(t, err)
	}

	// A capped complete-only query must see past the incomplete rows.
	rows, sum, err := tr.History(HistoryOptions{SpecFolder: "specs/auth", OnlyComplete: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, sum.Completed)

	// Session filtering also happens before the limit.
	rows, _, err = tr.History(HistoryOptions{SessionID: "sess-a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "sess-a", r.SessionID)
	}
}
