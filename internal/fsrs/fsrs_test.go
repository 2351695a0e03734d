package fsrs

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrievabilityDecaysOverTime(t *testing.T) {
	now := time.Now()
	st := State{Stability: 5, Difficulty: 5, LastReview: now}

	r0 := Retrievability(st, now)
	r1 := Retrievability(st, now.Add(24*time.Hour))
	r7 := Retrievability(st, now.Add(7*24*time.Hour))

	assert.InDelta(t, 1.0, r0, 1e-9)
	assert.Greater(t, r1, r7)
	assert.InDelta(t, math.Exp(-1.0/5), r1, 1e-9)
}

func TestRetrievabilityNeverReviewed(t *testing.T) {
	st := State{Stability: 1, Difficulty: 5}
	assert.Equal(t, 1.0, Retrievability(st, time.Now()))
}

func TestRetrievabilityClampsStability(t *testing.T) {
	now := time.Now()
	st := State{Stability: 0, LastReview: now.Add(-24 * time.Hour)}
	// Stability floors at 0.1, so one day out r = e^-10, not a division blowup.
	assert.InDelta(t, math.Exp(-10), Retrievability(st, now), 1e-9)
}

func TestReviewGradeOrdering(t *testing.T) {
	now := time.Now()
	st := State{Stability: 2, Difficulty: 5, LastReview: now.Add(-48 * time.Hour)}

	forgot := Review(st, GradeForgot, now)
	hard := Review(st, GradeHard, now)
	good := Review(st, GradeGood, now)
	easy := Review(st, GradeEasy, now)

	assert.Less(t, forgot.Stability, st.Stability)
	assert.Greater(t, hard.Stability, st.Stability)
	assert.Greater(t, good.Stability, hard.Stability)
	assert.Greater(t, easy.Stability, good.Stability)

	assert.Greater(t, forgot.Difficulty, st.Difficulty)
	assert.Less(t, good.Difficulty, st.Difficulty)
}

func TestTestingEffectBonus(t *testing.T) {
	now := time.Now()
	fresh := State{Stability: 2, Difficulty: 5, LastReview: now}
	faded := State{Stability: 2, Difficulty: 5, LastReview: now.Add(-10 * 24 * time.Hour)}

	// Recalling a nearly-forgotten memory strengthens it more than
	// recalling a fresh one.
	freshGain := Review(fresh, GradeGood, now).Stability / fresh.Stability
	fadedGain := Review(faded, GradeGood, now).Stability / faded.Stability
	assert.Greater(t, fadedGain, freshGain)
}

func TestDifficultyStaysInRange(t *testing.T) {
	now := time.Now()
	st := State{Stability: 1, Difficulty: 9.8, LastReview: now}
	for i := 0; i < 10; i++ {
		st = Review(st, GradeForgot, now)
	}
	assert.Equal(t, 10.0, st.Difficulty)

	st.Difficulty = 1.2
	for i := 0; i < 10; i++ {
		st = Review(st, GradeEasy, now)
	}
	assert.Equal(t, 1.0, st.Difficulty)
}

func TestDueForReview(t *testing.T) {
	now := time.Now()
	st := State{Stability: 1, Difficulty: 5, LastReview: now.Add(-5 * 24 * time.Hour)}
	assert.True(t, DueForReview(st, now, 0.5))
	assert.False(t, DueForReview(State{Stability: 100, LastReview: now}, now, 0.5))
}

func TestParseGrade(t *testing.T) {
	for _, name := range []string{"forgot", "hard", "good", "easy"} {
		g, ok := ParseGrade(name)
		assert.True(t, ok)
		assert.Equal(t, name, g.String())
	}
	_, ok := ParseGrade("meh")
	assert.False(t, ok)
}
