// Package fsrs implements a simplified spaced-repetition scheduler over
// memory stability and difficulty. Retrievability decays exponentially with
// time since the last review; each review nudges stability and difficulty by
// the review grade.
package fsrs

import (
	"math"
	"time"

	"github.com/engramhq/engram/internal/store"
)

// Grade is the outcome of a review.
type Grade int

const (
	// GradeForgot means the memory had to be re-derived from scratch.
	GradeForgot Grade = iota
	// GradeHard means it was recalled with effort or partially wrong.
	GradeHard
	// GradeGood means it was recalled correctly.
	GradeGood
	// GradeEasy means it was recalled instantly and confirmed in use.
	GradeEasy
)

// ParseGrade maps the wire strings onto grades.
func ParseGrade(s string) (Grade, bool) {
	switch s {
	case "forgot":
		return GradeForgot, true
	case "hard":
		return GradeHard, true
	case "good":
		return GradeGood, true
	case "easy":
		return GradeEasy, true
	}
	return 0, false
}

func (g Grade) String() string {
	switch g {
	case GradeForgot:
		return "forgot"
	case GradeHard:
		return "hard"
	case GradeGood:
		return "good"
	case GradeEasy:
		return "easy"
	}
	return "unknown"
}

// State is the scheduler state carried on each memory row.
type State struct {
	Stability  float64
	Difficulty float64
	LastReview time.Time
}

// Retrievability computes R = e^(-days/S) at time now. A memory that was
// never reviewed scores from its creation-time defaults, so new memories
// start near full strength.
func Retrievability(st State, now time.Time) float64 {
	s := math.Max(st.Stability, store.MinStability)
	if st.LastReview.IsZero() {
		return 1.0
	}
	days := now.Sub(st.LastReview).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / s)
}

// Review applies one graded review at time now and returns the new state.
// The testing-effect bonus rewards recalling a memory that had nearly
// faded: the lower the retrievability at review time, the larger the
// stability gain.
func Review(st State, g Grade, now time.Time) State {
	r := Retrievability(st, now)
	bonus := 1 + math.Max(0, 0.9-r)*0.5

	s := math.Max(st.Stability, store.MinStability)
	d := clampDifficulty(st.Difficulty)

	switch g {
	case GradeForgot:
		s = math.Max(store.MinStability, s*0.5)
		d = clampDifficulty(d + 1)
	case GradeHard:
		s = s * 1.2 * bonus
		d = clampDifficulty(d + 0.5)
	case GradeGood:
		s = s * 1.6 * bonus
		d = clampDifficulty(d - 0.3)
	case GradeEasy:
		s = s * 2.2 * bonus
		d = clampDifficulty(d - 0.8)
	}

	return State{
		Stability:  math.Max(s, store.MinStability),
		Difficulty: d,
		LastReview: now,
	}
}

// DueForReview reports whether retrievability has fallen below threshold.
func DueForReview(st State, now time.Time, threshold float64) bool {
	return Retrievability(st, now) < threshold
}

func clampDifficulty(d float64) float64 {
	if d < store.MinDifficulty {
		return store.MinDifficulty
	}
	if d > store.MaxDifficulty {
		return store.MaxDifficulty
	}
	return d
}
