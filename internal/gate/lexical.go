package gate

import (
	"fmt"
	"strings"
)

// LexicalPredicate detects contradictions by surface cues: negation
// asymmetry between the two texts and opposing directive pairs. It errs
// toward "no contradiction"; a false SUPERSEDE deprecates a memory that may
// still be right, while a false UPDATE merely merges two agreeing texts.
type LexicalPredicate struct{}

// NewLexicalPredicate creates the default contradiction detector.
func NewLexicalPredicate() *LexicalPredicate {
	return &LexicalPredicate{}
}

var negationMarkers = []string{
	"not ", "n't ", "no longer", "never ", "stopped ", "instead of",
	"deprecated", "replaced by", "do not", "don't", "avoid ",
}

// Directive pairs that flip meaning when swapped between the texts.
var opposingPairs = [][2]string{
	{"enable", "disable"},
	{"always", "never"},
	{"use", "avoid"},
	{"allow", "deny"},
	{"add", "remove"},
	{"sync", "async"},
	{"required", "optional"},
	{"increase", "decrease"},
}

// Contradicts reports whether incoming contradicts existing, with a short
// reason when it does.
func (p *LexicalPredicate) Contradicts(existing, incoming string) (bool, string) {
	e := strings.ToLower(existing)
	i := strings.ToLower(incoming)

	eNeg := countMarkers(e)
	iNeg := countMarkers(i)
	// A one-sided cluster of negations over shared subject matter reads as
	// a reversal, not a refinement.
	if iNeg >= eNeg+2 {
		return true, "incoming text negates claims the existing text asserts"
	}
	if eNeg >= iNeg+2 {
		return true, "incoming text asserts claims the existing text negates"
	}

	for _, pair := range opposingPairs {
		if containsWord(e, pair[0]) && containsWord(i, pair[1]) && !containsWord(i, pair[0]) {
			return true, fmt.Sprintf("directive flipped from %q to %q", pair[0], pair[1])
		}
		if containsWord(e, pair[1]) && containsWord(i, pair[0]) && !containsWord(e, pair[0]) {
			return true, fmt.Sprintf("directive flipped from %q to %q", pair[1], pair[0])
		}
	}

	return false, ""
}

func countMarkers(text string) int {
	n := 0
	for _, m := range negationMarkers {
		n += strings.Count(text, m)
	}
	return n
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(text[i-1])
		end := i + len(word)
		after := end == len(text) || !isWordByte(text[end])
		if before && after {
			return true
		}
		idx = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
