package search

import (
	"strings"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/internal/memfile"
)

var errConceptCount = engerrors.InvalidParam("concepts", "multi-concept search takes 2 to 5 concepts")

// projectAnchors replaces each result's content with only the requested
// anchor sections. Results without any of the anchors keep their full content
// so a missing section never hides a relevant memory.
func projectAnchors(results []Result, anchorIDs []string) {
	if len(anchorIDs) == 0 {
		return
	}
	want := make(map[string]bool, len(anchorIDs))
	for _, id := range anchorIDs {
		want[id] = true
	}
	for i := range results {
		anchors, _ := memfile.ExtractAnchors(results[i].Memory.Content)
		var sections []string
		for _, a := range anchors {
			if want[a.ID] {
				sections = append(sections, "["+a.ID+"]\n"+a.Content)
			}
		}
		if len(sections) > 0 {
			results[i].Memory.Content = strings.Join(sections, "\n\n")
		}
	}
}
