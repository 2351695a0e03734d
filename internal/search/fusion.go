package search

import (
	"sort"
)

// RRFK is the reciprocal rank fusion constant. 60 is the standard value from
// the RRF paper and keeps head ranks from dominating.
const RRFK = 60

// rankedID is one entry of a ranked result list going into fusion.
type rankedID struct {
	ID    int64
	Score float64
}

// fused is one fusion output with provenance for deterministic ordering.
type fused struct {
	ID         int64
	RRFScore   float64
	InBoth     bool
	VectorRank int
	FTSScore   float64
}

// fuseRRF merges a vector-ranked list and an FTS-ranked list with reciprocal
// rank fusion. IDs missing from one list are assigned a rank just past the
// longer list so presence in both always beats presence in one. Ties break
// deterministically: both-lists first, then FTS score, then ID.
func fuseRRF(vector, fts []rankedID) []fused {
	missingRank := max(len(vector), len(fts)) + 1

	vecRank := make(map[int64]int, len(vector))
	for i, r := range vector {
		vecRank[r.ID] = i + 1
	}
	ftsRank := make(map[int64]int, len(fts))
	ftsScore := make(map[int64]float64, len(fts))
	for i, r := range fts {
		ftsRank[r.ID] = i + 1
		ftsScore[r.ID] = r.Score
	}

	seen := make(map[int64]bool, len(vector)+len(fts))
	var out []fused
	add := func(id int64) {
		if seen[id] {
			return
		}
		seen[id] = true
		vr, inVec := vecRank[id]
		fr, inFTS := ftsRank[id]
		if !inVec {
			vr = missingRank
		}
		if !inFTS {
			fr = missingRank
		}
		out = append(out, fused{
			ID:         id,
			RRFScore:   1.0/float64(RRFK+vr) + 1.0/float64(RRFK+fr),
			InBoth:     inVec && inFTS,
			VectorRank: vr,
			FTSScore:   ftsScore[id],
		})
	}
	for _, r := range vector {
		add(r.ID)
	}
	for _, r := range fts {
		add(r.ID)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.FTSScore != b.FTSScore {
			return a.FTSScore > b.FTSScore
		}
		return a.ID < b.ID
	})
	return out
}
