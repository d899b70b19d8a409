package extract

import (
	"strings"

	"github.com/coregx/ahocorasick"
)

// ConsistencyNote flags a candidate whose full_content mentions an entity
// that another candidate in the same batch declared, but that this
// candidate itself did not list — a sign the two candidates should share
// an entity tag instead of drifting into separate ones.
type ConsistencyNote struct {
	CandidateIndex int
	Entity         string
}

// ScanBatchConsistency builds a single Aho-Corasick automaton over every
// entity name declared anywhere in the batch, then scans each candidate's
// full_content for the other candidates' entity names it failed to tag
// itself. This is advisory only: the extractor logs notes, it never drops
// or rewrites a candidate because of one.
func ScanBatchConsistency(candidates []Candidate) ([]ConsistencyNote, error) {
	names := collectEntityNames(candidates)
	if len(names) == 0 {
		return nil, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(names).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}

	var notes []ConsistencyNote
	for i, c := range candidates {
		declared := make(map[string]bool, len(c.Entities))
		for _, e := range c.Entities {
			declared[strings.ToLower(e)] = true
		}

		haystack := []byte(strings.ToLower(c.FullContent))
		for _, m := range automaton.FindAllOverlapping(haystack) {
			if m.PatternID < 0 || m.PatternID >= len(names) {
				continue
			}
			name := names[m.PatternID]
			if declared[strings.ToLower(name)] {
				continue
			}
			notes = append(notes, ConsistencyNote{CandidateIndex: i, Entity: name})
		}
	}
	return notes, nil
}

// collectEntityNames dedupes entity names across the batch, lowercased
// for matching but preserving first-seen casing for display.
func collectEntityNames(candidates []Candidate) []string {
	seen := map[string]bool{}
	var names []string
	for _, c := range candidates {
		for _, e := range c.Entities {
			key := strings.ToLower(e)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, e)
		}
	}
	return names
}
