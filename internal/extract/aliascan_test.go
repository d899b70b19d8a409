package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanBatchConsistencyFlagsUntaggedMention(t *testing.T) {
	candidates := []Candidate{
		{Summary: "a", FullContent: "The team adopted pnpm for package management.", Entities: []string{"pnpm"}},
		{Summary: "b", FullContent: "Later we confirmed pnpm is the standard.", Entities: nil},
	}

	notes, err := ScanBatchConsistency(candidates)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, 1, notes[0].CandidateIndex)
	require.Equal(t, "pnpm", notes[0].Entity)
}

func TestScanBatchConsistencyNoNotesWhenAllTagged(t *testing.T) {
	candidates := []Candidate{
		{Summary: "a", FullContent: "Uses pnpm.", Entities: []string{"pnpm"}},
		{Summary: "b", FullContent: "Also uses pnpm here.", Entities: []string{"pnpm"}},
	}

	notes, err := ScanBatchConsistency(candidates)
	require.NoError(t, err)
	require.Empty(t, notes)
}

func TestScanBatchConsistencyEmptyBatchReturnsNil(t *testing.T) {
	notes, err := ScanBatchConsistency(nil)
	require.NoError(t, err)
	require.Nil(t, notes)
}
