package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseValidJSON(t *testing.T) {
	raw := `{"memories":[{"summary":"user prefers tabs","full_content":"Confirmed tabs over spaces in Go files.","entities":["indentation"],"importance":"normal","scope":"project"}],"updatedSummary":"discussed formatting"}`

	result, err := ParseResponse(raw, "previous")
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "user prefers tabs", result.Memories[0].Summary)
	assert.Equal(t, "normal", result.Memories[0].Importance)
	assert.Equal(t, "project", result.Memories[0].Scope)
	assert.Equal(t, "discussed formatting", result.UpdatedSummary)
}

func TestParseResponseWithCodeFence(t *testing.T) {
	raw := "```json\n" + `{"memories":[],"updatedSummary":"nothing new"}` + "\n```"

	result, err := ParseResponse(raw, "previous")
	require.NoError(t, err)
	assert.Empty(t, result.Memories)
	assert.Equal(t, "nothing new", result.UpdatedSummary)
}

func TestParseResponseEmptyFallsBackToPreviousSummary(t *testing.T) {
	result, err := ParseResponse("   ", "carried over")
	require.NoError(t, err)
	assert.Empty(t, result.Memories)
	assert.Equal(t, "carried over", result.UpdatedSummary)
}

func TestParseResponseInvalidImportanceDefaultsToNormal(t *testing.T) {
	raw := `{"memories":[{"summary":"x","importance":"critical","scope":"global"}],"updatedSummary":"s"}`
	result, err := ParseResponse(raw, "")
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "normal", result.Memories[0].Importance)
	assert.Equal(t, "global", result.Memories[0].Scope)
}

func TestParseResponseRepairsTruncatedJSON(t *testing.T) {
	raw := `Sure thing! {"memories":[{"summary":"repo uses pnpm","full_content":"The team standardized on pnpm workspaces.","entities":["pnpm"],"importance":"high","scope":"project"}],"updatedSummary":"decided on pnpm"} -- hope that helps`

	result, err := ParseResponse(raw, "prev")
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "repo uses pnpm", result.Memories[0].Summary)
	assert.Equal(t, "decided on pnpm", result.UpdatedSummary)
}

func TestParseResponseTotalGarbageReturnsError(t *testing.T) {
	_, err := ParseResponse("not json at all, just prose with no structure", "prev")
	assert.Error(t, err)
}

func TestParseResponseDropsCandidateWithEmptySummary(t *testing.T) {
	raw := `{"memories":[{"summary":"","full_content":"x","importance":"normal","scope":"project"},{"summary":"kept","full_content":"y","importance":"normal","scope":"project"}],"updatedSummary":"s"}`
	result, err := ParseResponse(raw, "")
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "kept", result.Memories[0].Summary)
}
