package tailer

import (
	"strings"
	"testing"
)

func TestScanNewRecordsBuffersUserAndAssistantMessages(t *testing.T) {
	input := `{"cwd":"/home/x","message":{"role":"user","content":"hello"}}
{"cwd":"/home/x","message":{"role":"assistant","content":"hi there"}}
`
	read := ScanNewRecords(strings.NewReader(input), false)
	if len(read.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(read.Messages))
	}
	if read.Messages[0].Role != "user" || read.Messages[0].Content != "hello" {
		t.Errorf("unexpected first message: %+v", read.Messages[0])
	}
	if read.LastUserPrompt != "hello" {
		t.Errorf("expected last user prompt %q, got %q", "hello", read.LastUserPrompt)
	}
	if read.NewOffset != int64(len(input)) {
		t.Errorf("expected offset %d, got %d", len(input), read.NewOffset)
	}
}

// TestScanNewRecordsSkipsMalformedLines reproduces spec.md §8 scenario 6:
// a malformed record is skipped, not fatal, and subsequent valid lines
// still produce buffered messages.
func TestScanNewRecordsSkipsMalformedLines(t *testing.T) {
	input := "not json at all\n" +
		`{"cwd":"/home/x","message":{"role":"user","content":"after garbage"}}` + "\n"
	read := ScanNewRecords(strings.NewReader(input), false)
	if read.MalformedLines != 1 {
		t.Fatalf("expected 1 malformed line, got %d", read.MalformedLines)
	}
	if len(read.Messages) != 1 || read.Messages[0].Content != "after garbage" {
		t.Fatalf("expected the valid line to still parse, got %+v", read.Messages)
	}
}

func TestScanNewRecordsFirstLineFileHistorySnapshot(t *testing.T) {
	input := `{"type":"file-history-snapshot","snapshot":{"trackedFileBackups":{"/repo/a.go":{},"relative/b.go":{}}}}
{"cwd":"/repo","message":{"role":"user","content":"go"}}
`
	read := ScanNewRecords(strings.NewReader(input), true)
	if len(read.Paths) != 1 || read.Paths[0] != "/repo/a.go" {
		t.Fatalf("expected only the absolute tracked path, got %v", read.Paths)
	}
}

func TestScanNewRecordsIgnoresSnapshotWhenNotFirstLine(t *testing.T) {
	input := `{"type":"file-history-snapshot","snapshot":{"trackedFileBackups":{"/repo/a.go":{}}}}
`
	read := ScanNewRecords(strings.NewReader(input), false)
	if len(read.Paths) != 0 {
		t.Fatalf("expected snapshot to be ignored past the first line, got %v", read.Paths)
	}
}

func TestScanNewRecordsExtractsToolUsePaths(t *testing.T) {
	input := `{"cwd":"/repo","message":{"role":"assistant","content":[` +
		`{"type":"tool_use","name":"Read","input":{"file_path":"/repo/a.go"}},` +
		`{"type":"tool_use","name":"Grep","input":{"path":"/repo/sub"}},` +
		`{"type":"tool_use","name":"Glob","input":{"pattern":"/repo/sub/*.go"}}` +
		`]}}` + "\n"
	read := ScanNewRecords(strings.NewReader(input), false)
	if len(read.Paths) != 3 {
		t.Fatalf("expected 3 paths, got %v", read.Paths)
	}
	found := false
	for _, p := range read.Paths {
		if p == "/repo/sub" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected glob prefix path /repo/sub in %v", read.Paths)
	}
}

func TestContentTextJoinsTextBlocks(t *testing.T) {
	raw := []byte(`[{"type":"text","text":"first"},{"type":"tool_use","name":"Read"},{"type":"text","text":"second"}]`)
	got := contentText(raw)
	if got != "first\nsecond" {
		t.Errorf("expected joined text blocks, got %q", got)
	}
}

func TestAbsolutePrefixStopsAtWildcard(t *testing.T) {
	got := absolutePrefix("/repo/sub/*.go")
	if got != "/repo/sub" {
		t.Errorf("expected /repo/sub, got %q", got)
	}
}
