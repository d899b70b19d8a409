package tailer

import (
	"bufio"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
)

// maxRecordScanBytes/Lines bound file-path extraction per batch
// (spec.md §5: "file-path extraction 512 KB/200 lines").
const (
	maxRecordScanBytes = 512 * 1024
	maxRecordScanLines = 200
)

// contentBlock is one element of a message's content array.
type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// transcriptRecord is the union of the two recognized record shapes
// (spec.md §6): a file-history-snapshot (line 1 only) or a message
// record. Content may be a plain string or an array of content blocks.
type transcriptRecord struct {
	Type     string        `json:"type"`
	Snapshot *snapshotBody `json:"snapshot"`
	CWD      string        `json:"cwd"`
	Message  *messageBody  `json:"message"`
}

type snapshotBody struct {
	TrackedFileBackups map[string]json.RawMessage `json:"trackedFileBackups"`
}

type messageBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// BatchRead is the result of scanning new transcript bytes: newly
// discovered file paths, buffered user/assistant messages, and the last
// user prompt seen (for recollection refresh), plus the new byte offset.
type BatchRead struct {
	Paths         []string
	Messages      []Message
	LastUserPrompt string
	NewOffset     int64
	MalformedLines int
}

// Message mirrors internal/extract.Message's shape so the tailer doesn't
// need to import the extract package just for this struct;
// toExtractMessages converts it at the call site.
type Message struct {
	Role    string
	Content string
}

// ScanNewRecords reads r from the current offset and parses each
// newline-delimited record, extracting tool_use file paths and buffering
// user/assistant messages (spec.md §4.6 step 1). One call reads at most
// maxRecordScanBytes and maxRecordScanLines records; NewOffset counts only
// the lines consumed, so later lines are left for the next call.
// isFirstLineOfFile says whether the first record read here is the first
// line of the whole file, which is checked for a file-history-snapshot.
func ScanNewRecords(r io.Reader, isFirstLineOfFile bool) BatchRead {
	var out BatchRead
	scanner := bufio.NewScanner(io.LimitReader(r, maxRecordScanBytes))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	var read int64
	for scanner.Scan() {
		line := scanner.Bytes()
		lineNo++
		if lineNo > maxRecordScanLines {
			break
		}
		read += int64(len(line)) + 1

		var rec transcriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			out.MalformedLines++
			continue
		}

		if lineNo == 1 && isFirstLineOfFile && rec.Type == "file-history-snapshot" && rec.Snapshot != nil {
			for path := range rec.Snapshot.TrackedFileBackups {
				if filepath.IsAbs(path) {
					out.Paths = append(out.Paths, path)
				}
			}
			continue
		}

		if rec.Message == nil {
			continue
		}

		paths := extractToolUsePaths(rec.Message.Content)
		out.Paths = append(out.Paths, paths...)

		if rec.Message.Role == "user" || rec.Message.Role == "assistant" {
			text := contentText(rec.Message.Content)
			out.Messages = append(out.Messages, Message{Role: rec.Message.Role, Content: text})
			if rec.Message.Role == "user" && text != "" {
				out.LastUserPrompt = text
			}
		}
	}
	out.NewOffset = read
	return out
}

// contentText extracts a flat text representation of a message's content,
// whether it's a plain string or an array of blocks.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// extractToolUsePaths pulls file paths referenced by tool_use blocks
// (spec.md §4.6 step 1): Read/Edit/Write -> file_path; Grep -> path;
// Glob -> path, or an absolute prefix of pattern.
func extractToolUsePaths(raw json.RawMessage) []string {
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var paths []string
	for _, blk := range blocks {
		if blk.Type != "tool_use" {
			continue
		}
		var input struct {
			FilePath string `json:"file_path"`
			Path     string `json:"path"`
			Pattern  string `json:"pattern"`
		}
		if err := json.Unmarshal(blk.Input, &input); err != nil {
			continue
		}

		switch blk.Name {
		case "Read", "Edit", "Write":
			if input.FilePath != "" {
				paths = append(paths, input.FilePath)
			}
		case "Grep":
			if input.Path != "" {
				paths = append(paths, input.Path)
			}
		case "Glob":
			if input.Path != "" {
				paths = append(paths, input.Path)
			} else if filepath.IsAbs(input.Pattern) {
				paths = append(paths, absolutePrefix(input.Pattern))
			}
		}
	}
	return paths
}

// absolutePrefix returns the directory portion of an absolute glob
// pattern up to its first wildcard character.
func absolutePrefix(pattern string) string {
	idx := strings.IndexAny(pattern, "*?[{")
	if idx == -1 {
		return pattern
	}
	return filepath.Dir(pattern[:idx])
}
