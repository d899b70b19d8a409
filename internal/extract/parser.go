package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseResponse parses the raw chat response into a Result. Handles
// markdown code fences and falls back to regex repair of individual
// memory objects before giving up — mirrors the layered parse-then-repair
// shape used for LLM JSON elsewhere in the retrieved corpus, since chat
// models occasionally wrap or truncate their JSON despite instructions.
// On total failure the caller is expected to fall back to
// {memories: [], updatedSummary: previousSummary} per spec.md §4.5.
func ParseResponse(raw, previousSummary string) (*Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return &Result{UpdatedSummary: previousSummary}, nil
	}

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return filterResult(&result, previousSummary), nil
	}

	memories := repairMemories(cleaned)
	summary := repairSummary(cleaned)
	if summary == "" {
		summary = previousSummary
	}

	if len(memories) == 0 && summary == previousSummary {
		return nil, errParseFailed
	}

	return &Result{Memories: memories, UpdatedSummary: summary}, nil
}

var errParseFailed = jsonParseError("extract: failed to parse LLM response")

type jsonParseError string

func (e jsonParseError) Error() string { return string(e) }

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

var validImportance = map[string]bool{"high": true, "normal": true}
var validScope = map[string]bool{"global": true, "project": true}

// filterResult validates and cleans parsed candidates, dropping anything
// with a missing summary or an out-of-range importance/scope.
func filterResult(r *Result, previousSummary string) *Result {
	out := &Result{Memories: make([]Candidate, 0, len(r.Memories)), UpdatedSummary: r.UpdatedSummary}
	if out.UpdatedSummary == "" {
		out.UpdatedSummary = previousSummary
	}

	for _, c := range r.Memories {
		c.Summary = strings.TrimSpace(c.Summary)
		if c.Summary == "" {
			continue
		}
		c.Importance = strings.ToLower(strings.TrimSpace(c.Importance))
		if !validImportance[c.Importance] {
			c.Importance = "normal"
		}
		c.Scope = strings.ToLower(strings.TrimSpace(c.Scope))
		if !validScope[c.Scope] {
			c.Scope = "project"
		}
		c.FullContent = strings.TrimSpace(c.FullContent)
		cleanedEntities := make([]string, 0, len(c.Entities))
		for _, e := range c.Entities {
			if e = strings.TrimSpace(e); e != "" {
				cleanedEntities = append(cleanedEntities, e)
			}
		}
		c.Entities = cleanedEntities
		out.Memories = append(out.Memories, c)
	}
	return out
}

// memoryPattern matches one complete, flat memory object whose first key
// is "summary", tolerant of extra/missing fields after it. An object whose
// first key is anything else is not matched.
var memoryPattern = regexp.MustCompile(
	`\{\s*"summary"\s*:\s*"(?:[^"\\]|\\.)*"\s*(?:,\s*"[^"]+"\s*:\s*(?:"(?:[^"\\]|\\.)*"|\[[^\]]*\]|true|false|null))*\s*\}`,
)

var summaryPattern = regexp.MustCompile(`"updatedSummary"\s*:\s*"((?:[^"\\]|\\.)*)"`)

func repairMemories(raw string) []Candidate {
	matches := memoryPattern.FindAllString(raw, -1)
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		var c Candidate
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			continue
		}
		c.Summary = strings.TrimSpace(c.Summary)
		if c.Summary == "" {
			continue
		}
		if !validImportance[c.Importance] {
			c.Importance = "normal"
		}
		if !validScope[c.Scope] {
			c.Scope = "project"
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func repairSummary(raw string) string {
	m := summaryPattern.FindStringSubmatch(raw)
	if len(m) != 2 {
		return ""
	}
	var unescaped string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &unescaped); err == nil {
		return unescaped
	}
	return m[1]
}
