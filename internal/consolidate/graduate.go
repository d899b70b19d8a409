package consolidate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/atomicfile"
	"github.com/engramd/engramd/internal/store"
)

const (
	accessBasedFetchLimit = 20
	timeBasedFetchLimit   = 10
	maxGraduatedPerCycle  = 10
	graduationAge         = 14 * 24 * time.Hour
	compressionAge        = 30 * 24 * time.Hour
)

var idMarkerPattern = regexp.MustCompile(`<!-- (\S+) -->`)
var sectionHeadingPattern = regexp.MustCompile(`^## (\d{4})-(\d{2})-(\d{2})\s*$`)

// graduate runs spec.md §4.7's graduation phase against the global
// MEMORY.md: merge access-based and time-based candidates, append new
// entries under today's section, enforce the line cap by archiving the
// oldest sections, then mark every processed candidate graduated.
func (c *Consolidator) graduate(now time.Time) (int, error) {
	candidates, err := c.graduationCandidates(now)
	if err != nil {
		return 0, fmt.Errorf("consolidate: fetch graduation candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	path := c.cfg.GlobalMemoryPath()
	graduatedCount := 0
	err = c.globalLock.WithLock(func() error {
		content, err := readFileOrEmpty(path)
		if err != nil {
			return err
		}

		content, graduatedIDs := appendGraduationEntries(content, candidates, now)

		content, archiveByMonth := capMemoryFile(content, c.cfg.Consolid.MaxMemoryLines)
		for month, section := range archiveByMonth {
			archivePath := filepath.Join(c.cfg.ArchiveDir(), month+".md")
			if err := appendArchiveSection(archivePath, section); err != nil {
				return fmt.Errorf("consolidate: archive %s: %w", month, err)
			}
		}

		if err := atomicfile.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("consolidate: write %s: %w", path, err)
		}

		for _, id := range graduatedIDs {
			if err := c.store.MarkGraduated(id, now); err != nil {
				return fmt.Errorf("consolidate: mark graduated %s: %w", id, err)
			}
		}
		graduatedCount = len(graduatedIDs)
		return nil
	})
	return graduatedCount, err
}

// graduationCandidates merges the access-based and time-based candidate
// sets (spec.md §4.7), deduped by id, capped at maxGraduatedPerCycle.
func (c *Consolidator) graduationCandidates(now time.Time) ([]*store.Episode, error) {
	accessBased, err := c.store.ListEpisodes(store.EpisodeFilter{
		GraduationEligible: true,
		Limit:              accessBasedFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-graduationAge)
	timeBased, err := c.store.ListEpisodes(store.EpisodeFilter{
		Scope:             store.ScopeGlobal,
		ImportanceAtLeast: store.ImportanceHigh,
		GraduatedBefore:   &cutoff,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(timeBased, func(i, j int) bool { return timeBased[i].CreatedAt.Before(timeBased[j].CreatedAt) })
	if len(timeBased) > timeBasedFetchLimit {
		timeBased = timeBased[:timeBasedFetchLimit]
	}

	seen := map[string]bool{}
	var merged []*store.Episode
	for _, group := range [][]*store.Episode{accessBased, timeBased} {
		for _, e := range group {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	if len(merged) > maxGraduatedPerCycle {
		merged = merged[:maxGraduatedPerCycle]
	}
	return merged, nil
}

// appendGraduationEntries appends any candidate not already present (by its
// hidden id marker) under today's section, creating the section if the
// file's last section isn't already today's. Every candidate's id is
// returned for MarkGraduated regardless of whether it was newly appended
// (spec.md §4.7: "every candidate processed gets graduated_at = now, even
// ones already present").
func appendGraduationEntries(content string, candidates []*store.Episode, now time.Time) (string, []string) {
	existing := map[string]bool{}
	for _, m := range idMarkerPattern.FindAllStringSubmatch(content, -1) {
		existing[m[1]] = true
	}

	var toAppend strings.Builder
	graduatedIDs := make([]string, 0, len(candidates))
	appendedAny := false

	for _, e := range candidates {
		graduatedIDs = append(graduatedIDs, e.ID)
		if existing[e.ID] {
			continue
		}
		toAppend.WriteString(renderGraduationEntry(e))
		appendedAny = true
	}
	if !appendedAny {
		return content, graduatedIDs
	}

	heading := "## " + now.Format("2006-01-02")
	trimmed := strings.TrimRight(content, "\n")
	if lastSectionHeading(content) == heading {
		return trimmed + "\n" + toAppend.String(), graduatedIDs
	}
	sep := ""
	if trimmed != "" {
		sep = "\n\n"
	}
	return trimmed + sep + heading + "\n\n" + toAppend.String(), graduatedIDs
}

func renderGraduationEntry(e *store.Episode) string {
	var b strings.Builder
	b.WriteString("<!-- " + e.ID + " -->\n")
	b.WriteString("- " + e.Summary)
	if len(e.Entities) > 0 {
		b.WriteString(" (" + strings.Join(e.Entities, ", ") + ")")
	}
	b.WriteString("\n")
	if e.FullContent != nil && strings.TrimSpace(*e.FullContent) != "" {
		indented := strings.ReplaceAll(strings.TrimSpace(*e.FullContent), "\n", "\n  ")
		b.WriteString("\n  " + indented + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func lastSectionHeading(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "## ") {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

type mdSection struct {
	heading string
	lines   []string
}

func (s mdSection) text() string { return strings.Join(s.lines, "\n") }

func splitSections(content string) (string, []mdSection) {
	var pre []string
	var sections []mdSection
	var cur *mdSection

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			if cur != nil {
				sections = append(sections, *cur)
			}
			cur = &mdSection{heading: strings.TrimSpace(line), lines: []string{line}}
			continue
		}
		if cur == nil {
			pre = append(pre, line)
		} else {
			cur.lines = append(cur.lines, line)
		}
	}
	if cur != nil {
		sections = append(sections, *cur)
	}
	return strings.Join(pre, "\n"), sections
}

// capMemoryFile enforces spec.md §4.7's MAX_MEMORY_LINES cap by archiving
// whole oldest sections (in file order, i.e. oldest-appended first) until
// the live file fits, grouping archived sections by month for
// archive/YYYY-MM.md.
func capMemoryFile(content string, maxLines int) (string, map[string]string) {
	if maxLines <= 0 || len(strings.Split(content, "\n")) <= maxLines {
		return content, nil
	}

	preamble, sections := splitSections(content)
	archiveByMonth := map[string]string{}

	for len(sections) > 0 {
		total := len(strings.Split(preamble, "\n"))
		for _, s := range sections {
			total += len(s.lines)
		}
		if total <= maxLines {
			break
		}
		oldest := sections[0]
		sections = sections[1:]
		month := sectionMonth(oldest.heading)
		if existing, ok := archiveByMonth[month]; ok {
			archiveByMonth[month] = existing + "\n" + oldest.text()
		} else {
			archiveByMonth[month] = oldest.text()
		}
	}

	rebuilt := strings.TrimLeft(preamble, "\n")
	for _, s := range sections {
		if strings.TrimSpace(rebuilt) != "" {
			rebuilt += "\n"
		}
		rebuilt += s.text()
	}
	return rebuilt, archiveByMonth
}

func sectionMonth(heading string) string {
	m := sectionHeadingPattern.FindStringSubmatch(heading)
	if len(m) == 4 {
		return m[1] + "-" + m[2]
	}
	return "unknown"
}

func appendArchiveSection(path, section string) error {
	existing, err := readFileOrEmpty(path)
	if err != nil {
		return err
	}
	sep := ""
	if strings.TrimSpace(existing) != "" {
		sep = "\n\n"
	}
	updated := strings.TrimRight(existing, "\n") + sep + section + "\n"
	return atomicfile.WriteFile(path, []byte(strings.TrimLeft(updated, "\n")), 0o644)
}

func readFileOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("consolidate: read %s: %w", path, err)
	}
	return string(data), nil
}
