package project

import (
	"os"
	"path/filepath"
	"strings"
)

// Infer implements spec.md §4.4's path-based inference. paths need not be
// pre-filtered; roots is CLAUDE_MEMORY_PROJECT_ROOTS. Returns nil when no
// confident attribution is possible.
func Infer(paths []string, roots []string, threshold float64) *Resolved {
	var abs []string
	for _, p := range paths {
		if filepath.IsAbs(p) {
			abs = append(abs, filepath.Clean(p))
		}
	}
	if len(abs) < 2 {
		return nil
	}

	lcp := longestCommonDir(abs)
	if isShallow(lcp, roots) {
		return tryMajorityVote(abs, roots, threshold)
	}

	if dir, ok := walkUpForMarker(lcp); ok && !isConfiguredRoot(dir, roots) {
		return &Resolved{Name: filepath.Base(dir), FullPath: dir, IsRoot: false}
	}

	return tryMajorityVote(abs, roots, threshold)
}

func tryMajorityVote(paths []string, roots []string, threshold float64) *Resolved {
	counts := map[string]int{}
	for _, p := range paths {
		dir, ok := walkUpForMarker(filepath.Dir(p))
		if !ok || isConfiguredRoot(dir, roots) {
			continue
		}
		counts[dir]++
	}
	if len(counts) == 0 {
		return nil
	}

	var best string
	bestCount := 0
	for dir, n := range counts {
		if n > bestCount {
			best, bestCount = dir, n
		}
	}
	if float64(bestCount) < threshold*float64(len(paths)) {
		return nil
	}
	return &Resolved{Name: filepath.Base(best), FullPath: best, IsRoot: false}
}

// longestCommonDir returns the deepest directory that is an ancestor of
// (or equal to the parent of) every path in paths.
func longestCommonDir(paths []string) string {
	components := make([][]string, len(paths))
	minLen := -1
	for i, p := range paths {
		dir := filepath.Dir(p)
		parts := strings.Split(filepath.ToSlash(dir), "/")
		components[i] = parts
		if minLen == -1 || len(parts) < minLen {
			minLen = len(parts)
		}
	}

	common := components[0]
	n := minLen
	for i := 0; i < n; i++ {
		for _, parts := range components[1:] {
			if parts[i] != common[i] {
				n = i
				break
			}
		}
	}
	if n <= 0 {
		return string(filepath.Separator)
	}
	return filepath.FromSlash(strings.Join(common[:n], "/"))
}

// isShallow reports whether dir is the filesystem root, the user's home
// directory, or a configured project root (spec.md §4.4).
func isShallow(dir string, roots []string) bool {
	if dir == "" || dir == string(filepath.Separator) {
		return true
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == dir {
		return true
	}
	return isConfiguredRoot(dir, roots)
}

func isConfiguredRoot(dir string, roots []string) bool {
	for _, r := range roots {
		if filepath.Clean(r) == dir {
			return true
		}
	}
	return false
}

// walkUpForMarker walks up from dir (inclusive) looking for any of
// markerFiles. Returns the first directory containing one, or ("", false).
func walkUpForMarker(dir string) (string, bool) {
	cur := dir
	for {
		for _, marker := range markerFiles {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur, true
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		cur = parent
	}
}
