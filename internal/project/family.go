package project

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/engramd/engramd/internal/store"
)

// FamilyCache is the in-memory parent/child project graph (spec.md §4.4):
// three maps rebuilt on every project upsert. Readers may observe slightly
// stale values between an upsert and the next Rebuild (spec.md §5).
type FamilyCache struct {
	mu sync.RWMutex

	// fullPathToFamily maps a project's full path to every full path in
	// its family (itself plus transitive descendants).
	fullPathToFamily map[string][]string
	// nameToFullPath maps a project name to its full path;
	// first-insertion wins on name collision (spec.md §4.4).
	nameToFullPath map[string]string
	// fullPathToFamilyNames maps a project's full path to its family's
	// names.
	fullPathToFamilyNames map[string][]string

	children map[string][]string // parent full_path -> direct child full_paths
}

// NewFamilyCache returns an empty cache; call Rebuild before first use.
func NewFamilyCache() *FamilyCache {
	return &FamilyCache{}
}

// Rebuild recomputes parent_project assignment (deepest strict ancestor by
// path length, spec.md §4.4) and all three maps from scratch. Call this at
// startup (spec.md §4.9) and after every UpsertProject.
func (c *FamilyCache) Rebuild(projects []*store.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := append([]*store.Project(nil), projects...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].FullPath) > len(sorted[j].FullPath) })

	children := map[string][]string{}
	for _, p := range sorted {
		parent := detectParentProject(p, sorted)
		if parent != "" {
			children[parent] = append(children[parent], p.FullPath)
		}
	}
	c.children = children

	c.nameToFullPath = map[string]string{}
	for _, p := range projects {
		if _, exists := c.nameToFullPath[p.Name]; !exists {
			c.nameToFullPath[p.Name] = p.FullPath
		}
	}

	c.fullPathToFamily = map[string][]string{}
	c.fullPathToFamilyNames = map[string][]string{}
	byPath := map[string]*store.Project{}
	for _, p := range projects {
		byPath[p.FullPath] = p
	}
	for _, p := range projects {
		family := c.bfsFamily(p.FullPath)
		c.fullPathToFamily[p.FullPath] = family
		names := make([]string, 0, len(family))
		for _, fp := range family {
			if proj, ok := byPath[fp]; ok {
				names = append(names, proj.Name)
			}
		}
		c.fullPathToFamilyNames[p.FullPath] = names
	}
}

// detectParentProject picks the deepest strict ancestor of p by path
// length among candidates, rejecting p itself (spec.md §9).
func detectParentProject(p *store.Project, sortedDesc []*store.Project) string {
	for _, candidate := range sortedDesc {
		if candidate.FullPath == p.FullPath {
			continue
		}
		if len(candidate.FullPath) >= len(p.FullPath) {
			continue
		}
		if isPathPrefix(candidate.FullPath, p.FullPath) {
			return candidate.FullPath
		}
	}
	return ""
}

func isPathPrefix(prefix, path string) bool {
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == filepath.Separator
}

// bfsFamily walks the children graph from root with a visited set, so a
// cycle introduced by concurrent edits can never produce infinite
// traversal (spec.md §9, §8 invariant).
func (c *FamilyCache) bfsFamily(root string) []string {
	visited := map[string]bool{root: true}
	queue := []string{root}
	order := []string{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range c.children[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			queue = append(queue, child)
			order = append(order, child)
		}
	}
	return order
}

// Family returns the full paths in fullPath's family (fullPath plus
// transitive descendants). fullPath is always included (spec.md §8
// invariant: "for any project P, P ∈ family(P)").
func (c *FamilyCache) Family(fullPath string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.fullPathToFamily[fullPath]...)
}

// FamilyNames returns the project names in fullPath's family.
func (c *FamilyCache) FamilyNames(fullPath string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.fullPathToFamilyNames[fullPath]...)
}

// ResolveName returns the full path registered for a project name, if any.
func (c *FamilyCache) ResolveName(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.nameToFullPath[name]
	return fp, ok
}
