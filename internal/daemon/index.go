package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/store"
)

// windowTokens and overlapTokens are spec.md §3's chunk-windowing sizes;
// windowStep is the resulting stride, which makes a file's chunk count
// equal ⌈tokens / 320⌉ (spec.md §8).
const (
	windowTokens  = 400
	overlapTokens = 80
	windowStep    = windowTokens - overlapTokens
)

// embedder is the narrow embedding dependency reindexing needs; satisfied
// structurally by *embed.Chain.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// token pairs a word with the 1-based source line it came from, so a
// window built from a token slice can report accurate StartLine/EndLine.
type token struct {
	text string
	line int
}

type chunkWindow struct {
	startLine int
	endLine   int
	text      string
}

// tokenizeLines approximates "tokens" as whitespace-delimited words, since
// nothing in the corpus provides a real tokenizer and spec.md's ⌈tokens /
// 320⌉ rule only needs a consistent, deterministic count.
func tokenizeLines(content string) []token {
	var toks []token
	for i, line := range strings.Split(content, "\n") {
		for _, w := range strings.Fields(line) {
			toks = append(toks, token{text: w, line: i + 1})
		}
	}
	return toks
}

// windowChunks slides a windowTokens-wide, windowStep-strided window over
// content's tokens, producing ≈400-token windows with ≈80-token overlap
// (spec.md §3's Chunk description).
func windowChunks(content string) []chunkWindow {
	toks := tokenizeLines(content)
	if len(toks) == 0 {
		return nil
	}

	var windows []chunkWindow
	for start := 0; start < len(toks); start += windowStep {
		end := start + windowTokens
		if end > len(toks) {
			end = len(toks)
		}
		slice := toks[start:end]
		words := make([]string, len(slice))
		for i, tk := range slice {
			words[i] = tk.text
		}
		windows = append(windows, chunkWindow{
			startLine: slice[0].line,
			endLine:   slice[len(slice)-1].line,
			text:      strings.Join(words, " "),
		})
	}
	return windows
}

func hashChunkText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// projectMemoryPath is the per-project curated file spec.md §6 names:
// "Per-project .claude/memory/MEMORY.md".
func projectMemoryPath(projectFullPath string) string {
	return filepath.Join(projectFullPath, ".claude", "memory", "MEMORY.md")
}

// reindexAll rebuilds the chunk table from every curated Markdown file —
// the global MEMORY.md plus each known project's own — per spec.md §4.9's
// first startup step. A per-file failure is logged and skipped rather
// than aborting the whole pass, consistent with the transient-I/O error
// kind in spec.md §7.
func reindexAll(ctx context.Context, s *store.Store, cfg *config.Config, emb embedder) error {
	if err := reindexPath(ctx, s, emb, cfg.GlobalMemoryPath(), store.LayerGlobal, nil); err != nil {
		log.Printf("[DAEMON] reindex %s: %v", cfg.GlobalMemoryPath(), err)
	}

	projects, err := s.ListProjects()
	if err != nil {
		return fmt.Errorf("daemon: list projects: %w", err)
	}
	for _, p := range projects {
		path := projectMemoryPath(p.FullPath)
		project := p.FullPath
		if err := reindexPath(ctx, s, emb, path, store.LayerProject, &project); err != nil {
			log.Printf("[DAEMON] reindex %s: %v", path, err)
		}
	}
	return nil
}

// reindexPath re-windows a single curated file and fully replaces its
// chunk rows (store.ReplaceChunksForPath already deletes-then-inserts
// inside one transaction). A missing file clears its chunks rather than
// erroring, since a curated file with no content yet is normal.
func reindexPath(ctx context.Context, s *store.Store, emb embedder, path string, layer store.Layer, project *string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.ReplaceChunksForPath(path, nil)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	windows := windowChunks(string(content))
	if len(windows) == 0 {
		return s.ReplaceChunksForPath(path, nil)
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.text
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", path, err)
	}

	now := time.Now()
	chunks := make([]*store.Chunk, len(windows))
	for i, w := range windows {
		var v []float32
		if i < len(vecs) {
			v = vecs[i]
		}
		chunks[i] = &store.Chunk{
			Path:      path,
			Layer:     layer,
			Project:   project,
			StartLine: w.startLine,
			EndLine:   w.endLine,
			Hash:      hashChunkText(w.text),
			Text:      w.text,
			Embedding: v,
			UpdatedAt: now,
		}
	}
	return s.ReplaceChunksForPath(path, chunks)
}
