// Package logging colorizes the bracketed [TAG] prefix convention used by
// every log.Printf call in this codebase ([TAILER], [CONSOLIDATE], [IPC],
// [EVENTS], [DAEMON], ...), when stderr is a terminal. It wraps the
// stdlib "log" package's output rather than replacing it, so every
// existing log.Printf("[TAG] ...") call site gets colorized for free.
package logging

import (
	"bytes"
	"io"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// tagPattern skips the stdlib logger's date/time prefix (digits, '/', ':',
// '.' and spaces) before looking for the [TAG] token.
var tagPattern = regexp.MustCompile(`^([0-9/:. ]*)(\[[A-Z]+\])`)

// tagColors assigns a color per known tag; an unrecognized tag falls back
// to plain cyan so a new subsystem's logs are still visually set off from
// the message body without needing an entry here.
var tagColors = map[string]*color.Color{
	"[TAILER]":      color.New(color.FgCyan),
	"[CONSOLIDATE]": color.New(color.FgMagenta),
	"[IPC]":         color.New(color.FgBlue),
	"[EVENTS]":      color.New(color.FgGreen),
	"[DAEMON]":      color.New(color.FgYellow),
	"[NATS]":        color.New(color.FgGreen),
}

var defaultTagColor = color.New(color.FgCyan)
var errorColor = color.New(color.FgRed)

// Init points the stdlib "log" package's default logger at a
// tag-colorizing writer around out (normally os.Stderr), when out is a
// terminal. On a non-terminal (redirected to a file, piped to another
// process) output stays plain text, matching how vjache/cie gates
// fatih/color on isatty.IsTerminal.
func Init(out *os.File) {
	log.SetOutput(newTagWriter(out))
}

type tagWriter struct {
	out      io.Writer
	colorize bool
}

func newTagWriter(out *os.File) *tagWriter {
	return &tagWriter{out: out, colorize: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())}
}

// Write colorizes a line's leading [TAG] token (if any) and, for a line
// that looks like a failure, the rest of the message too.
func (w *tagWriter) Write(p []byte) (int, error) {
	if !w.colorize {
		return w.out.Write(p)
	}

	line := string(p)
	match := tagPattern.FindStringSubmatchIndex(line)
	if match == nil {
		return w.out.Write(p)
	}

	prefix := line[:match[4]]
	tag := line[match[4]:match[5]]
	rest := line[match[5]:]
	c, ok := tagColors[tag]
	if !ok {
		c = defaultTagColor
	}

	var b bytes.Buffer
	b.WriteString(prefix)
	b.WriteString(c.Sprint(tag))
	if looksLikeFailure(rest) {
		b.WriteString(errorColor.Sprint(rest))
	} else {
		b.WriteString(rest)
	}

	n, err := w.out.Write(b.Bytes())
	if err != nil {
		return n, err
	}
	// A caller writing one log.Printf record per Write call expects the
	// full input length back even though the colorized buffer is a
	// different size.
	return len(p), nil
}

func looksLikeFailure(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "failed") || strings.Contains(lower, "error")
}
