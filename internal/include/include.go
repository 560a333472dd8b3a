// Package include expands !include "path" directives before Markdown
// parsing. Includes nest up to a configurable depth and cycles are broken
// rather than followed.
package include

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxDepth bounds include nesting.
const DefaultMaxDepth = 10

// Resolver expands include directives relative to a document's directory.
type Resolver struct {
	maxDepth int
	log      *slog.Logger
}

func NewResolver(maxDepth int, log *slog.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{maxDepth: maxDepth, log: log}
}

// Expand replaces every include directive in src, resolving paths relative
// to baseDir. A directive that cannot be satisfied is replaced with an HTML
// comment so the failure is visible in the output.
func (r *Resolver) Expand(baseDir string, src []byte) []byte {
	return r.expand(baseDir, src, nil, 0)
}

func (r *Resolver) expand(baseDir string, src []byte, stack []string, depth int) []byte {
	lines := strings.Split(string(src), "\n")
	var out []string
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		path, ok := directivePath(trimmed)
		if !ok || inFence {
			out = append(out, line)
			continue
		}

		if depth >= r.maxDepth {
			r.log.Warn("include depth exceeded", "path", path, "depth", depth)
			out = append(out, failureComment(path))
			continue
		}

		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, full)
		}
		full = filepath.Clean(full)

		if onStack(stack, full) {
			r.log.Warn("include cycle broken", "path", full)
			out = append(out, failureComment(path))
			continue
		}

		data, err := os.ReadFile(full)
		if err != nil {
			r.log.Warn("include failed", "path", full, "error", err)
			out = append(out, failureComment(path))
			continue
		}

		nested := r.expand(filepath.Dir(full), data, append(stack, full), depth+1)
		out = append(out, strings.TrimRight(string(nested), "\n"))
	}

	return []byte(strings.Join(out, "\n"))
}

// directivePath matches the include grammar: the entire trimmed line is
// !include "path" with a double-quoted path.
func directivePath(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "!include")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 3 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	path := rest[1 : len(rest)-1]
	if path == "" || strings.Contains(path, `"`) {
		return "", false
	}
	return path, true
}

func failureComment(path string) string {
	return fmt.Sprintf("<!-- include failed: %s -->", path)
}

func onStack(stack []string, path string) bool {
	for _, s := range stack {
		if s == path {
			return true
		}
	}
	return false
}
