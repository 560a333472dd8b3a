// Package wikilink adds [[Target]] and [[Target|label]] links to the
// Markdown dialect. Targets are slugified and resolved against a configurable
// base path and suffix.
package wikilink

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// New returns an extender producing links of the form base+slug+suffix.
func New(base, suffix string) goldmark.Extender {
	return &extender{base: base, suffix: suffix}
}

type extender struct {
	base   string
	suffix string
}

func (e *extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(&wikilinkParser{base: e.base, suffix: e.suffix}, 140),
		),
	)
}

type wikilinkParser struct {
	base   string
	suffix string
}

func (p *wikilinkParser) Trigger() []byte { return []byte{'['} }

func (p *wikilinkParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 5 || line[0] != '[' || line[1] != '[' {
		return nil
	}
	end := strings.Index(string(line), "]]")
	if end < 2 {
		return nil
	}

	inner := string(line[2:end])
	target := inner
	label := inner
	if i := strings.IndexByte(inner, '|'); i >= 0 {
		target = inner[:i]
		label = inner[i+1:]
	}
	target = strings.TrimSpace(target)
	label = strings.TrimSpace(label)
	if target == "" || label == "" {
		return nil
	}

	block.Advance(end + 2)
	link := ast.NewLink()
	link.Destination = []byte(p.base + Slug(target) + p.suffix)
	link.AppendChild(link, ast.NewString([]byte(label)))
	return link
}

// Slug normalizes a wiki target into a URL path segment: lowercased, spaces
// collapsed to single hyphens, everything else outside [a-z0-9._-] dropped.
func Slug(target string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(target)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '\t':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
