// Package emoji replaces :shortcode: sequences with their Unicode emoji
// during inline parsing. Unknown shortcodes are left as literal text.
package emoji

import (
	"sync"

	kemoji "github.com/kyokomi/emoji/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Extension wires shortcode replacement into a goldmark instance.
var Extension goldmark.Extender = &extender{}

type extender struct{}

func (e *extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(&shortcodeParser{}, 999),
		),
	)
}

var (
	codesOnce sync.Once
	codes     map[string]string
)

// codeMap caches the shortcode table; building it is not free and the parser
// runs per document.
func codeMap() map[string]string {
	codesOnce.Do(func() {
		codes = kemoji.CodeMap()
	})
	return codes
}

type shortcodeParser struct{}

func (p *shortcodeParser) Trigger() []byte { return []byte{':'} }

func (p *shortcodeParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 3 || line[0] != ':' {
		return nil
	}
	end := -1
	for i := 1; i < len(line); i++ {
		c := line[i]
		if c == ':' {
			end = i
			break
		}
		if !shortcodeChar(c) {
			return nil
		}
	}
	if end <= 1 {
		return nil
	}

	code := string(line[:end+1])
	replacement, ok := codeMap()[code]
	if !ok {
		return nil
	}

	block.Advance(end + 1)
	return ast.NewString([]byte(replacement))
}

func shortcodeChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '+':
		return true
	}
	return false
}
