// Package cite adds Pandoc-style citations to the Markdown dialect: [@key]
// or [@key, locator] becomes a link into the document's reference list,
// resolved against a bibliography file.
package cite

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindCitation identifies citation nodes in the tree.
var KindCitation = ast.NewNodeKind("Citation")

// Node is one inline citation.
type Node struct {
	ast.BaseInline
	Key     string
	Locator string
	raw     string
}

func (n *Node) Kind() ast.NodeKind { return KindCitation }

func (n *Node) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Key":     n.Key,
		"Locator": n.Locator,
	}, nil)
}

// New returns an extender that wires the citation parser and renderer,
// resolving keys against r.
func New(r *Resolver) goldmark.Extender {
	return &extender{resolver: r}
}

type extender struct {
	resolver *Resolver
}

func (e *extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(&citationParser{}, 150),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(&citationRenderer{resolver: e.resolver}, 500),
		),
	)
}

type citationParser struct{}

func (p *citationParser) Trigger() []byte { return []byte{'['} }

func (p *citationParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 3 || line[0] != '[' || line[1] != '@' {
		return nil
	}
	end := -1
	for i := 2; i < len(line); i++ {
		if line[i] == ']' {
			end = i
			break
		}
		if line[i] == '[' {
			return nil
		}
	}
	if end < 0 {
		return nil
	}

	body := string(line[2:end])
	key := body
	locator := ""
	if i := strings.IndexByte(body, ','); i >= 0 {
		key = body[:i]
		locator = strings.TrimSpace(body[i+1:])
	}
	key = strings.TrimSpace(key)
	if key == "" || !validKey(key) {
		return nil
	}

	block.Advance(end + 1)
	return &Node{Key: key, Locator: locator, raw: string(line[:end+1])}
}

// validKey restricts citation keys to the characters bibliography tools use.
func validKey(key string) bool {
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == ':' || r == '.' || r == '/':
		default:
			return false
		}
	}
	return true
}

type citationRenderer struct {
	resolver *Resolver
}

func (r *citationRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindCitation, r.render)
}

func (r *citationRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Node)

	entry, ok := r.resolver.Lookup(n.Key)
	if !ok {
		// Unknown key: keep the source text so nothing is silently lost.
		_, _ = w.Write(util.EscapeHTML([]byte(n.raw)))
		return ast.WalkContinue, nil
	}

	label := entry.Label()
	if n.Locator != "" {
		label += ", " + n.Locator
	}
	_, _ = w.WriteString(`<a class="citation" href="#ref-`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Key)))
	_, _ = w.WriteString(`">(`)
	_, _ = w.Write(util.EscapeHTML([]byte(label)))
	_, _ = w.WriteString(`)</a>`)
	return ast.WalkContinue, nil
}

// CitedKeys returns the distinct citation keys of a parsed document in
// first-use order.
func CitedKeys(doc ast.Node) []string {
	var keys []string
	seen := make(map[string]struct{})
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != KindCitation {
			return ast.WalkContinue, nil
		}
		k := n.(*Node).Key
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		return ast.WalkContinue, nil
	})
	return keys
}
