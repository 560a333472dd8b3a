package tablespan

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Priorities relative to the GFM table extension: the transformer runs
// after the table AST transformer (priority 0), the renderer overrides the
// table extension's row and cell renderers (priority 500).
const (
	transformerPriority = 9000
	rendererPriority    = 100
)

// Extension wires the inference pass and the filtered renderer into a
// goldmark instance. The renderer stays unaware of span and caption
// annotations; it only honors removal flags, which is what forces the
// injection pass to re-derive row and column correspondence afterwards.
var Extension goldmark.Extender = &extender{}

type extender struct{}

func (e *extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithASTTransformers(
			util.Prioritized(&transformer{}, transformerPriority),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(&filteredRenderer{}, rendererPriority),
		),
	)
}

type transformer struct{}

func (t *transformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	Infer(node, reader.Source())
}

// filteredRenderer reproduces the stock GFM table HTML, minus rows and
// cells flagged for removal. Span, caption and tfoot annotations are
// deliberately not rendered here.
type filteredRenderer struct{}

func (r *filteredRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(extast.KindTableHeader, r.renderHeader)
	reg.Register(extast.KindTableRow, r.renderRow)
	reg.Register(extast.KindTableCell, r.renderCell)
}

func (r *filteredRenderer) renderHeader(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if rowRemoved(n) {
		if entering {
			// The body still needs its opening tag even when the header
			// row is elided.
			if n.NextSibling() != nil {
				_, _ = w.WriteString("<tbody>\n")
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	}
	if entering {
		_, _ = w.WriteString("<thead>\n<tr>\n")
	} else {
		_, _ = w.WriteString("</tr>\n</thead>\n")
		if n.NextSibling() != nil {
			_, _ = w.WriteString("<tbody>\n")
		}
	}
	return ast.WalkContinue, nil
}

func (r *filteredRenderer) renderRow(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if rowRemoved(n) {
		if entering {
			if n.NextSibling() == nil {
				_, _ = w.WriteString("</tbody>\n")
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	}
	if entering {
		_, _ = w.WriteString("<tr>\n")
	} else {
		_, _ = w.WriteString("</tr>\n")
		if n.NextSibling() == nil {
			_, _ = w.WriteString("</tbody>\n")
		}
	}
	return ast.WalkContinue, nil
}

func (r *filteredRenderer) renderCell(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if cellRemoved(n) {
		if entering {
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	}
	tag := "td"
	if n.Parent().Kind() == extast.KindTableHeader {
		tag = "th"
	}
	if entering {
		_, _ = w.WriteString("<" + tag)
		if align := alignmentName(n.(*extast.TableCell).Alignment); align != "" {
			_, _ = w.WriteString(` align="` + align + `"`)
		}
		_ = w.WriteByte('>')
	} else {
		_, _ = w.WriteString("</" + tag + ">\n")
	}
	return ast.WalkContinue, nil
}

func alignmentName(a extast.Alignment) string {
	switch a {
	case extast.AlignLeft:
		return "left"
	case extast.AlignRight:
		return "right"
	case extast.AlignCenter:
		return "center"
	}
	return ""
}
