// Package tablespan extends GFM tables with spanning cells, captions and
// footer sections. Plain-text markers inside an already-parsed table are
// turned into annotations on the tree by the inference pass (infer.go),
// removed rows and cells are dropped by the filtered renderer (render.go),
// and the final colspan/rowspan/tfoot/caption markup is written into the
// rendered HTML by the injection pass (inject.go).
package tablespan

import (
	"strings"

	"github.com/yuin/goldmark/ast"
)

// maxTrackedColumns bounds the per-table column state. Rowspan markers in
// columns at or beyond this index are left as literal text.
const maxTrackedColumns = 50

// attrKey is the node attribute slot shared by all passes. It is not
// "data-" prefixed, so goldmark's attribute rendering never emits it.
const attrKey = "mdkit:tablespan"

// CellSpan is the annotation attached to a table cell.
type CellSpan struct {
	Colspan int // resolved column span, 0 means unset
	Rowspan int // resolved row span, 0 means unset
	Remove  bool
}

// RowMeta is the annotation attached to a table row.
type RowMeta struct {
	Tfoot  bool
	Remove bool
}

// TableMeta is the annotation attached to a table.
type TableMeta struct {
	Caption           string
	HasCaption        bool
	RowHeaderFirstCol bool
	TfootMarkerRow    int // AST row index of the === marker row, -1 if none
}

// blockRemoved flags an adjacent caption paragraph for elision.
type blockRemoved struct{}

func cellSpan(n ast.Node) *CellSpan {
	if v, ok := n.AttributeString(attrKey); ok {
		if s, ok := v.(*CellSpan); ok {
			return s
		}
	}
	return nil
}

func ensureCellSpan(n ast.Node) *CellSpan {
	if s := cellSpan(n); s != nil {
		return s
	}
	s := &CellSpan{}
	n.SetAttributeString(attrKey, s)
	return s
}

func cellRemoved(n ast.Node) bool {
	s := cellSpan(n)
	return s != nil && s.Remove
}

func rowMeta(n ast.Node) *RowMeta {
	if v, ok := n.AttributeString(attrKey); ok {
		if m, ok := v.(*RowMeta); ok {
			return m
		}
	}
	return nil
}

func ensureRowMeta(n ast.Node) *RowMeta {
	if m := rowMeta(n); m != nil {
		return m
	}
	m := &RowMeta{}
	n.SetAttributeString(attrKey, m)
	return m
}

func rowRemoved(n ast.Node) bool {
	m := rowMeta(n)
	return m != nil && m.Remove
}

func tableMeta(n ast.Node) *TableMeta {
	if v, ok := n.AttributeString(attrKey); ok {
		if m, ok := v.(*TableMeta); ok {
			return m
		}
	}
	return nil
}

func ensureTableMeta(n ast.Node) *TableMeta {
	if m := tableMeta(n); m != nil {
		return m
	}
	m := &TableMeta{TfootMarkerRow: -1}
	n.SetAttributeString(attrKey, m)
	return m
}

func markBlockRemoved(n ast.Node) {
	n.SetAttributeString(attrKey, blockRemoved{})
}

func isBlockRemoved(n ast.Node) bool {
	if v, ok := n.AttributeString(attrKey); ok {
		_, ok := v.(blockRemoved)
		return ok
	}
	return false
}

// nodeText extracts the plain text of a node: raw line content for blocks
// that carry line segments, text segments of inline children otherwise.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		return strings.TrimSpace(b.String())
	}
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				b.Write(t.Segment.Value(source))
			case *ast.String:
				b.Write(t.Value)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
