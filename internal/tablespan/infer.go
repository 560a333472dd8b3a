package tablespan

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
)

// Marker grammar, matched against the entire trimmed cell text.
func isColspanMarker(s string) bool { return s == "" || s == "<<" }

func isRowspanMarker(s string) bool { return s == "^^" }

func isTfootMarker(s string) bool {
	if len(s) < 3 {
		return false
	}
	return strings.Trim(s, "=") == ""
}

func isSeparatorMarker(s string) bool { return s == "—" }

// realContent reports whether a cell holds actual content, as opposed to
// being empty or a span continuation marker.
func realContent(s string) bool {
	return s != "" && !isColspanMarker(s) && !isRowspanMarker(s)
}

// captionText matches the caption grammar: the whole trimmed text is
// [text] with nothing else.
func captionText(s string) (string, bool) {
	if len(s) < 2 || !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return "", false
	}
	return s[1 : len(s)-1], true
}

// Infer walks the tree once and annotates tables, rows and cells with the
// span, caption and tfoot semantics encoded by plain-text markers. The tree
// is mutated in place; no HTML is produced.
func Infer(doc ast.Node, source []byte) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Kind() != extast.KindTable {
			return ast.WalkContinue, nil
		}
		inferTable(n, source)
		return ast.WalkSkipChildren, nil
	})
}

// tableRows returns the rows of a table in document order. The header node
// counts as row zero; its children are cells like any other row.
func tableRows(t ast.Node) []ast.Node {
	var rows []ast.Node
	for c := t.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.Kind() {
		case extast.KindTableHeader, extast.KindTableRow:
			rows = append(rows, c)
		}
	}
	return rows
}

func rowCells(row ast.Node) []ast.Node {
	var cells []ast.Node
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Kind() == extast.KindTableCell {
			cells = append(cells, c)
		}
	}
	return cells
}

func cellTexts(cells []ast.Node, source []byte) []string {
	texts := make([]string, len(cells))
	for i, c := range cells {
		texts[i] = nodeText(c, source)
	}
	return texts
}

func inferTable(t ast.Node, source []byte) {
	meta := ensureTableMeta(t)
	rows := tableRows(t)

	// Caption precedence is last-write-wins in checked order: paragraph
	// before the table, paragraph after it, caption row.
	for _, sib := range []ast.Node{t.PreviousSibling(), t.NextSibling()} {
		if sib == nil || sib.Kind() != ast.KindParagraph {
			continue
		}
		if txt, ok := captionText(nodeText(sib, source)); ok {
			meta.Caption = txt
			meta.HasCaption = true
			markBlockRemoved(sib)
		}
	}

	// Caption rows: the last matching row in document order wins.
	capRow := -1
	capText := ""
	for ri, row := range rows {
		cells := rowCells(row)
		texts := cellTexts(cells, source)
		if txt, ok := captionRowText(texts); ok {
			capRow = ri
			capText = txt
		}
	}
	if capRow >= 0 {
		meta.Caption = capText
		meta.HasCaption = true
		ensureRowMeta(rows[capRow]).Remove = true
		for _, c := range rowCells(rows[capRow]) {
			ensureCellSpan(c).Remove = true
		}
	}

	// Single top-to-bottom pass for spans and tfoot membership.
	// active maps a column index to the cell eligible for rowspan growth.
	active := make(map[int]ast.Node)
	inTfoot := false

	for ri, row := range rows {
		cells := rowCells(row)
		texts := cellTexts(cells, source)
		rm := ensureRowMeta(row)
		if inTfoot {
			rm.Tfoot = true
		}

		if ri == 0 && len(texts) > 0 && texts[0] == "" {
			meta.RowHeaderFirstCol = true
		}

		if ri > 0 && len(cells) > 0 && allMatch(texts, isTfootMarker) {
			if !inTfoot {
				inTfoot = true
				meta.TfootMarkerRow = ri
			}
			rm.Tfoot = true
			rm.Remove = true
			for _, c := range cells {
				ensureCellSpan(c).Remove = true
			}
			continue
		}

		if len(cells) > 0 && allMatch(texts, isSeparatorMarker) {
			// Separator rows vanish but still consume their row index.
			rm.Remove = true
			for _, c := range cells {
				ensureCellSpan(c).Remove = true
			}
			continue
		}

		// Tfoot rows and already-removed rows (captions) take no part in
		// cell merging.
		if rm.Tfoot || rm.Remove {
			continue
		}

		for ci, cell := range cells {
			txt := texts[ci]
			switch {
			case cellRemoved(cell):
			case isColspanMarker(txt):
				inferColspan(cells, texts, ci)
			case isRowspanMarker(txt) && ri > 0:
				inferRowspan(rows, ri, ci, cell, active)
			default:
				// A regular cell becomes the rowspan target for later
				// rows in its column.
				if ci < maxTrackedColumns {
					active[ci] = cell
				}
			}
		}

		// A row whose cells were all absorbed produces no <tr> at all.
		if len(cells) > 0 {
			gone := true
			for _, c := range cells {
				if !cellRemoved(c) {
					gone = false
					break
				}
			}
			if gone {
				rm.Remove = true
			}
		}
	}
}

// captionRowText matches the caption-row grammar: a single cell with
// caption-shaped text, or every cell carrying the identical caption.
func captionRowText(texts []string) (string, bool) {
	if len(texts) == 0 {
		return "", false
	}
	txt, ok := captionText(texts[0])
	if !ok {
		return "", false
	}
	if len(texts) == 1 {
		return txt, true
	}
	for _, t := range texts[1:] {
		if t != texts[0] {
			return "", false
		}
	}
	return txt, true
}

func allMatch(texts []string, pred func(string) bool) bool {
	for _, t := range texts {
		if !pred(t) {
			return false
		}
	}
	return true
}

// inferColspan merges an empty or << cell into the nearest preceding
// surviving cell of the same row.
func inferColspan(cells []ast.Node, texts []string, ci int) {
	ti := -1
	for j := ci - 1; j >= 0; j-- {
		if !cellRemoved(cells[j]) {
			ti = j
			break
		}
	}
	if ti < 0 {
		// No valid predecessor. Empty cells are dropped outright; a <<
		// marker stays literal text.
		if texts[ci] == "" {
			ensureCellSpan(cells[ci]).Remove = true
		}
		return
	}

	// Merge when the target is itself empty (chained empties), or when the
	// target has content and nothing real follows (trailing empties). An
	// empty cell flanked by content on both sides is a legitimate missing
	// value and stays.
	merge := texts[ti] == ""
	if !merge {
		merge = ci+1 >= len(cells) || !realContent(texts[ci+1])
	}
	if !merge {
		return
	}
	s := ensureCellSpan(cells[ti])
	if s.Colspan == 0 {
		s.Colspan = 2
	} else {
		s.Colspan++
	}
	ensureCellSpan(cells[ci]).Remove = true
}

// inferRowspan merges a ^^ cell into the active rowspan target of its
// column, falling back to the cell directly above.
func inferRowspan(rows []ast.Node, ri, ci int, cell ast.Node, active map[int]ast.Node) {
	if ci >= maxTrackedColumns {
		// Beyond the tracked column bound the marker is literal text.
		return
	}
	target := active[ci]
	if target == nil {
		prev := rowCells(rows[ri-1])
		if ci < len(prev) && !cellRemoved(prev[ci]) {
			target = prev[ci]
			active[ci] = target
		}
	}
	if target != nil {
		s := ensureCellSpan(target)
		if s.Rowspan == 0 {
			s.Rowspan = 2
		} else {
			s.Rowspan++
		}
	}
	ensureCellSpan(cell).Remove = true
}
