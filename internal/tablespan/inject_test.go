package tablespan

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

func renderDoc(t *testing.T, src string) (string, ast.Node, []byte) {
	t.Helper()
	md := goldmark.New(goldmark.WithExtensions(extension.GFM, Extension))
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))
	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, doc); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String(), doc, source
}

func renderAndInject(t *testing.T, src string, opts Options) string {
	t.Helper()
	rendered, doc, source := renderDoc(t, src)
	return Inject(rendered, doc, source, opts)
}

func TestInjectPassthroughIsByteIdentical(t *testing.T) {
	src := `# Title

Some paragraph.

| H1 | H2 |
| --- | --- |
| a | b |
| c | d |
`
	rendered, doc, source := renderDoc(t, src)
	out := Inject(rendered, doc, source, Options{})
	if out != rendered {
		t.Errorf("pass-through changed output:\n in: %q\nout: %q", rendered, out)
	}
}

func TestInjectColspanChain(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 | H3 |
| --- | --- | --- |
| A |||
`, Options{})
	if !strings.Contains(out, `<td colspan="3">A</td>`) {
		t.Errorf("missing merged cell, got:\n%s", out)
	}
	if strings.Count(out, "<td") != 1 {
		t.Errorf("expected exactly one body cell, got:\n%s", out)
	}
}

func TestInjectIsolatedEmptyCell(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 | H3 |
| --- | --- | --- |
| A | | B |
`, Options{})
	if strings.Count(out, "<td") != 3 {
		t.Errorf("expected three body cells, got:\n%s", out)
	}
	if strings.Contains(out, "colspan") {
		t.Errorf("unexpected colspan, got:\n%s", out)
	}
}

func TestInjectRowspanContinuation(t *testing.T) {
	out := renderAndInject(t, `| H |
| --- |
| A |
| ^^ |
| ^^ |
`, Options{})
	if !strings.Contains(out, `<td rowspan="3">A</td>`) {
		t.Errorf("missing rowspan cell, got:\n%s", out)
	}
	// Header plus the one surviving body row.
	if got := strings.Count(out, "<tr>"); got != 2 {
		t.Errorf("expected 2 rows, got %d:\n%s", got, out)
	}
}

func TestInjectTfootBoundary(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 |
| --- | --- |
| a | b |
| c | d |
| === | === |
| f1 | f2 |
`, Options{})
	if got := strings.Count(out, "<tbody>"); got != 1 {
		t.Errorf("tbody count = %d, want 1:\n%s", got, out)
	}
	if got := strings.Count(out, "<tfoot>"); got != 1 {
		t.Errorf("tfoot count = %d, want 1:\n%s", got, out)
	}
	if strings.Contains(out, "===") {
		t.Errorf("marker row leaked into output:\n%s", out)
	}
	// Header plus two data rows plus one footer row.
	if got := strings.Count(out, "<tr>"); got != 4 {
		t.Errorf("tr count = %d, want 4:\n%s", got, out)
	}
	tbodyEnd := strings.Index(out, "</tbody>")
	tfootStart := strings.Index(out, "<tfoot>")
	footer := strings.Index(out, "f1")
	data := strings.Index(out, "<td>c</td>")
	if data == -1 || data > tbodyEnd {
		t.Errorf("data row not inside tbody:\n%s", out)
	}
	if footer < tfootStart {
		t.Errorf("footer row not inside tfoot:\n%s", out)
	}
}

func TestInjectCaptionAbove(t *testing.T) {
	out := renderAndInject(t, `[My Caption]

| H |
| --- |
| a |
`, Options{CaptionPosition: CaptionAbove})
	want := `<figure class="table-figure">
<figcaption>My Caption</figcaption>
<table>`
	if !strings.Contains(out, want) {
		t.Errorf("missing figure/figcaption prefix:\n%s", out)
	}
	if strings.Contains(out, "<p>[My Caption]</p>") {
		t.Errorf("caption paragraph rendered twice:\n%s", out)
	}
	if !strings.Contains(out, "</figure>") {
		t.Errorf("figure not closed:\n%s", out)
	}
}

func TestInjectCaptionBelow(t *testing.T) {
	out := renderAndInject(t, `| H |
| --- |
| a |

[Below Caption]
`, Options{CaptionPosition: CaptionBelow})
	if !strings.Contains(out, "</table>\n<figcaption>Below Caption</figcaption>\n</figure>") {
		t.Errorf("missing trailing figcaption:\n%s", out)
	}
	if strings.Contains(out, "<p>[Below Caption]</p>") {
		t.Errorf("caption paragraph rendered twice:\n%s", out)
	}
}

func TestInjectAlignmentOverride(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 |
| --- | ---: |
| a | :value |
`, Options{})
	if !strings.Contains(out, `style="text-align: left"`) {
		t.Errorf("missing alignment style:\n%s", out)
	}
	if strings.Contains(out, ":value") {
		t.Errorf("alignment colon not stripped:\n%s", out)
	}
	if strings.Contains(out, `<td align="right" style=`) || strings.Contains(out, `align="right" style`) {
		t.Errorf("column alignment attribute not overridden:\n%s", out)
	}
}

func TestInjectAlignmentVariants(t *testing.T) {
	tests := []struct {
		cell string
		want string
		text string
	}{
		{":left", "text-align: left", ">left</td>"},
		{"right:", "text-align: right", ">right</td>"},
		{":center:", "text-align: center", ">center</td>"},
	}
	for _, tt := range tests {
		out := renderAndInject(t, fmt.Sprintf(`| H |
| --- |
| %s |
`, tt.cell), Options{})
		if !strings.Contains(out, tt.want) {
			t.Errorf("cell %q: missing %q:\n%s", tt.cell, tt.want, out)
		}
		if !strings.Contains(out, tt.text) {
			t.Errorf("cell %q: colon not stripped, want %q:\n%s", tt.cell, tt.text, out)
		}
	}
}

func TestInjectDoubleColonIsLiteral(t *testing.T) {
	out := renderAndInject(t, `| H |
| --- |
| ::notalign |
`, Options{})
	if strings.Contains(out, "text-align") {
		t.Errorf("double colon treated as alignment:\n%s", out)
	}
	if !strings.Contains(out, "::notalign") {
		t.Errorf("cell text mangled:\n%s", out)
	}
}

func TestInjectRowHeaderConversion(t *testing.T) {
	out := renderAndInject(t, `|  | H2 |
| --- | --- |
| r1 | v1 |
| r2 | v2 |
`, Options{})
	if got := strings.Count(out, `<th scope="row">`); got != 2 {
		t.Errorf("row header count = %d, want 2:\n%s", got, out)
	}
	if !strings.Contains(out, `<th scope="row">r1</th>`) {
		t.Errorf("first label cell not converted:\n%s", out)
	}
}

func TestInjectSeparatorRowElided(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 |
| --- | --- |
| a | b |
| — | — |
| c | d |
`, Options{})
	if strings.Contains(out, "—") {
		t.Errorf("separator row leaked:\n%s", out)
	}
	// Header plus the two data rows.
	if got := strings.Count(out, "<tr>"); got != 3 {
		t.Errorf("tr count = %d, want 3:\n%s", got, out)
	}
}

func TestInjectRowspanAcrossElidedRows(t *testing.T) {
	// The separator row vanishes from HTML, so AST and HTML row indices
	// diverge below it; the colspan on the last row must still land.
	out := renderAndInject(t, `| H1 | H2 |
| --- | --- |
| a | b |
| — | — |
| c ||
`, Options{})
	if !strings.Contains(out, `colspan`) {
		t.Errorf("span lost below elided row:\n%s", out)
	}
	if !strings.Contains(out, `<td colspan="2">c</td>`) {
		t.Errorf("expected merged c cell:\n%s", out)
	}
}

func TestInjectColumnBound(t *testing.T) {
	// The caption forces the full scan; a bare table would short-circuit
	// through the pass-through guard without ever touching the marker.
	const cols = 60
	var b strings.Builder
	b.WriteString("[Wide]\n\n")
	writeRow := func(cell func(i int) string) {
		for i := 0; i < cols; i++ {
			fmt.Fprintf(&b, "| %s ", cell(i))
		}
		b.WriteString("|\n")
	}
	writeRow(func(i int) string { return fmt.Sprintf("h%d", i) })
	writeRow(func(i int) string { return "---" })
	writeRow(func(i int) string { return fmt.Sprintf("x%d", i) })
	writeRow(func(i int) string {
		if i == 55 {
			return "^^"
		}
		return fmt.Sprintf("y%d", i)
	})
	out := renderAndInject(t, b.String(), Options{})
	if !strings.Contains(out, "<figcaption>Wide</figcaption>") {
		t.Fatalf("full scan did not run:\n%s", out)
	}
	if !strings.Contains(out, "<td>^^</td>") {
		t.Errorf("marker beyond the column bound should stay literal:\n%s", out)
	}
	if strings.Contains(out, "rowspan") {
		t.Errorf("rowspan tracked beyond the column bound:\n%s", out)
	}
}

func TestInjectEmptyCellAfterColspanSurvives(t *testing.T) {
	// A trailing empty merges into A, but the empty flanked by the merged
	// cell and B is a missing value and must keep its own <td>.
	out := renderAndInject(t, `| H1 | H2 | H3 | H4 |
| --- | --- | --- | --- |
| A | | | B |
`, Options{})
	if !strings.Contains(out, `<td colspan="2">A</td>`) {
		t.Errorf("missing merged cell:\n%s", out)
	}
	if got := strings.Count(out, "<td"); got != 3 {
		t.Errorf("td count = %d, want 3:\n%s", got, out)
	}
	if !strings.Contains(out, "<td></td>") {
		t.Errorf("surviving empty cell dropped:\n%s", out)
	}
}

func TestInjectTimeoutPassesRemainderThrough(t *testing.T) {
	var b strings.Builder
	b.WriteString("| H1 | H2 |\n| --- | --- |\n| a |||\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "| r%da | r%db |\n", i, i)
	}
	b.WriteString("| lastcella | lastcellb |\n")
	rendered, doc, source := renderDoc(t, b.String())
	out := Inject(rendered, doc, source, Options{Timeout: time.Nanosecond})
	if !strings.Contains(out, "lastcella") {
		t.Errorf("remainder lost on timeout:\n%s", out)
	}
}

func TestInjectMultipleTables(t *testing.T) {
	out := renderAndInject(t, `| H1 | H2 |
| --- | --- |
| a ||

some text

| G1 |
| --- |
| B |
| ^^ |
`, Options{})
	if !strings.Contains(out, `colspan="2"`) {
		t.Errorf("first table span missing:\n%s", out)
	}
	if !strings.Contains(out, `<td rowspan="2">B</td>`) {
		t.Errorf("second table span missing:\n%s", out)
	}
}
