package tablespan

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"golang.org/x/net/html"
)

// CaptionPosition selects where a table caption is rendered relative to the
// table inside its figure.
type CaptionPosition int

const (
	CaptionAbove CaptionPosition = iota
	CaptionBelow
)

// Options configures the injection pass.
type Options struct {
	CaptionPosition CaptionPosition
	// Timeout bounds the wall-clock time spent rewriting one document.
	// Once exceeded, the remaining input is copied through verbatim.
	// Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultTimeout is the wall-clock budget for rewriting one document.
const DefaultTimeout = 10 * time.Second

// timeoutCheckInterval is how many consumed input bytes pass between
// wall-clock checks.
const timeoutCheckInterval = 1000

// fingerprintLen is how many characters of a removed paragraph's text are
// matched when eliding it from the HTML stream.
const fingerprintLen = 50

// cellRec is the injection pass's working model of one table cell,
// addressed by AST position: indices count all cells of the parsed table,
// including ones the renderer later dropped.
type cellRec struct {
	col  int
	span CellSpan
	text string
}

type rowRec struct {
	header  bool
	tfoot   bool
	removed bool // row produces no <tr> in HTML
	cells   []cellRec
}

type tableRec struct {
	caption    string
	hasCaption bool
	rowHeader  bool
	marker     int // AST row index of the === row, -1 if none
	rows       []rowRec
}

// collect walks the annotated tree once and builds the positional records
// the HTML scan resolves against, plus the text fingerprints of removed
// caption paragraphs.
func collect(doc ast.Node, source []byte) ([]tableRec, map[string]struct{}) {
	var tables []tableRec
	fps := make(map[string]struct{})

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph:
			if isBlockRemoved(n) {
				fps[fingerprint(nodeText(n, source))] = struct{}{}
			}
			return ast.WalkSkipChildren, nil
		case extast.KindTable:
			tables = append(tables, collectTable(n, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return tables, fps
}

func collectTable(t ast.Node, source []byte) tableRec {
	rec := tableRec{marker: -1}
	if m := tableMeta(t); m != nil {
		rec.caption = m.Caption
		rec.hasCaption = m.HasCaption
		rec.rowHeader = m.RowHeaderFirstCol
		rec.marker = m.TfootMarkerRow
	}
	for ri, row := range tableRows(t) {
		rr := rowRec{header: ri == 0}
		if m := rowMeta(row); m != nil {
			rr.tfoot = m.Tfoot
			rr.removed = m.Remove
		}
		surviving := 0
		for ci, cell := range rowCells(row) {
			cr := cellRec{col: ci, text: nodeText(cell, source)}
			if s := cellSpan(cell); s != nil {
				cr.span = *s
			}
			if !cr.span.Remove {
				surviving++
			}
			rr.cells = append(rr.cells, cr)
		}
		if surviving == 0 {
			rr.removed = true
		}
		rec.rows = append(rec.rows, rr)
	}
	return rec
}

func fingerprint(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > fingerprintLen {
		r = r[:fingerprintLen]
	}
	return string(r)
}

// needsRewrite is the pass-through guard: when the tree carries no table
// work and the HTML has no alignment-colon candidates, the full scan is
// skipped. Running the scan anyway would produce byte-identical output.
func needsRewrite(tables []tableRec, fps map[string]struct{}, htmlIn string) bool {
	if len(fps) > 0 {
		return true
	}
	for _, t := range tables {
		if t.hasCaption || t.rowHeader || t.marker >= 0 {
			return true
		}
		for _, r := range t.rows {
			if r.removed || r.tfoot {
				return true
			}
			for _, c := range r.cells {
				if c.span.Remove || c.span.Colspan > 0 || c.span.Rowspan > 0 {
					return true
				}
			}
		}
	}
	if len(tables) == 0 {
		return false
	}
	return strings.Contains(htmlIn, ">:") || strings.Contains(htmlIn, ":<")
}

// Inject rewrites rendered HTML to realize the span, caption, tfoot and
// alignment annotations carried by the same tree the HTML was rendered
// from. The renderer elides removed rows and cells, so AST and HTML row
// indices diverge; correspondence is re-derived here from positional
// records. The pass never fails: on any internal inconsistency or timeout
// it degrades to copying the input through unchanged.
func Inject(htmlIn string, doc ast.Node, source []byte, opts Options) (out string) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tables, fps := collect(doc, source)
	if !needsRewrite(tables, fps, htmlIn) {
		return htmlIn
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("table injection recovered, returning original html", "panic", fmt.Sprint(r))
			out = htmlIn
		}
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	inj := &injector{
		in:       htmlIn,
		tables:   tables,
		fps:      fps,
		pos:      opts.CaptionPosition,
		log:      log,
		tableIdx: -1,
	}
	return inj.run(start, timeout)
}

type injector struct {
	in     string
	tables []tableRec
	fps    map[string]struct{}
	pos    CaptionPosition
	log    *slog.Logger

	z        *html.Tokenizer
	b        strings.Builder
	consumed int

	inTable  bool
	tableIdx int
	cur      *tableRec
	htmlRow  int
	astRow   int
	mapping  []int       // html cell position -> AST column index
	cellPos  int         // html cell position within current row
	occupied map[int]int // AST column -> last html row held by a rowspan
	tfootAt  int         // html row where tfoot begins, -1 if none
	tfootOn  bool

	lastColspan     int // resolved colspan of previous emitted cell in row
	skipNewline     bool
	timedOut        bool
	failed          bool
	nextTimeoutScan int
}

func (j *injector) run(start time.Time, timeout time.Duration) string {
	j.z = html.NewTokenizer(strings.NewReader(j.in))
	j.nextTimeoutScan = timeoutCheckInterval
	for {
		tt := j.z.Next()
		if tt == html.ErrorToken {
			if j.z.Err() == io.EOF {
				break
			}
			// Malformed input: never emit a half-rewritten buffer.
			return j.in
		}
		if j.consumed >= j.nextTimeoutScan {
			j.nextTimeoutScan = j.consumed + timeoutCheckInterval
			if time.Since(start) > timeout {
				j.log.Warn("table injection timed out, passing remainder through",
					"consumed", j.consumed, "timeout", timeout)
				j.b.WriteString(j.in[j.consumed:])
				return j.b.String()
			}
		}
		j.handle(tt)
		if j.failed {
			return j.in
		}
	}
	return j.b.String()
}

func (j *injector) handle(tt html.TokenType) {
	raw := string(j.z.Raw())
	switch tt {
	case html.StartTagToken:
		name, _ := j.z.TagName()
		switch string(name) {
		case "table":
			j.startTable(raw)
			return
		case "tr":
			if j.inTable && j.cur != nil {
				j.startRow(raw)
				return
			}
		case "td", "th":
			if j.inTable && j.cur != nil {
				j.handleCell(string(name), raw)
				return
			}
		case "p":
			if len(j.fps) > 0 {
				j.handleParagraph(raw)
				return
			}
		}
		j.emit(raw)
	case html.EndTagToken:
		name, _ := j.z.TagName()
		switch string(name) {
		case "tbody":
			if j.inTable && j.tfootOn {
				j.consumed += len(raw)
				j.b.WriteString("</tfoot>\n")
				j.tfootOn = false
				return
			}
		case "table":
			if j.inTable {
				j.endTable(raw)
				return
			}
		}
		j.emit(raw)
	case html.TextToken:
		if j.skipNewline && strings.HasPrefix(raw, "\n") {
			j.consumed += len(raw)
			j.skipNewline = false
			j.b.WriteString(raw[1:])
			return
		}
		j.skipNewline = false
		j.emit(raw)
	default:
		j.emit(raw)
	}
}

func (j *injector) emit(raw string) {
	j.consumed += len(raw)
	j.skipNewline = false
	j.b.WriteString(raw)
}

func (j *injector) startTable(raw string) {
	j.tableIdx++
	j.inTable = true
	j.cur = nil
	if j.tableIdx < len(j.tables) {
		j.cur = &j.tables[j.tableIdx]
	}
	j.htmlRow = -1
	j.occupied = make(map[int]int)
	j.tfootOn = false
	j.tfootAt = -1

	if j.cur != nil && j.cur.marker >= 0 {
		// Surviving rows before the elided marker row tell us at which
		// HTML row position the tfoot really starts.
		n := 0
		for ri := 0; ri < j.cur.marker && ri < len(j.cur.rows); ri++ {
			if !j.cur.rows[ri].removed {
				n++
			}
		}
		j.tfootAt = n
	}

	if j.cur != nil && j.cur.hasCaption {
		j.b.WriteString(`<figure class="table-figure">` + "\n")
		if j.pos == CaptionAbove {
			j.b.WriteString("<figcaption>" + html.EscapeString(j.cur.caption) + "</figcaption>\n")
		}
	}
	j.emit(raw)
}

func (j *injector) endTable(raw string) {
	if j.tfootOn {
		// The renderer never emitted a </tbody> to rewrite.
		j.b.WriteString("</tfoot>\n")
		j.tfootOn = false
	}
	j.consumed += len(raw)
	j.b.WriteString(raw)
	if j.cur != nil && j.cur.hasCaption {
		if j.pos == CaptionBelow {
			j.b.WriteString("\n<figcaption>" + html.EscapeString(j.cur.caption) + "</figcaption>")
		}
		j.b.WriteString("\n</figure>")
		j.skipNewline = false
	}
	j.inTable = false
	j.cur = nil
}

func (j *injector) startRow(raw string) {
	j.htmlRow++
	j.cellPos = 0
	j.lastColspan = 0
	j.astRow = j.astRowFor(j.htmlRow)
	j.mapping = j.mapping[:0]
	if j.astRow >= 0 {
		for col := range j.cur.rows[j.astRow].cells {
			c := &j.cur.rows[j.astRow].cells[col]
			if c.span.Remove {
				continue
			}
			if until, ok := j.occupied[col]; ok && until >= j.htmlRow {
				// Column still held by a rowspan begun in an earlier
				// HTML row; it contributes no cell here.
				continue
			}
			j.mapping = append(j.mapping, col)
		}
	}

	// A row is tfoot only when its HTML position falls strictly after the
	// elided marker row's position; the sticky AST flag alone is not
	// trusted.
	if j.astRow >= 0 && j.cur.rows[j.astRow].tfoot &&
		j.tfootAt >= 0 && j.htmlRow >= j.tfootAt && !j.tfootOn {
		j.b.WriteString("</tbody>\n<tfoot>\n")
		j.tfootOn = true
	}
	j.emit(raw)
}

// astRowFor maps an HTML row index back to the AST row index by counting
// rows that still produce a <tr>.
func (j *injector) astRowFor(htmlRow int) int {
	n := 0
	for ri := range j.cur.rows {
		if j.cur.rows[ri].removed {
			continue
		}
		if n == htmlRow {
			return ri
		}
		n++
	}
	return -1
}

// handleCell buffers one complete cell, resolves its record and emits the
// rewritten form.
func (j *injector) handleCell(tag, startRaw string) {
	j.consumed += len(startRaw)
	inner, endRaw, ok := j.bufferUntilEnd(tag)
	if !ok {
		j.failed = true
		return
	}
	cellText := strings.TrimSpace(html.UnescapeString(textOf(inner)))

	var rec *cellRec
	if j.cellPos < len(j.mapping) {
		rec = &j.cur.rows[j.astRow].cells[j.mapping[j.cellPos]]
	} else {
		rec = j.findByText(cellText)
	}
	j.cellPos++

	// Removal disposition. A resolved record is authoritative; the
	// marker-text and absorbed-empty re-checks only cover cells neither
	// position mapping nor text fallback could resolve.
	if rec != nil {
		if rec.span.Remove {
			return
		}
	} else if cellText == "^^" || (cellText == "" && j.lastColspan > 1) {
		return
	}

	switch {
	case rec != nil && (rec.span.Colspan > 1 || rec.span.Rowspan > 1):
		j.b.WriteString(injectSpanAttrs(startRaw, rec.span))
		if rec.span.Rowspan > 1 {
			width := rec.span.Colspan
			if width < 1 {
				width = 1
			}
			for c := rec.col; c < rec.col+width; c++ {
				j.occupied[c] = j.htmlRow + rec.span.Rowspan - 1
			}
		}
		j.writeInner(inner)
		j.b.WriteString(endRaw)
	case tag == "td" && j.cur.rowHeader && j.astRow > 0 && rec != nil && rec.col == 0:
		j.b.WriteString(`<th scope="row"` + startRaw[3:])
		j.writeInner(inner)
		j.b.WriteString("</th>")
	default:
		if css, strip := alignFromColons(cellText); css != "" {
			j.b.WriteString(injectAlignStyle(startRaw, css))
			j.writeInner(stripColons(inner, strip))
			j.b.WriteString(endRaw)
		} else {
			j.b.WriteString(startRaw)
			j.writeInner(inner)
			j.b.WriteString(endRaw)
		}
	}

	if rec != nil {
		j.lastColspan = rec.span.Colspan
	} else {
		j.lastColspan = 0
	}
}

type innerTok struct {
	raw  string
	text bool
}

// bufferUntilEnd collects raw tokens until the matching end tag.
func (j *injector) bufferUntilEnd(tag string) ([]innerTok, string, bool) {
	var inner []innerTok
	for {
		tt := j.z.Next()
		if tt == html.ErrorToken {
			return nil, "", false
		}
		raw := string(j.z.Raw())
		j.consumed += len(raw)
		if tt == html.EndTagToken {
			name, _ := j.z.TagName()
			if string(name) == tag {
				return inner, raw, true
			}
		}
		inner = append(inner, innerTok{raw: raw, text: tt == html.TextToken})
	}
}

func textOf(inner []innerTok) string {
	var b strings.Builder
	for _, t := range inner {
		if t.text {
			b.WriteString(t.raw)
		}
	}
	return b.String()
}

func (j *injector) writeInner(inner []innerTok) {
	for _, t := range inner {
		j.b.WriteString(t.raw)
	}
}

// findByText is the fallback when positional matching fails: exact-text
// matching within the same or adjacent AST row. Matches carrying span
// attributes are preferred; an ambiguous match is discarded, never guessed.
func (j *injector) findByText(text string) *cellRec {
	if j.cur == nil || text == "" {
		return nil
	}
	var cands []*cellRec
	for _, ri := range []int{j.astRow, j.astRow - 1, j.astRow + 1} {
		if ri < 0 || ri >= len(j.cur.rows) {
			continue
		}
		for i := range j.cur.rows[ri].cells {
			c := &j.cur.rows[ri].cells[i]
			if c.text == text {
				cands = append(cands, c)
			}
		}
	}
	if len(cands) == 1 {
		return cands[0]
	}
	var spanned []*cellRec
	for _, c := range cands {
		if c.span.Colspan > 0 || c.span.Rowspan > 0 {
			spanned = append(spanned, c)
		}
	}
	if len(spanned) == 1 {
		return spanned[0]
	}
	return nil
}

// handleParagraph buffers one paragraph and elides it when its text
// fingerprint matches a caption paragraph removed from the tree, so
// captions do not render twice.
func (j *injector) handleParagraph(startRaw string) {
	j.consumed += len(startRaw)
	inner, endRaw, ok := j.bufferUntilEnd("p")
	if !ok {
		j.failed = true
		return
	}
	text := html.UnescapeString(textOf(inner))
	if _, hit := j.fps[fingerprint(text)]; hit {
		j.skipNewline = true
		return
	}
	j.b.WriteString(startRaw)
	j.writeInner(inner)
	j.b.WriteString(endRaw)
}

func injectSpanAttrs(startRaw string, span CellSpan) string {
	var b strings.Builder
	b.WriteString(startRaw[:len(startRaw)-1])
	if span.Colspan > 1 {
		fmt.Fprintf(&b, ` colspan="%d"`, span.Colspan)
	}
	if span.Rowspan > 1 {
		fmt.Fprintf(&b, ` rowspan="%d"`, span.Rowspan)
	}
	b.WriteByte('>')
	return b.String()
}

// alignFromColons inspects leading/trailing alignment colons. strip is
// which ends to strip: 1 leading, 2 trailing, 3 both.
func alignFromColons(text string) (css string, strip int) {
	leading := strings.HasPrefix(text, ":") && !strings.HasPrefix(text, "::")
	trailing := strings.HasSuffix(text, ":") && !strings.HasSuffix(text, "::") &&
		!strings.HasSuffix(text, `\:`)
	if len(text) == 1 && leading {
		trailing = false
	}
	switch {
	case leading && trailing:
		return "center", 3
	case leading:
		return "left", 1
	case trailing:
		return "right", 2
	}
	return "", 0
}

// injectAlignStyle adds a text-align style, dropping any column-level
// align attribute the renderer emitted.
func injectAlignStyle(startRaw, css string) string {
	s := startRaw
	if i := strings.Index(s, ` align="`); i >= 0 {
		rest := s[i+len(` align="`):]
		if q := strings.IndexByte(rest, '"'); q >= 0 {
			s = s[:i] + rest[q+1:]
		}
	}
	return s[:len(s)-1] + ` style="text-align: ` + css + `">`
}

// stripColons removes the alignment colons from the first and/or last text
// chunk of a buffered cell.
func stripColons(inner []innerTok, strip int) []innerTok {
	out := make([]innerTok, len(inner))
	copy(out, inner)
	if strip&1 != 0 {
		for i := range out {
			if !out[i].text || strings.TrimSpace(out[i].raw) == "" {
				continue
			}
			out[i].raw = dropLeadingColon(out[i].raw)
			break
		}
	}
	if strip&2 != 0 {
		for i := len(out) - 1; i >= 0; i-- {
			if !out[i].text || strings.TrimSpace(out[i].raw) == "" {
				continue
			}
			out[i].raw = dropTrailingColon(out[i].raw)
			break
		}
	}
	return out
}

func dropLeadingColon(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	if i < len(s) && s[i] == ':' {
		return s[:i] + s[i+1:]
	}
	return s
}

func dropTrailingColon(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t' || s[i-1] == '\n') {
		i--
	}
	if i > 0 && s[i-1] == ':' {
		return s[:i-1] + s[i:]
	}
	return s
}
