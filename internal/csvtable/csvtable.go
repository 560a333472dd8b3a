// Package csvtable rewrites fenced csv and tsv code blocks into pipe tables
// before the document is parsed as Markdown. Blocks that fail to parse are
// left untouched.
package csvtable

import (
	"encoding/csv"
	"errors"
	"log/slog"
	"strings"
)

// Rewrite scans src line by line and replaces every fenced block whose info
// string is exactly "csv" or "tsv" with an equivalent pipe table. Any other
// fenced block passes through unchanged, as does a block whose body does not
// parse.
func Rewrite(src []byte, log *slog.Logger) []byte {
	if log == nil {
		log = slog.Default()
	}
	lines := strings.Split(string(src), "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		delim, ok := fenceDelim(line)
		if !ok {
			out = append(out, line)
			continue
		}

		// Collect the block body up to the closing fence.
		fence := strings.TrimSpace(line)[:3]
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == fence {
				end = j
				break
			}
		}
		if end < 0 {
			// Unterminated fence: nothing to rewrite.
			out = append(out, line)
			continue
		}

		body := strings.Join(lines[i+1:end], "\n")
		table, err := toPipeTable(body, delim)
		if err != nil {
			log.Warn("csv block left as-is", "error", err)
			out = append(out, lines[i:end+1]...)
			i = end
			continue
		}
		out = append(out, table...)
		i = end
	}

	return []byte(strings.Join(out, "\n"))
}

// fenceDelim reports whether a line opens a csv or tsv fence and returns the
// field delimiter to use.
func fenceDelim(line string) (rune, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "```") {
		return 0, false
	}
	switch strings.TrimSpace(s[3:]) {
	case "csv":
		return ',', true
	case "tsv":
		return '\t', true
	}
	return 0, false
}

func toPipeTable(body string, delim rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(body))
	r.Comma = delim
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("block has no records")
	}

	width := 0
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}

	var out []string
	out = append(out, pipeRow(records[0], width))
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	out = append(out, pipeRow(sep, width))
	for _, rec := range records[1:] {
		out = append(out, pipeRow(rec, width))
	}
	return out, nil
}

// pipeRow renders one record as a pipe-table row, padding short records so
// every row has the same column count.
func pipeRow(fields []string, width int) string {
	var b strings.Builder
	b.WriteByte('|')
	for i := 0; i < width; i++ {
		f := ""
		if i < len(fields) {
			f = escapeField(fields[i])
		}
		b.WriteByte(' ')
		b.WriteString(f)
		b.WriteString(" |")
	}
	return b.String()
}

// escapeField makes a raw field safe inside a pipe table: pipes are escaped
// and embedded newlines become <br> so multi-line quoted fields survive.
func escapeField(f string) string {
	f = strings.ReplaceAll(f, "\r\n", "\n")
	f = strings.ReplaceAll(f, "|", `\|`)
	f = strings.ReplaceAll(f, "\n", "<br>")
	return strings.TrimSpace(f)
}
