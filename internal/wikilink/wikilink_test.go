package wikilink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yuin/goldmark"
)

func render(t *testing.T, base, suffix, src string) string {
	t.Helper()
	md := goldmark.New(goldmark.WithExtensions(New(base, suffix)))
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		t.Fatalf("convert: %v", err)
	}
	return buf.String()
}

func TestWikilinkBasic(t *testing.T) {
	out := render(t, "/wiki/", ".html", "See [[Getting Started]] first.")
	want := `<a href="/wiki/getting-started.html">Getting Started</a>`
	if !strings.Contains(out, want) {
		t.Errorf("missing %q in:\n%s", want, out)
	}
}

func TestWikilinkLabel(t *testing.T) {
	out := render(t, "/wiki/", "", "Read [[Install Guide|the guide]].")
	want := `<a href="/wiki/install-guide">the guide</a>`
	if !strings.Contains(out, want) {
		t.Errorf("missing %q in:\n%s", want, out)
	}
}

func TestWikilinkUnterminated(t *testing.T) {
	out := render(t, "/wiki/", "", "broken [[no close here")
	if strings.Contains(out, "<a ") {
		t.Errorf("unterminated wikilink became a link:\n%s", out)
	}
	if !strings.Contains(out, "[[no close here") {
		t.Errorf("literal text lost:\n%s", out)
	}
}

func TestMarkdownLinksStillWork(t *testing.T) {
	out := render(t, "/wiki/", "", "A [normal](https://example.com) link.")
	if !strings.Contains(out, `<a href="https://example.com">normal</a>`) {
		t.Errorf("markdown link broken:\n%s", out)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Getting Started", "getting-started"},
		{"  Spaced   Out  ", "spaced-out"},
		{"C++ & Go!", "c-go"},
		{"already-slugged", "already-slugged"},
		{"v1.2_final", "v1.2_final"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
