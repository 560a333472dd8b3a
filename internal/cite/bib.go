package cite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark/util"
	"gopkg.in/yaml.v3"
)

// Entry is one bibliography record.
type Entry struct {
	Author    string `yaml:"author" json:"author"`
	Year      int    `yaml:"year" json:"year"`
	Title     string `yaml:"title" json:"title"`
	Publisher string `yaml:"publisher" json:"publisher"`
	URL       string `yaml:"url" json:"url"`
}

// Label is the short in-text form of the entry.
func (e Entry) Label() string {
	switch {
	case e.Author != "" && e.Year > 0:
		return fmt.Sprintf("%s %d", e.Author, e.Year)
	case e.Author != "":
		return e.Author
	case e.Year > 0:
		return fmt.Sprint(e.Year)
	}
	return e.Title
}

// Resolver holds a loaded bibliography. The zero value resolves nothing,
// which leaves every citation as literal text.
type Resolver struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewResolver(entries map[string]Entry) *Resolver {
	return &Resolver{entries: entries}
}

func (r *Resolver) Lookup(key string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LoadBibliography reads a bibliography file, dispatching on extension:
// .yaml/.yml is a map of key to entry, .json is a CSL-JSON array.
func LoadBibliography(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bibliography: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".json":
		return parseCSLJSON(data)
	}
	return nil, fmt.Errorf("unsupported bibliography format: %s", filepath.Ext(path))
}

func parseYAML(data []byte) (*Resolver, error) {
	entries := make(map[string]Entry)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse bibliography yaml: %w", err)
	}
	return NewResolver(entries), nil
}

// cslItem is the subset of a CSL-JSON item the resolver needs.
type cslItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author []struct {
		Family string `json:"family"`
		Given  string `json:"given"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Publisher string `json:"publisher"`
	URL       string `json:"URL"`
}

func parseCSLJSON(data []byte) (*Resolver, error) {
	var items []cslItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse bibliography json: %w", err)
	}
	entries := make(map[string]Entry, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		e := Entry{
			Title:     it.Title,
			Publisher: it.Publisher,
			URL:       it.URL,
		}
		if len(it.Author) > 0 {
			e.Author = it.Author[0].Family
		}
		if len(it.Issued.DateParts) > 0 && len(it.Issued.DateParts[0]) > 0 {
			e.Year = it.Issued.DateParts[0][0]
		}
		entries[it.ID] = e
	}
	return NewResolver(entries), nil
}

// RenderBibliography renders the reference list for the given keys, in the
// order given. Keys missing from the bibliography are skipped. An empty
// result means no section is emitted.
func (r *Resolver) RenderBibliography(keys []string) string {
	if r == nil || len(keys) == 0 {
		return ""
	}
	var b strings.Builder
	written := 0
	for _, key := range keys {
		e, ok := r.Lookup(key)
		if !ok {
			continue
		}
		b.WriteString(`<li id="ref-`)
		b.Write(util.EscapeHTML([]byte(key)))
		b.WriteString(`">`)
		b.Write(util.EscapeHTML([]byte(formatReference(e))))
		if e.URL != "" {
			b.WriteString(` <a href="`)
			b.Write(util.EscapeHTML([]byte(e.URL)))
			b.WriteString(`">`)
			b.Write(util.EscapeHTML([]byte(e.URL)))
			b.WriteString(`</a>`)
		}
		b.WriteString("</li>\n")
		written++
	}
	if written == 0 {
		return ""
	}
	return `<section class="references">` + "\n<h2>References</h2>\n<ul>\n" + b.String() + "</ul>\n</section>\n"
}

func formatReference(e Entry) string {
	var parts []string
	if e.Author != "" {
		parts = append(parts, e.Author)
	}
	if e.Year > 0 {
		parts = append(parts, fmt.Sprintf("(%d)", e.Year))
	}
	if e.Title != "" {
		parts = append(parts, e.Title+".")
	}
	if e.Publisher != "" {
		parts = append(parts, e.Publisher+".")
	}
	return strings.Join(parts, " ")
}
