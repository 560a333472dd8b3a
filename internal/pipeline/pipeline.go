// Package pipeline drives a full document render: source transforms,
// Markdown parsing, HTML rendering and the table injection pass, plus the
// optional bibliography and JS plugin hooks around it.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/mdkit/internal/cite"
	"github.com/dgallion1/mdkit/internal/csvtable"
	"github.com/dgallion1/mdkit/internal/emoji"
	"github.com/dgallion1/mdkit/internal/include"
	"github.com/dgallion1/mdkit/internal/plugin"
	"github.com/dgallion1/mdkit/internal/tablespan"
	"github.com/dgallion1/mdkit/internal/wikilink"
)

// Options configures a Pipeline. Zero values give a plain render with the
// dialect extensions enabled and no bibliography or plugins.
type Options struct {
	CaptionPosition  tablespan.CaptionPosition
	BibliographyPath string
	PluginManifest   string
	WikiBase         string
	WikiSuffix       string
	IncludeDepth     int
	InjectTimeout    time.Duration
}

// Pipeline renders Markdown documents. Safe for concurrent use.
type Pipeline struct {
	md       goldmark.Markdown
	opts     Options
	resolver *cite.Resolver
	plugins  *plugin.Set
	includes *include.Resolver
	stats    *RenderStats
	log      *slog.Logger
}

// New builds a Pipeline, loading the bibliography and plugin manifest when
// configured.
func New(opts Options, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	var resolver *cite.Resolver
	if opts.BibliographyPath != "" {
		r, err := cite.LoadBibliography(opts.BibliographyPath)
		if err != nil {
			return nil, fmt.Errorf("load bibliography: %w", err)
		}
		resolver = r
		log.Info("bibliography loaded", "path", opts.BibliographyPath, "entries", r.Len())
	}

	var plugins *plugin.Set
	if opts.PluginManifest != "" {
		set, err := plugin.LoadManifest(opts.PluginManifest, log)
		if err != nil {
			return nil, fmt.Errorf("load plugins: %w", err)
		}
		plugins = set
		log.Info("plugins loaded", "path", opts.PluginManifest, "count", set.Len())
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			tablespan.Extension,
			cite.New(resolver),
			emoji.Extension,
			wikilink.New(opts.WikiBase, opts.WikiSuffix),
		),
	)

	return &Pipeline{
		md:       md,
		opts:     opts,
		resolver: resolver,
		plugins:  plugins,
		includes: include.NewResolver(opts.IncludeDepth, log),
		stats:    NewRenderStats(time.Hour),
		log:      log,
	}, nil
}

// Stats reports render latency aggregates over the last hour.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Render runs the full pass sequence over one document. name is the
// document's path; includes resolve relative to its directory.
func (p *Pipeline) Render(ctx context.Context, name string, src []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { p.stats.Record(time.Since(start).Milliseconds()) }()

	meta, body := stripFrontmatter(src)
	if len(meta) > 0 {
		p.log.Debug("frontmatter stripped", "doc", name, "keys", len(meta))
	}

	body = p.includes.Expand(filepath.Dir(name), body)
	body = []byte(p.plugins.Run(plugin.StagePreParse, string(body)))
	body = csvtable.Rewrite(body, p.log)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := p.md.Parser().Parse(text.NewReader(body))
	var buf bytes.Buffer
	if err := p.md.Renderer().Render(&buf, body, doc); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}

	out := tablespan.Inject(buf.String(), doc, body, tablespan.Options{
		CaptionPosition: p.opts.CaptionPosition,
		Timeout:         p.opts.InjectTimeout,
		Logger:          p.log,
	})

	if p.resolver != nil {
		if refs := p.resolver.RenderBibliography(cite.CitedKeys(doc)); refs != "" {
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			out += refs
		}
	}

	out = p.plugins.Run(plugin.StagePostRender, out)
	return []byte(out), nil
}

// stripFrontmatter removes a leading YAML frontmatter block and returns its
// parsed form. Anything that does not parse is treated as document content.
func stripFrontmatter(src []byte) (map[string]any, []byte) {
	s := string(src)
	if !strings.HasPrefix(s, "---\n") {
		return nil, src
	}
	rest := s[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, src
	}
	after := rest[end+len("\n---"):]
	if after != "" && !strings.HasPrefix(after, "\n") {
		return nil, src
	}
	meta := make(map[string]any)
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, src
	}
	return meta, []byte(strings.TrimPrefix(after, "\n"))
}
