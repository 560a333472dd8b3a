package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/mdkit/internal/pipeline"
	"github.com/dgallion1/mdkit/internal/tablespan"
)

func main() {
	var (
		bibPath    = flag.String("bib", "", "bibliography file (.yaml/.yml or CSL .json)")
		captionPos = flag.String("caption-pos", "above", "table caption position: above or below")
		plugins    = flag.String("plugins", "", "plugin manifest file")
		wikiBase   = flag.String("wiki-base", "", "base path prepended to wiki-link slugs")
		wikiSuffix = flag.String("wiki-suffix", "", "suffix appended to wiki-link slugs")
		outPath    = flag.String("o", "", "output file or directory (default stdout)")
		workers    = flag.Int("j", 4, "concurrent renders when given multiple files")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	pos := tablespan.CaptionAbove
	switch *captionPos {
	case "above":
	case "below":
		pos = tablespan.CaptionBelow
	default:
		log.Error("invalid -caption-pos", "value", *captionPos)
		os.Exit(1)
	}

	pipe, err := pipeline.New(pipeline.Options{
		CaptionPosition:  pos,
		BibliographyPath: *bibPath,
		PluginManifest:   *plugins,
		WikiBase:         *wikiBase,
		WikiSuffix:       *wikiSuffix,
	}, log)
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	args := flag.Args()

	switch len(args) {
	case 0:
		if err := renderStdin(ctx, pipe, *outPath); err != nil {
			log.Error("render failed", "error", err)
			os.Exit(1)
		}
	case 1:
		res := renderOne(ctx, pipe, args[0])
		if res.Err != nil {
			log.Error("render failed", "file", args[0], "error", res.Err)
			os.Exit(1)
		}
		if err := writeResult(res, *outPath); err != nil {
			log.Error("write failed", "error", err)
			os.Exit(1)
		}
	default:
		if *outPath == "" {
			log.Error("-o directory is required with multiple input files")
			os.Exit(1)
		}
		results := pipe.RenderFiles(ctx, args, *workers)
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				log.Error("render failed", "file", res.Name, "error", res.Err)
				failed++
				continue
			}
			dst := filepath.Join(*outPath, htmlName(res.Name))
			if err := os.WriteFile(dst, res.HTML, 0o644); err != nil {
				log.Error("write failed", "file", dst, "error", err)
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
	}
}

func renderStdin(ctx context.Context, pipe *pipeline.Pipeline, outPath string) error {
	src, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	html, err := pipe.Render(ctx, "stdin.md", src)
	if err != nil {
		return err
	}
	return writeOut(html, outPath)
}

func renderOne(ctx context.Context, pipe *pipeline.Pipeline, path string) pipeline.BatchResult {
	res := pipe.RenderFiles(ctx, []string{path}, 1)
	return res[0]
}

func writeResult(res pipeline.BatchResult, outPath string) error {
	return writeOut(res.HTML, outPath)
}

func writeOut(html []byte, outPath string) error {
	if outPath == "" {
		_, err := os.Stdout.Write(html)
		return err
	}
	if info, err := os.Stat(outPath); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory; single input writes a file", outPath)
	}
	return os.WriteFile(outPath, html, 0o644)
}

// htmlName maps an input path to its output file name.
func htmlName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".html"
}
