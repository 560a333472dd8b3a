package pipeline

import (
	"context"
	"fmt"
	"os"
)

// BatchResult is the outcome of rendering one file in a batch.
type BatchResult struct {
	Name string
	HTML []byte
	Err  error
}

// RenderFiles renders several files with bounded concurrency. Results come
// back in input order; a file that fails carries its error rather than
// aborting the batch.
func (p *Pipeline) RenderFiles(ctx context.Context, paths []string, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = 4
	}

	type indexed struct {
		idx int
		res BatchResult
	}
	results := make(chan indexed, len(paths))
	sem := make(chan struct{}, concurrency)

	for i, path := range paths {
		sem <- struct{}{}
		go func(i int, path string) {
			defer func() { <-sem }()
			results <- indexed{idx: i, res: p.renderFile(ctx, path)}
		}(i, path)
	}

	out := make([]BatchResult, len(paths))
	for range paths {
		r := <-results
		out[r.idx] = r.res
	}
	return out
}

func (p *Pipeline) renderFile(ctx context.Context, path string) BatchResult {
	src, err := os.ReadFile(path)
	if err != nil {
		return BatchResult{Name: path, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	html, err := p.Render(ctx, path, src)
	if err != nil {
		return BatchResult{Name: path, Err: err}
	}
	return BatchResult{Name: path, HTML: html}
}
