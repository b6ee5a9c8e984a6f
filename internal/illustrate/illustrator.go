package illustrate

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 2

// ImageGenerator is the gateway call the illustrator needs.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Illustrator generates educational illustrations for a geography question.
type Illustrator struct {
	client      ImageGenerator
	concurrency int
}

// New creates an Illustrator. If concurrency <= 0, the default (2) is used.
func New(client ImageGenerator, concurrency int) *Illustrator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Illustrator{client: client, concurrency: concurrency}
}

// Prompts returns the n image prompts for query. Two images split into an
// overview and a close-up.
func Prompts(query string, n int) []string {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []string{fmt.Sprintf("Create a clear, labelled educational illustration for a geography student explaining: %s", query)}
	}
	prompts := []string{
		fmt.Sprintf("Create a broad overview educational illustration, such as a labelled map or landscape, for a geography student explaining: %s", query),
		fmt.Sprintf("Create a detailed close-up educational diagram with labelled parts for a geography student explaining: %s", query),
	}
	for i := 2; i < n; i++ {
		prompts = append(prompts, fmt.Sprintf("Create an additional educational illustration (variant %d) for a geography student explaining: %s", i+1, query))
	}
	return prompts
}

// Generate requests n images in parallel. Failed requests are logged and
// dropped; successful URLs keep request order. Generate never fails.
func (il *Illustrator) Generate(ctx context.Context, query string, n int) []string {
	prompts := Prompts(query, n)
	if len(prompts) == 0 {
		return nil
	}

	results := make([]string, len(prompts))
	// A plain Group: one failure must not cancel the others.
	var g errgroup.Group
	g.SetLimit(il.concurrency)

	for i, prompt := range prompts {
		g.Go(func() error {
			url, err := il.client.GenerateImage(ctx, prompt)
			if err != nil {
				slog.Warn("image generation failed", "index", i, "error", err)
				return nil
			}
			results[i] = url
			return nil
		})
	}
	g.Wait()

	images := make([]string, 0, len(results))
	for _, url := range results {
		if url != "" {
			images = append(images, url)
		}
	}
	return images
}
