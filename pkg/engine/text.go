package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// textEngine is the text-only family. It skips layout analysis and table
// detection entirely, which makes it cheap but vulnerable to glyph-level
// mis-splitting on some digital PDFs; the split-spacing heuristic flags
// those documents for the quality gates.
type textEngine struct {
	cfg       *TextConfig
	useLayout bool
}

func newTextEngine(cfg *TextConfig, useLayout bool) *textEngine {
	return &textEngine{cfg: cfg, useLayout: useLayout}
}

func (e *textEngine) Name() string { return FamilyText }

func (e *textEngine) Convert(ctx context.Context, inputPath string) (*Document, error) {
	doc, err := fitz.New(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	texts := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("conversion aborted on page %d: %w", i+1, err)
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i+1, err)
		}
		texts = append(texts, text)
	}

	markdown, chunks := e.renderMarkdown(texts)
	ratio, maxRun := splitTokenStats(texts)
	suspected := e.splitSuspected(ratio, maxRun)

	structured := map[string]any{
		"schemaVersion": 1,
		"engine":        FamilyText,
		"layout":        e.useLayout,
		"markdown":      markdown,
	}
	if chunks != nil {
		structured["chunks"] = chunks
	}

	return &Document{
		Pages:      pages,
		Texts:      texts,
		Markdown:   markdown,
		Structured: structured,
		EngineMeta: map[string]any{
			"layout":                e.useLayout,
			"splitSpacingSuspected": suspected,
		},
		ExtraMetrics: map[string]float64{
			"splitTokenRatio":  ratio,
			"splitTokenMaxRun": float64(maxRun),
		},
	}, nil
}

// renderMarkdown normalizes page texts to one markdown body, optionally as
// per-page chunks when the pageChunks option is set.
func (e *textEngine) renderMarkdown(texts []string) (string, []map[string]any) {
	separator := "\n\n"
	if v, ok := e.cfg.Text.ToMarkdown["pageSeparator"].(string); ok && v != "" {
		separator = v
	}

	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	markdown := strings.Join(parts, separator)

	pageChunks, _ := e.cfg.Text.ToMarkdown["pageChunks"].(bool)
	if !pageChunks {
		return markdown, nil
	}
	chunks := make([]map[string]any, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, map[string]any{
			"page": i + 1,
			"text": strings.TrimSpace(text),
		})
	}
	return markdown, chunks
}

func (e *textEngine) splitSuspected(ratio float64, maxRun int) bool {
	limits := e.cfg.Text.SplitSpacing
	if limits.MaxSingleCharRatio <= 0 && limits.MaxSingleCharRun <= 0 {
		return false
	}
	if limits.MaxSingleCharRatio > 0 && ratio > limits.MaxSingleCharRatio {
		return true
	}
	return limits.MaxSingleCharRun > 0 && maxRun > limits.MaxSingleCharRun
}

// splitTokenStats measures how often extraction produced lone-character
// tokens. A high ratio or a long consecutive run usually means the text
// layer mis-split glyphs ("h e l l o" instead of "hello").
func splitTokenStats(texts []string) (float64, int) {
	total := 0
	singles := 0
	maxRun := 0
	run := 0
	for _, text := range texts {
		for _, token := range strings.Fields(text) {
			total++
			if len([]rune(token)) == 1 {
				singles++
				run++
				if run > maxRun {
					maxRun = run
				}
			} else {
				run = 0
			}
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(singles) / float64(total), maxRun
}
