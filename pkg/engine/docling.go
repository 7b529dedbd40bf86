package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// doclingEngine is the layout pipeline. It walks every page, extracts text
// blocks, and optionally scans the rendered HTML for table structures.
type doclingEngine struct {
	settings *settings.EngineSettings
}

func newDoclingEngine(s *settings.EngineSettings) *doclingEngine {
	return &doclingEngine{settings: s}
}

func (e *doclingEngine) Name() string { return FamilyDocling }

func (e *doclingEngine) Convert(ctx context.Context, inputPath string) (*Document, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	doc, err := fitz.New(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	texts := make([]string, 0, pages)
	structuredPages := make([]map[string]any, 0, pages)
	tables := 0

	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("conversion aborted on page %d: %w", i+1, err)
		}

		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i+1, err)
		}
		texts = append(texts, text)

		pageTables := 0
		if e.tableStructureEnabled() {
			html, err := doc.HTML(i, false)
			if err != nil {
				return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
			}
			pageTables = strings.Count(html, "<table")
			tables += pageTables
		}

		structuredPages = append(structuredPages, map[string]any{
			"page":   i + 1,
			"text":   text,
			"tables": pageTables,
		})
	}

	markdown := renderMarkdown(texts)
	return &Document{
		Pages:    pages,
		Texts:    texts,
		Tables:   tables,
		Markdown: markdown,
		Structured: map[string]any{
			"schemaVersion": 1,
			"engine":        FamilyDocling,
			"backend":       e.backend(),
			"pages":         structuredPages,
		},
		EngineMeta: map[string]any{
			"backend":         e.backend(),
			"tableStructure":  e.tableStructureEnabled(),
			"effectiveDevice": e.device(),
		},
	}, nil
}

// withTimeout applies the profile's document timeout. Page extraction checks
// the context between pages; the supervisor kills the process on hard hangs.
func (e *doclingEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.settings == nil || e.settings.Effective.DocumentTimeoutSec <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, secondsDuration(e.settings.Effective.DocumentTimeoutSec))
}

func (e *doclingEngine) tableStructureEnabled() bool {
	return e.settings != nil && e.settings.Effective.DoTableStructure
}

func (e *doclingEngine) backend() string {
	if e.settings == nil {
		return ""
	}
	return e.settings.Effective.PdfBackend
}

func (e *doclingEngine) device() string {
	if e.settings == nil {
		return ""
	}
	return e.settings.Accelerator.EffectiveDevice
}

// renderMarkdown joins page texts into one markdown body. Blank pages are
// skipped so empty trailing pages never pad the output.
func renderMarkdown(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n")
}

func secondsDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
