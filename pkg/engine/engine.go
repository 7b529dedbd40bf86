// Package engine provides the conversion engines behind the orchestrator.
//
// Two families exist: "docling", the full layout pipeline with configurable
// PDF backends, and "pymupdf4llm", a text-only extractor for digital PDFs.
// The orchestrator only sees the Engine interface; it never introspects
// engine internals.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// Engine family names accepted in job commands.
const (
	FamilyDocling = "docling"
	FamilyText    = "pymupdf4llm"
)

// Layout modes for the text engine family.
const (
	LayoutAuto    = "auto"
	LayoutRequire = "require"
	LayoutOff     = "off"
)

// ErrLayoutUnavailable is returned when a job requires the layout-aware text
// pipeline but the installed stack does not provide it.
var ErrLayoutUnavailable = errors.New("layout pipeline is not available")

// Document is the opaque conversion result handed back to the orchestrator.
type Document struct {
	Pages      int
	Texts      []string
	Tables     int
	Markdown   string
	Structured map[string]any

	// EngineMeta carries per-engine metadata persisted into the document
	// record verbatim.
	EngineMeta map[string]any

	// ExtraMetrics holds engine-specific scalar metrics merged into the
	// gate metric set (e.g. split-token suspicion for the text engine).
	ExtraMetrics map[string]float64
}

// Engine converts one input document. Implementations are safe to share
// across jobs; construction is the expensive part and is memoized by the
// engine cache.
type Engine interface {
	Name() string
	Convert(ctx context.Context, inputPath string) (*Document, error)
}

// BuildParams selects and configures an engine instance.
type BuildParams struct {
	Family     string
	Settings   *settings.EngineSettings
	LayoutMode string
	TextConfig *TextConfig
}

// NormalizeFamily maps arbitrary engine selectors to a known family.
// Unknown values fall back to the layout pipeline.
func NormalizeFamily(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FamilyText, "pymupdf", "text":
		return FamilyText
	default:
		return FamilyDocling
	}
}

// NormalizeLayoutMode maps arbitrary layout selectors to auto/require/off.
func NormalizeLayoutMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case LayoutRequire:
		return LayoutRequire
	case LayoutOff:
		return LayoutOff
	default:
		return LayoutAuto
	}
}

// Build constructs an engine for the resolved settings.
//
// A text-engine build with layout required but unavailable fails with
// ErrLayoutUnavailable; the orchestrator turns that into a terminal job
// failure rather than a silent downgrade.
func Build(p BuildParams) (Engine, error) {
	switch NormalizeFamily(p.Family) {
	case FamilyText:
		cfg := p.TextConfig
		if cfg == nil {
			cfg = DefaultTextConfig()
		}
		layout := resolveLayout(p)
		if layout == LayoutRequire && !layoutAvailable(p.Settings) {
			return nil, ErrLayoutUnavailable
		}
		useLayout := layout != LayoutOff && layoutAvailable(p.Settings)
		return newTextEngine(cfg, useLayout), nil
	default:
		return newDoclingEngine(p.Settings), nil
	}
}

func resolveLayout(p BuildParams) string {
	mode := NormalizeLayoutMode(p.LayoutMode)
	if mode == LayoutAuto && p.TextConfig != nil && p.TextConfig.Text.RequireLayout {
		return LayoutRequire
	}
	return mode
}

func layoutAvailable(s *settings.EngineSettings) bool {
	if s == nil || s.Capabilities == nil {
		return false
	}
	return s.Capabilities.TextEngine.LayoutAvailable
}
