// Package preflight runs the fast PDF text-layer check that rejects
// scan-like documents before any expensive conversion work.
//
// The check never blocks a job on its own failure: when both the page
// sampler and the raw-byte fallback are unusable, the document passes and
// conversion decides its fate.
package preflight

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"
	"os"
	"regexp"
	"unicode"

	"github.com/gen2brain/go-fitz"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// Result is the outcome of one preflight run, persisted into the document
// metadata verbatim.
type Result struct {
	Passed              bool    `json:"passed"`
	SamplePages         int     `json:"samplePages"`
	TextChars           int     `json:"textChars"`
	TextCharsPerPageAvg float64 `json:"textCharsPerPageAvg"`
	Error               string  `json:"error,omitempty"`
}

// SniffPDF reports whether the file starts with the PDF magic bytes.
// Non-PDF inputs skip preflight entirely.
func SniffPDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte("%PDF"))
}

// Run executes the text-layer check against the configured thresholds.
//
// Disabled config or a non-positive sample size passes unconditionally.
// Sampler failure, or a damaged document the reader repairs down to zero
// pages, falls back to a raw-byte operator scan; if that also fails, the
// result passes and carries the sampler error for the record.
func Run(path string, cfg settings.PreflightText) Result {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return Result{Passed: true}
	}
	if cfg.SamplePages <= 0 {
		return Result{Passed: true}
	}

	textChars, sampled, err := sampleDocumentText(path, cfg.SamplePages)
	if err == nil && sampled > 0 {
		return scoreResult(textChars, sampled, cfg, "")
	}

	errMsg := "document opened with no sampled pages"
	if err != nil {
		errMsg = err.Error()
	}
	fallbackChars, fallbackErr := fallbackTextCount(path)
	if fallbackErr != nil {
		return Result{Passed: true, Error: errMsg}
	}
	return scoreResult(fallbackChars, cfg.SamplePages, cfg, errMsg)
}

func scoreResult(textChars, sampled int, cfg settings.PreflightText, errMsg string) Result {
	avg := 0.0
	if sampled > 0 {
		avg = float64(textChars) / float64(sampled)
	}
	return Result{
		Passed:              textChars >= cfg.MinTextChars && avg >= cfg.MinTextCharsPerPageAvg,
		SamplePages:         sampled,
		TextChars:           textChars,
		TextCharsPerPageAvg: avg,
		Error:               errMsg,
	}
}

// sampleDocumentText extracts text from the first N pages and counts
// non-whitespace characters.
func sampleDocumentText(path string, samplePages int) (int, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if samplePages < pages {
		pages = samplePages
	}

	total := 0
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		total += countNonWhitespace(text)
	}
	return total, pages, nil
}

func countNonWhitespace(text string) int {
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

var (
	tjArrayRe  = regexp.MustCompile(`(?s)\[(.*?)\]\s*TJ`)
	tjStringRe = regexp.MustCompile(`\(([^)]*)\)\s*Tj`)
	tjHexRe    = regexp.MustCompile(`<([0-9A-Fa-f]+)>\s*Tj`)
	parenRe    = regexp.MustCompile(`\(([^)]*)\)`)
	hexRe      = regexp.MustCompile(`<([0-9A-Fa-f]+)>`)
	streamRe   = regexp.MustCompile(`stream\r?\n`)
)

// fallbackTextCount estimates the text volume by counting show-text
// operator payloads, in both the raw bytes and any decompressible content
// streams. The larger of the two counts wins.
func fallbackTextCount(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read document: %w", err)
	}
	direct := countTextOperators(raw)
	decoded := countTextOperatorsInStreams(raw)
	if decoded > direct {
		return decoded, nil
	}
	return direct, nil
}

func countTextOperators(data []byte) int {
	text := string(data)
	total := 0

	for _, m := range tjArrayRe.FindAllStringSubmatch(text, -1) {
		for _, lit := range parenRe.FindAllStringSubmatch(m[1], -1) {
			total += len(lit[1])
		}
		for _, hex := range hexRe.FindAllStringSubmatch(m[1], -1) {
			total += len(hex[1]) / 2
		}
	}
	for _, m := range tjStringRe.FindAllStringSubmatch(text, -1) {
		total += len(m[1])
	}
	for _, m := range tjHexRe.FindAllStringSubmatch(text, -1) {
		total += len(m[1]) / 2
	}
	return total
}

// countTextOperatorsInStreams decompresses stream objects and scans the
// plaintext. Streams are tried as zlib first, then ascii85-wrapped zlib;
// undecodable streams are skipped.
func countTextOperatorsInStreams(data []byte) int {
	total := 0
	for _, loc := range streamRe.FindAllIndex(data, -1) {
		start := loc[1]
		end := bytes.Index(data[start:], []byte("endstream"))
		if end == -1 {
			continue
		}
		stream := bytes.Trim(data[start:start+end], "\r\n")
		stream = bytes.TrimSuffix(stream, []byte("~>"))

		decoded, ok := inflate(stream)
		if !ok {
			a85 := make([]byte, len(stream))
			n, _, err := ascii85.Decode(a85, stream, true)
			if err != nil {
				continue
			}
			decoded, ok = inflate(a85[:n])
			if !ok {
				continue
			}
		}
		total += countTextOperators(decoded)
	}
	return total
}

func inflate(data []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return out, true
}
