package convert

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/engine"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/gates"
)

// ComputeMetrics derives the scalar metric set the quality gates evaluate.
//
// Counts are exact integers stored as float64; textCharsPerPageAvg is the
// only intentionally fractional metric. Engine-specific extra metrics are
// merged in last and never overwrite the core set.
func ComputeMetrics(doc *engine.Document) gates.MetricSet {
	textChars := 0
	textItems := 0
	for _, text := range doc.Texts {
		textChars += utf8.RuneCountInString(text)
		textItems += len(strings.Fields(text))
	}

	avg := 0.0
	if doc.Pages > 0 {
		avg = float64(textChars) / float64(doc.Pages)
	}

	metrics := gates.MetricSet{
		"pages":               float64(doc.Pages),
		"textChars":           float64(textChars),
		"mdChars":             float64(utf8.RuneCountInString(doc.Markdown)),
		"textItems":           float64(textItems),
		"tables":              float64(doc.Tables),
		"textCharsPerPageAvg": avg,
	}
	for name, value := range doc.ExtraMetrics {
		if _, exists := metrics[name]; !exists {
			metrics[name] = value
		}
	}
	return metrics
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func baseName(path string) string {
	return filepath.Base(path)
}
