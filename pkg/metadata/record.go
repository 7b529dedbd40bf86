// Package metadata defines the persisted per-document record and its store.
//
// One JSON record is written per document under the export directory. Every
// terminal job state flushes a complete record before the worker reports a
// result, so downstream consumers never observe a partial record for an
// accepted job.
package metadata

import (
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/gates"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/preflight"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// SchemaVersion identifies the record layout.
const SchemaVersion = 1

// Processing statuses.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Failure codes recorded on terminal failures.
const (
	FailureNoTextLayer       = "NO_TEXT_LAYER"
	FailureWorkerException   = "WORKER_EXCEPTION"
	FailureMaxPages          = "LIMIT_MAX_PAGES"
	FailureLayoutUnavailable = "PYMUPDF_LAYOUT_UNAVAILABLE"
)

// Source describes the input document.
type Source struct {
	OriginalFileName string `json:"originalFileName"`
	MimeType         string `json:"mimeType"`
	SizeBytes        int64  `json:"sizeBytes"`
	SHA256           string `json:"sha256"`
	StoredPath       string `json:"storedPath"`
}

// Timings is the per-stage latency breakdown in milliseconds.
type Timings struct {
	StartupMs   int64 `json:"startupMs"`
	PreflightMs int64 `json:"preflightMs"`
	ConvertMs   int64 `json:"convertMs"`
	ExportMs    int64 `json:"exportMs"`
}

// EngineInfo records which engine ran and with what settings.
type EngineInfo struct {
	Family          string          `json:"family"`
	Requested       settings.Fields `json:"requested"`
	Effective       settings.Fields `json:"effective"`
	FallbackReasons []string        `json:"fallbackReasons"`
	Meta            map[string]any  `json:"meta,omitempty"`
}

// WorkerInfo identifies the worker build that produced the record.
type WorkerInfo struct {
	GoVersion     string `json:"goVersion"`
	EngineVersion string `json:"engineVersion"`
}

// Failure is the terminal failure descriptor.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Processing tracks the job lifecycle for one document.
type Processing struct {
	Status          string                        `json:"status"`
	Stage           string                        `json:"stage,omitempty"`
	StartedAt       string                        `json:"startedAt"`
	FinishedAt      string                        `json:"finishedAt,omitempty"`
	DurationMs      int64                         `json:"durationMs"`
	TimeoutSec      int                           `json:"timeoutSec"`
	ExitCode        int                           `json:"exitCode"`
	SelectedProfile string                        `json:"selectedProfile"`
	Message         string                        `json:"message,omitempty"`
	Engine          EngineInfo                    `json:"engine"`
	Accelerator     settings.AcceleratorSelection `json:"accelerator"`
	Timings         Timings                       `json:"timings"`
	Preflight       *preflight.Result             `json:"preflight,omitempty"`
	Failure         *Failure                      `json:"failure,omitempty"`
	Worker          WorkerInfo                    `json:"worker"`
}

// OutputBytes records artifact sizes.
type OutputBytes struct {
	Markdown int `json:"markdown"`
	JSON     int `json:"json"`
}

// Outputs points at the written artifacts. Paths stay null when quality
// gates failed.
type Outputs struct {
	MarkdownPath *string     `json:"markdownPath"`
	JSONPath     *string     `json:"jsonPath"`
	Bytes        OutputBytes `json:"bytes"`
}

// QualityGates is the persisted gate verdict.
type QualityGates struct {
	ConfigVersion int                   `json:"configVersion"`
	Strict        bool                  `json:"strict"`
	Passed        bool                  `json:"passed"`
	FailedGates   []gates.FailedGate    `json:"failedGates"`
	Evaluated     []gates.EvaluatedGate `json:"evaluated"`
}

// Logs carries size-capped log tails.
type Logs struct {
	StdoutTail string `json:"stdoutTail"`
	StderrTail string `json:"stderrTail"`
}

// Record is the complete per-document metadata record.
type Record struct {
	SchemaVersion int                `json:"schemaVersion"`
	ID            string             `json:"id"`
	CreatedAt     string             `json:"createdAt"`
	Source        Source             `json:"source"`
	Processing    Processing         `json:"processing"`
	Outputs       Outputs            `json:"outputs"`
	Metrics       map[string]float64 `json:"metrics"`
	QualityGates  QualityGates       `json:"qualityGates"`
	Logs          Logs               `json:"logs"`
}
