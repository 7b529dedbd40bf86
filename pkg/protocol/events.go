// Package protocol implements the line-delimited JSON contract between the
// worker and its supervisor.
//
// Commands arrive one JSON object per line on stdin; lifecycle events leave
// one JSON object per line on stdout. Nothing else may write to stdout, so
// logging goes to stderr.
package protocol

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// Event names emitted to the supervisor.
const (
	EventReady        = "ready"
	EventProgress     = "progress"
	EventResult       = "result"
	EventCapabilities = "capabilities"
)

// Command types accepted from the supervisor.
const (
	CommandJob          = "job"
	CommandCapabilities = "capabilities"
	CommandShutdown     = "shutdown"
)

// Command is one inbound supervisor message.
type Command struct {
	Type string `json:"type"`

	JobID          string `json:"jobId"`
	DocID          string `json:"docId"`
	Input          string `json:"input"`
	DataDir        string `json:"dataDir"`
	Gates          string `json:"gates"`
	DoclingConfig  string `json:"doclingConfig"`
	PymupdfConfig  string `json:"pymupdfConfig"`
	Engine         string `json:"engine"`
	LayoutMode     string `json:"layoutMode"`
	DeviceOverride string `json:"deviceOverride"`
	Profile        string `json:"profile"`

	RequestID string `json:"requestId"`
}

// PrewarmSummary describes the engine warmed at startup.
type PrewarmSummary struct {
	Profile           string `json:"profile"`
	RequestedDevice   string `json:"requestedDevice"`
	EffectiveDevice   string `json:"effectiveDevice"`
	HardwareAvailable bool   `json:"hardwareAvailable"`
	Reason            string `json:"reason,omitempty"`
}

// ReadyEvent is emitted once after startup.
//
// The startup field keeps its historical wire name; supervisors parse it by
// key and renaming it would break every deployed supervisor build.
type ReadyEvent struct {
	Event     string          `json:"event"`
	StartupMs int64           `json:"pythonStartupMs"`
	Prewarm   *PrewarmSummary `json:"prewarm,omitempty"`
}

// ProgressEvent reports a stage transition during a job.
type ProgressEvent struct {
	Event    string `json:"event"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	JobID    string `json:"jobId,omitempty"`
}

// ResultEvent reports a finished job.
type ResultEvent struct {
	Event    string `json:"event"`
	JobID    string `json:"jobId"`
	ExitCode int    `json:"exitCode"`
	MetaPath string `json:"metaPath"`
}

// LastJob is the proof slot echoed in capabilities responses: what the most
// recent job requested versus what actually ran.
type LastJob struct {
	JobID           string          `json:"jobId"`
	Engine          string          `json:"engine"`
	Profile         string          `json:"profile"`
	Requested       settings.Fields `json:"requested"`
	Effective       settings.Fields `json:"effective"`
	FallbackReasons []string        `json:"fallbackReasons"`
}

// CapabilitiesEvent answers a capabilities query.
type CapabilitiesEvent struct {
	Event        string               `json:"event"`
	RequestID    string               `json:"requestId,omitempty"`
	Capabilities *capability.Snapshot `json:"capabilities"`
	CacheStats   enginecache.Stats    `json:"cacheStats"`
	LastJob      *LastJob             `json:"lastJob,omitempty"`
}

// EventWriter emits events as newline-delimited JSON.
//
// Safe for concurrent use; the mutex guarantees atomic line writes so
// events never interleave on the wire.
type EventWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

// Emit marshals the payload and writes one complete line.
func (ew *EventWriter) Emit(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	ew.mu.Lock()
	defer ew.mu.Unlock()
	return writeAll(ew.w, b)
}

// writeAll loops over short writes. io.Writer may return n < len(p) with a
// nil error, which would truncate a line and corrupt the event stream.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
