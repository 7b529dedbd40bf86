// Package convert drives one conversion job end-to-end.
//
// The orchestrator is a straight-line state machine: INIT, PREFLIGHT,
// CONVERT, EXPORT, METRICS, GATES, WRITE_OUTPUTS, then DONE or FAILED.
// Every terminal path flushes a complete metadata record before returning,
// so a supervisor that kills the process mid-job loses at most the record
// of the job in flight.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/engine"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/gates"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/metadata"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/preflight"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// Exit codes reported per job. CLI-level errors use separate process codes.
const (
	ExitOK        = 0
	ExitException = 1
	ExitRejected  = 2
)

// ProfileRejected is recorded as the selected profile when preflight rejects
// a document before conversion.
const ProfileRejected = "rejected-no-text"

// JobSpec describes one conversion job. Owned exclusively by the in-flight
// job; destroyed when the result is reported.
type JobSpec struct {
	JobID   string
	DocID   string
	Input   string
	DataDir string

	GatesPath        string
	EngineConfigPath string
	TextConfigPath   string

	Engine         string
	LayoutMode     string
	DeviceOverride string
	Profile        string
}

// EventSink receives lifecycle progress events during a job.
type EventSink interface {
	Progress(stage, message string, progress int, jobID string)
}

// NopSink discards events. Used by one-shot CLI runs without a supervisor.
type NopSink struct{}

func (NopSink) Progress(string, string, int, string) {}

// Orchestrator runs jobs against a shared engine cache and capability
// snapshot. One job runs at a time; the cache carries its own lock.
type Orchestrator struct {
	Cache     *enginecache.Cache
	Caps      *capability.Snapshot
	Events    EventSink
	Logger    *zap.Logger
	StartupMs int64

	// BuildEngine constructs engines on cache misses. Tests substitute it;
	// nil means engine.Build.
	BuildEngine func(engine.BuildParams) (engine.Engine, error)
}

// New returns an orchestrator with the default engine builder.
func New(cache *enginecache.Cache, caps *capability.Snapshot, events EventSink, logger *zap.Logger) *Orchestrator {
	if events == nil {
		events = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Cache:  cache,
		Caps:   caps,
		Events: events,
		Logger: logger,
	}
}

// Outcome summarizes a finished job for the worker loop.
type Outcome struct {
	ExitCode int
	MetaPath string
	Family   string
	Settings *settings.EngineSettings
}

// Run executes one job.
//
// A returned error is a fatal configuration problem (bad config file,
// unknown profile); it is raised immediately and no record is written.
// Engine failures and quality rejections are captured in the record and
// reported through the outcome's exit code instead.
func (o *Orchestrator) Run(ctx context.Context, job JobSpec) (*Outcome, error) {
	gatesCfg, err := gates.Load(job.GatesPath)
	if err != nil {
		return nil, err
	}
	engineCfg, err := settings.Load(job.EngineConfigPath, gatesCfg)
	if err != nil {
		return nil, err
	}
	resolved, err := settings.Resolve(engineCfg, o.Caps, settings.Overrides{
		Profile: job.Profile,
		Device:  job.DeviceOverride,
	})
	if err != nil {
		return nil, err
	}

	family := engine.NormalizeFamily(job.Engine)
	var textCfg *engine.TextConfig
	if family == engine.FamilyText {
		textCfg, err = engine.LoadTextConfig(job.TextConfigPath)
		if err != nil {
			return nil, err
		}
	}

	store := metadata.NewStore(job.DataDir)
	record, err := o.buildBaseRecord(job, family, gatesCfg, resolved)
	if err != nil {
		return nil, err
	}

	run := &jobRun{
		orch:      o,
		job:       job,
		family:    family,
		gatesCfg:  gatesCfg,
		engineCfg: engineCfg,
		textCfg:   textCfg,
		resolved:  resolved,
		store:     store,
		record:    record,
		started:   time.Now(),
	}
	return &Outcome{
		ExitCode: run.execute(ctx),
		MetaPath: store.MetaPath(job.DocID),
		Family:   family,
		Settings: resolved,
	}, nil
}

// jobRun carries the mutable state of one job through the stages.
type jobRun struct {
	orch      *Orchestrator
	job       JobSpec
	family    string
	gatesCfg  *gates.Config
	engineCfg *settings.EngineConfig
	textCfg   *engine.TextConfig
	resolved  *settings.EngineSettings
	store     *metadata.Store
	record    *metadata.Record
	started   time.Time
	lastPct   int
}

func (r *jobRun) execute(ctx context.Context) int {
	r.progress("INIT", "Preparing conversion.", 5)

	if rejected := r.runPreflight(); rejected {
		return ExitRejected
	}

	r.progress("CONVERT", "Converting document.", 25)
	doc, failCode, err := r.convert(ctx)
	if err != nil {
		return r.fail(failCode, err)
	}

	r.progress("EXPORT", "Exporting markdown.", 55)
	exportStart := time.Now()
	structuredJSON, err := json.Marshal(doc.Structured)
	r.progress("EXPORT_JSON", "Exporting JSON.", 65)
	r.record.Processing.Timings.ExportMs = millisSince(exportStart)
	if err != nil {
		return r.fail(metadata.FailureWorkerException, fmt.Errorf("failed to export structured document: %w", err))
	}

	r.progress("METRICS", "Computing metrics.", 75)
	metrics := ComputeMetrics(doc)

	r.progress("GATES", "Evaluating quality gates.", 85)
	verdict, err := gates.Evaluate(metrics, r.gatesCfg.Gates)
	if err != nil {
		return r.fail(metadata.FailureWorkerException, err)
	}
	r.applyLimits(metrics, verdict)

	r.record.Metrics = metrics
	r.record.QualityGates.Passed = verdict.Passed
	r.record.QualityGates.FailedGates = verdict.FailedGates
	r.record.QualityGates.Evaluated = verdict.Evaluated
	r.record.Processing.Engine.Meta = doc.EngineMeta

	if verdict.Passed {
		r.progress("WRITE_OUTPUTS", "Writing outputs.", 92)
		if err := r.writeOutputs(doc, structuredJSON); err != nil {
			return r.fail(metadata.FailureWorkerException, err)
		}
		r.record.Processing.Status = metadata.StatusSuccess
		r.record.Processing.Stage = "DONE"
	} else {
		r.record.Processing.Status = metadata.StatusFailed
		r.record.Processing.Stage = "FAILED"
	}
	r.record.Processing.ExitCode = ExitOK

	r.finalize()
	r.progress("DONE", "Processing complete.", 100)
	if err := r.store.Write(r.record); err != nil {
		r.orch.Logger.Error("failed to write document record", zap.Error(err))
		return ExitException
	}
	return ExitOK
}

// runPreflight checks the PDF text layer for PDF inputs. Returns true when
// the document was rejected (record already written).
func (r *jobRun) runPreflight() bool {
	if !strings.HasSuffix(strings.ToLower(r.job.Input), ".pdf") || !preflight.SniffPDF(r.job.Input) {
		return false
	}

	r.progress("PREFLIGHT", "Checking PDF text layer.", 12)
	start := time.Now()
	result := preflight.Run(r.job.Input, r.engineCfg.Preflight.PdfText)
	r.record.Processing.Timings.PreflightMs = millisSince(start)
	r.record.Processing.Preflight = &result

	if result.Passed {
		return false
	}

	message := "PDF appears scan-like; OCR is disabled by design; document rejected fast."
	r.record.Processing.Status = metadata.StatusFailed
	r.record.Processing.Stage = "PREFLIGHT"
	r.record.Processing.Message = message
	r.record.Processing.SelectedProfile = ProfileRejected
	r.record.Processing.Failure = &metadata.Failure{
		Code:    metadata.FailureNoTextLayer,
		Message: message,
	}
	r.record.Processing.ExitCode = ExitRejected
	r.record.QualityGates.Passed = false

	r.progress("FAILED", "PDF rejected before conversion.", 100)
	r.finalize()
	if err := r.store.Write(r.record); err != nil {
		r.orch.Logger.Error("failed to write document record", zap.Error(err))
	}
	return true
}

// convert obtains an engine from the cache and runs it, converting panics
// and build failures into terminal failure codes.
func (r *jobRun) convert(ctx context.Context) (doc *engine.Document, failCode string, err error) {
	build := r.orch.BuildEngine
	if build == nil {
		build = engine.Build
	}

	// The text family adds the layout mode and config fingerprint: both feed
	// engine construction, so jobs differing only there must not share a
	// cached engine.
	key := r.family + "|" + r.resolved.CacheKey()
	if r.family == engine.FamilyText {
		key += "|" + engine.NormalizeLayoutMode(r.job.LayoutMode) + "|" + r.textCfg.Fingerprint()
	}
	eng, cached, err := r.orch.Cache.GetOrBuild(key, func() (engine.Engine, error) {
		return build(engine.BuildParams{
			Family:     r.family,
			Settings:   r.resolved,
			LayoutMode: r.job.LayoutMode,
			TextConfig: r.textCfg,
		})
	})
	if err != nil {
		if errors.Is(err, engine.ErrLayoutUnavailable) {
			return nil, metadata.FailureLayoutUnavailable, err
		}
		return nil, metadata.FailureWorkerException, err
	}
	r.orch.Logger.Debug("engine ready",
		zap.String("jobId", r.job.JobID),
		zap.String("cacheKey", key),
		zap.Bool("cached", cached))

	convertStart := time.Now()
	doc, err = safeConvert(ctx, eng, r.job.Input)
	r.record.Processing.Timings.ConvertMs = millisSince(convertStart)
	if err != nil {
		return nil, metadata.FailureWorkerException, err
	}
	return doc, "", nil
}

// safeConvert shields the worker loop from engine panics; a panicking
// engine fails the job, not the process.
func safeConvert(ctx context.Context, eng engine.Engine, input string) (doc *engine.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc = nil
			err = fmt.Errorf("engine panic: %v", rec)
		}
	}()
	return eng.Convert(ctx, input)
}

// applyLimits enforces hard limits that live outside the declared rule set.
func (r *jobRun) applyLimits(metrics gates.MetricSet, verdict *gates.Verdict) {
	maxPages := r.gatesCfg.Limits.MaxPages
	if maxPages > 0 && metrics["pages"] > float64(maxPages) {
		verdict.FailedGates = append(verdict.FailedGates, gates.FailedGate{
			Code:       metadata.FailureMaxPages,
			Message:    "Page count exceeds maxPages limit.",
			Actual:     metrics["pages"],
			ExpectedOp: "<=",
			Expected:   float64(maxPages),
		})
		verdict.Passed = false
	}
}

func (r *jobRun) writeOutputs(doc *engine.Document, structuredJSON []byte) error {
	mdPath, err := r.store.WriteArtifact(r.job.DocID, "output.md", []byte(doc.Markdown))
	if err != nil {
		return err
	}
	jsonPath, err := r.store.WriteArtifact(r.job.DocID, "output.json", structuredJSON)
	if err != nil {
		return err
	}
	r.record.Outputs = metadata.Outputs{
		MarkdownPath: &mdPath,
		JSONPath:     &jsonPath,
		Bytes: metadata.OutputBytes{
			Markdown: len(doc.Markdown),
			JSON:     len(structuredJSON),
		},
	}
	return nil
}

// fail records a terminal failure, flushes the record, and returns exit 1.
func (r *jobRun) fail(code string, cause error) int {
	r.orch.Logger.Warn("job failed",
		zap.String("jobId", r.job.JobID),
		zap.String("code", code),
		zap.Error(cause))

	r.record.Processing.Status = metadata.StatusFailed
	r.record.Processing.Stage = "FAILED"
	r.record.Processing.ExitCode = ExitException
	r.record.Processing.Message = "Processing failed."
	r.record.Processing.Failure = &metadata.Failure{
		Code:    code,
		Message: cause.Error(),
	}
	r.record.Logs.StderrTail = metadata.ClampTail(cause.Error(), r.gatesCfg.Limits.StderrTailKb)

	r.progress("FAILED", "Processing failed.", 100)
	r.finalize()
	if err := r.store.Write(r.record); err != nil {
		r.orch.Logger.Error("failed to write document record", zap.Error(err))
	}
	return ExitException
}

func (r *jobRun) finalize() {
	r.record.Processing.FinishedAt = metadata.NowISO()
	r.record.Processing.DurationMs = millisSince(r.started)
}

// progress emits a lifecycle event. Percentages never decrease within a job.
func (r *jobRun) progress(stage, message string, pct int) {
	if pct < r.lastPct {
		pct = r.lastPct
	}
	r.lastPct = pct
	r.orch.Events.Progress(stage, message, pct, r.job.JobID)
}

func millisSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// buildBaseRecord initializes the PENDING record before any stage runs.
func (o *Orchestrator) buildBaseRecord(job JobSpec, family string, gatesCfg *gates.Config, resolved *settings.EngineSettings) (*metadata.Record, error) {
	sizeBytes, err := fileSize(job.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	hash, err := metadata.SHA256File(job.Input)
	if err != nil {
		return nil, err
	}

	engineVersion := ""
	if o.Caps != nil {
		engineVersion = o.Caps.EngineVersion
	}

	return &metadata.Record{
		SchemaVersion: metadata.SchemaVersion,
		ID:            job.DocID,
		CreatedAt:     metadata.NowISO(),
		Source: metadata.Source{
			OriginalFileName: baseName(job.Input),
			MimeType:         metadata.SniffMime(job.Input),
			SizeBytes:        sizeBytes,
			SHA256:           hash,
			StoredPath:       job.Input,
		},
		Processing: metadata.Processing{
			Status:          metadata.StatusPending,
			StartedAt:       metadata.NowISO(),
			TimeoutSec:      gatesCfg.Limits.ProcessTimeoutSec,
			SelectedProfile: resolved.Profile,
			Engine: metadata.EngineInfo{
				Family:          family,
				Requested:       resolved.Requested,
				Effective:       resolved.Effective,
				FallbackReasons: resolved.FallbackReasons,
			},
			Accelerator: resolved.Accelerator,
			Timings:     metadata.Timings{StartupMs: o.StartupMs},
			Worker: metadata.WorkerInfo{
				GoVersion:     runtime.Version(),
				EngineVersion: engineVersion,
			},
		},
		Outputs: metadata.Outputs{},
		Metrics: map[string]float64{
			"pages":               0,
			"textChars":           0,
			"mdChars":             0,
			"textItems":           0,
			"tables":              0,
			"textCharsPerPageAvg": 0,
		},
		QualityGates: metadata.QualityGates{
			ConfigVersion: gatesCfg.Version,
			Strict:        gatesCfg.Strict,
			FailedGates:   []gates.FailedGate{},
			Evaluated:     []gates.EvaluatedGate{},
		},
	}, nil
}
