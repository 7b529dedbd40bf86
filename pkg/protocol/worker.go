package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/convert"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/engine"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/gates"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/settings"
)

// maxCommandBytes bounds one inbound command line.
const maxCommandBytes = 1 << 20

// Worker is the keep-warm loop: read a command, run it, report, repeat.
//
// One job is in flight at a time; horizontal scaling means more worker
// processes, owned by the supervisor. The engine cache and the lastJob
// proof slot are the only shared mutable state.
type Worker struct {
	in     io.Reader
	events *EventWriter
	logger *zap.Logger
	cache  *enginecache.Cache
	caps   *capability.Snapshot
	start  time.Time

	mu      sync.Mutex
	lastJob *LastJob
}

// NewWorker wires a worker to its command input and event output.
func NewWorker(in io.Reader, out io.Writer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		in:     in,
		events: NewEventWriter(out),
		logger: logger,
		cache:  enginecache.New(),
		start:  time.Now(),
	}
}

// Progress implements convert.EventSink.
func (w *Worker) Progress(stage, message string, progress int, jobID string) {
	event := ProgressEvent{
		Event:    EventProgress,
		Stage:    stage,
		Message:  message,
		Progress: progress,
		JobID:    jobID,
	}
	if err := w.events.Emit(event); err != nil {
		w.logger.Error("failed to emit progress event", zap.Error(err))
	}
}

// Run probes capabilities, prewarms the default engine, announces readiness,
// and then serves commands until shutdown or EOF.
//
// Protocol errors (blank lines, malformed JSON, unknown command types, jobs
// missing required fields) are silently skipped; the loop only stops on
// shutdown, input EOF, or a fatal configuration error inside a job.
func (w *Worker) Run(ctx context.Context) error {
	w.caps = capability.Probe()
	prewarm := w.prewarm()
	startupMs := time.Since(w.start).Milliseconds()

	if err := w.events.Emit(ReadyEvent{
		Event:     EventReady,
		StartupMs: startupMs,
		Prewarm:   prewarm,
	}); err != nil {
		return fmt.Errorf("failed to emit ready event: %w", err)
	}
	w.logger.Info("worker ready", zap.Int64("startupMs", startupMs))

	scanner := bufio.NewScanner(w.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCommandBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			w.logger.Debug("skipping malformed command line", zap.Error(err))
			continue
		}

		switch cmd.Type {
		case CommandShutdown:
			w.logger.Info("shutdown requested")
			return nil
		case CommandCapabilities:
			w.emitCapabilities(cmd.RequestID)
		case CommandJob:
			if err := w.runJob(ctx, cmd); err != nil {
				return err
			}
		default:
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read command stream: %w", err)
	}
	return nil
}

func (w *Worker) runJob(ctx context.Context, cmd Command) error {
	jobID := strings.TrimSpace(cmd.JobID)
	if jobID == "" {
		jobID = strings.TrimSpace(cmd.DocID)
	}
	if jobID == "" || cmd.Input == "" || cmd.DocID == "" || cmd.DataDir == "" || cmd.Gates == "" {
		w.logger.Warn("skipping job with missing required fields", zap.String("jobId", jobID))
		return nil
	}

	startupMs := time.Since(w.start).Milliseconds()
	orch := convert.New(w.cache, w.caps, w, w.logger)
	orch.StartupMs = startupMs

	outcome, err := orch.Run(ctx, convert.JobSpec{
		JobID:            jobID,
		DocID:            cmd.DocID,
		Input:            cmd.Input,
		DataDir:          cmd.DataDir,
		GatesPath:        cmd.Gates,
		EngineConfigPath: cmd.DoclingConfig,
		TextConfigPath:   cmd.PymupdfConfig,
		Engine:           cmd.Engine,
		LayoutMode:       cmd.LayoutMode,
		DeviceOverride:   cmd.DeviceOverride,
		Profile:          cmd.Profile,
	})
	if err != nil {
		return fmt.Errorf("job %s failed on configuration: %w", jobID, err)
	}

	w.setLastJob(jobID, outcome)
	return w.events.Emit(ResultEvent{
		Event:    EventResult,
		JobID:    jobID,
		ExitCode: outcome.ExitCode,
		MetaPath: outcome.MetaPath,
	})
}

func (w *Worker) setLastJob(jobID string, outcome *convert.Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastJob = &LastJob{
		JobID:           jobID,
		Engine:          outcome.Family,
		Profile:         outcome.Settings.Profile,
		Requested:       outcome.Settings.Requested,
		Effective:       outcome.Settings.Effective,
		FallbackReasons: outcome.Settings.FallbackReasons,
	}
}

func (w *Worker) emitCapabilities(requestID string) {
	w.mu.Lock()
	lastJob := w.lastJob
	w.mu.Unlock()

	event := CapabilitiesEvent{
		Event:        EventCapabilities,
		RequestID:    requestID,
		Capabilities: w.caps,
		CacheStats:   w.cache.Stats(),
		LastJob:      lastJob,
	}
	if err := w.events.Emit(event); err != nil {
		w.logger.Error("failed to emit capabilities event", zap.Error(err))
	}
}

// prewarm builds the default profile's engine into the cache so the first
// job skips construction cost. Best effort: failure is logged, never fatal.
func (w *Worker) prewarm() *PrewarmSummary {
	var gatesCfg *gates.Config
	if path := strings.TrimSpace(os.Getenv("GATES_CONFIG_PATH")); path != "" {
		if cfg, err := gates.Load(path); err == nil {
			gatesCfg = cfg
		}
	}

	engineCfg, err := settings.Load(os.Getenv("DOCLING_CONFIG_PATH"), gatesCfg)
	if err != nil {
		w.logger.Warn("engine prewarm skipped", zap.Error(err))
		return nil
	}
	resolved, err := settings.Resolve(engineCfg, w.caps, settings.Overrides{})
	if err != nil {
		w.logger.Warn("engine prewarm skipped", zap.Error(err))
		return nil
	}

	key := engine.FamilyDocling + "|" + resolved.CacheKey()
	if _, _, err := w.cache.GetOrBuild(key, func() (engine.Engine, error) {
		return engine.Build(engine.BuildParams{
			Family:   engine.FamilyDocling,
			Settings: resolved,
		})
	}); err != nil {
		w.logger.Warn("engine prewarm failed", zap.Error(err))
		return nil
	}

	acc := resolved.Accelerator
	return &PrewarmSummary{
		Profile:           resolved.Profile,
		RequestedDevice:   acc.RequestedDevice,
		EffectiveDevice:   acc.EffectiveDevice,
		HardwareAvailable: acc.HardwareAvailable,
		Reason:            acc.FallbackReason,
	}
}
