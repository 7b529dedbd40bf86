package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/engine"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/metadata"
)

const testGatesJSON = `{
  "version": 1,
  "strict": true,
  "gates": [
    {
      "code": "MIN_TEXT_CHARS",
      "enabled": true,
      "metric": "textChars",
      "op": ">=",
      "threshold": 10,
      "severity": "FAIL",
      "message": "Document text layer is too small."
    }
  ],
  "limits": {"maxPages": 50, "processTimeoutSec": 60, "stderrTailKb": 1}
}`

const testEngineJSON = `{
  "version": 1,
  "defaultProfile": "digital-fast",
  "profiles": {
    "digital-fast": {
      "pdfBackend": "dlparse_v2",
      "doOcr": false,
      "tableStructureMode": "fast",
      "documentTimeoutSec": 60
    }
  },
  "preflight": {
    "pdfText": {"enabled": true, "samplePages": 2, "minTextChars": 500, "minTextCharsPerPageAvg": 100}
  },
  "docling": {"accelerator": "cpu"}
}`

func testSnapshot() *capability.Snapshot {
	return &capability.Snapshot{
		EngineVersion:  "test",
		Backends:       []string{capability.BackendDlparseV2},
		TableModes:     []string{capability.TableModeFast, capability.TableModeAccurate},
		OptionalFields: []string{"doCellMatching"},
		TextEngine:     capability.TextEngine{Available: true, LayoutAvailable: false},
		Accelerator:    capability.Accelerator{Type: "cuda"},
	}
}

// recordingSink captures progress events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	stages []string
	pcts   []int
}

func (s *recordingSink) Progress(stage, message string, progress int, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	s.pcts = append(s.pcts, progress)
}

type stubEngine struct {
	doc *engine.Document
	err error
	pan bool
}

func (s *stubEngine) Name() string { return engine.FamilyDocling }

func (s *stubEngine) Convert(context.Context, string) (*engine.Document, error) {
	if s.pan {
		panic("engine exploded")
	}
	return s.doc, s.err
}

type testEnv struct {
	dir     string
	job     JobSpec
	sink    *recordingSink
	orch    *Orchestrator
	builds  int
	buildFn func(engine.BuildParams) (engine.Engine, error)
}

func newTestEnv(t *testing.T, stub *stubEngine) *testEnv {
	t.Helper()
	dir := t.TempDir()

	gatesPath := filepath.Join(dir, "quality-gates.json")
	enginePath := filepath.Join(dir, "docling.json")
	inputPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(gatesPath, []byte(testGatesJSON), 0644); err != nil {
		t.Fatalf("write gates config: %v", err)
	}
	if err := os.WriteFile(enginePath, []byte(testEngineJSON), 0644); err != nil {
		t.Fatalf("write engine config: %v", err)
	}
	// Not a real PDF, so preflight is skipped and the stub engine runs.
	if err := os.WriteFile(inputPath, []byte("stub document body"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	env := &testEnv{dir: dir, sink: &recordingSink{}}
	env.orch = New(enginecache.New(), testSnapshot(), env.sink, nil)
	env.orch.BuildEngine = func(p engine.BuildParams) (engine.Engine, error) {
		env.builds++
		if env.buildFn != nil {
			return env.buildFn(p)
		}
		return stub, nil
	}
	env.job = JobSpec{
		JobID:            "job-1",
		DocID:            "doc-1",
		Input:            inputPath,
		DataDir:          filepath.Join(dir, "data"),
		GatesPath:        gatesPath,
		EngineConfigPath: enginePath,
	}
	return env
}

func healthyDoc() *engine.Document {
	return &engine.Document{
		Pages:      2,
		Texts:      []string{"plenty of extracted text", "on the second page too"},
		Tables:     1,
		Markdown:   "# Extracted\n\nplenty of extracted text",
		Structured: map[string]any{"schemaVersion": 1, "pages": 2},
		EngineMeta: map[string]any{"backend": "dlparse_v2"},
	}
}

func TestRun_SuccessPath(t *testing.T) {
	env := newTestEnv(t, &stubEngine{doc: healthyDoc()})

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitOK {
		t.Fatalf("exit code = %d, want 0", outcome.ExitCode)
	}

	store := metadata.NewStore(env.job.DataDir)
	rec, err := store.Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Status != metadata.StatusSuccess || rec.Processing.Stage != "DONE" {
		t.Fatalf("processing = %+v", rec.Processing)
	}
	if !rec.QualityGates.Passed {
		t.Fatalf("gates should pass: %+v", rec.QualityGates)
	}
	if rec.Outputs.MarkdownPath == nil || rec.Outputs.JSONPath == nil {
		t.Fatalf("outputs missing: %+v", rec.Outputs)
	}
	if _, err := os.Stat(*rec.Outputs.MarkdownPath); err != nil {
		t.Fatalf("markdown artifact missing: %v", err)
	}
	if _, err := os.Stat(*rec.Outputs.JSONPath); err != nil {
		t.Fatalf("json artifact missing: %v", err)
	}
	if rec.Outputs.Bytes.Markdown == 0 || rec.Outputs.Bytes.JSON == 0 {
		t.Fatalf("artifact byte sizes missing: %+v", rec.Outputs.Bytes)
	}
	if rec.Metrics["pages"] != 2 || rec.Metrics["tables"] != 1 {
		t.Fatalf("metrics mismatch: %+v", rec.Metrics)
	}
}

func TestRun_ProgressScheduleMonotonic(t *testing.T) {
	env := newTestEnv(t, &stubEngine{doc: healthyDoc()})

	if _, err := env.orch.Run(context.Background(), env.job); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(env.sink.pcts) == 0 {
		t.Fatalf("no progress events emitted")
	}
	last := -1
	for i, pct := range env.sink.pcts {
		if pct < last {
			t.Fatalf("progress decreased at %d: %v", i, env.sink.pcts)
		}
		last = pct
	}
	if env.sink.stages[0] != "INIT" || env.sink.stages[len(env.sink.stages)-1] != "DONE" {
		t.Fatalf("stage sequence = %v", env.sink.stages)
	}
	if env.sink.pcts[len(env.sink.pcts)-1] != 100 {
		t.Fatalf("final progress = %d, want 100", env.sink.pcts[len(env.sink.pcts)-1])
	}
}

func TestRun_GateFailureKeepsOutputsNull(t *testing.T) {
	doc := healthyDoc()
	doc.Texts = []string{"tiny"}
	env := newTestEnv(t, &stubEngine{doc: doc})

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitOK {
		t.Fatalf("gate failure is a processed state: exit = %d, want 0", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Status != metadata.StatusFailed {
		t.Fatalf("status = %q, want FAILED", rec.Processing.Status)
	}
	if rec.QualityGates.Passed || len(rec.QualityGates.FailedGates) == 0 {
		t.Fatalf("verdict mismatch: %+v", rec.QualityGates)
	}
	if rec.Outputs.MarkdownPath != nil || rec.Outputs.JSONPath != nil {
		t.Fatalf("outputs must stay null on gate failure: %+v", rec.Outputs)
	}
	if _, err := os.Stat(filepath.Join(env.job.DataDir, "exports", "doc-1", "output.md")); !os.IsNotExist(err) {
		t.Fatalf("markdown artifact written despite gate failure")
	}
}

func TestRun_EngineErrorBecomesWorkerException(t *testing.T) {
	env := newTestEnv(t, &stubEngine{err: errors.New("backend crashed while parsing")})

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitException {
		t.Fatalf("exit code = %d, want 1", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Failure == nil || rec.Processing.Failure.Code != metadata.FailureWorkerException {
		t.Fatalf("failure = %+v, want WORKER_EXCEPTION", rec.Processing.Failure)
	}
	if rec.Logs.StderrTail == "" {
		t.Fatalf("stderr tail missing")
	}
	if rec.Processing.ExitCode != ExitException {
		t.Fatalf("recorded exit code = %d", rec.Processing.ExitCode)
	}
}

func TestRun_EnginePanicIsCaught(t *testing.T) {
	env := newTestEnv(t, &stubEngine{pan: true})

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitException {
		t.Fatalf("exit code = %d, want 1", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Failure == nil || rec.Processing.Failure.Code != metadata.FailureWorkerException {
		t.Fatalf("failure = %+v", rec.Processing.Failure)
	}
}

func TestRun_PreflightRejection(t *testing.T) {
	env := newTestEnv(t, &stubEngine{doc: healthyDoc()})

	// A real PDF magic with no meaningful text layer: the sampler cannot
	// parse it, the byte scan finds almost nothing, thresholds reject it.
	if err := os.WriteFile(env.job.Input, []byte("%PDF-1.4\n1 0 obj\nBT (x) Tj ET\nendobj\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitRejected {
		t.Fatalf("exit code = %d, want 2", outcome.ExitCode)
	}
	if env.builds != 0 {
		t.Fatalf("engine built despite preflight rejection")
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.SelectedProfile != ProfileRejected {
		t.Fatalf("selectedProfile = %q, want %q", rec.Processing.SelectedProfile, ProfileRejected)
	}
	if rec.Processing.Failure == nil || rec.Processing.Failure.Code != metadata.FailureNoTextLayer {
		t.Fatalf("failure = %+v, want NO_TEXT_LAYER", rec.Processing.Failure)
	}
	if rec.Processing.Preflight == nil || rec.Processing.Preflight.Passed {
		t.Fatalf("preflight result = %+v", rec.Processing.Preflight)
	}
	if rec.QualityGates.Passed {
		t.Fatalf("quality gates must report failed")
	}
}

func TestRun_MaxPagesLimit(t *testing.T) {
	doc := healthyDoc()
	doc.Pages = 51
	env := newTestEnv(t, &stubEngine{doc: doc})

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitOK {
		t.Fatalf("page limit is a processed state: exit = %d, want 0", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Status != metadata.StatusFailed {
		t.Fatalf("status = %q, want FAILED", rec.Processing.Status)
	}
	found := false
	for _, failed := range rec.QualityGates.FailedGates {
		if failed.Code == metadata.FailureMaxPages {
			found = true
			if failed.Actual != 51 || failed.Expected != 50 || failed.ExpectedOp != "<=" {
				t.Fatalf("limit gate shape: %+v", failed)
			}
		}
	}
	if !found {
		t.Fatalf("LIMIT_MAX_PAGES missing: %+v", rec.QualityGates.FailedGates)
	}
}

func TestRun_EngineCacheReusedAcrossJobs(t *testing.T) {
	env := newTestEnv(t, &stubEngine{doc: healthyDoc()})

	for i := 0; i < 3; i++ {
		job := env.job
		job.JobID = fmt.Sprintf("job-%d", i)
		job.DocID = fmt.Sprintf("doc-%d", i)
		if _, err := env.orch.Run(context.Background(), job); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	}

	if env.builds != 1 {
		t.Fatalf("engine builds = %d, want 1 for identical effective settings", env.builds)
	}
	stats := env.orch.Cache.Stats()
	if stats.Builds != 1 || stats.Hits != 2 {
		t.Fatalf("cache stats = %+v", stats)
	}
}

func TestRun_LayoutUnavailableFailsJob(t *testing.T) {
	env := newTestEnv(t, nil)
	env.buildFn = func(p engine.BuildParams) (engine.Engine, error) {
		return engine.Build(p)
	}
	env.job.Engine = engine.FamilyText
	env.job.LayoutMode = engine.LayoutRequire

	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode != ExitException {
		t.Fatalf("exit code = %d, want 1", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-1")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Failure == nil || rec.Processing.Failure.Code != metadata.FailureLayoutUnavailable {
		t.Fatalf("failure = %+v, want PYMUPDF_LAYOUT_UNAVAILABLE", rec.Processing.Failure)
	}
}

func TestRun_LayoutModeChangesCacheKey(t *testing.T) {
	env := newTestEnv(t, nil)
	env.buildFn = func(p engine.BuildParams) (engine.Engine, error) {
		return engine.Build(p)
	}
	env.job.Engine = engine.FamilyText

	env.job.LayoutMode = engine.LayoutOff
	outcome, err := env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode == ExitRejected {
		t.Fatalf("layout-off job unexpectedly rejected")
	}

	// Same resolved settings, different layout mode: the layout-off engine
	// must not be reused, and the layout check must fail this job.
	env.job.LayoutMode = engine.LayoutRequire
	env.job.DocID = "doc-2"
	outcome, err = env.orch.Run(context.Background(), env.job)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if env.builds != 2 {
		t.Fatalf("engine builds = %d, want 2 for distinct layout modes", env.builds)
	}
	if outcome.ExitCode != ExitException {
		t.Fatalf("exit code = %d, want 1", outcome.ExitCode)
	}

	rec, err := metadata.NewStore(env.job.DataDir).Read("doc-2")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Processing.Failure == nil || rec.Processing.Failure.Code != metadata.FailureLayoutUnavailable {
		t.Fatalf("failure = %+v, want PYMUPDF_LAYOUT_UNAVAILABLE", rec.Processing.Failure)
	}
}

func TestRun_UnknownProfileIsFatal(t *testing.T) {
	env := newTestEnv(t, &stubEngine{doc: healthyDoc()})
	env.job.Profile = "no-such-profile"

	if _, err := env.orch.Run(context.Background(), env.job); err == nil {
		t.Fatalf("expected fatal configuration error")
	}
}

func TestComputeMetrics(t *testing.T) {
	doc := &engine.Document{
		Pages:        4,
		Texts:        []string{"alpha beta", "gamma"},
		Tables:       2,
		Markdown:     "alpha beta gamma",
		ExtraMetrics: map[string]float64{"splitTokenRatio": 0.5, "pages": 999},
	}

	metrics := ComputeMetrics(doc)
	if metrics["pages"] != 4 {
		t.Fatalf("extra metrics must not overwrite core metrics: %v", metrics["pages"])
	}
	if metrics["textChars"] != 15 {
		t.Fatalf("textChars = %v, want 15", metrics["textChars"])
	}
	if metrics["textItems"] != 3 {
		t.Fatalf("textItems = %v, want 3", metrics["textItems"])
	}
	if metrics["tables"] != 2 {
		t.Fatalf("tables = %v", metrics["tables"])
	}
	if metrics["splitTokenRatio"] != 0.5 {
		t.Fatalf("extra metric not merged: %v", metrics)
	}
	if metrics["textCharsPerPageAvg"] != 3.75 {
		t.Fatalf("avg = %v, want 3.75", metrics["textCharsPerPageAvg"])
	}
}
