package settings

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
)

func fullSnapshot() *capability.Snapshot {
	return &capability.Snapshot{
		EngineVersion:  "v1.24.15",
		Backends:       []string{capability.BackendDlparseV1, capability.BackendDlparseV2, capability.BackendDlparseV4, capability.BackendPdfium},
		TableModes:     []string{capability.TableModeFast, capability.TableModeAccurate},
		OptionalFields: []string{"doCellMatching"},
		TextEngine:     capability.TextEngine{Available: true, LayoutAvailable: true},
		Accelerator:    capability.Accelerator{Type: "cuda", HardwareAvailable: true, DriverVersion: "550.54"},
	}
}

func cpuOnlySnapshot() *capability.Snapshot {
	snap := fullSnapshot()
	snap.Accelerator = capability.Accelerator{Type: "cuda"}
	return snap
}

func testConfig() *EngineConfig {
	matching := true
	cfg := &EngineConfig{
		Version:        1,
		DefaultProfile: "digital-balanced",
		Profiles: map[string]Profile{
			"digital-fast": {
				PdfBackend:         "dlparse_v2",
				TableStructureMode: "fast",
				DocumentTimeoutSec: 120,
			},
			"digital-balanced": {
				PdfBackend:         "dlparse_v2",
				DoTableStructure:   true,
				TableStructureMode: "fast",
				DocumentTimeoutSec: 240,
			},
			"digital-accurate": {
				PdfBackend:         "dlparse_v4",
				DoTableStructure:   true,
				DoCellMatching:     &matching,
				TableStructureMode: "accurate",
				DocumentTimeoutSec: 480,
			},
		},
		ProfileOrder: []string{"digital-fast", "digital-balanced", "digital-accurate"},
	}
	cfg.Docling.Accelerator = "auto"
	return cfg
}

func TestResolve_DefaultProfile(t *testing.T) {
	resolved, err := Resolve(testConfig(), fullSnapshot(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Profile != "digital-balanced" {
		t.Fatalf("profile = %q, want digital-balanced", resolved.Profile)
	}
	if len(resolved.FallbackReasons) != 0 {
		t.Fatalf("unexpected fallback reasons: %v", resolved.FallbackReasons)
	}
	if resolved.Accelerator.EffectiveDevice != DeviceCUDA {
		t.Fatalf("auto on available hardware should pick cuda, got %q", resolved.Accelerator.EffectiveDevice)
	}
}

func TestResolve_UnknownProfileFatal(t *testing.T) {
	_, err := Resolve(testConfig(), fullSnapshot(), Overrides{Profile: "no-such-profile"})
	if err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestResolve_FirstDeclaredProfileFallback(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultProfile = ""

	resolved, err := Resolve(cfg, fullSnapshot(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Profile != "digital-fast" {
		t.Fatalf("profile = %q, want first declared digital-fast", resolved.Profile)
	}
}

func TestResolve_CudaWithoutHardware(t *testing.T) {
	resolved, err := Resolve(testConfig(), cpuOnlySnapshot(), Overrides{Device: "cuda"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	acc := resolved.Accelerator
	if acc.RequestedDevice != DeviceCUDA || acc.EffectiveDevice != DeviceCPU {
		t.Fatalf("device negotiation mismatch: %+v", acc)
	}
	if acc.FallbackReason != ReasonHardwareNotAvailable {
		t.Fatalf("reason = %q, want %q", acc.FallbackReason, ReasonHardwareNotAvailable)
	}
	if resolved.FallbackReasons[0] != ReasonHardwareNotAvailable {
		t.Fatalf("fallback reasons missing %q: %v", ReasonHardwareNotAvailable, resolved.FallbackReasons)
	}
}

func TestResolve_BackendFallbackCode(t *testing.T) {
	snap := fullSnapshot()
	snap.Backends = []string{capability.BackendDlparseV2}

	resolved, err := Resolve(testConfig(), snap, Overrides{Profile: "digital-accurate"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Effective.PdfBackend != capability.BackendDlparseV2 {
		t.Fatalf("effective backend = %q", resolved.Effective.PdfBackend)
	}
	want := fmt.Sprintf("PDF_BACKEND_FALLBACK:%s->%s", capability.BackendDlparseV4, capability.BackendDlparseV2)
	if !containsString(resolved.FallbackReasons, want) {
		t.Fatalf("fallback reasons %v missing %q", resolved.FallbackReasons, want)
	}
	if resolved.Requested.PdfBackend != capability.BackendDlparseV4 {
		t.Fatalf("requested backend must stay %q, got %q", capability.BackendDlparseV4, resolved.Requested.PdfBackend)
	}
}

func TestResolve_TableModeFallbackCode(t *testing.T) {
	snap := fullSnapshot()
	snap.TableModes = []string{capability.TableModeFast}

	resolved, err := Resolve(testConfig(), snap, Overrides{Profile: "digital-accurate"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Effective.TableStructureMode != capability.TableModeFast {
		t.Fatalf("effective table mode = %q", resolved.Effective.TableStructureMode)
	}
	want := "TABLE_MODE_FALLBACK:accurate->fast"
	if !containsString(resolved.FallbackReasons, want) {
		t.Fatalf("fallback reasons %v missing %q", resolved.FallbackReasons, want)
	}
}

func TestResolve_CellMatchingDropped(t *testing.T) {
	snap := fullSnapshot()
	snap.OptionalFields = []string{}

	resolved, err := Resolve(testConfig(), snap, Overrides{Profile: "digital-accurate"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Effective.DoCellMatching != nil {
		t.Fatalf("cell matching should be dropped, got %v", *resolved.Effective.DoCellMatching)
	}
	if resolved.Requested.DoCellMatching == nil || !*resolved.Requested.DoCellMatching {
		t.Fatalf("requested cell matching must be preserved")
	}
	if !containsString(resolved.FallbackReasons, ReasonCellMatchingDropped) {
		t.Fatalf("fallback reasons %v missing %q", resolved.FallbackReasons, ReasonCellMatchingDropped)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	cfg := testConfig()
	snap := cpuOnlySnapshot()
	opts := Overrides{Profile: "digital-accurate", Device: "cuda"}

	first, err := Resolve(cfg, snap, opts)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	second, err := Resolve(cfg, snap, opts)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if first.Profile != second.Profile ||
		!reflect.DeepEqual(first.Effective, second.Effective) ||
		!reflect.DeepEqual(first.FallbackReasons, second.FallbackReasons) {
		t.Fatalf("resolution not idempotent:\n%+v\n%+v", first, second)
	}
	if first.CacheKey() != second.CacheKey() {
		t.Fatalf("cache keys differ: %q vs %q", first.CacheKey(), second.CacheKey())
	}
}

func TestCacheKey_DeviceChangesKey(t *testing.T) {
	cpu, err := Resolve(testConfig(), cpuOnlySnapshot(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	cuda, err := Resolve(testConfig(), fullSnapshot(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cpu.CacheKey() == cuda.CacheKey() {
		t.Fatalf("cache key must include effective device: %q", cpu.CacheKey())
	}
}

func TestNormalizeDevice(t *testing.T) {
	tests := map[string]string{
		"cpu":     DeviceCPU,
		"CUDA":    DeviceCUDA,
		" cuda ":  DeviceCUDA,
		"gpu":     DeviceAuto,
		"":        DeviceAuto,
		"unknown": DeviceAuto,
	}
	for input, want := range tests {
		if got := NormalizeDevice(input); got != want {
			t.Fatalf("NormalizeDevice(%q) = %q, want %q", input, got, want)
		}
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
