// Package capability discovers what the installed conversion stack supports.
//
// The snapshot is computed once per process: engine backends that can be
// constructed, table-structure modes, optional per-engine fields, layout
// support for the text engine, and hardware accelerator availability.
// Individual probes never abort the snapshot; a failed probe degrades that
// capability to "unavailable".
package capability

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Canonical backend and mode names accepted in engine profiles.
const (
	BackendDlparseV1 = "dlparse_v1"
	BackendDlparseV2 = "dlparse_v2"
	BackendDlparseV4 = "dlparse_v4"
	BackendPdfium    = "pypdfium2"

	TableModeFast     = "fast"
	TableModeAccurate = "accurate"
)

// Accelerator describes the discovered hardware accelerator.
type Accelerator struct {
	Type              string `json:"type,omitempty"`
	DriverVersion     string `json:"driverVersion,omitempty"`
	HardwareAvailable bool   `json:"hardwareAvailable"`
}

// TextEngine describes the text-only engine family.
type TextEngine struct {
	Available       bool   `json:"available"`
	LayoutAvailable bool   `json:"layoutAvailable"`
	Version         string `json:"version,omitempty"`
}

// Snapshot is the discovered capability set of the installed engine stack.
//
// Write-once, read-many: the worker computes it at startup and shares it
// across jobs for the process lifetime.
type Snapshot struct {
	EngineVersion  string      `json:"engineVersion"`
	Backends       []string    `json:"backends"`
	TableModes     []string    `json:"tableModes"`
	OptionalFields []string    `json:"optionalFields"`
	TextEngine     TextEngine  `json:"pymupdf4llm"`
	Accelerator    Accelerator `json:"accelerator"`
}

// SupportsBackend reports whether the backend name is in the snapshot.
func (s *Snapshot) SupportsBackend(name string) bool {
	return contains(s.Backends, name)
}

// SupportsTableMode reports whether the table mode is in the snapshot.
func (s *Snapshot) SupportsTableMode(mode string) bool {
	return contains(s.TableModes, mode)
}

// AcceptsOptionalField reports whether the installed engine accepts the
// named optional field (e.g. cell matching).
func (s *Snapshot) AcceptsOptionalField(name string) bool {
	return contains(s.OptionalFields, name)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

var (
	probeOnce sync.Once
	snapshot  *Snapshot
)

// Probe returns the process-wide capability snapshot.
//
// The first call pays full discovery cost; later calls return the cached
// value immediately and never re-run discovery.
func Probe() *Snapshot {
	probeOnce.Do(func() {
		snapshot = ProbeFresh()
	})
	return snapshot
}

// ProbeFresh runs discovery without touching the process-wide cache.
// Intended for tests and diagnostics.
func ProbeFresh() *Snapshot {
	snap := &Snapshot{
		EngineVersion:  engineLibraryVersion(),
		Backends:       probeBackends(),
		TableModes:     []string{TableModeFast, TableModeAccurate},
		OptionalFields: probeOptionalFields(),
		TextEngine:     probeTextEngine(),
		Accelerator:    probeAccelerator(),
	}
	return snap
}

// probeBackends returns the backend names the installed parser stack can
// construct. The fitz-based backends are compiled in; the operator can mask
// individual backends for rollout testing via DOCWORKER_DISABLE_BACKENDS
// (comma-separated).
func probeBackends() []string {
	all := []string{BackendDlparseV1, BackendDlparseV2, BackendDlparseV4, BackendPdfium}
	disabled := splitCSV(os.Getenv("DOCWORKER_DISABLE_BACKENDS"))
	if len(disabled) == 0 {
		return all
	}
	out := make([]string, 0, len(all))
	for _, b := range all {
		if !contains(disabled, b) {
			out = append(out, b)
		}
	}
	return out
}

func probeOptionalFields() []string {
	if strings.TrimSpace(os.Getenv("DOCWORKER_DISABLE_CELL_MATCHING")) != "" {
		return []string{}
	}
	return []string{"doCellMatching"}
}

func probeTextEngine() TextEngine {
	te := TextEngine{
		Available: true,
		Version:   engineLibraryVersion(),
	}
	te.LayoutAvailable = strings.TrimSpace(os.Getenv("DOCWORKER_DISABLE_LAYOUT")) == ""
	return te
}

// probeAccelerator checks for a visible NVIDIA GPU. Any failure degrades to
// "not available"; accelerator fallback is never fatal to a job.
func probeAccelerator() Accelerator {
	acc := Accelerator{Type: "cuda"}
	if os.Getenv("CUDA_VISIBLE_DEVICES") == "-1" {
		return acc
	}
	version, ok := nvidiaDriverVersion()
	if !ok {
		return acc
	}
	acc.HardwareAvailable = true
	acc.DriverVersion = version
	return acc
}

func nvidiaDriverVersion() (string, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return "", false
	}
	out, err := exec.Command(path, "--query-gpu=driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return "", false
	}
	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if version == "" {
		return "", false
	}
	return version, true
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
