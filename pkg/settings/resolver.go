package settings

import (
	"fmt"
	"strings"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
)

// Overrides carries per-job configuration overrides.
type Overrides struct {
	Profile string
	Device  string
}

// Preferred fallback order when a requested value is not in the capability
// snapshot. Documented policy, not incidental: the first supported entry wins.
var (
	backendPreference = []string{
		capability.BackendDlparseV2,
		capability.BackendDlparseV4,
		capability.BackendDlparseV1,
		capability.BackendPdfium,
	}
	tableModePreference = []string{
		capability.TableModeFast,
		capability.TableModeAccurate,
	}
)

// NormalizeDevice maps arbitrary device strings to auto/cpu/cuda.
func NormalizeDevice(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA:
		return DeviceCUDA
	default:
		return DeviceAuto
	}
}

// NormalizeTableMode maps arbitrary table mode strings to fast/accurate.
func NormalizeTableMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case capability.TableModeAccurate:
		return capability.TableModeAccurate
	default:
		return capability.TableModeFast
	}
}

// SelectAccelerator picks the effective device for a requested device.
//
// An explicit cuda request with no hardware present silently downgrades to
// cpu and records HARDWARE_NOT_AVAILABLE; it never fails the job.
func SelectAccelerator(requested string, caps *capability.Snapshot) AcceleratorSelection {
	sel := AcceleratorSelection{
		RequestedDevice:   NormalizeDevice(requested),
		HardwareAvailable: caps.Accelerator.HardwareAvailable,
		DriverVersion:     caps.Accelerator.DriverVersion,
	}
	switch sel.RequestedDevice {
	case DeviceCUDA:
		if caps.Accelerator.HardwareAvailable {
			sel.EffectiveDevice = DeviceCUDA
		} else {
			sel.EffectiveDevice = DeviceCPU
			sel.FallbackReason = ReasonHardwareNotAvailable
		}
	case DeviceCPU:
		sel.EffectiveDevice = DeviceCPU
	default:
		if caps.Accelerator.HardwareAvailable {
			sel.EffectiveDevice = DeviceCUDA
		} else {
			sel.EffectiveDevice = DeviceCPU
		}
	}
	return sel
}

// Resolve merges the engine config, job overrides, and capability snapshot
// into an EngineSettings pair.
//
// Resolution is deterministic: identical inputs against an unchanged snapshot
// yield identical effective settings and fallback reasons.
func Resolve(cfg *EngineConfig, caps *capability.Snapshot, opts Overrides) (*EngineSettings, error) {
	profileName, profile, err := resolveProfile(cfg, opts.Profile)
	if err != nil {
		return nil, err
	}

	requestedDevice := resolveRequestedDevice(cfg, opts.Device)
	accelerator := SelectAccelerator(requestedDevice, caps)

	requested := Fields{
		PdfBackend:         strings.TrimSpace(profile.PdfBackend),
		DoOcr:              profile.DoOcr,
		DoTableStructure:   profile.DoTableStructure,
		DoCellMatching:     profile.DoCellMatching,
		TableStructureMode: NormalizeTableMode(profile.TableStructureMode),
		DocumentTimeoutSec: profile.DocumentTimeoutSec,
		Device:             requestedDevice,
	}
	if requested.PdfBackend == "" {
		requested.PdfBackend = capability.BackendDlparseV2
	}

	effective := requested
	effective.Device = accelerator.EffectiveDevice

	var reasons []string
	if accelerator.FallbackReason != "" {
		reasons = append(reasons, accelerator.FallbackReason)
	}

	if !caps.SupportsBackend(requested.PdfBackend) {
		fallback := firstSupported(backendPreference, caps.SupportsBackend, capability.BackendDlparseV2)
		effective.PdfBackend = fallback
		reasons = append(reasons, fmt.Sprintf("PDF_BACKEND_FALLBACK:%s->%s", requested.PdfBackend, fallback))
	}

	if !caps.SupportsTableMode(requested.TableStructureMode) {
		fallback := firstSupported(tableModePreference, caps.SupportsTableMode, capability.TableModeFast)
		effective.TableStructureMode = fallback
		reasons = append(reasons, fmt.Sprintf("TABLE_MODE_FALLBACK:%s->%s", requested.TableStructureMode, fallback))
	}

	if requested.DoCellMatching != nil && !caps.AcceptsOptionalField("doCellMatching") {
		effective.DoCellMatching = nil
		reasons = append(reasons, ReasonCellMatchingDropped)
	}

	if reasons == nil {
		reasons = []string{}
	}

	return &EngineSettings{
		Profile:         profileName,
		Requested:       requested,
		Effective:       effective,
		FallbackReasons: reasons,
		Accelerator:     accelerator,
		Capabilities:    caps,
	}, nil
}

// resolveProfile selects the profile name: explicit override, configured
// default, first declared profile, then the hard-coded fallback name.
// An unknown explicit profile is a fatal configuration error.
func resolveProfile(cfg *EngineConfig, override string) (string, Profile, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimSpace(cfg.DefaultProfile)
	}
	if name == "" {
		name = strings.TrimSpace(cfg.Profile)
	}
	if name == "" && len(cfg.ProfileOrder) > 0 {
		name = cfg.ProfileOrder[0]
	}
	if name == "" {
		name = FallbackProfileName
	}

	profile, ok := cfg.Profiles[name]
	if !ok {
		return "", Profile{}, fmt.Errorf("unknown engine profile: %s", name)
	}
	return name, profile, nil
}

func resolveRequestedDevice(cfg *EngineConfig, override string) string {
	if strings.TrimSpace(override) != "" {
		return NormalizeDevice(override)
	}
	switch acc := cfg.Docling.Accelerator.(type) {
	case string:
		return NormalizeDevice(acc)
	case map[string]any:
		if v, ok := acc["defaultDevice"].(string); ok {
			return NormalizeDevice(v)
		}
	}
	return DeviceAuto
}

func firstSupported(preference []string, supported func(string) bool, fallback string) string {
	for _, candidate := range preference {
		if supported(candidate) {
			return candidate
		}
	}
	return fallback
}
