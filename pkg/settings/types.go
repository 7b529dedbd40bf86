// Package settings resolves job-requested engine configuration against the
// discovered capability snapshot into a requested/effective pair.
//
// Every silent downgrade is recorded as a fallback reason code so operators
// can audit when the system did not run what was asked for.
package settings

import (
	"fmt"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
)

// Fallback reason codes persisted per job.
const (
	ReasonHardwareNotAvailable = "HARDWARE_NOT_AVAILABLE"
	ReasonCellMatchingDropped  = "DO_CELL_MATCHING_UNSUPPORTED"
)

// Devices accepted for accelerator selection.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// FallbackProfileName is used when the config declares no usable profile name.
const FallbackProfileName = "digital-balanced"

// Profile is one named bundle of engine configuration.
type Profile struct {
	PdfBackend         string `json:"pdfBackend" mapstructure:"pdfBackend"`
	DoOcr              bool   `json:"doOcr" mapstructure:"doOcr"`
	DoTableStructure   bool   `json:"doTableStructure" mapstructure:"doTableStructure"`
	DoCellMatching     *bool  `json:"doCellMatching,omitempty" mapstructure:"doCellMatching"`
	TableStructureMode string `json:"tableStructureMode" mapstructure:"tableStructureMode"`
	DocumentTimeoutSec int    `json:"documentTimeoutSec" mapstructure:"documentTimeoutSec"`
}

// PreflightText configures the PDF text-layer preflight.
type PreflightText struct {
	Enabled                *bool   `json:"enabled,omitempty" mapstructure:"enabled"`
	SamplePages            int     `json:"samplePages" mapstructure:"samplePages"`
	MinTextChars           int     `json:"minTextChars" mapstructure:"minTextChars"`
	MinTextCharsPerPageAvg float64 `json:"minTextCharsPerPageAvg" mapstructure:"minTextCharsPerPageAvg"`
}

// EngineConfig is the parsed engine-profile config (docling.json).
type EngineConfig struct {
	Version        int                `json:"version" mapstructure:"version"`
	DefaultProfile string             `json:"defaultProfile,omitempty" mapstructure:"defaultProfile"`
	Profile        string             `json:"profile,omitempty" mapstructure:"profile"`
	Profiles       map[string]Profile `json:"profiles" mapstructure:"profiles"`
	ProfileOrder   []string           `json:"-" mapstructure:"-"`

	Preflight struct {
		PdfText PreflightText `json:"pdfText" mapstructure:"pdfText"`
	} `json:"preflight,omitempty" mapstructure:"preflight"`

	Docling struct {
		Accelerator any `json:"accelerator,omitempty" mapstructure:"accelerator"`
	} `json:"docling,omitempty" mapstructure:"docling"`
}

// AcceleratorSelection records the device negotiation for one resolution.
type AcceleratorSelection struct {
	RequestedDevice   string `json:"requestedDevice"`
	EffectiveDevice   string `json:"effectiveDevice"`
	HardwareAvailable bool   `json:"hardwareAvailable"`
	FallbackReason    string `json:"reason,omitempty"`
	DriverVersion     string `json:"driverVersion,omitempty"`
}

// Fields is one side of the requested/effective pair.
type Fields struct {
	PdfBackend         string `json:"pdfBackend"`
	DoOcr              bool   `json:"doOcr"`
	DoTableStructure   bool   `json:"doTableStructure"`
	DoCellMatching     *bool  `json:"doCellMatching,omitempty"`
	TableStructureMode string `json:"tableStructureMode"`
	DocumentTimeoutSec int    `json:"documentTimeoutSec"`
	Device             string `json:"device"`
}

// EngineSettings is the resolved configuration for one job.
//
// Immutable once built. Effective fields are guaranteed to belong to the
// capability snapshot's supported sets (or a documented default); the engine
// is never handed a configuration the prober said was unsupported.
type EngineSettings struct {
	Profile         string               `json:"profile"`
	Requested       Fields               `json:"requested"`
	Effective       Fields               `json:"effective"`
	FallbackReasons []string             `json:"fallbackReasons"`
	Accelerator     AcceleratorSelection `json:"accelerator"`

	Capabilities *capability.Snapshot `json:"-"`
}

// CacheKey builds the canonical cache key from every effective field that
// affects engine construction. Two jobs with identical effective settings map
// to the same key regardless of cosmetic request differences.
func (s *EngineSettings) CacheKey() string {
	cellMatching := "nil"
	if s.Effective.DoCellMatching != nil {
		cellMatching = fmt.Sprintf("%t", *s.Effective.DoCellMatching)
	}
	return fmt.Sprintf("%s|%s|%t|%t|%s|%d|%s|%s",
		s.Profile,
		s.Effective.PdfBackend,
		s.Effective.DoOcr,
		s.Effective.DoTableStructure,
		s.Effective.TableStructureMode,
		s.Effective.DocumentTimeoutSec,
		s.Accelerator.EffectiveDevice,
		cellMatching,
	)
}
