package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/observability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/gates"
)

// ResolveConfigPath resolves the engine config path from an explicit argument,
// the DOCLING_CONFIG_PATH environment variable, or the working-directory
// default, in that order.
func ResolveConfigPath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv("DOCLING_CONFIG_PATH")); env != "" {
		return env
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, "config", "docling.json")
}

// Load reads the engine-profile config, falling back to deprecated keys in
// the gates config when the dedicated file is missing.
//
// A missing file with no legacy fallback is a fatal configuration error.
func Load(path string, gatesCfg *gates.Config) (*EngineConfig, error) {
	resolved := ResolveConfigPath(path)

	data, readErr := os.ReadFile(resolved)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, fmt.Errorf("failed to read engine config: %w", readErr)
		}
		if gatesCfg != nil && gatesCfg.HasLegacyEngineKeys() {
			warnLegacyEngineKeys()
			return buildLegacyConfig(gatesCfg)
		}
		return nil, fmt.Errorf("missing engine config %s and no legacy docling keys found", resolved)
	}

	if gatesCfg != nil && gatesCfg.HasLegacyEngineKeys() {
		warnLegacyEngineKeys()
	}

	return LoadFromBytes(data, resolved)
}

// LoadFromBytes parses and validates an engine config from raw bytes.
//
// The format is determined by extension: .yaml/.yml for YAML, anything else
// is treated as JSON. YAML is converted to JSON before schema validation so
// unknown fields are rejected either way.
func LoadFromBytes(data []byte, path string) (*EngineConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("engine config is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := validateEngineConfig(jsonData); err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	cfg.ProfileOrder, err = profileOrder(jsonData)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func toJSON(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in engine config: %w", err)
		}
		return data, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in engine config: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert engine config to JSON: %w", err)
	}
	return jsonData, nil
}

// profileOrder extracts profile declaration order from the raw JSON, since
// map unmarshaling loses it. Profile selection falls back to the first
// declared profile when no default is configured.
func profileOrder(jsonData []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonData))

	// Walk to the "profiles" object.
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, fmt.Errorf("failed to scan engine config: %w", err)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to scan engine config: %w", err)
		}
		key, _ := keyTok.(string)
		if key != "profiles" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("failed to scan engine config: %w", err)
			}
			continue
		}

		if _, err := dec.Token(); err != nil { // profiles opening brace
			return nil, fmt.Errorf("failed to scan engine config: %w", err)
		}
		var order []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("failed to scan engine config: %w", err)
			}
			name, _ := nameTok.(string)
			order = append(order, name)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("failed to scan engine config: %w", err)
			}
		}
		return order, nil
	}
	return nil, nil
}

// buildLegacyConfig shims a one-profile engine config from deprecated
// docling/preflight keys left in the gates config.
func buildLegacyConfig(gatesCfg *gates.Config) (*EngineConfig, error) {
	legacy := gatesCfg.LegacyDocling

	profileName := "digital-fast"
	if v, ok := legacy["profile"].(string); ok && strings.TrimSpace(v) != "" {
		profileName = v
	}

	var profile Profile
	if err := mapstructure.Decode(legacy, &profile); err != nil {
		return nil, fmt.Errorf("invalid legacy docling keys: %w", err)
	}
	if profile.PdfBackend == "" {
		profile.PdfBackend = "dlparse_v2"
	}
	if profile.TableStructureMode == "" {
		profile.TableStructureMode = "fast"
	}

	cfg := &EngineConfig{
		Version:        0,
		DefaultProfile: profileName,
		Profiles:       map[string]Profile{profileName: profile},
		ProfileOrder:   []string{profileName},
	}
	if device, ok := legacy["accelerator"].(string); ok {
		cfg.Docling.Accelerator = device
	}
	if len(gatesCfg.LegacyPreflight) > 0 {
		var pf struct {
			PdfText PreflightText `mapstructure:"pdfText"`
		}
		if err := mapstructure.Decode(gatesCfg.LegacyPreflight, &pf); err != nil {
			return nil, fmt.Errorf("invalid legacy preflight keys: %w", err)
		}
		cfg.Preflight.PdfText = pf.PdfText
	}
	return cfg, nil
}

func warnLegacyEngineKeys() {
	observability.CLILogger.Warn(
		"Deprecated docling/preflight keys found in quality-gates config; move them to config/docling.json")
}
