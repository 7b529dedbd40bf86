package gates

import (
	"os"
	"path/filepath"
	"testing"
)

const validGatesJSON = `{
  "version": 1,
  "strict": true,
  "gates": [
    {
      "code": "MIN_PAGES",
      "enabled": true,
      "metric": "pages",
      "op": ">=",
      "threshold": 1,
      "severity": "FAIL",
      "message": "Document must contain at least one page."
    }
  ],
  "limits": {
    "maxPages": 500,
    "processTimeoutSec": 300,
    "stderrTailKb": 8
  }
}`

func TestLoad_ValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality-gates.json")
	if err := os.WriteFile(path, []byte(validGatesJSON), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Version != 1 || !cfg.Strict {
		t.Fatalf("header mismatch: %+v", cfg)
	}
	if len(cfg.Gates) != 1 || cfg.Gates[0].Code != "MIN_PAGES" {
		t.Fatalf("gates mismatch: %+v", cfg.Gates)
	}
	if cfg.Limits.MaxPages != 500 || cfg.Limits.StderrTailKb != 8 {
		t.Fatalf("limits mismatch: %+v", cfg.Limits)
	}
	if cfg.HasLegacyEngineKeys() {
		t.Fatalf("clean config reported legacy keys")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestLoadFromBytes_RejectsUnknownOp(t *testing.T) {
	bad := `{
  "version": 1,
  "gates": [
    {"code": "X", "enabled": true, "metric": "pages", "op": "~=", "threshold": 1, "severity": "FAIL"}
  ]
}`
	if _, err := LoadFromBytes([]byte(bad)); err == nil {
		t.Fatalf("expected schema validation error for unknown op")
	}
}

func TestLoadFromBytes_RejectsUnknownTopLevelKey(t *testing.T) {
	bad := `{"version": 1, "gates": [], "unexpected": true}`
	if _, err := LoadFromBytes([]byte(bad)); err == nil {
		t.Fatalf("expected schema validation error for unknown key")
	}
}

func TestLoadFromBytes_LegacyEngineKeys(t *testing.T) {
	legacy := `{
  "version": 0,
  "gates": [],
  "docling": {"profile": "digital-fast", "pdfBackend": "dlparse_v2"},
  "preflight": {"pdfText": {"enabled": true, "samplePages": 3}}
}`
	cfg, err := LoadFromBytes([]byte(legacy))
	if err != nil {
		t.Fatalf("LoadFromBytes() error: %v", err)
	}
	if !cfg.HasLegacyEngineKeys() {
		t.Fatalf("legacy keys not detected")
	}
}
