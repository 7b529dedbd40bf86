package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/assets/schemas"
)

// Keys accepted in the toMarkdown options block. Anything else is a fatal
// configuration error so typos never silently change extraction behavior.
var allowedMarkdownOptions = map[string]bool{
	"pageChunks":    true,
	"margins":       true,
	"tableStrategy": true,
	"ignoreCode":    true,
	"pageSeparator": true,
}

// SplitSpacing configures the split-token suspicion heuristic.
type SplitSpacing struct {
	MaxSingleCharRatio float64 `json:"maxSingleCharRatio"`
	MaxSingleCharRun   int     `json:"maxSingleCharRun"`
}

// TextEngineConfig is the pymupdf4llm section of the text-engine config.
type TextEngineConfig struct {
	RequireLayout bool           `json:"requireLayout"`
	LayoutEnabled bool           `json:"layoutEnabled"`
	ToMarkdown    map[string]any `json:"toMarkdown"`
	SplitSpacing  SplitSpacing   `json:"splitSpacing"`
}

// TextConfig is the parsed text-engine config (pymupdf.json).
type TextConfig struct {
	Version       int              `json:"version"`
	DefaultEngine string           `json:"defaultEngine"`
	Engines       []string         `json:"engines"`
	Text          TextEngineConfig `json:"pymupdf4llm"`
}

// DefaultTextConfig returns the config used when no pymupdf.json is given.
func DefaultTextConfig() *TextConfig {
	return &TextConfig{
		Version:       1,
		DefaultEngine: FamilyDocling,
		Engines:       []string{FamilyDocling, FamilyText},
		Text: TextEngineConfig{
			LayoutEnabled: true,
			SplitSpacing: SplitSpacing{
				MaxSingleCharRatio: 0.35,
				MaxSingleCharRun:   6,
			},
		},
	}
}

var (
	textValidatorOnce sync.Once
	textValidator     *schema.Validator
	textValidatorErr  error
)

// LoadTextConfig reads and validates the text-engine config. A missing path
// returns the defaults.
func LoadTextConfig(path string) (*TextConfig, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTextConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTextConfig(), nil
		}
		return nil, fmt.Errorf("failed to read text-engine config: %w", err)
	}
	return ParseTextConfig(data)
}

// ParseTextConfig validates raw JSON against the embedded schema and the
// markdown-option allowlist, then unmarshals it over the defaults.
func ParseTextConfig(data []byte) (*TextConfig, error) {
	textValidatorOnce.Do(func() {
		textValidator, textValidatorErr = schema.NewValidator(schemasassets.PymupdfConfigSchema)
		if textValidatorErr != nil {
			textValidatorErr = fmt.Errorf("failed to compile text-engine schema: %w", textValidatorErr)
		}
	})
	if textValidatorErr != nil {
		return nil, textValidatorErr
	}

	diags, err := textValidator.ValidateJSON(data)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	var msgs []string
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", d.Pointer, d.Message))
		}
	}
	if len(msgs) > 0 {
		return nil, fmt.Errorf("text-engine config validation failed: %s", strings.Join(msgs, "; "))
	}

	cfg := DefaultTextConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid text-engine config: %w", err)
	}
	if err := validateMarkdownOptions(cfg.Text.ToMarkdown); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Fingerprint canonically encodes every field that affects text-engine
// construction, for use in engine cache keys. Two configs with the same
// fingerprint build interchangeable engines.
func (c *TextConfig) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%t|%t|%g|%d",
		c.Text.RequireLayout,
		c.Text.LayoutEnabled,
		c.Text.SplitSpacing.MaxSingleCharRatio,
		c.Text.SplitSpacing.MaxSingleCharRun)

	keys := make([]string, 0, len(c.Text.ToMarkdown))
	for key := range c.Text.ToMarkdown {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "|%s=%v", key, c.Text.ToMarkdown[key])
	}
	return b.String()
}

func validateMarkdownOptions(opts map[string]any) error {
	var unknown []string
	for key := range opts {
		if !allowedMarkdownOptions[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown toMarkdown options: %s", strings.Join(unknown, ", "))
}
