package gates

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads and validates a quality-gates config from the given path.
//
// A missing or malformed config file is a fatal configuration error: there is
// no default rule set to fall back to.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("quality-gates config not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read quality-gates config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a quality-gates config from raw JSON.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("quality-gates config is empty")
	}
	if err := ValidateRaw(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in quality-gates config: %w", err)
	}
	return &cfg, nil
}

// HasLegacyEngineKeys reports whether the gates config still carries
// deprecated engine/preflight sections.
func (c *Config) HasLegacyEngineKeys() bool {
	return len(c.LegacyDocling) > 0 || len(c.LegacyPreflight) > 0
}
