package settings

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/assets/schemas"
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// validateEngineConfig checks raw JSON against the embedded engine-config
// schema. Unknown fields are rejected before struct unmarshaling.
func validateEngineConfig(jsonData []byte) error {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator(schemasassets.EngineConfigSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile engine-config schema: %w", validatorErr)
		}
	})
	if validatorErr != nil {
		return validatorErr
	}

	diags, err := validator.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var msgs []string
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", d.Pointer, d.Message))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("engine config validation failed: %s", strings.Join(msgs, "; "))
}
