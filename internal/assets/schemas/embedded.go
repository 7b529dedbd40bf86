// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so config validation works in installed
// binaries and library consumers without requiring schema files on disk.
package schemasassets

import _ "embed"

// QualityGatesSchema is the embedded quality-gates config JSON schema.
//
//go:embed quality-gates.schema.json
var QualityGatesSchema []byte

// EngineConfigSchema is the embedded docling engine-profile config JSON schema.
//
//go:embed engine-config.schema.json
var EngineConfigSchema []byte

// PymupdfConfigSchema is the embedded text-engine config JSON schema.
//
//go:embed pymupdf-config.schema.json
var PymupdfConfigSchema []byte
