package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/cmd"
)

// Build-time version metadata, injected via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}
