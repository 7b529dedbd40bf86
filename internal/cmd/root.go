// Package cmd wires the docworker CLI.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo injects build-time version metadata from main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "docworker",
	Short: "Document conversion worker with quality gates",
	Long: `docworker converts documents (primarily PDFs) into Markdown/JSON
artifacts and evaluates the result against configurable quality gates.

It runs either as a keep-warm worker speaking line-delimited JSON over
stdin/stdout to a supervisor, or as a one-shot CLI for single documents
and batches.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			observability.SetLevel(parseLogLevel(logLevel))
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// jobExitCode carries the per-job exit code (0/1/2) from job commands back
// to main. CLI-level failures use foundry exit codes via exitError instead.
var jobExitCode int

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

func initConfig() {
	viper.SetEnvPrefix("")
	viper.AutomaticEnv()

	setDefaults()

	_ = viper.BindEnv("gates", "GATES_CONFIG_PATH")
	_ = viper.BindEnv("docling_config", "DOCLING_CONFIG_PATH")
	_ = viper.BindEnv("pymupdf_config", "PYMUPDF_CONFIG_PATH")
}

func setDefaults() {
	viper.SetDefault("gates", "config/quality-gates.json")
	viper.SetDefault("docling_config", "config/docling.json")
	viper.SetDefault("pymupdf_config", "")
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// cliError pairs a CLI-level failure with the foundry exit code the process
// should report.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error { return e.err }

// exitError creates an error that causes the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error(err.Error())
		var coded *cliError
		if errors.As(err, &coded) {
			return coded.code
		}
		return 1
	}
	return jobExitCode
}
