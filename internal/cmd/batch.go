package cmd

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/observability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/convert"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Convert every document matching a glob pattern",
	Long: `Convert all documents matching a doublestar glob pattern, sharing one
engine cache across the whole batch.

Example:
  docworker batch --glob 'fixtures/**/*.pdf' --data-dir ./data
  docworker batch --glob 'inbox/*.pdf' --data-dir ./data --profile digital-accurate`,
	RunE: runBatch,
}

var (
	batchGlob         string
	batchDataDir      string
	batchGates        string
	batchEngineConfig string
	batchTextConfig   string
	batchEngine       string
	batchDevice       string
	batchProfile      string
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchGlob, "glob", "g", "", "Glob pattern for input documents (required)")
	batchCmd.Flags().StringVarP(&batchDataDir, "data-dir", "d", "", "Data directory for exports (required)")
	batchCmd.Flags().StringVar(&batchGates, "gates", "", "Quality-gates config path")
	batchCmd.Flags().StringVar(&batchEngineConfig, "docling-config", "", "Engine-profile config path")
	batchCmd.Flags().StringVar(&batchTextConfig, "pymupdf-config", "", "Text-engine config path")
	batchCmd.Flags().StringVar(&batchEngine, "engine", "", "Engine family (docling|pymupdf4llm)")
	batchCmd.Flags().StringVar(&batchDevice, "device", "", "Device override (auto|cpu|cuda)")
	batchCmd.Flags().StringVar(&batchProfile, "profile", "", "Engine profile override")

	_ = batchCmd.MarkFlagRequired("glob")
	_ = batchCmd.MarkFlagRequired("data-dir")
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputs, err := doublestar.FilepathGlob(batchGlob)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --glob pattern", err)
	}
	if len(inputs) == 0 {
		return exitError(foundry.ExitFileNotFound, "No inputs matched", fmt.Errorf("pattern %q matched no files", batchGlob))
	}

	cache := enginecache.New()
	orch := convert.New(cache, capability.Probe(), convert.NopSink{}, observability.CLILogger)

	succeeded := 0
	rejected := 0
	failed := 0
	for _, input := range inputs {
		docID := uuid.NewString()
		outcome, err := orch.Run(cmd.Context(), convert.JobSpec{
			JobID:            docID,
			DocID:            docID,
			Input:            input,
			DataDir:          batchDataDir,
			GatesPath:        configPathOr(batchGates, "gates"),
			EngineConfigPath: configPathOr(batchEngineConfig, "docling_config"),
			TextConfigPath:   configPathOr(batchTextConfig, "pymupdf_config"),
			Engine:           batchEngine,
			DeviceOverride:   batchDevice,
			Profile:          batchProfile,
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Batch configuration invalid", err)
		}

		switch outcome.ExitCode {
		case convert.ExitOK:
			succeeded++
		case convert.ExitRejected:
			rejected++
		default:
			failed++
		}
		observability.CLILogger.Info("batch item finished",
			zap.String("input", input),
			zap.String("docId", docID),
			zap.Int("exitCode", outcome.ExitCode))
	}

	stats := cache.Stats()
	observability.CLILogger.Info("batch complete",
		zap.Int("inputs", len(inputs)),
		zap.Int("succeeded", succeeded),
		zap.Int("rejected", rejected),
		zap.Int("failed", failed),
		zap.Int("engineBuilds", stats.Builds),
		zap.Int("engineCacheHits", stats.Hits))

	if failed > 0 {
		jobExitCode = convert.ExitException
	}
	return nil
}
