package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/observability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/convert"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/enginecache"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a single document",
	Long: `Convert one document and write its artifacts and metadata record.

The process exit code reports the job outcome: 0 for success (including
quality-gate failures, which are a valid processed state), 1 for worker
exceptions, 2 for fast preflight rejection.

Example:
  docworker convert --input report.pdf --data-dir ./data
  docworker convert --input report.pdf --data-dir ./data --profile digital-accurate --device cuda`,
	RunE: runConvert,
}

var (
	convertInput        string
	convertDocID        string
	convertDataDir      string
	convertGates        string
	convertEngineConfig string
	convertTextConfig   string
	convertEngine       string
	convertLayoutMode   string
	convertDevice       string
	convertProfile      string
)

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVarP(&convertInput, "input", "i", "", "Input document path (required)")
	convertCmd.Flags().StringVar(&convertDocID, "doc-id", "", "Document ID (default: random UUID)")
	convertCmd.Flags().StringVarP(&convertDataDir, "data-dir", "d", "", "Data directory for exports (required)")
	convertCmd.Flags().StringVar(&convertGates, "gates", "", "Quality-gates config path")
	convertCmd.Flags().StringVar(&convertEngineConfig, "docling-config", "", "Engine-profile config path")
	convertCmd.Flags().StringVar(&convertTextConfig, "pymupdf-config", "", "Text-engine config path")
	convertCmd.Flags().StringVar(&convertEngine, "engine", "", "Engine family (docling|pymupdf4llm)")
	convertCmd.Flags().StringVar(&convertLayoutMode, "layout-mode", "", "Text-engine layout mode (auto|require|off)")
	convertCmd.Flags().StringVar(&convertDevice, "device", "", "Device override (auto|cpu|cuda)")
	convertCmd.Flags().StringVar(&convertProfile, "profile", "", "Engine profile override")

	_ = convertCmd.MarkFlagRequired("input")
	_ = convertCmd.MarkFlagRequired("data-dir")
}

func runConvert(cmd *cobra.Command, args []string) error {
	docID := convertDocID
	if docID == "" {
		docID = uuid.NewString()
	}

	job := convert.JobSpec{
		JobID:            docID,
		DocID:            docID,
		Input:            convertInput,
		DataDir:          convertDataDir,
		GatesPath:        configPathOr(convertGates, "gates"),
		EngineConfigPath: configPathOr(convertEngineConfig, "docling_config"),
		TextConfigPath:   configPathOr(convertTextConfig, "pymupdf_config"),
		Engine:           convertEngine,
		LayoutMode:       convertLayoutMode,
		DeviceOverride:   convertDevice,
		Profile:          convertProfile,
	}

	orch := convert.New(enginecache.New(), capability.Probe(), convert.NopSink{}, observability.CLILogger)
	outcome, err := orch.Run(cmd.Context(), job)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Conversion configuration invalid", err)
	}

	observability.CLILogger.Info("conversion finished",
		zap.String("docId", docID),
		zap.Int("exitCode", outcome.ExitCode),
		zap.String("metaPath", outcome.MetaPath))
	fmt.Fprintln(os.Stderr, outcome.MetaPath)

	jobExitCode = outcome.ExitCode
	return nil
}

// configPathOr falls back to the viper-bound env/default when the flag is
// unset.
func configPathOr(flag, key string) string {
	if flag != "" {
		return flag
	}
	return viper.GetString(key)
}
