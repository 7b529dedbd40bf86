package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/internal/observability"
	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/protocol"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the keep-warm worker loop",
	Long: `Run the keep-warm worker: read job commands as line-delimited JSON
from stdin, emit lifecycle events on stdout, and keep built engines warm
across jobs.

The supervisor owns process lifecycle and timeouts; the worker exits on a
shutdown command or stdin EOF.

Example:
  docworker worker < commands.jsonl`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	worker := protocol.NewWorker(os.Stdin, os.Stdout, observability.CLILogger)
	if err := worker.Run(cmd.Context()); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Worker loop failed", err)
	}
	return nil
}
