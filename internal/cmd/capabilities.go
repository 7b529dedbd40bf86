package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/dragosdehelean/Pipeline-OCR-Export-Rapoarte-PDF/pkg/capability"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Print the discovered engine capability snapshot",
	Long: `Probe the installed conversion stack and print the capability
snapshot as JSON: supported backends, table modes, optional fields, text
engine layout support, and accelerator availability.

Example:
  docworker capabilities`,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	snapshot := capability.ProbeFresh()
	b, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to encode snapshot", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
