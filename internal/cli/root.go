package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "debrepack",
		Short: "Repack Debian package artifacts and rewrite SBOM provenance",
		Long: `Debrepack reads a CycloneDX or SPDX SBOM describing a Debian system,
repacks the downloaded source and binary artifacts of its packages into a
deterministic archive layout and writes the SBOM back with distribution
references pointing at the repacked archives.

Supported documents:
  - CycloneDX (JSON, XML)
  - SPDX 2.x (JSON, tag-value)`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, toml or json)")

	// Add subcommands
	rootCmd.AddCommand(NewRepackCmd())

	return rootCmd
}
