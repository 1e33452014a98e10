package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/logging"
	"github.com/trialdocs/harvester/pkg/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Downloads clinical-trial protocol documents from public registries.",
		Long: `harvester discovers and downloads study-protocol PDFs from trial
registries and journals (ClinicalTrials.gov, DRKS, CTIS, protocol papers),
validates each download, and records every attempt in an append-only
manifest so interrupted runs can resume safely.`,
	}

	// Initialize Viper configuration.
	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.harvester/config.yaml)")

	cmd.AddCommand(newDownloadCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	// Initialize the logger once at the very start.
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
