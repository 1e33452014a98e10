// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/harvest"
	"github.com/trialdocs/harvester/internal/logging"
)

// newDownloadCmd creates and configures the 'download' subcommand, which
// runs the full harvest across the selected sources.
func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Downloads protocol documents from the configured sources",
		Long: `Runs the protocol harvest: resolves the active source set, walks each
source's discovery surface, downloads matching protocol PDFs under the
output directory, and appends one manifest line per attempt. Re-running
with the same output directory resumes by skipping existing files.`,
		RunE: runDownloadCommand,
	}

	flags := cmd.Flags()
	flags.String("output-dir", "", "base directory for downloaded documents and the manifest")
	flags.StringSlice("sources", nil, "explicit subset of sources to run")
	flags.Bool("include-secondary", false, "also run secondary (journal) sources")
	flags.Int("max-per-source", 0, "maximum downloads per source")
	flags.Int("max-total", 0, "maximum downloads for the whole run")
	flags.Duration("timeout", 0, "per-request network timeout")
	flags.Int("sitemap-depth", 0, "maximum nested sitemaps visited per journal")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	bindings := map[string]string{
		"harvester.output_dir":        "output-dir",
		"harvester.sources":           "sources",
		"harvester.include_secondary": "include-secondary",
		"harvester.max_per_source":    "max-per-source",
		"harvester.max_total":         "max-total",
		"harvester.request_timeout":   "timeout",
		"harvester.sitemap_depth":     "sitemap-depth",
		"harvester.verbose":           "verbose",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	return cmd
}

func runDownloadCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := harvest.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load harvester config: %w", err)
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	orchestrator, err := harvest.Build(cfg, harvest.DefaultSources(), nil, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer func() {
		if cerr := orchestrator.Close(); cerr != nil {
			logger.Warn("Failed to close manifest", zap.Error(cerr))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	total, err := orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}

	logger.Info("Download command finished.", zap.Int("downloaded", total))
	return nil
}
