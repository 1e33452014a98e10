// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup to ensure that configuration is loaded and
// available to all other packages.
func InitConfig() {
	// --- Set Search Paths ---
	viper.SetConfigName("config")
	viper.AddConfigPath(".")                // Current working directory
	viper.AddConfigPath("/etc/harvester/")  // System-wide configuration
	viper.AddConfigPath("$HOME/.harvester") // User-specific configuration

	// --- Set Defaults ---
	// Used when values are not provided in a config file or via env vars.
	const defaultUA = "TrialDocsHarvester/1.0 (+https://github.com/trialdocs/harvester)"
	viper.SetDefault("harvester.user_agent", defaultUA)
	viper.SetDefault("harvester.output_dir", "data/protocols")
	viper.SetDefault("harvester.sources", []string{})
	viper.SetDefault("harvester.include_secondary", false)
	viper.SetDefault("harvester.max_per_source", 25)
	viper.SetDefault("harvester.max_total", 100)
	viper.SetDefault("harvester.request_timeout", "30s")
	viper.SetDefault("harvester.sitemap_depth", 10)
	viper.SetDefault("harvester.source_pause", "2s")
	viper.SetDefault("harvester.verbose", false)

	// --- Environment Variables ---
	viper.SetEnvPrefix("HARVESTER") // e.g., HARVESTER_HARVESTER_MAX_TOTAL=50
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// --- Read Config File ---
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Not fatal; defaults and environment variables still apply.
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
