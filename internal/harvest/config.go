package harvest

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences a harvest run. All values
// originate from Viper so the harvester can be configured via files, env
// vars, or CLI flags. The struct itself is decoupled from Viper for tests.
type Config struct {
	OutputDir        string
	Sources          []string
	IncludeSecondary bool
	MaxPerSource     int
	MaxTotal         int
	RequestTimeout   time.Duration
	SitemapDepth     int
	SourcePause      time.Duration
	UserAgent        string
	Verbose          bool
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		OutputDir:        v.GetString("harvester.output_dir"),
		Sources:          v.GetStringSlice("harvester.sources"),
		IncludeSecondary: v.GetBool("harvester.include_secondary"),
		MaxPerSource:     v.GetInt("harvester.max_per_source"),
		MaxTotal:         v.GetInt("harvester.max_total"),
		RequestTimeout:   v.GetDuration("harvester.request_timeout"),
		SitemapDepth:     v.GetInt("harvester.sitemap_depth"),
		SourcePause:      v.GetDuration("harvester.source_pause"),
		UserAgent:        v.GetString("harvester.user_agent"),
		Verbose:          v.GetBool("harvester.verbose"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("harvester.output_dir must be set")
	}
	if c.MaxPerSource <= 0 {
		return fmt.Errorf("harvester.max_per_source must be > 0")
	}
	if c.MaxTotal <= 0 {
		return fmt.Errorf("harvester.max_total must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("harvester.request_timeout must be > 0")
	}
	if c.SitemapDepth <= 0 {
		return fmt.Errorf("harvester.sitemap_depth must be > 0")
	}
	if c.SourcePause < 0 {
		return fmt.Errorf("harvester.source_pause must be >= 0")
	}
	known := make(map[string]struct{})
	for _, spec := range DefaultSources() {
		known[spec.Name] = struct{}{}
	}
	for _, name := range c.Sources {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown source %q in harvester.sources", name)
		}
	}
	return nil
}
