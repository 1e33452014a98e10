package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/manifest"
	"github.com/trialdocs/harvester/internal/transport"
	"github.com/trialdocs/harvester/internal/validate"
)

// Orchestrator drives the active source strategies in a stable order
// under the global and per-source budgets.
type Orchestrator struct {
	cfg        Config
	strategies []Strategy
	log        *manifest.Log
	logger     *zap.Logger
	runID      string
}

// NewOrchestrator builds an orchestrator over pre-constructed strategies.
// Tests use this directly with doubles; production wiring goes through
// Build.
func NewOrchestrator(cfg Config, strategies []Strategy, log *manifest.Log, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		strategies: strategies,
		log:        log,
		logger:     logger,
		runID:      uuid.NewString(),
	}
}

// Build resolves the active sources and wires the full pipeline: output
// directories, manifest, transport client, validator, downloader, and one
// strategy per active source. Failure to create the output layout is
// fatal and happens before any network activity.
func Build(cfg Config, table []SourceSpec, extract validate.TextExtractor, logger *zap.Logger) (*Orchestrator, error) {
	active, err := resolveActive(table, cfg.Sources, cfg.IncludeSecondary)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", cfg.OutputDir, err)
	}
	for _, spec := range active {
		if err := os.MkdirAll(destDir(cfg.OutputDir, spec), 0o750); err != nil {
			return nil, fmt.Errorf("create source dir for %s: %w", spec.Name, err)
		}
	}
	log, err := manifest.Open(filepath.Join(cfg.OutputDir, "manifest.jsonl"))
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(transport.Config{
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, logger)
	validator := &validate.Validator{Extract: extract}
	downloader := NewDownloader(client, validator, log, logger)

	var strategies []Strategy
	for _, spec := range active {
		dir := destDir(cfg.OutputDir, spec)
		switch spec.Name {
		case "clinicaltrials":
			strategies = append(strategies, NewClinicalTrialsStrategy(client, downloader, dir, logger))
		case "drks":
			strategies = append(strategies, NewDRKSStrategy(client, downloader, dir, logger))
		case "ctis":
			strategies = append(strategies, NewCTISStrategy(client, downloader, dir, logger))
		case "trialsjournal":
			strategies = append(strategies, NewJournalStrategy(client, downloader, dir, trialsJournalSource(), cfg.SitemapDepth, logger))
		case "bmjopen":
			strategies = append(strategies, NewJournalStrategy(client, downloader, dir, bmjOpenSource(), cfg.SitemapDepth, logger))
		case "nihr":
			strategies = append(strategies, NewNIHRStrategy(client, downloader, dir, logger))
		default:
			return nil, fmt.Errorf("no strategy for source %q", spec.Name)
		}
	}
	return NewOrchestrator(cfg, strategies, log, logger), nil
}

// Close releases the manifest.
func (o *Orchestrator) Close() error {
	if o.log == nil {
		return nil
	}
	return o.log.Close()
}

// Run executes every strategy in order, enforcing the global budget, and
// returns the total number of fresh downloads.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	o.logger.Info("starting harvest run",
		zap.String("run_id", o.runID),
		zap.Int("sources", len(o.strategies)),
		zap.Int("max_per_source", o.cfg.MaxPerSource),
		zap.Int("max_total", o.cfg.MaxTotal),
	)

	total := 0
	perSource := make(map[string]int, len(o.strategies))
	for i, strategy := range o.strategies {
		if total >= o.cfg.MaxTotal {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		limit := o.cfg.MaxPerSource
		if remaining := o.cfg.MaxTotal - total; remaining < limit {
			limit = remaining
		}

		count, err := strategy.Run(ctx, limit)
		if err != nil && ctx.Err() == nil {
			// Per-item failures are already in the manifest; a strategy
			// error only means discovery itself broke for this source.
			o.logger.Error("source strategy failed",
				zap.String("source", strategy.Name()),
				zap.Error(err),
			)
		}
		perSource[strategy.Name()] = count
		total += count
		o.logger.Info("source finished",
			zap.String("source", strategy.Name()),
			zap.Int("downloaded", count),
			zap.Int("total", total),
		)

		if i < len(o.strategies)-1 {
			pause(ctx, o.cfg.SourcePause)
		}
	}

	fields := []zap.Field{
		zap.String("run_id", o.runID),
		zap.Int("total", total),
		zap.String("output_dir", o.cfg.OutputDir),
	}
	if o.log != nil {
		fields = append(fields, zap.String("manifest", o.log.Path()))
	}
	for name, count := range perSource {
		fields = append(fields, zap.Int("source_"+name, count))
	}
	o.logger.Info("harvest run complete", fields...)
	return total, nil
}

// pause waits between sources without ignoring cancellation.
func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
