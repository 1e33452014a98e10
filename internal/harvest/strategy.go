package harvest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Strategy discovers and downloads documents for one source. Run returns
// the number of fresh downloads, which never exceeds budget.
type Strategy interface {
	Name() string
	Run(ctx context.Context, budget int) (int, error)
}

// destDir returns the output directory for a source: registries land under
// crc_protocols, journal papers under protocol_papers.
func destDir(outputDir string, spec SourceSpec) string {
	group := "crc_protocols"
	if spec.Priority == PrioritySecondary {
		group = "protocol_papers"
	}
	return filepath.Join(outputDir, group, spec.Name)
}

// budget coordinates concurrent downloads against a per-source cap. Once
// the cap is reached the source context is cancelled so in-flight work
// stops instead of running to completion.
type budget struct {
	count  atomic.Int64
	limit  int64
	cancel context.CancelFunc
	once   sync.Once
}

func newBudget(limit int, cancel context.CancelFunc) *budget {
	return &budget{limit: int64(limit), cancel: cancel}
}

// Reached reports whether no further downloads should be scheduled.
func (b *budget) Reached() bool {
	return b.count.Load() >= b.limit
}

// Add records a fresh download and cancels the source once the cap is hit.
func (b *budget) Add() {
	if b.count.Add(1) >= b.limit {
		b.once.Do(b.cancel)
	}
}

// Count returns the number of fresh downloads recorded so far.
func (b *budget) Count() int {
	n := b.count.Load()
	if n > b.limit {
		n = b.limit
	}
	return int(n)
}

func containsLower(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func containsAnyLower(haystack string, needles []string) bool {
	for _, needle := range needles {
		if containsLower(haystack, needle) {
			return true
		}
	}
	return false
}
