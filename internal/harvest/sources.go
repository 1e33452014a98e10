// Package harvest implements the per-registry download strategies and the
// orchestrator that drives them under global and per-source budgets.
package harvest

import (
	"fmt"
	"sort"
)

// DiscoveryMethod names how a source's candidate documents are found.
type DiscoveryMethod string

// Discovery methods in the fixed source registry.
const (
	MethodAPI          DiscoveryMethod = "api"
	MethodHTMLCrawl    DiscoveryMethod = "html_crawl"
	MethodXMLAPI       DiscoveryMethod = "xml_api"
	MethodPortalScrape DiscoveryMethod = "portal_scrape"
	MethodSitemap      DiscoveryMethod = "sitemap"
)

// Priority separates trial registries from journal paper sources.
type Priority string

// Priorities in the fixed source registry.
const (
	PriorityPrimary   Priority = "primary"
	PrioritySecondary Priority = "secondary"
)

// SourceSpec is an immutable descriptor of one document source. The
// registry is fixed at startup and never mutated.
type SourceSpec struct {
	Name             string
	Method           DiscoveryMethod
	IdentifierType   string
	Priority         Priority
	EnabledByDefault bool
}

// DefaultSources is the fixed registry. Tests may pass a reduced table to
// the orchestrator instead of mutating this one.
func DefaultSources() []SourceSpec {
	return []SourceSpec{
		{Name: "clinicaltrials", Method: MethodAPI, IdentifierType: "NCT", Priority: PriorityPrimary, EnabledByDefault: true},
		{Name: "drks", Method: MethodXMLAPI, IdentifierType: "DRKS", Priority: PriorityPrimary, EnabledByDefault: true},
		{Name: "ctis", Method: MethodPortalScrape, IdentifierType: "CTIS", Priority: PriorityPrimary, EnabledByDefault: true},
		{Name: "trialsjournal", Method: MethodSitemap, IdentifierType: "DOI", Priority: PrioritySecondary, EnabledByDefault: false},
		{Name: "bmjopen", Method: MethodSitemap, IdentifierType: "DOI", Priority: PrioritySecondary, EnabledByDefault: false},
		{Name: "nihr", Method: MethodHTMLCrawl, IdentifierType: "AWARD", Priority: PrioritySecondary, EnabledByDefault: false},
	}
}

// resolveActive picks the sources for this run: the explicitly requested
// subset if any, otherwise all primary sources plus secondary ones when
// opted in. The result is sorted by name for a stable iteration order.
func resolveActive(table []SourceSpec, requested []string, includeSecondary bool) ([]SourceSpec, error) {
	byName := make(map[string]SourceSpec, len(table))
	for _, spec := range table {
		byName[spec.Name] = spec
	}

	var active []SourceSpec
	if len(requested) > 0 {
		for _, name := range requested {
			spec, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("unknown source %q", name)
			}
			active = append(active, spec)
		}
	} else {
		for _, spec := range table {
			if spec.Priority == PriorityPrimary || includeSecondary {
				active = append(active, spec)
			}
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}
