package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/transport"
)

// Curated condition queries for the ClinicalTrials.gov study search.
var ctgovQueries = []string{
	"colorectal cancer",
	"colon cancer",
	"rectal cancer",
}

// exclusionTerms disqualify a study document regardless of other signals.
var exclusionTerms = []string{"sap", "icf", "amendment", "deviation", "violation", "case"}

const (
	ctgovAPIBase = "https://clinicaltrials.gov/api/v2"
	ctgovCDNBase = "https://cdn.clinicaltrials.gov/large-docs"

	ctgovPageSize = 100
	// ctgovIDFactor bounds collected study IDs at factor x budget.
	ctgovIDFactor = 50
	// ctgovWorkers bounds concurrent per-study detail fetches.
	ctgovWorkers = 8
)

// ClinicalTrialsStrategy downloads protocol documents attached to
// ClinicalTrials.gov study records via the v2 API.
type ClinicalTrialsStrategy struct {
	client     *transport.Client
	downloader *Downloader
	dir        string
	apiBase    string
	cdnBase    string
	logger     *zap.Logger
}

// NewClinicalTrialsStrategy wires the strategy against the public API.
func NewClinicalTrialsStrategy(client *transport.Client, downloader *Downloader, dir string, logger *zap.Logger) *ClinicalTrialsStrategy {
	return &ClinicalTrialsStrategy{
		client:     client,
		downloader: downloader,
		dir:        dir,
		apiBase:    ctgovAPIBase,
		cdnBase:    ctgovCDNBase,
		logger:     logger,
	}
}

// Name implements Strategy.
func (s *ClinicalTrialsStrategy) Name() string { return "clinicaltrials" }

// studySearchPage is one page of the study search response.
type studySearchPage struct {
	NextPageToken string `json:"nextPageToken"`
	Studies       []struct {
		ProtocolSection struct {
			IdentificationModule struct {
				NCTID string `json:"nctId"`
			} `json:"identificationModule"`
		} `json:"protocolSection"`
	} `json:"studies"`
}

// studyDetail is the subset of a study record carrying document metadata.
type studyDetail struct {
	DocumentSection struct {
		LargeDocumentModule struct {
			LargeDocs []studyDocument `json:"largeDocs"`
		} `json:"largeDocumentModule"`
	} `json:"documentSection"`
}

// studyDocument is one attached large document.
type studyDocument struct {
	TypeAbbrev  string `json:"typeAbbrev"`
	Label       string `json:"label"`
	Filename    string `json:"filename"`
	HasProtocol bool   `json:"hasProtocol"`
	HasSAP      bool   `json:"hasSap"`
	HasICF      bool   `json:"hasIcf"`
}

// Run implements Strategy: collect study IDs from the curated queries,
// then fetch each study's documents concurrently until the budget is hit.
func (s *ClinicalTrialsStrategy) Run(ctx context.Context, limit int) (int, error) {
	ids, err := s.collectStudyIDs(ctx, limit*ctgovIDFactor)
	if err != nil {
		return 0, err
	}
	s.logger.Info("collected study identifiers",
		zap.String("source", s.Name()),
		zap.Int("count", len(ids)),
	)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bud := newBudget(limit, cancel)

	sem := make(chan struct{}, ctgovWorkers)
	var wg sync.WaitGroup
	for _, id := range ids {
		if bud.Reached() || srcCtx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-srcCtx.Done():
		}
		if srcCtx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(nctID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processStudy(srcCtx, nctID, bud)
		}(id)
	}
	wg.Wait()
	return bud.Count(), nil
}

// collectStudyIDs pages through each curated query, deduplicating IDs up
// to maxIDs. A failing query is skipped; its siblings continue.
func (s *ClinicalTrialsStrategy) collectStudyIDs(ctx context.Context, maxIDs int) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, query := range ctgovQueries {
		if len(ids) >= maxIDs {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageToken := ""
		for len(ids) < maxIDs {
			params := url.Values{
				"query.cond": {query},
				"pageSize":   {strconv.Itoa(ctgovPageSize)},
				"fields":     {"protocolSection.identificationModule.nctId"},
			}
			if pageToken != "" {
				params.Set("pageToken", pageToken)
			}
			var page studySearchPage
			if err := s.client.FetchJSON(ctx, s.apiBase+"/studies", params, &page); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("study search query failed",
					zap.String("query", query),
					zap.Error(err),
				)
				break
			}
			for _, study := range page.Studies {
				id := study.ProtocolSection.IdentificationModule.NCTID
				if id == "" {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
				if len(ids) >= maxIDs {
					break
				}
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return ids, nil
}

// processStudy fetches one study's document list and downloads the
// protocol documents that survive the exclusion filter.
func (s *ClinicalTrialsStrategy) processStudy(ctx context.Context, nctID string, bud *budget) {
	var detail studyDetail
	if err := s.client.FetchJSON(ctx, s.apiBase+"/studies/"+nctID, nil, &detail); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("study detail fetch failed", zap.String("nct_id", nctID), zap.Error(err))
		}
		return
	}
	for _, doc := range detail.DocumentSection.LargeDocumentModule.LargeDocs {
		if bud.Reached() || ctx.Err() != nil {
			return
		}
		if !isProtocolDocument(doc) {
			continue
		}
		outcome, err := s.downloader.Download(ctx, DownloadRequest{
			URL:          s.documentURL(nctID, doc.Filename),
			Dir:          s.dir,
			Source:       s.Name(),
			RegistryID:   nctID,
			RegistryType: "NCT",
			DocumentType: doc.TypeAbbrev,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}
		if outcome.Fresh {
			bud.Add()
		}
	}
}

// documentURL builds the CDN location for a study document. Documents are
// sharded by the last two digits of the NCT number.
func (s *ClinicalTrialsStrategy) documentURL(nctID, filename string) string {
	shard := "00"
	if len(nctID) >= 2 {
		shard = nctID[len(nctID)-2:]
	}
	return fmt.Sprintf("%s/%s/%s/%s", s.cdnBase, shard, nctID, filename)
}

// isProtocolDocument applies the protocol filter: an explicit protocol
// flag, or a protocol-looking type/label that is not an amendment or
// deviation, and in either case none of the exclusion terms anywhere in
// the filename, type, or label.
func isProtocolDocument(doc studyDocument) bool {
	combined := doc.Filename + " " + doc.TypeAbbrev + " " + doc.Label
	if containsAnyLower(combined, exclusionTerms) {
		return false
	}
	if doc.HasProtocol {
		return true
	}
	typeOrLabel := doc.TypeAbbrev + " " + doc.Label
	if !containsLower(typeOrLabel, "protocol") {
		return false
	}
	return !containsLower(typeOrLabel, "amendment") && !containsLower(typeOrLabel, "deviation")
}
