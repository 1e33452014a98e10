package harvest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/discover"
	"github.com/trialdocs/harvester/internal/transport"
)

const (
	ctisSearchURL   = "https://euclinicaltrials.eu/ctis-public-api/search"
	ctisRetrieveURL = "https://euclinicaltrials.eu/ctis-public-api/retrieve/"

	ctisSearchTerm = "colorectal cancer"
	ctisPageSize   = 100
	// ctisTrialFactor bounds collected trial numbers at factor x budget.
	ctisTrialFactor = 10
)

// labelExclusions drop portal documents that are consent forms or
// synopses rather than the protocol itself.
var labelExclusions = []string{"synopsis", "icf"}

// CTISStrategy harvests protocol documents from the CTIS public portal, a
// JSON search API with per-trial detail payloads carrying document links.
type CTISStrategy struct {
	client      *transport.Client
	downloader  *Downloader
	dir         string
	searchURL   string
	retrieveURL string
	logger      *zap.Logger
}

// NewCTISStrategy wires the strategy against the public portal.
func NewCTISStrategy(client *transport.Client, downloader *Downloader, dir string, logger *zap.Logger) *CTISStrategy {
	return &CTISStrategy{
		client:      client,
		downloader:  downloader,
		dir:         dir,
		searchURL:   ctisSearchURL,
		retrieveURL: ctisRetrieveURL,
		logger:      logger,
	}
}

// Name implements Strategy.
func (s *CTISStrategy) Name() string { return "ctis" }

// ctisSearchPage is one page of the portal search response.
type ctisSearchPage struct {
	Pagination struct {
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
	Data []struct {
		CTNumber string `json:"ctNumber"`
	} `json:"data"`
}

// Run implements Strategy: page through the search, then pull each
// trial's detail JSON and download its first protocol-labeled document.
func (s *CTISStrategy) Run(ctx context.Context, limit int) (int, error) {
	numbers, err := s.collectTrialNumbers(ctx, limit*ctisTrialFactor)
	if err != nil {
		return 0, err
	}
	s.logger.Info("collected trial numbers",
		zap.String("source", s.Name()),
		zap.Int("count", len(numbers)),
	)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bud := newBudget(limit, cancel)

	for _, ctNumber := range numbers {
		if bud.Reached() || srcCtx.Err() != nil {
			break
		}
		s.processTrial(srcCtx, ctNumber, bud)
	}
	return bud.Count(), nil
}

// collectTrialNumbers pages through the POST search endpoint.
func (s *CTISStrategy) collectTrialNumbers(ctx context.Context, maxTrials int) ([]string, error) {
	var numbers []string
	seen := make(map[string]struct{})
	for page := 1; len(numbers) < maxTrials; page++ {
		payload := map[string]any{
			"pagination": map[string]any{"page": page, "size": ctisPageSize},
			"searchCriteria": map[string]any{
				"containAll": ctisSearchTerm,
			},
		}
		var resp ctisSearchPage
		if err := s.client.PostJSON(ctx, s.searchURL, payload, &resp); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if page == 1 {
				return nil, err
			}
			s.logger.Warn("portal search page failed", zap.Int("page", page), zap.Error(err))
			break
		}
		for _, row := range resp.Data {
			if row.CTNumber == "" {
				continue
			}
			if _, dup := seen[row.CTNumber]; dup {
				continue
			}
			seen[row.CTNumber] = struct{}{}
			numbers = append(numbers, row.CTNumber)
			if len(numbers) >= maxTrials {
				break
			}
		}
		if len(resp.Data) == 0 || page >= resp.Pagination.TotalPages {
			break
		}
	}
	return numbers, nil
}

// processTrial downloads the first protocol-labeled document link found in
// the trial's detail payload.
func (s *CTISStrategy) processTrial(ctx context.Context, ctNumber string, bud *budget) {
	var detail any
	if err := s.client.FetchJSON(ctx, s.retrieveURL+ctNumber, nil, &detail); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("trial detail fetch failed", zap.String("ct_number", ctNumber), zap.Error(err))
		}
		return
	}
	for _, link := range discover.CollectDocLinks(detail) {
		if !containsLower(link.Label, "protocol") || containsAnyLower(link.Label, labelExclusions) {
			continue
		}
		outcome, err := s.downloader.Download(ctx, DownloadRequest{
			URL:          link.URL,
			Dir:          s.dir,
			Source:       s.Name(),
			RegistryID:   ctNumber,
			RegistryType: "CTIS",
			DocumentType: link.Label,
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
		// First matching link per trial only.
		return
	}
}
