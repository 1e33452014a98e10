package harvest

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/discover"
	"github.com/trialdocs/harvester/internal/transport"
)

const nihrListingURL = "https://www.journalslibrary.nihr.ac.uk/programmes/hta/colorectal-cancer/"

// HTMLPageStrategy harvests PDF links from a single listing page,
// restricted to the listing's own host.
type HTMLPageStrategy struct {
	client     *transport.Client
	downloader *Downloader
	dir        string
	name       string
	listingURL string
	logger     *zap.Logger
}

// NewNIHRStrategy wires the NIHR journals-library listing source.
func NewNIHRStrategy(client *transport.Client, downloader *Downloader, dir string, logger *zap.Logger) *HTMLPageStrategy {
	return &HTMLPageStrategy{
		client:     client,
		downloader: downloader,
		dir:        dir,
		name:       "nihr",
		listingURL: nihrListingURL,
		logger:     logger,
	}
}

// Name implements Strategy.
func (s *HTMLPageStrategy) Name() string { return s.name }

// Run implements Strategy: fetch the listing, collect same-host PDF
// links, narrow to protocol-looking ones when present, and download.
func (s *HTMLPageStrategy) Run(ctx context.Context, limit int) (int, error) {
	body, err := s.client.FetchBytes(ctx, s.listingURL)
	if err != nil {
		return 0, err
	}
	base, err := url.Parse(s.listingURL)
	if err != nil {
		return 0, err
	}
	links, err := discover.ParseHTML(body, base)
	if err != nil {
		return 0, err
	}

	candidates := s.pdfCandidates(links, base)
	s.logger.Info("collected listing candidates",
		zap.String("source", s.Name()),
		zap.Int("count", len(candidates)),
	)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bud := newBudget(limit, cancel)

	for _, candidate := range candidates {
		if bud.Reached() || srcCtx.Err() != nil {
			break
		}
		outcome, err := s.downloader.Download(srcCtx, DownloadRequest{
			URL:          candidate,
			Dir:          s.dir,
			Source:       s.Name(),
			RegistryType: "AWARD",
			DocumentType: "listing pdf",
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		if outcome.Fresh {
			bud.Add()
		}
	}
	return bud.Count(), nil
}

// pdfCandidates filters the listing's links to same-host PDFs, narrowed
// to protocol-looking ones when any exist.
func (s *HTMLPageStrategy) pdfCandidates(links *discover.PageLinks, base *url.URL) []string {
	var pdfs []string
	var protocolPDFs []string
	for _, candidate := range links.URLs {
		if !containsLower(candidate, ".pdf") {
			continue
		}
		parsed, err := url.Parse(candidate)
		if err != nil || !strings.EqualFold(parsed.Hostname(), base.Hostname()) {
			continue
		}
		pdfs = append(pdfs, candidate)
		if containsLower(candidate, "protocol") || containsLower(links.AnchorText[candidate], "protocol") {
			protocolPDFs = append(protocolPDFs, candidate)
		}
	}
	if len(protocolPDFs) > 0 {
		return protocolPDFs
	}
	return pdfs
}
