package harvest

import (
	"context"
	"encoding/xml"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/transport"
)

// Keyword queries issued against the DRKS trial feed.
var drksQueries = []string{
	"colorectal cancer",
	"colon cancer",
	"rectal cancer",
}

const drksQueryURL = "https://drks.de/api/v1/trials/query"

// DRKSStrategy harvests protocol attachments from the DRKS trial feed,
// an XML endpoint listing trials with attached-file metadata.
type DRKSStrategy struct {
	client     *transport.Client
	downloader *Downloader
	dir        string
	queryURL   string
	logger     *zap.Logger
}

// NewDRKSStrategy wires the strategy against the public feed.
func NewDRKSStrategy(client *transport.Client, downloader *Downloader, dir string, logger *zap.Logger) *DRKSStrategy {
	return &DRKSStrategy{
		client:     client,
		downloader: downloader,
		dir:        dir,
		queryURL:   drksQueryURL,
		logger:     logger,
	}
}

// Name implements Strategy.
func (s *DRKSStrategy) Name() string { return "drks" }

// drksFeed mirrors the trial/attachedFile feed structure. Element matching
// is on local names, so namespaced and plain feeds both decode.
type drksFeed struct {
	XMLName xml.Name    `xml:"trials"`
	Trials  []drksTrial `xml:"trial"`
}

type drksTrial struct {
	ID    string `xml:"externalId"`
	Files []struct {
		Description string `xml:"description"`
		URL         string `xml:"url"`
	} `xml:"attachedFiles>attachedFile"`
}

// protocolFile is one (trial, url, description) candidate.
type protocolFile struct {
	trialID     string
	downloadURL string
	description string
}

// Run implements Strategy: issue each keyword query, collect attached
// files whose description mentions a protocol, and download until the
// budget is reached.
func (s *DRKSStrategy) Run(ctx context.Context, limit int) (int, error) {
	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bud := newBudget(limit, cancel)

	seen := make(map[string]struct{})
	for _, query := range drksQueries {
		if bud.Reached() || srcCtx.Err() != nil {
			break
		}
		files, err := s.queryTrials(srcCtx, query)
		if err != nil {
			if srcCtx.Err() != nil {
				break
			}
			// One failing query must not abort the others.
			s.logger.Warn("trial query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		for _, file := range files {
			if bud.Reached() || srcCtx.Err() != nil {
				break
			}
			if _, dup := seen[file.downloadURL]; dup {
				continue
			}
			seen[file.downloadURL] = struct{}{}
			outcome, err := s.downloader.Download(srcCtx, DownloadRequest{
				URL:                    file.downloadURL,
				Dir:                    s.dir,
				Source:                 s.Name(),
				RegistryID:             file.trialID,
				RegistryType:           "DRKS",
				DocumentType:           file.description,
				RequireProtocolContent: true,
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
	}
	return bud.Count(), nil
}

// queryTrials fetches one keyword query and extracts protocol-described
// attached files.
func (s *DRKSStrategy) queryTrials(ctx context.Context, query string) ([]protocolFile, error) {
	target := s.queryURL + "?" + url.Values{"query": {query}}.Encode()
	raw, err := s.client.FetchBytes(ctx, target)
	if err != nil {
		return nil, err
	}
	var feed drksFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, err
	}
	var files []protocolFile
	for _, trial := range feed.Trials {
		for _, file := range trial.Files {
			if file.URL == "" || !containsLower(file.Description, "protocol") {
				continue
			}
			files = append(files, protocolFile{
				trialID:     trial.ID,
				downloadURL: file.URL,
				description: file.Description,
			})
		}
	}
	return files, nil
}
