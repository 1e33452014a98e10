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

// journalCandidateFactor bounds sitemap article candidates at factor x budget.
const journalCandidateFactor = 20

// JournalSource parameterizes one sitemap-crawled journal.
type JournalSource struct {
	Name       string
	SitemapURL string
	// ArticleFilter keeps sitemap URLs that look like article pages.
	ArticleFilter func(string) bool
	// IncludeKeywords select PDF links by URL or anchor text.
	IncludeKeywords []string
}

// trialsJournalSource covers the Trials journal (BMC).
func trialsJournalSource() JournalSource {
	return JournalSource{
		Name:            "trialsjournal",
		SitemapURL:      "https://trialsjournal.biomedcentral.com/sitemap.xml",
		ArticleFilter:   func(u string) bool { return strings.Contains(u, "/articles/10.1186/") },
		IncludeKeywords: []string{"protocol"},
	}
}

// bmjOpenSource covers BMJ Open.
func bmjOpenSource() JournalSource {
	return JournalSource{
		Name:            "bmjopen",
		SitemapURL:      "https://bmjopen.bmj.com/sitemap.xml",
		ArticleFilter:   func(u string) bool { return strings.Contains(u, "/content/") },
		IncludeKeywords: []string{"protocol"},
	}
}

// JournalStrategy walks a journal's sitemap, visits candidate article
// pages, and downloads at most one protocol PDF per article.
type JournalStrategy struct {
	client     *transport.Client
	downloader *Downloader
	dir        string
	source     JournalSource
	depthLimit int
	logger     *zap.Logger
}

// NewJournalStrategy wires one sitemap-crawled journal source.
func NewJournalStrategy(client *transport.Client, downloader *Downloader, dir string, source JournalSource, depthLimit int, logger *zap.Logger) *JournalStrategy {
	return &JournalStrategy{
		client:     client,
		downloader: downloader,
		dir:        dir,
		source:     source,
		depthLimit: depthLimit,
		logger:     logger,
	}
}

// Name implements Strategy.
func (s *JournalStrategy) Name() string { return s.source.Name }

// Run implements Strategy: walk the sitemap lazily up to the candidate
// cap, then fetch each article and download its first matching PDF.
func (s *JournalStrategy) Run(ctx context.Context, limit int) (int, error) {
	walker := discover.NewSitemapWalker(s.client.FetchBytes, s.depthLimit, s.logger)

	// The cap bounds walked sitemap URLs, not just filter-passing ones, so
	// a sitemap with few matching articles is never walked to exhaustion.
	maxCandidates := limit * journalCandidateFactor
	var candidates []string
	walked := 0
	err := walker.Walk(ctx, s.source.SitemapURL, func(loc string) bool {
		walked++
		if s.source.ArticleFilter == nil || s.source.ArticleFilter(loc) {
			candidates = append(candidates, loc)
		}
		return walked < maxCandidates
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("collected article candidates",
		zap.String("source", s.Name()),
		zap.Int("count", len(candidates)),
	)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bud := newBudget(limit, cancel)

	for _, article := range candidates {
		if bud.Reached() || srcCtx.Err() != nil {
			break
		}
		s.processArticle(srcCtx, article, bud)
	}
	return bud.Count(), nil
}

// processArticle fetches one article page and downloads the first PDF
// link matching the include keywords.
func (s *JournalStrategy) processArticle(ctx context.Context, articleURL string, bud *budget) {
	body, err := s.client.FetchBytes(ctx, articleURL)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("article fetch failed", zap.String("url", articleURL), zap.Error(err))
		}
		return
	}
	base, err := url.Parse(articleURL)
	if err != nil {
		return
	}
	links, err := discover.ParseHTML(body, base)
	if err != nil {
		s.logger.Debug("article parse failed", zap.String("url", articleURL), zap.Error(err))
		return
	}

	pdfURL := s.pickPDF(links, articleURL)
	if pdfURL == "" {
		return
	}
	outcome, err := s.downloader.Download(ctx, DownloadRequest{
		URL:                    pdfURL,
		Dir:                    s.dir,
		Source:                 s.Name(),
		RegistryID:             articleURL,
		RegistryType:           "DOI",
		DocumentType:           "journal protocol paper",
		RequireProtocolContent: true,
	})
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}
	if err == nil && outcome.Fresh {
		bud.Add()
	}
}

// pickPDF returns the first PDF-looking link whose URL or anchor text
// matches the include keywords. The citation_pdf_url meta tag is preferred
// but goes through the same keyword filter, matched against the meta URL,
// the article URL, or the cited title.
func (s *JournalStrategy) pickPDF(links *discover.PageLinks, articleURL string) string {
	if meta := links.Meta["citation_pdf_url"]; meta != "" {
		title := links.Meta["citation_title"]
		if title == "" {
			title = links.Meta["og:title"]
		}
		if containsAnyLower(meta, s.source.IncludeKeywords) ||
			containsAnyLower(articleURL, s.source.IncludeKeywords) ||
			containsAnyLower(title, s.source.IncludeKeywords) {
			return meta
		}
	}
	for _, candidate := range links.URLs {
		if !containsLower(candidate, ".pdf") {
			continue
		}
		if containsAnyLower(candidate, s.source.IncludeKeywords) ||
			containsAnyLower(links.AnchorText[candidate], s.source.IncludeKeywords) {
			return candidate
		}
	}
	return ""
}
