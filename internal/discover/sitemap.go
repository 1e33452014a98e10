package discover

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"go.uber.org/zap"
)

// FetchFunc retrieves raw bytes for a URL. The walker takes it as a
// capability so tests can run without a network.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// SitemapWalker traverses a possibly nested XML sitemap tree, yielding
// leaf URLs lazily.
type SitemapWalker struct {
	fetch      FetchFunc
	depthLimit int
	logger     *zap.Logger
}

// NewSitemapWalker builds a walker that visits at most depthLimit
// sub-sitemaps below the root.
func NewSitemapWalker(fetch FetchFunc, depthLimit int, logger *zap.Logger) *SitemapWalker {
	if depthLimit <= 0 {
		depthLimit = 10
	}
	return &SitemapWalker{fetch: fetch, depthLimit: depthLimit, logger: logger}
}

// Walk fetches rootURL and yields leaf URLs until yield returns false or
// the tree is exhausted. A failing sub-sitemap is skipped, not fatal.
func (w *SitemapWalker) Walk(ctx context.Context, rootURL string, yield func(string) bool) error {
	locs, err := w.fetchLocs(ctx, rootURL)
	if err != nil {
		return err
	}
	if !looksLikeSitemapIndex(locs) {
		for _, loc := range locs {
			if !yield(loc) {
				return nil
			}
		}
		return nil
	}

	visited := 0
	for _, sub := range locs {
		if visited >= w.depthLimit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		visited++
		subLocs, err := w.fetchLocs(ctx, sub)
		if err != nil {
			w.logger.Warn("skipping unreadable sub-sitemap",
				zap.String("sitemap", sub),
				zap.Error(err),
			)
			continue
		}
		for _, loc := range subLocs {
			if !yield(loc) {
				return nil
			}
		}
	}
	return nil
}

// fetchLocs downloads one sitemap document and extracts its <loc> values.
func (w *SitemapWalker) fetchLocs(ctx context.Context, sitemapURL string) ([]string, error) {
	raw, err := w.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close() //nolint:errcheck // read-side close
		if raw, err = io.ReadAll(gz); err != nil {
			return nil, err
		}
	}
	return extractLocs(raw)
}

// extractLocs pulls every <loc> text value out of a sitemap or sitemap
// index document. It tolerates namespaced and non-namespaced markup by
// matching on local element names only.
func extractLocs(raw []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var locs []string
	var inLoc bool
	var text strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				text.Reset()
			}
		case xml.CharData:
			if inLoc {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "loc" {
				inLoc = false
				if loc := strings.TrimSpace(text.String()); loc != "" {
					locs = append(locs, loc)
				}
			}
		}
	}
	return locs, nil
}

// looksLikeSitemapIndex reports whether the extracted URLs point at nested
// sitemaps rather than leaf pages.
func looksLikeSitemapIndex(locs []string) bool {
	if len(locs) == 0 {
		return false
	}
	for _, loc := range locs {
		lower := strings.ToLower(loc)
		if strings.HasSuffix(lower, ".xml") || strings.HasSuffix(lower, ".xml.gz") ||
			strings.Contains(lower, "sitemap") {
			continue
		}
		return false
	}
	return true
}
