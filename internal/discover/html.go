// Package discover extracts candidate document URLs from HTML pages,
// XML sitemaps, and nested JSON payloads.
package discover

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageLinks holds everything the strategies need from one HTML page.
type PageLinks struct {
	// URLs is the deduplicated set of absolute anchor targets.
	URLs []string
	// Meta maps lower-cased meta name/property values to their content.
	Meta map[string]string
	// AnchorText maps each absolute URL to its concatenated anchor text.
	AnchorText map[string]string
}

// ParseHTML extracts anchors and meta tags from raw HTML. Parsing is
// best-effort: malformed fragments are skipped, never fatal.
func ParseHTML(body []byte, base *url.URL) (*PageLinks, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	links := &PageLinks{
		Meta:       make(map[string]string),
		AnchorText: make(map[string]string),
	}
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; !dup {
			seen[abs] = struct{}{}
			links.URLs = append(links.URLs, abs)
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			if existing := links.AnchorText[abs]; existing != "" {
				links.AnchorText[abs] = existing + " " + text
			} else {
				links.AnchorText[abs] = text
			}
		}
	})

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, ok := sel.Attr("content")
		if !ok {
			return
		}
		if name, ok := sel.Attr("name"); ok && name != "" {
			links.Meta[strings.ToLower(name)] = content
		}
		if prop, ok := sel.Attr("property"); ok && prop != "" {
			links.Meta[strings.ToLower(prop)] = content
		}
	})

	return links, nil
}

// resolveURL turns href into an absolute URL against base, dropping
// fragments and unparseable values.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	parsed.Fragment = ""
	return parsed.String()
}
