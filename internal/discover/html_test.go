package discover

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseHTMLExtractsLinksMetaAndAnchorText(t *testing.T) {
	t.Parallel()
	page := []byte(`<html><head>
		<meta name="citation_pdf_url" content="https://journal.example.com/article/1.pdf">
		<meta property="og:title" content="Study protocol for a trial">
	</head><body>
		<a href="/articles/10.1186/s13063-024-1">Study protocol</a>
		<a href="/articles/10.1186/s13063-024-1">full text</a>
		<a href="https://other.example.org/paper.pdf">Download PDF</a>
		<a href="mailto:editor@example.com">contact</a>
		<a href="javascript:void(0)">menu</a>
	</body></html>`)

	links, err := ParseHTML(page, mustParse(t, "https://journal.example.com/issue/2"))
	require.NoError(t, err)

	require.Equal(t, []string{
		"https://journal.example.com/articles/10.1186/s13063-024-1",
		"https://other.example.org/paper.pdf",
	}, links.URLs)

	require.Equal(t, "https://journal.example.com/article/1.pdf", links.Meta["citation_pdf_url"])
	require.Equal(t, "Study protocol for a trial", links.Meta["og:title"])

	// Repeated anchors concatenate their text.
	require.Equal(t, "Study protocol full text",
		links.AnchorText["https://journal.example.com/articles/10.1186/s13063-024-1"])
	require.Equal(t, "Download PDF", links.AnchorText["https://other.example.org/paper.pdf"])
}

func TestParseHTMLMalformedInputDoesNotFail(t *testing.T) {
	t.Parallel()
	page := []byte(`<html><body><a href="/ok">ok<div><a href="://bad url"</a><p>`)

	links, err := ParseHTML(page, mustParse(t, "https://example.com"))
	require.NoError(t, err)
	require.Contains(t, links.URLs, "https://example.com/ok")
}

func TestParseHTMLDropsFragments(t *testing.T) {
	t.Parallel()
	page := []byte(`<a href="/doc.pdf#page=2">doc</a>`)

	links, err := ParseHTML(page, mustParse(t, "https://example.com"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/doc.pdf"}, links.URLs)
}
