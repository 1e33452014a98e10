package harvest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/manifest"
	"github.com/trialdocs/harvester/internal/transport"
	"github.com/trialdocs/harvester/internal/validate"
)

func pdfPayload(size int) []byte {
	data := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), size)...)
	return data[:size]
}

type downloadFixture struct {
	downloader *Downloader
	manifest   string
	dir        string
}

func newDownloadFixture(t *testing.T) *downloadFixture {
	t.Helper()
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.jsonl")
	log, err := manifest.Open(manifestPath)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() }) //nolint:errcheck // test cleanup

	client := transport.NewClient(transport.Config{Timeout: 5 * time.Second}, zap.NewNop())
	downloader := NewDownloader(client, &validate.Validator{}, log, zap.NewNop())
	return &downloadFixture{
		downloader: downloader,
		manifest:   manifestPath,
		dir:        filepath.Join(root, "crc_protocols", "clinicaltrials"),
	}
}

func (f *downloadFixture) records(t *testing.T) []manifest.Record {
	t.Helper()
	file, err := os.Open(f.manifest)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck // test cleanup

	var records []manifest.Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec manifest.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestDownloadIsIdempotent(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(pdfPayload(300))
	}))
	defer server.Close()

	f := newDownloadFixture(t)
	req := DownloadRequest{
		URL:        server.URL + "/docs/Prot_000.pdf",
		Dir:        f.dir,
		Source:     "clinicaltrials",
		RegistryID: "NCT01234567",
	}

	first, err := f.downloader.Download(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Fresh)
	require.FileExists(t, first.Path)

	second, err := f.downloader.Download(context.Background(), req)
	require.NoError(t, err)
	require.False(t, second.Fresh)
	require.Equal(t, first.Path, second.Path)

	// Exactly one network fetch and one manifest record.
	require.EqualValues(t, 1, hits.Load())
	records := f.records(t)
	require.Len(t, records, 1)
	require.Equal(t, manifest.StatusDownloaded, records[0].Status)
	require.Equal(t, "NCT01234567", records[0].RegistryID)
	require.Equal(t, first.Path, records[0].LocalPath)
}

func TestDownloadRecordsTerminalHTTPFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := newDownloadFixture(t)
	outcome, err := f.downloader.Download(context.Background(), DownloadRequest{
		URL:    server.URL + "/missing.pdf",
		Dir:    f.dir,
		Source: "clinicaltrials",
	})
	require.Error(t, err)
	require.False(t, outcome.Fresh)

	records := f.records(t)
	require.Len(t, records, 1)
	require.Equal(t, manifest.StatusFailed, records[0].Status)
	require.Contains(t, records[0].Detail, "404")
	require.Empty(t, records[0].LocalPath)
}

func TestDownloadRecordsValidationFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("<html>nope</html>"), 20))
	}))
	defer server.Close()

	f := newDownloadFixture(t)
	_, err := f.downloader.Download(context.Background(), DownloadRequest{
		URL:    server.URL + "/fake.pdf",
		Dir:    f.dir,
		Source: "clinicaltrials",
	})
	require.ErrorIs(t, err, validate.ErrNotPDF)

	records := f.records(t)
	require.Len(t, records, 1)
	require.Equal(t, manifest.StatusFailed, records[0].Status)
	require.Equal(t, "not a valid PDF", records[0].Detail)

	// No partial file may remain after a rejected download.
	entries, err := os.ReadDir(f.dir)
	if err == nil {
		require.Empty(t, entries)
	}
}

func TestTargetFilenameDeterministic(t *testing.T) {
	t.Parallel()
	const rawURL = "https://cdn.clinicaltrials.gov/large-docs/67/NCT01234567/Prot_000.pdf"

	name := targetFilename(rawURL)
	require.Equal(t, name, targetFilename(rawURL))
	require.True(t, strings.HasPrefix(name, "Prot_000-"))
	require.True(t, strings.HasSuffix(name, ".pdf"))

	// Same basename, different URL: the hash suffix must differ.
	other := targetFilename("https://cdn.clinicaltrials.gov/large-docs/68/NCT07654321/Prot_000.pdf")
	require.NotEqual(t, name, other)
}

func TestTargetFilenameSanitizesHostileNames(t *testing.T) {
	t.Parallel()
	name := targetFilename("https://x.example.com/a%20b/../we ird><name.PDF?download=1")
	require.NotContains(t, name, " ")
	require.NotContains(t, name, "<")
	require.NotContains(t, name, "/")
	require.True(t, strings.HasSuffix(name, ".pdf"))

	// URLs without a usable basename fall back to a default.
	fallback := targetFilename("https://x.example.com/")
	require.True(t, strings.HasPrefix(fallback, "document-"))
}
