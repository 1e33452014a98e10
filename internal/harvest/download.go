package harvest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/trialdocs/harvester/internal/manifest"
	"github.com/trialdocs/harvester/internal/transport"
	"github.com/trialdocs/harvester/internal/validate"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxBasenameLen = 80

// DownloadRequest describes one candidate document.
type DownloadRequest struct {
	URL          string
	Dir          string
	Source       string
	RegistryID   string
	RegistryType string
	DocumentType string
	// RequireProtocolContent enables the text-based protocol check.
	RequireProtocolContent bool
}

// Outcome reports whether a download produced a new file.
type Outcome struct {
	Path  string
	Fresh bool
}

// Downloader is the shared fetch-validate-write-record primitive used by
// every strategy.
type Downloader struct {
	client    *transport.Client
	validator *validate.Validator
	log       *manifest.Log
	logger    *zap.Logger
}

// NewDownloader wires the download primitive.
func NewDownloader(client *transport.Client, validator *validate.Validator, log *manifest.Log, logger *zap.Logger) *Downloader {
	return &Downloader{client: client, validator: validator, log: log, logger: logger}
}

// Download fetches one document. If the deterministic target file already
// exists the existing path is returned without any network activity or
// manifest line. Every attempted fetch appends exactly one manifest record
// reflecting success or the specific failure.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (Outcome, error) {
	target := filepath.Join(req.Dir, targetFilename(req.URL))
	if _, err := os.Stat(target); err == nil {
		d.logger.Debug("already downloaded, skipping",
			zap.String("source", req.Source),
			zap.String("path", target),
		)
		documentsSkipped.WithLabelValues(req.Source).Inc()
		return Outcome{Path: target, Fresh: false}, nil
	}

	data, err := d.client.FetchBytes(ctx, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is budget enforcement, not a per-item failure.
			return Outcome{}, ctx.Err()
		}
		d.recordFailure(req, fetchFailureDetail(err), "fetch")
		return Outcome{}, err
	}

	if err := d.validator.Validate(data, req.RequireProtocolContent); err != nil {
		d.recordFailure(req, err.Error(), "validation")
		return Outcome{}, err
	}

	if err := writeFile(target, data); err != nil {
		d.recordFailure(req, err.Error(), "write")
		return Outcome{}, err
	}

	rec := manifest.Record{
		Source:       req.Source,
		URL:          req.URL,
		LocalPath:    target,
		Status:       manifest.StatusDownloaded,
		RegistryID:   req.RegistryID,
		RegistryType: req.RegistryType,
		DocumentType: req.DocumentType,
	}
	if err := d.log.Append(rec); err != nil {
		d.logger.Error("manifest append failed", zap.String("url", req.URL), zap.Error(err))
	}
	documentsDownloaded.WithLabelValues(req.Source).Inc()
	d.logger.Info("downloaded document",
		zap.String("source", req.Source),
		zap.String("url", req.URL),
		zap.String("path", target),
	)
	return Outcome{Path: target, Fresh: true}, nil
}

func (d *Downloader) recordFailure(req DownloadRequest, detail, reason string) {
	documentsFailed.WithLabelValues(req.Source, reason).Inc()
	rec := manifest.Record{
		Source:       req.Source,
		URL:          req.URL,
		Status:       manifest.StatusFailed,
		Detail:       detail,
		RegistryID:   req.RegistryID,
		RegistryType: req.RegistryType,
		DocumentType: req.DocumentType,
	}
	if err := d.log.Append(rec); err != nil {
		d.logger.Error("manifest append failed", zap.String("url", req.URL), zap.Error(err))
	}
}

// fetchFailureDetail distinguishes exhausted retries from terminal HTTP
// errors in the manifest detail string.
func fetchFailureDetail(err error) string {
	var exhausted *transport.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("retry exhausted: %v", exhausted.Last)
	}
	return err.Error()
}

// writeFile writes data via a temp file and rename so cancellation can
// never leave a partial document behind.
func writeFile(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", target, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck // cleanup path
		os.Remove(tmpName)   //nolint:errcheck // cleanup path
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // cleanup path
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName) //nolint:errcheck // cleanup path
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck // cleanup path
		return fmt.Errorf("rename to %s: %w", target, err)
	}
	return nil
}

// targetFilename computes the deterministic local name for url: the
// sanitized basename, an 8-hex-char hash of the full URL to avoid
// collisions, and a preserved or defaulted extension. The scheme is an
// invariant: re-runs rely on it for the file-exists idempotency check.
func targetFilename(rawURL string) string {
	base := "document"
	ext := ".pdf"
	if parsed, err := url.Parse(rawURL); err == nil {
		if b := path.Base(parsed.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		candidate := strings.ToLower(base[i:])
		if len(candidate) <= 5 {
			ext = candidate
		}
		base = base[:i]
	}
	base = invalidFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._-")
	if base == "" {
		base = "document"
	}
	if len(base) > maxBasenameLen {
		base = base[:maxBasenameLen]
	}
	sum := sha1.Sum([]byte(rawURL))
	return fmt.Sprintf("%s-%s%s", base, hex.EncodeToString(sum[:])[:8], ext)
}
