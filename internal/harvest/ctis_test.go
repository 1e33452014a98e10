package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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

// ctisFixture serves a fake portal: POST search, per-trial detail, and
// document bytes.
func ctisFixture(t *testing.T, trialCount int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var docHits atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload struct {
			Pagination struct {
				Page int `json:"page"`
			} `json:"pagination"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		resp := ctisSearchPage{}
		resp.Pagination.TotalPages = 1
		if payload.Pagination.Page == 1 {
			for i := 1; i <= trialCount; i++ {
				resp.Data = append(resp.Data, struct {
					CTNumber string `json:"ctNumber"`
				}{CTNumber: fmt.Sprintf("2026-%06d-42-00", i)})
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc("/retrieve/", func(w http.ResponseWriter, r *http.Request) {
		ctNumber := strings.TrimPrefix(r.URL.Path, "/retrieve/")
		detail := map[string]any{
			"ctNumber": ctNumber,
			"documents": []any{
				map[string]any{
					"documentUrl":  "http://" + r.Host + "/doc/" + ctNumber + "/synopsis.pdf",
					"documentType": "Protocol synopsis",
				},
				map[string]any{
					"documentUrl":  "http://" + r.Host + "/doc/" + ctNumber + "/icf.pdf",
					"documentType": "Protocol ICF",
				},
				map[string]any{
					"documentUrl":  "http://" + r.Host + "/doc/" + ctNumber + "/protocol.pdf",
					"documentType": "Trial protocol",
					"title":        "Protocol version 4",
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(detail))
	})

	mux.HandleFunc("/doc/", func(w http.ResponseWriter, r *http.Request) {
		docHits.Add(1)
		_, _ = w.Write(pdfPayload(300))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &docHits
}

func newCTISStrategyForTest(t *testing.T, server *httptest.Server) *CTISStrategy {
	t.Helper()
	root := t.TempDir()
	log, err := manifest.Open(filepath.Join(root, "manifest.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() }) //nolint:errcheck // test cleanup

	client := transport.NewClient(transport.Config{Timeout: 5 * time.Second}, zap.NewNop())
	downloader := NewDownloader(client, &validate.Validator{}, log, zap.NewNop())
	strategy := NewCTISStrategy(client, downloader, filepath.Join(root, "ctis"), zap.NewNop())
	strategy.searchURL = server.URL + "/search"
	strategy.retrieveURL = server.URL + "/retrieve/"
	return strategy
}

func TestCTISStrategyPicksFirstProtocolLink(t *testing.T) {
	t.Parallel()
	server, docHits := ctisFixture(t, 3)
	strategy := newCTISStrategyForTest(t, server)

	count, err := strategy.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	// Synopsis and ICF links are label-filtered away; exactly one document
	// is fetched per trial.
	require.EqualValues(t, 3, docHits.Load())
}

func TestCTISStrategyHonorsBudget(t *testing.T) {
	t.Parallel()
	server, _ := ctisFixture(t, 8)
	strategy := newCTISStrategyForTest(t, server)

	count, err := strategy.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
