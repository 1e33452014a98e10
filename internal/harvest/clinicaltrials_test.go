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

func TestIsProtocolDocument(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  studyDocument
		want bool
	}{
		{
			"explicit protocol flag",
			studyDocument{Filename: "Prot_000.pdf", TypeAbbrev: "Prot", HasProtocol: true},
			true,
		},
		{
			"protocol label without flag",
			studyDocument{Filename: "study_doc.pdf", Label: "Study Protocol"},
			true,
		},
		{
			"protocol amendment excluded despite mentioning protocol",
			studyDocument{Filename: "doc.pdf", TypeAbbrev: "Protocol Amendment", HasProtocol: false},
			false,
		},
		{
			"amendment excluded even with protocol flag",
			studyDocument{Filename: "doc.pdf", Label: "Protocol Amendment 3", HasProtocol: true},
			false,
		},
		{
			"sap in filename excluded",
			studyDocument{Filename: "Prot_SAP_000.pdf", TypeAbbrev: "Prot", HasProtocol: true},
			false,
		},
		{
			"icf excluded",
			studyDocument{Filename: "ICF_001.pdf", Label: "Informed consent", HasProtocol: true},
			false,
		},
		{
			"deviation excluded",
			studyDocument{Filename: "doc.pdf", Label: "Protocol Deviation Log"},
			false,
		},
		{
			"unrelated label excluded",
			studyDocument{Filename: "doc.pdf", Label: "Study Report"},
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isProtocolDocument(tc.doc))
		})
	}
}

// ctgovFixture serves a fake study-search API plus document CDN.
func ctgovFixture(t *testing.T, studyCount int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var cdnHits atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v2/studies", func(w http.ResponseWriter, r *http.Request) {
		page := studySearchPage{}
		for i := 1; i <= studyCount; i++ {
			var study struct {
				ProtocolSection struct {
					IdentificationModule struct {
						NCTID string `json:"nctId"`
					} `json:"identificationModule"`
				} `json:"protocolSection"`
			}
			study.ProtocolSection.IdentificationModule.NCTID = fmt.Sprintf("NCT%08d", i)
			page.Studies = append(page.Studies, study)
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	})

	mux.HandleFunc("/api/v2/studies/", func(w http.ResponseWriter, r *http.Request) {
		nctID := strings.TrimPrefix(r.URL.Path, "/api/v2/studies/")
		detail := studyDetail{}
		detail.DocumentSection.LargeDocumentModule.LargeDocs = []studyDocument{
			{TypeAbbrev: "Prot", Label: "Study Protocol", Filename: nctID + "_Prot.pdf", HasProtocol: true},
			{TypeAbbrev: "Protocol Amendment", Label: "Amendment 1", Filename: nctID + "_Amend.pdf"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(detail))
	})

	mux.HandleFunc("/large-docs/", func(w http.ResponseWriter, r *http.Request) {
		cdnHits.Add(1)
		_, _ = w.Write(pdfPayload(300))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &cdnHits
}

func newCTGovStrategy(t *testing.T, server *httptest.Server) *ClinicalTrialsStrategy {
	t.Helper()
	root := t.TempDir()
	log, err := manifest.Open(filepath.Join(root, "manifest.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() }) //nolint:errcheck // test cleanup

	client := transport.NewClient(transport.Config{Timeout: 5 * time.Second}, zap.NewNop())
	downloader := NewDownloader(client, &validate.Validator{}, log, zap.NewNop())
	strategy := NewClinicalTrialsStrategy(client, downloader, filepath.Join(root, "clinicaltrials"), zap.NewNop())
	strategy.apiBase = server.URL + "/api/v2"
	strategy.cdnBase = server.URL + "/large-docs"
	return strategy
}

func TestClinicalTrialsStrategyDownloadsProtocols(t *testing.T) {
	t.Parallel()
	server, cdnHits := ctgovFixture(t, 3)
	strategy := newCTGovStrategy(t, server)

	count, err := strategy.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	// Amendments are filtered before any fetch: one CDN hit per study.
	require.EqualValues(t, 3, cdnHits.Load())
}

func TestClinicalTrialsStrategyHonorsBudget(t *testing.T) {
	t.Parallel()
	server, cdnHits := ctgovFixture(t, 20)
	strategy := newCTGovStrategy(t, server)

	count, err := strategy.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	// In-flight tasks may have started before cancellation, but downloads
	// reported never exceed the budget.
	require.LessOrEqual(t, count, 2)
	require.GreaterOrEqual(t, cdnHits.Load(), int64(2))
}

func TestCollectStudyIDsDeduplicatesAndCaps(t *testing.T) {
	t.Parallel()
	server, _ := ctgovFixture(t, 10)
	strategy := newCTGovStrategy(t, server)

	// All three curated queries return the same ten studies.
	ids, err := strategy.collectStudyIDs(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, ids, 10)

	capped, err := strategy.collectStudyIDs(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, capped, 4)
}
