package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// documentsDownloaded tracks fresh downloads per source.
	documentsDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_documents_downloaded_total",
		Help: "Total number of documents downloaded, labeled by source.",
	}, []string{"source"})
	// documentsFailed tracks failed attempts per source and reason class.
	documentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_documents_failed_total",
		Help: "Total number of failed download attempts, labeled by source and reason.",
	}, []string{"source", "reason"})
	// documentsSkipped tracks attempts short-circuited by an existing file.
	documentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_documents_skipped_total",
		Help: "Total number of downloads skipped because the file already existed.",
	}, []string{"source"})
)
