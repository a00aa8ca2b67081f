// Package metrics exposes prometheus instrumentation for the ingest and
// annotation workflows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ArticlesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hatewatch_articles_ingested_total",
		Help: "Total articles normalized and persisted",
	})
	IngestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hatewatch_ingest_errors_total",
		Help: "Total rejected ingestion records",
	}, []string{"kind"})
	SlugProbes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hatewatch_slug_probes_total",
		Help: "Total slug collision retries",
	})
	AnnotationWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hatewatch_annotation_writes_total",
		Help: "Total annotation set mutations written to the store",
	}, []string{"op"})
	TweetsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hatewatch_tweets_saved_total",
		Help: "Total tweet records saved",
	})
)

func init() {
	prometheus.MustRegister(ArticlesIngested, IngestErrors, SlugProbes, AnnotationWrites, TweetsSaved)
}

// StartServer starts a metrics HTTP server on addr. Empty addr disables it.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}
