// Package observability holds the Prometheus collectors shared by the cache,
// the bot and the admin server. Collectors register with the default
// registry, which the admin server exposes on the metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers used as the "tier" label.
const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Failure stages used as the "stage" label of CatFetchFailures.
const (
	StageFetch  = "fetch"
	StageDecode = "decode"
	StageUpload = "upload"
	StageStore  = "store"
)

// CacheHits counts resolutions answered without fetching, by tier.
var CacheHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "httpcat_cache_hits_total",
		Help: "Total number of cat resolutions served from the cache, by tier",
	},
	[]string{"tier"},
)

// CatFetches counts upstream image fetches.
var CatFetches = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "httpcat_fetches_total",
		Help: "Total number of cat images fetched from the image source",
	},
)

// CatFetchFailures counts failed fill attempts by the stage that failed.
var CatFetchFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "httpcat_fetch_failures_total",
		Help: "Total number of failed cat fetch-and-upload attempts, by stage",
	},
	[]string{"stage"},
)

// UploadDuration observes media upload latency.
var UploadDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "httpcat_upload_duration_seconds",
		Help:    "Duration of cat uploads to the chat server media repository",
		Buckets: prometheus.DefBuckets,
	},
)

// Commands counts handled chat commands by result (ok, usage, error).
var Commands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "httpcat_commands_total",
		Help: "Total number of handled cat commands, by result",
	},
	[]string{"result"},
)
