package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifier lookups by classifier ("country", "vpn") and result ("hit", "miss", "invalid", "unavailable").
	ClassifierLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_classifier_lookups_total",
			Help: "Total number of IP classification lookups",
		},
		[]string{"classifier", "result"},
	)

	DatasetLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_dataset_loads_total",
			Help: "Total number of dataset load attempts by origin",
		},
		[]string{"classifier", "origin"},
	)

	DatasetLoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_dataset_load_errors_total",
			Help: "Total number of failed dataset loads",
		},
		[]string{"classifier"},
	)

	DatasetRanges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoshield_dataset_ranges",
			Help: "Number of ranges in the active index",
		},
		[]string{"classifier", "family"},
	)

	DatasetLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoshield_dataset_last_success_timestamp_seconds",
			Help: "Unix time of the last successful index build",
		},
		[]string{"classifier"},
	)

	// Recognitions by outcome ("new", "returning", "new_name").
	Recognitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_device_recognitions_total",
			Help: "Total number of device check-and-record calls by outcome",
		},
		[]string{"outcome"},
	)

	StorageSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoshield_device_storage_save_errors_total",
			Help: "Total number of failed device history writes",
		},
	)

	KnownDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoshield_known_devices",
			Help: "Number of distinct fingerprints in the recognition store",
		},
	)

	// Redirect decisions by action ("normal", "honeypot", "vpn_block").
	RedirectDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_redirect_decisions_total",
			Help: "Total number of redirect decisions by action",
		},
		[]string{"action"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoshield_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoshield_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
