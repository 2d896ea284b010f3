package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Container metrics
	ChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_changes_applied_total",
			Help: "Total number of pending setting changes committed",
		},
		[]string{"scope"},
	)

	ChangesCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_changes_cleared_total",
			Help: "Total number of pending setting changes discarded",
		},
		[]string{"scope"},
	)

	SettingsReset = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_reset_total",
			Help: "Total number of settings reset to their default",
		},
		[]string{"scope"},
	)

	PendingChanges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shannon_settings_pending_changes",
			Help: "Number of uncommitted changes per container",
		},
		[]string{"container"},
	)

	ActiveContainers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shannon_settings_active_containers",
			Help: "Number of live settings containers",
		},
		[]string{"scope"},
	)

	BindingDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_binding_dispatches_total",
			Help: "Total number of binding callbacks invoked",
		},
		[]string{"event"},
	)

	// Persistence metrics
	DocumentSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_document_saves_total",
			Help: "Total number of settings documents written",
		},
		[]string{"kind", "status"},
	)

	DocumentLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_document_loads_total",
			Help: "Total number of settings documents read",
		},
		[]string{"kind", "status"},
	)

	PersistenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_settings_persistence_duration_seconds",
			Help:    "Settings document read/write duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	// Catalog metrics
	DefinitionsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shannon_settings_definitions_loaded",
			Help: "Number of setting definitions in the catalog",
		},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_catalog_reloads_total",
			Help: "Total number of definition file reloads",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_http_requests_total",
			Help: "Total number of settings API requests",
		},
		[]string{"route", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_settings_rate_limited_total",
			Help: "Total number of settings API requests rejected by the rate limiter",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shannon_settings_stream_clients",
			Help: "Number of connected websocket stream clients",
		},
	)
)
