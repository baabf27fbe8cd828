package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

const otherEventType = "other"

var knownEventTypes = map[string]struct{}{
	string(models.EventInstanceInitialized):       {},
	string(models.EventInstanceTeardownStarted):   {},
	string(models.EventInstanceTeardownCompleted): {},
	string(models.EventRoomGenerated):             {},
	string(models.EventRoomEntered):               {},
	string(models.EventWorldEntered):              {},
	string(models.EventPlayerJoinedServer):        {},
	string(models.EventInstanceEntered):           {},
	string(models.EventPortalCreated):             {},
	string(models.EventPortalEntered):             {},
	string(models.EventPortalClosed):              {},
	string(models.EventEntitySpawned):             {},
	string(models.EventPrefabEntitySpawned):       {},
	string(models.EventEntityEliminated):          {},
	string(models.EventElimination):               {},
	string(models.EventUnknown):                   {},
}

// Metrics collects Prometheus counters and histograms for vexdashd.
//
// It satisfies ingest.Observer. All methods are safe on a nil receiver.
type Metrics struct {
	registry              *prometheus.Registry
	eventsIngestedTotal   *prometheus.CounterVec
	eventsDroppedTotal    *prometheus.CounterVec
	bufferEvents          prometheus.Gauge
	reduceTotal           *prometheus.CounterVec
	reduceDurationSeconds prometheus.Histogram
	archiveSavesTotal     *prometheus.CounterVec
	streamReconnectsTotal prometheus.Counter
	streamConnected       prometheus.Gauge
	upstreamUp            prometheus.Gauge
	prefabFetchesTotal    *prometheus.CounterVec
	replayActive          prometheus.Gauge
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	eventsIngestedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total telemetry events accepted, by event type.",
		},
		[]string{"type"},
	)
	eventsDroppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Total telemetry payloads dropped, by reason.",
		},
		[]string{"reason"},
	)
	bufferEvents := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vexdash",
			Subsystem: "bus",
			Name:      "buffer_events",
			Help:      "Events currently held in the live buffer.",
		},
	)
	reduceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "world",
			Name:      "reductions_total",
			Help:      "Total world state reductions, by mode.",
		},
		[]string{"mode"},
	)
	reduceDurationSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vexdash",
			Subsystem: "world",
			Name:      "reduce_duration_seconds",
			Help:      "Time spent folding the event sequence into world state.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
	archiveSavesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "archive",
			Name:      "saves_total",
			Help:      "Total instance archive writes, by result.",
		},
		[]string{"result"},
	)
	streamReconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total event stream reconnect attempts.",
		},
	)
	streamConnected := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vexdash",
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the event stream is connected.",
		},
	)
	upstreamUp := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vexdash",
			Subsystem: "upstream",
			Name:      "up",
			Help:      "1 when the last game server health check passed.",
		},
	)
	prefabFetchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vexdash",
			Subsystem: "upstream",
			Name:      "prefab_fetches_total",
			Help:      "Total prefab metadata lookups, by result.",
		},
		[]string{"result"},
	)
	replayActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vexdash",
			Subsystem: "replay",
			Name:      "active",
			Help:      "1 while a replay drives the world state.",
		},
	)

	registry.MustRegister(
		eventsIngestedTotal,
		eventsDroppedTotal,
		bufferEvents,
		reduceTotal,
		reduceDurationSeconds,
		archiveSavesTotal,
		streamReconnectsTotal,
		streamConnected,
		upstreamUp,
		prefabFetchesTotal,
		replayActive,
	)

	return &Metrics{
		registry:              registry,
		eventsIngestedTotal:   eventsIngestedTotal,
		eventsDroppedTotal:    eventsDroppedTotal,
		bufferEvents:          bufferEvents,
		reduceTotal:           reduceTotal,
		reduceDurationSeconds: reduceDurationSeconds,
		archiveSavesTotal:     archiveSavesTotal,
		streamReconnectsTotal: streamReconnectsTotal,
		streamConnected:       streamConnected,
		upstreamUp:            upstreamUp,
		prefabFetchesTotal:    prefabFetchesTotal,
		replayActive:          replayActive,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventIngested counts an accepted event. Types outside the known
// vocabulary share one label value.
func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	if _, ok := knownEventTypes[eventType]; !ok {
		eventType = otherEventType
	}
	m.eventsIngestedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.eventsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBufferEvents(n int) {
	if m == nil {
		return
	}
	m.bufferEvents.Set(float64(n))
}

func (m *Metrics) ObserveReduce(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reduceTotal.WithLabelValues(mode).Inc()
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.reduceDurationSeconds.Observe(seconds)
}

func (m *Metrics) IncArchiveSave(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.archiveSavesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnectsTotal.Inc()
}

func (m *Metrics) SetStreamConnected(connected bool) {
	if m == nil {
		return
	}
	m.streamConnected.Set(boolGauge(connected))
}

func (m *Metrics) SetUpstreamUp(up bool) {
	if m == nil {
		return
	}
	m.upstreamUp.Set(boolGauge(up))
}

func (m *Metrics) IncPrefabFetch(result string) {
	if m == nil {
		return
	}
	m.prefabFetchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetReplayActive(active bool) {
	if m == nil {
		return
	}
	m.replayActive.Set(boolGauge(active))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
