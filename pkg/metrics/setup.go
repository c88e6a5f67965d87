package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus registry, the HTTP server that exposes it
// and the module's own collectors.
type Metrics struct {
	Server      *http.Server
	Registry    *prometheus.Registry
	Collectors  *Collectors
	serviceName string
}

// Collectors holds the instruments the query, cursor and session layers
// report into. It satisfies the Recorder interfaces those packages declare.
type Collectors struct {
	operations     *prometheus.CounterVec
	cursorsOpen    prometheus.Gauge
	sessionsActive prometheus.Gauge
}

// NewMetrics builds a registry with the module's collectors registered on it
// and an HTTP server (not yet started) serving the registry on cfg.Address.
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	wrappedRegistry := prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	own := NewCollectors(namespace)
	own.MustRegister(wrappedRegistry)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: handler,
	}

	return &Metrics{
		Server:      server,
		Registry:    registry,
		Collectors:  own,
		serviceName: cfg.ServiceName,
	}
}

// NewCollectors builds the instrument set without a registry. Callers that
// already run their own metrics endpoint can register it wherever they like.
func NewCollectors(namespace string) *Collectors {
	return &Collectors{
		operations: createCounterVec(namespace, "operations_total",
			"Document operations executed, by operation, collection and outcome.",
			[]string{"operation", "collection", "status"}),
		cursorsOpen: createGauge(namespace, "cursors_open",
			"Cursors currently open against the backing store."),
		sessionsActive: createGauge(namespace, "sessions_active",
			"Sessions currently held open for transaction scopes."),
	}
}

// MustRegister registers every instrument on the given registerer.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.operations, c.cursorsOpen, c.sessionsActive)
}

// Operation counts one executed operation. Status is "ok" or "error".
func (c *Collectors) Operation(operation, collection, status string) {
	c.operations.WithLabelValues(operation, collection, status).Inc()
}

// CursorOpened records a cursor being opened against the store.
func (c *Collectors) CursorOpened() { c.cursorsOpen.Inc() }

// CursorClosed records a cursor being closed. A steadily growing
// cursors_open gauge is the leak signal this module exists to surface.
func (c *Collectors) CursorClosed() { c.cursorsOpen.Dec() }

// SessionStarted records a session being opened for a transaction scope.
func (c *Collectors) SessionStarted() { c.sessionsActive.Inc() }

// SessionEnded records a session ending.
func (c *Collectors) SessionEnded() { c.sessionsActive.Dec() }
