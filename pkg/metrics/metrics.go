package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultNamespace = "launcher"

	shutdownTimeout = 5 * time.Second
)

// Collector records launcher activity on a private registry
type Collector struct {
	healthChecks     *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	portConflicts    *prometheus.CounterVec
	envDrift         *prometheus.CounterVec
	backendHealthy   prometheus.Gauge

	registry *prometheus.Registry
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Total number of backend liveness checks",
		},
		[]string{"result"},
	)

	c.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_state_transitions_total",
			Help:      "Total number of child process state transitions",
		},
		[]string{"process", "from_state", "to_state"},
	)

	c.portConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_conflicts_total",
			Help:      "Port resolutions by role and chosen strategy",
		},
		[]string{"role", "resolution"},
	)

	c.envDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "env_drift_total",
			Help:      "Times an env file value changed after it was written",
		},
		[]string{"key"},
	)

	c.backendHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 if the last backend liveness check passed",
		},
	)

	c.registry.MustRegister(
		c.healthChecks,
		c.stateTransitions,
		c.portConflicts,
		c.envDrift,
		c.backendHealthy,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) HealthSnapshot(snapshot domain.HealthSnapshot) {
	if snapshot.BackendHealthy {
		c.healthChecks.WithLabelValues("healthy").Inc()
		c.backendHealthy.Set(1)
		return
	}
	c.healthChecks.WithLabelValues("unhealthy").Inc()
	c.backendHealthy.Set(0)
}

func (c *Collector) ProcessStateTransition(process, from, to string) {
	c.stateTransitions.WithLabelValues(process, from, to).Inc()
}

func (c *Collector) PortResolution(role domain.Role, resolution string) {
	c.portConflicts.WithLabelValues(string(role), resolution).Inc()
}

func (c *Collector) EnvDrift(key string) {
	c.envDrift.WithLabelValues(key).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
// The listener is bound before Serve returns so address errors surface immediately.
func (c *Collector) Serve(ctx context.Context, addr string, logger logging.Logger) (<-chan struct{}, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewIOError("failed to listen for metrics", err).WithContext("address", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Infof("Metrics available at http://%s/metrics", listener.Addr())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Metrics server shutdown: %v", err)
		}
	}()

	return done, nil
}
