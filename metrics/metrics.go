// Package metrics records simulator activity as Prometheus metrics.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modalitysim"

// Recorder holds the simulator's collectors.
type Recorder struct {
	registry *prometheus.Registry

	worklistQueries *prometheus.CounterVec
	worklistItems   prometheus.Counter
	transmissions   *prometheus.CounterVec
	storeStatuses   *prometheus.CounterVec
	transmitSeconds prometheus.Histogram
	archiveStored   prometheus.Counter
}

// New creates a Recorder on its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		worklistQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worklist_queries_total",
			Help:      "Worklist queries by outcome.",
		}, []string{"outcome"}),
		worklistItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worklist_items_total",
			Help:      "Worklist items received.",
		}),
		transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_total",
			Help:      "Simulated transmissions by outcome.",
		}, []string{"outcome"}),
		storeStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_status_total",
			Help:      "C-STORE response statuses.",
		}, []string{"status"}),
		transmitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transmission_duration_seconds",
			Help:      "Time from association request to store response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		archiveStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_instances_stored_total",
			Help:      "Instances accepted by the mock archive.",
		}),
	}
	r.registry.MustRegister(
		r.worklistQueries,
		r.worklistItems,
		r.transmissions,
		r.storeStatuses,
		r.transmitSeconds,
		r.archiveStored,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) WorklistQuery(outcome string, items int) {
	if r == nil {
		return
	}
	r.worklistQueries.WithLabelValues(outcome).Inc()
	r.worklistItems.Add(float64(items))
}

func (r *Recorder) Transmission(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.transmissions.WithLabelValues(outcome).Inc()
	r.transmitSeconds.Observe(elapsed.Seconds())
}

func (r *Recorder) StoreStatus(status uint16) {
	if r == nil {
		return
	}
	r.storeStatuses.WithLabelValues(fmt.Sprintf("0x%04X", status)).Inc()
}

func (r *Recorder) ArchiveStored() {
	if r == nil {
		return
	}
	r.archiveStored.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
