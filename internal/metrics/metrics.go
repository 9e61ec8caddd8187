package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	MessagesTotal = "maxwell_messages_total"
	EventsTotal   = "maxwell_events_total"
)

// Message results.
const (
	ResultTranslated = "translated"
	ResultFiltered   = "filtered"
	ResultIgnored    = "ignored"
	ResultFailed     = "failed"
)

// Metrics holds the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	messages *prometheus.CounterVec
	events   *prometheus.CounterVec
}

// New creates the counters on their own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MessagesTotal,
			Help: "Number of Maxwell messages consumed, by outcome",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: EventsTotal,
			Help: "Number of change events published, by change kind",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.messages, m.events)
	return m
}

// Message counts one consumed message with the given result
func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

// Event counts one published change event
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler at path on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}()

	logger.Infof("Serving metrics on %s%s", addr, path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
