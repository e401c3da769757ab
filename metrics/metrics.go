// Package metrics exposes Prometheus instrumentation for capture sessions,
// uploads, commands and speech.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"antik/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	Uploads        *prometheus.CounterVec
	UploadBytes    prometheus.Histogram
	UploadDuration prometheus.Histogram

	Commands       *prometheus.CounterVec
	ProgressEvents *prometheus.CounterVec

	CaptureSessions *prometheus.CounterVec
	Utterances      prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antik_uploads_total",
			Help: "Voice uploads by result",
		}, []string{"result"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "antik_upload_bytes",
			Help:    "Size of each cumulative voice upload",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "antik_upload_duration_seconds",
			Help:    "Round trip of each voice upload",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antik_commands_total",
			Help: "Submitted commands by outcome",
		}, []string{"outcome"}),
		ProgressEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antik_progress_events_total",
			Help: "Progress events received by state",
		}, []string{"state"}),
		CaptureSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antik_capture_sessions_total",
			Help: "Capture sessions by outcome",
		}, []string{"outcome"}),
		Utterances: f.NewCounter(prometheus.CounterOpts{
			Name: "antik_speech_utterances_total",
			Help: "Replies handed to the speech engine",
		}),
	}
}

func (m *Metrics) RecordUpload(ok bool, bytes int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Uploads.WithLabelValues(result).Inc()
	m.UploadBytes.Observe(float64(bytes))
	m.UploadDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCommand(outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProgress(state string) {
	if m == nil {
		return
	}
	m.ProgressEvents.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordCapture(outcome string) {
	if m == nil {
		return
	}
	m.CaptureSessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUtterance() {
	if m == nil {
		return
	}
	m.Utterances.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. The listener is bound
// before Serve returns so bind errors surface immediately.
func (m *Metrics) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics listener: %v", err)
		}
	}()
	return ln.Addr(), nil
}
