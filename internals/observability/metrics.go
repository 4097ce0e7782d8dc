package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records sampling-loop activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	InferenceRequests *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	TokensUsed        *prometheus.CounterVec
	ToolExecutions    *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	ImagesPruned      prometheus.Counter
	Turns             prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		InferenceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskdroid_inference_requests_total",
			Help: "Inference requests by model and outcome",
		}, []string{"model", "status"}),
		InferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskdroid_inference_duration_seconds",
			Help:    "Inference request latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"model"}),
		TokensUsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskdroid_tokens_total",
			Help: "Tokens consumed by direction",
		}, []string{"model", "direction"}),
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskdroid_tool_executions_total",
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskdroid_tool_duration_seconds",
			Help:    "Tool execution latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ImagesPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "deskdroid_images_pruned_total",
			Help: "Tool-result images dropped by the retention policy",
		}),
		Turns: f.NewCounter(prometheus.CounterOpts{
			Name: "deskdroid_turns_total",
			Help: "Model turns completed",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordInference(model, status string, d time.Duration, in, out int64) {
	if m == nil {
		return
	}
	m.InferenceRequests.WithLabelValues(model, status).Inc()
	m.InferenceDuration.WithLabelValues(model).Observe(d.Seconds())
	if in > 0 {
		m.TokensUsed.WithLabelValues(model, "input").Add(float64(in))
	}
	if out > 0 {
		m.TokensUsed.WithLabelValues(model, "output").Add(float64(out))
	}
}

func (m *Metrics) RecordTool(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) RecordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesPruned.Add(float64(n))
}

func (m *Metrics) RecordTurn() {
	if m == nil {
		return
	}
	m.Turns.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
