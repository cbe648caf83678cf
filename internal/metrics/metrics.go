// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Drop reasons for FramesDropped.
const (
	DropPoolExhausted = "pool_exhausted"
	DropConvert       = "convert"
)

// Capture error kinds for CaptureErrors.
const (
	ErrKindTimeout      = "timeout"
	ErrKindDisconnected = "disconnected"
	ErrKindOther        = "other"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Capture side
	FramesCaptured  prometheus.Counter
	FramesDelivered prometheus.Counter
	FramesReplaced  prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	CaptureErrors   *prometheus.CounterVec
	ConvertDuration prometheus.Histogram
	PoolInUse       prometheus.Gauge
	CaptureFPS      prometheus.Gauge
	PipelineState   prometheus.Gauge
	Restarts        prometheus.Counter

	// Render side
	FramesPresented prometheus.Counter
	PresentErrors   prometheus.Counter

	registry *prometheus.Registry
}

// New registers the collectors on reg. A nil reg gets a fresh registry
// with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_frames_captured_total",
			Help: "Frames read from the source",
		}),
		FramesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_frames_delivered_total",
			Help: "Converted frames handed to the delivery channel",
		}),
		FramesReplaced: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_frames_replaced_total",
			Help: "Undelivered frames replaced by a newer one",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_viewer_frames_dropped_total",
			Help: "Captured frames dropped before delivery",
		}, []string{"reason"}),
		CaptureErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_viewer_capture_errors_total",
			Help: "Failed source reads by kind",
		}, []string{"kind"}),
		ConvertDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "camera_viewer_convert_duration_seconds",
			Help:    "Time to convert one frame",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		}),
		PoolInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "camera_viewer_pool_in_use",
			Help: "Buffer pool slots checked out",
		}),
		CaptureFPS: f.NewGauge(prometheus.GaugeOpts{
			Name: "camera_viewer_capture_fps_target",
			Help: "Current capture rate limit",
		}),
		PipelineState: f.NewGauge(prometheus.GaugeOpts{
			Name: "camera_viewer_pipeline_state",
			Help: "0 stopped, 1 starting, 2 running, 3 stopping",
		}),
		Restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_restarts_total",
			Help: "Pipeline restarts by the supervisor",
		}),
		FramesPresented: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_frames_presented_total",
			Help: "Frames painted by the renderer",
		}),
		PresentErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "camera_viewer_present_errors_total",
			Help: "Frames the renderer could not display",
		}),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncCaptured() {
	if m != nil {
		m.FramesCaptured.Inc()
	}
}

// IncDelivered counts a sent frame and, when it displaced an older one,
// the replacement.
func (m *Metrics) IncDelivered(replaced bool) {
	if m == nil {
		return
	}
	m.FramesDelivered.Inc()
	if replaced {
		m.FramesReplaced.Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncCaptureError(kind string) {
	if m != nil {
		m.CaptureErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveConvert(d time.Duration) {
	if m != nil {
		m.ConvertDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetPoolInUse(n int) {
	if m != nil {
		m.PoolInUse.Set(float64(n))
	}
}

func (m *Metrics) SetCaptureFPS(fps int) {
	if m != nil {
		m.CaptureFPS.Set(float64(fps))
	}
}

func (m *Metrics) SetState(state int) {
	if m != nil {
		m.PipelineState.Set(float64(state))
	}
}

func (m *Metrics) IncRestarts() {
	if m != nil {
		m.Restarts.Inc()
	}
}

// ObservePresent counts one Present call by outcome.
func (m *Metrics) ObservePresent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PresentErrors.Inc()
		return
	}
	m.FramesPresented.Inc()
}

// Serve runs the /metrics exporter on addr until ctx ends.
func Serve(ctx context.Context, addr string, m *Metrics, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveOn(ctx, ln, m, logger)
}

func serveOn(ctx context.Context, ln net.Listener, m *Metrics, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics exporter listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
