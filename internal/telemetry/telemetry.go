package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	registry *prometheus.Registry

	samples        prometheus.Counter
	sampleFailures *prometheus.CounterVec
	triggers       prometheus.Counter
	triggerFails   *prometheus.CounterVec
	reports        prometheus.Counter
	publishFails   prometheus.Counter
	latest         prometheus.Gauge
	mean           prometheus.Gauge
	historyLen     prometheus.Gauge
	alert          prometheus.Gauge
	handlerSeconds *prometheus.HistogramVec
}

type noopCollector struct{}

// NewService builds a Collector on its own registry.
func NewService(cfg Config) (Collector, error) {
	errFactory := apperrors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	s := &service{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "samples_total",
			Help: "Readings folded into the rolling history.",
		}),
		sampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "sample_failures_total",
			Help: "Periodic samples skipped, by error code.",
		}, []string{"code"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "triggered_reads_total",
			Help: "Button-triggered reads that completed.",
		}),
		triggerFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "triggered_read_failures_total",
			Help: "Button-triggered reads that failed or timed out, by error code.",
		}, []string{"code"}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reports_total",
			Help: "Summaries handed to the publisher.",
		}),
		publishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "publish_failures_total",
			Help: "Summaries the publisher rejected.",
		}),
		latest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "temperature_celsius",
			Help: "Latest calibrated reading.",
		}),
		mean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "temperature_mean_celsius",
			Help: "Mean over the rolling history at the last report.",
		}),
		historyLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "history_readings",
			Help: "Populated history slots at the last report.",
		}),
		alert: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "alert",
			Help: "1 while the mean is above the alert threshold.",
		}),
		handlerSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "handler_duration_seconds",
			Help:    "Deferred handler run time, by kind.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		s.samples, s.sampleFailures, s.triggers, s.triggerFails, s.reports,
		s.publishFails, s.latest, s.mean, s.historyLen, s.alert, s.handlerSeconds,
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, errFactory.Wrap(ErrRegister, err)
		}
	}

	return s, nil
}

// Nop returns a Collector that records nothing.
func Nop() Collector {
	return noopCollector{}
}

func (s *service) SampleRecorded(celsius float64) {
	s.samples.Inc()
	s.latest.Set(celsius)
}

func (s *service) SampleFailed(code string) {
	s.sampleFailures.WithLabelValues(code).Inc()
}

func (s *service) TriggerCompleted() {
	s.triggers.Inc()
}

func (s *service) TriggerFailed(code string) {
	s.triggerFails.WithLabelValues(code).Inc()
}

func (s *service) ReportPublished(mean float64, count int, alert bool) {
	s.reports.Inc()
	s.mean.Set(mean)
	s.historyLen.Set(float64(count))
	if alert {
		s.alert.Set(1)
	} else {
		s.alert.Set(0)
	}
}

func (s *service) PublishFailed() {
	s.publishFails.Inc()
}

func (s *service) HandlerRan(kind string, took time.Duration) {
	s.handlerSeconds.WithLabelValues(kind).Observe(took.Seconds())
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (noopCollector) SampleRecorded(float64)             {}
func (noopCollector) SampleFailed(string)                {}
func (noopCollector) TriggerCompleted()                  {}
func (noopCollector) TriggerFailed(string)               {}
func (noopCollector) ReportPublished(float64, int, bool) {}
func (noopCollector) PublishFailed()                     {}
func (noopCollector) HandlerRan(string, time.Duration)   {}

func (noopCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// Serve exposes c at /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, c Collector, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Telemetry endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return apperrors.New().Wrap(ErrServe, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
