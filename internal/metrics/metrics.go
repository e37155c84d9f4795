package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/idanyas/speedtui/internal/data"
)

const namespace = "speedtui"

// Recorder exports the latest measurements as Prometheus gauges.
type Recorder struct {
	registry   *prometheus.Registry
	latency    *prometheus.GaugeVec
	samples    prometheus.Gauge
	throughput *prometheus.GaugeVec
	transfer   *prometheus.GaugeVec
	zero       *prometheus.CounterVec
	runs       prometheus.Counter
	lastRun    prometheus.Gauge
	log        logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_milliseconds",
			Help:      "Latest round-trip latency statistics.",
		}, []string{"stat"}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_samples",
			Help:      "Successful latency samples in the latest ping phase.",
		}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_bits_per_second",
			Help:      "Latest transfer rate.",
		}, []string{"direction"}),
		transfer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of the latest transfer.",
		}, []string{"direction"}),
		zero: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zero_results_total",
			Help:      "Phases that reported no signal.",
		}, []string{"kind"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the latest run finished.",
		}),
		log: log.WithField("component", "metrics"),
	}

	r.registry.MustRegister(r.latency, r.samples, r.throughput, r.transfer, r.zero, r.runs, r.lastRun)
	return r
}

func (r *Recorder) Observe(runID string, kind data.Kind, m data.Measurement) {
	switch v := m.(type) {
	case data.Latency:
		r.latency.WithLabelValues("min").Set(v.Min)
		r.latency.WithLabelValues("max").Set(v.Max)
		r.latency.WithLabelValues("avg").Set(v.Avg)
		r.samples.Set(float64(v.Samples))
		if v.Samples == 0 {
			r.zero.WithLabelValues(kind.String()).Inc()
		}
	case data.Throughput:
		r.throughput.WithLabelValues(kind.String()).Set(v.BitsPerSecond)
		r.transfer.WithLabelValues(kind.String()).Set(v.Duration.Seconds())
		if v.Bits == 0 {
			r.zero.WithLabelValues(kind.String()).Inc()
		}
	}
}

func (r *Recorder) RunFinished(runID string, results data.LatestResults) {
	r.runs.Inc()
	r.lastRun.Set(float64(time.Now().Unix()))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	r.log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
