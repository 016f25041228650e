// Package metrics exposes run statistics as Prometheus metrics, written to a
// node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DeusData/pallet-audit/internal/model"
)

const namespace = "pallet_audit"

// Recorder owns a private Prometheus registry for one run.
type Recorder struct {
	registry *prometheus.Registry

	assets      *prometheus.GaugeVec
	risk        *prometheus.GaugeVec
	files       *prometheus.CounterVec
	dropped     prometheus.Counter
	maxScore    prometheus.Gauge
	runDuration *prometheus.HistogramVec
	lastRun     prometheus.Gauge
}

// New creates a Recorder with all metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		assets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets",
			Help:      "Assets in the current inventory by category.",
		}, []string{"category"}),
		risk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets_by_risk",
			Help:      "Assets in the current inventory by risk level.",
		}, []string{"level"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Source files processed by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_dropped_total",
			Help:      "Inventory entries dropped while loading.",
		}),
		maxScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_risk_score",
			Help:      "Highest function risk score of the last analysis.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.assets, r.risk, r.files, r.dropped, r.maxScore, r.runDuration, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAssets sets the category and risk gauges from assets. Every known
// category and level is always reported, zero included.
func (r *Recorder) ObserveAssets(assets []model.Asset) {
	for _, k := range []model.CategoryKind{
		model.KindPublicFunction, model.KindHelper, model.KindStorage,
		model.KindConstant, model.KindEvent, model.KindError,
	} {
		r.assets.WithLabelValues(string(k)).Set(0)
	}
	for lvl := model.Low; lvl <= model.Critical; lvl++ {
		r.risk.WithLabelValues(lvl.String()).Set(0)
	}
	for _, a := range assets {
		r.assets.WithLabelValues(string(a.Category.Kind)).Inc()
		r.risk.WithLabelValues(a.Properties.RiskLevel.String()).Inc()
	}
}

// FileParsed counts one source file by outcome ("ok", "error", "skipped").
func (r *Recorder) FileParsed(outcome string) {
	r.files.WithLabelValues(outcome).Inc()
}

// Dropped counts inventory entries discarded on load.
func (r *Recorder) Dropped(n int) {
	r.dropped.Add(float64(n))
}

// MaxScore records the highest risk score seen.
func (r *Recorder) MaxScore(score uint8) {
	r.maxScore.Set(float64(score))
}

// Stage times a pipeline stage; call the returned func when it ends.
func (r *Recorder) Stage(name string) func() {
	start := time.Now()
	return func() {
		r.runDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// WriteTextfile stamps the run time and writes all metrics to path in the
// text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	r.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
