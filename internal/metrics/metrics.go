// Package metrics counts fetches, fallbacks and filter outcomes on a private
// prometheus registry that CLIs can dump as a node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "econpanel"

type Recorder struct {
	registry    *prometheus.Registry
	FetchTotal  *prometheus.CounterVec
	Fallbacks   *prometheus.CounterVec
	Countries   *prometheus.GaugeVec
	RunDuration prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Indicator fetch attempts by indicator, source and outcome",
		}, []string{"indicator", "source", "outcome"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Indicators served by a fallback source",
		}, []string{"indicator", "source"}),
		Countries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "countries",
			Help:      "Countries per reliability state in the last run",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
	r.registry.MustRegister(r.FetchTotal, r.Fallbacks, r.Countries, r.RunDuration)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) FetchResult(indicator, source string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.FetchTotal.WithLabelValues(indicator, source, outcome).Inc()
}

func (r *Recorder) Fallback(indicator, source string) {
	r.Fallbacks.WithLabelValues(indicator, source).Inc()
}

func (r *Recorder) CountryStates(retained, excluded int) {
	r.Countries.WithLabelValues("retained").Set(float64(retained))
	r.Countries.WithLabelValues("excluded").Set(float64(excluded))
}

func (r *Recorder) RunFinished(elapsed time.Duration) {
	r.RunDuration.Observe(elapsed.Seconds())
}

// WriteTextfile is a no-op for an empty path.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
