// Package metrics holds the Prometheus metrics of one intersect run.
//
// Each run gets its own registry so tests and repeated invocations never
// collide on registration. The registry can be exported in the node-exporter
// textfile format with WriteFile. All methods are safe on a nil *Run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mersect-core/intersect"
)

const namespace = "mersect"

// Run groups the metrics of a single run.
type Run struct {
	Registry *prometheus.Registry

	MersAdded    prometheus.Counter
	Bases        prometheus.Counter
	Passes       prometheus.Counter
	Emitted      *prometheus.CounterVec
	Distinct     prometheus.Gauge
	LoadFactor   prometheus.Gauge
	Reprobes     prometheus.Gauge
	PhaseSeconds *prometheus.GaugeVec
}

func New() *Run {
	r := &Run{
		Registry: prometheus.NewRegistry(),
		MersAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "array", Name: "mers_added_total",
			Help: "K-mer occurrences inserted into the array.",
		}),
		Bases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "parser", Name: "bases_total",
			Help: "Sequence characters read while loading inputs.",
		}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "array", Name: "passes_total",
			Help: "Input files fully loaded into the array.",
		}),
		Emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "records_total",
			Help: "K-mers written, by output kind.",
		}, []string{"output"}),
		Distinct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "array", Name: "distinct_keys",
			Help: "Occupied slots in the array.",
		}),
		LoadFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "array", Name: "load_factor",
			Help: "Occupied slots divided by capacity.",
		}),
		Reprobes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "array", Name: "reprobes",
			Help: "Probe steps beyond the home slot during insertion.",
		}),
		PhaseSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "phase_seconds",
			Help: "Wall time spent in each pipeline phase.",
		}, []string{"phase"}),
	}
	r.Registry.MustRegister(r.MersAdded, r.Bases, r.Passes, r.Emitted,
		r.Distinct, r.LoadFactor, r.Reprobes, r.PhaseSeconds)
	return r
}

// ObserveArray copies a table snapshot into the gauges.
func (r *Run) ObserveArray(st intersect.Stats) {
	if r == nil {
		return
	}
	r.Distinct.Set(float64(st.Distinct))
	r.LoadFactor.Set(st.LoadFactor())
	r.Reprobes.Set(float64(st.Reprobes))
}

func (r *Run) AddMers(n uint64) {
	if r == nil {
		return
	}
	r.MersAdded.Add(float64(n))
}

func (r *Run) AddBases(n int64) {
	if r == nil {
		return
	}
	r.Bases.Add(float64(n))
}

func (r *Run) PassDone() {
	if r == nil {
		return
	}
	r.Passes.Inc()
}

func (r *Run) AddEmitted(output string, n uint64) {
	if r == nil {
		return
	}
	r.Emitted.WithLabelValues(output).Add(float64(n))
}

func (r *Run) Phase(name string, seconds float64) {
	if r == nil {
		return
	}
	r.PhaseSeconds.WithLabelValues(name).Set(seconds)
}

// WriteFile writes the registry in the Prometheus text format.
func (r *Run) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.Registry)
}
