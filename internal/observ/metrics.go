package observ

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry wraps a private prometheus registry behind a map-labelled API so
// call sites don't carry vector plumbing. Label keys are fixed by the first
// use of a metric name; later calls are canonicalized onto those keys.
type registry struct {
	mu        sync.Mutex
	prom      *prometheus.Registry
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	hists     map[string]*prometheus.HistogramVec
	labelSets map[string][]string
}

var reg = &registry{
	prom:      prometheus.NewRegistry(),
	counters:  map[string]*prometheus.CounterVec{},
	gauges:    map[string]*prometheus.GaugeVec{},
	hists:     map[string]*prometheus.HistogramVec{},
	labelSets: map[string][]string{},
}

func labelNames(lbl map[string]string) []string {
	names := make([]string, 0, len(lbl))
	for k := range lbl {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// canon maps the given labels onto the keys registered for name, dropping
// unknown keys and filling missing ones with "".
func (r *registry) canon(name string, lbl map[string]string) prometheus.Labels {
	keys := r.labelSets[name]
	out := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		out[k] = lbl[k]
	}
	return out
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	vec, ok := reg.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		reg.prom.MustRegister(vec)
		reg.counters[name] = vec
		reg.labelSets[name] = labelNames(labels)
	}
	vec.With(reg.canon(name, labels)).Add(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	vec, ok := reg.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		reg.prom.MustRegister(vec)
		reg.gauges[name] = vec
		reg.labelSets[name] = labelNames(labels)
	}
	vec.With(reg.canon(name, labels)).Set(value)
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	vec, ok := reg.hists[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		reg.prom.MustRegister(vec)
		reg.hists[name] = vec
		reg.labelSets[name] = labelNames(labels)
	}
	vec.With(reg.canon(name, labels)).Observe(value)
}

// Handler serves the metrics registry in prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}

// Health is a minimal liveness handler.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
