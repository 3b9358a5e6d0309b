// Package prometheus records core metrics on client_golang collectors.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-salla/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "salla"

// Recorder registers one CounterVec or HistogramVec per metric name on first
// use. The label set is fixed by that first call: later calls fill missing
// labels with "" and drop unknown ones.
type Recorder struct {
	namespace  string
	registerer prom.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
	errHandler func(error)
}

type counterEntry struct {
	vec    *prom.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prom.HistogramVec
	labels []string
}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithErrorHandler receives registration failures, which are otherwise
// dropped so metrics never fail a request.
func WithErrorHandler(handler func(error)) Option {
	return func(r *Recorder) {
		r.errHandler = handler
	}
}

func NewRecorder(registerer prom.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prom.DefaultRegisterer
	}
	r := &Recorder{
		namespace:  DefaultNamespace,
		registerer: registerer,
		buckets:    []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	entry, err := r.counter(name, tags)
	if err != nil {
		r.handle(err)
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	entry, err := r.histogram(name, tags)
	if err != nil {
		r.handle(err)
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func (r *Recorder) counter(name string, tags map[string]string) (*counterEntry, error) {
	metric := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.counters[metric]; ok {
		return entry, nil
	}
	labels := labelNames(tags)
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: metric,
		Help: fmt.Sprintf("Counter for %s.", strings.TrimSpace(name)),
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prom.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("prometheus: register counter %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prom.CounterVec)
		if !ok {
			return nil, fmt.Errorf("prometheus: %s already registered with another type", metric)
		}
		vec = existing
	}
	entry := &counterEntry{vec: vec, labels: labels}
	r.counters[metric] = entry
	return entry, nil
}

func (r *Recorder) histogram(name string, tags map[string]string) (*histogramEntry, error) {
	metric := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.histograms[metric]; ok {
		return entry, nil
	}
	labels := labelNames(tags)
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metric,
		Help:    fmt.Sprintf("Histogram for %s.", strings.TrimSpace(name)),
		Buckets: r.buckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prom.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("prometheus: register histogram %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prom.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("prometheus: %s already registered with another type", metric)
		}
		vec = existing
	}
	entry := &histogramEntry{vec: vec, labels: labels}
	r.histograms[metric] = entry
	return entry, nil
}

// metricName maps "salla.execute.total" to "salla_execute_total" and prefixes
// the namespace when the name does not already carry it.
func (r *Recorder) metricName(name string) string {
	metric := sanitizeName(name)
	if r.namespace == "" || metric == r.namespace || strings.HasPrefix(metric, r.namespace+"_") {
		return metric
	}
	return r.namespace + "_" + metric
}

func (r *Recorder) handle(err error) {
	if r.errHandler != nil && err != nil {
		r.errHandler(err)
	}
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if sanitized := sanitizeName(key); sanitized != "" {
			names = append(names, sanitized)
		}
	}
	sort.Strings(names)
	return dedupe(names)
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, value := range sorted {
		if i > 0 && value == sorted[i-1] {
			continue
		}
		out = append(out, value)
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
