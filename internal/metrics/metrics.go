// Package metrics keeps in-process counters, gauges and timers that the
// /metrics endpoint serves as JSON.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
	KindTimer   Kind = "timer"
)

// sampleWindow bounds the samples kept per timer for percentiles.
const sampleWindow = 512

// Metric is a point-in-time copy of a counter or gauge.
type Metric struct {
	Name        string            `json:"name"`
	Kind        Kind              `json:"kind"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerStats summarizes the durations recorded for one timer series.
type TimerStats struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Count       int64             `json:"count"`
	SumMs       float64           `json:"sum_ms"`
	MinMs       float64           `json:"min_ms"`
	MaxMs       float64           `json:"max_ms"`
	AvgMs       float64           `json:"avg_ms"`
	P95Ms       float64           `json:"p95_ms,omitempty"`
	P99Ms       float64           `json:"p99_ms,omitempty"`
}

// Snapshot is a consistent copy of a registry.
type Snapshot struct {
	Counters  map[string]Metric     `json:"counters"`
	Gauges    map[string]Metric     `json:"gauges"`
	Timers    map[string]TimerStats `json:"timers"`
	UptimeMs  int64                 `json:"uptime_ms"`
	Timestamp int64                 `json:"timestamp"`
}

// Counter returns the summed value of every counter series named name
// whose labels include all of match.
func (s Snapshot) Counter(name string, match map[string]string) float64 {
	var total float64
	for _, m := range s.Counters {
		if m.Name == name && labelsMatch(m.Labels, match) {
			total += m.Value
		}
	}
	return total
}

// HasTimer reports whether any series of the named timer was recorded.
func (s Snapshot) HasTimer(name string) bool {
	for _, t := range s.Timers {
		if t.Name == name && t.Count > 0 {
			return true
		}
	}
	return false
}

func labelsMatch(labels, match map[string]string) bool {
	for k, v := range match {
		if labels[k] != v {
			return false
		}
	}
	return true
}

type timerSeries struct {
	stats   TimerStats
	samples []float64
	next    int
}

func (t *timerSeries) observe(ms float64) {
	s := &t.stats
	if s.Count == 0 || ms < s.MinMs {
		s.MinMs = ms
	}
	if ms > s.MaxMs {
		s.MaxMs = ms
	}
	s.Count++
	s.SumMs += ms
	s.AvgMs = s.SumMs / float64(s.Count)

	if len(t.samples) < sampleWindow {
		t.samples = append(t.samples, ms)
	} else {
		t.samples[t.next] = ms
		t.next = (t.next + 1) % sampleWindow
	}
}

func (t *timerSeries) snapshot() TimerStats {
	out := t.stats
	out.Labels = copyLabels(t.stats.Labels)
	if len(t.samples) >= 10 {
		sorted := append([]float64(nil), t.samples...)
		sort.Float64s(sorted)
		out.P95Ms = percentile(sorted, 0.95)
		out.P99Ms = percentile(sorted, 0.99)
	}
	return out
}

func percentile(sorted []float64, p float64) float64 {
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Metric
	gauges   map[string]*Metric
	timers   map[string]*timerSeries
	started  time.Time
	now      func() time.Time
}

func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.counters = make(map[string]*Metric)
	r.gauges = make(map[string]*Metric)
	r.timers = make(map[string]*timerSeries)
	r.started = r.now()
}

// Reset drops every series and restarts the uptime clock.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func (r *Registry) Add(name string, delta float64, labels map[string]string, description string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.counters[key]
	if !ok {
		m = &Metric{Name: name, Kind: KindCounter, Labels: copyLabels(labels), Description: description}
		r.counters[key] = m
	}
	m.Value += delta
	m.LastUpdate = r.now()
}

func (r *Registry) Set(name string, value float64, labels map[string]string, description string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[key] = &Metric{
		Name:        name,
		Kind:        KindGauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  r.now(),
	}
}

func (r *Registry) Observe(name string, d time.Duration, labels map[string]string, description string) {
	key := seriesKey(name, labels)
	ms := float64(d) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[key]
	if !ok {
		t = &timerSeries{stats: TimerStats{Name: name, Labels: copyLabels(labels), Description: description}}
		r.timers[key] = t
	}
	t.observe(ms)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := Snapshot{
		Counters:  make(map[string]Metric, len(r.counters)),
		Gauges:    make(map[string]Metric, len(r.gauges)),
		Timers:    make(map[string]TimerStats, len(r.timers)),
		UptimeMs:  now.Sub(r.started).Milliseconds(),
		Timestamp: now.Unix(),
	}
	for k, m := range r.counters {
		c := *m
		c.Labels = copyLabels(m.Labels)
		s.Counters[k] = c
	}
	for k, m := range r.gauges {
		g := *m
		g.Labels = copyLabels(m.Labels)
		s.Gauges[k] = g
	}
	for k, t := range r.timers {
		s.Timers[k] = t.snapshot()
	}
	return s
}

// seriesKey renders name{k=v,...} with label keys sorted.
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

var global = NewRegistry()

func Default() *Registry { return global }

func IncrementCounter(name string, labels map[string]string, description string) {
	global.Add(name, 1, labels, description)
}

func AddToCounter(name string, delta float64, labels map[string]string, description string) {
	global.Add(name, delta, labels, description)
}

func SetGauge(name string, value float64, labels map[string]string, description string) {
	global.Set(name, value, labels, description)
}

func RecordTimer(name string, d time.Duration, labels map[string]string, description string) {
	global.Observe(name, d, labels, description)
}

func GetSnapshot() Snapshot { return global.Snapshot() }
