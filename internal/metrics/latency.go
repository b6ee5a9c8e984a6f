package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs to ~2.7h with 3 significant figures.
const (
	minLatency = 1
	maxLatency = 10_000_000_000
	sigFigs    = 3
)

// Summary is a point-in-time view of one named histogram.
type Summary struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs float64 `json:"max_ms"`
}

// Recorder keeps one latency histogram per operation name. It is safe for
// concurrent use.
type Recorder struct {
	mu    sync.Mutex
	hists map[string]*hdrhistogram.Histogram
}

func NewRecorder() *Recorder {
	return &Recorder{hists: make(map[string]*hdrhistogram.Histogram)}
}

// Observe records a single latency sample under name. A nil Recorder is a
// no-op so callers need not guard optional metrics.
func (r *Recorder) Observe(name string, d time.Duration) {
	if r == nil {
		return
	}
	v := d.Microseconds()
	if v < minLatency {
		v = minLatency
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hists[name]
	if !ok {
		h = hdrhistogram.New(minLatency, maxLatency, sigFigs)
		r.hists[name] = h
	}
	// Values above the highest trackable bound are clamped rather than lost.
	if err := h.RecordValue(v); err != nil {
		h.RecordValue(maxLatency)
	}
}

// Since is shorthand for Observe(name, time.Since(start)).
func (r *Recorder) Since(name string, start time.Time) {
	r.Observe(name, time.Since(start))
}

// Snapshot returns summaries for every histogram, sorted by name.
func (r *Recorder) Snapshot() []Summary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.hists))
	for name, h := range r.hists {
		out = append(out, Summary{
			Name:  name,
			Count: h.TotalCount(),
			P50Ms: toMs(h.ValueAtQuantile(50)),
			P95Ms: toMs(h.ValueAtQuantile(95)),
			P99Ms: toMs(h.ValueAtQuantile(99)),
			MaxMs: toMs(h.Max()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toMs(us int64) float64 {
	return float64(us) / 1000
}
