// internal/metrics/collector.go
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
	"go.uber.org/zap"
)

// AggregatedWindow is a read-only copy of one tumbling bucket, keyed by
// (dimension, category). TrendDelta is the mean minus the prior window's
// mean, zero when there is no prior window.
type AggregatedWindow struct {
	Dimension  string    `json:"dimension"`
	Category   string    `json:"category"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Count      int64     `json:"count"`
	Mean       float64   `json:"mean"`
	Max        float64   `json:"max"`
	TrendDelta float64   `json:"trend_delta"`
}

type windowKey struct {
	dimension string
	category  string
	start     time.Time
}

// window holds the streaming aggregate for one bucket. Its mutex makes the
// (count, sum, max) triple atomic with respect to readers, so a snapshot
// never sees a torn window.
type window struct {
	mu    sync.Mutex
	count int64
	sum   float64
	max   float64
}

func (w *window) fold(score float64) {
	w.mu.Lock()
	w.count++
	w.sum += score
	if score > w.max {
		w.max = score
	}
	w.mu.Unlock()
}

func (w *window) aggregate() (count int64, mean, max float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0, 0, 0
	}
	return w.count, w.sum / float64(w.count), w.max
}

// Collector ingests analysis outcomes and maintains tumbling windows per
// (dimension, category). Record is cheap and safe under heavy concurrency:
// the map is guarded by a read-write lock and each window by its own mutex,
// so unrelated dimensions never serialize.
type Collector struct {
	mu      sync.RWMutex
	windows map[windowKey]*window

	windowDuration time.Duration
	retention      int

	evictMu      sync.Mutex
	lastEviction time.Time

	logger *zap.Logger
	now    func() time.Time
}

// CollectorOption configures the collector.
type CollectorOption func(*Collector)

// WithCollectorLogger adds logging.
func WithCollectorLogger(logger *zap.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// WithCollectorClock overrides the time source, used by tests.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector.
func NewCollector(cfg config.MetricsConfig, opts ...CollectorOption) *Collector {
	c := &Collector{
		windows:        make(map[windowKey]*window),
		windowDuration: cfg.WindowDuration,
		retention:      cfg.RetentionWindows,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record folds one result into the windows containing its samples. It never
// blocks the caller beyond brief mutex holds and never returns an error;
// samples are commutative, so arrival order does not matter.
func (c *Collector) Record(result *bias.AnalysisResult) {
	for _, sample := range bias.SamplesFrom(result) {
		c.fold(sample)
		samplesTotal.WithLabelValues(sample.Dimension, result.Source).Inc()
	}
}

func (c *Collector) fold(sample bias.MetricSample) {
	key := windowKey{
		dimension: sample.Dimension,
		category:  sample.Category,
		start:     sample.Timestamp.Truncate(c.windowDuration),
	}

	c.mu.RLock()
	w, ok := c.windows[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if w, ok = c.windows[key]; !ok {
			w = &window{}
			c.windows[key] = w
			activeWindows.Set(float64(len(c.windows)))
		}
		c.mu.Unlock()
	}

	w.fold(sample.Score)
}

// Snapshot returns consistent copies of all windows starting at or after
// since. A zero since returns everything still retained. Evicted windows are
// never returned.
func (c *Collector) Snapshot(since time.Time) []AggregatedWindow {
	c.mu.RLock()
	keys := make([]windowKey, 0, len(c.windows))
	for key := range c.windows {
		if !since.IsZero() && key.start.Before(since) {
			continue
		}
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	result := make([]AggregatedWindow, 0, len(keys))
	for _, key := range keys {
		if agg, ok := c.windowAt(key); ok {
			result = append(result, agg)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		if result[i].Dimension != result[j].Dimension {
			return result[i].Dimension < result[j].Dimension
		}
		return result[i].Category < result[j].Category
	})
	return result
}

// Current returns the window containing t for one (dimension, category)
// pair, if any samples have landed in it.
func (c *Collector) Current(dimension, category string, t time.Time) (AggregatedWindow, bool) {
	key := windowKey{
		dimension: dimension,
		category:  category,
		start:     t.Truncate(c.windowDuration),
	}
	return c.windowAt(key)
}

func (c *Collector) windowAt(key windowKey) (AggregatedWindow, bool) {
	c.mu.RLock()
	w, ok := c.windows[key]
	prior := c.windows[windowKey{key.dimension, key.category, key.start.Add(-c.windowDuration)}]
	c.mu.RUnlock()

	if !ok {
		return AggregatedWindow{}, false
	}

	count, mean, max := w.aggregate()
	agg := AggregatedWindow{
		Dimension: key.dimension,
		Category:  key.category,
		Start:     key.start,
		End:       key.start.Add(c.windowDuration),
		Count:     count,
		Mean:      mean,
		Max:       max,
	}
	if prior != nil {
		if priorCount, priorMean, _ := prior.aggregate(); priorCount > 0 {
			agg.TrendDelta = mean - priorMean
		}
	}
	return agg, true
}

// Evict drops windows older than the retention horizon and returns how many
// were removed.
func (c *Collector) Evict() int {
	horizon := c.now().Truncate(c.windowDuration).
		Add(-time.Duration(c.retention) * c.windowDuration)

	c.mu.Lock()
	evicted := 0
	for key := range c.windows {
		if key.start.Before(horizon) {
			delete(c.windows, key)
			evicted++
		}
	}
	activeWindows.Set(float64(len(c.windows)))
	c.mu.Unlock()

	c.evictMu.Lock()
	c.lastEviction = c.now()
	c.evictMu.Unlock()

	if evicted > 0 {
		evictedTotal.Add(float64(evicted))
		c.logger.Debug("evicted expired windows", zap.Int("count", evicted))
	}
	return evicted
}

// LastEviction returns when the eviction sweep last ran.
func (c *Collector) LastEviction() time.Time {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	return c.lastEviction
}

// RunEviction sweeps on the given interval until the context is cancelled.
func (c *Collector) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evict()
		}
	}
}
