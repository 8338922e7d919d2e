// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairlens/biasguard/internal/alerting"
	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/bridge"
	"github.com/fairlens/biasguard/internal/config"
	"github.com/fairlens/biasguard/internal/metrics"
	"go.uber.org/zap"
)

// Outcome is what callers of Analyze receive. It is always produced: when
// the backend is down the scores come from the local fallback and Degraded
// is set, so consumers can tell the confidence levels apart.
type Outcome struct {
	Scores     []bias.DimensionScore `json:"scores"`
	Confidence float64               `json:"confidence"`
	Degraded   bool                  `json:"degraded"`
	Flagged    []string              `json:"flagged_categories,omitempty"`
}

// Health is the operational summary exposed for monitoring.
type Health struct {
	BackendCircuitState string    `json:"backend_circuit_state"`
	ActiveAlerts        int       `json:"active_alerts"`
	LastWindowEviction  time.Time `json:"last_window_eviction"`
}

// Engine composes the bridge, collector and dispatcher, and owns their
// background task lifecycle.
type Engine struct {
	bridge     *bridge.Bridge
	collector  *metrics.Collector
	dispatcher *alerting.Dispatcher
	fallback   *FallbackScorer

	cfgMu sync.RWMutex
	cfg   *config.Config

	runMu  sync.Mutex
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	logger *zap.Logger
}

// New builds an engine. The configuration is validated up front; an invalid
// one is fatal here rather than at first use.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", bias.ErrConfiguration, err)
	}

	br, err := bridge.New(cfg.Bridge, logger.Named("bridge"))
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(cfg.Metrics,
		metrics.WithCollectorLogger(logger.Named("metrics")))

	dispatcher, err := alerting.NewDispatcher(cfg.Alerting,
		alerting.WithDispatcherLogger(logger.Named("alerting")))
	if err != nil {
		return nil, err
	}

	return &Engine{
		bridge:     br,
		collector:  collector,
		dispatcher: dispatcher,
		fallback:   NewFallbackScorer(),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Analyze scores one text. It never returns an error to the caller: any
// bridge failure falls back to the local heuristic scorer and flags the
// outcome as degraded. Both paths record into the collector and run through
// the dispatcher.
func (e *Engine) Analyze(ctx context.Context, req *bias.AnalysisRequest) *Outcome {
	result, err := e.bridge.Submit(ctx, req)
	degraded := false

	if err != nil {
		degraded = true
		result = e.fallback.Score(req)
		e.logger.Warn("backend analysis failed, using fallback scorer",
			zap.Error(err),
			zap.String("session_id", req.SessionID))
	}

	e.collector.Record(result)
	e.dispatcher.Evaluate(result, e.currentWindows(result))

	return &Outcome{
		Scores:     result.Scores,
		Confidence: result.Confidence,
		Degraded:   degraded,
		Flagged:    result.Flagged,
	}
}

// currentWindows gathers the window each of the result's samples landed in.
func (e *Engine) currentWindows(result *bias.AnalysisResult) []metrics.AggregatedWindow {
	windows := make([]metrics.AggregatedWindow, 0, len(result.Scores))
	for _, s := range result.Scores {
		if w, ok := e.collector.Current(s.Dimension, s.Category, result.AnalyzedAt); ok {
			windows = append(windows, w)
		}
	}
	return windows
}

// Snapshot exposes the collector's windows for dashboard consumers.
func (e *Engine) Snapshot(since time.Time) []metrics.AggregatedWindow {
	return e.collector.Snapshot(since)
}

// ActiveAlerts exposes the dispatcher's active alert snapshots.
func (e *Engine) ActiveAlerts() []alerting.Snapshot {
	return e.dispatcher.Active()
}

// Acknowledge records an operator acknowledgment on an active alert.
func (e *Engine) Acknowledge(id, by string) error {
	return e.dispatcher.Acknowledge(id, by)
}

// Health reports backend circuit state, active alert count and the last
// eviction sweep time.
func (e *Engine) Health() Health {
	return Health{
		BackendCircuitState: e.bridge.State().String(),
		ActiveAlerts:        e.dispatcher.ActiveCount(),
		LastWindowEviction:  e.collector.LastEviction(),
	}
}

// Start launches the three background loops: backend health checks, window
// eviction, and the alert escalation sweep. Calling Start twice is an error.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return errors.New("engine: already started")
	}

	e.cfgMu.RLock()
	evictionInterval := e.cfg.Metrics.EvictionInterval
	sweepInterval := e.cfg.Alerting.SweepInterval
	e.cfgMu.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.tasks.Add(3)
	go func() {
		defer e.tasks.Done()
		e.bridge.RunHealthChecks(ctx)
	}()
	go func() {
		defer e.tasks.Done()
		e.collector.RunEviction(ctx, evictionInterval)
	}()
	go func() {
		defer e.tasks.Done()
		e.dispatcher.RunSweeps(ctx, sweepInterval)
	}()

	e.logger.Info("engine started")
	return nil
}

// Stop cancels the background loops and waits, bounded by the drain
// timeout, for in-flight alert deliveries. It never blocks indefinitely.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	e.tasks.Wait()

	e.cfgMu.RLock()
	drain := e.cfg.DrainTimeout
	e.cfgMu.RUnlock()

	if !e.dispatcher.Drain(drain) {
		e.logger.Warn("stopped with undelivered alerts", zap.Duration("drain", drain))
	}
	e.logger.Info("engine stopped")
}

// Reconfigure validates the new configuration and swaps the threshold and
// channel tables atomically. On error the prior configuration stays active
// and in-flight Analyze calls are unaffected. Bridge and window timing
// changes require a restart and are deliberately not applied here.
func (e *Engine) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", bias.ErrConfiguration, err)
	}
	if err := e.dispatcher.SetPolicy(cfg.Alerting); err != nil {
		return err
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.logger.Info("engine reconfigured")
	return nil
}
