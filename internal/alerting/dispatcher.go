// internal/alerting/dispatcher.go
package alerting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
	"github.com/fairlens/biasguard/internal/metrics"
	"go.uber.org/zap"
)

// policy is the immutable evaluation/dispatch configuration. Reconfigure
// builds a fresh one and swaps the pointer, so in-flight evaluations keep
// the table they started with.
type policy struct {
	rules             *ruleTable
	channels          map[string]Channel
	tierChannels      map[bias.Severity][]Channel
	escalationTimeout time.Duration
	quietPeriod       time.Duration
	deliveryTimeout   time.Duration
	maxTier           bias.Severity
}

func buildPolicy(cfg config.AlertingConfig, logger *zap.Logger) (*policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	channels := buildChannels(cfg.Channels, logger)

	tierChannels := make(map[bias.Severity][]Channel, len(cfg.TierChannels))
	for tier, names := range cfg.TierChannels {
		sev := config.ParseSeverity(tier)
		for _, name := range names {
			tierChannels[sev] = append(tierChannels[sev], channels[name])
		}
	}

	maxTier := bias.SeverityCritical
	if cfg.MaxTier != "" {
		maxTier = config.ParseSeverity(cfg.MaxTier)
	}

	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}

	return &policy{
		rules:             newRuleTable(cfg.Rules),
		channels:          channels,
		tierChannels:      tierChannels,
		escalationTimeout: cfg.EscalationTimeout,
		quietPeriod:       cfg.QuietPeriod,
		deliveryTimeout:   deliveryTimeout,
		maxTier:           maxTier,
	}, nil
}

// Dispatcher evaluates analysis outcomes against the threshold ladder,
// deduplicates breaches into active alerts, fans deliveries out to the
// configured channels, and runs the escalation/resolution sweep.
type Dispatcher struct {
	policy atomic.Pointer[policy]

	mu      sync.Mutex
	active  map[string]*Alert // by dedup key; folding is linearizable per key
	history []*Alert          // terminal alerts, most recent last, capped

	wg     sync.WaitGroup // in-flight channel deliveries
	logger *zap.Logger
	now    func() time.Time
}

const historyLimit = 256

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger adds logging.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDispatcherClock overrides the time source, used by tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher from configuration.
func NewDispatcher(cfg config.AlertingConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		active: make(map[string]*Alert),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	pol, err := buildPolicy(cfg, d.logger)
	if err != nil {
		return nil, err
	}
	d.policy.Store(pol)
	return d, nil
}

// SetPolicy atomically swaps the threshold and channel tables. Invalid
// configuration is rejected and the prior policy stays active.
func (d *Dispatcher) SetPolicy(cfg config.AlertingConfig) error {
	pol, err := buildPolicy(cfg, d.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", bias.ErrConfiguration, err)
	}
	d.policy.Store(pol)
	d.logger.Info("alerting policy reconfigured",
		zap.Int("rules", len(cfg.Rules)),
		zap.Int("channels", len(cfg.Channels)))
	return nil
}

// Evaluate runs one result, plus the windows its samples landed in, through
// the severity ladder. It is invoked after every recorded result, degraded
// or not.
func (d *Dispatcher) Evaluate(result *bias.AnalysisResult, windows []metrics.AggregatedWindow) {
	pol := d.policy.Load()

	means := make(map[ruleKey]float64, len(windows))
	for _, w := range windows {
		means[ruleKey{w.Dimension, w.Category}] = w.Mean
	}

	for _, s := range result.Scores {
		mean := means[ruleKey{s.Dimension, s.Category}]
		severity := pol.rules.severityFor(s.Dimension, s.Category, s.Score, mean)
		if severity == bias.SeverityNone {
			continue
		}
		d.breach(pol, s.Dimension, s.Category, severity, s.Score, mean)
	}
}

// breach folds the occurrence into an existing active alert or creates and
// dispatches a new one. The table lock makes creation atomic per dedup key:
// two concurrent identical breaches produce exactly one alert.
func (d *Dispatcher) breach(pol *policy, dimension, category string, severity bias.Severity, score, mean float64) {
	key := DedupKey(dimension, category, severity)
	now := d.now()

	d.mu.Lock()
	if existing, ok := d.active[key]; ok {
		d.mu.Unlock()
		existing.fold(score, mean, now)
		foldedTotal.Inc()
		return
	}

	alert := newAlert(dimension, category, severity, score, mean, now)
	d.active[key] = alert
	activeAlerts.Set(float64(len(d.active)))
	d.mu.Unlock()

	alertsTotal.WithLabelValues(severity.String()).Inc()
	d.logger.Info("alert created",
		zap.String("alert_id", alert.ID()),
		zap.String("dimension", dimension),
		zap.String("category", category),
		zap.String("severity", severity.String()),
		zap.Float64("score", score))

	alert.markDispatched()
	d.dispatch(pol, alert, severity)
}

// dispatch fans the alert out to every channel of the given tier. Each
// delivery runs in its own goroutine with its own timeout; one channel's
// failure never blocks the others.
func (d *Dispatcher) dispatch(pol *policy, alert *Alert, tier bias.Severity) {
	snap := alert.snapshot()
	for _, ch := range pol.tierChannels[tier] {
		ch := ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), pol.deliveryTimeout)
			defer cancel()

			err := ch.Deliver(ctx, snap)
			rec := DeliveryRecord{
				Channel: ch.Name(),
				Tier:    tier.String(),
				Success: err == nil,
				At:      d.now(),
			}
			if err != nil {
				rec.Error = err.Error()
				deliveriesTotal.WithLabelValues(ch.Name(), "failure").Inc()
				d.logger.Warn("alert delivery failed",
					zap.String("alert_id", snap.ID),
					zap.String("channel", ch.Name()),
					zap.Error(err))
			} else {
				deliveriesTotal.WithLabelValues(ch.Name(), "success").Inc()
			}
			alert.recordDelivery(rec)
		}()
	}
}

// Sweep advances alert state machines: unacknowledged alerts past the
// escalation timeout step up one tier and re-dispatch; keys quiet past the
// quiet period resolve, so the next breach starts a fresh alert.
func (d *Dispatcher) Sweep() {
	pol := d.policy.Load()
	now := d.now()

	type escalation struct {
		alert *Alert
		tier  bias.Severity
	}
	var escalations []escalation

	d.mu.Lock()
	for key, alert := range d.active {
		alert.mu.Lock()

		if now.Sub(alert.lastSeen) > pol.quietPeriod {
			alert.state = StateResolved
			alert.resolvedAt = now
			alert.mu.Unlock()
			delete(d.active, key)
			d.retire(alert)
			d.logger.Info("alert resolved after quiet period",
				zap.String("alert_id", alert.id))
			continue
		}

		canEscalate := (alert.state == StateDispatched || alert.state == StateEscalated) &&
			alert.tier < pol.maxTier &&
			now.Sub(alert.lastTierChange) > pol.escalationTimeout
		if canEscalate {
			alert.state = StateEscalated
			alert.tier = alert.tier.Next()
			alert.lastTierChange = now
			escalations = append(escalations, escalation{alert, alert.tier})
		}

		alert.mu.Unlock()
	}
	activeAlerts.Set(float64(len(d.active)))
	d.mu.Unlock()

	for _, e := range escalations {
		escalationsTotal.Inc()
		d.logger.Warn("alert escalated",
			zap.String("alert_id", e.alert.ID()),
			zap.String("tier", e.tier.String()))
		d.dispatch(pol, e.alert, e.tier)
	}
}

// Acknowledge records an external acknowledgment, which is terminal: the
// dedup key frees up and a repeat breach creates a fresh alert.
func (d *Dispatcher) Acknowledge(id, by string) error {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, alert := range d.active {
		if alert.ID() != id {
			continue
		}
		alert.mu.Lock()
		alert.state = StateAcknowledged
		alert.acknowledgedBy = by
		alert.acknowledgedAt = now
		alert.resolvedAt = now
		alert.mu.Unlock()

		delete(d.active, key)
		d.retire(alert)
		activeAlerts.Set(float64(len(d.active)))
		d.logger.Info("alert acknowledged",
			zap.String("alert_id", id),
			zap.String("by", by))
		return nil
	}
	return fmt.Errorf("alerting: no active alert with id %s", id)
}

// retire is called with the table lock held.
func (d *Dispatcher) retire(alert *Alert) {
	d.history = append(d.history, alert)
	if len(d.history) > historyLimit {
		d.history = d.history[len(d.history)-historyLimit:]
	}
}

// ActiveCount returns the number of active (non-terminal) alerts.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Active returns snapshots of all active alerts.
func (d *Dispatcher) Active() []Snapshot {
	d.mu.Lock()
	alerts := make([]*Alert, 0, len(d.active))
	for _, a := range d.active {
		alerts = append(alerts, a)
	}
	d.mu.Unlock()

	out := make([]Snapshot, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.snapshot())
	}
	return out
}

// RunSweeps runs the escalation/resolution sweep on an interval until the
// context is cancelled.
func (d *Dispatcher) RunSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Drain waits for in-flight deliveries, bounded by the timeout. It reports
// whether everything completed in time.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warn("alert delivery drain timed out",
			zap.Duration("timeout", timeout))
		return false
	}
}
