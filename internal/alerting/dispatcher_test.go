// internal/alerting/dispatcher_test.go
package alerting

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
	"github.com/fairlens/biasguard/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testAlertingConfig() config.AlertingConfig {
	return config.AlertingConfig{
		Rules: []config.ThresholdRule{
			{Dimension: "gender", Category: "overall", Medium: 0.5, High: 0.8, Critical: 0.95},
			{Dimension: "age", Category: "overall", Medium: 0.4, High: 0.7, Critical: 0.9},
		},
		Channels: []config.ChannelConfig{
			{Name: "ops-log", Type: "log"},
		},
		TierChannels: map[string][]string{
			"medium":   {"ops-log"},
			"high":     {"ops-log"},
			"critical": {"ops-log"},
		},
		EscalationTimeout: 15 * time.Minute,
		QuietPeriod:       30 * time.Minute,
		SweepInterval:     30 * time.Second,
		DeliveryTimeout:   time.Second,
	}
}

func genderResult(score float64) *bias.AnalysisResult {
	return &bias.AnalysisResult{
		Scores: []bias.DimensionScore{
			{Dimension: "gender", Category: "overall", Score: score},
		},
		Confidence: 0.9,
		Source:     bias.SourceBackend,
		AnalyzedAt: time.Now().UTC(),
	}
}

func TestDispatcherEvaluate(t *testing.T) {
	t.Run("score above high threshold fires a high alert", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.Equal(t, "high", active[0].Severity)
		assert.Equal(t, StateDispatched, active[0].State)
		assert.Equal(t, 1, active[0].Occurrences)
		assert.InDelta(t, 0.85, active[0].Score, 1e-9)
	})

	t.Run("repeat breach folds instead of duplicating", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil)
		d.Evaluate(genderResult(0.82), nil)
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.Equal(t, 2, active[0].Occurrences)
		assert.InDelta(t, 0.85, active[0].Score, 1e-9, "folding keeps the peak score")
	})

	t.Run("different severities are distinct alerts", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil) // high
		d.Evaluate(genderResult(0.6), nil)  // medium
		require.True(t, d.Drain(time.Second))

		assert.Equal(t, 2, d.ActiveCount())
	})

	t.Run("no rule means no alert", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(&bias.AnalysisResult{
			Scores: []bias.DimensionScore{
				{Dimension: "ethnicity", Category: "overall", Score: 0.99},
			},
		}, nil)

		assert.Zero(t, d.ActiveCount())
	})

	t.Run("score below every threshold is quiet", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(genderResult(0.3), nil)

		assert.Zero(t, d.ActiveCount())
	})

	t.Run("window mean can breach when the instant score does not", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		windows := []metrics.AggregatedWindow{
			{Dimension: "gender", Category: "overall", Mean: 0.62},
		}
		d.Evaluate(genderResult(0.3), windows)
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.Equal(t, "medium", active[0].Severity)
	})
}

func TestDispatcherSweep(t *testing.T) {
	t.Run("escalates one tier per timeout", func(t *testing.T) {
		clock := newFakeClock()
		d, err := NewDispatcher(testAlertingConfig(), WithDispatcherClock(clock.now))
		require.NoError(t, err)

		d.Evaluate(genderResult(0.6), nil) // medium
		require.True(t, d.Drain(time.Second))

		clock.advance(16 * time.Minute)
		d.Sweep()
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.Equal(t, StateEscalated, active[0].State)
		assert.Equal(t, "high", active[0].Tier)
		assert.Equal(t, "medium", active[0].Severity, "the firing severity is preserved")

		// An immediate second sweep must not escalate again.
		d.Sweep()
		require.True(t, d.Drain(time.Second))
		assert.Equal(t, "high", d.Active()[0].Tier)

		clock.advance(16 * time.Minute)
		d.Sweep()
		require.True(t, d.Drain(time.Second))
		assert.Equal(t, "critical", d.Active()[0].Tier)

		// Critical is the ceiling.
		clock.advance(16 * time.Minute)
		d.Sweep()
		require.True(t, d.Drain(time.Second))
		assert.Equal(t, "critical", d.Active()[0].Tier)
	})

	t.Run("fresh breach defers escalation", func(t *testing.T) {
		clock := newFakeClock()
		d, err := NewDispatcher(testAlertingConfig(), WithDispatcherClock(clock.now))
		require.NoError(t, err)

		d.Evaluate(genderResult(0.6), nil)
		require.True(t, d.Drain(time.Second))

		// Breaches keep arriving, but escalation is driven by tier age,
		// not recency, so the sweep still steps it up.
		clock.advance(10 * time.Minute)
		d.Evaluate(genderResult(0.55), nil)
		clock.advance(10 * time.Minute)
		d.Sweep()
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.Equal(t, "high", active[0].Tier)
		assert.Equal(t, 2, active[0].Occurrences)
	})

	t.Run("quiet period resolves and frees the dedup key", func(t *testing.T) {
		clock := newFakeClock()
		d, err := NewDispatcher(testAlertingConfig(), WithDispatcherClock(clock.now))
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))
		firstID := d.Active()[0].ID

		clock.advance(31 * time.Minute)
		d.Sweep()
		assert.Zero(t, d.ActiveCount())

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.NotEqual(t, firstID, active[0].ID, "a new finding, not a resurrection")
		assert.Equal(t, 1, active[0].Occurrences)
	})
}

func TestDispatcherAcknowledge(t *testing.T) {
	t.Run("acknowledgment is terminal", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))
		id := d.Active()[0].ID

		require.NoError(t, d.Acknowledge(id, "oncall@fairlens"))
		assert.Zero(t, d.ActiveCount())

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		assert.NotEqual(t, id, active[0].ID)
	})

	t.Run("unknown id errors", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		assert.Error(t, d.Acknowledge("no-such-alert", "oncall"))
	})
}

func TestDispatcherDeliveries(t *testing.T) {
	t.Run("one failing channel does not block the others", func(t *testing.T) {
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(good.Close)
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(bad.Close)

		cfg := testAlertingConfig()
		cfg.Channels = []config.ChannelConfig{
			{Name: "good-hook", Type: "webhook", URL: good.URL},
			{Name: "bad-hook", Type: "webhook", URL: bad.URL},
		}
		cfg.TierChannels = map[string][]string{
			"high": {"good-hook", "bad-hook"},
		}

		d, err := NewDispatcher(cfg)
		require.NoError(t, err)

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(2*time.Second))

		active := d.Active()
		require.Len(t, active, 1)
		require.Len(t, active[0].Deliveries, 2)

		byChannel := make(map[string]DeliveryRecord, 2)
		for _, rec := range active[0].Deliveries {
			byChannel[rec.Channel] = rec
		}
		assert.True(t, byChannel["good-hook"].Success)
		assert.False(t, byChannel["bad-hook"].Success)
		assert.NotEmpty(t, byChannel["bad-hook"].Error)
	})

	t.Run("escalation dispatches to the new tier's channels", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		clock := newFakeClock()
		cfg := testAlertingConfig()
		cfg.Channels = []config.ChannelConfig{
			{Name: "ops-log", Type: "log"},
			{Name: "pager", Type: "webhook", URL: srv.URL},
		}
		cfg.TierChannels = map[string][]string{
			"medium": {"ops-log"},
			"high":   {"pager"},
		}

		d, err := NewDispatcher(cfg, WithDispatcherClock(clock.now))
		require.NoError(t, err)

		d.Evaluate(genderResult(0.6), nil) // medium, log only
		require.True(t, d.Drain(time.Second))
		assert.Zero(t, hits)

		clock.advance(16 * time.Minute)
		d.Sweep()
		require.True(t, d.Drain(2*time.Second))

		assert.Equal(t, 1, hits, "the pager is notified on escalation to high")
	})
}

func TestDispatcherSetPolicy(t *testing.T) {
	t.Run("rejects invalid configuration and keeps the prior policy", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		broken := testAlertingConfig()
		broken.Rules[0].High = 0.2 // violates medium < high

		err = d.SetPolicy(broken)
		require.Error(t, err)
		assert.ErrorIs(t, err, bias.ErrConfiguration)

		d.Evaluate(genderResult(0.85), nil)
		require.True(t, d.Drain(time.Second))
		assert.Equal(t, 1, d.ActiveCount(), "the prior rules are still in force")
	})

	t.Run("new thresholds apply to subsequent evaluations", func(t *testing.T) {
		d, err := NewDispatcher(testAlertingConfig())
		require.NoError(t, err)

		relaxed := testAlertingConfig()
		relaxed.Rules[0] = config.ThresholdRule{
			Dimension: "gender", Category: "overall",
			Medium: 0.9, High: 0.95, Critical: 0.99,
		}
		require.NoError(t, d.SetPolicy(relaxed))

		d.Evaluate(genderResult(0.85), nil)
		assert.Zero(t, d.ActiveCount(), "0.85 is below the relaxed medium threshold")
	})
}
