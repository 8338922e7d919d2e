// internal/bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBridgeConfig(endpoint string) config.BridgeConfig {
	return config.BridgeConfig{
		Endpoint:            endpoint,
		RequestTimeout:      2 * time.Second,
		MaxAttempts:         3,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
		FailureThreshold:    5,
		ObservationPeriod:   time.Minute,
		Cooldown:            time.Minute,
		HealthCheckInterval: 10 * time.Millisecond,
	}
}

func scoringBackend(t *testing.T, scores map[string]float64, confidence float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/analyze":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"per_dimension_scores": scores,
				"confidence":           confidence,
			})
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBridgeSubmit(t *testing.T) {
	req := &bias.AnalysisRequest{Text: "some assistant reply", SessionID: "s-1"}

	t.Run("parses backend scores", func(t *testing.T) {
		srv := scoringBackend(t, map[string]float64{
			"gender/stereotyping": 0.85,
			"age":                 0.12,
		}, 0.92)

		b, err := New(testBridgeConfig(srv.URL), nil)
		require.NoError(t, err)

		result, err := b.Submit(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, bias.SourceBackend, result.Source)
		assert.InDelta(t, 0.92, result.Confidence, 1e-9)
		require.Len(t, result.Scores, 2)
		assert.Equal(t, bias.DimensionScore{Dimension: "age", Category: "overall", Score: 0.12}, result.Scores[0])
		assert.Equal(t, bias.DimensionScore{Dimension: "gender", Category: "stereotyping", Score: 0.85}, result.Scores[1])
	})

	t.Run("retries transient failures then succeeds", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"per_dimension_scores": map[string]float64{"gender": 0.2},
				"confidence":           0.8,
			})
		}))
		t.Cleanup(srv.Close)

		b, err := New(testBridgeConfig(srv.URL), nil)
		require.NoError(t, err)

		result, err := b.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, int64(3), calls.Load())
		assert.Len(t, result.Scores, 1)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("schema violation is invalid response and is not retried", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"per_dimension_scores": map[string]float64{"gender": 1.7},
				"confidence":           0.9,
			})
		}))
		t.Cleanup(srv.Close)

		b, err := New(testBridgeConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), req)
		assert.ErrorIs(t, err, bias.ErrInvalidResponse)
		assert.Equal(t, int64(1), calls.Load(), "a malformed payload will not fix itself")
		assert.Equal(t, StateClosed, b.State(), "invalid responses must not trip the breaker")
	})

	t.Run("missing required field is invalid response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"per_dimension_scores": map[string]float64{"gender": 0.3},
			})
		}))
		t.Cleanup(srv.Close)

		b, err := New(testBridgeConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), req)
		assert.ErrorIs(t, err, bias.ErrInvalidResponse)
	})

	t.Run("exhausted retries surface as unavailable", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)

		b, err := New(testBridgeConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), req)
		assert.ErrorIs(t, err, bias.ErrBackendUnavailable)
		assert.Equal(t, int64(3), calls.Load())
	})

	t.Run("circuit opens after consecutive failures and rejects fast", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		cfg := testBridgeConfig(srv.URL)
		cfg.MaxAttempts = 1
		b, err := New(cfg, nil)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := b.Submit(context.Background(), req)
			require.ErrorIs(t, err, bias.ErrBackendUnavailable)
		}
		require.Equal(t, StateOpen, b.State())

		start := time.Now()
		_, err = b.Submit(context.Background(), req)
		elapsed := time.Since(start)

		assert.ErrorIs(t, err, bias.ErrBackendUnavailable)
		assert.Less(t, elapsed, 5*time.Millisecond, "open circuit must reject without a network attempt")
	})

	t.Run("timeout is classified distinctly", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)

		cfg := testBridgeConfig(srv.URL)
		cfg.RequestTimeout = 20 * time.Millisecond
		cfg.MaxAttempts = 1
		b, err := New(cfg, nil)
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, bias.ErrBackendUnavailable, "final submit error is unavailability")

		var bridgeErr *bias.BridgeError
		require.ErrorAs(t, err, &bridgeErr)
		assert.True(t, bias.IsTransport(err))
	})
}

func TestBridgeHealthChecks(t *testing.T) {
	t.Run("probes recover an open circuit", func(t *testing.T) {
		var healthy atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" && healthy.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		cfg := testBridgeConfig(srv.URL)
		cfg.MaxAttempts = 1
		cfg.FailureThreshold = 1
		cfg.Cooldown = time.Millisecond
		b, err := New(cfg, nil)
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), &bias.AnalysisRequest{Text: "x"})
		require.Error(t, err)
		require.Equal(t, StateOpen, b.State())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go b.RunHealthChecks(ctx)

		healthy.Store(true)
		require.Eventually(t, func() bool {
			return b.State() == StateClosed
		}, time.Second, 5*time.Millisecond, "probe success after cooldown should close the circuit")
	})
}
