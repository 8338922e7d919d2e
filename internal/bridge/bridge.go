// internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
	"go.uber.org/zap"
)

// Bridge is the resilient front to the external bias-analysis backend. It
// composes the typed RPC client with a retry policy and a circuit breaker,
// and runs an independent health-check loop so recovery is discovered even
// without request traffic.
type Bridge struct {
	client         *Client
	breaker        *Breaker
	retry          *RetryPolicy
	requestTimeout time.Duration
	healthInterval time.Duration
	logger         *zap.Logger
}

// New builds a bridge from configuration.
func New(cfg config.BridgeConfig, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := NewClient(cfg.Endpoint, logger)
	if err != nil {
		return nil, err
	}

	breaker := NewBreaker(
		WithFailureThreshold(cfg.FailureThreshold),
		WithObservationPeriod(cfg.ObservationPeriod),
		WithCooldown(cfg.Cooldown),
		WithBreakerLogger(logger),
	)

	retry := NewRetryPolicy(
		WithMaxAttempts(cfg.MaxAttempts),
		WithInitialDelay(cfg.InitialBackoff),
		WithMaxDelay(cfg.MaxBackoff),
		WithJitter(true),
		// Only transport failures are worth another attempt. A schema
		// mismatch will not fix itself, and an open circuit must fail fast.
		WithRetryIf(func(err error) bool {
			return bias.IsTransport(err) && !errors.Is(err, ErrCircuitOpen)
		}),
		WithRetryLogger(logger),
	)

	return &Bridge{
		client:         client,
		breaker:        breaker,
		retry:          retry,
		requestTimeout: cfg.RequestTimeout,
		healthInterval: cfg.HealthCheckInterval,
		logger:         logger,
	}, nil
}

// Submit scores one request against the backend. It returns a BridgeError of
// kind Unavailable (circuit open or retries exhausted), Timeout, or
// InvalidResponse; the caller is expected to fall back on any of them.
func (b *Bridge) Submit(ctx context.Context, req *bias.AnalysisRequest) (*bias.AnalysisResult, error) {
	var result *bias.AnalysisResult

	err := b.retry.Execute(ctx, func(ctx context.Context) error {
		if err := b.breaker.Allow(); err != nil {
			attemptsTotal.WithLabelValues("rejected").Inc()
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()

		res, err := b.client.Analyze(attemptCtx, req)
		if err != nil {
			if bias.IsTransport(err) {
				b.breaker.OnFailure()
				attemptsTotal.WithLabelValues("failure").Inc()
			} else {
				attemptsTotal.WithLabelValues("invalid").Inc()
			}
			return err
		}

		b.breaker.OnSuccess()
		attemptsTotal.WithLabelValues("success").Inc()
		result = res
		return nil
	})

	if err != nil {
		return nil, b.finalError(err)
	}
	return result, nil
}

// finalError maps the last attempt's error to the submit-level taxonomy:
// an open circuit or exhausted retries both surface as Unavailable, while
// schema mismatches pass through untouched.
func (b *Bridge) finalError(err error) error {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: ErrCircuitOpen}
	case errors.Is(err, bias.ErrInvalidResponse):
		return err
	case bias.IsTransport(err):
		var bridgeErr *bias.BridgeError
		if errors.As(err, &bridgeErr) {
			return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: bridgeErr.Err}
		}
		return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: err}
	default:
		return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: err}
	}
}

// State returns the circuit breaker state.
func (b *Bridge) State() State {
	return b.breaker.State()
}

// RunHealthChecks probes the backend on a fixed interval until the context
// is cancelled. Probe outcomes feed the breaker so it can close proactively
// or stay asserted open.
func (b *Bridge) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(b.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.probe(ctx)
		}
	}
}

func (b *Bridge) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	if err := b.client.Health(probeCtx); err != nil {
		healthProbesTotal.WithLabelValues("failure").Inc()
		b.breaker.ProbeFailure()
		b.logger.Debug("backend health probe failed", zap.Error(err))
		return
	}
	healthProbesTotal.WithLabelValues("success").Inc()
	b.breaker.ProbeSuccess()
}
