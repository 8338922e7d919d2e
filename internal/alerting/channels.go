// internal/alerting/channels.go
package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairlens/biasguard/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Channel delivers alerts over one transport. Implementations are
// structurally identical to the dispatcher; a failure on one channel never
// affects the others.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert Snapshot) error
}

// buildChannels constructs the configured channel set. Configuration has
// already been validated.
func buildChannels(cfgs []config.ChannelConfig, logger *zap.Logger) map[string]Channel {
	channels := make(map[string]Channel, len(cfgs))
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "webhook":
			channels[cfg.Name] = newWebhookChannel(cfg)
		case "log":
			channels[cfg.Name] = &logChannel{name: cfg.Name, logger: logger}
		}
	}
	return channels
}

// webhookChannel POSTs the alert as JSON, optionally signed with
// HMAC-SHA256. Deliveries are rate limited per channel so an alert storm
// cannot flood the receiver.
type webhookChannel struct {
	name       string
	url        string
	secret     string
	headers    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newWebhookChannel(cfg config.ChannelConfig) *webhookChannel {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}
	return &webhookChannel{
		name:       cfg.Name,
		url:        cfg.URL,
		secret:     cfg.Secret,
		headers:    cfg.Headers,
		httpClient: &http.Client{},
		limiter:    limiter,
	}
}

// Name returns the channel name.
func (c *webhookChannel) Name() string { return c.name }

// Deliver sends one alert notification.
func (c *webhookChannel) Deliver(ctx context.Context, alert Snapshot) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("alerting: rate limit wait: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alerting: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerting: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-ID", alert.ID)
	req.Header.Set("X-Alert-Severity", alert.Severity)
	if c.secret != "" {
		req.Header.Set("X-Alert-Signature", sign(body, c.secret))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sign generates the HMAC-SHA256 payload signature.
func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// logChannel writes the alert to the structured log. It never fails, which
// makes it a reasonable last-resort channel for the highest tiers.
type logChannel struct {
	name   string
	logger *zap.Logger
}

// Name returns the channel name.
func (c *logChannel) Name() string { return c.name }

// Deliver logs the alert.
func (c *logChannel) Deliver(_ context.Context, alert Snapshot) error {
	c.logger.Warn("bias alert",
		zap.String("alert_id", alert.ID),
		zap.String("severity", alert.Severity),
		zap.String("dimension", alert.Dimension),
		zap.String("category", alert.Category),
		zap.Float64("score", alert.Score),
		zap.Int("occurrences", alert.Occurrences),
		zap.Time("first_seen", alert.FirstSeen))
	return nil
}
