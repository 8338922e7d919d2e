// cmd/biasguard/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairlens/biasguard/internal/api"
	"github.com/fairlens/biasguard/internal/config"
	"github.com/fairlens/biasguard/internal/engine"
	"go.uber.org/zap"
)

func main() {
	// Create logger
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	port := 8600
	if p := os.Getenv("PORT"); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			logger.Error("invalid port number", zap.String("port", p), zap.Error(err))
			port = 8600 // default fallback
		}
	}

	endpoint := os.Getenv("BIAS_BACKEND_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8601"
	}

	cfg := config.Default()
	cfg.Bridge.Endpoint = endpoint
	cfg.Alerting.Rules = defaultRules()
	cfg.Alerting.Channels, cfg.Alerting.TierChannels = defaultChannels(logger)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	if err := eng.Start(); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	server := api.NewServer(eng, port, logger)

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		eng.Stop()
		os.Exit(0)
	}()

	logger.Info("biasguard started",
		zap.Int("port", port),
		zap.String("backend", endpoint))

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// defaultRules is the severity ladder shipped out of the box. Operators tune
// it over PUT /v1/config.
func defaultRules() []config.ThresholdRule {
	dimensions := []string{"gender", "age", "ethnicity", "disability", "socioeconomic"}
	rules := make([]config.ThresholdRule, 0, len(dimensions))
	for _, d := range dimensions {
		rules = append(rules, config.ThresholdRule{
			Dimension: d,
			Category:  "overall",
			Medium:    0.5,
			High:      0.8,
			Critical:  0.95,
		})
	}
	rules = append(rules, config.ThresholdRule{
		Dimension: "gender", Category: "stereotyping",
		Medium: 0.5, High: 0.75, Critical: 0.9,
	})
	return rules
}

// defaultChannels wires the log channel always, plus a signed webhook when
// ALERT_WEBHOOK_URL is set. Critical alerts page; everything notifies the log.
func defaultChannels(logger *zap.Logger) ([]config.ChannelConfig, map[string][]string) {
	channels := []config.ChannelConfig{
		{Name: "ops-log", Type: "log"},
	}
	tiers := map[string][]string{
		"medium":   {"ops-log"},
		"high":     {"ops-log"},
		"critical": {"ops-log"},
	}

	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		channels = append(channels, config.ChannelConfig{
			Name:          "webhook",
			Type:          "webhook",
			URL:           url,
			Secret:        os.Getenv("ALERT_WEBHOOK_SECRET"),
			RatePerMinute: 30,
		})
		tiers["high"] = append(tiers["high"], "webhook")
		tiers["critical"] = append(tiers["critical"], "webhook")
		logger.Info("alert webhook configured", zap.String("url", url))
	}

	return channels, tiers
}
