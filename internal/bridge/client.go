// internal/bridge/client.go
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// responseSchema is what a well-formed backend answer must look like.
// Anything else is InvalidResponse, a different failure class than an
// unreachable backend.
const responseSchema = `{
	"type": "object",
	"required": ["per_dimension_scores", "confidence"],
	"properties": {
		"per_dimension_scores": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"flagged_categories": {"type": "array", "items": {"type": "string"}}
	}
}`

// analyzeRequest is the wire form of one scoring call.
type analyzeRequest struct {
	Text    string `json:"text"`
	Context struct {
		SessionID       string            `json:"session_id,omitempty"`
		DemographicTags map[string]string `json:"demographic_tags,omitempty"`
	} `json:"context"`
}

// analyzeResponse is the wire form of the backend answer. Score keys are
// either "dimension" or "dimension/category"; a bare dimension scores its
// "overall" category.
type analyzeResponse struct {
	PerDimensionScores map[string]float64 `json:"per_dimension_scores"`
	Confidence         float64            `json:"confidence"`
	FlaggedCategories  []string           `json:"flagged_categories"`
}

// Client is the typed RPC client for the bias-analysis backend.
type Client struct {
	endpoint   string
	httpClient *http.Client
	schema     *gojsonschema.Schema
	logger     *zap.Logger
}

// NewClient creates a client for the given base endpoint.
func NewClient(endpoint string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("bridge: compiling response schema: %w", err)
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
		schema:     schema,
		logger:     logger,
	}, nil
}

// Analyze performs one scoring attempt. The context carries the per-attempt
// timeout; retries are the caller's concern.
func (c *Client) Analyze(ctx context.Context, req *bias.AnalysisRequest) (*bias.AnalysisResult, error) {
	wire := analyzeRequest{Text: req.Text}
	wire.Context.SessionID = req.SessionID
	wire.Context.DemographicTags = req.DemographicTags

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &bias.BridgeError{Kind: bias.ErrInvalidResponse, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &bias.BridgeError{
			Kind: bias.ErrBackendUnavailable,
			Err:  fmt.Errorf("backend returned status %d", resp.StatusCode),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(err)
	}

	if err := c.validate(raw); err != nil {
		return nil, err
	}

	var wireResp analyzeResponse
	if err := json.Unmarshal(raw, &wireResp); err != nil {
		return nil, &bias.BridgeError{Kind: bias.ErrInvalidResponse, Err: err}
	}

	return toResult(&wireResp), nil
}

// Health probes the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/healthz", nil)
	if err != nil {
		return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &bias.BridgeError{
			Kind: bias.ErrBackendUnavailable,
			Err:  fmt.Errorf("health returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// validate checks the raw payload against the response schema.
func (c *Client) validate(raw []byte) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &bias.BridgeError{Kind: bias.ErrInvalidResponse, Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &bias.BridgeError{
			Kind: bias.ErrInvalidResponse,
			Err:  fmt.Errorf("schema violations: %s", strings.Join(msgs, "; ")),
		}
	}
	return nil
}

// toResult converts a validated wire response into the domain result.
func toResult(wire *analyzeResponse) *bias.AnalysisResult {
	scores := make([]bias.DimensionScore, 0, len(wire.PerDimensionScores))

	keys := make([]string, 0, len(wire.PerDimensionScores))
	for k := range wire.PerDimensionScores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		dimension, category := splitScoreKey(key)
		scores = append(scores, bias.DimensionScore{
			Dimension: dimension,
			Category:  category,
			Score:     wire.PerDimensionScores[key],
		})
	}

	return &bias.AnalysisResult{
		Scores:     scores,
		Confidence: wire.Confidence,
		Flagged:    wire.FlaggedCategories,
		Source:     bias.SourceBackend,
		AnalyzedAt: time.Now().UTC(),
	}
}

// splitScoreKey separates "dimension/category". A bare dimension scores its
// overall category.
func splitScoreKey(key string) (dimension, category string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, "overall"
}

// classifyTransport maps an HTTP client error to a bridge error kind.
// Deadline expiry is a timeout; everything else is unavailability.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &bias.BridgeError{Kind: bias.ErrBackendTimeout, Err: err}
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return &bias.BridgeError{Kind: bias.ErrBackendTimeout, Err: err}
	}
	return &bias.BridgeError{Kind: bias.ErrBackendUnavailable, Err: err}
}
