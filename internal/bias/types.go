// internal/bias/types.go
package bias

import (
	"time"
)

// Result sources
const (
	SourceBackend  = "backend"
	SourceFallback = "fallback"
)

// Well-known bias dimensions. Dimensions are open-ended; these are the ones
// the default configuration ships thresholds for.
const (
	DimensionGender        = "gender"
	DimensionAge           = "age"
	DimensionEthnicity     = "ethnicity"
	DimensionDisability    = "disability"
	DimensionSocioeconomic = "socioeconomic"
)

// Severity tiers, ordered. Higher value means more urgent.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the tier name.
func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// Next returns the next tier up, capped at Critical.
func (s Severity) Next() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// AnalysisRequest is the input to one analysis call. Ephemeral, created per
// call and not retained.
type AnalysisRequest struct {
	Text            string            `json:"text"`
	SessionID       string            `json:"session_id,omitempty"`
	DemographicTags map[string]string `json:"demographic_tags,omitempty"`
}

// DimensionScore is one scored (dimension, category) pair.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"` // 0.0 - 1.0
}

// AnalysisResult is the outcome of scoring one text. Immutable once produced.
type AnalysisResult struct {
	Scores     []DimensionScore `json:"scores"`
	Confidence float64          `json:"confidence"`
	Flagged    []string         `json:"flagged_categories,omitempty"`
	Source     string           `json:"source"`
	AnalyzedAt time.Time        `json:"analyzed_at"`
}

// MaxScore returns the highest per-dimension score in the result.
func (r *AnalysisResult) MaxScore() float64 {
	var max float64
	for _, s := range r.Scores {
		if s.Score > max {
			max = s.Score
		}
	}
	return max
}

// MetricSample is one (dimension, category, score, timestamp) observation
// derived from an AnalysisResult.
type MetricSample struct {
	Dimension string
	Category  string
	Score     float64
	Timestamp time.Time
}

// SamplesFrom expands a result into one sample per scored pair, all stamped
// with the result's analysis time.
func SamplesFrom(result *AnalysisResult) []MetricSample {
	samples := make([]MetricSample, 0, len(result.Scores))
	for _, s := range result.Scores {
		samples = append(samples, MetricSample{
			Dimension: s.Dimension,
			Category:  s.Category,
			Score:     s.Score,
			Timestamp: result.AnalyzedAt,
		})
	}
	return samples
}
