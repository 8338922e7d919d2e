// internal/engine/fallback.go
package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/fairlens/biasguard/internal/bias"
)

// fallbackConfidence marks heuristic outcomes as low-trust so downstream
// consumers can weight them accordingly.
const fallbackConfidence = 0.35

// lexiconEntry maps a trigger term to a score contribution on one
// (dimension, category) pair.
type lexiconEntry struct {
	dimension string
	category  string
	term      string
	weight    float64
}

// fallbackLexicon is a deliberately small, deterministic term list. It is a
// stopgap for when the backend is unreachable, not a bias model; its only
// job is to keep obviously loaded language from passing unmeasured.
var fallbackLexicon = []lexiconEntry{
	{bias.DimensionGender, "stereotyping", "women are too emotional", 0.7},
	{bias.DimensionGender, "stereotyping", "men don't cry", 0.7},
	{bias.DimensionGender, "stereotyping", "like a girl", 0.4},
	{bias.DimensionGender, "stereotyping", "man up", 0.5},
	{bias.DimensionGender, "overall", "hysterical", 0.35},
	{bias.DimensionAge, "dismissal", "too old to change", 0.6},
	{bias.DimensionAge, "dismissal", "at your age", 0.4},
	{bias.DimensionAge, "overall", "senile", 0.5},
	{bias.DimensionEthnicity, "othering", "your people", 0.5},
	{bias.DimensionEthnicity, "othering", "where are you really from", 0.55},
	{bias.DimensionDisability, "infantilizing", "wheelchair-bound", 0.45},
	{bias.DimensionDisability, "infantilizing", "suffers from", 0.3},
	{bias.DimensionSocioeconomic, "judgment", "lazy poor", 0.65},
	{bias.DimensionSocioeconomic, "judgment", "pull yourself up", 0.4},
}

// FallbackScorer is the local degraded-mode analyzer: a deterministic
// lexicon match with no network dependency.
type FallbackScorer struct {
	lexicon []lexiconEntry
}

// NewFallbackScorer creates the heuristic scorer.
func NewFallbackScorer() *FallbackScorer {
	return &FallbackScorer{lexicon: fallbackLexicon}
}

// Score produces an AnalysisResult from lexicon matches alone. The same text
// always yields the same scores.
func (s *FallbackScorer) Score(req *bias.AnalysisRequest) *bias.AnalysisResult {
	text := strings.ToLower(req.Text)

	type pair struct{ dimension, category string }
	scores := make(map[pair]float64)

	for _, entry := range s.lexicon {
		if !strings.Contains(text, entry.term) {
			continue
		}
		key := pair{entry.dimension, entry.category}
		scores[key] += entry.weight
		if scores[key] > 1 {
			scores[key] = 1
		}
	}

	result := &bias.AnalysisResult{
		Confidence: fallbackConfidence,
		Source:     bias.SourceFallback,
		AnalyzedAt: time.Now().UTC(),
	}
	for key, score := range scores {
		result.Scores = append(result.Scores, bias.DimensionScore{
			Dimension: key.dimension,
			Category:  key.category,
			Score:     score,
		})
		if score >= 0.5 {
			result.Flagged = append(result.Flagged, key.dimension+"/"+key.category)
		}
	}

	sort.Slice(result.Scores, func(i, j int) bool {
		if result.Scores[i].Dimension != result.Scores[j].Dimension {
			return result.Scores[i].Dimension < result.Scores[j].Dimension
		}
		return result.Scores[i].Category < result.Scores[j].Category
	})
	sort.Strings(result.Flagged)
	return result
}
