package scout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-iijima/hiveforge/internal/config"
)

func testCfg() config.ScoutConfig {
	return config.ScoutConfig{
		TopK:            5,
		MinEpisodes:     3,
		MinSimilarity:   0.5,
		DefaultTemplate: "standard",
	}
}

func episode(run, template string, success bool, duration float64, features map[string]float64) EpisodeFeatures {
	return EpisodeFeatures{
		RunID: run, TemplateUsed: template, Success: success,
		DurationSecs: duration, Features: features,
	}
}

func TestColdStart(t *testing.T) {
	s := New(testCfg(), MetricCosine)
	rec := s.Recommend(map[string]float64{"complexity": 0.5},
		[]EpisodeFeatures{episode("r1", "fast", true, 10, map[string]float64{"complexity": 0.5})})
	assert.Equal(t, VerdictColdStart, rec.Verdict)
	assert.Equal(t, "standard", rec.Template, "cold start falls back to the safe default")
}

func TestInsufficientData(t *testing.T) {
	s := New(testCfg(), MetricCosine)
	// Orthogonal features: similarity 0 for every neighbor.
	history := []EpisodeFeatures{
		episode("r1", "a", true, 10, map[string]float64{"complexity": 1}),
		episode("r2", "a", true, 10, map[string]float64{"complexity": 1}),
		episode("r3", "a", true, 10, map[string]float64{"complexity": 1}),
	}
	rec := s.Recommend(map[string]float64{"scope": 1}, history)
	assert.Equal(t, VerdictInsufficientData, rec.Verdict)
	assert.Equal(t, "standard", rec.Template)
}

func TestRecommendsBestTemplate(t *testing.T) {
	features := map[string]float64{"complexity": 0.8, "risk": 0.6}
	similar := map[string]float64{"complexity": 0.8, "risk": 0.6}

	history := []EpisodeFeatures{
		episode("r1", "careful", true, 120, similar),
		episode("r2", "careful", true, 100, similar),
		episode("r3", "yolo", false, 30, similar),
		episode("r4", "yolo", true, 20, similar),
	}
	rec := New(testCfg(), MetricCosine).Recommend(features, history)

	require.Equal(t, VerdictRecommended, rec.Verdict)
	assert.Equal(t, "careful", rec.Template, "higher success rate beats faster duration")
	require.NotEmpty(t, rec.Stats)
	assert.Equal(t, 1.0, rec.Stats[0].SuccessRate)
	assert.InDelta(t, 110, rec.Stats[0].MeanDuration, 1e-9)
}

func TestTopKBoundsNeighbors(t *testing.T) {
	cfg := testCfg()
	cfg.TopK = 2
	same := map[string]float64{"complexity": 0.5}
	history := []EpisodeFeatures{
		episode("r1", "a", true, 1, same),
		episode("r2", "a", true, 1, same),
		episode("r3", "a", true, 1, same),
		episode("r4", "a", true, 1, same),
	}
	rec := New(cfg, MetricCosine).Recommend(same, history)
	assert.Len(t, rec.Neighbors, 2)
}

func TestEuclideanMetric(t *testing.T) {
	s := New(testCfg(), MetricEuclidean)
	target := map[string]float64{"complexity": 0.5, "scope": 0.5}
	history := []EpisodeFeatures{
		episode("r1", "near", true, 10, map[string]float64{"complexity": 0.5, "scope": 0.5}),
		episode("r2", "near", true, 10, map[string]float64{"complexity": 0.55, "scope": 0.5}),
		episode("r3", "far", true, 10, map[string]float64{"complexity": 0.0, "scope": 0.0}),
	}
	rec := s.Recommend(target, history)
	require.Equal(t, VerdictRecommended, rec.Verdict)
	assert.Equal(t, 1.0, rec.Neighbors[0].Similarity, "identical vectors score 1 under euclidean similarity")
}
