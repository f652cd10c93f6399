// Package scout recommends execution templates for new tasks by
// similarity search over historical episodes.
package scout

import (
	"math"
	"sort"

	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/logging"
)

// FeatureKeys is the fixed, ordered feature vocabulary. Every feature is
// expected in a normalized [0,1] range.
var FeatureKeys = []string{
	"complexity", "scope", "novelty", "risk", "dependency_depth", "io_intensity",
}

// Similarity metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// Verdicts.
const (
	VerdictRecommended      = "RECOMMENDED"
	VerdictColdStart        = "COLD_START"
	VerdictInsufficientData = "INSUFFICIENT_DATA"
)

// EpisodeFeatures is one historical episode as the scout sees it.
type EpisodeFeatures struct {
	RunID        string             `json:"run_id"`
	TemplateUsed string             `json:"template_used"`
	Features     map[string]float64 `json:"features"`
	Success      bool               `json:"success"`
	DurationSecs float64            `json:"duration_seconds"`
}

// Neighbor is one similar episode.
type Neighbor struct {
	Episode    EpisodeFeatures `json:"episode"`
	Similarity float64         `json:"similarity"`
}

// TemplateStats aggregates the neighbors that used one template.
type TemplateStats struct {
	Template     string  `json:"template"`
	Count        int     `json:"count"`
	SuccessRate  float64 `json:"success_rate"`
	MeanDuration float64 `json:"mean_duration_seconds"`
}

// Recommendation is the scout's output.
type Recommendation struct {
	Verdict   string          `json:"verdict"`
	Template  string          `json:"template"`
	Neighbors []Neighbor      `json:"neighbors,omitempty"`
	Stats     []TemplateStats `json:"stats,omitempty"`
}

// Scout ranks templates from episode history.
type Scout struct {
	cfg    config.ScoutConfig
	metric string
}

// New creates a scout. metric is MetricCosine or MetricEuclidean;
// anything else falls back to cosine.
func New(cfg config.ScoutConfig, metric string) *Scout {
	if metric != MetricEuclidean {
		metric = MetricCosine
	}
	return &Scout{cfg: cfg, metric: metric}
}

// vectorize projects features onto the fixed key order. Missing keys read
// as zero; unknown keys are ignored.
func vectorize(features map[string]float64) []float64 {
	v := make([]float64, len(FeatureKeys))
	for i, key := range FeatureKeys {
		v[i] = features[key]
	}
	return v
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// euclideanSimilarity maps distance into (0,1]: identical vectors score 1.
func euclideanSimilarity(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}

func (s *Scout) similarity(a, b []float64) float64 {
	if s.metric == MetricEuclidean {
		return euclideanSimilarity(a, b)
	}
	return cosine(a, b)
}

// Recommend picks the template whose similar episodes performed best.
// Too little history yields COLD_START; no neighbor above the similarity
// floor yields INSUFFICIENT_DATA. Both carry the configured safe default
// template.
func (s *Scout) Recommend(features map[string]float64, history []EpisodeFeatures) Recommendation {
	if len(history) < s.cfg.MinEpisodes {
		return Recommendation{Verdict: VerdictColdStart, Template: s.cfg.DefaultTemplate}
	}

	target := vectorize(features)
	neighbors := make([]Neighbor, 0, len(history))
	for _, ep := range history {
		sim := s.similarity(target, vectorize(ep.Features))
		if sim >= s.cfg.MinSimilarity {
			neighbors = append(neighbors, Neighbor{Episode: ep, Similarity: sim})
		}
	}
	if len(neighbors) == 0 {
		return Recommendation{Verdict: VerdictInsufficientData, Template: s.cfg.DefaultTemplate}
	}

	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Similarity > neighbors[j].Similarity })
	if len(neighbors) > s.cfg.TopK {
		neighbors = neighbors[:s.cfg.TopK]
	}

	stats := groupByTemplate(neighbors)
	best := stats[0]
	logging.Get(logging.CategoryScout).Debugf("recommending %s (success %.2f over %d neighbors)",
		best.Template, best.SuccessRate, best.Count)
	return Recommendation{
		Verdict:   VerdictRecommended,
		Template:  best.Template,
		Neighbors: neighbors,
		Stats:     stats,
	}
}

// groupByTemplate aggregates neighbors per template, ordered best-first:
// higher success rate wins, mean duration breaks ties.
func groupByTemplate(neighbors []Neighbor) []TemplateStats {
	agg := map[string]*TemplateStats{}
	durations := map[string]float64{}
	successes := map[string]int{}
	for _, n := range neighbors {
		tpl := n.Episode.TemplateUsed
		st, ok := agg[tpl]
		if !ok {
			st = &TemplateStats{Template: tpl}
			agg[tpl] = st
		}
		st.Count++
		durations[tpl] += n.Episode.DurationSecs
		if n.Episode.Success {
			successes[tpl]++
		}
	}
	out := make([]TemplateStats, 0, len(agg))
	for tpl, st := range agg {
		st.SuccessRate = float64(successes[tpl]) / float64(st.Count)
		st.MeanDuration = durations[tpl] / float64(st.Count)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].MeanDuration != out[j].MeanDuration {
			return out[i].MeanDuration < out[j].MeanDuration
		}
		return out[i].Template < out[j].Template
	})
	return out
}
