// Package referee ranks candidate solutions through weighted scoring and
// pairwise differential comparison.
package referee

import (
	"math"
	"sort"

	"github.com/k-iijima/hiveforge/internal/logging"
)

// Metric weights. They sum to 1.
const (
	WeightCorrectness = 0.40
	WeightRobustness  = 0.20
	WeightConsistency = 0.20
	WeightSecurity    = 0.10
	WeightLatency     = 0.10
)

// Tournament outcomes.
const (
	OutcomeRanked      = "RANKED"
	OutcomeSinglePass  = "SINGLE_PASS"
	OutcomeNoCandidate = "NO_CANDIDATE"
)

// Candidate is one solution under judgment. Metrics are normalized to
// [0,1], higher is better (latency included: 1 means fastest acceptable).
type Candidate struct {
	ID          string  `json:"id"`
	Correctness float64 `json:"correctness"`
	Robustness  float64 `json:"robustness"`
	Security    float64 `json:"security"`
	Latency     float64 `json:"latency"`
}

// Scored is a candidate with its derived metrics.
type Scored struct {
	Candidate   Candidate `json:"candidate"`
	Consistency float64   `json:"consistency"`
	Total       float64   `json:"total"`
}

// Verdict is the tournament result.
type Verdict struct {
	Outcome string   `json:"outcome"`
	Winner  string   `json:"winner,omitempty"`
	Ranking []Scored `json:"ranking,omitempty"`
}

// Referee runs tournaments.
type Referee struct {
	topK int
}

// New creates a referee keeping the top-K candidates in the ranking.
func New(topK int) *Referee {
	if topK < 1 {
		topK = 3
	}
	return &Referee{topK: topK}
}

// Tournament scores every candidate and returns the ranking. One
// candidate short-circuits to SINGLE_PASS; none to NO_CANDIDATE.
func (r *Referee) Tournament(candidates []Candidate) Verdict {
	switch len(candidates) {
	case 0:
		return Verdict{Outcome: OutcomeNoCandidate}
	case 1:
		only := candidates[0]
		return Verdict{
			Outcome: OutcomeSinglePass,
			Winner:  only.ID,
			Ranking: []Scored{{Candidate: only, Consistency: 1, Total: score(only, 1)}},
		}
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		consistency := consistencyOf(c, candidates)
		scored[i] = Scored{Candidate: c, Consistency: consistency, Total: score(c, consistency)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Total > scored[j].Total })
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}

	logging.Get(logging.CategoryReferee).Debugf("tournament of %d candidates won by %s (%.3f)",
		len(candidates), scored[0].Candidate.ID, scored[0].Total)
	return Verdict{Outcome: OutcomeRanked, Winner: scored[0].Candidate.ID, Ranking: scored}
}

// score combines the weighted metrics.
func score(c Candidate, consistency float64) float64 {
	return WeightCorrectness*c.Correctness +
		WeightRobustness*c.Robustness +
		WeightConsistency*consistency +
		WeightSecurity*c.Security +
		WeightLatency*c.Latency
}

// consistencyOf measures how close a candidate's metrics sit to its
// peers: the mean pairwise agreement, where agreement is 1 minus the mean
// absolute metric difference against another candidate.
func consistencyOf(c Candidate, all []Candidate) float64 {
	total, pairs := 0.0, 0
	for _, other := range all {
		if other.ID == c.ID {
			continue
		}
		total += 1 - meanAbsDiff(c, other)
		pairs++
	}
	if pairs == 0 {
		return 1
	}
	return total / float64(pairs)
}

func meanAbsDiff(a, b Candidate) float64 {
	diffs := []float64{
		math.Abs(a.Correctness - b.Correctness),
		math.Abs(a.Robustness - b.Robustness),
		math.Abs(a.Security - b.Security),
		math.Abs(a.Latency - b.Latency),
	}
	sum := 0.0
	for _, d := range diffs {
		sum += d
	}
	return sum / float64(len(diffs))
}
