package honeycomb

// KPI metric names shared with the sentinel's drift comparison.
const (
	KPICorrectness    = "correctness"
	KPIIncidentRate   = "incident_rate"
	KPIRepeatability  = "repeatability"
	KPIRecurrenceRate = "recurrence_rate"
)

// episodeKPI derives the per-episode scores. Repeatability and
// recurrence need history and are filled by AggregateKPI.
func episodeKPI(ep *Episode) map[string]float64 {
	correctness := 0.0
	switch ep.Outcome {
	case OutcomeSuccess:
		correctness = 1.0
	case OutcomePartial:
		correctness = 0.5
	}
	incident := 0.0
	if ep.InterventionCount > 0 {
		incident = 1.0
	}
	return map[string]float64{
		KPICorrectness:  correctness,
		KPIIncidentRate: incident,
	}
}

// AggregateKPI folds a set of episodes, oldest first, into fleet-level
// scores. Correctness and incident rate are means of the per-episode
// values. Repeatability is the full-success fraction. Recurrence is
// the fraction of failing episodes whose failure class already appeared
// in an earlier episode.
func AggregateKPI(episodes []Episode) map[string]float64 {
	if len(episodes) == 0 {
		return map[string]float64{}
	}

	var correctness, incidents, successes float64
	var failures, recurrences int
	seenClasses := map[string]bool{}
	for _, ep := range episodes {
		correctness += ep.KPIScores[KPICorrectness]
		incidents += ep.KPIScores[KPIIncidentRate]
		if ep.Outcome == OutcomeSuccess {
			successes++
		}
		if ep.FailureClass != "" {
			failures++
			if seenClasses[ep.FailureClass] {
				recurrences++
			}
			seenClasses[ep.FailureClass] = true
		}
	}

	n := float64(len(episodes))
	kpi := map[string]float64{
		KPICorrectness:    correctness / n,
		KPIIncidentRate:   incidents / n,
		KPIRepeatability:  successes / n,
		KPIRecurrenceRate: 0,
	}
	if failures > 0 {
		kpi[KPIRecurrenceRate] = float64(recurrences) / float64(failures)
	}
	return kpi
}
