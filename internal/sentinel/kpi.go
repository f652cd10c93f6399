package sentinel

import "fmt"

// Metrics where a relative drop signals degradation.
var dropSensitiveMetrics = []string{"correctness", "repeatability"}

// Metrics where an absolute rise signals degradation.
var riseSensitiveMetrics = []string{"incident_rate", "recurrence_rate"}

// CompareKPI diffs two KPI dictionaries and raises kpi_degradation alerts.
// Correctness and repeatability alert on a relative drop above the
// threshold; incident and recurrence rates alert on an absolute rise above
// it. Metrics absent from either side are skipped.
func CompareKPI(prev, curr map[string]float64, threshold float64) []Alert {
	var alerts []Alert

	for _, metric := range dropSensitiveMetrics {
		p, okP := prev[metric]
		c, okC := curr[metric]
		if !okP || !okC || p <= 0 {
			continue
		}
		drop := (p - c) / p
		if drop > threshold {
			alerts = append(alerts, Alert{
				AlertType: AlertKPIDegradation,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("%s dropped %.1f%% (%.3f -> %.3f)", metric, drop*100, p, c),
				Details:   map[string]interface{}{"metric": metric, "previous": p, "current": c, "drop": drop},
			})
		}
	}

	for _, metric := range riseSensitiveMetrics {
		p, okP := prev[metric]
		c, okC := curr[metric]
		if !okP || !okC {
			continue
		}
		rise := c - p
		if rise > threshold {
			alerts = append(alerts, Alert{
				AlertType: AlertKPIDegradation,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("%s rose by %.3f (%.3f -> %.3f)", metric, rise, p, c),
				Details:   map[string]interface{}{"metric": metric, "previous": p, "current": c, "rise": rise},
			})
		}
	}
	return alerts
}
