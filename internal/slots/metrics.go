package slots

import "expvar"

var (
	metricAssignedTotal     = expvar.NewInt("slots_assigned_total")
	metricExhaustedTotal    = expvar.NewInt("slots_exhausted_total")
	metricConflictsTotal    = expvar.NewInt("slots_conflicts_total")
	metricRandomProbeMisses = expvar.NewInt("slots_random_probe_misses_total")
	metricStaleResults      = expvar.NewInt("slots_stale_results_dropped_total")
)
