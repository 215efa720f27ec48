package engine

import "expvar"

var (
	metricSessionsJoinedTotal = expvar.NewInt("engine_sessions_joined_total")
	metricSessionsActive      = expvar.NewInt("engine_sessions_active")
	metricSessionsLeftTotal   = expvar.NewInt("engine_sessions_left_total")
	metricPresenceEventsTotal = expvar.NewInt("engine_presence_events_total")
)
