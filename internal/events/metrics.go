package events

import "expvar"

var (
	metricHandlerPanicsTotal  = expvar.NewInt("events_handler_panics_total")
	metricJournalDroppedTotal = expvar.NewInt("events_journal_dropped_total")
)
