package memory

import "expvar"

var (
	metricMessagesPublishedTotal = expvar.NewInt("hub_messages_published_total")
	metricPresenceEventsTotal    = expvar.NewInt("hub_presence_events_total")
	metricAuthRejectedTotal      = expvar.NewInt("hub_auth_rejected_total")
	metricHistoryErrorsTotal     = expvar.NewInt("hub_history_errors_total")
)
