package httptransport

import "expvar"

var (
	metricHistoryQueryTotal  = expvar.NewInt("history_query_total")
	metricHistoryQueryErrors = expvar.NewInt("history_query_errors_total")

	metricSSEConnectionsTotal  = expvar.NewInt("sse_connections_total")
	metricSSEConnectionsActive = expvar.NewInt("sse_connections_active")
)
