package roomprops

import "expvar"

var (
	metricUpdatesReceivedTotal = expvar.NewInt("roomprops_updates_received_total")
	metricUpdateDecodeErrors   = expvar.NewInt("roomprops_update_decode_errors_total")
	metricWritesTotal          = expvar.NewInt("roomprops_writes_total")
	metricWritesRejectedTotal  = expvar.NewInt("roomprops_writes_rejected_total")
	metricPublishErrorsTotal   = expvar.NewInt("roomprops_publish_errors_total")
	metricRoomsInitialized     = expvar.NewInt("roomprops_rooms_initialized_total")
	metricHistoryAdopted       = expvar.NewInt("roomprops_history_adopted_total")
	metricStaleResultsDropped  = expvar.NewInt("roomprops_stale_results_dropped_total")
	metricKicksTotal           = expvar.NewInt("roomprops_kicks_total")
)
