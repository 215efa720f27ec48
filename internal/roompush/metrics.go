package roompush

import "expvar"

var (
	metricPushQueuedTotal       = expvar.NewInt("room_push_queued_total")
	metricPushDroppedTotal      = expvar.NewInt("room_push_dropped_total")
	metricPushRetryTotal        = expvar.NewInt("room_push_retry_total")
	metricPushRetryDroppedTotal = expvar.NewInt("room_push_retry_dropped_total")
	metricPushSentTotal         = expvar.NewInt("room_push_sent_total")
	metricPushFailedTotal       = expvar.NewInt("room_push_failed_total")
	metricPushCircuitOpenTotal  = expvar.NewInt("room_push_circuit_open_total")
	metricPushQueueLen          = expvar.NewInt("room_push_queue_len")
	metricPushRetryPending      = expvar.NewInt("room_push_retry_pending")
	metricPushConfigReloadTotal = expvar.NewInt("room_push_config_reload_total")
	metricPushConfigReloadError = expvar.NewInt("room_push_config_reload_error_total")
)
