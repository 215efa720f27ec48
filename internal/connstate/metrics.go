package connstate

import "expvar"

var (
	metricReconnectAttemptsTotal = expvar.NewInt("connection_reconnect_attempts_total")
	metricRejoinsTotal           = expvar.NewInt("connection_rejoins_total")
	metricAuthFailedTotal        = expvar.NewInt("connection_auth_failed_total")
)
