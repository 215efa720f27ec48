package ws

import "expvar"

var (
	metricPeersConnected  = expvar.NewInt("ws_peers_connected")
	metricRejectedTotal   = expvar.NewInt("ws_rejected_total")
	metricFramesInTotal   = expvar.NewInt("ws_frames_in_total")
	metricFramesOutTotal  = expvar.NewInt("ws_frames_out_total")
	metricSlowPeersTotal  = expvar.NewInt("ws_slow_peers_total")
	metricDialErrorsTotal = expvar.NewInt("ws_dial_errors_total")
	metricDropsTotal      = expvar.NewInt("ws_client_drops_total")
)
