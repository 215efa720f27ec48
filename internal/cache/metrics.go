package cache

import "expvar"

var (
	metricRedisAppendsTotal = expvar.NewInt("cache_redis_appends_total")
	metricRedisErrorsTotal  = expvar.NewInt("cache_redis_errors_total")
)
