package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(tokenRefreshTotal, tokenRefreshShared, apiAuthRetries)
}

var tokenRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_token_refresh_total",
		Help: "OAuth refresh attempts by outcome.",
	},
	[]string{"outcome"}, // 'ok', 'error', 'invalid'
)

var tokenRefreshShared = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crm_token_refresh_shared_total",
		Help: "Refresh calls answered by an already in-flight refresh.",
	},
)

var apiAuthRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crm_api_auth_retries_total",
		Help: "REST calls retried once after a 401 and forced refresh.",
	},
)

func IncTokenRefresh(outcome string) {
	tokenRefreshTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncTokenRefreshShared() { tokenRefreshShared.Inc() }

func IncAPIAuthRetry() { apiAuthRetries.Inc() }
