package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PollCycles       = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_poll_cycles_total", Help: "Completed poll cycles"})
	PollCycleErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_poll_cycle_errors_total", Help: "Poll cycles that logged an error"})
	RPCAttempts      = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_rpc_attempts_total", Help: "Outbound RPC transmission attempts"})
	RPCRetries       = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_rpc_retries_total", Help: "RPC attempts beyond the first"})
	RPCAuths         = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_rpc_auth_total", Help: "Authentication exchanges performed"})
	AlertsFired      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "greekswatch_alerts_fired_total", Help: "Alerts delivered, by metric"}, []string{"metric"})
	AlertsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{Name: "greekswatch_alerts_suppressed_total", Help: "Alerts held back by cooldown or the global switch"})
)

func init() {
	prometheus.MustRegister(
		PollCycles,
		PollCycleErrors,
		RPCAttempts,
		RPCRetries,
		RPCAuths,
		AlertsFired,
		AlertsSuppressed,
	)
}

// Serve exposes /metrics on addr in the background. An empty addr disables it.
func Serve(addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}
