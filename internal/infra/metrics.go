package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus instrumentation for the order-safety gateway and GTT engine.
// Registered once at package init; served by cmd/trader via promhttp.
var (
	MetricOrdersAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_orders_attempted_total",
		Help: "Orders submitted to the validation pipeline",
	})
	MetricOrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_orders_placed_total",
		Help: "Orders accepted (live or simulated)",
	})
	MetricOrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_rejected_total",
		Help: "Orders rejected by the validation pipeline, by stage",
	}, []string{"stage"})
	MetricKillSwitchState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_kill_switch_active",
		Help: "1 while the kill switch is active, 0 otherwise",
	})
	MetricGTTTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_gtt_triggered_total",
		Help: "GTT records transitioned to TRIGGERED",
	})
	MetricGTTFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_gtt_failed_total",
		Help: "GTT executions that ended in FAILED",
	})
	MetricMonitorCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_gtt_monitor_cycles_total",
		Help: "Completed GTT monitor cycles",
	})
	MetricQuoteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_quote_errors_total",
		Help: "Price lookups that failed during monitoring",
	})
)

func init() {
	prometheus.MustRegister(
		MetricOrdersAttempted, MetricOrdersPlaced, MetricOrdersRejected,
		MetricKillSwitchState, MetricGTTTriggered, MetricGTTFailed,
		MetricMonitorCycles, MetricQuoteErrors,
	)
	MetricKillSwitchState.Set(0)
}
