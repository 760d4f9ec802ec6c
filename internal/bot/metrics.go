package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the trade loop. Namespace/subsystem layout follows
// the same shape the teacher used, renamed from "arbitrage" to "tradecore"
// and with the spread/shard-specific series dropped — this engine runs a
// single cooperative loop, not sharded lock-free workers.

// ============ Latency ============

var CycleLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "cycle_latency_ms",
		Help:      "Time to run one trade loop cycle in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"stage"}, // total, trend, pairs, maintenance
)

var SignalLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "signal_latency_ms",
		Help:      "Time spent waiting on an external signal collaborator in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"collaborator"}, // trend, cointegration
)

var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "order_execution_latency_ms",
		Help:      "Time to execute an order on the exchange in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "side"},
)

// ============ Counters ============

var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "events_processed_total",
		Help:      "Total number of processed loop events",
	},
	[]string{"type"}, // cycle, entry, exit, reconcile_sweep
)

var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Total number of trades",
	},
	[]string{"symbol", "result"}, // result: success, failed, rollback
)

var PnlTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "pnl_total",
		Help:      "Total realized PnL in quote currency",
	},
)

var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "buffer_overflows_total",
		Help:      "Number of dropped events due to a full buffer",
	},
	[]string{"buffer"}, // notification
)

var APIErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "api_errors_total",
		Help:      "Total number of exchange API errors observed by the loop",
	},
	[]string{"exchange"},
)

var StopLossTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "stop_loss_triggered_total",
		Help:      "Number of stop loss triggers",
	},
	[]string{"symbol"},
)

var TakeProfitTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "take_profit_triggered_total",
		Help:      "Number of take profit stage triggers",
	},
	[]string{"symbol", "stage"},
)

var LiquidationsDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "liquidations_detected_total",
		Help:      "Number of liquidation-threshold breaches detected",
	},
	[]string{"exchange", "symbol"},
)

// ============ Gauges ============

var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Current number of open single-leg positions",
	},
)

var OpenPairs = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "trading",
		Name:      "open_pairs",
		Help:      "Number of open pair positions by status",
	},
	[]string{"status"},
)

var ExchangeConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "connection_status",
		Help:      "Exchange connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

var ExchangeBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "balance",
		Help:      "Exchange balance in quote currency",
	},
	[]string{"exchange"},
)

var ConsecutiveAPIErrors = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "exchange",
		Name:      "consecutive_api_errors",
		Help:      "Current consecutive API error count tracked by the loop",
	},
)

var SafeModeLatched = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "safe_mode_latched",
		Help:      "Whether safe mode is currently latched (1=latched, 0=clear)",
	},
)

var TradingPaused = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "risk",
		Name:      "trading_paused",
		Help:      "Whether the risk controller has paused new entries (1=paused, 0=active)",
	},
)

var GoroutineCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	},
)

// ============ Helpers ============

func RecordTrade(symbol, result string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
	if result == "success" && pnl != 0 {
		PnlTotal.Add(pnl)
	}
}

func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

func UpdateExchangeStatus(exchange string, connected bool, balance float64) {
	if connected {
		ExchangeConnections.WithLabelValues(exchange).Set(1)
	} else {
		ExchangeConnections.WithLabelValues(exchange).Set(0)
	}
	ExchangeBalance.WithLabelValues(exchange).Set(balance)
}
