package execution

import "time"

// Config holds every tunable the Order Executor and Pair Executor read.
// None of these are part of the YAML trading document (its sections are
// trading/risk_management/pair_trading/strategy_allocation/reporting) —
// they are execution-mechanics constants, the same
// way the teacher's bot package hard-codes its own retry/timeout shape
// rather than exposing it as an operator-facing option.
type Config struct {
	MaxPositions int

	PriceSlipWarnPct  float64
	PriceSlipErrorPct float64

	// PartialFillWarnRatio below which a fill is logged as partial, per
	// §4.5 step 7's "filled < amount * 0.95".
	PartialFillWarnRatio float64

	// StatusPollSchedule is the bounded poll schedule for §4.5 step 6,
	// summing to at most 62s as documented.
	StatusPollSchedule []time.Duration

	MaxRollbackRetries int
	RollbackBackoff    []time.Duration

	CommissionRate float64
}

// DefaultConfig mirrors §4.5/§4.6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositions:         5,
		PriceSlipWarnPct:     2,
		PriceSlipErrorPct:    5,
		PartialFillWarnRatio: 0.95,
		StatusPollSchedule: []time.Duration{
			2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 16 * time.Second, 16 * time.Second,
		},
		MaxRollbackRetries: 3,
		RollbackBackoff:    []time.Duration{2 * time.Second, 4 * time.Second},
		CommissionRate:     0.001,
	}
}
