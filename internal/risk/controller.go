// Package risk implements the Risk Controller (§4.4): a set of pure
// decision functions over current position + price, backed by state
// carried across cycles (peak equity, staged take-profit tracking,
// consecutive-loss counting, the trading-paused latch, and rolling
// day/week/month P&L buckets).
package risk

import (
	"fmt"
	"sync"
	"time"

	"tradecore/internal/models"
)

// ActionType is the kind of exit the Risk Controller recommends.
type ActionType string

const (
	ActionLiquidation  ActionType = "liquidation"
	ActionMarginCall   ActionType = "margin_call"
	ActionStopLoss     ActionType = "stop_loss"
	ActionFullClose    ActionType = "full_close"
	ActionPartialClose ActionType = "partial_close"
)

// ExitAction is the Risk Controller's verdict for one position at one
// price, returned by GetExitAction.
type ExitAction struct {
	Action     ActionType
	CloseRatio float64
	Reason     string
	Level      int // staged take-profit index, 0 for the first stage
}

// TakeProfitStage is one rung of the staged take-profit ladder. Stages are
// evaluated in order; the first matching, not-yet-taken stage wins.
type TakeProfitStage struct {
	ThresholdPct float64
	CloseRatio   float64
}

// Config holds every tunable the Risk Controller reads. Percentages are
// expressed as whole numbers (15.0 == 15%), matching
// config.RiskManagementSection.
type Config struct {
	StopLossPct      float64
	TakeProfitStages []TakeProfitStage

	// LiquidationThresholdPct and MarginCallThresholdPct are expressed as
	// margin_ratio percentages (equity_in_position / initial_margin * 100);
	// only evaluated for leveraged positions.
	LiquidationThresholdPct float64
	MarginCallThresholdPct  float64

	MaxDrawdownPct    float64
	DailyLossLimitPct float64
	WeeklyLossLimitPct float64
	MonthlyLossLimitPct float64

	ConsecutiveLossLimit int
	PauseDuration        time.Duration
}

// DefaultConfig mirrors §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct: 10,
		TakeProfitStages: []TakeProfitStage{
			{ThresholdPct: 15, CloseRatio: 0.5},
			{ThresholdPct: 25, CloseRatio: 1.0},
		},
		LiquidationThresholdPct: 20,
		MarginCallThresholdPct:  50,
		MaxDrawdownPct:          20,
		DailyLossLimitPct:       5,
		WeeklyLossLimitPct:      10,
		MonthlyLossLimitPct:     20,
		ConsecutiveLossLimit:    5,
		PauseDuration:           24 * time.Hour,
	}
}

// Controller holds the cross-cycle risk state behind a single lock, the
// same shape the teacher's RiskManager uses for its margin/limits caches.
type Controller struct {
	mu sync.Mutex

	cfg Config

	peakEquity         float64
	partialProfitTaken map[string]bool

	consecutiveLosses int
	tradingPaused     bool
	pauseTimestamp    time.Time
	pauseReason       string

	dailyPnl, weeklyPnl, monthlyPnl       float64
	dailyKey, weeklyKey, monthlyKey       string
}

// NewController creates a Risk Controller with zeroed carried state.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:                cfg,
		partialProfitTaken: make(map[string]bool),
	}
}

// SetStopLossPct pushes a live update from the bot command interface's
// set_stop_loss, without disturbing any other carried state.
func (c *Controller) SetStopLossPct(pct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.StopLossPct = pct
}

// IsPaused reports the current trading-paused latch.
func (c *Controller) IsPaused() (paused bool, reason string, since time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tradingPaused, c.pauseReason, c.pauseTimestamp
}

// Pause manually latches trading_paused from the bot-command interface's
// pause command, independent of the automatic loss-limit triggers.
func (c *Controller) Pause(reason string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latchPause(now, reason)
}

// Resume manually clears trading_paused and the consecutive-loss counter,
// for the bot-command interface's resume command.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradingPaused = false
	c.pauseReason = ""
	c.consecutiveLosses = 0
}

// CheckAutoResume clears the pause latch 24 hours (PauseDuration) after it
// was set, zeroing the consecutive-loss counter, per §4.4's auto-resume
// rule. Called once per trade-loop cycle (§4.9 step 1).
func (c *Controller) CheckAutoResume(now time.Time) (resumed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tradingPaused {
		return false
	}
	if now.Sub(c.pauseTimestamp) < c.cfg.PauseDuration {
		return false
	}
	c.tradingPaused = false
	c.pauseReason = ""
	c.consecutiveLosses = 0
	return true
}

// UpdatePeakEquity advances the peak-equity high-water mark monotonically
// and reports whether current equity has breached max_drawdown_pct from
// that peak — in which case new entries must be refused.
func (c *Controller) UpdatePeakEquity(equity float64) (overDrawdown bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if equity > c.peakEquity {
		c.peakEquity = equity
	}
	if c.peakEquity <= 0 {
		return false
	}
	drawdownPct := (c.peakEquity - equity) / c.peakEquity * 100
	return drawdownPct >= c.cfg.MaxDrawdownPct
}

// ShouldEnterTrade accepts a new entry only if trading is not paused, no
// period loss limit or drawdown has been breached, and the signal's
// confidence clears the floor.
func (c *Controller) ShouldEnterTrade(confidence, minConfidence, equity, initialEquity float64) bool {
	c.mu.Lock()
	paused := c.tradingPaused
	overDaily := c.cfg.DailyLossLimitPct > 0 && -c.dailyPnl/initialEquity*100 >= c.cfg.DailyLossLimitPct
	overWeekly := c.cfg.WeeklyLossLimitPct > 0 && -c.weeklyPnl/initialEquity*100 >= c.cfg.WeeklyLossLimitPct
	overMonthly := c.cfg.MonthlyLossLimitPct > 0 && -c.monthlyPnl/initialEquity*100 >= c.cfg.MonthlyLossLimitPct
	c.mu.Unlock()

	if paused || overDaily || overWeekly || overMonthly {
		return false
	}
	if c.UpdatePeakEquity(equity) {
		return false
	}
	return confidence >= minConfidence
}

// GetExitAction evaluates margin, then stop-loss, then staged
// take-profit, returning the first positive match. Margin checks precede
// every other exit check (§4.4).
func (c *Controller) GetExitAction(p *models.Position, price float64) (*ExitAction, bool) {
	if p.IsLeveraged && p.Leverage > 0 {
		if action, ok := c.checkMargin(p, price); ok {
			return action, true
		}
	}

	pnlPct := p.UnrealizedPnlPct(price)

	c.mu.Lock()
	defer c.mu.Unlock()

	if pnlPct <= -c.cfg.StopLossPct {
		return &ExitAction{Action: ActionStopLoss, CloseRatio: 1.0, Reason: "stop_loss"}, true
	}

	for i, stage := range c.cfg.TakeProfitStages {
		if pnlPct < stage.ThresholdPct {
			continue
		}
		if i == 0 {
			if c.partialProfitTaken[p.Symbol] {
				continue
			}
			c.partialProfitTaken[p.Symbol] = true
			return &ExitAction{Action: ActionPartialClose, CloseRatio: stage.CloseRatio, Reason: "take_profit_staged", Level: i}, true
		}
		return &ExitAction{Action: ActionFullClose, CloseRatio: 1.0, Reason: "take_profit_final", Level: i}, true
	}

	return nil, false
}

func (c *Controller) checkMargin(p *models.Position, price float64) (*ExitAction, bool) {
	initialMargin := p.EntryPrice * p.Quantity / p.Leverage
	if initialMargin <= 0 {
		return nil, false
	}
	unrealized := (price - p.EntryPrice) * p.Quantity
	if p.Side == models.SideShort {
		unrealized = (p.EntryPrice - price) * p.Quantity
	}
	equityInPosition := initialMargin + unrealized
	marginRatio := equityInPosition / initialMargin * 100

	if marginRatio <= c.cfg.LiquidationThresholdPct {
		return &ExitAction{Action: ActionLiquidation, CloseRatio: 1.0, Reason: "margin_liquidation"}, true
	}
	if marginRatio <= c.cfg.MarginCallThresholdPct {
		return &ExitAction{Action: ActionMarginCall, CloseRatio: 0, Reason: "margin_call"}, true
	}
	return nil, false
}

// RecordTrade updates the consecutive-loss counter and rolling period P&L
// buckets from one realized fill. Losses at or below 0 count as losses.
// Breaching consecutive_loss_limit, or any period bucket's limit, latches
// trading_paused.
func (c *Controller) RecordTrade(pnl, equityBase float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollBuckets(now)
	c.dailyPnl += pnl
	c.weeklyPnl += pnl
	c.monthlyPnl += pnl

	if pnl <= 0 {
		c.consecutiveLosses++
	} else {
		c.consecutiveLosses = 0
	}

	if c.consecutiveLosses >= c.cfg.ConsecutiveLossLimit {
		c.latchPause(now, "consecutive_loss_limit")
		return
	}
	if equityBase <= 0 {
		return
	}
	if c.cfg.DailyLossLimitPct > 0 && -c.dailyPnl/equityBase*100 >= c.cfg.DailyLossLimitPct {
		c.latchPause(now, "daily_loss_limit")
	} else if c.cfg.WeeklyLossLimitPct > 0 && -c.weeklyPnl/equityBase*100 >= c.cfg.WeeklyLossLimitPct {
		c.latchPause(now, "weekly_loss_limit")
	} else if c.cfg.MonthlyLossLimitPct > 0 && -c.monthlyPnl/equityBase*100 >= c.cfg.MonthlyLossLimitPct {
		c.latchPause(now, "monthly_loss_limit")
	}
}

func (c *Controller) latchPause(now time.Time, reason string) {
	c.tradingPaused = true
	c.pauseTimestamp = now
	c.pauseReason = reason
}

// rollBuckets resets the day/week/month accumulators whenever their ISO
// key changes, called with the lock held.
func (c *Controller) rollBuckets(now time.Time) {
	dayKey := now.Format("2006-01-02")
	year, week := now.ISOWeek()
	weekKey := fmt.Sprintf("%d-W%02d", year, week)
	monthKey := now.Format("2006-01")

	if dayKey != c.dailyKey {
		c.dailyKey = dayKey
		c.dailyPnl = 0
	}
	if weekKey != c.weeklyKey {
		c.weeklyKey = weekKey
		c.weeklyPnl = 0
	}
	if monthKey != c.monthlyKey {
		c.monthlyKey = monthKey
		c.monthlyPnl = 0
	}
}

// PositionSize computes risk-based sizing: quantity = risk_amount / |entry
// - stop_loss|, capped at max_position_size_pct * capital / price. For
// shorts the stop-loss price sits above entry.
func PositionSize(availableCapital, currentPrice, riskPct, stopLossPrice, maxPositionSizePct float64, side models.Side) float64 {
	if availableCapital <= 0 || currentPrice <= 0 {
		return 0
	}
	riskAmount := availableCapital * riskPct / 100

	var perUnitRisk float64
	if side == models.SideShort {
		perUnitRisk = stopLossPrice - currentPrice
	} else {
		perUnitRisk = currentPrice - stopLossPrice
	}
	if perUnitRisk <= 0 {
		return 0
	}

	quantity := riskAmount / perUnitRisk
	maxQuantity := maxPositionSizePct * availableCapital / currentPrice
	if quantity > maxQuantity {
		quantity = maxQuantity
	}
	return quantity
}
