// Package bot implements the trade loop: the single cooperative goroutine
// that drives every trading decision end to end (§4.9). Where the teacher
// ran sharded, lock-free workers racing each other over a symbol's state,
// this loop runs one stage after another, once per tick, so "is this
// symbol being traded right now" never has more than one answer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	ossignal "os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/execution"
	"tradecore/internal/health"
	"tradecore/internal/models"
	"tradecore/internal/pairsignal"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/repository"
	"tradecore/internal/report"
	"tradecore/internal/risk"
	"tradecore/internal/safemode"
	"tradecore/internal/signal"
	"tradecore/internal/xerrors"
	"tradecore/pkg/utils"
)

// maxAPIErrorBackoff caps the 2^n backoff the loop applies after each
// consecutive exchange API error, so a long run of failures still polls
// roughly once a minute instead of sleeping for hours.
const maxAPIErrorBackoff = 60 * time.Second

// maxHistoryLength bounds how many price samples the loop keeps per
// symbol for the signal collaborators — generous enough for any
// reasonable lookback/slow-period configuration without growing forever.
const maxHistoryLength = 500

// Notifier is the minimal surface the loop needs to raise events — the
// same fire-and-forget contract every other subsystem depends on.
type Notifier interface {
	Notify(n *models.Notification)
}

// StatusSnapshot is the bot-command interface's read of the loop's
// current state (the "status" command of §6 EXTERNAL INTERFACES).
type StatusSnapshot struct {
	SafeModeLatched      bool   `json:"safe_mode_latched"`
	SafeModeReason       string `json:"safe_mode_reason"`
	TradingPaused        bool   `json:"trading_paused"`
	PauseReason          string `json:"pause_reason"`
	OpenPositions        int    `json:"open_positions"`
	OpenPairs            int    `json:"open_pairs"`
	ConsecutiveAPIErrors int64  `json:"consecutive_api_errors"`
	CycleCount           int64  `json:"cycle_count"`
}

// pairCandidate is one trend-symbol combination eligible for pair trading.
type pairCandidate struct {
	ID      string
	Symbol1 string
	Symbol2 string
}

// TradeLoop owns every collaborator the trading system needs and drives
// them from one goroutine. Concurrency survives only at the bot-command
// HTTP boundary (§5): callers there read TradeLoop's state or push a
// command through a method call, never by reaching into loop-owned maps
// directly.
type TradeLoop struct {
	cfg     config.TradingDocument
	execCfg execution.Config

	adapter     *exchange.Adapter
	orderExec   *execution.OrderExecutor
	pairExec    *execution.PairExecutor
	store       *position.Store
	maintenance *repository.Maintenance
	riskCtrl    *risk.Controller
	safeMode    *safemode.Controller
	reconciler  *reconcile.Reconciler
	trendSignal signal.Collaborator
	pairSignal  pairsignal.Collaborator
	notifier    Notifier
	health      *health.Checker
	reporter    *report.Reporter
	schedule    report.Schedule

	priceHistory map[string][]signal.PricePoint
	pairHistory  map[string][]float64
	lastPrice    map[string]float64

	cycleCount         int64
	consecutiveAPIErrs int64
	maxConsecutiveErrs int

	reportedMinute string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Deps bundles every collaborator TradeLoop needs, so NewTradeLoop's
// signature stays readable as the system grows.
type Deps struct {
	Config      config.TradingDocument
	ExecConfig  execution.Config
	Adapter     *exchange.Adapter
	OrderExec   *execution.OrderExecutor
	PairExec    *execution.PairExecutor
	Store       *position.Store
	Maintenance *repository.Maintenance
	RiskCtrl    *risk.Controller
	SafeMode    *safemode.Controller
	Reconciler  *reconcile.Reconciler
	TrendSignal signal.Collaborator
	PairSignal  pairsignal.Collaborator
	Notifier    Notifier
	Health      *health.Checker
	Reporter    *report.Reporter
	Schedule    report.Schedule

	MaxConsecutiveAPIErrors int
}

// NewTradeLoop wires a TradeLoop from its Deps, with zeroed history
// buffers and an open stop channel.
func NewTradeLoop(d Deps) *TradeLoop {
	maxErrs := d.MaxConsecutiveAPIErrors
	if maxErrs <= 0 {
		maxErrs = 10
	}
	return &TradeLoop{
		cfg:                d.Config,
		execCfg:            d.ExecConfig,
		adapter:            d.Adapter,
		orderExec:          d.OrderExec,
		pairExec:           d.PairExec,
		store:              d.Store,
		maintenance:        d.Maintenance,
		riskCtrl:           d.RiskCtrl,
		safeMode:           d.SafeMode,
		reconciler:         d.Reconciler,
		trendSignal:        d.TrendSignal,
		pairSignal:         d.PairSignal,
		notifier:           d.Notifier,
		health:             d.Health,
		reporter:           d.Reporter,
		schedule:           d.Schedule,
		priceHistory:       make(map[string][]signal.PricePoint),
		pairHistory:        make(map[string][]float64),
		lastPrice:          make(map[string]float64),
		maxConsecutiveErrs: maxErrs,
		stopCh:             make(chan struct{}),
	}
}

// Run drives the loop on a ticker at the configured trading interval
// until ctx is cancelled, a SIGINT/SIGTERM arrives, or the hard
// consecutive-API-error stop fires.
func (tl *TradeLoop) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)

	interval := time.Duration(tl.cfg.Trading.TradingIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	utils.Info("trade loop starting", utils.String("interval", interval.String()))

	for {
		select {
		case <-ctx.Done():
			tl.shutdown(context.Background())
			return ctx.Err()
		case <-sigCh:
			utils.Info("shutdown signal received")
			tl.shutdown(context.Background())
			return nil
		case <-tl.stopCh:
			return nil
		case <-ticker.C:
			tl.runCycle(ctx)
		}
	}
}

// runCycle sequences one full pass: auto-resume check, trend stage, pair
// stage, maintenance stage, reporting stage, then gauge updates. Stages
// run unconditionally even when safe mode is latched or trading is
// paused — both only block new entries (enforced inside the executors
// and risk.ShouldEnterTrade), never the evaluation of open positions for
// an exit.
func (tl *TradeLoop) runCycle(ctx context.Context) {
	cycle := atomic.AddInt64(&tl.cycleCount, 1)
	start := time.Now()
	defer func() { CycleLatency.WithLabelValues("total").Observe(msSince(start)) }()
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			utils.Error("trade loop cycle panicked, skipping cycle",
				utils.Int64("cycle", cycle), utils.String("panic", fmt.Sprint(r)), utils.String("stack", string(buf)))
			tl.notifier.Notify(&models.Notification{
				Timestamp: time.Now(),
				Type:      models.NotificationError,
				Severity:  models.SeverityCritical,
				Message:   fmt.Sprintf("trade loop cycle %d panicked: %v", cycle, r),
			})
		}
	}()

	if tl.riskCtrl.CheckAutoResume(time.Now()) {
		utils.Info("trading auto-resumed after pause duration elapsed")
	}

	paused, reason, _ := tl.riskCtrl.IsPaused()
	latched := tl.safeMode.IsLatched()
	TradingPaused.Set(boolToFloat(paused))
	SafeModeLatched.Set(boolToFloat(latched))
	if paused {
		utils.Debug("trading paused, new entries suppressed", utils.String("reason", reason))
	}
	if latched {
		utils.Debug("safe mode latched, new entries suppressed")
	}

	tl.runTrendStage(ctx)
	tl.runPairStage(ctx)
	tl.runMaintenanceStage(ctx, cycle)
	tl.runReportingStage(ctx)

	OpenPositions.Set(float64(tl.store.OpenPositionCount()))
	OpenPairs.WithLabelValues("open").Set(float64(len(tl.store.GetOpenPairPositions())))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// runTrendStage walks every configured symbol, pricing it once, and
// either evaluates an open position for exit or a flat symbol for entry.
func (tl *TradeLoop) runTrendStage(ctx context.Context) {
	start := time.Now()
	defer func() { CycleLatency.WithLabelValues("trend").Observe(msSince(start)) }()

	for _, symbol := range tl.cfg.Trading.Symbols {
		price, err := tl.adapter.GetCurrentPrice(ctx, symbol)
		if err != nil {
			tl.recordAPIError(ctx, err)
			continue
		}
		tl.recordAPISuccess()
		tl.pushPriceHistory(symbol, price.Last)

		if pos, ok := tl.store.GetPosition(symbol); ok && pos.IsOpen() {
			tl.evaluateExit(ctx, pos, price.Last)
			continue
		}
		tl.evaluateEntry(ctx, symbol, price.Last)
	}
}

// evaluateExit applies the risk controller's exit decision to one open
// position. A margin call is alert-only (CloseRatio 0); everything else
// either partially or fully closes the position.
func (tl *TradeLoop) evaluateExit(ctx context.Context, pos *models.Position, price float64) {
	action, ok := tl.riskCtrl.GetExitAction(pos, price)
	if !ok {
		return
	}

	if action.Action == risk.ActionMarginCall {
		tl.notifier.Notify(&models.Notification{
			Type:       models.NotificationAlert,
			Severity:   models.SeverityWarn,
			PositionID: pos.ID,
			Message:    fmt.Sprintf("%s margin call at %.4f", pos.Symbol, price),
		})
		return
	}

	if action.Action == risk.ActionPartialClose {
		tl.partialClose(ctx, pos, action.CloseRatio)
		return
	}

	closed, err := tl.orderExec.ClosePosition(ctx, pos.Symbol)
	if err != nil {
		tl.recordAPIError(ctx, err)
		utils.Error("failed to close position on exit signal",
			utils.String("symbol", pos.Symbol), utils.String("action", string(action.Action)), utils.Err(err))
		return
	}
	tl.recordAPISuccess()

	tl.riskCtrl.RecordTrade(closed.RealizedPnl, tl.cfg.Trading.InitialCapital, time.Now())
	RecordTrade(pos.Symbol, "success", closed.RealizedPnl)

	switch action.Action {
	case risk.ActionStopLoss:
		StopLossTriggered.WithLabelValues(pos.Symbol).Inc()
	case risk.ActionLiquidation:
		LiquidationsDetected.WithLabelValues("exchange", pos.Symbol).Inc()
	case risk.ActionFullClose:
		TakeProfitTriggered.WithLabelValues(pos.Symbol, fmt.Sprintf("%d", action.Level)).Inc()
	}
}

// partialClose places a standalone partial market order and applies it to
// the store directly. OrderExecutor exposes no partial-close method — its
// ClosePosition always fully unwinds a position — so the staged
// take-profit levels of §4.4 are implemented here instead.
func (tl *TradeLoop) partialClose(ctx context.Context, pos *models.Position, ratio float64) {
	qty := pos.Quantity * ratio
	side := exchange.Sell
	if pos.Side == models.SideShort {
		side = exchange.Buy
	}

	order, err := tl.adapter.CreateMarketOrder(ctx, pos.Symbol, side, qty)
	if err != nil {
		tl.recordAPIError(ctx, err)
		utils.Error("partial close order failed", utils.String("symbol", pos.Symbol), utils.Err(err))
		return
	}
	tl.recordAPISuccess()

	exitPrice := order.Average
	if exitPrice == 0 {
		exitPrice = order.Price
	}

	trade, err := tl.store.PartialClosePosition(ctx, pos.Symbol, exitPrice, ratio, tl.execCfg.CommissionRate)
	if err != nil {
		utils.Error("partial close store update failed", utils.String("symbol", pos.Symbol), utils.Err(err))
		return
	}

	tl.riskCtrl.RecordTrade(trade.ProfitLoss, tl.cfg.Trading.InitialCapital, time.Now())
	RecordTrade(pos.Symbol, "success", trade.ProfitLoss)
	TakeProfitTriggered.WithLabelValues(pos.Symbol, "0").Inc()

	tl.notifier.Notify(&models.Notification{
		Type:       models.NotificationTakeProfit,
		Severity:   models.SeverityInfo,
		PositionID: pos.ID,
		Message:    fmt.Sprintf("%s partial take-profit: %.1f%% closed at %.4f", pos.Symbol, ratio*100, exitPrice),
		Meta:       map[string]interface{}{"ratio": ratio, "price": exitPrice, "pnl": trade.ProfitLoss},
	})
}

// evaluateEntry asks the trend signal collaborator for a decision and, if
// it clears the confidence floor and the risk controller's gate, opens a
// new single-leg position.
func (tl *TradeLoop) evaluateEntry(ctx context.Context, symbol string, price float64) {
	history := tl.priceHistory[symbol]
	if len(history) < 2 {
		return
	}

	sigStart := time.Now()
	decision, err := tl.trendSignal.GenerateTradingSignal(ctx, history, tl.cfg.Trading.MinConfidence, symbol)
	SignalLatency.WithLabelValues("trend").Observe(msSince(sigStart))
	if err != nil {
		utils.Warn("trend signal failed", utils.String("symbol", symbol), utils.Err(err))
		return
	}
	if decision.Signal == signal.ActionHold {
		return
	}

	equity := tl.currentEquity(ctx, symbol)
	if !tl.riskCtrl.ShouldEnterTrade(decision.Confidence, tl.cfg.Trading.MinConfidence, equity, tl.cfg.Trading.InitialCapital) {
		return
	}

	side := models.SideLong
	if decision.Signal == signal.ActionSell {
		side = models.SideShort
	}

	req := execution.EntryRequest{
		Symbol:             symbol,
		Side:               side,
		QuotedPrice:        price,
		AvailableCapital:   equity,
		RiskPct:            tl.cfg.RiskManagement.StopLossPct,
		StopLossPrice:      stopLossPriceFor(side, price, tl.cfg.RiskManagement.StopLossPct),
		MaxPositionSizePct: tl.cfg.RiskManagement.MaxPositionSize,
	}

	orderStart := time.Now()
	_, err = tl.orderExec.OpenPosition(ctx, req)
	OrderExecutionLatency.WithLabelValues("exchange", string(side)).Observe(msSince(orderStart))
	if err != nil {
		var riskBlock *xerrors.RiskBlock
		if errors.As(err, &riskBlock) {
			return
		}
		tl.recordAPIError(ctx, err)
		return
	}
	tl.recordAPISuccess()
}

// currentEquity reads the live quote-currency balance for symbol,
// falling back to the configured initial capital if the exchange call
// fails, so a transient balance-fetch error degrades sizing rather than
// halting entry evaluation outright.
func (tl *TradeLoop) currentEquity(ctx context.Context, symbol string) float64 {
	bal, err := tl.adapter.FetchBalance(ctx, models.QuoteCurrency(symbol))
	if err != nil {
		tl.recordAPIError(ctx, err)
		return tl.cfg.Trading.InitialCapital
	}
	tl.recordAPISuccess()
	ExchangeBalance.WithLabelValues("exchange").Set(bal.Total)
	return bal.Total
}

// runPairStage evaluates every candidate symbol pair for exit (if open)
// or entry (if flat), after refreshing the cointegration collaborator
// with the latest price history.
func (tl *TradeLoop) runPairStage(ctx context.Context) {
	start := time.Now()
	defer func() { CycleLatency.WithLabelValues("pairs").Observe(msSince(start)) }()

	candidates := candidatePairs(tl.cfg.Trading.Symbols, tl.cfg.PairTrading.MaxPairs)
	if len(candidates) == 0 {
		return
	}

	prices := make(map[string]pairsignal.Series, len(tl.cfg.Trading.Symbols))
	for _, sym := range tl.cfg.Trading.Symbols {
		prices[sym] = pairsignal.Series(tl.pairHistory[sym])
	}

	if err := tl.pairSignal.UpdateCointegration(ctx, prices); err != nil {
		utils.Warn("cointegration update failed", utils.Err(err))
		return
	}

	sigStart := time.Now()
	signals, err := tl.pairSignal.GenerateSignals(ctx, prices)
	SignalLatency.WithLabelValues("cointegration").Observe(msSince(sigStart))
	if err != nil {
		utils.Warn("pair signal generation failed", utils.Err(err))
		return
	}

	for _, cand := range candidates {
		price1, ok1 := tl.lastPrice[cand.Symbol1]
		price2, ok2 := tl.lastPrice[cand.Symbol2]
		if !ok1 || !ok2 {
			continue
		}

		if pp, open := tl.store.GetPairPosition(cand.ID); open && pp.IsOpen() {
			tl.evaluatePairExit(ctx, pp, signals[cand.ID], price1, price2)
			continue
		}

		sig, ok := signals[cand.ID]
		if !ok {
			continue
		}
		tl.evaluatePairEntry(ctx, cand, sig, price1, price2)
	}
}

// evaluatePairExit closes an open pair on a close signal, a z-score
// breach of the stop-loss threshold, or a spread-level stop-loss on the
// pair's own unrealized P&L percentage.
func (tl *TradeLoop) evaluatePairExit(ctx context.Context, pp *models.PairPosition, sig pairsignal.SpreadSignal, price1, price2 float64) {
	pnl := pairUnrealizedPnl(pp, price1, price2)
	tl.store.UpdatePairUnrealized(pp.PairID, pnl)

	var pnlPct float64
	if pp.EntryCapital > 0 {
		pnlPct = pnl / pp.EntryCapital * 100
	}

	shouldClose := sig.Signal == pairsignal.ActionClose ||
		math.Abs(sig.ZScore) >= tl.cfg.PairTrading.ZScoreStopLoss ||
		pnlPct <= -tl.cfg.RiskManagement.StopLossPct
	if !shouldClose {
		return
	}

	closed, err := tl.pairExec.ClosePair(ctx, pp.PairID)
	if err != nil {
		tl.recordAPIError(ctx, err)
		utils.Error("failed to close pair position", utils.String("pair_id", pp.PairID), utils.Err(err))
		return
	}
	tl.recordAPISuccess()

	tl.riskCtrl.RecordTrade(closed.RealizedPnl, tl.cfg.Trading.InitialCapital, time.Now())
	RecordTrade(pp.PairID, "success", closed.RealizedPnl)
}

// evaluatePairEntry opens a new pair position on a long/short spread
// signal that clears the entry z-score threshold.
func (tl *TradeLoop) evaluatePairEntry(ctx context.Context, cand pairCandidate, sig pairsignal.SpreadSignal, price1, price2 float64) {
	if sig.Signal != pairsignal.ActionLongSpread && sig.Signal != pairsignal.ActionShortSpread {
		return
	}
	if math.Abs(sig.ZScore) < tl.cfg.PairTrading.ZScoreEntry {
		return
	}

	equity := tl.currentEquity(ctx, cand.Symbol1)
	capital := equity * tl.cfg.PairTrading.PositionSizePct
	if capital <= 0 || price1 <= 0 || price2 <= 0 {
		return
	}

	direction := models.DirectionLongSpread
	if sig.Signal == pairsignal.ActionShortSpread {
		direction = models.DirectionShortSpread
	}

	size1 := capital / 2 / price1
	size2 := size1 * sig.HedgeRatio

	req := execution.PairEntryRequest{
		Symbol1:      cand.Symbol1,
		Symbol2:      cand.Symbol2,
		Direction:    direction,
		HedgeRatio:   sig.HedgeRatio,
		Size1:        size1,
		Size2:        size2,
		QuotedPrice1: price1,
		QuotedPrice2: price2,
		EntrySpread:  price1 - sig.HedgeRatio*price2,
		EntryZScore:  sig.ZScore,
		EntryCapital: capital,
	}

	if _, err := tl.pairExec.OpenPair(ctx, req); err != nil {
		var riskBlock *xerrors.RiskBlock
		if errors.As(err, &riskBlock) {
			return
		}
		tl.recordAPIError(ctx, err)
		return
	}
	tl.recordAPISuccess()
}

// runMaintenanceStage sweeps execution_unknown positions every cycle and
// runs the heavier, hourly-scale upkeep (WAL checkpoint, connection
// pruning, health probe) once every cyclesPerHour cycles.
func (tl *TradeLoop) runMaintenanceStage(ctx context.Context, cycle int64) {
	start := time.Now()
	defer func() { CycleLatency.WithLabelValues("maintenance").Observe(msSince(start)) }()

	if err := tl.reconciler.Sweep(ctx); err != nil {
		utils.Warn("reconcile sweep failed", utils.Err(err))
	}

	cyclesPerHour := int64(60 / tl.cfg.Trading.TradingIntervalMinutes)
	if cyclesPerHour <= 0 {
		cyclesPerHour = 1
	}
	if cycle%cyclesPerHour != 0 {
		return
	}

	if err := tl.maintenance.CheckpointWAL(ctx); err != nil {
		utils.Warn("wal checkpoint failed", utils.Err(err))
	}
	tl.maintenance.CloseAllConnections()

	if tl.health != nil {
		rep := tl.health.Check(ctx)
		if !rep.Healthy {
			tl.notifier.Notify(&models.Notification{
				Type:     models.NotificationAlert,
				Severity: models.SeverityWarn,
				Message:  fmt.Sprintf("health check degraded: %v", rep.Errors),
			})
		}
	}

	utils.Info("hourly maintenance complete",
		utils.Int("open_positions", tl.store.OpenPositionCount()),
		utils.Int("open_pairs", len(tl.store.GetOpenPairPositions())))
}

// runReportingStage dispatches any report whose schedule matches the
// current minute, firing each minute's match at most once regardless of
// how many cycles land within it.
func (tl *TradeLoop) runReportingStage(ctx context.Context) {
	if tl.reporter == nil {
		return
	}
	now := time.Now()
	minute := now.Format("2006-01-02 15:04")
	if minute == tl.reportedMinute {
		return
	}

	due := tl.schedule.DueReports(now)
	if len(due) == 0 {
		return
	}
	tl.reportedMinute = minute

	for _, label := range due {
		var err error
		switch label {
		case "weekly":
			err = tl.reporter.WeeklySummary(ctx)
		case "monthly":
			err = tl.reporter.MonthlySummary(ctx)
		default:
			err = tl.reporter.DailySummary(ctx, label)
		}
		if err != nil {
			utils.Warn("report dispatch failed", utils.String("report", label), utils.Err(err))
		}
	}
}

// recordAPIError tracks the loop's own consecutive-failure counter
// (distinct from safemode.Controller's internal threshold), applies a
// 2^n backoff capped at maxAPIErrorBackoff, and halts the loop entirely
// once MaxConsecutiveAPIErrors is reached.
func (tl *TradeLoop) recordAPIError(ctx context.Context, err error) {
	n := atomic.AddInt64(&tl.consecutiveAPIErrs, 1)
	APIErrorsTotal.WithLabelValues("exchange").Inc()
	ConsecutiveAPIErrors.Set(float64(n))
	utils.Warn("exchange api error", utils.Int64("consecutive_errors", n), utils.Err(err))

	if int(n) >= tl.maxConsecutiveErrs {
		tl.notifier.Notify(&models.Notification{
			Type:     models.NotificationAlert,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("halting: %d consecutive exchange API errors", n),
		})
		tl.safeMode.Latch("max_consecutive_api_errors")
		tl.shutdown(context.Background())
		return
	}

	backoff := time.Duration(math.Pow(2, float64(n))) * time.Second
	if backoff > maxAPIErrorBackoff {
		backoff = maxAPIErrorBackoff
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

func (tl *TradeLoop) recordAPISuccess() {
	if atomic.SwapInt64(&tl.consecutiveAPIErrs, 0) != 0 {
		ConsecutiveAPIErrors.Set(0)
	}
}

// shutdown dispatches a final summary, releases durable and exchange
// handles, and signals Run to return. Safe to call more than once — only
// the first call has any effect.
func (tl *TradeLoop) shutdown(ctx context.Context) {
	tl.stopOnce.Do(func() {
		utils.Info("trade loop shutting down")
		if tl.reporter != nil {
			if err := tl.reporter.DailySummary(ctx, "shutdown"); err != nil {
				utils.Warn("final report dispatch failed", utils.Err(err))
			}
		}
		tl.maintenance.CloseAllConnections()
		if err := tl.adapter.Close(); err != nil {
			utils.Warn("exchange adapter close failed", utils.Err(err))
		}
		close(tl.stopCh)
	})
}

// Status reports a snapshot for the bot-command interface's "status"
// command.
func (tl *TradeLoop) Status() StatusSnapshot {
	latched, reason, _ := tl.safeMode.Status()
	paused, pauseReason, _ := tl.riskCtrl.IsPaused()
	return StatusSnapshot{
		SafeModeLatched:      latched,
		SafeModeReason:       string(reason),
		TradingPaused:        paused,
		PauseReason:          pauseReason,
		OpenPositions:        tl.store.OpenPositionCount(),
		OpenPairs:            len(tl.store.GetOpenPairPositions()),
		ConsecutiveAPIErrors: atomic.LoadInt64(&tl.consecutiveAPIErrs),
		CycleCount:           atomic.LoadInt64(&tl.cycleCount),
	}
}

// Positions reports every open single-leg and pair position for the
// bot-command interface's "positions" command.
func (tl *TradeLoop) Positions() ([]*models.Position, []*models.PairPosition) {
	return tl.store.GetOpenPositions(), tl.store.GetOpenPairPositions()
}

// Pause manually latches trading_paused from the bot-command interface's
// "pause" command.
func (tl *TradeLoop) Pause(reason string) {
	tl.riskCtrl.Pause(reason, time.Now())
}

// Resume clears the pause latch immediately from the bot-command
// interface's "resume" command, independent of the 24-hour auto-resume.
func (tl *TradeLoop) Resume() {
	tl.riskCtrl.Resume()
}

// SetStopLoss pushes a live stop-loss percentage update from the
// bot-command interface's "set_stop_loss" command.
func (tl *TradeLoop) SetStopLoss(pct float64) error {
	if err := utils.ValidateStopLoss(pct); err != nil {
		return err
	}
	tl.riskCtrl.SetStopLossPct(pct)
	return nil
}

func candidatePairs(symbols []string, maxPairs int) []pairCandidate {
	var out []pairCandidate
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			if maxPairs > 0 && len(out) >= maxPairs {
				return out
			}
			out = append(out, pairCandidate{
				ID:      models.PairIDFor(symbols[i], symbols[j]),
				Symbol1: symbols[i],
				Symbol2: symbols[j],
			})
		}
	}
	return out
}

// stopLossPriceFor derives the stop-loss trigger price for a new
// position: below entry for longs, above entry for shorts.
func stopLossPriceFor(side models.Side, price, pct float64) float64 {
	if side == models.SideShort {
		return price * (1 + pct/100)
	}
	return price * (1 - pct/100)
}

// pairUnrealizedPnl computes a pair's current unrealized P&L. The sign
// follows SpreadDirection: long_spread is long leg1/short leg2, so leg1's
// gain adds and leg2's gain subtracts; short_spread is the mirror image.
func pairUnrealizedPnl(pp *models.PairPosition, price1, price2 float64) float64 {
	leg1 := (price1 - pp.EntryPrice1) * pp.Size1
	leg2 := (price2 - pp.EntryPrice2) * pp.Size2
	if pp.Direction == models.DirectionShortSpread {
		return leg2 - leg1
	}
	return leg1 - leg2
}

func (tl *TradeLoop) pushPriceHistory(symbol string, price float64) {
	tl.lastPrice[symbol] = price

	hist := append(tl.priceHistory[symbol], signal.PricePoint{
		Timestamp: time.Now().Unix(),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	})
	if len(hist) > maxHistoryLength {
		hist = hist[len(hist)-maxHistoryLength:]
	}
	tl.priceHistory[symbol] = hist

	pHist := append(tl.pairHistory[symbol], price)
	if len(pHist) > maxHistoryLength {
		pHist = pHist[len(pHist)-maxHistoryLength:]
	}
	tl.pairHistory[symbol] = pHist
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
