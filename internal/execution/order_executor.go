package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
	"tradecore/internal/risk"
	"tradecore/internal/xerrors"
	"tradecore/pkg/utils"
)

// EntryRequest is the caller's provisional intent for a single-leg entry.
// Quantity is not part of the request: §4.5 step 3 always recomputes it
// from the re-checked price, so only the sizing inputs are carried.
type EntryRequest struct {
	Symbol             string
	Side               models.Side
	QuotedPrice        float64
	AvailableCapital   float64
	RiskPct            float64
	StopLossPrice      float64
	MaxPositionSizePct float64
	IsLeveraged        bool
	Leverage           float64
}

// OrderExecutor implements the single-leg entry/exit sequence of §4.5: the
// guard, price-slip recheck, sizing, pending-row reservation, exchange
// call, timeout/poll branch, result interpretation, confirm, and notify
// steps, all under one process-wide order lock.
type OrderExecutor struct {
	mu sync.Mutex

	adapter      *exchange.Adapter
	positions    *position.Store
	positionRepo *repository.PositionRepository
	safeMode     SafeModeGate
	notifier     Notifier
	cfg          Config
}

// NewOrderExecutor wires an Order Executor to its collaborators.
func NewOrderExecutor(adapter *exchange.Adapter, positions *position.Store, positionRepo *repository.PositionRepository, safeMode SafeModeGate, notifier Notifier, cfg Config) *OrderExecutor {
	return &OrderExecutor{
		adapter:      adapter,
		positions:    positions,
		positionRepo: positionRepo,
		safeMode:     safeMode,
		notifier:     notifier,
		cfg:          cfg,
	}
}

// OpenPosition runs §4.5's entry sequence end to end. On any failure after
// the pending row is created, the row is cancelled (execution_failed or
// execution_unknown) before the error is returned.
func (oe *OrderExecutor) OpenPosition(ctx context.Context, req EntryRequest) (*models.Position, error) {
	if oe.safeMode.IsLatched() {
		return nil, xerrors.NewRiskBlock("safe_mode_latched")
	}
	if req.Side == models.SideShort && !models.IsLeverageCapable(req.Symbol) {
		return nil, xerrors.NewRiskBlock(fmt.Sprintf("short entry rejected: %s is not leverage-capable", req.Symbol))
	}
	if oe.positions.OpenPositionCount() >= oe.cfg.MaxPositions {
		return nil, xerrors.NewRiskBlock("max_positions_reached")
	}

	oe.mu.Lock()
	defer oe.mu.Unlock()

	price, err := oe.recheckPrice(ctx, req.Symbol, req.QuotedPrice)
	if err != nil {
		return nil, err
	}

	quantity := risk.PositionSize(req.AvailableCapital, price, req.RiskPct, req.StopLossPrice, req.MaxPositionSizePct, req.Side)
	if quantity <= 0 {
		return nil, fmt.Errorf("open_position: recomputed quantity for %s is non-positive", req.Symbol)
	}

	pending := &models.Position{
		ID:          fmt.Sprintf("%s-%d", req.Symbol, utils.UnixMicros()),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      models.PositionPendingExecution,
		EntryPrice:  price,
		Quantity:    quantity,
		EntryTime:   time.Now(),
		IsLeveraged: req.IsLeveraged,
		Leverage:    req.Leverage,
	}
	if req.StopLossPrice > 0 {
		sl := req.StopLossPrice
		pending.StopLoss = &sl
	}
	if err := oe.positionRepo.CreatePosition(ctx, pending); err != nil {
		return nil, fmt.Errorf("open_position: create_pending_position failed: %w", err)
	}

	order, err := oe.adapter.CreateMarketOrder(ctx, req.Symbol, toExchangeSide(req.Side), quantity)
	oe.recordAPIResult(err)
	if err != nil {
		var timeoutErr *xerrors.TimeoutError
		if errors.As(err, &timeoutErr) {
			order, err = oe.resolveTimeout(ctx, timeoutErr, pending, req.Symbol)
			if err != nil {
				return nil, err
			}
		} else {
			oe.cancelPending(ctx, pending, err.Error())
			return nil, fmt.Errorf("open_position: create_market_order failed: %w", err)
		}
	}

	if order.Filled == 0 {
		oe.cancelPending(ctx, pending, "order filled zero quantity")
		return nil, fmt.Errorf("open_position: order %s for %s filled zero quantity", order.ID, req.Symbol)
	}
	if order.Filled < quantity*oe.cfg.PartialFillWarnRatio {
		utils.Warn("partial fill below warn ratio",
			utils.Symbol(req.Symbol), utils.OrderID(order.ID),
			utils.Float64("requested", quantity), utils.Float64("filled", order.Filled))
	}

	actualPrice := order.Average
	if actualPrice == 0 {
		actualPrice = order.Price
	}
	if actualPrice == 0 {
		actualPrice = price
	}

	if err := oe.positionRepo.ConfirmPosition(ctx, pending.ID, actualPrice, order.Filled); err != nil {
		oe.cancelPending(ctx, pending, err.Error())
		return nil, fmt.Errorf("open_position: confirm_pending_position failed: %w", err)
	}
	pending.Status = models.PositionOpen
	pending.EntryPrice = actualPrice
	pending.Quantity = order.Filled
	oe.positions.AddPosition(pending)

	oe.notifier.Notify(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationTradeOpen,
		Severity:   models.SeverityInfo,
		PositionID: pending.ID,
		Message:    fmt.Sprintf("opened %s %s %.8f @ %.2f", pending.Side, pending.Symbol, pending.Quantity, actualPrice),
	})

	return pending, nil
}

// ClosePosition looks up the open position, places the opposing market
// order, and on a successful fill delegates the durable-write-first close
// to the Position Store. Safe-mode never blocks this path (§4.7: "exits
// and rollbacks are still permitted").
func (oe *OrderExecutor) ClosePosition(ctx context.Context, symbol string) (*models.Position, error) {
	oe.mu.Lock()
	defer oe.mu.Unlock()

	p, ok := oe.positions.GetPosition(symbol)
	if !ok {
		return nil, xerrors.ErrPositionNotFound
	}

	order, err := oe.adapter.CreateMarketOrder(ctx, symbol, oppositeExchangeSide(p.Side), p.Quantity)
	oe.recordAPIResult(err)
	if err != nil {
		return nil, fmt.Errorf("close_position: market order failed: %w", err)
	}
	if !order.Status.IsSuccess() {
		return nil, fmt.Errorf("close_position: order %s for %s ended in status %s", order.ID, symbol, order.Status)
	}

	exitPrice := order.Average
	if exitPrice == 0 {
		exitPrice = order.Price
	}

	closed, err := oe.positions.ClosePosition(ctx, symbol, exitPrice)
	if err != nil {
		return nil, err
	}

	oe.notifier.Notify(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationTradeClose,
		Severity:   models.SeverityInfo,
		PositionID: closed.ID,
		Message:    fmt.Sprintf("closed %s %s @ %.2f, realized_pnl=%.2f", closed.Side, closed.Symbol, exitPrice, closed.RealizedPnl),
	})

	return closed, nil
}

// recheckPrice implements §4.5 step 2: a slip beyond PriceSlipWarnPct logs
// and continues with the latest price; beyond PriceSlipErrorPct aborts.
func (oe *OrderExecutor) recheckPrice(ctx context.Context, symbol string, quoted float64) (float64, error) {
	latest, err := oe.adapter.GetCurrentPrice(ctx, symbol)
	oe.recordAPIResult(err)
	if err != nil {
		return 0, fmt.Errorf("open_position: price recheck for %s failed: %w", symbol, err)
	}

	slipPct := math.Abs(latest.Last-quoted) / quoted * 100
	if slipPct > oe.cfg.PriceSlipErrorPct {
		return 0, fmt.Errorf("open_position: %s price slipped %.2f%% beyond error threshold %.2f%%", symbol, slipPct, oe.cfg.PriceSlipErrorPct)
	}
	if slipPct > oe.cfg.PriceSlipWarnPct {
		utils.Warn("price slipped beyond warn threshold, continuing with latest price",
			utils.Symbol(symbol), utils.Float64("slip_pct", slipPct))
	}
	return latest.Last, nil
}

// resolveTimeout implements §4.5 step 6: poll get_order_status on a
// bounded schedule when the exchange call timed out but left an order id
// behind. Without an order id at all, the pending row is cancelled
// outright since there is nothing to poll.
func (oe *OrderExecutor) resolveTimeout(ctx context.Context, timeoutErr *xerrors.TimeoutError, pending *models.Position, symbol string) (*exchange.OrderResult, error) {
	if timeoutErr.OrderID == "" {
		oe.cancelPending(ctx, pending, "order timed out with no order id")
		return nil, fmt.Errorf("open_position: %s timed out with no order id", symbol)
	}

	for _, wait := range oe.cfg.StatusPollSchedule {
		select {
		case <-ctx.Done():
			oe.markUnknown(context.Background(), pending)
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		status, err := oe.adapter.GetOrderStatus(ctx, timeoutErr.OrderID, symbol)
		oe.recordAPIResult(err)
		if err != nil {
			continue
		}
		if status.Status.IsTerminal() {
			return status, nil
		}
	}

	oe.markUnknown(ctx, pending)
	return nil, fmt.Errorf("open_position: order %s for %s unresolved after poll schedule", timeoutErr.OrderID, symbol)
}

func (oe *OrderExecutor) cancelPending(ctx context.Context, p *models.Position, reason string) {
	if err := oe.positionRepo.UpdatePosition(ctx, p.ID, models.PositionExecutionFailed, nil, nil, 0, reason); err != nil {
		utils.Error("failed to cancel pending position", utils.String("position_id", p.ID), utils.Err(err))
	}
}

func (oe *OrderExecutor) markUnknown(ctx context.Context, p *models.Position) {
	if err := oe.positionRepo.UpdatePosition(ctx, p.ID, models.PositionExecutionUnknown, nil, nil, 0, "status unresolved after poll schedule"); err != nil {
		utils.Error("failed to mark position execution_unknown", utils.String("position_id", p.ID), utils.Err(err))
	}
}

// recordAPIResult feeds every adapter call's outcome into the Safe-Mode
// Controller's API-failure accounting (§4.5: "every adapter call that
// raises increments a counter... every success resets it").
func (oe *OrderExecutor) recordAPIResult(err error) {
	if err != nil {
		oe.safeMode.RecordFailure()
		return
	}
	oe.safeMode.RecordSuccess()
}

func toExchangeSide(s models.Side) exchange.Side {
	if s == models.SideShort {
		return exchange.Sell
	}
	return exchange.Buy
}

func oppositeExchangeSide(s models.Side) exchange.Side {
	if s == models.SideShort {
		return exchange.Buy
	}
	return exchange.Sell
}
