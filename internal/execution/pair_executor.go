package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
	"tradecore/internal/xerrors"
	"tradecore/pkg/utils"
)

// PairEntryRequest carries a pair signal's planned sizing and prices into
// the Pair Executor. Sizing (size1/size2) is computed by the caller (the
// trade loop) from the allocated capital and the cointegration
// collaborator's hedge ratio before the request reaches here — the
// executor re-verifies balances and order outcomes, not the sizing math.
type PairEntryRequest struct {
	Symbol1, Symbol2 string
	Direction        models.SpreadDirection
	HedgeRatio       float64
	Size1, Size2     float64
	QuotedPrice1     float64
	QuotedPrice2     float64
	EntrySpread      float64
	EntryZScore      float64
	EntryCapital     float64
}

// PairExecutor implements §4.6: the two-leg open/close protocol with
// DB-first reservation and sequential leg placement. Parallel leg
// placement is deliberately not used here — a crash between leg 1 and leg
// 2 must always leave a durable record naming which leg, if any, went out.
type PairExecutor struct {
	adapter  *exchange.Adapter
	store    *position.Store
	pairRepo *repository.PairPositionRepository
	safeMode SafeModeGate
	notifier Notifier
	cfg      Config
}

// NewPairExecutor wires a Pair Executor to its collaborators.
func NewPairExecutor(adapter *exchange.Adapter, store *position.Store, pairRepo *repository.PairPositionRepository, safeMode SafeModeGate, notifier Notifier, cfg Config) *PairExecutor {
	return &PairExecutor{
		adapter:  adapter,
		store:    store,
		pairRepo: pairRepo,
		safeMode: safeMode,
		notifier: notifier,
		cfg:      cfg,
	}
}

// OpenPair runs §4.6's open protocol: balance check, DB-first reservation,
// sequential leg placement, and rollback of leg 1 if leg 2 fails.
func (pe *PairExecutor) OpenPair(ctx context.Context, req PairEntryRequest) (*models.PairPosition, error) {
	if pe.safeMode.IsLatched() {
		return nil, xerrors.NewRiskBlock("safe_mode_latched")
	}

	side1 := leg1Side(req.Direction)
	side2 := oppositePairSide(side1)

	sellSymbol, sellQuantity := sellingLeg(req)
	if err := pe.checkSellableBalance(ctx, sellSymbol, sellQuantity); err != nil {
		return nil, err
	}

	pairID := models.PairIDFor(req.Symbol1, req.Symbol2)
	pending := &models.PairPosition{
		PairID:       pairID,
		Symbol1:      req.Symbol1,
		Symbol2:      req.Symbol2,
		Direction:    req.Direction,
		Status:       models.PairPendingExecution,
		HedgeRatio:   req.HedgeRatio,
		EntrySpread:  req.EntrySpread,
		EntryZScore:  req.EntryZScore,
		EntryTime:    time.Now(),
		Size1:        req.Size1,
		Size2:        req.Size2,
		EntryPrice1:  req.QuotedPrice1,
		EntryPrice2:  req.QuotedPrice2,
		EntryCapital: req.EntryCapital,
	}
	if err := pe.pairRepo.CreatePairPosition(ctx, pending); err != nil {
		return nil, fmt.Errorf("open_pair: create_pending_pair failed: %w", err)
	}

	order1, err := pe.adapter.CreateMarketOrder(ctx, req.Symbol1, side1, req.Size1)
	pe.recordAPIResult(err)
	if err != nil || !order1.Status.IsSuccess() {
		reason := leg1FailureReason(err, order1)
		pe.failPair(ctx, pairID, reason)
		return nil, fmt.Errorf("open_pair: leg1 %s failed: %s", req.Symbol1, reason)
	}

	order2, err := pe.adapter.CreateMarketOrder(ctx, req.Symbol2, side2, req.Size2)
	pe.recordAPIResult(err)
	if err != nil || !order2.Status.IsSuccess() {
		reason := leg1FailureReason(err, order2)
		pe.rollbackLeg(ctx, pairID, req.Symbol1, side1, order1.Filled, "leg2 failed: "+reason)
		return nil, fmt.Errorf("open_pair: leg2 %s failed, rolled back leg1: %s", req.Symbol2, reason)
	}

	price1 := fillPrice(order1)
	price2 := fillPrice(order2)
	if err := pe.pairRepo.ConfirmPairPosition(ctx, pairID, price1, price2, order1.Filled, order2.Filled); err != nil {
		return nil, fmt.Errorf("open_pair: confirm_pair_position failed: %w", err)
	}

	pending.Status = models.PairOpen
	pending.EntryPrice1 = price1
	pending.EntryPrice2 = price2
	pending.Size1 = order1.Filled
	pending.Size2 = order2.Filled
	pe.store.AddPairPosition(pending)

	pe.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationPairTradeOpen,
		Severity:  models.SeverityInfo,
		PairID:    pairID,
		Message:   fmt.Sprintf("opened pair %s (%s): leg1 %.8f@%.2f leg2 %.8f@%.2f", pairID, req.Direction, pending.Size1, price1, pending.Size2, price2),
	})

	return pending, nil
}

// ClosePair mirrors the open protocol: submit the opposing order for each
// leg in sequence, and if closing leg 2 fails, compensate by re-opening
// leg 1 to restore the hedge rather than leaving it unwound alone.
func (pe *PairExecutor) ClosePair(ctx context.Context, pairID string) (*models.PairPosition, error) {
	pp, ok := pe.store.GetPairPosition(pairID)
	if !ok {
		return nil, xerrors.ErrPairPositionNotFound
	}

	openSide1 := leg1Side(pp.Direction)
	closeSide1 := oppositePairSide(openSide1)
	closeSide2 := openSide1

	closeOrder1, err := pe.adapter.CreateMarketOrder(ctx, pp.Symbol1, closeSide1, pp.Size1)
	pe.recordAPIResult(err)
	if err != nil || !closeOrder1.Status.IsSuccess() {
		reason := leg1FailureReason(err, closeOrder1)
		pe.failPair(ctx, pairID, "close leg1 failed: "+reason)
		return nil, fmt.Errorf("close_pair: leg1 %s failed: %s", pp.Symbol1, reason)
	}

	closeOrder2, err := pe.adapter.CreateMarketOrder(ctx, pp.Symbol2, closeSide2, pp.Size2)
	pe.recordAPIResult(err)
	if err != nil || !closeOrder2.Status.IsSuccess() {
		reason := leg1FailureReason(err, closeOrder2)
		// Leg1 is now flat; restore the hedge by re-opening it at market.
		pe.rollbackLeg(ctx, pairID, pp.Symbol1, closeSide1, closeOrder1.Filled, "close leg2 failed: "+reason)
		return nil, fmt.Errorf("close_pair: leg2 %s failed, re-opened leg1: %s", pp.Symbol2, reason)
	}

	exitPrice1 := fillPrice(closeOrder1)
	exitPrice2 := fillPrice(closeOrder2)

	closed, err := pe.store.ClosePairPosition(ctx, pairID, exitPrice1, exitPrice2)
	if err != nil {
		return nil, err
	}

	pe.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationPairTradeClose,
		Severity:  models.SeverityInfo,
		PairID:    pairID,
		Message:   fmt.Sprintf("closed pair %s, realized_pnl=%.2f", pairID, closed.RealizedPnl),
	})

	return closed, nil
}

// rollbackLeg implements §4.6 step 5: submit the opposing market order for
// the surviving leg, retrying on an exponential backoff schedule. A first
// success marks the pair execution_failed and notifies at warning level.
// Full exhaustion also marks the pair execution_failed — the leg is
// un-hedged either way — and additionally latches safe-mode and notifies
// at critical level so an operator reconciles the un-hedged exposure.
func (pe *PairExecutor) rollbackLeg(ctx context.Context, pairID, symbol string, heldSide exchange.Side, quantity float64, reason string) {
	opposite := oppositePairSide(heldSide)

	for attempt := 0; attempt < pe.cfg.MaxRollbackRetries; attempt++ {
		if attempt > 0 && len(pe.cfg.RollbackBackoff) > 0 {
			wait := pe.cfg.RollbackBackoff[minInt(attempt-1, len(pe.cfg.RollbackBackoff)-1)]
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		order, err := pe.adapter.CreateMarketOrder(ctx, symbol, opposite, quantity)
		pe.recordAPIResult(err)
		if err == nil && order.Status.IsSuccess() {
			pe.failPair(ctx, pairID, reason)
			pe.notifier.Notify(&models.Notification{
				Timestamp: time.Now(),
				Type:      models.NotificationRollback,
				Severity:  models.SeverityWarn,
				PairID:    pairID,
				Message:   fmt.Sprintf("rolled back %s on pair %s after %s", symbol, pairID, reason),
			})
			return
		}
		utils.Warn("rollback attempt failed", utils.String("pair_id", pairID), utils.Symbol(symbol), utils.Int("attempt", attempt+1))
	}

	pe.failPair(ctx, pairID, reason)
	pe.safeMode.Latch("rollback failed")
	pe.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationRollback,
		Severity:  models.SeverityCritical,
		PairID:    pairID,
		Message:   fmt.Sprintf("rollback exhausted on pair %s: %s is un-hedged (%s)", pairID, symbol, reason),
	})
}

func (pe *PairExecutor) failPair(ctx context.Context, pairID, reason string) {
	if err := pe.pairRepo.MarkPairExecutionFailed(ctx, pairID, reason); err != nil {
		utils.Error("failed to mark pair execution_failed", utils.String("pair_id", pairID), utils.Err(err))
	}
}

// checkSellableBalance implements §4.6 step 1: confirm the account holds
// enough of the base asset being sold to avoid an uncovered short on spot.
func (pe *PairExecutor) checkSellableBalance(ctx context.Context, symbol string, quantity float64) error {
	base := baseCurrency(symbol)
	balance, err := pe.adapter.FetchBalance(ctx, base)
	pe.recordAPIResult(err)
	if err != nil {
		return fmt.Errorf("open_pair: balance check for %s failed: %w", base, err)
	}
	if balance.Free < quantity {
		return xerrors.NewRiskBlock(fmt.Sprintf("insufficient %s balance for uncovered short: have %.8f, need %.8f", base, balance.Free, quantity))
	}
	return nil
}

func (pe *PairExecutor) recordAPIResult(err error) {
	if err != nil {
		pe.safeMode.RecordFailure()
		return
	}
	pe.safeMode.RecordSuccess()
}

// leg1Side reports the side leg1 opens with: buy in a long spread, sell
// in a short spread (§4.6 step 1's direction convention).
func leg1Side(direction models.SpreadDirection) exchange.Side {
	if direction == models.DirectionShortSpread {
		return exchange.Sell
	}
	return exchange.Buy
}

func oppositePairSide(s exchange.Side) exchange.Side {
	if s == exchange.Sell {
		return exchange.Buy
	}
	return exchange.Sell
}

// sellingLeg identifies which leg's quantity must be checked against a
// held balance before the pair opens, per §4.6 step 1.
func sellingLeg(req PairEntryRequest) (symbol string, quantity float64) {
	if req.Direction == models.DirectionShortSpread {
		return req.Symbol1, req.Size1
	}
	return req.Symbol2, req.Size2
}

func baseCurrency(symbol string) string {
	if idx := strings.Index(symbol, "/"); idx >= 0 {
		return symbol[:idx]
	}
	return symbol
}

func fillPrice(order *exchange.OrderResult) float64 {
	if order.Average != 0 {
		return order.Average
	}
	return order.Price
}

func leg1FailureReason(err error, order *exchange.OrderResult) string {
	if err != nil {
		var timeoutErr *xerrors.TimeoutError
		if errors.As(err, &timeoutErr) {
			return "order timed out"
		}
		return err.Error()
	}
	return fmt.Sprintf("order ended in status %s", order.Status)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
