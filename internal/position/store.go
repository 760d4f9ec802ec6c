// Package position holds the Position Store: the in-memory cache of live
// Position and PairPosition values whose updates must be preceded or
// accompanied by a successful Durable Store write (§4.1, §4.3).
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/xerrors"
)

// Store holds two maps: symbol -> Position and pair_id -> PairPosition.
// All reads and writes are serialized by a single lock held briefly; the
// only I/O performed under the lock is the durable write inside
// ClosePosition/PartialClosePosition/ClosePairPosition, since those
// operations require "durable write before memory mutation" to hold
// atomically against concurrent readers.
type Store struct {
	mu sync.RWMutex

	open   map[string]*models.Position    // symbol -> Position
	pairs  map[string]*models.PairPosition // pair_id -> PairPosition
	closed []*models.Position

	positions *repository.PositionRepository
	pairRepo  *repository.PairPositionRepository
	trades    *repository.TradeRepository
}

// NewStore creates an empty Position Store backed by the given Durable
// Store repositories. The Reconciler populates it at startup via
// AddPosition/AddPairPosition after rebuilding state from disk.
func NewStore(positions *repository.PositionRepository, pairRepo *repository.PairPositionRepository, trades *repository.TradeRepository) *Store {
	return &Store{
		open:      make(map[string]*models.Position),
		pairs:     make(map[string]*models.PairPosition),
		positions: positions,
		pairRepo:  pairRepo,
		trades:    trades,
	}
}

// AddPosition inserts an already-confirmed position into memory, used by
// the Order Executor's confirm_pending_position step and by the
// Reconciler when rebuilding state at startup.
func (s *Store) AddPosition(p *models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[p.Symbol] = p
}

// RemovePosition drops a position from the open map without touching the
// Durable Store, used to unwind a pending row that failed execution.
func (s *Store) RemovePosition(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, symbol)
}

// GetPosition returns the open position for symbol, if any.
func (s *Store) GetPosition(symbol string) (*models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.open[symbol]
	return p, ok
}

// GetOpenPositions returns a snapshot slice of every currently open
// position, safe to range over after the lock is released.
func (s *Store) GetOpenPositions() []*models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, p)
	}
	return out
}

// OpenPositionCount reports how many symbols currently hold an open or
// pending position, used by the Order Executor's max_positions guard.
func (s *Store) OpenPositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

// AddPairPosition inserts a confirmed pair position into memory.
func (s *Store) AddPairPosition(pp *models.PairPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pp.PairID] = pp
}

// RemovePairPosition drops a pair from the open map without touching the
// Durable Store.
func (s *Store) RemovePairPosition(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, pairID)
}

// GetPairPosition returns the open pair position for pairID, if any.
func (s *Store) GetPairPosition(pairID string) (*models.PairPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pp, ok := s.pairs[pairID]
	return pp, ok
}

// GetOpenPairPositions returns a snapshot slice of every currently open
// pair position.
func (s *Store) GetOpenPairPositions() []*models.PairPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PairPosition, 0, len(s.pairs))
	for _, pp := range s.pairs {
		out = append(out, pp)
	}
	return out
}

// ClosePosition implements the durable-write-before-memory-mutation
// sequence of §4.3: snapshot and compute realized P&L under lock, write
// to the Durable Store, and only on write success move the position out
// of the open map. On write failure the snapshot's exit fields are
// reverted and the error propagates — the position stays open.
func (s *Store) ClosePosition(ctx context.Context, symbol string, exitPrice float64) (*models.Position, error) {
	s.mu.Lock()
	p, ok := s.open[symbol]
	if !ok {
		s.mu.Unlock()
		return nil, xerrors.ErrPositionNotFound
	}

	now := time.Now()
	realizedPnl := realizedPnlFor(p, exitPrice)
	p.Status = models.PositionClosed
	p.ExitPrice = &exitPrice
	p.ExitTime = &now
	p.RealizedPnl = realizedPnl

	if err := s.positions.UpdatePosition(ctx, p.ID, p.Status, p.ExitPrice, p.ExitTime, p.RealizedPnl, ""); err != nil {
		p.Status = models.PositionOpen
		p.ExitPrice = nil
		p.ExitTime = nil
		p.RealizedPnl = 0
		s.mu.Unlock()
		return nil, fmt.Errorf("close_position: durable write failed: %w", err)
	}

	delete(s.open, symbol)
	s.closed = append(s.closed, p)
	s.mu.Unlock()
	return p, nil
}

// PartialClosePosition implements §4.3's partial-close semantics: 0 <
// ratio <= 1. Fees are computed on both legs (entry pro-rated + exit),
// a Trade row and the decremented entry_amount are written in one Durable
// Store transaction, and only then is the in-memory quantity updated. If
// the transaction fails, in-memory quantity is left untouched.
func (s *Store) PartialClosePosition(ctx context.Context, symbol string, exitPrice, ratio float64, commissionRate float64) (*models.Trade, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("partial_close_position: ratio %.4f out of (0, 1]", ratio)
	}

	s.mu.Lock()
	p, ok := s.open[symbol]
	if !ok {
		s.mu.Unlock()
		return nil, xerrors.ErrPositionNotFound
	}

	closeAmount := p.Quantity * ratio
	remaining := p.Quantity - closeAmount

	closeSide := models.SideShort
	if p.Side == models.SideShort {
		closeSide = models.SideLong
	}

	cost := closeAmount * exitPrice
	entryFee := closeAmount * p.EntryPrice * commissionRate
	exitFee := cost * commissionRate
	fee := entryFee + exitFee

	profitLoss := (exitPrice - p.EntryPrice) * closeAmount
	if p.Side == models.SideShort {
		profitLoss = (p.EntryPrice - exitPrice) * closeAmount
	}
	profitLoss -= fee

	trade := &models.Trade{
		PositionID:  p.ID,
		Symbol:      symbol,
		Side:        closeSide,
		Price:       exitPrice,
		Amount:      closeAmount,
		Cost:        cost,
		Fee:         fee,
		FeeCurrency: models.QuoteCurrency(symbol),
		OrderType:   models.OrderTypeMarket,
		ProfitLoss:  profitLoss,
	}

	if err := s.positions.RecordPartialClose(ctx, p.ID, trade, remaining); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("partial_close_position: durable write failed: %w", err)
	}

	p.Quantity = remaining
	p.RealizedPnl += profitLoss
	if ratio == 1 {
		p.Status = models.PositionClosed
		delete(s.open, symbol)
		s.closed = append(s.closed, p)
	}
	s.mu.Unlock()
	return trade, nil
}

// ClosePairPosition writes both legs' exit fields to the Durable Store as
// one update and, on success, moves the pair out of the open map. Mirrors
// ClosePosition's durable-write-before-memory-mutation ordering.
func (s *Store) ClosePairPosition(ctx context.Context, pairID string, exitPrice1, exitPrice2 float64) (*models.PairPosition, error) {
	s.mu.Lock()
	pp, ok := s.pairs[pairID]
	if !ok {
		s.mu.Unlock()
		return nil, xerrors.ErrPairPositionNotFound
	}

	realizedPnl := pairRealizedPnlFor(pp, exitPrice1, exitPrice2)

	if err := s.pairRepo.ClosePairPosition(ctx, pairID, exitPrice1, exitPrice2, realizedPnl); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("close_pair_position: durable write failed: %w", err)
	}

	now := time.Now()
	pp.Status = models.PairClosed
	pp.ExitPrice1 = &exitPrice1
	pp.ExitPrice2 = &exitPrice2
	pp.ExitTime = &now
	pp.RealizedPnl = realizedPnl

	delete(s.pairs, pairID)
	s.mu.Unlock()
	return pp, nil
}

// UpdatePairUnrealized records the running mark-to-market P&L for a pair
// without touching the Durable Store — a cheap, frequent update the Trade
// Loop performs every cycle, unlike the durable-gated close path.
func (s *Store) UpdatePairUnrealized(pairID string, unrealizedPnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pp, ok := s.pairs[pairID]
	if !ok {
		return
	}
	pp.UnrealizedPnl = unrealizedPnl
	if unrealizedPnl > pp.MaxPnl {
		pp.MaxPnl = unrealizedPnl
	}
}

func realizedPnlFor(p *models.Position, exitPrice float64) float64 {
	diff := exitPrice - p.EntryPrice
	if p.Side == models.SideShort {
		diff = -diff
	}
	return diff * p.Quantity
}

func pairRealizedPnlFor(pp *models.PairPosition, exitPrice1, exitPrice2 float64) float64 {
	leg1 := (exitPrice1 - pp.EntryPrice1) * pp.Size1
	leg2 := (pp.EntryPrice2 - exitPrice2) * pp.Size2
	if pp.Direction == models.DirectionShortSpread {
		leg1 = (pp.EntryPrice1 - exitPrice1) * pp.Size1
		leg2 = (exitPrice2 - pp.EntryPrice2) * pp.Size2
	}
	return leg1 + leg2
}
