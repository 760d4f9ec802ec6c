// Package repository is the Durable Store (§4.1): a transactional,
// Postgres-backed persistence layer for positions, pair positions, trades,
// and the derived daily P&L view. Every multi-row write that represents
// one logical event is wrapped in a single sql.Tx.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/xerrors"
)

// PositionRepository is the positions namespace of the Durable Store.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository creates a new instance backed by db.
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func wrapStorageErr(kind xerrors.StorageKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return xerrors.NewStorageError(kind, op, err)
}

// CreatePosition inserts a new position row.
func (r *PositionRepository) CreatePosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (position_id, symbol, side, status, entry_price, quantity, entry_time,
			stop_loss, take_profit, is_leveraged, leverage, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	p.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Symbol, p.Side, p.Status, p.EntryPrice, p.Quantity, p.EntryTime,
		p.StopLoss, p.TakeProfit, p.IsLeveraged, p.Leverage, p.UpdatedAt)
	return wrapStorageErr(xerrors.StorageTransient, "create_position", err)
}

// UpdatePosition applies a partial field update keyed by position_id.
func (r *PositionRepository) UpdatePosition(ctx context.Context, id string, status models.PositionStatus, exitPrice *float64, exitTime *time.Time, realizedPnl float64, errMsg string) error {
	query := `
		UPDATE positions
		SET status = $1, exit_price = $2, exit_time = $3, realized_pnl = $4, error_message = $5, updated_at = $6
		WHERE position_id = $7`

	result, err := r.db.ExecContext(ctx, query, status, exitPrice, exitTime, realizedPnl, errMsg, time.Now(), id)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "update_position", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "update_position", err)
	}
	if rows == 0 {
		return xerrors.ErrPositionNotFound
	}
	return nil
}

// ConfirmPosition is the Durable Store half of §4.5 step 8
// (confirm_pending_position): it moves a pending_execution row to open
// and records the actual fill price/quantity, which UpdatePosition's
// exit-field-oriented column set does not cover.
func (r *PositionRepository) ConfirmPosition(ctx context.Context, id string, entryPrice, quantity float64) error {
	query := `
		UPDATE positions
		SET status = $1, entry_price = $2, quantity = $3, updated_at = $4
		WHERE position_id = $5`

	result, err := r.db.ExecContext(ctx, query, models.PositionOpen, entryPrice, quantity, time.Now(), id)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "confirm_position", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "confirm_position", err)
	}
	if rows == 0 {
		return xerrors.ErrPositionNotFound
	}
	return nil
}

// GetOpenPositions returns every position whose status is open or
// pending_execution, for reconciler rehydration at startup.
func (r *PositionRepository) GetOpenPositions(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT position_id, symbol, side, status, entry_price, quantity, entry_time,
			stop_loss, take_profit, exit_price, exit_time, realized_pnl, is_leveraged, leverage,
			error_message, updated_at, partial_profit_taken, max_pnl
		FROM positions
		WHERE status IN ($1, $2)
		ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, models.PositionOpen, models.PositionPendingExecution)
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_open_positions", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		if err := scanPosition(rows, p); err != nil {
			return nil, wrapStorageErr(xerrors.StorageCorrupt, "get_open_positions", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_open_positions", err)
	}
	return positions, nil
}

// GetPositionsByStatus returns every position in the given status, used
// by the Reconciler's periodic execution_unknown sweep (§4.8).
func (r *PositionRepository) GetPositionsByStatus(ctx context.Context, status models.PositionStatus) ([]*models.Position, error) {
	query := `
		SELECT position_id, symbol, side, status, entry_price, quantity, entry_time,
			stop_loss, take_profit, exit_price, exit_time, realized_pnl, is_leveraged, leverage,
			error_message, updated_at, partial_profit_taken, max_pnl
		FROM positions
		WHERE status = $1
		ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_positions_by_status", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		if err := scanPosition(rows, p); err != nil {
			return nil, wrapStorageErr(xerrors.StorageCorrupt, "get_positions_by_status", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_positions_by_status", err)
	}
	return positions, nil
}

// GetPosition returns a single position by id.
func (r *PositionRepository) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	query := `
		SELECT position_id, symbol, side, status, entry_price, quantity, entry_time,
			stop_loss, take_profit, exit_price, exit_time, realized_pnl, is_leveraged, leverage,
			error_message, updated_at, partial_profit_taken, max_pnl
		FROM positions
		WHERE position_id = $1`

	p := &models.Position{}
	row := r.db.QueryRowContext(ctx, query, id)
	if err := scanPosition(row, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.ErrPositionNotFound
		}
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_position", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner, p *models.Position) error {
	return row.Scan(
		&p.ID, &p.Symbol, &p.Side, &p.Status, &p.EntryPrice, &p.Quantity, &p.EntryTime,
		&p.StopLoss, &p.TakeProfit, &p.ExitPrice, &p.ExitTime, &p.RealizedPnl, &p.IsLeveraged, &p.Leverage,
		&p.ErrorMsg, &p.UpdatedAt, &p.PartialProfitTaken, &p.MaxPnl,
	)
}

// RecordPartialClose is the atomic composite write (§4.1): it inserts the
// Trade row and decrements the position's quantity within one transaction.
// On failure the caller's in-memory state must not advance.
func (r *PositionRepository) RecordPartialClose(ctx context.Context, positionID string, trade *models.Trade, newAmount float64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "record_partial_close", err)
	}
	defer tx.Rollback()

	trade.Timestamp = time.Now()
	insertTrade := `
		INSERT INTO trades (position_id, symbol, side, price, amount, cost, fee, fee_currency, order_type, profit_loss, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, insertTrade,
		trade.PositionID, trade.Symbol, trade.Side, trade.Price, trade.Amount, trade.Cost,
		trade.Fee, trade.FeeCurrency, trade.OrderType, trade.ProfitLoss, trade.Timestamp,
	).Scan(&trade.ID); err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "record_partial_close.insert_trade", err)
	}

	updateQty := `UPDATE positions SET quantity = $1, updated_at = $2 WHERE position_id = $3`
	result, err := tx.ExecContext(ctx, updateQty, newAmount, time.Now(), positionID)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "record_partial_close.update_quantity", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "record_partial_close.update_quantity", err)
	}
	if rows == 0 {
		return xerrors.ErrPositionNotFound
	}

	if err := tx.Commit(); err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "record_partial_close.commit", err)
	}
	return nil
}
