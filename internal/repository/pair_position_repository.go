package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"tradecore/internal/models"
	"tradecore/internal/xerrors"
)

// PairPositionRepository is the pair_positions namespace of the Durable Store.
type PairPositionRepository struct {
	db *sql.DB
}

// NewPairPositionRepository creates a new instance backed by db.
func NewPairPositionRepository(db *sql.DB) *PairPositionRepository {
	return &PairPositionRepository{db: db}
}

// CreatePairPosition inserts a new pair-position row.
func (r *PairPositionRepository) CreatePairPosition(ctx context.Context, pp *models.PairPosition) error {
	query := `
		INSERT INTO pair_positions (pair_id, symbol1, symbol2, direction, status, hedge_ratio,
			entry_spread, entry_z_score, entry_time, size1, size2, entry_price1, entry_price2,
			entry_capital, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	pp.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query,
		pp.PairID, pp.Symbol1, pp.Symbol2, pp.Direction, pp.Status, pp.HedgeRatio,
		pp.EntrySpread, pp.EntryZScore, pp.EntryTime, pp.Size1, pp.Size2, pp.EntryPrice1, pp.EntryPrice2,
		pp.EntryCapital, pp.UpdatedAt)
	return wrapStorageErr(xerrors.StorageTransient, "create_pair_position", err)
}

// ConfirmPairPosition is the Durable Store half of §4.6 step 4's success
// path: it moves a pending_execution pair row to open and replaces the
// planned entry prices/sizes with what actually filled on each leg.
func (r *PairPositionRepository) ConfirmPairPosition(ctx context.Context, pairID string, entryPrice1, entryPrice2, size1, size2 float64) error {
	query := `
		UPDATE pair_positions
		SET status = $1, entry_price1 = $2, entry_price2 = $3, size1 = $4, size2 = $5, updated_at = $6
		WHERE pair_id = $7`

	result, err := r.db.ExecContext(ctx, query, models.PairOpen, entryPrice1, entryPrice2, size1, size2, time.Now(), pairID)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "confirm_pair_position", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "confirm_pair_position", err)
	}
	if rows == 0 {
		return xerrors.ErrPairPositionNotFound
	}
	return nil
}

// UpdatePairPosition updates the running unrealized P&L and max P&L.
func (r *PairPositionRepository) UpdatePairPosition(ctx context.Context, pairID string, unrealizedPnl, maxPnl float64) error {
	query := `UPDATE pair_positions SET unrealized_pnl = $1, max_pnl = $2, updated_at = $3 WHERE pair_id = $4`
	result, err := r.db.ExecContext(ctx, query, unrealizedPnl, maxPnl, time.Now(), pairID)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "update_pair_position", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "update_pair_position", err)
	}
	if rows == 0 {
		return xerrors.ErrPairPositionNotFound
	}
	return nil
}

// MarkPairExecutionFailed transitions a pair row straight to
// execution_failed without touching exit price/time, used when a leg
// never got placed (nothing to unwind) or a rollback exhausted its
// retries and the row must wait for human reconciliation (§4.6).
func (r *PairPositionRepository) MarkPairExecutionFailed(ctx context.Context, pairID, reason string) error {
	query := `UPDATE pair_positions SET status = $1, error_message = $2, updated_at = $3 WHERE pair_id = $4`
	result, err := r.db.ExecContext(ctx, query, models.PairExecutionFailed, reason, time.Now(), pairID)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "mark_pair_execution_failed", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "mark_pair_execution_failed", err)
	}
	if rows == 0 {
		return xerrors.ErrPairPositionNotFound
	}
	return nil
}

// ClosePairPosition closes both legs atomically in one statement, since a
// pair's close is a single logical event over a single row (§4.1
// invariant: both legs open or neither — there is nothing further to
// coordinate once the row itself transitions).
func (r *PairPositionRepository) ClosePairPosition(ctx context.Context, pairID string, exitPrice1, exitPrice2, realizedPnl float64) error {
	query := `
		UPDATE pair_positions
		SET status = $1, exit_price1 = $2, exit_price2 = $3, exit_time = $4, realized_pnl = $5, updated_at = $6
		WHERE pair_id = $7`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query, models.PairClosed, exitPrice1, exitPrice2, now, realizedPnl, now, pairID)
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "close_pair_position", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStorageErr(xerrors.StorageTransient, "close_pair_position", err)
	}
	if rows == 0 {
		return xerrors.ErrPairPositionNotFound
	}
	return nil
}

// GetOpenPairPositions returns every pair whose status is open.
func (r *PairPositionRepository) GetOpenPairPositions(ctx context.Context) ([]*models.PairPosition, error) {
	return r.queryByStatus(ctx, "get_open_pair_positions", models.PairOpen)
}

// RecoverIncompletePairs returns pair rows left half-resolved by a crash:
// pending_execution, or execution_failed (one leg may exist on the
// exchange without the other). The Reconciler surfaces these at startup.
func (r *PairPositionRepository) RecoverIncompletePairs(ctx context.Context) ([]*models.PairPosition, error) {
	return r.queryByStatus(ctx, "recover_incomplete_pairs", models.PairPendingExecution, models.PairExecutionFailed)
}

func (r *PairPositionRepository) queryByStatus(ctx context.Context, op string, statuses ...models.PairStatus) ([]*models.PairPosition, error) {
	query := `
		SELECT pair_id, symbol1, symbol2, direction, status, hedge_ratio, entry_spread, entry_z_score,
			entry_time, size1, size2, entry_price1, entry_price2, entry_capital, unrealized_pnl, max_pnl,
			exit_price1, exit_price2, exit_time, realized_pnl, error_message, updated_at
		FROM pair_positions
		WHERE status = ANY($1)
		ORDER BY entry_time ASC`
	pgArray := make([]string, len(statuses))
	for i, s := range statuses {
		pgArray[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(pgArray))
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, op, err)
	}
	defer rows.Close()

	var results []*models.PairPosition
	for rows.Next() {
		pp := &models.PairPosition{}
		if err := rows.Scan(
			&pp.PairID, &pp.Symbol1, &pp.Symbol2, &pp.Direction, &pp.Status, &pp.HedgeRatio,
			&pp.EntrySpread, &pp.EntryZScore, &pp.EntryTime, &pp.Size1, &pp.Size2, &pp.EntryPrice1,
			&pp.EntryPrice2, &pp.EntryCapital, &pp.UnrealizedPnl, &pp.MaxPnl, &pp.ExitPrice1,
			&pp.ExitPrice2, &pp.ExitTime, &pp.RealizedPnl, &pp.ErrorMsg, &pp.UpdatedAt,
		); err != nil {
			return nil, wrapStorageErr(xerrors.StorageCorrupt, op, err)
		}
		results = append(results, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, op, err)
	}
	return results, nil
}

// GetPairPosition returns a single pair by id.
func (r *PairPositionRepository) GetPairPosition(ctx context.Context, pairID string) (*models.PairPosition, error) {
	query := `
		SELECT pair_id, symbol1, symbol2, direction, status, hedge_ratio, entry_spread, entry_z_score,
			entry_time, size1, size2, entry_price1, entry_price2, entry_capital, unrealized_pnl, max_pnl,
			exit_price1, exit_price2, exit_time, realized_pnl, error_message, updated_at
		FROM pair_positions
		WHERE pair_id = $1`

	pp := &models.PairPosition{}
	err := r.db.QueryRowContext(ctx, query, pairID).Scan(
		&pp.PairID, &pp.Symbol1, &pp.Symbol2, &pp.Direction, &pp.Status, &pp.HedgeRatio,
		&pp.EntrySpread, &pp.EntryZScore, &pp.EntryTime, &pp.Size1, &pp.Size2, &pp.EntryPrice1,
		&pp.EntryPrice2, &pp.EntryCapital, &pp.UnrealizedPnl, &pp.MaxPnl, &pp.ExitPrice1,
		&pp.ExitPrice2, &pp.ExitTime, &pp.RealizedPnl, &pp.ErrorMsg, &pp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.ErrPairPositionNotFound
		}
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_pair_position", err)
	}
	return pp, nil
}
