package repository

import (
	"context"
	"database/sql"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/xerrors"
)

// TradeRepository is the append-only trades namespace of the Durable Store,
// plus the derived daily_pnl view computed over it.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository creates a new instance backed by db.
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// InsertTrade appends an immutable audit record for a fill.
func (r *TradeRepository) InsertTrade(ctx context.Context, t *models.Trade) error {
	query := `
		INSERT INTO trades (position_id, symbol, side, price, amount, cost, fee, fee_currency, order_type, profit_loss, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	t.Timestamp = time.Now()
	err := r.db.QueryRowContext(ctx, query,
		t.PositionID, t.Symbol, t.Side, t.Price, t.Amount, t.Cost, t.Fee, t.FeeCurrency,
		t.OrderType, t.ProfitLoss, t.Timestamp,
	).Scan(&t.ID)
	return wrapStorageErr(xerrors.StorageTransient, "insert_trade", err)
}

// GetByPositionID returns every trade recorded against one position.
func (r *TradeRepository) GetByPositionID(ctx context.Context, positionID string) ([]*models.Trade, error) {
	query := `
		SELECT id, position_id, symbol, side, price, amount, cost, fee, fee_currency, order_type, profit_loss, timestamp
		FROM trades
		WHERE position_id = $1
		ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_trades_by_position", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Price, &t.Amount,
			&t.Cost, &t.Fee, &t.FeeCurrency, &t.OrderType, &t.ProfitLoss, &t.Timestamp); err != nil {
			return nil, wrapStorageErr(xerrors.StorageCorrupt, "get_trades_by_position", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_trades_by_position", err)
	}
	return trades, nil
}

// GetDailyPnL aggregates realized P&L over trades for one calendar date
// (YYYY-MM-DD), consumed read-only by the Reporter.
func (r *TradeRepository) GetDailyPnL(ctx context.Context, date string) (*models.DailyPnL, error) {
	query := `
		SELECT
			COALESCE(SUM(profit_loss), 0) AS realized_pnl,
			COUNT(*) AS trade_count,
			COUNT(*) FILTER (WHERE profit_loss > 0) AS wins,
			COUNT(*) FILTER (WHERE profit_loss <= 0) AS losses
		FROM trades
		WHERE DATE(timestamp) = $1::date`

	d := &models.DailyPnL{Date: date}
	err := r.db.QueryRowContext(ctx, query, date).Scan(&d.RealizedPnl, &d.TradeCount, &d.Wins, &d.Losses)
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_daily_pnl", err)
	}
	return d, nil
}

// GetDailyPnLRange returns one DailyPnL row per day in [from, to], ordered
// ascending, used by weekly/monthly report aggregation.
func (r *TradeRepository) GetDailyPnLRange(ctx context.Context, from, to time.Time) ([]*models.DailyPnL, error) {
	query := `
		SELECT
			TO_CHAR(DATE(timestamp), 'YYYY-MM-DD') AS date,
			COALESCE(SUM(profit_loss), 0) AS realized_pnl,
			COUNT(*) AS trade_count,
			COUNT(*) FILTER (WHERE profit_loss > 0) AS wins,
			COUNT(*) FILTER (WHERE profit_loss <= 0) AS losses
		FROM trades
		WHERE timestamp >= $1 AND timestamp <= $2
		GROUP BY DATE(timestamp)
		ORDER BY DATE(timestamp) ASC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_daily_pnl_range", err)
	}
	defer rows.Close()

	var results []*models.DailyPnL
	for rows.Next() {
		d := &models.DailyPnL{}
		if err := rows.Scan(&d.Date, &d.RealizedPnl, &d.TradeCount, &d.Wins, &d.Losses); err != nil {
			return nil, wrapStorageErr(xerrors.StorageCorrupt, "get_daily_pnl_range", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(xerrors.StorageTransient, "get_daily_pnl_range", err)
	}
	return results, nil
}

// DeleteOlderThan prunes trades older than timestamp, mirroring the
// teacher's retention-maintenance pattern.
func (r *TradeRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM trades WHERE timestamp < $1`
	result, err := r.db.ExecContext(ctx, query, timestamp)
	if err != nil {
		return 0, wrapStorageErr(xerrors.StorageTransient, "delete_trades_older_than", err)
	}
	return result.RowsAffected()
}
