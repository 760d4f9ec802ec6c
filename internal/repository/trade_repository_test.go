package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/models"
)

func TestTradeRepositoryInsertTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewTradeRepository(db)
	trade := &models.Trade{PositionID: "pos-1", Symbol: "BTC/JPY", Side: models.SideLong, Price: 10_000_000, Amount: 0.1, OrderType: models.OrderTypeMarket}
	if err := repo.InsertTrade(context.Background(), trade); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ID != 7 {
		t.Errorf("expected id 7, got %d", trade.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryGetByPositionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "position_id", "symbol", "side", "price", "amount", "cost", "fee", "fee_currency", "order_type", "profit_loss", "timestamp"}).
		AddRow(1, "pos-1", "BTC/JPY", "long", 10_000_000.0, 0.1, 1_000_000.0, 1000.0, "JPY", "market", 5000.0, now)

	mock.ExpectQuery(`SELECT .+ FROM trades WHERE position_id = \$1`).
		WithArgs("pos-1").
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetByPositionID(context.Background(), "pos-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != 1 {
		t.Errorf("unexpected trades: %+v", trades)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryGetDailyPnL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"realized_pnl", "trade_count", "wins", "losses"}).
		AddRow(15000.0, 4, 3, 1)
	mock.ExpectQuery(`SELECT[\s\S]+FROM trades[\s\S]+WHERE DATE\(timestamp\) = \$1::date`).
		WithArgs("2026-07-31").
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	pnl, err := repo.GetDailyPnL(context.Background(), "2026-07-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pnl.RealizedPnl != 15000.0 || pnl.TradeCount != 4 || pnl.Wins != 3 || pnl.Losses != 1 {
		t.Errorf("unexpected daily pnl: %+v", pnl)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	threshold := time.Now().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM trades WHERE timestamp < \$1`).
		WithArgs(threshold).
		WillReturnResult(sqlmock.NewResult(0, 12))

	repo := NewTradeRepository(db)
	deleted, err := repo.DeleteOlderThan(context.Background(), threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 12 {
		t.Errorf("expected 12 deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
