package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/models"
	"tradecore/internal/xerrors"
)

func TestPositionRepositoryCreatePosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO positions`).
		WithArgs("pos-1", "BTC/JPY", models.SideLong, models.PositionPendingExecution, 10_000_000.0, 0.5,
			sqlmock.AnyArg(), (*float64)(nil), (*float64)(nil), false, 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPositionRepository(db)
	p := &models.Position{
		ID: "pos-1", Symbol: "BTC/JPY", Side: models.SideLong, Status: models.PositionPendingExecution,
		EntryPrice: 10_000_000, Quantity: 0.5, EntryTime: time.Now(),
	}
	if err := repo.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryUpdatePositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE positions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPositionRepository(db)
	err = repo.UpdatePosition(context.Background(), "missing", models.PositionClosed, nil, nil, 0, "")
	if !errors.Is(err, xerrors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryConfirmPosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE positions SET status`).
		WithArgs(models.PositionOpen, 12_010_000.0, 0.00125, sqlmock.AnyArg(), "pos-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPositionRepository(db)
	if err := repo.ConfirmPosition(context.Background(), "pos-1", 12_010_000, 0.00125); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryConfirmPositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE positions SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPositionRepository(db)
	err = repo.ConfirmPosition(context.Background(), "missing", 1, 1)
	if !errors.Is(err, xerrors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetPositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE position_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewPositionRepository(db)
	_, err = repo.GetPosition(context.Background(), "missing")
	if !errors.Is(err, xerrors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetOpenPositions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"position_id", "symbol", "side", "status", "entry_price", "quantity", "entry_time",
		"stop_loss", "take_profit", "exit_price", "exit_time", "realized_pnl", "is_leveraged", "leverage",
		"error_message", "updated_at", "partial_profit_taken", "max_pnl",
	}).AddRow("pos-1", "BTC/JPY", "long", "open", 10_000_000.0, 0.5, now,
		nil, nil, nil, nil, 0.0, false, 0.0, "", now, false, 0.0)

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE status IN`).
		WithArgs(models.PositionOpen, models.PositionPendingExecution).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	positions, err := repo.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].ID != "pos-1" {
		t.Errorf("unexpected positions: %+v", positions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetPositionsByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"position_id", "symbol", "side", "status", "entry_price", "quantity", "entry_time",
		"stop_loss", "take_profit", "exit_price", "exit_time", "realized_pnl", "is_leveraged", "leverage",
		"error_message", "updated_at", "partial_profit_taken", "max_pnl",
	}).AddRow("pos-2", "ETH/JPY", "long", "execution_unknown", 380_000.0, 1.0, now,
		nil, nil, nil, nil, 0.0, false, 0.0, "", now, false, 0.0)

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE status = \$1`).
		WithArgs(models.PositionExecutionUnknown).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	positions, err := repo.GetPositionsByStatus(context.Background(), models.PositionExecutionUnknown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].ID != "pos-2" {
		t.Errorf("unexpected positions: %+v", positions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryRecordPartialCloseSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectExec(`UPDATE positions SET quantity`).
		WithArgs(0.25, sqlmock.AnyArg(), "pos-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPositionRepository(db)
	trade := &models.Trade{PositionID: "pos-1", Symbol: "BTC/JPY", Side: models.SideLong, Price: 10_500_000, Amount: 0.25, OrderType: models.OrderTypeMarket}
	err = repo.RecordPartialClose(context.Background(), "pos-1", trade, 0.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ID != 42 {
		t.Errorf("expected trade id 42, got %d", trade.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryRecordPartialCloseRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	repo := NewPositionRepository(db)
	trade := &models.Trade{PositionID: "pos-1", Symbol: "BTC/JPY", Side: models.SideLong, Price: 10_500_000, Amount: 0.25}
	err = repo.RecordPartialClose(context.Background(), "pos-1", trade, 0.25)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
