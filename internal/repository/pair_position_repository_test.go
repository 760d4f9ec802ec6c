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

func TestPairPositionRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO pair_positions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPairPositionRepository(db)
	pp := &models.PairPosition{
		PairID: "BTC/JPY_ETH/JPY", Symbol1: "BTC/JPY", Symbol2: "ETH/JPY",
		Direction: models.DirectionLongSpread, Status: models.PairPendingExecution,
		HedgeRatio: 1.2, EntryTime: time.Now(),
	}
	if err := repo.CreatePairPosition(context.Background(), pp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryClosePairPositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE pair_positions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPairPositionRepository(db)
	err = repo.ClosePairPosition(context.Background(), "missing", 100, 200, 5)
	if !errors.Is(err, xerrors.ErrPairPositionNotFound) {
		t.Errorf("expected ErrPairPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryConfirmPairPosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE pair_positions SET status`).
		WithArgs(models.PairOpen, 12_010_000.0, 380_500.0, 0.001, 0.03, sqlmock.AnyArg(), "BTC/JPY_ETH/JPY").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPairPositionRepository(db)
	err = repo.ConfirmPairPosition(context.Background(), "BTC/JPY_ETH/JPY", 12_010_000, 380_500, 0.001, 0.03)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryMarkPairExecutionFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE pair_positions SET status`).
		WithArgs(models.PairExecutionFailed, "rollback failed", sqlmock.AnyArg(), "BTC/JPY_ETH/JPY").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPairPositionRepository(db)
	if err := repo.MarkPairExecutionFailed(context.Background(), "BTC/JPY_ETH/JPY", "rollback failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryMarkPairExecutionFailedNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE pair_positions SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPairPositionRepository(db)
	err = repo.MarkPairExecutionFailed(context.Background(), "missing", "reason")
	if !errors.Is(err, xerrors.ErrPairPositionNotFound) {
		t.Errorf("expected ErrPairPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryGetPairPositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM pair_positions WHERE pair_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewPairPositionRepository(db)
	_, err = repo.GetPairPosition(context.Background(), "missing")
	if !errors.Is(err, xerrors.ErrPairPositionNotFound) {
		t.Errorf("expected ErrPairPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairPositionRepositoryRecoverIncompletePairs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"pair_id", "symbol1", "symbol2", "direction", "status", "hedge_ratio", "entry_spread", "entry_z_score",
		"entry_time", "size1", "size2", "entry_price1", "entry_price2", "entry_capital", "unrealized_pnl", "max_pnl",
		"exit_price1", "exit_price2", "exit_time", "realized_pnl", "error_message", "updated_at",
	}).AddRow("BTC/JPY_ETH/JPY", "BTC/JPY", "ETH/JPY", "long_spread", "pending_execution", 1.0, 0.0, 0.0,
		now, 0.1, 0.1, 10_000_000.0, 500_000.0, 1_000_000.0, 0.0, 0.0, nil, nil, nil, 0.0, "", now)

	mock.ExpectQuery(`SELECT .+ FROM pair_positions WHERE status = ANY`).
		WillReturnRows(rows)

	repo := NewPairPositionRepository(db)
	results, err := repo.RecoverIncompletePairs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].PairID != "BTC/JPY_ETH/JPY" {
		t.Errorf("unexpected results: %+v", results)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
