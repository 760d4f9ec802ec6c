package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
	"tradecore/internal/xerrors"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
)

type fakeSafeMode struct {
	latched      bool
	failures     int
	successes    int
	latchReasons []string
}

func (f *fakeSafeMode) IsLatched() bool    { return f.latched }
func (f *fakeSafeMode) RecordFailure()     { f.failures++ }
func (f *fakeSafeMode) RecordSuccess()     { f.successes++ }
func (f *fakeSafeMode) Latch(reason string) {
	f.latched = true
	f.latchReasons = append(f.latchReasons, reason)
}

type fakeNotifier struct {
	sent []*models.Notification
}

func (f *fakeNotifier) Notify(n *models.Notification) { f.sent = append(f.sent, n) }

func newTestAdapter(t *testing.T, mux *http.ServeMux) *exchange.Adapter {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := exchange.NewClient(exchange.ClientConfig{BaseURL: server.URL, APIKey: "k", APISecret: "s"})
	limiter := ratelimit.NewRateLimiter(1000, 1000)
	cfg := retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	return exchange.NewAdapter(client, limiter, cfg, exchange.DefaultPolicy())
}

func priceHandler(last string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"list": []map[string]interface{}{
				{"symbol": "BTC/JPY", "bid1Price": last, "ask1Price": last, "lastPrice": last},
			}},
		})
	}
}

func fillOrderHandlers(mux *http.ServeMux, orderID, status, qty, avgPrice string) {
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"orderId": orderID},
		})
	})
	mux.HandleFunc("/v5/order/realtime", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"list": []map[string]interface{}{
				{"orderId": orderID, "orderStatus": status, "qty": qty, "cumExecQty": qty, "avgPrice": avgPrice, "cumExecFee": "0", "feeCurrency": "JPY"},
			}},
		})
	})
}

func newTestExecutor(t *testing.T, mux *http.ServeMux) (*OrderExecutor, *position.Store, sqlmock.Sqlmock, *fakeSafeMode, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	positionRepo := repository.NewPositionRepository(db)
	store := position.NewStore(positionRepo, repository.NewPairPositionRepository(db), repository.NewTradeRepository(db))
	safeMode := &fakeSafeMode{}
	notifier := &fakeNotifier{}

	cfg := DefaultConfig()
	cfg.MaxPositions = 5
	oe := NewOrderExecutor(newTestAdapter(t, mux), store, positionRepo, safeMode, notifier, cfg)
	return oe, store, mock, safeMode, notifier
}

func TestOrderExecutorOpenPositionHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", priceHandler("12000000"))
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000"}))
	fillOrderHandlers(mux, "ord-1", "Filled", "0.00125", "12010000")

	oe, store, mock, safeMode, notifier := newTestExecutor(t, mux)
	mock.ExpectExec(`INSERT INTO positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE positions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := EntryRequest{
		Symbol: "BTC/JPY", Side: models.SideLong, QuotedPrice: 12_000_000,
		AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 10_400_000, MaxPositionSizePct: 0.5,
	}
	p, err := oe.OpenPosition(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != models.PositionOpen || p.EntryPrice != 12_010_000 || p.Quantity != 0.00125 {
		t.Errorf("unexpected confirmed position: %+v", p)
	}
	if _, ok := store.GetPosition("BTC/JPY"); !ok {
		t.Error("expected position added to store")
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != models.NotificationTradeOpen {
		t.Errorf("expected one trade_open notification, got %+v", notifier.sent)
	}
	if safeMode.failures != 0 || safeMode.successes == 0 {
		t.Errorf("expected only successes recorded, got failures=%d successes=%d", safeMode.failures, safeMode.successes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderExecutorOpenPositionAbortsOnExcessivePriceSlip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", priceHandler("13000000")) // +8.3% slip

	oe, store, _, _, _ := newTestExecutor(t, mux)

	req := EntryRequest{
		Symbol: "BTC/JPY", Side: models.SideLong, QuotedPrice: 12_000_000,
		AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 10_400_000, MaxPositionSizePct: 0.5,
	}
	_, err := oe.OpenPosition(context.Background(), req)
	if err == nil {
		t.Fatal("expected error on excessive price slip")
	}
	if _, ok := store.GetPosition("BTC/JPY"); ok {
		t.Error("expected no position added when price slip aborts entry")
	}
}

func TestOrderExecutorOpenPositionRejectsAtMaxPositions(t *testing.T) {
	mux := http.NewServeMux() // no handlers: any call fails the test
	oe, store, _, _, _ := newTestExecutor(t, mux)
	oe.cfg.MaxPositions = 1
	store.AddPosition(&models.Position{ID: "p1", Symbol: "ETH/JPY", Status: models.PositionOpen})

	req := EntryRequest{Symbol: "BTC/JPY", Side: models.SideLong, QuotedPrice: 12_000_000, AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 10_400_000, MaxPositionSizePct: 0.5}
	_, err := oe.OpenPosition(context.Background(), req)
	var block *xerrors.RiskBlock
	if err == nil {
		t.Fatal("expected risk block error")
	}
	if !errors.As(err, &block) {
		t.Errorf("expected RiskBlock, got %T: %v", err, err)
	}
}

func TestOrderExecutorOpenPositionRejectsWhenSafeModeLatched(t *testing.T) {
	mux := http.NewServeMux()
	oe, _, _, safeMode, _ := newTestExecutor(t, mux)
	safeMode.latched = true

	req := EntryRequest{Symbol: "BTC/JPY", Side: models.SideLong, QuotedPrice: 12_000_000, AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 10_400_000, MaxPositionSizePct: 0.5}
	_, err := oe.OpenPosition(context.Background(), req)
	var block *xerrors.RiskBlock
	if !errors.As(err, &block) {
		t.Errorf("expected RiskBlock, got %T: %v", err, err)
	}
}

func TestOrderExecutorOpenPositionRejectsShortOnSpotSymbol(t *testing.T) {
	mux := http.NewServeMux() // no handlers: a short on a spot symbol must never reach the exchange
	oe, _, _, _, _ := newTestExecutor(t, mux)

	req := EntryRequest{Symbol: "BTC/JPY", Side: models.SideShort, QuotedPrice: 12_000_000, AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 13_200_000, MaxPositionSizePct: 0.5}
	_, err := oe.OpenPosition(context.Background(), req)
	var block *xerrors.RiskBlock
	if !errors.As(err, &block) {
		t.Errorf("expected RiskBlock, got %T: %v", err, err)
	}
}

func TestOrderExecutorOpenPositionAllowsShortOnLeverageSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", priceHandler("10000000"))
	fillOrderHandlers(mux, "ord-1", "Filled", "0.02", "10000000")

	oe, _, mock, _, _ := newTestExecutor(t, mux)
	mock.ExpectExec(`INSERT INTO positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE positions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := EntryRequest{
		Symbol: "FX_BTC_JPY", Side: models.SideShort, QuotedPrice: 10_000_000,
		AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 11_000_000, MaxPositionSizePct: 0.5,
		IsLeveraged: true, Leverage: 2,
	}
	pos, err := oe.OpenPosition(context.Background(), req)
	if err != nil {
		t.Fatalf("expected leverage-capable short to succeed, got %v", err)
	}
	if pos.Side != models.SideShort {
		t.Errorf("side = %v, want short", pos.Side)
	}
}

func TestOrderExecutorOpenPositionCancelsPendingOnZeroFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", priceHandler("12000000"))
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000"}))
	fillOrderHandlers(mux, "ord-1", "Cancelled", "0", "0")

	oe, store, mock, _, _ := newTestExecutor(t, mux)
	mock.ExpectExec(`INSERT INTO positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE positions`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := EntryRequest{Symbol: "BTC/JPY", Side: models.SideLong, QuotedPrice: 12_000_000, AvailableCapital: 200_000, RiskPct: 1, StopLossPrice: 10_400_000, MaxPositionSizePct: 0.5}
	_, err := oe.OpenPosition(context.Background(), req)
	if err == nil {
		t.Fatal("expected error on zero fill")
	}
	if _, ok := store.GetPosition("BTC/JPY"); ok {
		t.Error("expected no position added on zero fill")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderExecutorClosePositionSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", priceHandler("10500000"))
	fillOrderHandlers(mux, "ord-2", "Filled", "0.5", "10500000")

	oe, store, mock, _, notifier := newTestExecutor(t, mux)
	store.AddPosition(&models.Position{ID: "pos-1", Symbol: "BTC/JPY", Side: models.SideLong, Status: models.PositionOpen, EntryPrice: 10_000_000, Quantity: 0.5})
	mock.ExpectExec(`UPDATE positions`).WillReturnResult(sqlmock.NewResult(0, 1))

	closed, err := oe.ClosePosition(context.Background(), "BTC/JPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Status != models.PositionClosed {
		t.Errorf("expected closed position, got %+v", closed)
	}
	if _, ok := store.GetPosition("BTC/JPY"); ok {
		t.Error("expected position removed from store after close")
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != models.NotificationTradeClose {
		t.Errorf("expected one trade_close notification, got %+v", notifier.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderExecutorClosePositionUnknownSymbol(t *testing.T) {
	mux := http.NewServeMux()
	oe, _, _, _, _ := newTestExecutor(t, mux)

	_, err := oe.ClosePosition(context.Background(), "missing")
	if !errors.Is(err, xerrors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}
