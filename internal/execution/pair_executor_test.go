package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
	"tradecore/internal/xerrors"
)

func balanceHandler(coins map[string]string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]interface{}, 0, len(coins))
		for coin, bal := range coins {
			list = append(list, map[string]interface{}{"coin": coin, "walletBalance": bal, "locked": "0", "equity": bal})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"list": []map[string]interface{}{
				{"coin": list},
			}},
		})
	}
}

func tickersHandler(prices map[string]string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		last := prices[symbol]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"list": []map[string]interface{}{
				{"symbol": symbol, "bid1Price": last, "ask1Price": last, "lastPrice": last},
			}},
		})
	}
}

func orderHandlerBySymbol(orders map[string]struct{ id, status, avgPrice string }) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Symbol string `json:"symbol"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		o := orders[body.Symbol]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"orderId": o.id},
		})
	}
}

func statusHandlerBySymbol(orders map[string]struct{ id, status, avgPrice string }) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		o := orders[symbol]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0, "retMsg": "OK",
			"result": map[string]interface{}{"list": []map[string]interface{}{
				{"orderId": o.id, "orderStatus": o.status, "qty": "0.01", "cumExecQty": "0.01", "avgPrice": o.avgPrice, "cumExecFee": "0", "feeCurrency": "JPY"},
			}},
		})
	}
}

func newTestPairExecutor(t *testing.T, mux *http.ServeMux) (*PairExecutor, *position.Store, sqlmock.Sqlmock, *fakeSafeMode, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pairRepo := repository.NewPairPositionRepository(db)
	store := position.NewStore(repository.NewPositionRepository(db), pairRepo, repository.NewTradeRepository(db))
	safeMode := &fakeSafeMode{}
	notifier := &fakeNotifier{}

	pe := NewPairExecutor(newTestAdapter(t, mux), store, pairRepo, safeMode, notifier, DefaultConfig())
	return pe, store, mock, safeMode, notifier
}

func TestPairExecutorOpenPairHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", tickersHandler(map[string]string{"BTC/JPY": "12000000", "ETH/JPY": "380000"}))
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000", "ETH": "1"}))

	orders := map[string]struct{ id, status, avgPrice string }{
		"BTC/JPY": {"ord-b", "Filled", "12005000"},
		"ETH/JPY": {"ord-e", "Filled", "380500"},
	}
	mux.HandleFunc("/v5/order/create", orderHandlerBySymbol(orders))
	mux.HandleFunc("/v5/order/realtime", statusHandlerBySymbol(orders))

	pe, store, mock, safeMode, notifier := newTestPairExecutor(t, mux)
	mock.ExpectExec(`INSERT INTO pair_positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE pair_positions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := PairEntryRequest{
		Symbol1: "BTC/JPY", Symbol2: "ETH/JPY", Direction: models.DirectionLongSpread,
		HedgeRatio: 31.6, Size1: 0.01, Size2: 0.1,
		QuotedPrice1: 12_000_000, QuotedPrice2: 380_000,
		EntrySpread: 0.02, EntryZScore: 2.1, EntryCapital: 150_000,
	}
	pp, err := pe.OpenPair(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pp.Status != models.PairOpen {
		t.Errorf("expected pair open, got %+v", pp)
	}
	if _, ok := store.GetPairPosition(pp.PairID); !ok {
		t.Error("expected pair added to store")
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != models.NotificationPairTradeOpen {
		t.Errorf("expected one pair_trade_open notification, got %+v", notifier.sent)
	}
	if safeMode.failures != 0 {
		t.Errorf("expected no recorded failures, got %d", safeMode.failures)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairExecutorOpenPairAbortsOnInsufficientSellBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000", "ETH": "0.001"}))

	pe, _, _, _, _ := newTestPairExecutor(t, mux)

	req := PairEntryRequest{
		Symbol1: "BTC/JPY", Symbol2: "ETH/JPY", Direction: models.DirectionLongSpread,
		HedgeRatio: 31.6, Size1: 0.01, Size2: 0.1,
		QuotedPrice1: 12_000_000, QuotedPrice2: 380_000,
	}
	_, err := pe.OpenPair(context.Background(), req)
	var block *xerrors.RiskBlock
	if !errors.As(err, &block) {
		t.Errorf("expected RiskBlock for insufficient sell balance, got %T: %v", err, err)
	}
}

func TestPairExecutorOpenPairRollsBackLeg1OnLeg2Failure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", tickersHandler(map[string]string{"BTC/JPY": "12000000", "ETH/JPY": "380000"}))
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000", "ETH": "1"}))

	orders := map[string]struct{ id, status, avgPrice string }{
		"BTC/JPY": {"ord-b", "Filled", "12005000"},
		"ETH/JPY": {"ord-e", "Rejected", "0"},
	}
	mux.HandleFunc("/v5/order/create", orderHandlerBySymbol(orders))
	mux.HandleFunc("/v5/order/realtime", statusHandlerBySymbol(orders))

	pe, store, mock, safeMode, notifier := newTestPairExecutor(t, mux)
	mock.ExpectExec(`INSERT INTO pair_positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE pair_positions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := PairEntryRequest{
		Symbol1: "BTC/JPY", Symbol2: "ETH/JPY", Direction: models.DirectionLongSpread,
		HedgeRatio: 31.6, Size1: 0.01, Size2: 0.1,
		QuotedPrice1: 12_000_000, QuotedPrice2: 380_000,
	}
	_, err := pe.OpenPair(context.Background(), req)
	if err == nil {
		t.Fatal("expected error when leg2 fails")
	}
	if _, ok := store.GetPairPosition(models.PairIDFor("BTC/JPY", "ETH/JPY")); ok {
		t.Error("expected pair not added to store after rollback")
	}
	if safeMode.latched {
		t.Error("expected safe mode not latched after a successful rollback")
	}
	found := false
	for _, n := range notifier.sent {
		if n.Type == models.NotificationRollback && n.Severity == models.SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning rollback notification, got %+v", notifier.sent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairExecutorOpenPairLatchesSafeModeOnRollbackExhaustion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", tickersHandler(map[string]string{"BTC/JPY": "12000000", "ETH/JPY": "380000"}))
	mux.HandleFunc("/v5/account/wallet-balance", balanceHandler(map[string]string{"JPY": "100000000", "ETH": "1"}))

	orders := map[string]struct{ id, status, avgPrice string }{
		"BTC/JPY": {"ord-b", "Rejected", "0"},
		"ETH/JPY": {"ord-e", "Rejected", "0"},
	}
	mux.HandleFunc("/v5/order/create", orderHandlerBySymbol(orders))

	// leg1's first BTC/JPY status read reports Filled, so leg2's failure
	// triggers a leg1 rollback; every later BTC/JPY read (the rollback's
	// compensating sell) reports Rejected, exhausting every rollback attempt.
	leg1Filled := statusHandlerBySymbol(map[string]struct{ id, status, avgPrice string }{
		"BTC/JPY": {"ord-b", "Filled", "12005000"},
	})
	rejected := statusHandlerBySymbol(orders)
	btcStatusCalls := 0
	mux.HandleFunc("/v5/order/realtime", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BTC/JPY" {
			btcStatusCalls++
			if btcStatusCalls == 1 {
				leg1Filled(w, r)
				return
			}
		}
		rejected(w, r)
	})

	pe, _, mock, safeMode, notifier := newTestPairExecutor(t, mux)
	pe.cfg.RollbackBackoff = nil
	pe.cfg.MaxRollbackRetries = 2
	mock.ExpectExec(`INSERT INTO pair_positions`).WillReturnResult(sqlmock.NewResult(0, 1))
	// Rollback exhaustion still marks the pair row execution_failed (§4.6
	// Scenario 5): the leg is un-hedged either way, so the row must not
	// linger in pending_execution.
	mock.ExpectExec(`UPDATE pair_positions SET status`).WillReturnResult(sqlmock.NewResult(1, 1))

	req := PairEntryRequest{
		Symbol1: "BTC/JPY", Symbol2: "ETH/JPY", Direction: models.DirectionLongSpread,
		HedgeRatio: 31.6, Size1: 0.01, Size2: 0.1,
		QuotedPrice1: 12_000_000, QuotedPrice2: 380_000,
	}
	_, err := pe.OpenPair(context.Background(), req)
	if err == nil {
		t.Fatal("expected error on leg2 failure")
	}
	if !safeMode.latched {
		t.Error("expected safe mode latched after rollback exhaustion")
	}
	found := false
	for _, n := range notifier.sent {
		if n.Type == models.NotificationRollback && n.Severity == models.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a critical rollback notification, got %+v", notifier.sent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPairExecutorClosePairUnknownPair(t *testing.T) {
	mux := http.NewServeMux()
	pe, _, _, _, _ := newTestPairExecutor(t, mux)

	_, err := pe.ClosePair(context.Background(), "missing_pair")
	if !errors.Is(err, xerrors.ErrPairPositionNotFound) {
		t.Errorf("expected ErrPairPositionNotFound, got %v", err)
	}
}
