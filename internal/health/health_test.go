package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradecore/internal/exchange"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
)

type fakeSafeMode struct{ latched bool }

func (f fakeSafeMode) IsLatched() bool { return f.latched }

func newTestAdapter(t *testing.T) *exchange.Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTC/JPY","bid1Price":"99.5","ask1Price":"100.5","lastPrice":"100.0"}]}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := exchange.NewClient(exchange.ClientConfig{BaseURL: server.URL, APIKey: "k", APISecret: "s"})
	limiter := ratelimit.NewRateLimiter(1000, 1000)
	cfg := retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	return exchange.NewAdapter(client, limiter, cfg, exchange.DefaultPolicy())
}

func TestCheckReportsUnhealthyWhenDBPingFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	c := NewChecker(db, newTestAdapter(t), fakeSafeMode{}, "BTC/JPY")
	rep := c.Check(context.Background())

	if rep.DBReachable {
		t.Error("expected DBReachable to be false")
	}
	if rep.Healthy {
		t.Error("expected Healthy to be false when the database is unreachable")
	}
}

func TestCheckReportsUnhealthyWhenSafeModeLatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	c := NewChecker(db, newTestAdapter(t), fakeSafeMode{latched: true}, "BTC/JPY")
	rep := c.Check(context.Background())

	if !rep.DBReachable {
		t.Error("expected DBReachable to be true")
	}
	if !rep.SafeModeLatched {
		t.Error("expected SafeModeLatched to be true")
	}
	if rep.Healthy {
		t.Error("expected Healthy to be false when safe mode is latched")
	}
}
