package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradecore/internal/xerrors"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/retry"
	"tradecore/pkg/utils"
)

// SpecRetryConfig matches §4.2's retry contract exactly: base delay 2s,
// doubling, capped at 60s, up to 4 attempts, no jitter.
var SpecRetryConfig = retry.Config{
	MaxRetries:   4,
	InitialDelay: 2 * time.Second,
	MaxDelay:     60 * time.Second,
	Multiplier:   2.0,
	JitterFactor: 0,
}

// Policy holds the adapter-enforced guards the venue itself does not
// apply (§4.2: "Policies enforced by the adapter (not by exchange)").
type Policy struct {
	MinOrderAmount map[string]float64 // per symbol; falls back to DefaultMinOrderAmount
	MaxOrderCost   float64            // hard per-order notional ceiling
	CommissionRate float64            // fraction, e.g. 0.001 for 10bps
	BalanceBuffer  float64            // fraction of extra headroom required
}

// DefaultPolicy is a conservative starting point; operators override via
// configuration.
func DefaultPolicy() Policy {
	return Policy{
		MinOrderAmount: map[string]float64{},
		MaxOrderCost:   100_000_000, // e.g. 100M units of quote currency
		CommissionRate: 0.001,
		BalanceBuffer:  0.01,
	}
}

func (p Policy) minOrderAmount(symbol string) float64 {
	if v, ok := p.MinOrderAmount[symbol]; ok {
		return v
	}
	return 0
}

// Adapter wraps the raw venue Client with retry-with-backoff, rate
// limiting, and the adapter-level policy guards. It is the concrete
// implementation of Exchange that the rest of the core depends on.
type Adapter struct {
	client  *Client
	limiter *ratelimit.RateLimiter
	retry   retry.Config
	policy  Policy
}

// NewAdapter builds an Adapter around client.
func NewAdapter(client *Client, limiter *ratelimit.RateLimiter, retryCfg retry.Config, policy Policy) *Adapter {
	cfg := retryCfg
	cfg.RetryIf = retryableVenueError
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		utils.Warn("retrying exchange call",
			utils.Int("attempt", attempt),
			utils.Err(err),
			utils.Float64("delay_ms", float64(delay.Milliseconds())))
	}
	return &Adapter{client: client, limiter: limiter, retry: cfg, policy: policy}
}

func retryableVenueError(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Retryable()
	}
	return true
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		if exErr.Retryable() {
			return xerrors.NewAPIFailure(op, exErr)
		}
		return xerrors.NewExchangeRejection(exErr.Message, exErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.NewTimeoutError("", err)
	}
	return xerrors.NewNetworkError(op, err)
}

func (a *Adapter) callOrder(ctx context.Context, op string, fn func(context.Context) (*OrderResult, error)) (*OrderResult, error) {
	result, err := retry.DoWithResult(ctx, func() (*OrderResult, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn(ctx)
	}, a.retry)
	if err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

// CreateMarketOrder enforces the adapter policies, then places the order.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResult, error) {
	if err := a.checkPolicy(ctx, symbol, side, amount); err != nil {
		return nil, err
	}
	return a.callOrder(ctx, "create_market_order", func(ctx context.Context) (*OrderResult, error) {
		return a.client.createOrder(ctx, symbol, side, "Market", amount, 0)
	})
}

// CreateLimitOrder enforces the adapter policies, then places the order.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (*OrderResult, error) {
	if err := a.checkPolicy(ctx, symbol, side, amount); err != nil {
		return nil, err
	}
	return a.callOrder(ctx, "create_limit_order", func(ctx context.Context) (*OrderResult, error) {
		return a.client.createOrder(ctx, symbol, side, "Limit", amount, price)
	})
}

// GetOrderStatus polls an order's current state.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error) {
	result, err := a.callOrder(ctx, "get_order_status", func(ctx context.Context) (*OrderResult, error) {
		return a.client.orderStatus(ctx, orderID, symbol)
	})
	if err != nil {
		var unknown *xerrors.UnknownStatusError
		if errors.As(err, &unknown) {
			return &OrderResult{ID: orderID, Symbol: symbol, Status: OrderUnknown}, nil
		}
		return nil, err
	}
	return result, nil
}

// FetchBalance returns the free/used/total split for currency.
func (a *Adapter) FetchBalance(ctx context.Context, currency string) (*Balance, error) {
	var bal *Balance
	_, err := a.callOrder(ctx, "fetch_balance", func(ctx context.Context) (*OrderResult, error) {
		b, err := a.client.balance(ctx, currency)
		if err != nil {
			return nil, err
		}
		bal = b
		return &OrderResult{}, nil
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// GetCurrentPrice returns the latest quote for symbol.
func (a *Adapter) GetCurrentPrice(ctx context.Context, symbol string) (*Price, error) {
	var p *Price
	_, err := a.callOrder(ctx, "get_current_price", func(ctx context.Context) (*OrderResult, error) {
		price, err := a.client.price(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p = price
		return &OrderResult{}, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the adapter's HTTP connection pool.
func (a *Adapter) Close() error {
	a.client.http.Close()
	return nil
}

// checkPolicy runs the adapter's pre-trade guards (§4.2): minimum order
// amount, hard cost ceiling, and — for buys — a balance-buffer pre-check
// against free balance in the quote currency.
func (a *Adapter) checkPolicy(ctx context.Context, symbol string, side Side, amount float64) error {
	if min := a.policy.minOrderAmount(symbol); min > 0 && amount < min {
		return xerrors.NewExchangeRejection(fmt.Sprintf("amount %v below minimum %v for %s", amount, min, symbol), nil)
	}

	quote, err := a.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return err
	}

	notional := amount * quote.Last
	if a.policy.MaxOrderCost > 0 && notional > a.policy.MaxOrderCost {
		return xerrors.NewExchangeRejection(fmt.Sprintf("order cost %v exceeds ceiling %v", notional, a.policy.MaxOrderCost), nil)
	}

	if side == Buy {
		quoteCcy := utils.ExtractQuoteCurrency(symbol)
		balance, err := a.FetchBalance(ctx, quoteCcy)
		if err != nil {
			return err
		}
		required := notional * (1 + a.policy.CommissionRate) * (1 + a.policy.BalanceBuffer)
		if required > balance.Free {
			return xerrors.NewExchangeRejection(fmt.Sprintf("insufficient %s balance: need %v, have %v", quoteCcy, required, balance.Free), nil)
		}
	}

	return nil
}
