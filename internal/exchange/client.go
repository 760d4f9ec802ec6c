package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const recvWindow = "5000"

// ClientConfig addresses and authenticates a single venue's V5-style REST
// API (request signing, response envelope, and endpoint paths follow the
// common exchange.bybit.go shape this adapter was grounded on).
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// Client is the raw, unauthenticated-to-the-core REST client: it knows
// how to sign and send one HTTP request and parse one JSON envelope. It
// implements no retry or rate limiting of its own — Adapter supplies both.
type Client struct {
	cfg  ClientConfig
	http *HTTPClient
}

// NewClient builds a raw client over the shared, connection-pooled
// HTTPClient.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg, http: GetGlobalHTTPClient()}
}

func (c *Client) sign(timestamp, payload string) string {
	message := timestamp + c.cfg.APIKey + recvWindow + payload
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) (json.RawMessage, error) {
	var body string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		body = query.Encode()
		reqURL = c.cfg.BaseURL + endpoint
		if body != "" {
			reqURL += "?" + body
		}
	} else {
		reqURL = c.cfg.BaseURL + endpoint
		if len(params) > 0 {
			raw, _ := json.Marshal(params)
			body = string(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "build request: " + err.Error(), Original: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := c.sign(timestamp, body)
		req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "request failed: " + err.Error(), Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "read body: " + err.Error(), Original: err, HTTPCode: resp.StatusCode}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ExchangeError{Venue: "exchange", Code: "429", Message: "rate limited", HTTPCode: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "malformed response: " + err.Error(), Original: err, HTTPCode: resp.StatusCode}
	}
	if env.RetCode != 0 {
		return nil, &ExchangeError{
			Venue:    "exchange",
			Code:     strconv.Itoa(env.RetCode),
			Message:  env.RetMsg,
			HTTPCode: resp.StatusCode,
		}
	}

	return env.Result, nil
}

func sideString(side Side) string {
	if side == Sell {
		return "Sell"
	}
	return "Buy"
}

func (c *Client) createOrder(ctx context.Context, symbol string, side Side, orderType string, amount, price float64) (*OrderResult, error) {
	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        sideString(side),
		"orderType":   orderType,
		"qty":         strconv.FormatFloat(amount, 'f', -1, 64),
		"timeInForce": "IOC",
	}
	if orderType == "Limit" {
		params["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	}

	result, err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OrderId string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "parse order response: " + err.Error(), Original: err}
	}

	order := &OrderResult{
		ID:      parsed.OrderId,
		Symbol:  symbol,
		Side:    side,
		Status:  OrderOpen,
		Amount:  amount,
		Price:   price,
		Created: time.Now(),
		Updated: time.Now(),
	}

	status, err := c.orderStatus(ctx, parsed.OrderId, symbol)
	if err == nil && status != nil {
		order.Status = status.Status
		order.Filled = status.Filled
		order.Average = status.Average
		order.Cost = status.Cost
		order.Fee = status.Fee
		order.FeeCcy = status.FeeCcy
	}

	return order, nil
}

func (c *Client) orderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		List []struct {
			OrderId     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			CumExecFee  string `json:"cumExecFee"`
			FeeCurrency string `json:"feeCurrency"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "parse order status: " + err.Error(), Original: err}
	}
	if len(parsed.List) == 0 {
		return &OrderResult{ID: orderID, Symbol: symbol, Status: OrderUnknown}, nil
	}

	o := parsed.List[0]
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	fee, _ := strconv.ParseFloat(o.CumExecFee, 64)

	return &OrderResult{
		ID:      o.OrderId,
		Symbol:  symbol,
		Status:  mapOrderStatus(o.OrderStatus),
		Amount:  qty,
		Filled:  filled,
		Average: avg,
		Cost:    avg * filled,
		Fee:     fee,
		FeeCcy:  o.FeeCurrency,
		Updated: time.Now(),
	}, nil
}

func mapOrderStatus(venueStatus string) OrderStatus {
	switch venueStatus {
	case "Filled":
		return OrderFilled
	case "PartiallyFilled", "New", "Created":
		return OrderOpen
	case "Cancelled", "Rejected", "Deactivated":
		return OrderCanceled
	default:
		return OrderUnknown
	}
}

func (c *Client) balance(ctx context.Context, currency string) (*Balance, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        currency,
	}
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				Equity          string `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "parse balance: " + err.Error(), Original: err}
	}

	if len(parsed.List) > 0 {
		for _, coin := range parsed.List[0].Coin {
			if coin.Coin == currency {
				total, _ := strconv.ParseFloat(coin.WalletBalance, 64)
				used, _ := strconv.ParseFloat(coin.Locked, 64)
				return &Balance{Currency: currency, Free: total - used, Used: used, Total: total}, nil
			}
		}
	}

	return &Balance{Currency: currency}, nil
}

func (c *Client) price(ctx context.Context, symbol string) (*Price, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}
	result, err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ExchangeError{Venue: "exchange", Message: "parse ticker: " + err.Error(), Original: err}
	}
	if len(parsed.List) == 0 {
		return nil, &ExchangeError{Venue: "exchange", Message: fmt.Sprintf("no ticker for %s", symbol)}
	}

	t := parsed.List[0]
	bid, _ := strconv.ParseFloat(t.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(t.Ask1Price, 64)
	last, _ := strconv.ParseFloat(t.LastPrice, 64)

	return &Price{Symbol: t.Symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now()}, nil
}
