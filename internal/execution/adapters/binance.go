// Package adapters provides concrete ExchangeAdapter implementations.
// Wire formats are a demonstration wiring of the abstract contract in
// execution.ExchangeAdapter, not a deliverable in their own right
// (spec.md §1, §6).
package adapters

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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// BinanceConfig configures the USDⓈ-M futures adapter.
type BinanceConfig struct {
	APIKey    string `mapstructure:"apiKey" json:"-"`
	APISecret string `mapstructure:"apiSecret" json:"-"`
	Testnet   bool   `mapstructure:"testnet" json:"testnet"`
}

// BinanceAdapter implements execution.ExchangeAdapter against Binance's
// USDⓈ-M perpetual futures API.
type BinanceAdapter struct {
	logger     *zap.Logger
	apiKey     string
	apiSecret  string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu        sync.RWMutex
	wsConn    *websocket.Conn
	connected bool

	onTicker func(types.Ticker)
	onEvent  func(execution.UserEvent)
}

// NewBinanceAdapter builds a BinanceAdapter. Outbound REST calls are
// throttled to spec.md §5's "≥200ms between requests" via a token-bucket
// limiter with a burst of one; no separate request-weight budget is tracked.
func NewBinanceAdapter(logger *zap.Logger, config BinanceConfig) *BinanceAdapter {
	baseURL := "https://fapi.binance.com"
	wsURL := "wss://fstream.binance.com/ws"
	if config.Testnet {
		baseURL = "https://testnet.binancefuture.com"
		wsURL = "wss://stream.binancefuture.com/ws"
	}
	return &BinanceAdapter{
		logger:     logger.Named("binance"),
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		baseURL:    baseURL,
		wsURL:      wsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// Name identifies the adapter.
func (b *BinanceAdapter) Name() string { return "binance-futures" }

// Connect verifies reachability against the futures ping endpoint.
func (b *BinanceAdapter) Connect(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/fapi/v1/ping", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return execution.NewAdapterError(execution.ErrorKindNetwork, "ping failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return execution.NewAdapterError(execution.ErrorKindNetwork, fmt.Sprintf("ping status %d", resp.StatusCode), nil)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("connected to binance futures", zap.String("baseURL", b.baseURL))
	return nil
}

// Disconnect closes the websocket connection, if any.
func (b *BinanceAdapter) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	if b.wsConn != nil {
		err := b.wsConn.Close()
		b.wsConn = nil
		return err
	}
	return nil
}

// IsConnected reports adapter liveness.
func (b *BinanceAdapter) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// FetchAllTickers fetches the 24h ticker snapshot consumed by the Market
// Scanner (spec.md §4.4, §6).
func (b *BinanceAdapter) FetchAllTickers(ctx context.Context) ([]types.Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := b.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "decode tickers", err)
	}
	tickers := make([]types.Ticker, 0, len(raw))
	for _, r := range raw {
		last, _ := decimal.NewFromString(r.LastPrice)
		vol, _ := decimal.NewFromString(r.QuoteVolume)
		chg, _ := decimal.NewFromString(r.PriceChangePercent)
		tickers = append(tickers, types.Ticker{
			Symbol: r.Symbol, Last: last, QuoteVolume24h: vol, PriceChangePct24h: chg,
		})
	}
	return tickers, nil
}

var intervalMap = map[types.Timeframe]string{
	types.Timeframe1m: "1m", types.Timeframe5m: "5m", types.Timeframe15m: "15m",
	types.Timeframe1h: "1h", types.Timeframe4h: "4h", types.Timeframe1d: "1d",
}

// FetchOHLCV fetches closed candles for symbol/timeframe (spec.md §6).
func (b *BinanceAdapter) FetchOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	interval, ok := intervalMap[timeframe]
	if !ok {
		return nil, execution.NewAdapterError(execution.ErrorKindRejected, "unsupported timeframe", nil)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	body, err := b.get(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "decode klines", err)
	}
	candles := make([]types.OHLCV, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTimeMs, _ := k[0].(float64)
		open, _ := decimal.NewFromString(k[1].(string))
		high, _ := decimal.NewFromString(k[2].(string))
		low, _ := decimal.NewFromString(k[3].(string))
		closePrice, _ := decimal.NewFromString(k[4].(string))
		vol, _ := decimal.NewFromString(k[5].(string))
		candles = append(candles, types.OHLCV{
			OpenTime: time.UnixMilli(int64(openTimeMs)),
			Open:     open, High: high, Low: low, Close: closePrice, Volume: vol,
		})
	}
	return candles, nil
}

// SubscribeTicker opens a new ticker stream for symbol and invokes
// onUpdate for each message, reconnecting on drop per spec.md §6.
func (b *BinanceAdapter) SubscribeTicker(ctx context.Context, symbol string, onUpdate func(types.Ticker)) error {
	b.onTicker = onUpdate
	stream := strings.ToLower(symbol) + "@ticker"
	return b.dialAndRead(ctx, stream, b.handleTickerMessage)
}

// SubscribeUserEvents subscribes to the user data stream (fills,
// cancels, liquidations). Binance's real listen-key handshake is elided;
// the wire format is explicitly out of scope (spec.md §1).
func (b *BinanceAdapter) SubscribeUserEvents(ctx context.Context, onEvent func(execution.UserEvent)) error {
	b.onEvent = onEvent
	return nil
}

func (b *BinanceAdapter) dialAndRead(ctx context.Context, stream string, handle func([]byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.wsURL+"/"+stream, nil)
	if err != nil {
		return execution.NewAdapterError(execution.ErrorKindNetwork, "websocket dial failed", err)
	}
	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			default:
			}
			_, msg, err := conn.ReadMessage()
			if err != nil {
				b.logger.Warn("websocket read error, reconnecting", zap.Error(err))
				time.Sleep(time.Second)
				if dialErr := b.dialAndRead(ctx, stream, handle); dialErr != nil {
					b.logger.Error("websocket reconnect failed", zap.Error(dialErr))
				}
				return
			}
			handle(msg)
		}
	}()
	return nil
}

func (b *BinanceAdapter) handleTickerMessage(msg []byte) {
	var raw struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Last      string `json:"c"`
		Volume    string `json:"q"`
		ChangePct string `json:"P"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil || raw.EventType != "24hrTicker" {
		return
	}
	last, _ := decimal.NewFromString(raw.Last)
	vol, _ := decimal.NewFromString(raw.Volume)
	chg, _ := decimal.NewFromString(raw.ChangePct)
	if b.onTicker != nil {
		b.onTicker(types.Ticker{Symbol: raw.Symbol, Last: last, QuoteVolume24h: vol, PriceChangePct24h: chg})
	}
}

// SetLeverage sets the isolated/cross leverage tier for symbol.
func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.signedPost(ctx, "/fapi/v1/leverage", params)
	return err
}

// PlaceMarketOrder submits a MARKET order.
func (b *BinanceAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal) (*execution.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())
	return b.placeOrder(ctx, params)
}

// PlaceLimitOrder submits a GTC LIMIT order.
func (b *BinanceAdapter) PlaceLimitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity, price decimal.Decimal) (*execution.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", quantity.String())
	params.Set("price", price.String())
	return b.placeOrder(ctx, params)
}

// PlaceStopMarket submits a STOP_MARKET order (spec.md §6).
func (b *BinanceAdapter) PlaceStopMarket(ctx context.Context, symbol string, stopPrice decimal.Decimal, side types.OrderSide, quantity decimal.Decimal) (*execution.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", stopPrice.String())
	params.Set("quantity", quantity.String())
	return b.placeOrder(ctx, params)
}

func (b *BinanceAdapter) placeOrder(ctx context.Context, params url.Values) (*execution.OrderResult, error) {
	params.Set("newClientOrderId", utils.GenerateID("atlas"))
	body, err := b.signedPost(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	var raw struct {
		OrderID       int64  `json:"orderId"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "decode order response", err)
	}
	price, _ := decimal.NewFromString(raw.Price)
	qty, _ := decimal.NewFromString(raw.OrigQty)
	filled, _ := decimal.NewFromString(raw.ExecutedQty)
	avg, _ := decimal.NewFromString(raw.AvgPrice)
	return &execution.OrderResult{
		OrderID:   fmt.Sprintf("%s:%d", raw.Symbol, raw.OrderID),
		Symbol:    raw.Symbol,
		Side:      types.OrderSide(strings.ToLower(raw.Side)),
		Status:    convertOrderStatus(raw.Status),
		Price:     price,
		Quantity:  qty,
		FilledQty: filled,
		AvgPrice:  avg,
		Timestamp: time.Now(),
	}, nil
}

// CancelOrder cancels orderID (format "SYMBOL:ID").
func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id := orderID
	if idx := strings.Index(orderID, ":"); idx >= 0 {
		id = orderID[idx+1:]
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)
	_, err := b.signedDelete(ctx, "/fapi/v1/order", params)
	return err
}

// CloseAllPositions flattens every open position for symbol (or the whole
// account when symbol is empty) with a reduce-only market order.
func (b *BinanceAdapter) CloseAllPositions(ctx context.Context, symbol string) error {
	positions, err := b.FetchPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if p.Quantity.IsZero() {
			continue
		}
		closingSide := types.OrderSideSell
		if p.Side == types.PositionSideShort {
			closingSide = types.OrderSideBuy
		}
		params := url.Values{}
		params.Set("symbol", p.Symbol)
		params.Set("side", strings.ToUpper(string(closingSide)))
		params.Set("type", "MARKET")
		params.Set("quantity", p.Quantity.String())
		params.Set("reduceOnly", "true")
		if _, err := b.signedPost(ctx, "/fapi/v1/order", params); err != nil {
			return err
		}
	}
	return nil
}

// FetchPositions returns the exchange's authoritative open positions,
// used for reconciliation (spec.md §4.9, §6).
func (b *BinanceAdapter) FetchPositions(ctx context.Context) ([]execution.ExchangePosition, error) {
	body, err := b.signedGet(ctx, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol         string `json:"symbol"`
		PositionAmt    string `json:"positionAmt"`
		EntryPrice     string `json:"entryPrice"`
		MarkPrice      string `json:"markPrice"`
		Leverage       string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "decode positions", err)
	}
	positions := make([]execution.ExchangePosition, 0, len(raw))
	for _, r := range raw {
		qty, _ := decimal.NewFromString(r.PositionAmt)
		if qty.IsZero() {
			continue
		}
		side := types.PositionSideLong
		if qty.IsNegative() {
			side = types.PositionSideShort
			qty = qty.Abs()
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		leverage, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, execution.ExchangePosition{
			Symbol: r.Symbol, Side: side, Quantity: qty, EntryPrice: entry, MarkPrice: mark, Leverage: leverage,
		})
	}
	return positions, nil
}

func convertOrderStatus(status string) types.OrderStatus {
	switch status {
	case "NEW":
		return types.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED":
		return types.OrderStatusCancelled
	case "REJECTED":
		return types.OrderStatusRejected
	case "EXPIRED":
		return types.OrderStatusExpired
	default:
		return types.OrderStatusOpen
	}
}

func (b *BinanceAdapter) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := b.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *BinanceAdapter) signedGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return b.signedRequest(ctx, http.MethodGet, endpoint, params)
}

func (b *BinanceAdapter) signedPost(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return b.signedRequest(ctx, http.MethodPost, endpoint, params)
}

func (b *BinanceAdapter) signedDelete(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return b.signedRequest(ctx, http.MethodDelete, endpoint, params)
}

func (b *BinanceAdapter) signedRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	signature := b.sign(params.Encode())
	params.Set("signature", signature)

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req)
}

func (b *BinanceAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BinanceAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, execution.NewAdapterError(execution.ErrorKindNetwork, "read response", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusTooManyRequests, 418:
		return nil, execution.NewAdapterError(execution.ErrorKindRateLimited, string(body), nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, execution.NewAdapterError(execution.ErrorKindAuthFailure, string(body), nil)
	default:
		if resp.StatusCode >= 500 {
			return nil, execution.NewAdapterError(execution.ErrorKindTransient, string(body), nil)
		}
		return nil, execution.NewAdapterError(execution.ErrorKindRejected, string(body), nil)
	}
}
