// Package exchange implements the Binance spot gateway used by the trading engine.
//
// Two transports are combined behind one Client:
//   - public market data (24h tickers, klines) goes over a plain resty client
//     against the public REST host, with retry on 5xx
//   - signed endpoints (account, orders, API key permissions) go through the
//     official go-binance SDK, which handles HMAC signing and timestamps
//
// Every request is rate-limited via per-category TokenBuckets and capped at a
// 30-second timeout. Symbols cross the gateway boundary in canonical BASE/QUOTE
// form ("LTC/USDT"); the Binance wire form ("LTCUSDT") never leaks out.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"spot-trader/internal/config"
	"spot-trader/pkg/types"
)

const (
	publicBaseURL  = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	// requestTimeout caps every exchange call so a hung request cannot
	// stall the scan loop indefinitely.
	requestTimeout = 30 * time.Second
)

// ErrWithdrawEnabled is returned by Initialize when the configured API key
// carries withdrawal permission. The bot refuses to run with such a key:
// a leaked key must never be able to move funds off the account.
var ErrWithdrawEnabled = errors.New("api key has withdrawal permission enabled")

// SymbolInfo holds per-symbol metadata loaded from exchange info at startup.
type SymbolInfo struct {
	Symbol     string // wire form, e.g. "LTCUSDT"
	Canonical  string // canonical form, e.g. "LTC/USDT"
	BaseAsset  string
	QuoteAsset string
	StepSize   string // LOT_SIZE step; "" when the filter is absent
}

// Client is the Binance spot gateway.
type Client struct {
	http    *resty.Client   // public market-data endpoints
	api     *binance.Client // signed endpoints via the official SDK
	rl      *RateLimiter
	sandbox bool
	logger  *slog.Logger

	// symbols maps wire symbols to metadata. Populated once in Initialize,
	// read-only afterwards.
	symbols map[string]SymbolInfo
}

// NewClient creates a gateway from the resolved configuration. Credentials and
// the sandbox flag select between the live and testnet hosts for both
// transports; no network calls are made until Initialize.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	binance.UseTestnet = cfg.IsSandbox
	api := binance.NewClient(cfg.APIKey, cfg.APISecret)

	baseURL := publicBaseURL
	if cfg.IsSandbox {
		baseURL = testnetBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		api:     api,
		rl:      NewRateLimiter(),
		sandbox: cfg.IsSandbox,
		logger:  logger.With("component", "exchange"),
	}
}

// Initialize loads the tradable symbol table and verifies the API key is safe
// to use. It must complete before any other gateway call; a failure here puts
// the bot into its error state.
func (c *Client) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Data.Wait(ctx); err != nil {
		return err
	}

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("load exchange info: %w", err)
	}

	symbols := make(map[string]SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		si := SymbolInfo{
			Symbol:     s.Symbol,
			Canonical:  s.BaseAsset + "/" + s.QuoteAsset,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		if f := s.LotSizeFilter(); f != nil {
			si.StepSize = f.StepSize
		}
		symbols[s.Symbol] = si
	}
	c.symbols = symbols
	c.logger.Info("exchange initialized", "symbols", len(symbols), "sandbox", c.sandbox)

	ok, err := c.ValidateAPIKeyPermissions(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWithdrawEnabled
	}
	return nil
}

// ValidateAPIKeyPermissions checks that the configured key cannot withdraw
// funds. Returns false (with no error) when the key has withdrawal permission.
// The testnet does not expose the restrictions endpoint, so in sandbox mode
// the check passes trivially; testnet keys cannot touch real funds.
func (c *Client) ValidateAPIKeyPermissions(ctx context.Context) (bool, error) {
	if c.sandbox {
		c.logger.Info("sandbox mode, skipping withdrawal permission check")
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Account.Wait(ctx); err != nil {
		return false, err
	}

	perms, err := c.api.NewGetAPIKeyPermission().Do(ctx)
	if err != nil {
		return false, fmt.Errorf("check api key permissions: %w", err)
	}
	if perms.EnableWithdrawals {
		c.logger.Error("api key can withdraw funds, refusing to trade with it")
		return false, nil
	}
	return true, nil
}

// binanceTicker is the wire shape of one entry from GET /api/v3/ticker/24hr.
type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

// FetchTickers returns 24h ticker statistics for every tradable symbol with a
// positive last price. Symbols absent from the exchange-info table (delisted,
// suspended) are dropped.
func (c *Client) FetchTickers(ctx context.Context) ([]types.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Data.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []binanceTicker
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/api/v3/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch tickers: status %d: %s", resp.StatusCode(), resp.String())
	}

	return c.convertTickers(raw), nil
}

func (c *Client) convertTickers(raw []binanceTicker) []types.Ticker {
	out := make([]types.Ticker, 0, len(raw))
	for _, t := range raw {
		info, ok := c.symbols[t.Symbol]
		if !ok {
			continue
		}
		last := parseFloat(t.LastPrice)
		if last <= 0 {
			continue
		}
		out = append(out, types.Ticker{
			Symbol:      info.Canonical,
			Last:        last,
			BaseVolume:  parseFloat(t.Volume),
			QuoteVolume: parseFloat(t.QuoteVolume),
			Percentage:  parseFloat(t.PriceChangePercent),
		})
	}
	return out
}

// FetchOHLCV returns up to limit klines for the given canonical symbol and
// interval, oldest first. Binance serves klines as positional JSON arrays
// mixing numbers and numeric strings, so the response is decoded by hand.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Data.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   types.NormalizeSymbol(symbol),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch klines %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	var raw [][]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("parse klines %s: %w", symbol, err)
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candles = append(candles, types.Candle{
			OpenTime: int64(toFloat(k[0])),
			Open:     toFloat(k[1]),
			High:     toFloat(k[2]),
			Low:      toFloat(k[3]),
			Close:    toFloat(k[4]),
			Volume:   toFloat(k[5]),
		})
	}
	return candles, nil
}

// GetBalance fetches spot account balances. Assets with a zero total are
// dropped; Binance reports hundreds of them.
func (c *Client) GetBalance(ctx context.Context) (types.Balances, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Account.Wait(ctx); err != nil {
		return types.Balances{}, err
	}

	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.Balances{}, fmt.Errorf("fetch account: %w", err)
	}

	b := types.Balances{
		Free:  make(map[string]float64),
		Used:  make(map[string]float64),
		Total: make(map[string]float64),
	}
	for _, bal := range acct.Balances {
		free := parseFloat(bal.Free)
		locked := parseFloat(bal.Locked)
		if free+locked == 0 {
			continue
		}
		b.Free[bal.Asset] = free
		b.Used[bal.Asset] = locked
		b.Total[bal.Asset] = free + locked
	}
	return b, nil
}

// PlaceMarketOrder submits a market order for the given base-asset amount and
// returns the fill as reported by the exchange. The amount is floored to the
// symbol's LOT_SIZE step before submission; an amount that rounds to zero is
// rejected without hitting the API.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, amount float64) (*types.FilledOrder, error) {
	info, ok := c.symbols[types.NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("place order: unknown symbol %s", symbol)
	}

	qty, err := stepQuantity(amount, info.StepSize)
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", symbol, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	sideType := binance.SideTypeBuy
	if side == types.SELL {
		sideType = binance.SideTypeSell
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(info.Symbol).
		Side(sideType).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %w", side, symbol, err)
	}

	order := convertOrder(res)
	c.logger.Info("order filled",
		"symbol", symbol, "side", side, "qty", qty,
		"filled", order.Filled, "cost", order.Cost)
	return order, nil
}

// stepQuantity floors amount to the LOT_SIZE step and renders it as the
// decimal string Binance expects. float64 formatting is not safe here: a
// quantity like 17.299999999999997 would be rejected, so the stepping is done
// in decimal arithmetic.
func stepQuantity(amount float64, step string) (string, error) {
	qty := decimal.NewFromFloat(amount)
	if step != "" {
		stepDec, err := decimal.NewFromString(step)
		if err == nil && stepDec.IsPositive() {
			qty = qty.Div(stepDec).Floor().Mul(stepDec)
		}
	}
	if !qty.IsPositive() {
		return "", fmt.Errorf("amount %v below lot step %s", amount, step)
	}
	return qty.String(), nil
}

// convertOrder maps the SDK's order response onto the gateway's fill type.
// Average price is derived from cost/filled; Binance does not report it
// directly for market orders.
func convertOrder(res *binance.CreateOrderResponse) *types.FilledOrder {
	filled := parseFloat(res.ExecutedQuantity)
	cost := parseFloat(res.CummulativeQuoteQuantity)

	order := &types.FilledOrder{
		ID:     strconv.FormatInt(res.OrderID, 10),
		Price:  parseFloat(res.Price),
		Filled: filled,
		Amount: parseFloat(res.OrigQuantity),
		Cost:   cost,
	}
	if filled > 0 && cost > 0 {
		order.Average = cost / filled
	}

	var fee float64
	feeCurrency := ""
	for _, f := range res.Fills {
		fee += parseFloat(f.Commission)
		if feeCurrency == "" {
			feeCurrency = f.CommissionAsset
		}
	}
	order.FeeAmount = fee
	order.FeeCurrency = feeCurrency
	return order
}

// parseFloat converts Binance's numeric strings, returning 0 for anything
// unparseable. Zero means "absent" throughout the gateway types.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// toFloat handles kline array entries, which mix raw numbers and numeric
// strings depending on position.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return parseFloat(x)
	default:
		return 0
	}
}
