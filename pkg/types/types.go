// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — trading settings,
// market snapshots, open positions, ledger rows, and the log/status enums
// pushed to the dashboard. It has no dependencies on internal packages, so
// it can be imported by any layer. JSON tags follow the dashboard wire
// protocol (camelCase).
package types

import (
	"fmt"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Status is the engine lifecycle state pushed to subscribers.
type Status string

const (
	StatusInitializing Status = "INITIALIZING" // constructor done, gateway not yet verified
	StatusStopped      Status = "STOPPED"      // initialized, loop not running
	StatusRunning      Status = "RUNNING"      // scan loop active
	StatusError        Status = "ERROR"        // init or credential failure
)

// LogType classifies BotLog entries for the dashboard.
type LogType string

const (
	LogInfo         LogType = "INFO"
	LogSuccess      LogType = "SUCCESS"
	LogWarning      LogType = "WARNING"
	LogError        LogType = "ERROR"
	LogBuy          LogType = "BUY"
	LogSell         LogType = "SELL"
	LogAPIKey       LogType = "API_KEY"
	LogStrategyInfo LogType = "STRATEGY_INFO"
	LogDebug        LogType = "DEBUG"
)

// ————————————————————————————————————————————————————————————————————————
// Fixed strategy parameters
// ————————————————————————————————————————————————————————————————————————

const (
	// QuoteAsset is the pricing currency for every pair the bot touches.
	QuoteAsset = "USDT"

	// CandidatePoolSize is how many top-volume pairs each scan evaluates.
	CandidatePoolSize = 30

	// ScanTimeframe and ScanCandles fix the OHLCV window for indicators.
	ScanTimeframe = "15m"
	ScanCandles   = 50

	// MinTradeValueQuote is the smallest notional (price × amount) the bot
	// will send to the exchange; anything below is dust.
	MinTradeValueQuote = 10.0

	// LedgerMemoryCap bounds the in-memory ledger; LedgerLoadLimit bounds
	// how many rows are restored from disk at startup.
	LedgerMemoryCap = 500
	LedgerLoadLimit = 100
)

// excludedSymbols are pairs the strategy never trades, keyed by normalized
// symbol (no slash). Majors move too slowly for the dip-buy entry to pay.
var excludedSymbols = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
	"BNBUSDT": true,
}

// IsExcluded reports whether a symbol (either "LTC/USDT" or "LTCUSDT" form)
// is on the fixed exclusion list.
func IsExcluded(symbol string) bool {
	return excludedSymbols[NormalizeSymbol(symbol)]
}

// NormalizeSymbol converts a canonical "BASE/QUOTE" pair to the exchange's
// concatenated form ("LTC/USDT" → "LTCUSDT"). Already-normalized input
// passes through unchanged.
func NormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// ————————————————————————————————————————————————————————————————————————
// Settings
// ————————————————————————————————————————————————————————————————————————

// Settings is the user-tunable strategy configuration. The engine treats it
// as an immutable snapshot: updates replace the whole value atomically and
// are persisted before they take effect.
type Settings struct {
	MaxCoinPrice     float64 `json:"maxCoinPrice"`     // only buy coins priced at or below this
	TradeAmountQuote float64 `json:"tradeAmountQuote"` // USDT spent per buy
	ScanIntervalMs   int     `json:"scanIntervalMs"`   // loop period, min 2000
	TargetProfitPct  float64 `json:"targetProfitPct"`  // take-profit above purchase price
	StopLossPct      float64 `json:"stopLossPct"`      // stop-loss below purchase price
	MaxOpenTrades    int     `json:"maxOpenTrades"`    // hard cap on simultaneous positions

	RSIPeriod       int     `json:"rsiPeriod"`
	RSIBuyThreshold float64 `json:"rsiBuyThreshold"` // buy when RSI drops below this
	SMAShortPeriod  int     `json:"smaShortPeriod"`
	SMALongPeriod   int     `json:"smaLongPeriod"`

	UseTrailingStop       bool    `json:"useTrailingStop"`
	TrailingStopArmPct    float64 `json:"trailingStopArmPct"`    // profit % that arms the trail
	TrailingStopOffsetPct float64 `json:"trailingStopOffsetPct"` // trail distance below the high
}

// DefaultSettings returns the out-of-box configuration, persisted on first
// run and replaced by whatever the operator saves afterwards.
func DefaultSettings() Settings {
	return Settings{
		MaxCoinPrice:          5.0,
		TradeAmountQuote:      15.0,
		ScanIntervalMs:        10000,
		TargetProfitPct:       5.0,
		StopLossPct:           2.5,
		MaxOpenTrades:         3,
		RSIPeriod:             14,
		RSIBuyThreshold:       30,
		SMAShortPeriod:        9,
		SMALongPeriod:         21,
		UseTrailingStop:       false,
		TrailingStopArmPct:    1.5,
		TrailingStopOffsetPct: 0.75,
	}
}

// Validate checks the invariants a settings snapshot must satisfy before
// the engine will accept it.
func (s Settings) Validate() error {
	if s.MaxCoinPrice <= 0 {
		return fmt.Errorf("maxCoinPrice must be > 0")
	}
	if s.TradeAmountQuote <= 0 {
		return fmt.Errorf("tradeAmountQuote must be > 0")
	}
	if s.ScanIntervalMs < 2000 {
		return fmt.Errorf("scanIntervalMs must be >= 2000, got %d", s.ScanIntervalMs)
	}
	if s.TargetProfitPct <= 0 {
		return fmt.Errorf("targetProfitPct must be > 0")
	}
	if s.StopLossPct <= 0 {
		return fmt.Errorf("stopLossPct must be > 0")
	}
	if s.MaxOpenTrades < 1 {
		return fmt.Errorf("maxOpenTrades must be >= 1")
	}
	if s.RSIPeriod < 2 || s.SMAShortPeriod < 2 || s.SMALongPeriod < 2 {
		return fmt.Errorf("indicator periods must be >= 2")
	}
	if s.RSIBuyThreshold <= 0 {
		return fmt.Errorf("rsiBuyThreshold must be > 0")
	}
	if s.SMAShortPeriod >= s.SMALongPeriod {
		return fmt.Errorf("smaShortPeriod (%d) must be < smaLongPeriod (%d)", s.SMAShortPeriod, s.SMALongPeriod)
	}
	if s.TrailingStopArmPct <= 0 {
		return fmt.Errorf("trailingStopArmPct must be > 0")
	}
	if s.TrailingStopOffsetPct <= 0 {
		return fmt.Errorf("trailingStopOffsetPct must be > 0")
	}
	return nil
}

// ScanInterval returns the loop period as a duration.
func (s Settings) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalMs) * time.Millisecond
}

// ————————————————————————————————————————————————————————————————————————
// Market + portfolio snapshots
// ————————————————————————————————————————————————————————————————————————

// Coin is the per-pair market snapshot rebuilt on every scan. Indicator
// fields are nil when the kline fetch failed or the series was too short.
type Coin struct {
	Symbol            string   `json:"symbol"` // canonical "BASE/QUOTE"
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	Price             float64  `json:"price"`
	PriceChange24hPct float64  `json:"priceChange24hPct"`
	BaseVolume        float64  `json:"baseVolume"`
	QuoteVolume       float64  `json:"quoteVolume"`
	RSI               *float64 `json:"rsi,omitempty"`
	SMAShort          *float64 `json:"smaShort,omitempty"`
	SMALong           *float64 `json:"smaLong,omitempty"`
}

// PortfolioItem is one non-quote balance held on the exchange, derived
// fresh each loop. Purchase fields are joined from the matching ActiveTrade
// when the bot opened the position.
type PortfolioItem struct {
	Symbol            string   `json:"symbol"` // canonical "BASE/QUOTE"
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	Free              float64  `json:"free"`
	Locked            float64  `json:"locked"`
	AvgPurchasePrice  *float64 `json:"avgPurchasePrice,omitempty"`
	PurchaseTimestamp *int64   `json:"purchaseTimestamp,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions + ledger
// ————————————————————————————————————————————————————————————————————————

// ActiveTrade is one open position, keyed by symbol in the engine's map.
// HighestPriceSinceBuy is maintained (and persisted) only while the
// trailing stop is enabled; it never goes below PurchasePrice.
type ActiveTrade struct {
	PurchasePrice        float64  `json:"purchasePrice"`
	Amount               float64  `json:"amount"`
	Timestamp            int64    `json:"timestamp"` // unix ms of the fill
	HighestPriceSinceBuy *float64 `json:"highestPriceSinceBuy,omitempty"`
}

// CompletedTrade is one immutable ledger row. SELL rows carry the realized
// profit fields; BUY rows leave them nil.
type CompletedTrade struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix ms
	Type      Side    `json:"type"`
	Pair      string  `json:"pair"` // canonical "BASE/QUOTE"
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Cost      float64 `json:"cost"` // notional in quote units
	OrderID   string  `json:"orderId,omitempty"`

	FeeAmount   *float64 `json:"feeAmount,omitempty"`
	FeeCurrency string   `json:"feeCurrency,omitempty"`

	ProfitAmount         *float64 `json:"profitAmount,omitempty"`
	ProfitPercent        *float64 `json:"profitPercent,omitempty"`
	PurchasePriceForSell *float64 `json:"purchasePriceForSell,omitempty"`
}

// BotLog is an ephemeral operator log entry, broadcast but never persisted.
// Transactional fields are set for BUY/SELL entries only.
type BotLog struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix ms
	Type      LogType `json:"type"`
	Message   string  `json:"message"`

	Pair          string   `json:"pair,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	ProfitAmount  *float64 `json:"profitAmount,omitempty"`
	ProfitPercent *float64 `json:"profitPercent,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange gateway DTOs
// ————————————————————————————————————————————————————————————————————————

// Ticker is one pair's 24h statistics as returned by the gateway. Symbol is
// canonical "BASE/QUOTE"; only tickers with Last > 0 are surfaced.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Last        float64 `json:"last"`
	BaseVolume  float64 `json:"baseVolume"`
	QuoteVolume float64 `json:"quoteVolume"`
	Percentage  float64 `json:"percentage"` // 24h price change percent
}

// Candle is one OHLCV kline.
type Candle struct {
	OpenTime int64   `json:"openTime"` // unix ms
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Balances maps currency → amount for each bucket of the account snapshot.
type Balances struct {
	Free  map[string]float64 `json:"free"`
	Used  map[string]float64 `json:"used"`
	Total map[string]float64 `json:"total"`
}

// FilledOrder is the gateway's view of an executed market order. Zero-value
// fields mean the venue omitted them; consumers apply the
// average → price → market-price fallback chain.
type FilledOrder struct {
	ID          string  `json:"id"`
	Price       float64 `json:"price"`   // limit/last price, may be 0 for market orders
	Average     float64 `json:"average"` // volume-weighted fill price
	Filled      float64 `json:"filled"`  // executed base amount
	Amount      float64 `json:"amount"`  // requested base amount
	Cost        float64 `json:"cost"`    // executed quote notional
	FeeAmount   float64 `json:"feeAmount"`
	FeeCurrency string  `json:"feeCurrency"`
}
