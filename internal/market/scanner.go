// Package market builds the per-scan view of the tradable universe.
//
// Each cycle the scanner pulls every 24h ticker from the gateway, narrows the
// universe to liquid USDT pairs outside the exclusion list, keeps the top 30
// by quote volume, and decorates each survivor with RSI and dual-SMA values
// computed over 50 recent 15m klines. A per-symbol kline failure degrades
// that one coin to a price-only row; the scan itself never fails on it.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"spot-trader/internal/indicators"
	"spot-trader/pkg/types"
)

// MarketData is the slice of the exchange gateway the scanner needs.
type MarketData interface {
	FetchTickers(ctx context.Context) ([]types.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

// Scanner ranks and decorates buy candidates for the engine.
type Scanner struct {
	data   MarketData
	logger *slog.Logger
}

// NewScanner creates a scanner backed by the given market-data source.
func NewScanner(data MarketData, logger *slog.Logger) *Scanner {
	return &Scanner{
		data:   data,
		logger: logger.With("component", "scanner"),
	}
}

// Scan produces the market snapshot for one engine loop, sorted ascending by
// price. The returned coins are fresh values owned by the caller.
func (s *Scanner) Scan(ctx context.Context, settings types.Settings) ([]types.Coin, error) {
	tickers, err := s.data.FetchTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan tickers: %w", err)
	}

	candidates := topByQuoteVolume(filterTickers(tickers), types.CandidatePoolSize)

	coins := make([]types.Coin, 0, len(candidates))
	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		coins = append(coins, s.buildCoin(ctx, t, settings))
	}

	sort.SliceStable(coins, func(i, j int) bool {
		return coins[i].Price < coins[j].Price
	})

	s.logger.Debug("scan complete", "tickers", len(tickers), "candidates", len(coins))
	return coins, nil
}

// filterTickers keeps priced, liquid USDT pairs outside the exclusion list.
func filterTickers(tickers []types.Ticker) []types.Ticker {
	out := make([]types.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "/"+types.QuoteAsset) {
			continue
		}
		if t.Last <= 0 || t.QuoteVolume <= 0 {
			continue
		}
		if types.IsExcluded(t.Symbol) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// topByQuoteVolume sorts descending by 24h quote volume and truncates to n.
func topByQuoteVolume(tickers []types.Ticker, n int) []types.Ticker {
	sort.SliceStable(tickers, func(i, j int) bool {
		return tickers[i].QuoteVolume > tickers[j].QuoteVolume
	})
	if len(tickers) > n {
		tickers = tickers[:n]
	}
	return tickers
}

// buildCoin decorates one ticker with indicator values. A failed or thin
// kline fetch leaves the indicator fields nil; the entry signal treats such
// coins as unqualified.
func (s *Scanner) buildCoin(ctx context.Context, t types.Ticker, settings types.Settings) types.Coin {
	coin := types.Coin{
		Symbol:            t.Symbol,
		Price:             t.Last,
		PriceChange24hPct: t.Percentage,
		BaseVolume:        t.BaseVolume,
		QuoteVolume:       t.QuoteVolume,
	}
	if base, quote, ok := strings.Cut(t.Symbol, "/"); ok {
		coin.BaseAsset = base
		coin.QuoteAsset = quote
	}

	candles, err := s.data.FetchOHLCV(ctx, t.Symbol, types.ScanTimeframe, types.ScanCandles)
	if err != nil {
		s.logger.Debug("klines unavailable", "symbol", t.Symbol, "error", err)
		return coin
	}

	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}

	coin.RSI = lastValue(indicators.RSI(closes, settings.RSIPeriod))
	coin.SMAShort = lastValue(indicators.SMA(closes, settings.SMAShortPeriod))
	coin.SMALong = lastValue(indicators.SMA(closes, settings.SMALongPeriod))
	return coin
}

func lastValue(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	return &v
}
