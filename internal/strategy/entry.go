// Package strategy implements the entry signal for the scan loop.
//
// A coin qualifies for entry when three conditions line up on the 15m chart:
//   - RSI below the configured oversold threshold
//   - short SMA above the long SMA (trend confirmation)
//   - last price at or below the configured price cap
//
// Among qualifying coins the one with the highest 24h quote volume wins, so
// the bot always enters the most liquid of the oversold candidates. Position
// sizing is fixed-notional: the configured quote amount divided by price.
package strategy

import (
	"fmt"
	"sort"

	"spot-trader/pkg/types"
)

// Candidate is a coin selected for entry, with the base amount to buy.
type Candidate struct {
	Coin   types.Coin
	Amount float64 // base-asset amount, tradeAmountQuote / price
	Reason string  // signal summary for the activity log
}

// FindBuyCandidate scans the market snapshot for the best entry. Coins already
// held are skipped so the bot never doubles into a position. Returns nil when
// nothing qualifies.
func FindBuyCandidate(market []types.Coin, held map[string]types.ActiveTrade, s types.Settings) *Candidate {
	eligible := make([]types.Coin, 0, len(market))
	for _, coin := range market {
		if _, ok := held[coin.Symbol]; ok {
			continue
		}
		if !signalFires(coin, s) {
			continue
		}
		eligible = append(eligible, coin)
	}
	if len(eligible) == 0 {
		return nil
	}

	// Most liquid candidate first.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].QuoteVolume > eligible[j].QuoteVolume
	})

	best := eligible[0]
	return &Candidate{
		Coin:   best,
		Amount: s.TradeAmountQuote / best.Price,
		Reason: fmt.Sprintf("RSI %.1f < %.1f, SMA%d %.6f > SMA%d %.6f",
			*best.RSI, s.RSIBuyThreshold,
			s.SMAShortPeriod, *best.SMAShort,
			s.SMALongPeriod, *best.SMALong),
	}
}

// signalFires reports whether a single coin passes every entry filter. Coins
// whose indicators could not be computed (thin kline history, fetch failure)
// never fire.
func signalFires(coin types.Coin, s types.Settings) bool {
	if coin.Price <= 0 || coin.Price > s.MaxCoinPrice {
		return false
	}
	if coin.RSI == nil || coin.SMAShort == nil || coin.SMALong == nil {
		return false
	}
	if *coin.RSI >= s.RSIBuyThreshold {
		return false
	}
	return *coin.SMAShort > *coin.SMALong
}
