// Package risk decides when an open position must be closed.
//
// Every position carries three exit levels derived from its purchase price:
//
//   - target:        purchasePrice × (1 + targetProfitPct/100)
//   - initial stop:  purchasePrice × (1 − stopLossPct/100)
//   - trailing stop: high-water mark × (1 − trailingStopOffsetPct/100),
//     active only once the high-water mark clears the arming threshold
//     purchasePrice × (1 + trailingStopArmPct/100)
//
// The trailing stop can only tighten the exit: the effective stop is the
// maximum of the initial and trailing stops. Take-profit is checked before
// the stop so a price satisfying both exits as a win.
//
// Evaluate is pure; the engine applies the verdict (persisting the advanced
// high-water mark, placing the sell) under its own lock.
package risk

import (
	"math"

	"spot-trader/pkg/types"
)

// Sell reasons as they appear in the activity log and trade notifications.
const (
	ReasonTakeProfit = "Take Profit"
	ReasonStopLoss   = "Stop Loss"
)

// Verdict is the exit decision for one position at one price.
type Verdict struct {
	Sell          bool
	Reason        string   // ReasonTakeProfit or ReasonStopLoss when Sell
	TargetPrice   float64  // take-profit level
	EffectiveStop float64  // stop level actually in force this tick
	NewHigh       *float64 // set when the stored high-water mark must advance
}

// Evaluate computes the exit decision for an open trade at the current price.
// When trailing is enabled the returned NewHigh, if non-nil, is the value the
// engine must write back to the trade before acting on the decision; the
// high-water mark never regresses.
func Evaluate(trade types.ActiveTrade, price float64, s types.Settings) Verdict {
	v := Verdict{
		TargetPrice:   trade.PurchasePrice * (1 + s.TargetProfitPct/100),
		EffectiveStop: trade.PurchasePrice * (1 - s.StopLossPct/100),
	}

	if s.UseTrailingStop {
		prev := trade.PurchasePrice
		if trade.HighestPriceSinceBuy != nil && *trade.HighestPriceSinceBuy > prev {
			prev = *trade.HighestPriceSinceBuy
		}
		high := math.Max(prev, price)
		if trade.HighestPriceSinceBuy == nil || high > *trade.HighestPriceSinceBuy {
			v.NewHigh = &high
		}

		armAt := trade.PurchasePrice * (1 + s.TrailingStopArmPct/100)
		if high > armAt {
			trailing := high * (1 - s.TrailingStopOffsetPct/100)
			if trailing > v.EffectiveStop {
				v.EffectiveStop = trailing
			}
		}
	}

	switch {
	case price >= v.TargetPrice:
		v.Sell = true
		v.Reason = ReasonTakeProfit
	case price <= v.EffectiveStop:
		v.Sell = true
		v.Reason = ReasonStopLoss
	}
	return v
}
