package risk

import (
	"math"
	"testing"

	"spot-trader/pkg/types"
)

func f64(v float64) *float64 { return &v }

// baseSettings returns settings with a 10% target and 5% stop, trailing off.
func baseSettings() types.Settings {
	s := types.DefaultSettings()
	s.TargetProfitPct = 10
	s.StopLossPct = 5
	s.UseTrailingStop = false
	return s
}

func TestEvaluateTakeProfit(t *testing.T) {
	t.Parallel()
	trade := types.ActiveTrade{PurchasePrice: 0.50, Amount: 20}

	v := Evaluate(trade, 0.60, baseSettings())

	if !v.Sell || v.Reason != ReasonTakeProfit {
		t.Fatalf("Sell/Reason = %v/%q, want true/%q", v.Sell, v.Reason, ReasonTakeProfit)
	}
	if math.Abs(v.TargetPrice-0.55) > 1e-12 {
		t.Errorf("TargetPrice = %v, want 0.55", v.TargetPrice)
	}
}

func TestEvaluateStopLoss(t *testing.T) {
	t.Parallel()
	trade := types.ActiveTrade{PurchasePrice: 0.50, Amount: 20}

	v := Evaluate(trade, 0.47, baseSettings())

	if !v.Sell || v.Reason != ReasonStopLoss {
		t.Fatalf("Sell/Reason = %v/%q, want true/%q", v.Sell, v.Reason, ReasonStopLoss)
	}
	if math.Abs(v.EffectiveStop-0.475) > 1e-12 {
		t.Errorf("EffectiveStop = %v, want 0.475", v.EffectiveStop)
	}
}

func TestEvaluateHoldBetweenLevels(t *testing.T) {
	t.Parallel()
	trade := types.ActiveTrade{PurchasePrice: 0.50, Amount: 20}

	v := Evaluate(trade, 0.52, baseSettings())

	if v.Sell {
		t.Errorf("expected hold at 0.52, got sell (%s)", v.Reason)
	}
	if v.NewHigh != nil {
		t.Errorf("NewHigh = %v, want nil with trailing disabled", *v.NewHigh)
	}
}

// Walks the price sequence 100 → 100.5 → 101.2 → 100.6 with a 1% arm and
// 0.5% offset. The third tick arms the trailing stop at 100.694; the fourth
// tick falls through it.
func TestEvaluateTrailingArmsAndFires(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.TargetProfitPct = 50 // keep take-profit out of the way
	s.UseTrailingStop = true
	s.TrailingStopArmPct = 1
	s.TrailingStopOffsetPct = 0.5

	trade := types.ActiveTrade{PurchasePrice: 100, Amount: 1}

	steps := []struct {
		price    float64
		wantHigh float64
		wantStop float64
		wantSell bool
	}{
		{100, 100, 95, false},
		{100.5, 100.5, 95, false},      // below arm threshold 101
		{101.2, 101.2, 100.694, false}, // armed: 101.2 × 0.995
		{100.6, 101.2, 100.694, true},  // price ≤ trailing stop
	}

	for i, step := range steps {
		v := Evaluate(trade, step.price, s)

		if v.NewHigh != nil {
			trade.HighestPriceSinceBuy = v.NewHigh
		}
		if trade.HighestPriceSinceBuy == nil || math.Abs(*trade.HighestPriceSinceBuy-step.wantHigh) > 1e-9 {
			t.Fatalf("step %d: high = %v, want %v", i, trade.HighestPriceSinceBuy, step.wantHigh)
		}
		if math.Abs(v.EffectiveStop-step.wantStop) > 1e-9 {
			t.Fatalf("step %d: EffectiveStop = %v, want %v", i, v.EffectiveStop, step.wantStop)
		}
		if v.Sell != step.wantSell {
			t.Fatalf("step %d: Sell = %v, want %v", i, v.Sell, step.wantSell)
		}
		if step.wantSell && v.Reason != ReasonStopLoss {
			t.Errorf("step %d: Reason = %q, want %q", i, v.Reason, ReasonStopLoss)
		}
	}
}

func TestEvaluateTakeProfitBeatsStop(t *testing.T) {
	t.Parallel()

	// With a deep high-water mark the trailing stop can sit above the
	// target. A price between the two must exit as a win.
	s := baseSettings()
	s.TargetProfitPct = 1
	s.UseTrailingStop = true
	s.TrailingStopArmPct = 1
	s.TrailingStopOffsetPct = 0.5

	trade := types.ActiveTrade{
		PurchasePrice:        100,
		Amount:               1,
		HighestPriceSinceBuy: f64(110),
	}

	v := Evaluate(trade, 105, s)

	if !v.Sell || v.Reason != ReasonTakeProfit {
		t.Errorf("Sell/Reason = %v/%q, want take-profit priority", v.Sell, v.Reason)
	}
}

func TestEvaluateTrailingNeverLoosensStop(t *testing.T) {
	t.Parallel()

	// Arm almost immediately with a huge offset: the computed trailing stop
	// (95.19) sits below the fixed stop (99), so the fixed stop stays.
	s := baseSettings()
	s.StopLossPct = 1
	s.UseTrailingStop = true
	s.TrailingStopArmPct = 0.1
	s.TrailingStopOffsetPct = 5

	trade := types.ActiveTrade{PurchasePrice: 100, Amount: 1, HighestPriceSinceBuy: f64(100.2)}

	v := Evaluate(trade, 99.5, s)

	if math.Abs(v.EffectiveStop-99) > 1e-9 {
		t.Errorf("EffectiveStop = %v, want 99 (fixed stop)", v.EffectiveStop)
	}
	if v.Sell {
		t.Error("expected hold at 99.5 with stop 99")
	}
}

func TestEvaluateHighWaterNeverRegresses(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.UseTrailingStop = true

	trade := types.ActiveTrade{PurchasePrice: 100, Amount: 1, HighestPriceSinceBuy: f64(105)}

	v := Evaluate(trade, 102, s)

	if v.NewHigh != nil {
		t.Errorf("NewHigh = %v, want nil when price is below the stored high", *v.NewHigh)
	}
}

func TestEvaluateSetsHighWhenMissing(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.UseTrailingStop = true

	// Positions opened before trailing was enabled have no stored high.
	trade := types.ActiveTrade{PurchasePrice: 100, Amount: 1}

	v := Evaluate(trade, 99, s)

	if v.NewHigh == nil || *v.NewHigh != 100 {
		t.Fatalf("NewHigh = %v, want 100 (purchase price floor)", v.NewHigh)
	}
}
