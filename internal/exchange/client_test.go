package exchange

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/adshao/go-binance/v2"

	"spot-trader/pkg/types"
)

func newTestClient() *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Client{
		rl:     NewRateLimiter(),
		logger: logger,
		symbols: map[string]SymbolInfo{
			"LTCUSDT": {Symbol: "LTCUSDT", Canonical: "LTC/USDT", BaseAsset: "LTC", QuoteAsset: "USDT", StepSize: "0.001"},
			"XRPUSDT": {Symbol: "XRPUSDT", Canonical: "XRP/USDT", BaseAsset: "XRP", QuoteAsset: "USDT", StepSize: "1"},
		},
	}
}

func TestStepQuantity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		amount  float64
		step    string
		want    string
		wantErr bool
	}{
		{"floors to step", 1.23456789, "0.001", "1.234", false},
		{"whole step", 10, "1", "10", false},
		{"half step", 3.7, "0.5", "3.5", false},
		{"no step passes through", 2.5, "", "2.5", false},
		{"below one step", 0.0004, "0.001", "", true},
		{"zero amount", 0, "", "", true},
		{"negative amount", -1, "0.01", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stepQuantity(tt.amount, tt.step)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("stepQuantity(%v, %q) = %q, want error", tt.amount, tt.step, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("stepQuantity(%v, %q): %v", tt.amount, tt.step, err)
			}
			if got != tt.want {
				t.Errorf("stepQuantity(%v, %q) = %q, want %q", tt.amount, tt.step, got, tt.want)
			}
		})
	}
}

func TestConvertOrderDerivesAverage(t *testing.T) {
	t.Parallel()

	res := &binance.CreateOrderResponse{
		OrderID:                  12345,
		Price:                    "0",
		OrigQuantity:             "2",
		ExecutedQuantity:         "2",
		CummulativeQuoteQuantity: "21",
		Fills: []*binance.Fill{
			{Commission: "0.25", CommissionAsset: "BNB"},
			{Commission: "0.5", CommissionAsset: "BNB"},
		},
	}

	order := convertOrder(res)

	if order.ID != "12345" {
		t.Errorf("ID = %q, want \"12345\"", order.ID)
	}
	if order.Average != 10.5 {
		t.Errorf("Average = %v, want 10.5", order.Average)
	}
	if order.Filled != 2 || order.Cost != 21 {
		t.Errorf("Filled/Cost = %v/%v, want 2/21", order.Filled, order.Cost)
	}
	if order.FeeAmount != 0.75 {
		t.Errorf("FeeAmount = %v, want 0.75", order.FeeAmount)
	}
	if order.FeeCurrency != "BNB" {
		t.Errorf("FeeCurrency = %q, want \"BNB\"", order.FeeCurrency)
	}
}

func TestConvertOrderZeroFill(t *testing.T) {
	t.Parallel()

	res := &binance.CreateOrderResponse{
		OrderID:                  7,
		OrigQuantity:             "5",
		ExecutedQuantity:         "0",
		CummulativeQuoteQuantity: "0",
	}

	order := convertOrder(res)

	if order.Average != 0 {
		t.Errorf("Average = %v, want 0 when nothing filled", order.Average)
	}
	if order.Amount != 5 {
		t.Errorf("Amount = %v, want 5", order.Amount)
	}
	if order.FeeCurrency != "" {
		t.Errorf("FeeCurrency = %q, want empty", order.FeeCurrency)
	}
}

func TestConvertTickers(t *testing.T) {
	t.Parallel()
	c := newTestClient()

	raw := []binanceTicker{
		{Symbol: "LTCUSDT", LastPrice: "85.5", PriceChangePercent: "2.1", Volume: "1000", QuoteVolume: "85500"},
		{Symbol: "BTCUSDT", LastPrice: "60000", QuoteVolume: "1"}, // not in symbol table
		{Symbol: "XRPUSDT", LastPrice: "0", QuoteVolume: "5"},     // no price, dropped
	}

	out := c.convertTickers(raw)

	if len(out) != 1 {
		t.Fatalf("expected 1 ticker, got %d", len(out))
	}
	tk := out[0]
	if tk.Symbol != "LTC/USDT" {
		t.Errorf("Symbol = %q, want canonical \"LTC/USDT\"", tk.Symbol)
	}
	if tk.Last != 85.5 || tk.QuoteVolume != 85500 {
		t.Errorf("Last/QuoteVolume = %v/%v, want 85.5/85500", tk.Last, tk.QuoteVolume)
	}
	if tk.Percentage != 2.1 {
		t.Errorf("Percentage = %v, want 2.1", tk.Percentage)
	}
}

func TestPlaceMarketOrderUnknownSymbol(t *testing.T) {
	t.Parallel()
	c := newTestClient()

	_, err := c.PlaceMarketOrder(context.Background(), "DOGE/USDT", types.BUY, 100)
	if err == nil {
		t.Fatal("expected error for symbol missing from exchange info")
	}
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want float64
	}{
		{float64(5), 5},
		{"3.14", 3.14},
		{"", 0},
		{"garbage", 0},
		{nil, 0},
		{int(7), 0}, // klines never carry plain ints
	}

	for _, tt := range tests {
		if got := toFloat(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("toFloat(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
