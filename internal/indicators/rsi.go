// Package indicators computes the technical indicators the strategy reads:
// Wilder RSI and simple moving averages over close-price series.
//
// Both functions return a full series; the scan loop consumes only the last
// element. A series shorter than its period yields an empty result, which
// callers treat as "indicator unavailable" for that symbol.
package indicators

import "github.com/cinar/indicator/v2/momentum"

// RSI computes the Relative Strength Index (Wilder smoothing) over closes.
// Returns nil when closes is shorter than period or period < 2.
func RSI(closes []float64, period int) []float64 {
	if period < 2 || len(closes) < period {
		return nil
	}

	in := make(chan float64, len(closes))
	for _, c := range closes {
		in <- c
	}
	close(in)

	rsi := momentum.NewRsiWithPeriod[float64](period)

	var out []float64
	for v := range rsi.Compute(in) {
		out = append(out, v)
	}
	return out
}
