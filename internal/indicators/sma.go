package indicators

import "github.com/cinar/indicator/v2/trend"

// SMA computes the arithmetic simple moving average over closes.
// Returns nil when closes is shorter than period or period < 2.
func SMA(closes []float64, period int) []float64 {
	if period < 2 || len(closes) < period {
		return nil
	}

	in := make(chan float64, len(closes))
	for _, c := range closes {
		in <- c
	}
	close(in)

	sma := trend.NewSmaWithPeriod[float64](period)

	var out []float64
	for v := range sma.Compute(in) {
		out = append(out, v)
	}
	return out
}
