// Package indicators computes technical indicators over closing prices. Every
// function degrades to a neutral default when the history is too short, so
// callers always get a complete Set.
package indicators

import (
	"math"
)

// Standard periods
const (
	RSIPeriod       = 14
	MACDFastPeriod  = 12
	MACDSlowPeriod  = 26
	MACDSignal      = 9
	ShortMAPeriod   = 20
	LongMAPeriod    = 50
	BollingerStdDev = 2.0
	VolumeLookback  = 10
	TradingDays     = 252
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the simple mean of the last period prices.
// With fewer prices than period it returns the last price, or 0 when empty.
func CalculateSMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period <= 0 || len(prices) < period {
		return prices[len(prices)-1]
	}

	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

// CalculateEMASeries returns the EMA at every index, seeded by the first price
func CalculateEMASeries(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*multiplier + out[i-1]*(1-multiplier)
	}
	return out
}

// CalculateEMA calculates the exponential moving average of the series
func CalculateEMA(prices []float64, period int) float64 {
	ema := CalculateEMASeries(prices, period)
	if len(ema) == 0 {
		return 0
	}
	return ema[len(ema)-1]
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI averages gains and losses over the last period changes.
// Fewer than period+1 prices gives the neutral 50.
func CalculateRSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// CalculateMACD calculates EMA(fast) - EMA(slow) and the signal line as the
// EMA of the MACD line. Fewer than slowPeriod prices gives zeros.
func CalculateMACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(prices) < slowPeriod {
		return MACDResult{}
	}

	fast := CalculateEMASeries(prices, fastPeriod)
	slow := CalculateEMASeries(prices, slowPeriod)

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fast[i] - slow[i]
	}

	macd := line[len(line)-1]
	signal := CalculateEMA(line[slowPeriod-1:], signalPeriod)

	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBandsResult holds Bollinger Bands values
type BollingerBandsResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// CalculateBollingerBands calculates SMA(period) +/- k standard deviations.
// With fewer prices than period all three bands sit on the last price.
func CalculateBollingerBands(prices []float64, period int, stdDevMultiplier float64) BollingerBandsResult {
	middle := CalculateSMA(prices, period)
	if len(prices) < period {
		return BollingerBandsResult{Upper: middle, Middle: middle, Lower: middle}
	}

	variance := 0.0
	for _, p := range prices[len(prices)-period:] {
		diff := p - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerBandsResult{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}
}

// ============================================================================
// VOLATILITY
// ============================================================================

// CalculateVolatility returns the annualized standard deviation of log
// returns, in percent. Fewer than three prices gives 0.
func CalculateVolatility(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(TradingDays) * 100
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeClass buckets the latest volume against its trailing average
type VolumeClass string

const (
	VolumeHigh   VolumeClass = "HIGH"
	VolumeNormal VolumeClass = "NORMAL"
	VolumeLow    VolumeClass = "LOW"
)

// ClassifyVolume compares the last volume to the average of the lookback
// volumes before it
func ClassifyVolume(volumes []float64, lookback int) VolumeClass {
	if lookback <= 0 || len(volumes) < lookback+1 {
		return VolumeNormal
	}

	current := volumes[len(volumes)-1]
	sum := 0.0
	for _, v := range volumes[len(volumes)-1-lookback : len(volumes)-1] {
		sum += v
	}
	avg := sum / float64(lookback)
	if avg <= 0 {
		return VolumeNormal
	}

	switch {
	case current > avg*1.5:
		return VolumeHigh
	case current < avg*0.5:
		return VolumeLow
	}
	return VolumeNormal
}
