package indicators

import (
	"math"

	"market-signal-bot/internal/marketdata"
)

// MinSamples is the history length below which the Set is marked insufficient
const MinSamples = MACDSlowPeriod

// Set is the bundle of indicators derived from one price series
type Set struct {
	Symbol      string               `json:"symbol"`
	Samples     int                  `json:"samples"`
	Sufficient  bool                 `json:"sufficient"`
	Price       float64              `json:"price"`
	RSI         float64              `json:"rsi"`
	MACD        MACDResult           `json:"macd"`
	MA20        float64              `json:"ma20"`
	MA50        float64              `json:"ma50"`
	Bollinger   BollingerBandsResult `json:"bollinger"`
	Volatility  float64              `json:"volatility"`
	VolumeClass VolumeClass          `json:"volumeClass"`
}

// Neutral returns the defaults used when no history is available
func Neutral(symbol string, price float64) Set {
	return Set{
		Symbol:      symbol,
		Price:       price,
		RSI:         50,
		MA20:        price,
		MA50:        price,
		Bollinger:   BollingerBandsResult{Upper: price, Middle: price, Lower: price},
		VolumeClass: VolumeNormal,
	}
}

// Compute derives the full Set from series. A nil or empty series gives the
// neutral Set for price 0.
func Compute(series *marketdata.PriceSeries) Set {
	if series == nil || series.Len() == 0 {
		symbol := ""
		if series != nil {
			symbol = series.Symbol
		}
		return Neutral(symbol, 0)
	}

	prices := series.Prices()
	last := prices[len(prices)-1]

	return Set{
		Symbol:      series.Symbol,
		Samples:     len(prices),
		Sufficient:  len(prices) >= MinSamples,
		Price:       last,
		RSI:         CalculateRSI(prices, RSIPeriod),
		MACD:        CalculateMACD(prices, MACDFastPeriod, MACDSlowPeriod, MACDSignal),
		MA20:        CalculateSMA(prices, ShortMAPeriod),
		MA50:        CalculateSMA(prices, LongMAPeriod),
		Bollinger:   CalculateBollingerBands(prices, ShortMAPeriod, BollingerStdDev),
		Volatility:  CalculateVolatility(prices),
		VolumeClass: ClassifyVolume(series.Volumes(), VolumeLookback),
	}
}

// DistanceFromMA20 returns |price - MA20| / MA20 in percent
func (s Set) DistanceFromMA20() float64 {
	if s.MA20 == 0 {
		return 0
	}
	return math.Abs(s.Price-s.MA20) / s.MA20 * 100
}

// Trend summarizes the moving-average and MACD alignment
func (s Set) Trend() string {
	switch {
	case s.Price > s.MA20 && s.MA20 >= s.MA50 && s.MACD.MACD > 0:
		return "bullish"
	case s.Price < s.MA20 && s.MA20 <= s.MA50 && s.MACD.MACD < 0:
		return "bearish"
	}
	return "neutral"
}
