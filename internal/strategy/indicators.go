// Package strategy contains the technical indicators, the supply/demand zone
// detector and the signal strategies built on them.
package strategy

import (
	"math"

	"deriv-trading-bot/internal/deriv"
)

// RSI computes the Relative Strength Index over closes using Wilder's
// smoothing. Returns 50 when there is not enough data to seed the average.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the Average True Range over the candle series
func ATR(candles []deriv.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		trs = append(trs, math.Max(highLow, math.Max(highClose, lowClose)))
	}

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)

	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// VWAP computes the volume-weighted average price of the series. Synthetic
// indices report no volume, so a zero-volume series falls back to the plain
// average of typical prices.
func VWAP(candles []deriv.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}

	var pvSum, volSum, tpSum float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pvSum += typical * c.Volume
		volSum += c.Volume
		tpSum += typical
	}

	if volSum == 0 {
		return tpSum / float64(len(candles))
	}
	return pvSum / volSum
}

// EMA computes the exponential moving average of values
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		period = len(values)
	}

	multiplier := 2.0 / float64(period+1)
	ema := SMA(values[:period])
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema
}

// SMA computes the simple average of values
func SMA(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// BollingerBands returns the upper, middle and lower band over the last
// period closes with the given standard deviation multiplier.
func BollingerBands(closes []float64, period int, stdDevs float64) (upper, middle, lower float64) {
	if len(closes) < period {
		period = len(closes)
	}
	if period == 0 {
		return 0, 0, 0
	}

	window := closes[len(closes)-period:]
	middle = SMA(window)

	variance := 0.0
	for _, v := range window {
		diff := v - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return middle + stdDevs*stdDev, middle, middle - stdDevs*stdDev
}

// ADX computes the Average Directional Index, a trend-strength measure in
// the 0..100 range.
func ADX(candles []deriv.Candle, period int) float64 {
	if len(candles) < 2*period+1 {
		return 0
	}

	var plusDMs, minusDMs, trs []float64
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		plusDMs = append(plusDMs, plusDM)
		minusDMs = append(minusDMs, minusDM)

		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		trs = append(trs, math.Max(highLow, math.Max(highClose, lowClose)))
	}

	smooth := func(vals []float64) float64 {
		sum := 0.0
		for _, v := range vals[:period] {
			sum += v
		}
		for _, v := range vals[period:] {
			sum = sum - sum/float64(period) + v
		}
		return sum
	}

	trSum := smooth(trs)
	if trSum == 0 {
		return 0
	}
	plusDI := 100 * smooth(plusDMs) / trSum
	minusDI := 100 * smooth(minusDMs) / trSum

	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// Closes extracts the close series from candles
func Closes(candles []deriv.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
