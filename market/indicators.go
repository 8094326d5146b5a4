package market

import "math"

// =============================================================================
// 技术指标计算函数
// 这些函数是纯计算函数，不依赖任何外部状态
// =============================================================================

// ATR 计算平均真实波幅：相邻样本对的 true range 取尾部 period 个的简单均值。
// true range = max(high−low, |high−prevClose|, |low−prevClose|)。
// 至少需要 period+1 个样本，不足时 ok=false（数据不足，不是错误）。
func ATR(samples []Sample, period int) (float64, bool) {
	if period <= 0 || len(samples) < period+1 {
		return 0, false
	}

	trs := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		high := samples[i].High
		low := samples[i].Low
		prevClose := samples[i-1].Price

		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		trs = append(trs, math.Max(tr1, math.Max(tr2, tr3)))
	}

	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period), true
}

// VWAPSlope 计算VWAP斜率：current − history[len−lookback]。
// 历史不足 lookback 时返回 0（按“走平”处理，调用方不要把它当成真实的平盘信号）。
func VWAPSlope(current float64, history []float64, lookback int) float64 {
	if lookback <= 0 || len(history) < lookback {
		return 0
	}
	return current - history[len(history)-lookback]
}

// IsChoppy 统计尾部 period 个观测内 (price − vwap) 的符号翻转次数，
// 翻转数 >= threshold 判定为震荡行情。
func IsChoppy(prices, vwaps []float64, period, threshold int) bool {
	n := len(prices)
	if len(vwaps) < n {
		n = len(vwaps)
	}
	if period <= 0 || n < 2 {
		return false
	}

	start := n - period
	if start < 0 {
		start = 0
	}

	crossings := 0
	prevSign := 0
	for i := start; i < n; i++ {
		diff := prices[i] - vwaps[i]
		sign := 0
		if diff > 0 {
			sign = 1
		} else if diff < 0 {
			sign = -1
		}
		if sign != 0 && prevSign != 0 && sign != prevSign {
			crossings++
		}
		if sign != 0 {
			prevSign = sign
		}
	}
	return crossings >= threshold
}

// RSI 计算相对强弱指标（Wilder平滑）。
// 初始均值用前 period 个涨跌幅的简单平均做种子，之后指数平滑。
// 平均跌幅恰好为0（全涨的退化场景）时返回100；价格数不足 period+1 时 ok=false。
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + (-change)) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// RelativeVolume 返回最新样本成交量相对此前 lookback 个样本均量的倍数。
// 历史不足或均量为0时返回0。
func RelativeVolume(samples []Sample, lookback int) float64 {
	if lookback <= 0 || len(samples) < lookback+1 {
		return 0
	}

	current := samples[len(samples)-1].Volume
	sum := 0.0
	for _, s := range samples[len(samples)-1-lookback : len(samples)-1] {
		sum += s.Volume
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return 0
	}
	return current / avg
}
