package market

import "time"

// Sample 窗口内的单个观测，插入后不再修改
type Sample struct {
	Price           float64
	High            float64
	Low             float64
	Volume          float64
	Timestamp       time.Time
	VWAPAtInsertion float64
}

// VWAPWindow 维护单个交易对的成交量加权均价。
// period == 0 表示全时段累计（日内VWAP惯例，在时段边界调用 Reset）；
// period > 0 表示只保留最近 period 个样本的滚动窗口。
type VWAPWindow struct {
	period  int
	samples []Sample
	cumPV   float64 // Σ(price×volume)，只覆盖当前保留的样本
	cumVol  float64 // Σ(volume)，只覆盖当前保留的样本
}

// NewVWAPWindow 创建VWAP窗口。
func NewVWAPWindow(period int) *VWAPWindow {
	if period < 0 {
		period = 0
	}
	return &VWAPWindow{period: period}
}

// Period 返回窗口容量（0 = 不限）。
func (w *VWAPWindow) Period() int { return w.period }

// Update 追加一个观测并维护累计量。
// high/low 缺失（<=0）时退化为 price。逐tick喂入时没有OHLC，ATR质量会下降，
// 调用方需要自己清楚这一点。滚动窗口超出容量时，最老样本的贡献与样本本身
// 在同一步内一起移除，绝不单独做其中一半。
func (w *VWAPWindow) Update(price, volume, high, low float64, ts time.Time) {
	if high <= 0 {
		high = price
	}
	if low <= 0 {
		low = price
	}

	w.cumPV += price * volume
	w.cumVol += volume

	if w.period > 0 && len(w.samples) >= w.period {
		oldest := w.samples[0]
		w.cumPV -= oldest.Price * oldest.Volume
		w.cumVol -= oldest.Volume
		w.samples = w.samples[1:]
	}

	s := Sample{
		Price:     price,
		High:      high,
		Low:       low,
		Volume:    volume,
		Timestamp: ts,
	}
	if v, ok := w.currentValue(); ok {
		s.VWAPAtInsertion = v
	}
	w.samples = append(w.samples, s)
}

// Value 返回当前VWAP。累计成交量为0，或滚动窗口尚未积满 period 个样本时，
// 返回 ok=false（数据不足，不是错误）。
func (w *VWAPWindow) Value() (float64, bool) {
	if w.period > 0 && len(w.samples) < w.period {
		return 0, false
	}
	return w.currentValue()
}

func (w *VWAPWindow) currentValue() (float64, bool) {
	if w.cumVol == 0 {
		return 0, false
	}
	return w.cumPV / w.cumVol, true
}

// Deviation 返回 (price − VWAP)/VWAP。VWAP未定义时 ok=false。
func (w *VWAPWindow) Deviation(price float64) (float64, bool) {
	v, ok := w.Value()
	if !ok || v == 0 {
		return 0, false
	}
	return (price - v) / v, true
}

// IsAbove 价格是否在VWAP之上。VWAP未定义时返回 false。
func (w *VWAPWindow) IsAbove(price float64) bool {
	v, ok := w.Value()
	return ok && price > v
}

// IsBelow 价格是否在VWAP之下。VWAP未定义时返回 false。
func (w *VWAPWindow) IsBelow(price float64) bool {
	v, ok := w.Value()
	return ok && price < v
}

// Reset 清空窗口（period==0 时用于时段边界重启日内VWAP）。
func (w *VWAPWindow) Reset() {
	w.samples = w.samples[:0]
	w.cumPV = 0
	w.cumVol = 0
}

// Len 返回当前保留的样本数。
func (w *VWAPWindow) Len() int { return len(w.samples) }

// Samples 返回保留样本（插入序即时间序）。调用方只读。
func (w *VWAPWindow) Samples() []Sample { return w.samples }

// Prices 返回保留样本的价格序列。
func (w *VWAPWindow) Prices() []float64 {
	prices := make([]float64, len(w.samples))
	for i, s := range w.samples {
		prices[i] = s.Price
	}
	return prices
}

// VWAPHistory 返回每个样本插入时刻的VWAP序列，供斜率与震荡判断使用。
func (w *VWAPWindow) VWAPHistory() []float64 {
	hist := make([]float64, len(w.samples))
	for i, s := range w.samples {
		hist[i] = s.VWAPAtInsertion
	}
	return hist
}
