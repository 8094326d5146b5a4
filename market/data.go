package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kline K线数据
type Kline struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Tick 单个行情观测（实盘来自行情监控，回测来自历史K线收盘）
type Tick struct {
	Symbol    string
	Price     float64
	High      float64
	Low       float64
	Volume    float64
	Timestamp time.Time
}

// TickFromKline 将一根已收盘的K线转换为决策用的Tick（以收盘价为决策价）。
func TickFromKline(symbol string, k Kline) Tick {
	return Tick{
		Symbol:    symbol,
		Price:     k.Close,
		High:      k.High,
		Low:       k.Low,
		Volume:    k.Volume,
		Timestamp: time.UnixMilli(k.CloseTime).UTC(),
	}
}

// Normalize 标准化symbol,确保是USDT交易对
func Normalize(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

// IntervalDuration 解析K线周期字符串（如 1m/5m/1h/1d）。
func IntervalDuration(interval string) (time.Duration, error) {
	if interval == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}

// parseFloat 解析float值
func parseFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseFloat(val, 64)
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("unsupported type: %T", v)
	}
}
