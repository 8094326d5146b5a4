package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

const historyPageLimit = 1000

// HistoryLoader 通过REST接口分页拉取历史K线，供回测使用。
type HistoryLoader struct {
	client *binance.Client
}

// NewHistoryLoader 创建历史数据加载器（公开行情接口不需要密钥）。
func NewHistoryLoader() *HistoryLoader {
	return &HistoryLoader{client: binance.NewClient("", "")}
}

// Load 拉取 [start, end) 区间内的K线，按开盘时间升序返回。
func (h *HistoryLoader) Load(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error) {
	symbol = Normalize(symbol)
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: start %v >= end %v", start, end)
	}

	var klines []Kline
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		rows, err := h.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(historyPageLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			k, err := klineFromBinance(row)
			if err != nil {
				return nil, err
			}
			klines = append(klines, k)
		}

		next := rows[len(rows)-1].CloseTime + 1
		if next <= cursor {
			break
		}
		cursor = next

		if len(rows) < historyPageLimit {
			break
		}
	}

	return klines, nil
}

func klineFromBinance(row *binance.Kline) (Kline, error) {
	open, err := strconv.ParseFloat(row.Open, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("parse open %q: %w", row.Open, err)
	}
	high, err := strconv.ParseFloat(row.High, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("parse high %q: %w", row.High, err)
	}
	low, err := strconv.ParseFloat(row.Low, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("parse low %q: %w", row.Low, err)
	}
	closePrice, err := strconv.ParseFloat(row.Close, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("parse close %q: %w", row.Close, err)
	}
	volume, err := strconv.ParseFloat(row.Volume, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("parse volume %q: %w", row.Volume, err)
	}

	return Kline{
		OpenTime:  row.OpenTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: row.CloseTime,
	}, nil
}
