package backtest

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"scalper/market"
)

// Feed 单个交易对的历史K线序列，按时间升序。
type Feed struct {
	Symbol string
	Bars   []market.Kline
}

// LoadCSVFeed 从CSV加载K线。列格式：timestamp_ms,open,high,low,close,volume，
// 首行允许是表头。无法解析的行直接跳过，历史数据里偶发坏行不该中断整个回测。
func LoadCSVFeed(path, symbol string) (*Feed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(bufio.NewReader(file))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	bars := make([]market.Kline, 0, 1024)
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line++
			continue
		}
		line++
		if len(rec) < 6 {
			continue
		}
		first := strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF"))
		if line == 1 && (strings.EqualFold(first, "timestamp") || strings.EqualFold(first, "timestamp_ms")) {
			continue
		}

		ts, err := strconv.ParseInt(first, 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}

		bars = append(bars, market.Kline{
			OpenTime:  ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			CloseTime: ts,
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no usable bars in %s", path)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].CloseTime < bars[j].CloseTime })
	return &Feed{Symbol: market.Normalize(symbol), Bars: bars}, nil
}

// LoadBinanceFeed 通过历史行情接口拉取K线。
func LoadBinanceFeed(ctx context.Context, loader *market.HistoryLoader, symbol, interval string, start, end time.Time) (*Feed, error) {
	bars, err := loader.Load(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars returned for %s %s", symbol, interval)
	}
	return &Feed{Symbol: market.Normalize(symbol), Bars: bars}, nil
}
