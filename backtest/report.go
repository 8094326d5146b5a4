package backtest

import "time"

// TradeRecord 回测中一笔完整（开→平）交易。
// exit_reason 由策略引擎显式给出，这里只是转录，绝不自行反推。
type TradeRecord struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	ExitReason string    `json:"exit_reason"`
}

// Report 单次回测的汇总结果。
type Report struct {
	RunID          string        `json:"run_id"`
	Symbols        []string      `json:"symbols"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	InitialBalance float64       `json:"initial_balance"`
	FinalBalance   float64       `json:"final_balance"`
	TotalTrades    int           `json:"total_trades"`
	WinningTrades  int           `json:"winning_trades"`
	LosingTrades   int           `json:"losing_trades"`
	WinRatePct     float64       `json:"win_rate_pct"`
	TotalPnL       float64       `json:"total_pnl"`
	MaxDrawdown    float64       `json:"max_drawdown"`
	Trades         []TradeRecord `json:"trades"`

	// 回测结束时仍未平掉的持仓（不计入成交统计）
	OpenPositions []OpenPosition `json:"open_positions"`
}

// OpenPosition 回测结束时的残留持仓。
type OpenPosition struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
}

// addTrade 记录一笔平仓并更新汇总统计。
func (r *Report) addTrade(t TradeRecord) {
	r.Trades = append(r.Trades, t)
	r.TotalTrades++
	if t.PnL > 0 {
		r.WinningTrades++
	} else if t.PnL < 0 {
		r.LosingTrades++
	}
	r.TotalPnL += t.PnL
	if r.TotalTrades > 0 {
		r.WinRatePct = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
	}
}
