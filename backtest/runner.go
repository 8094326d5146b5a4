package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scalper/config"
	"scalper/logger"
	"scalper/market"
	"scalper/risk"
	"scalper/strategy"
)

// Runner 驱动一次确定性回测：严格按时间顺序逐根喂K线，
// 同样的输入永远产出同样的成交列表和汇总。没有并发，没有随机性。
type Runner struct {
	cfg   config.Config
	runID string
	feeds []*Feed
	loc   *time.Location

	decisionLogger logger.IDecisionLogger
}

// NewRunner 构建回测运行器。feeds 各自必须按时间升序。
func NewRunner(cfg config.Config, feeds []*Feed) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds")
	}
	for _, f := range feeds {
		if len(f.Bars) == 0 {
			return nil, fmt.Errorf("feed %s has no bars", f.Symbol)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:   cfg,
		runID: uuid.NewString(),
		feeds: feeds,
		loc:   loc,
	}, nil
}

// RunID 本次回测的标识。
func (r *Runner) RunID() string { return r.runID }

// SetDecisionLogger 挂接决策日志记录器（可选，仅用于事后分析）。
func (r *Runner) SetDecisionLogger(dl logger.IDecisionLogger) {
	r.decisionLogger = dl
}

// timedBar 归并排序用的带符号K线
type timedBar struct {
	symbol string
	bar    market.Kline
}

// mergeBars 把多个feed归并成单一时间序列。时间戳相同时按feed顺序，
// 保证重放顺序完全确定。
func mergeBars(feeds []*Feed) []timedBar {
	total := 0
	for _, f := range feeds {
		total += len(f.Bars)
	}
	merged := make([]timedBar, 0, total)

	idx := make([]int, len(feeds))
	for {
		best := -1
		for i, f := range feeds {
			if idx[i] >= len(f.Bars) {
				continue
			}
			if best == -1 || f.Bars[idx[i]].CloseTime < feeds[best].Bars[idx[best]].CloseTime {
				best = i
			}
		}
		if best == -1 {
			break
		}
		merged = append(merged, timedBar{symbol: feeds[best].Symbol, bar: feeds[best].Bars[idx[best]]})
		idx[best]++
	}
	return merged
}

// Run 执行回测并返回汇总报告。
func (r *Runner) Run() (*Report, error) {
	bars := mergeBars(r.feeds)
	firstTime := time.UnixMilli(bars[0].bar.CloseTime).UTC()
	lastTime := time.UnixMilli(bars[len(bars)-1].bar.CloseTime).UTC()

	ledger := risk.NewLedger(r.cfg.InitialBalance, risk.Limits{
		MaxPositions:    r.cfg.MaxPositions,
		MaxTradesPerDay: r.cfg.MaxTradesPerDay,
		MaxLossesPerDay: r.cfg.MaxLossesPerDay,
		CooldownMinutes: r.cfg.CooldownMinutes,
		MaxDailyLoss:    r.cfg.MaxDailyLoss,
	}, r.loc, firstTime)

	engine, err := strategy.New(r.cfg, ledger)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(r.feeds))
	windows := make(map[string]*market.VWAPWindow, len(r.feeds))
	lastDay := make(map[string]string, len(r.feeds))
	for _, f := range r.feeds {
		symbols = append(symbols, f.Symbol)
		windows[f.Symbol] = market.NewVWAPWindow(r.cfg.VWAPPeriod)
	}

	report := &Report{
		RunID:          r.runID,
		Symbols:        symbols,
		StartTime:      firstTime,
		EndTime:        lastTime,
		InitialBalance: r.cfg.InitialBalance,
		Trades:         []TradeRecord{},
	}

	log.Info().
		Str("run_id", r.runID).
		Strs("symbols", symbols).
		Int("bars", len(bars)).
		Time("start", firstTime).
		Time("end", lastTime).
		Msg("回测开始")

	peak := r.cfg.InitialBalance
	for _, tb := range bars {
		tick := market.TickFromKline(tb.symbol, tb.bar)
		window := windows[tb.symbol]

		// 时段VWAP（period==0）在日界处重新累计
		if r.cfg.VWAPPeriod == 0 {
			day := tick.Timestamp.In(r.loc).Format("2006-01-02")
			if prev, ok := lastDay[tb.symbol]; ok && prev != day {
				window.Reset()
			}
			lastDay[tb.symbol] = day
		}

		window.Update(tick.Price, tick.Volume, tick.High, tick.Low, tick.Timestamp)

		res := engine.Evaluate(tick, window)
		r.logDecision(res, tick, window, ledger)

		if res.Action == strategy.ActionExit {
			report.addTrade(TradeRecord{
				Symbol:     res.Symbol,
				Side:       string(res.Position.Side),
				EntryPrice: res.Position.EntryPrice,
				ExitPrice:  res.ExitPrice,
				EntryTime:  res.Position.EntryTime,
				ExitTime:   res.ExitTime,
				Quantity:   res.Position.Quantity,
				PnL:        res.PnL,
				PnLPct:     res.PnLPct,
				ExitReason: string(res.ExitReason),
			})
		}

		if b := ledger.Balance(); b > peak {
			peak = b
		} else if dd := peak - b; dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
		}
	}

	report.FinalBalance = ledger.Balance()
	remaining := engine.Positions()
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Symbol < remaining[j].Symbol })
	for _, p := range remaining {
		report.OpenPositions = append(report.OpenPositions, OpenPosition{
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			EntryPrice: p.EntryPrice,
			Quantity:   p.Quantity,
			EntryTime:  p.EntryTime,
		})
	}

	log.Info().
		Str("run_id", r.runID).
		Int("trades", report.TotalTrades).
		Float64("total_pnl", report.TotalPnL).
		Float64("win_rate_pct", report.WinRatePct).
		Float64("max_drawdown", report.MaxDrawdown).
		Msg("回测完成")

	return report, nil
}

func (r *Runner) logDecision(res strategy.Result, tick market.Tick, window *market.VWAPWindow, ledger *risk.Ledger) {
	if r.decisionLogger == nil {
		return
	}
	rec := &logger.DecisionRecord{
		Timestamp:     tick.Timestamp,
		Symbol:        tick.Symbol,
		Action:        string(res.Action),
		Price:         tick.Price,
		ExitReason:    string(res.ExitReason),
		PnL:           res.PnL,
		PnLPct:        res.PnLPct,
		GateReason:    string(res.GateReason),
		FilterBlocked: res.FilterBlocked,
		Balance:       ledger.Balance(),
		DailyPnL:      ledger.DailyPnL(),
	}
	if v, ok := window.Value(); ok {
		rec.VWAP = v
		if dev, ok := window.Deviation(tick.Price); ok {
			rec.Deviation = dev
		}
	}
	if res.Position != nil && res.Action != strategy.ActionExit {
		rec.Side = string(res.Position.Side)
		rec.Quantity = res.Position.Quantity
		rec.StopLoss = res.Position.StopLoss
		rec.TakeProfit = res.Position.TakeProfit
	}
	if err := r.decisionLogger.LogDecision(rec); err != nil {
		log.Warn().Err(err).Msg("写决策日志失败")
	}
}
