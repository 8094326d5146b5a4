package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"scalper/config"
	"scalper/logger"
	"scalper/market"
	"scalper/risk"
	"scalper/strategy"
	"scalper/trader"
)

// AutoTrader 单个交易对的实盘决策循环：消费收盘K线观测，维护VWAP窗口，
// 驱动策略引擎，并把产出的意图交给执行网关。
// 每个实例独占一个goroutine消费自己的观测；stateMu 只用来让外部的持仓
// 快照读取与本循环的状态变更互斥。跨交易对的风险约束全部收敛在共享的台账里。
type AutoTrader struct {
	symbol  string
	cfg     config.Config
	stateMu sync.Mutex // 保护 engine/window/lastDay
	engine  *strategy.Engine
	window  *market.VWAPWindow
	gateway trader.ExecutionGateway
	loc     *time.Location

	decisionLogger logger.IDecisionLogger

	lastDay string
}

// NewAutoTrader 创建单交易对决策循环。ledger 在所有交易对间共享。
func NewAutoTrader(symbol string, cfg config.Config, ledger *risk.Ledger, gateway trader.ExecutionGateway) (*AutoTrader, error) {
	engine, err := strategy.New(cfg, ledger)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &AutoTrader{
		symbol:  market.Normalize(symbol),
		cfg:     cfg,
		engine:  engine,
		window:  market.NewVWAPWindow(cfg.VWAPPeriod),
		gateway: gateway,
		loc:     loc,
	}, nil
}

// Symbol 返回负责的交易对。
func (a *AutoTrader) Symbol() string { return a.symbol }

// Engine 返回底层策略引擎（状态查询用）。
func (a *AutoTrader) Engine() *strategy.Engine { return a.engine }

// SetDecisionLogger 挂接决策落盘记录器（可选）。
func (a *AutoTrader) SetDecisionLogger(dl logger.IDecisionLogger) {
	a.decisionLogger = dl
}

// Preload 用历史K线预热VWAP窗口，避免启动后长时间无法决策。
func (a *AutoTrader) Preload(klines []market.Kline) {
	a.stateMu.Lock()
	for _, k := range klines {
		tick := market.TickFromKline(a.symbol, k)
		a.observe(tick)
	}
	a.stateMu.Unlock()
	log.Info().
		Str("symbol", a.symbol).
		Int("bars", len(klines)).
		Msg("VWAP窗口预热完成")
}

// observe 维护时段边界并把观测写入窗口。
func (a *AutoTrader) observe(tick market.Tick) {
	if a.cfg.VWAPPeriod == 0 {
		day := tick.Timestamp.In(a.loc).Format("2006-01-02")
		if a.lastDay != "" && a.lastDay != day {
			a.window.Reset()
		}
		a.lastDay = day
	}
	a.window.Update(tick.Price, tick.Volume, tick.High, tick.Low, tick.Timestamp)
}

// Run 消费观测直到通道关闭或ctx取消。每个观测之间检查取消信号。
func (a *AutoTrader) Run(ctx context.Context, ticks <-chan market.Tick) {
	log.Info().Str("symbol", a.symbol).Msg("交易循环启动")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("symbol", a.symbol).Msg("交易循环退出")
			return
		case tick, ok := <-ticks:
			if !ok {
				log.Info().Str("symbol", a.symbol).Msg("观测通道关闭，交易循环退出")
				return
			}
			a.processTick(ctx, tick)
		}
	}
}

// Positions 返回当前持仓快照，可从任意goroutine调用。
func (a *AutoTrader) Positions() []strategy.Position {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.engine.Positions()
}

// processTick 处理一个观测：先更新窗口再评估，评估结果决定是否触达网关。
// 网关调用在锁外，状态快照读取不被下单I/O阻塞。
func (a *AutoTrader) processTick(ctx context.Context, tick market.Tick) {
	a.stateMu.Lock()
	a.observe(tick)
	res := a.engine.Evaluate(tick, a.window)
	a.stateMu.Unlock()

	a.logResult(res, tick)

	if a.cfg.DryRun {
		return
	}

	switch res.Action {
	case strategy.ActionEnterLong, strategy.ActionEnterShort:
		if res.Intent != nil {
			if err := a.gateway.SubmitOrder(ctx, *res.Intent); err != nil {
				// 提交失败只记录，不回滚策略/台账状态
				log.Error().Err(err).Str("symbol", a.symbol).Msg("提交订单失败")
			}
		}
	case strategy.ActionExit:
		if err := a.gateway.ClosePosition(ctx, a.symbol); err != nil {
			log.Error().Err(err).Str("symbol", a.symbol).Msg("平仓指令失败")
		}
	}
}

func (a *AutoTrader) logResult(res strategy.Result, tick market.Tick) {
	switch res.Action {
	case strategy.ActionEnterLong, strategy.ActionEnterShort:
		log.Info().
			Str("symbol", a.symbol).
			Str("action", string(res.Action)).
			Float64("price", res.Position.EntryPrice).
			Float64("quantity", res.Position.Quantity).
			Float64("stop_loss", res.Position.StopLoss).
			Float64("take_profit", res.Position.TakeProfit).
			Msg("开仓")
	case strategy.ActionExit:
		log.Info().
			Str("symbol", a.symbol).
			Str("reason", string(res.ExitReason)).
			Float64("exit_price", res.ExitPrice).
			Float64("pnl", res.PnL).
			Float64("pnl_pct", res.PnLPct).
			Msg("平仓")
	default:
		if res.GateReason != risk.ReasonNone {
			log.Debug().
				Str("symbol", a.symbol).
				Str("gate", string(res.GateReason)).
				Msg("入场被风控闸门压制")
		} else if res.FilterBlocked != "" {
			log.Debug().
				Str("symbol", a.symbol).
				Str("filter", res.FilterBlocked).
				Msg("入场被过滤器压制")
		}
	}

	if a.decisionLogger == nil {
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
		Balance:       a.engine.Ledger().Balance(),
		DailyPnL:      a.engine.Ledger().DailyPnL(),
	}
	if v, ok := a.window.Value(); ok {
		rec.VWAP = v
		if dev, ok := a.window.Deviation(tick.Price); ok {
			rec.Deviation = dev
		}
	}
	if res.Position != nil && res.Action != strategy.ActionExit {
		rec.Side = string(res.Position.Side)
		rec.Quantity = res.Position.Quantity
		rec.StopLoss = res.Position.StopLoss
		rec.TakeProfit = res.Position.TakeProfit
	}
	if err := a.decisionLogger.LogDecision(rec); err != nil {
		log.Warn().Err(err).Str("symbol", a.symbol).Msg("写决策日志失败")
	}
}
