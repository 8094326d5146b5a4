package strategy

import (
	"math"

	"scalper/config"
	"scalper/market"
	"scalper/risk"
	"scalper/trader"
)

// Engine 每个交易对一个五状态状态机（空仓/待多/待空/持多/持空）的编排器。
// 持仓表与待确认信号表是显式的按交易对键控容器，不放在任何全局变量里；
// 一次 Evaluate 内完成状态机转移和台账更新，两者永远一起生效。
//
// 同一交易对的观测必须串行喂入；不同交易对共享同一个风险台账，
// 台账自身负责串行化。
type Engine struct {
	cfg     config.Config
	ledger  *risk.Ledger
	session sessionWindow

	positions map[string]*Position
	pending   map[string]*PendingSignal
}

// New 创建策略引擎。cfg 必须已通过校验。
func New(cfg config.Config, ledger *risk.Ledger) (*Engine, error) {
	session, err := newSessionWindow(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		session:   session,
		positions: make(map[string]*Position),
		pending:   make(map[string]*PendingSignal),
	}, nil
}

// Ledger 返回引擎挂接的风险台账。
func (e *Engine) Ledger() *risk.Ledger { return e.ledger }

// Position 查询某交易对当前持仓（副本）。
func (e *Engine) Position(symbol string) (Position, bool) {
	p, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions 返回全部持仓副本。
func (e *Engine) Positions() []Position {
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// Pending 查询某交易对的待确认信号（副本）。
func (e *Engine) Pending(symbol string) (PendingSignal, bool) {
	s, ok := e.pending[symbol]
	if !ok {
		return PendingSignal{}, false
	}
	return *s, true
}

// Evaluate 处理一个观测并返回本轮决策。
// 判定顺序固定：收盘强平 → 持仓退出链 → 待确认信号 → 新入场。
func (e *Engine) Evaluate(tick market.Tick, window *market.VWAPWindow) Result {
	res := Result{Symbol: tick.Symbol}
	now := tick.Timestamp

	// 日界重置必须先于一切依赖当日计数的判定
	e.ledger.MaybeResetDaily(now)

	if pos, ok := e.positions[tick.Symbol]; ok {
		if e.session.inForceExit(now) {
			return e.exit(pos, tick, ExitEODForceExit)
		}
		if reason, hit := e.checkExits(pos, tick); hit {
			return e.exit(pos, tick, reason)
		}
		return res
	}

	if sig, ok := e.pending[tick.Symbol]; ok {
		// 确认恰好消费一个后续观测，无论结论如何信号都被清除
		delete(e.pending, tick.Symbol)
		return e.confirm(sig, tick, window)
	}

	if blocked := e.entryFilters(tick, window); blocked != "" {
		res.FilterBlocked = blocked
		return res
	}

	deviation, ok := window.Deviation(tick.Price)
	if !ok {
		return res
	}

	rsi, rsiOK := 0.0, true
	if e.cfg.RSIPeriod > 0 {
		rsi, rsiOK = market.RSI(window.Prices(), e.cfg.RSIPeriod)
		if !rsiOK {
			res.FilterBlocked = filterRSI
			return res
		}
	}

	switch {
	case deviation < -e.cfg.EntryThreshold && (e.cfg.RSIPeriod <= 0 || rsi < e.cfg.RSIOversold):
		return e.raiseOrEnter(PendingLong, tick)
	case deviation > e.cfg.EntryThreshold && (e.cfg.RSIPeriod <= 0 || rsi > e.cfg.RSIOverbought):
		return e.raiseOrEnter(PendingShort, tick)
	}
	return res
}

// checkExits 按固定优先级检查持仓退出条件，第一个命中者胜出。
// 止损/止盈/追踪位在构造时数值上互不重合，不存在并列。
func (e *Engine) checkExits(pos *Position, tick market.Tick) (ExitReason, bool) {
	now := tick.Timestamp
	price := tick.Price

	if e.cfg.MaxHoldSeconds > 0 {
		held := now.Sub(pos.EntryTime).Seconds()
		if held >= float64(e.cfg.MaxHoldSeconds) {
			return ExitTimeStop, true
		}
	}

	if pos.Side == SideLong {
		if price <= pos.StopLoss {
			return ExitStopLoss, true
		}
		if price >= pos.TakeProfit {
			return ExitTakeProfit, true
		}
	} else {
		if price >= pos.StopLoss {
			return ExitStopLoss, true
		}
		if price <= pos.TakeProfit {
			return ExitTakeProfit, true
		}
	}

	if pos.TrailingStop > 0 {
		// 追踪位只向有利方向棘轮，绝不回退
		if pos.Side == SideLong {
			if candidate := price * (1 - e.cfg.TrailingStopPct); candidate > pos.TrailingStop {
				pos.TrailingStop = candidate
			}
			if price <= pos.TrailingStop {
				return ExitTrailingStop, true
			}
		} else {
			if candidate := price * (1 + e.cfg.TrailingStopPct); candidate < pos.TrailingStop {
				pos.TrailingStop = candidate
			}
			if price >= pos.TrailingStop {
				return ExitTrailingStop, true
			}
		}
	}

	if e.cfg.MaxPositionLoss > 0 {
		unrealized := (price - pos.EntryPrice) * pos.SignedQuantity()
		if unrealized <= -e.cfg.MaxPositionLoss {
			return ExitMaxLoss, true
		}
	}

	return "", false
}

// confirm 用当前观测裁决待确认信号：回到VWAP错误一侧则丢弃，否则按当前价入场。
// VWAP失去定义（如时段边界重置后）时同样丢弃。
func (e *Engine) confirm(sig *PendingSignal, tick market.Tick, window *market.VWAPWindow) Result {
	res := Result{Symbol: tick.Symbol}

	if _, ok := window.Value(); !ok {
		res.PendingDiscarded = true
		return res
	}

	switch sig.Kind {
	case PendingLong:
		if window.IsBelow(tick.Price) {
			res.PendingDiscarded = true
			return res
		}
		return e.enter(SideLong, tick)
	case PendingShort:
		if window.IsAbove(tick.Price) {
			res.PendingDiscarded = true
			return res
		}
		return e.enter(SideShort, tick)
	}
	return res
}

// raiseOrEnter 确认开关决定直接入场还是先挂起等待下一个观测。
func (e *Engine) raiseOrEnter(kind PendingKind, tick market.Tick) Result {
	if !e.cfg.RequireConfirmation {
		side := SideLong
		if kind == PendingShort {
			side = SideShort
		}
		return e.enter(side, tick)
	}

	e.pending[tick.Symbol] = &PendingSignal{
		Kind:         kind,
		TriggerTime:  tick.Timestamp,
		TriggerPrice: tick.Price,
	}
	return Result{Symbol: tick.Symbol, PendingRaised: true}
}

// enter 开新仓。只有风控台账放行时才能走到建仓一步。
func (e *Engine) enter(side PositionSide, tick market.Tick) Result {
	res := Result{Symbol: tick.Symbol}
	now := tick.Timestamp
	price := tick.Price

	ok, reason := e.ledger.CanOpen(now)
	if !ok {
		res.GateReason = reason
		return res
	}

	qty := e.positionSize(price)

	pos := &Position{
		Symbol:     tick.Symbol,
		Side:       side,
		EntryPrice: price,
		Quantity:   qty,
		EntryTime:  now,
	}

	if side == SideLong {
		pos.StopLoss = price * (1 - e.cfg.StopLossPct)
		pos.TakeProfit = price * (1 + e.cfg.TakeProfitPct)
		if e.cfg.TrailingStop {
			pos.TrailingStop = price * (1 - e.cfg.TrailingStopPct)
		}
	} else {
		pos.StopLoss = price * (1 + e.cfg.StopLossPct)
		pos.TakeProfit = price * (1 - e.cfg.TakeProfitPct)
		if e.cfg.TrailingStop {
			pos.TrailingStop = price * (1 + e.cfg.TrailingStopPct)
		}
	}

	e.positions[tick.Symbol] = pos
	e.ledger.RecordOpen(tick.Symbol, price, pos.SignedQuantity(), now)

	intent := e.entryIntent(pos)
	copied := *pos

	res.Action = ActionEnterLong
	if side == SideShort {
		res.Action = ActionEnterShort
	}
	res.Position = &copied
	res.Intent = &intent
	return res
}

// exit 结清持仓：状态机转移与台账结算在同一调用内完成。
func (e *Engine) exit(pos *Position, tick market.Tick, reason ExitReason) Result {
	now := tick.Timestamp
	price := tick.Price

	pnl := (price - pos.EntryPrice) * pos.SignedQuantity()
	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = pnl / (pos.EntryPrice * pos.Quantity) * 100
	}

	delete(e.positions, pos.Symbol)
	e.ledger.RecordClose(pos.Symbol, pnl, now)

	closed := *pos
	intent := trader.OrderIntent{
		Symbol:      pos.Symbol,
		Side:        trader.SideSell,
		Quantity:    pos.Quantity,
		OrderType:   trader.OrderTypeMarket,
		TimeInForce: trader.TimeInForceIOC,
	}
	if pos.Side == SideShort {
		intent.Side = trader.SideBuy
	}

	return Result{
		Symbol:     pos.Symbol,
		Action:     ActionExit,
		Position:   &closed,
		ExitReason: reason,
		ExitPrice:  price,
		ExitTime:   now,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Intent:     &intent,
	}
}

// positionSize 按配置的模式计算手数。
func (e *Engine) positionSize(price float64) float64 {
	if e.cfg.SizingMode == config.SizingModeRiskPct {
		qty := risk.PositionSize(
			e.ledger.Balance(),
			e.cfg.MaxRiskPct,
			e.cfg.StopLossPct,
			price,
			e.cfg.MaxPositionSize,
			e.cfg.FixedSize,
		)
		// 风险百分比取整后至少1股；固定手数原样使用，允许小数
		if qty < 1 {
			qty = 1
		}
		return qty
	}
	return e.cfg.FixedSize
}

// entryIntent 把入场决策转换为限价意图，按方向让出配置的滑点。
func (e *Engine) entryIntent(pos *Position) trader.OrderIntent {
	intent := trader.OrderIntent{
		Symbol:      pos.Symbol,
		Quantity:    pos.Quantity,
		OrderType:   trader.OrderTypeLimit,
		TimeInForce: trader.TimeInForceGTC,
	}
	if pos.Side == SideLong {
		intent.Side = trader.SideBuy
		intent.LimitPrice = roundPrice(pos.EntryPrice * (1 + e.cfg.SlippagePct))
	} else {
		intent.Side = trader.SideSell
		intent.LimitPrice = roundPrice(pos.EntryPrice * (1 - e.cfg.SlippagePct))
	}
	return intent
}

func roundPrice(p float64) float64 {
	return math.Round(p*1e8) / 1e8
}
