package strategy

import (
	"time"

	"scalper/risk"
	"scalper/trader"
)

// PositionSide 持仓方向
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Position 单个交易对的持仓。每个交易对同一时刻至多一个，缺席即空仓。
type Position struct {
	Symbol       string
	Side         PositionSide
	EntryPrice   float64
	Quantity     float64 // 始终为正，方向由 Side 表达
	EntryTime    time.Time
	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64 // 0 = 未启用
}

// SignedQuantity 返回按方向带符号的数量（台账登记用）。
func (p *Position) SignedQuantity() float64 {
	if p.Side == SideShort {
		return -p.Quantity
	}
	return p.Quantity
}

// PendingKind 待确认信号的方向
type PendingKind string

const (
	PendingLong  PendingKind = "potential-long"
	PendingShort PendingKind = "potential-short"
)

// PendingSignal 等待下一个观测确认的候选入场信号。
// 每个交易对至多一个；新信号建立前必被消费或丢弃。
type PendingSignal struct {
	Kind         PendingKind
	TriggerTime  time.Time
	TriggerPrice float64
}

// Action 单次评估的对外动作
type Action string

const (
	ActionNone       Action = ""
	ActionEnterLong  Action = "ENTER_LONG"
	ActionEnterShort Action = "ENTER_SHORT"
	ActionExit       Action = "EXIT"
)

// ExitReason 平仓原因，由引擎显式返回，调用方（实盘日志、回测成交记录）
// 不需要也不允许自行反推。
type ExitReason string

const (
	ExitEODForceExit ExitReason = "EOD_FORCE_EXIT"
	ExitTimeStop     ExitReason = "TIME_STOP"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitMaxLoss      ExitReason = "MAX_POSITION_LOSS"
)

// Result 单次评估的结果。状态机转移与风险台账在同一次调用内一起完成，
// 调用方不可能观测到只改了一半的状态。
type Result struct {
	Symbol string
	Action Action

	// 开仓时为新持仓、平仓时为刚结清的持仓，其余为空。
	Position *Position

	// 平仓字段
	ExitReason ExitReason
	ExitPrice  float64
	ExitTime   time.Time
	PnL        float64
	PnLPct     float64

	// 交给执行网关的意图；无动作时为空。
	Intent *trader.OrderIntent

	// 风控闸门拒绝开仓时的原因，仅用于观测，不是错误。
	GateReason risk.Reason

	// 未通过入场过滤器时记录被哪个过滤器拦下，仅用于观测。
	FilterBlocked string

	// 待确认信号的建立/丢弃，仅用于观测。
	PendingRaised    bool
	PendingDiscarded bool
}
