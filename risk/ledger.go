package risk

import (
	"math"
	"sync"
	"time"
)

// Reason 标识 CanOpen 拒绝开仓时首先命中的闸门。
// 闸门按固定顺序求值，第一个失败者决定对外上报的原因。
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonMaxPositions Reason = "max_positions"
	ReasonMaxTrades    Reason = "max_trades_per_day"
	ReasonMaxLosses    Reason = "max_losses_per_day"
	ReasonCooldown     Reason = "cooldown"
	ReasonDailyLoss    Reason = "daily_loss_limit"
)

// Limits 全局风险限制。字段为0表示对应闸门禁用。
type Limits struct {
	MaxPositions    int
	MaxTradesPerDay int
	MaxLossesPerDay int
	CooldownMinutes int
	MaxDailyLoss    float64
}

// OpenPosition 台账中登记的持仓条目
type OpenPosition struct {
	EntryPrice float64
	Quantity   float64 // 按方向带符号，多头为正
	EntryTime  time.Time
}

// Ledger 进程级风险台账。所有交易对共享同一实例：
// 最大持仓数、日亏损上限、交易/亏损计数都是跨品种的全局不变量，
// 因此内部用互斥锁串行化访问。回测各自持有独立实例。
type Ledger struct {
	mu     sync.Mutex
	limits Limits
	loc    *time.Location

	balance      float64
	dailyPnL     float64
	open         map[string]OpenPosition
	dailyResetAt time.Time
	tradesToday  int
	lossesToday  int
	lastLossTime time.Time
}

// NewLedger 创建台账。now 用于确定首个日界（本地时区次日零点）。
func NewLedger(initialBalance float64, limits Limits, loc *time.Location, now time.Time) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		limits:       limits,
		loc:          loc,
		balance:      initialBalance,
		open:         make(map[string]OpenPosition),
		dailyResetAt: nextMidnight(now, loc),
	}
}

// CanOpen 判断当前是否允许开新仓。
// 闸门固定顺序：持仓数 → 当日交易数 → 当日亏损数 → 冷却期 → 日亏损额。
func (l *Ledger) CanOpen(now time.Time) (bool, Reason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limits.MaxPositions > 0 && len(l.open) >= l.limits.MaxPositions {
		return false, ReasonMaxPositions
	}
	if l.limits.MaxTradesPerDay > 0 && l.tradesToday >= l.limits.MaxTradesPerDay {
		return false, ReasonMaxTrades
	}
	if l.limits.MaxLossesPerDay > 0 && l.lossesToday >= l.limits.MaxLossesPerDay {
		return false, ReasonMaxLosses
	}
	if l.limits.CooldownMinutes > 0 && !l.lastLossTime.IsZero() {
		elapsed := now.Sub(l.lastLossTime)
		if elapsed < time.Duration(l.limits.CooldownMinutes)*time.Minute {
			return false, ReasonCooldown
		}
	}
	if l.limits.MaxDailyLoss > 0 && l.dailyPnL <= -l.limits.MaxDailyLoss {
		return false, ReasonDailyLoss
	}
	return true, ReasonNone
}

// RecordOpen 登记新开仓位。计数器在平仓时才递增。
func (l *Ledger) RecordOpen(symbol string, price, signedQuantity float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open[symbol] = OpenPosition{
		EntryPrice: price,
		Quantity:   signedQuantity,
		EntryTime:  now,
	}
}

// RecordClose 注销持仓并结算已实现盈亏。
// 亏损平仓额外递增当日亏损计数并刷新冷却起点。
func (l *Ledger) RecordClose(symbol string, pnl float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.open, symbol)
	l.dailyPnL += pnl
	l.balance += pnl
	l.tradesToday++
	if pnl < 0 {
		l.lossesToday++
		l.lastLossTime = now
	}
}

// MaybeResetDaily 跨过日界时清零当日计数。
// 必须在每个依赖当日计数的决策之前调用（实盘每tick一次，回测每根K线一次），
// 否则长时间运行或多日回测会错过日界。返回是否发生了重置。
func (l *Ledger) MaybeResetDaily(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.dailyResetAt) {
		return false
	}
	l.dailyPnL = 0
	l.tradesToday = 0
	l.lossesToday = 0
	l.lastLossTime = time.Time{}
	l.dailyResetAt = nextMidnight(now, l.loc)
	return true
}

// Balance 当前权益（初始余额 + 累计已实现盈亏）。
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// DailyPnL 当日已实现盈亏。
func (l *Ledger) DailyPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

// OpenCount 当前持仓数。
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// Position 查询某交易对的台账持仓。
func (l *Ledger) Position(symbol string) (OpenPosition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[symbol]
	return p, ok
}

// TradesToday 当日平仓笔数。
func (l *Ledger) TradesToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradesToday
}

// LossesToday 当日亏损笔数。
func (l *Ledger) LossesToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lossesToday
}

// PositionSize 按风险百分比计算股数：floor(balance×riskPct/(stopDistance×price))，
// 上限 maxSize；stopDistance×price 为0时退回固定手数 fallback。
func PositionSize(balance, riskPct, stopDistance, price, maxSize, fallback float64) float64 {
	denom := stopDistance * price
	if denom == 0 {
		return fallback
	}
	size := math.Floor(balance * riskPct / denom)
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return size
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
