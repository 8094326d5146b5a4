package manager

import (
	"context"
	"fmt"
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

// 预热回看的K线根数，覆盖最长的指标回看需求仍有富余
const preloadBars = 200

// TraderManager 编排多交易对实盘交易：一个共享风险台账，
// 每个交易对一个AutoTrader，行情监控统一分发观测。
type TraderManager struct {
	cfg     config.Config
	ledger  *risk.Ledger
	monitor *market.Monitor
	gateway trader.ExecutionGateway

	mu      sync.Mutex
	traders map[string]*AutoTrader
	inbox   map[string]chan market.Tick

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewTraderManager 创建交易编排器。
func NewTraderManager(cfg config.Config, gateway trader.ExecutionGateway) (*TraderManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	ledger := risk.NewLedger(cfg.InitialBalance, risk.Limits{
		MaxPositions:    cfg.MaxPositions,
		MaxTradesPerDay: cfg.MaxTradesPerDay,
		MaxLossesPerDay: cfg.MaxLossesPerDay,
		CooldownMinutes: cfg.CooldownMinutes,
		MaxDailyLoss:    cfg.MaxDailyLoss,
	}, loc, time.Now())

	tm := &TraderManager{
		cfg:     cfg,
		ledger:  ledger,
		monitor: market.NewMonitor(cfg.Symbols, cfg.Timeframe),
		gateway: gateway,
		traders: make(map[string]*AutoTrader),
		inbox:   make(map[string]chan market.Tick),
	}

	for _, symbol := range cfg.Symbols {
		at, err := NewAutoTrader(symbol, cfg, ledger, gateway)
		if err != nil {
			return nil, fmt.Errorf("create trader %s: %w", symbol, err)
		}
		tm.traders[at.Symbol()] = at
		tm.inbox[at.Symbol()] = make(chan market.Tick, 64)
	}
	return tm, nil
}

// Ledger 返回共享风险台账。
func (tm *TraderManager) Ledger() *risk.Ledger { return tm.ledger }

// Trader 按交易对查AutoTrader。
func (tm *TraderManager) Trader(symbol string) (*AutoTrader, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	at, ok := tm.traders[market.Normalize(symbol)]
	return at, ok
}

// Positions 汇总全部交易对的当前持仓。
func (tm *TraderManager) Positions() []strategy.Position {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	var out []strategy.Position
	for _, at := range tm.traders {
		out = append(out, at.Positions()...)
	}
	return out
}

// SetDecisionLogger 给所有AutoTrader挂接同一个决策记录器。
func (tm *TraderManager) SetDecisionLogger(dl logger.IDecisionLogger) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, at := range tm.traders {
		at.SetDecisionLogger(dl)
	}
}

// Start 预热窗口、启动行情流并拉起所有交易循环。
func (tm *TraderManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	if tm.started {
		tm.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	tm.started = true
	tm.mu.Unlock()

	ctx, tm.cancel = context.WithCancel(ctx)

	if err := tm.preload(ctx); err != nil {
		// 预热失败只影响冷启动体验，行情流会逐步补齐窗口
		log.Warn().Err(err).Msg("历史数据预热失败，窗口将随实时行情逐步积累")
	}

	if err := tm.monitor.Start(ctx); err != nil {
		return err
	}

	for symbol, at := range tm.traders {
		tm.wg.Add(1)
		go func(at *AutoTrader, ch <-chan market.Tick) {
			defer tm.wg.Done()
			at.Run(ctx, ch)
		}(at, tm.inbox[symbol])
	}

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.dispatch()
	}()

	log.Info().
		Strs("symbols", tm.cfg.Symbols).
		Str("timeframe", tm.cfg.Timeframe).
		Bool("dry_run", tm.cfg.DryRun).
		Msg("交易编排器启动")
	return nil
}

// dispatch 把监控的统一观测流按交易对分发到各自的循环。
// 监控通道关闭后，关闭所有下游通道让交易循环自然退出。
func (tm *TraderManager) dispatch() {
	for tick := range tm.monitor.Ticks() {
		ch, ok := tm.inbox[tick.Symbol]
		if !ok {
			continue
		}
		select {
		case ch <- tick:
		default:
			log.Warn().Str("symbol", tick.Symbol).Msg("交易循环消费滞后，丢弃观测")
		}
	}
	for _, ch := range tm.inbox {
		close(ch)
	}
}

func (tm *TraderManager) preload(ctx context.Context) error {
	interval, err := market.IntervalDuration(tm.cfg.Timeframe)
	if err != nil {
		return err
	}
	loader := market.NewHistoryLoader()
	if err := tm.monitor.Preload(ctx, loader, time.Duration(preloadBars)*interval); err != nil {
		return err
	}
	for symbol, at := range tm.traders {
		klines, err := tm.monitor.GetCurrentKlines(symbol)
		if err != nil {
			return err
		}
		at.Preload(klines)
	}
	return nil
}

// Stop 停止行情流和全部交易循环，阻塞到完全退出。
func (tm *TraderManager) Stop() {
	if tm.cancel != nil {
		tm.cancel()
	}
	tm.wg.Wait()
	log.Info().Msg("交易编排器已停止")
}
