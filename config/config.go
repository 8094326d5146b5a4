package config

import (
	"fmt"
	"time"
)

// SizingModeFixed / SizingModeRiskPct 仓位计算方式
const (
	SizingModeFixed   = "fixed"
	SizingModeRiskPct = "risk_pct"
)

// Config 决策引擎消费的完整配置。
// 引擎假定拿到的配置已通过 Validate 并填好默认值；解析文件和环境变量
// 是入口层（main）的事，核心包一律按值接收。
type Config struct {
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"` // 决策K线周期，如 1m/5m
	Timezone  string   `json:"timezone"`  // 交易所本地时区（日界与交易时段按它计算）

	// 交易时段。SessionStart == SessionEnd 表示全天可交易。
	SessionStart   string `json:"session_start"`    // "HH:MM"
	SessionEnd     string `json:"session_end"`      // "HH:MM"
	ForceExitStart string `json:"force_exit_start"` // 收盘前强制平仓窗口起点，空=禁用

	// VWAP与入场
	VWAPPeriod          int     `json:"vwap_period"`     // 0=全时段累计
	EntryThreshold      float64 `json:"entry_threshold"` // 偏离阈值，如 0.02 = 2%
	RequireConfirmation bool    `json:"require_confirmation"`
	SlippagePct         float64 `json:"slippage_pct"` // 挂单价相对观测价的让价比例

	// 入场过滤器
	VolumeMultiplier float64 `json:"volume_multiplier"` // 相对量下限
	VolumeLookback   int     `json:"volume_lookback"`   // 相对量回看样本数
	ChopPeriod       int     `json:"chop_period"`
	ChopThreshold    int     `json:"chop_threshold"`
	SlopeLookback    int     `json:"slope_lookback"`
	ATRPeriod        int     `json:"atr_period"`
	MinATRPct        float64 `json:"min_atr_pct"` // ATR/价格 下限
	RSIPeriod        int     `json:"rsi_period"`
	RSIOversold      float64 `json:"rsi_oversold"`
	RSIOverbought    float64 `json:"rsi_overbought"`

	// 仓位
	SizingMode      string  `json:"sizing_mode"`
	FixedSize       float64 `json:"fixed_size"`
	MaxRiskPct      float64 `json:"max_risk_pct"`
	MaxPositionSize float64 `json:"max_position_size"`

	// 风险限制
	InitialBalance  float64 `json:"initial_balance"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`    // USD，0=禁用
	MaxPositionLoss float64 `json:"max_position_loss"` // USD，0=禁用
	MaxHoldSeconds  int     `json:"max_hold_seconds"`  // 0=禁用
	TrailingStop    bool    `json:"trailing_stop"`
	TrailingStopPct float64 `json:"trailing_stop_pct"`
	MaxTradesPerDay int     `json:"max_trades_per_day"` // 0=不限
	MaxLossesPerDay int     `json:"max_losses_per_day"` // 0=不限
	CooldownMinutes int     `json:"cooldown_minutes"`   // 亏损后冷却，0=禁用
	MaxPositions    int     `json:"max_positions"`

	DryRun bool `json:"dry_run"`
}

// Default 返回带默认值的配置。
func Default() Config {
	return Config{
		Symbols:   []string{"BTCUSDT"},
		Timeframe: "1m",
		Timezone:  "UTC",

		SessionStart: "00:00",
		SessionEnd:   "00:00",

		VWAPPeriod:          0,
		EntryThreshold:      0.02,
		RequireConfirmation: true,
		SlippagePct:         0.0005,

		VolumeMultiplier: 1.2,
		VolumeLookback:   20,
		ChopPeriod:       10,
		ChopThreshold:    4,
		SlopeLookback:    5,
		ATRPeriod:        14,
		MinATRPct:        0.0005,
		RSIPeriod:        14,
		RSIOversold:      30,
		RSIOverbought:    70,

		SizingMode:      SizingModeFixed,
		FixedSize:       1,
		MaxRiskPct:      0.01,
		MaxPositionSize: 100,

		InitialBalance:  10000,
		StopLossPct:     0.01,
		TakeProfitPct:   0.02,
		MaxDailyLoss:    200,
		MaxPositionLoss: 0,
		MaxHoldSeconds:  0,
		TrailingStop:    false,
		TrailingStopPct: 0.008,
		MaxTradesPerDay: 20,
		MaxLossesPerDay: 5,
		CooldownMinutes: 15,
		MaxPositions:    1,

		DryRun: true,
	}
}

// Validate 校验配置的完整性。校验失败属于启动期致命错误。
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is empty")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe is empty")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"session_start", c.SessionStart},
		{"session_end", c.SessionEnd},
	} {
		if _, err := ParseClock(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	if c.ForceExitStart != "" {
		if _, err := ParseClock(c.ForceExitStart); err != nil {
			return fmt.Errorf("invalid force_exit_start %q: %w", c.ForceExitStart, err)
		}
	}
	if c.VWAPPeriod < 0 {
		return fmt.Errorf("vwap_period must be >= 0")
	}
	if c.EntryThreshold <= 0 {
		return fmt.Errorf("entry_threshold must be > 0")
	}
	if c.SizingMode != SizingModeFixed && c.SizingMode != SizingModeRiskPct {
		return fmt.Errorf("unknown sizing_mode %q", c.SizingMode)
	}
	if c.SizingMode == SizingModeFixed && c.FixedSize <= 0 {
		return fmt.Errorf("fixed_size must be > 0")
	}
	if c.SizingMode == SizingModeRiskPct && c.MaxRiskPct <= 0 {
		return fmt.Errorf("max_risk_pct must be > 0")
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be > 0")
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop_loss_pct must be > 0")
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be > 0")
	}
	if c.TrailingStop && c.TrailingStopPct <= 0 {
		return fmt.Errorf("trailing_stop_pct must be > 0 when trailing_stop is enabled")
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be > 0")
	}
	return nil
}

// Location 返回配置时区。
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Clock 一天内的时刻
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock 解析 "HH:MM"。
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes 返回从零点起的分钟数。
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }
