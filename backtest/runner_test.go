package backtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scalper/config"
	"scalper/market"
)

// =============================================================================
// Helper 函数
// =============================================================================

func backtestConfig() config.Config {
	cfg := config.Default()
	cfg.RequireConfirmation = false
	cfg.EntryThreshold = 0.02
	cfg.VWAPPeriod = 0
	cfg.VolumeMultiplier = 0
	cfg.MinATRPct = 0
	cfg.ChopPeriod = 0
	cfg.ChopThreshold = 0
	cfg.RSIPeriod = 0
	cfg.MaxDailyLoss = 0
	cfg.MaxTradesPerDay = 0
	cfg.MaxLossesPerDay = 0
	cfg.CooldownMinutes = 0
	cfg.FixedSize = 1
	return cfg
}

// barsFromCloses 从收盘价序列生成1分钟K线，等成交量。
func barsFromCloses(start time.Time, closes ...float64) []market.Kline {
	bars := make([]market.Kline, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Minute)
		bars[i] = market.Kline{
			OpenTime:  open.UnixMilli(),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
			CloseTime: open.Add(time.Minute - time.Millisecond).UnixMilli(),
		}
	}
	return bars
}

var btStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// =============================================================================
// 端到端场景
// =============================================================================

func TestRunEntersLongOnDeviation(t *testing.T) {
	// 收盘价 [100,100,100,95,95]：第4根 VWAP=98.75，95偏离约-3.8%，
	// 应在第4根以95入多，之后持仓到结束。
	feed := &Feed{
		Symbol: "BTCUSDT",
		Bars:   barsFromCloses(btStart, 100, 100, 100, 95, 95),
	}
	r, err := NewRunner(backtestConfig(), []*Feed{feed})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	report, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.TotalTrades != 0 {
		t.Fatalf("TotalTrades = %d, want 0 (仓位未平)", report.TotalTrades)
	}
	if len(report.OpenPositions) != 1 {
		t.Fatalf("OpenPositions = %d, want 1", len(report.OpenPositions))
	}
	pos := report.OpenPositions[0]
	if pos.Side != "long" || pos.EntryPrice != 95 {
		t.Fatalf("position = %+v, want long @95", pos)
	}
	// 入场发生在第一根触发偏离的95上
	wantEntry := btStart.Add(4*time.Minute - time.Millisecond)
	if !pos.EntryTime.Equal(wantEntry) {
		t.Errorf("EntryTime = %v, want %v", pos.EntryTime, wantEntry)
	}
}

func TestRunDailyLossLockout(t *testing.T) {
	cfg := backtestConfig()
	cfg.MaxDailyLoss = 50
	cfg.FixedSize = 30
	cfg.StopLossPct = 0.01
	cfg.TakeProfitPct = 0.50

	// 第4根95入多，第5根93触发止损：(93-95)*30 = -60 ≤ -50。
	// 当日剩余K线偏离再大也不得再开仓；次日首个信号恢复开仓。
	day1 := barsFromCloses(btStart,
		100, 100, 100, 95, 93, // 入场+止损
		80, 80, 80) // 深度偏离但被日亏损闸门拦截
	day2 := barsFromCloses(btStart.AddDate(0, 0, 1), 80, 80, 60)

	feed := &Feed{Symbol: "BTCUSDT", Bars: append(day1, day2...)}
	r, err := NewRunner(cfg, []*Feed{feed})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	report, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1 (止损后当日锁死)", report.TotalTrades)
	}
	trade := report.Trades[0]
	if trade.ExitReason != "STOP_LOSS" || trade.PnL != -60 {
		t.Fatalf("trade = %+v, want STOP_LOSS pnl=-60", trade)
	}
	// 次日恢复：60相对重置后的VWAP深度偏离，应重新开仓
	if len(report.OpenPositions) != 1 {
		t.Fatalf("OpenPositions = %d, want 1（次日重新入场）", len(report.OpenPositions))
	}
	if report.OpenPositions[0].EntryTime.Before(btStart.AddDate(0, 0, 1)) {
		t.Fatal("重新入场应发生在次日")
	}
}

func TestRunRoundTripTradeStats(t *testing.T) {
	cfg := backtestConfig()
	cfg.TakeProfitPct = 0.02

	// 95入多后涨到98触发止盈 (98 >= 95*1.02=96.9)
	feed := &Feed{
		Symbol: "BTCUSDT",
		Bars:   barsFromCloses(btStart, 100, 100, 100, 95, 98),
	}
	r, _ := NewRunner(cfg, []*Feed{feed})
	report, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.TotalTrades != 1 || report.WinningTrades != 1 {
		t.Fatalf("stats = %+v, want 1笔盈利", report)
	}
	if report.WinRatePct != 100 {
		t.Errorf("WinRatePct = %v, want 100", report.WinRatePct)
	}
	if report.TotalPnL != 3 {
		t.Errorf("TotalPnL = %v, want 3", report.TotalPnL)
	}
	if report.FinalBalance != cfg.InitialBalance+3 {
		t.Errorf("FinalBalance = %v", report.FinalBalance)
	}
	if report.Trades[0].ExitReason != "TAKE_PROFIT" {
		t.Errorf("ExitReason = %q", report.Trades[0].ExitReason)
	}
}

func TestRunDeterminism(t *testing.T) {
	cfg := backtestConfig()
	closes := []float64{100, 100, 100, 95, 98, 100, 104, 100, 96, 99, 100, 95, 94, 97, 100}
	bars := barsFromCloses(btStart, closes...)

	run := func() ([]byte, error) {
		r, err := NewRunner(cfg, []*Feed{{Symbol: "BTCUSDT", Bars: bars}})
		if err != nil {
			return nil, err
		}
		report, err := r.Run()
		if err != nil {
			return nil, err
		}
		report.RunID = "" // 每次运行的标识不同，剔除后比较
		return json.Marshal(report)
	}

	first, err := run()
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := run()
		if err != nil {
			t.Fatalf("run %d: %v", i+2, err)
		}
		if string(first) != string(again) {
			t.Fatalf("重放结果不一致:\n%s\n%s", first, again)
		}
	}
}

func TestRunMaxDrawdown(t *testing.T) {
	cfg := backtestConfig()
	cfg.FixedSize = 10

	// 开局先亏一笔压低权益，之后盈利抬高峰值，回撤取峰值与谷底之差
	closes := []float64{
		100, 100, 100,
		95, 94, // 多 -> 止损 -10
		100, 100, 100, 100, 100, 100, 100,
		95.5, 98.5, // 多 -> 止盈 +30
		103, 103, 103, 103, 103, 103, 103, 103, 103, 103, 103, 103,
		98, 97,
	}
	feed := &Feed{Symbol: "BTCUSDT", Bars: barsFromCloses(btStart, closes...)}
	r, _ := NewRunner(cfg, []*Feed{feed})
	report, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TotalTrades < 2 {
		t.Fatalf("TotalTrades = %d, 场景构造失败: %+v", report.TotalTrades, report.Trades)
	}
	if report.MaxDrawdown <= 0 {
		t.Fatalf("MaxDrawdown = %v, want > 0", report.MaxDrawdown)
	}
}

// =============================================================================
// Feed 加载与归并
// =============================================================================

func TestLoadCSVFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	content := "timestamp_ms,open,high,low,close,volume\n" +
		"1709546459999,100,101,99,100.5,1000\n" +
		"bad,line,x,y,z,w\n" +
		"1709546519999,100.5,102,100,101.5,1200\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	feed, err := LoadCSVFeed(path, "btc")
	if err != nil {
		t.Fatalf("LoadCSVFeed: %v", err)
	}
	if feed.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", feed.Symbol)
	}
	if len(feed.Bars) != 2 {
		t.Fatalf("bars = %d, want 2（表头与坏行跳过）", len(feed.Bars))
	}
	if feed.Bars[0].Close != 100.5 || feed.Bars[1].Volume != 1200 {
		t.Errorf("bars = %+v", feed.Bars)
	}
}

func TestLoadCSVFeedBOMHeader(t *testing.T) {
	// 导出工具常在文件头写入UTF-8 BOM，表头识别要兼容
	path := filepath.Join(t.TempDir(), "bom.csv")
	content := "\ufefftimestamp_ms,open,high,low,close,volume\n" +
		"1709546459999,100,101,99,100.5,1000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	feed, err := LoadCSVFeed(path, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadCSVFeed: %v", err)
	}
	if len(feed.Bars) != 1 {
		t.Fatalf("bars = %d, want 1（带BOM的表头应被跳过）", len(feed.Bars))
	}
	if feed.Bars[0].Close != 100.5 {
		t.Errorf("bars = %+v", feed.Bars)
	}
}

func TestLoadCSVFeedEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	os.WriteFile(path, []byte("timestamp_ms,open,high,low,close,volume\n"), 0o644)
	if _, err := LoadCSVFeed(path, "BTCUSDT"); err == nil {
		t.Fatal("无可用K线时应报错")
	}
}

func TestMergeBarsOrdering(t *testing.T) {
	btc := &Feed{Symbol: "BTCUSDT", Bars: barsFromCloses(btStart, 100, 100)}
	eth := &Feed{Symbol: "ETHUSDT", Bars: barsFromCloses(btStart.Add(30*time.Second), 50, 50)}

	merged := mergeBars([]*Feed{btc, eth})
	if len(merged) != 4 {
		t.Fatalf("merged = %d, want 4", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].bar.CloseTime < merged[i-1].bar.CloseTime {
			t.Fatalf("归并后时间戳乱序: %v", merged)
		}
	}
	// 交错排列
	want := []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "ETHUSDT"}
	for i, tb := range merged {
		if tb.symbol != want[i] {
			t.Fatalf("顺序 = %v, want %v", merged, want)
		}
	}
}
