package config

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	return db, func() { db.Close() }
}

func sampleRun(id string) *BacktestRun {
	return &BacktestRun{
		ID:             id,
		Symbols:        "BTCUSDT,ETHUSDT",
		StartTime:      time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		InitialBalance: 10000,
		FinalBalance:   10030,
		TotalTrades:    2,
		WinningTrades:  1,
		LosingTrades:   1,
		WinRatePct:     50,
		TotalPnL:       30,
		MaxDrawdown:    10,
	}
}

func TestCreateUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user := &User{ID: "u1", Email: "u1@test.com", PasswordHash: "hash"}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	got, err := db.GetUserByEmail("u1@test.com")
	if err != nil {
		t.Fatalf("查询用户失败: %v", err)
	}
	if got == nil || got.ID != "u1" || got.PasswordHash != "hash" {
		t.Fatalf("用户不匹配: %+v", got)
	}

	// 邮箱唯一约束
	dup := &User{ID: "u2", Email: "u1@test.com", PasswordHash: "hash2"}
	if err := db.CreateUser(dup); err == nil {
		t.Error("期望因邮箱重复失败，但实际成功了")
	}

	missing, err := db.GetUserByEmail("nobody@test.com")
	if err != nil || missing != nil {
		t.Fatalf("不存在的用户应返回 (nil, nil)，got (%+v, %v)", missing, err)
	}
}

func TestSaveBacktestRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.SaveBacktestRun(sampleRun("run-1")); err != nil {
		t.Fatalf("保存回测失败: %v", err)
	}

	got, err := db.GetBacktestRun("run-1")
	if err != nil {
		t.Fatalf("查询回测失败: %v", err)
	}
	if got == nil || got.TotalPnL != 30 || got.Symbols != "BTCUSDT,ETHUSDT" {
		t.Fatalf("回测记录不匹配: %+v", got)
	}
	if !got.StartTime.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", got.StartTime)
	}

	missing, err := db.GetBacktestRun("nope")
	if err != nil || missing != nil {
		t.Fatalf("不存在的回测应返回 (nil, nil)，got (%+v, %v)", missing, err)
	}

	db.SaveBacktestRun(sampleRun("run-2"))
	runs, err := db.GetBacktestRuns()
	if err != nil {
		t.Fatalf("列表失败: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("期望2条记录，实际%d条", len(runs))
	}
}

func TestSaveBacktestTrades(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.SaveBacktestRun(sampleRun("run-1")); err != nil {
		t.Fatalf("保存回测失败: %v", err)
	}

	trades := []*BacktestTrade{
		{
			Symbol: "BTCUSDT", Side: "long",
			EntryPrice: 95, ExitPrice: 94,
			EntryTime: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
			ExitTime:  time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC),
			Quantity:  10, PnL: -10, PnLPct: -1.05, ExitReason: "STOP_LOSS",
		},
		{
			Symbol: "BTCUSDT", Side: "long",
			EntryPrice: 95.5, ExitPrice: 98.5,
			EntryTime: time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC),
			ExitTime:  time.Date(2024, 3, 4, 11, 10, 0, 0, time.UTC),
			Quantity:  10, PnL: 30, PnLPct: 3.14, ExitReason: "TAKE_PROFIT",
		},
	}
	if err := db.SaveBacktestTrades("run-1", trades); err != nil {
		t.Fatalf("保存成交失败: %v", err)
	}

	got, err := db.GetBacktestTrades("run-1")
	if err != nil {
		t.Fatalf("查询成交失败: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望2笔成交，实际%d笔", len(got))
	}
	if got[0].ExitReason != "STOP_LOSS" || got[1].ExitReason != "TAKE_PROFIT" {
		t.Fatalf("成交顺序或内容不匹配: %+v %+v", got[0], got[1])
	}
}

// TestSaveBacktestTrades_WithInvalidRunID 外键约束：run_id 必须存在
func TestSaveBacktestTrades_WithInvalidRunID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	trades := []*BacktestTrade{{
		Symbol: "BTCUSDT", Side: "long",
		EntryPrice: 95, ExitPrice: 94,
		EntryTime: time.Now(), ExitTime: time.Now(),
		Quantity: 1, PnL: -1, PnLPct: -1, ExitReason: "STOP_LOSS",
	}}
	err := db.SaveBacktestTrades("non_existent_run", trades)
	if err == nil {
		t.Error("期望因 foreign key 约束失败，但实际成功了")
	} else {
		t.Logf("✓ 符合预期的错误: %v", err)
	}
}
