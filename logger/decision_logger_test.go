package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *DecisionLogger {
	t.Helper()
	return NewDecisionLogger(t.TempDir())
}

func record(ts time.Time, symbol, action string) *DecisionRecord {
	return &DecisionRecord{
		Timestamp: ts,
		Symbol:    symbol,
		Action:    action,
		Price:     95,
		Balance:   10000,
	}
}

func TestLogDecisionRoundTrip(t *testing.T) {
	l := newTestLogger(t)
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	if err := l.LogDecision(record(ts, "BTCUSDT", "ENTER_LONG")); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}
	if err := l.LogDecision(record(ts.Add(time.Minute), "BTCUSDT", "EXIT")); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}

	records, err := l.GetRecordsByDate(ts)
	if err != nil {
		t.Fatalf("GetRecordsByDate: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Action != "ENTER_LONG" || records[1].Action != "EXIT" {
		t.Fatalf("顺序错误: %+v", records)
	}
}

func TestGetRecordsByDateMissingFile(t *testing.T) {
	l := newTestLogger(t)
	records, err := l.GetRecordsByDate(time.Now())
	if err != nil || records != nil {
		t.Fatalf("缺失文件应返回 (nil, nil)，got (%v, %v)", records, err)
	}
}

func TestGetLatestRecordsAcrossDays(t *testing.T) {
	l := newTestLogger(t)
	day1 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	for i := 0; i < 3; i++ {
		l.LogDecision(record(day1.Add(time.Duration(i)*time.Minute), "BTCUSDT", ""))
	}
	for i := 0; i < 2; i++ {
		l.LogDecision(record(day2.Add(time.Duration(i)*time.Minute), "ETHUSDT", ""))
	}

	records, err := l.GetLatestRecords(4)
	if err != nil {
		t.Fatalf("GetLatestRecords: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	// 正序：最后两条应来自第二天
	if records[2].Symbol != "ETHUSDT" || records[3].Symbol != "ETHUSDT" {
		t.Fatalf("跨文件顺序错误: %+v", records)
	}
}

func TestCleanOldRecords(t *testing.T) {
	l := newTestLogger(t)
	old := time.Now().AddDate(0, 0, -30)
	recent := time.Now()

	l.LogDecision(record(old, "BTCUSDT", ""))
	l.LogDecision(record(recent, "BTCUSDT", ""))

	if err := l.CleanOldRecords(7); err != nil {
		t.Fatalf("CleanOldRecords: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(l.dir, "decisions_*.jsonl"))
	if len(files) != 1 {
		t.Fatalf("清理后应剩1个文件，实际%d个", len(files))
	}
	if _, err := os.Stat(l.fileForDate(old)); !os.IsNotExist(err) {
		t.Fatal("旧文件应已删除")
	}
}

func TestSkipCorruptLines(t *testing.T) {
	l := newTestLogger(t)
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	l.LogDecision(record(ts, "BTCUSDT", ""))

	// 往文件里塞一行坏数据
	f, err := os.OpenFile(l.fileForDate(ts), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	l.LogDecision(record(ts.Add(time.Minute), "BTCUSDT", ""))

	records, err := l.GetRecordsByDate(ts)
	if err != nil {
		t.Fatalf("GetRecordsByDate: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("坏行应被跳过，records = %d, want 2", len(records))
	}
}
