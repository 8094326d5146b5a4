package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DecisionRecord 单次策略评估的落盘记录。
// 只记录引擎已经做出的结论，绝不反过来影响决策路径。
type DecisionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"` // ENTER_LONG / ENTER_SHORT / EXIT，空=无动作
	Price     float64   `json:"price"`
	VWAP      float64   `json:"vwap,omitempty"`
	Deviation float64   `json:"deviation,omitempty"`

	// 开仓字段
	Side       string  `json:"side,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`

	// 平仓字段
	ExitReason string  `json:"exit_reason,omitempty"`
	PnL        float64 `json:"pnl,omitempty"`
	PnLPct     float64 `json:"pnl_pct,omitempty"`

	// 被压制的入场（观测用）
	GateReason    string `json:"gate_reason,omitempty"`
	FilterBlocked string `json:"filter_blocked,omitempty"`

	Balance  float64 `json:"balance"`
	DailyPnL float64 `json:"daily_pnl"`
}

// IDecisionLogger 决策日志记录器接口
type IDecisionLogger interface {
	// LogDecision 追加一条决策记录
	LogDecision(record *DecisionRecord) error
	// GetLatestRecords 获取最近N条记录（按时间正序：从旧到新）
	GetLatestRecords(n int) ([]*DecisionRecord, error)
	// GetRecordsByDate 获取指定日期的所有记录
	GetRecordsByDate(date time.Time) ([]*DecisionRecord, error)
	// CleanOldRecords 清理N天前的旧记录
	CleanOldRecords(days int) error
}

// DecisionLogger 把决策记录按天追加到 JSONL 文件。
// 文件名形如 decisions_2024-03-04.jsonl，一行一条记录。
type DecisionLogger struct {
	mu  sync.Mutex
	dir string
}

// NewDecisionLogger 创建决策日志记录器，目录不存在时自动创建。
func NewDecisionLogger(dir string) *DecisionLogger {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("创建决策日志目录失败")
	}
	return &DecisionLogger{dir: dir}
}

func (l *DecisionLogger) fileForDate(date time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("decisions_%s.jsonl", date.Format("2006-01-02")))
}

// LogDecision 追加一条决策记录。
func (l *DecisionLogger) LogDecision(record *DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}

	f, err := os.OpenFile(l.fileForDate(record.Timestamp), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write decision record: %w", err)
	}
	return nil
}

// GetRecordsByDate 读取指定日期的全部记录。文件不存在时返回空切片。
func (l *DecisionLogger) GetRecordsByDate(date time.Time) ([]*DecisionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readFile(l.fileForDate(date))
}

func (l *DecisionLogger) readFile(path string) ([]*DecisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []*DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DecisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// 跳过损坏的行，不让单行问题毁掉整个读取
			continue
		}
		records = append(records, &rec)
	}
	return records, scanner.Err()
}

// GetLatestRecords 跨文件取最近N条记录，按时间正序返回。
func (l *DecisionLogger) GetLatestRecords(n int) ([]*DecisionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}

	var records []*DecisionRecord
	// 从最新的文件往回读，凑够N条为止
	for i := len(files) - 1; i >= 0 && len(records) < n; i-- {
		recs, err := l.readFile(files[i])
		if err != nil {
			return nil, err
		}
		records = append(recs, records...)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// CleanOldRecords 删除N天之前的日志文件。
func (l *DecisionLogger) CleanOldRecords(days int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	files, err := l.logFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		name := filepath.Base(path)
		date := strings.TrimSuffix(strings.TrimPrefix(name, "decisions_"), ".jsonl")
		if date < cutoff {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *DecisionLogger) logFiles() ([]string, error) {
	pattern := filepath.Join(l.dir, "decisions_*.jsonl")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Setup 初始化全局 zerolog：人类可读输出到stderr，level 形如 debug/info/warn。
func Setup(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
}
