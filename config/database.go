package config

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database SQLite持久层：用户、回测运行索引、回测成交明细。
// 纯Go驱动，无cgo依赖。
type Database struct {
	db *sql.DB
}

// User 系统用户
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// BacktestRun 回测运行的索引记录（汇总统计），明细在 backtest_trades。
type BacktestRun struct {
	ID             string    `json:"id"`
	Symbols        string    `json:"symbols"` // 逗号分隔
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	TotalTrades    int       `json:"total_trades"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	WinRatePct     float64   `json:"win_rate_pct"`
	TotalPnL       float64   `json:"total_pnl"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	CreatedAt      time.Time `json:"created_at"`
}

// BacktestTrade 回测中的单笔成交
type BacktestTrade struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	ExitReason string    `json:"exit_reason"`
}

// NewDatabase 打开（必要时创建）数据库并初始化表结构。
func NewDatabase(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc驱动不支持多连接并发写
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backtest_runs (
		id              TEXT PRIMARY KEY,
		symbols         TEXT NOT NULL,
		start_time      TIMESTAMP NOT NULL,
		end_time        TIMESTAMP NOT NULL,
		initial_balance REAL NOT NULL,
		final_balance   REAL NOT NULL,
		total_trades    INTEGER NOT NULL,
		winning_trades  INTEGER NOT NULL,
		losing_trades   INTEGER NOT NULL,
		win_rate_pct    REAL NOT NULL,
		total_pnl       REAL NOT NULL,
		max_drawdown    REAL NOT NULL,
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backtest_trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		entry_time  TIMESTAMP NOT NULL,
		exit_time   TIMESTAMP NOT NULL,
		quantity    REAL NOT NULL,
		pnl         REAL NOT NULL,
		pnl_pct     REAL NOT NULL,
		exit_reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateUser 创建用户。邮箱重复时返回错误。
func (d *Database) CreateUser(u *User) error {
	_, err := d.db.Exec(
		`INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail 按邮箱查用户，不存在时返回 (nil, nil)。
func (d *Database) GetUserByEmail(email string) (*User, error) {
	var u User
	err := d.db.QueryRow(
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SaveBacktestRun 保存回测运行索引。
func (d *Database) SaveBacktestRun(run *BacktestRun) error {
	_, err := d.db.Exec(
		`INSERT INTO backtest_runs
		 (id, symbols, start_time, end_time, initial_balance, final_balance,
		  total_trades, winning_trades, losing_trades, win_rate_pct, total_pnl, max_drawdown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbols, run.StartTime, run.EndTime,
		run.InitialBalance, run.FinalBalance,
		run.TotalTrades, run.WinningTrades, run.LosingTrades,
		run.WinRatePct, run.TotalPnL, run.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("save backtest run: %w", err)
	}
	return nil
}

// GetBacktestRuns 按创建时间倒序列出全部回测运行。
func (d *Database) GetBacktestRuns() ([]*BacktestRun, error) {
	rows, err := d.db.Query(
		`SELECT id, symbols, start_time, end_time, initial_balance, final_balance,
		        total_trades, winning_trades, losing_trades, win_rate_pct, total_pnl,
		        max_drawdown, created_at
		 FROM backtest_runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*BacktestRun
	for rows.Next() {
		var r BacktestRun
		if err := rows.Scan(&r.ID, &r.Symbols, &r.StartTime, &r.EndTime,
			&r.InitialBalance, &r.FinalBalance,
			&r.TotalTrades, &r.WinningTrades, &r.LosingTrades,
			&r.WinRatePct, &r.TotalPnL, &r.MaxDrawdown, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// GetBacktestRun 按ID查回测运行，不存在时返回 (nil, nil)。
func (d *Database) GetBacktestRun(id string) (*BacktestRun, error) {
	var r BacktestRun
	err := d.db.QueryRow(
		`SELECT id, symbols, start_time, end_time, initial_balance, final_balance,
		        total_trades, winning_trades, losing_trades, win_rate_pct, total_pnl,
		        max_drawdown, created_at
		 FROM backtest_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Symbols, &r.StartTime, &r.EndTime,
		&r.InitialBalance, &r.FinalBalance,
		&r.TotalTrades, &r.WinningTrades, &r.LosingTrades,
		&r.WinRatePct, &r.TotalPnL, &r.MaxDrawdown, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backtest run: %w", err)
	}
	return &r, nil
}

// SaveBacktestTrades 在单个事务内批量写入成交明细。
// run_id 必须已存在于 backtest_runs，外键保证不会出现孤儿成交。
func (d *Database) SaveBacktestTrades(runID string, trades []*BacktestTrade) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO backtest_trades
		 (run_id, symbol, side, entry_price, exit_price, entry_time, exit_time,
		  quantity, pnl, pnl_pct, exit_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.Exec(runID, t.Symbol, t.Side,
			t.EntryPrice, t.ExitPrice, t.EntryTime, t.ExitTime,
			t.Quantity, t.PnL, t.PnLPct, t.ExitReason); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	return tx.Commit()
}

// GetBacktestTrades 按时间顺序取某次回测的全部成交。
func (d *Database) GetBacktestTrades(runID string) ([]*BacktestTrade, error) {
	rows, err := d.db.Query(
		`SELECT id, run_id, symbol, side, entry_price, exit_price, entry_time, exit_time,
		        quantity, pnl, pnl_pct, exit_reason
		 FROM backtest_trades WHERE run_id = ? ORDER BY exit_time, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []*BacktestTrade
	for rows.Next() {
		var t BacktestTrade
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Side,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.Quantity, &t.PnL, &t.PnLPct, &t.ExitReason); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
