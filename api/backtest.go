package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"scalper/backtest"
	"scalper/config"
	"scalper/market"
)

// BacktestRequest 发起一次回测。
// 数据来源二选一：csv_files 给出每个交易对的本地CSV路径；
// 否则按 start_time/end_time 从交易所历史接口拉取。
type BacktestRequest struct {
	Symbols   []string          `json:"symbols" binding:"required"`
	Timeframe string            `json:"timeframe"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	CSVFiles  map[string]string `json:"csv_files"`

	// 策略参数的增量覆盖，零值字段不生效
	EntryThreshold float64 `json:"entry_threshold"`
	VWAPPeriod     int     `json:"vwap_period"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	FixedSize      float64 `json:"fixed_size"`
	MaxDailyLoss   float64 `json:"max_daily_loss"`
}

func (s *Server) backtestConfig(req BacktestRequest) config.Config {
	cfg := s.baseCfg
	cfg.Symbols = req.Symbols
	if req.Timeframe != "" {
		cfg.Timeframe = req.Timeframe
	}
	if req.EntryThreshold > 0 {
		cfg.EntryThreshold = req.EntryThreshold
	}
	if req.VWAPPeriod > 0 {
		cfg.VWAPPeriod = req.VWAPPeriod
	}
	if req.StopLossPct > 0 {
		cfg.StopLossPct = req.StopLossPct
	}
	if req.TakeProfitPct > 0 {
		cfg.TakeProfitPct = req.TakeProfitPct
	}
	if req.FixedSize > 0 {
		cfg.FixedSize = req.FixedSize
	}
	if req.MaxDailyLoss > 0 {
		cfg.MaxDailyLoss = req.MaxDailyLoss
	}
	return cfg
}

func (s *Server) loadFeeds(c *gin.Context, req BacktestRequest, cfg config.Config) ([]*backtest.Feed, bool) {
	feeds := make([]*backtest.Feed, 0, len(req.Symbols))

	if len(req.CSVFiles) > 0 {
		for _, symbol := range req.Symbols {
			path, ok := req.CSVFiles[symbol]
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing csv file for " + symbol})
				return nil, false
			}
			feed, err := backtest.LoadCSVFeed(path, symbol)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return nil, false
			}
			feeds = append(feeds, feed)
		}
		return feeds, true
	}

	if !req.EndTime.After(req.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_time/end_time required when csv_files is empty"})
		return nil, false
	}
	loader := market.NewHistoryLoader()
	for _, symbol := range req.Symbols {
		feed, err := backtest.LoadBinanceFeed(c.Request.Context(), loader, symbol, cfg.Timeframe, req.StartTime, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return nil, false
		}
		feeds = append(feeds, feed)
	}
	return feeds, true
}

// handleCreateBacktest 加载数据并异步执行回测；结果落库后可通过查询接口取回。
func (s *Server) handleCreateBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.backtestConfig(req)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feeds, ok := s.loadFeeds(c, req, cfg)
	if !ok {
		return
	}

	runner, err := backtest.NewRunner(cfg, feeds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		report, err := runner.Run()
		if err != nil {
			log.Error().Err(err).Str("run_id", runner.RunID()).Msg("回测执行失败")
			return
		}
		if err := s.persistReport(report); err != nil {
			log.Error().Err(err).Str("run_id", report.RunID).Msg("回测结果落库失败")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runner.RunID()})
}

func (s *Server) persistReport(report *backtest.Report) error {
	run := &config.BacktestRun{
		ID:             report.RunID,
		Symbols:        strings.Join(report.Symbols, ","),
		StartTime:      report.StartTime,
		EndTime:        report.EndTime,
		InitialBalance: report.InitialBalance,
		FinalBalance:   report.FinalBalance,
		TotalTrades:    report.TotalTrades,
		WinningTrades:  report.WinningTrades,
		LosingTrades:   report.LosingTrades,
		WinRatePct:     report.WinRatePct,
		TotalPnL:       report.TotalPnL,
		MaxDrawdown:    report.MaxDrawdown,
	}
	if err := s.db.SaveBacktestRun(run); err != nil {
		return err
	}

	trades := make([]*config.BacktestTrade, 0, len(report.Trades))
	for _, t := range report.Trades {
		trades = append(trades, &config.BacktestTrade{
			Symbol:     t.Symbol,
			Side:       t.Side,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			Quantity:   t.Quantity,
			PnL:        t.PnL,
			PnLPct:     t.PnLPct,
			ExitReason: t.ExitReason,
		})
	}
	return s.db.SaveBacktestTrades(report.RunID, trades)
}

func (s *Server) handleListBacktests(c *gin.Context) {
	runs, err := s.db.GetBacktestRuns()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if runs == nil {
		runs = []*config.BacktestRun{}
	}
	c.JSON(http.StatusOK, runs)
}

// handleGetBacktest 运行尚未结束（或不存在）时返回404。
func (s *Server) handleGetBacktest(c *gin.Context) {
	run, err := s.db.GetBacktestRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "code": "RUN_NOT_READY"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetBacktestTrades(c *gin.Context) {
	id := c.Param("id")
	run, err := s.db.GetBacktestRun(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "code": "RUN_NOT_READY"})
		return
	}
	trades, err := s.db.GetBacktestTrades(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if trades == nil {
		trades = []*config.BacktestTrade{}
	}
	c.JSON(http.StatusOK, trades)
}
