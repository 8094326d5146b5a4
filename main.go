package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"scalper/api"
	"scalper/backtest"
	"scalper/config"
	"scalper/logger"
	"scalper/manager"
	"scalper/market"
	"scalper/trader"
)

// ConfigFile 是 config.json 的完整结构：策略配置加上入口层自己的设置。
type ConfigFile struct {
	config.Config

	APIServerPort  int      `json:"api_server_port"`  // 0=不启动API
	CORSOrigins    []string `json:"cors_origins"`     // 空=放行任意来源
	DatabasePath   string   `json:"database_path"`    // 空=./scalper.db
	DecisionLogDir string   `json:"decision_log_dir"` // 空=不写决策日志
}

// loadConfigFile 从工作目录读取 config.json，以默认值为底做增量覆盖。
func loadConfigFile() (*ConfigFile, error) {
	data, err := os.ReadFile("config.json")
	if err != nil {
		return nil, fmt.Errorf("读取 config.json 失败: %w", err)
	}

	cf := &ConfigFile{Config: config.Default()}
	if err := json.Unmarshal(data, cf); err != nil {
		return nil, fmt.Errorf("解析 config.json 失败: %w", err)
	}
	if err := cf.Config.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cf, nil
}

func main() {
	// .env 不存在不算错误
	_ = godotenv.Load()
	logger.Setup(os.Getenv("LOG_LEVEL"))

	mode := flag.String("mode", "live", "运行模式: live | backtest")
	csvFlag := flag.String("csv", "", "回测CSV数据，格式 SYMBOL=path[,SYMBOL2=path2]")
	startFlag := flag.String("start", "", "回测起始时间 (RFC3339)，无CSV时从交易所拉取")
	endFlag := flag.String("end", "", "回测结束时间 (RFC3339)")
	flag.Parse()

	cf, err := loadConfigFile()
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	switch *mode {
	case "backtest":
		if err := runBacktest(cf, *csvFlag, *startFlag, *endFlag); err != nil {
			log.Fatal().Err(err).Msg("回测失败")
		}
	case "live":
		if err := runLive(cf); err != nil {
			log.Fatal().Err(err).Msg("运行失败")
		}
	default:
		log.Fatal().Str("mode", *mode).Msg("未知运行模式")
	}
}

func loadBacktestFeeds(cf *ConfigFile, csvSpec, startStr, endStr string) ([]*backtest.Feed, error) {
	if csvSpec != "" {
		paths := map[string]string{}
		for _, pair := range strings.Split(csvSpec, ",") {
			symbol, path, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("无效的 -csv 片段 %q", pair)
			}
			paths[market.Normalize(symbol)] = path
		}
		feeds := make([]*backtest.Feed, 0, len(cf.Symbols))
		for _, symbol := range cf.Symbols {
			path, ok := paths[market.Normalize(symbol)]
			if !ok {
				return nil, fmt.Errorf("缺少 %s 的CSV数据", symbol)
			}
			feed, err := backtest.LoadCSVFeed(path, symbol)
			if err != nil {
				return nil, err
			}
			feeds = append(feeds, feed)
		}
		return feeds, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, fmt.Errorf("无效的 -start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return nil, fmt.Errorf("无效的 -end: %w", err)
	}
	loader := market.NewHistoryLoader()
	ctx := context.Background()
	feeds := make([]*backtest.Feed, 0, len(cf.Symbols))
	for _, symbol := range cf.Symbols {
		feed, err := backtest.LoadBinanceFeed(ctx, loader, symbol, cf.Timeframe, start, end)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

func runBacktest(cf *ConfigFile, csvSpec, startStr, endStr string) error {
	feeds, err := loadBacktestFeeds(cf, csvSpec, startStr, endStr)
	if err != nil {
		return err
	}

	runner, err := backtest.NewRunner(cf.Config, feeds)
	if err != nil {
		return err
	}
	if cf.DecisionLogDir != "" {
		runner.SetDecisionLogger(logger.NewDecisionLogger(cf.DecisionLogDir))
	}

	report, err := runner.Run()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runLive(cf *ConfigFile) error {
	gateway := trader.NewPaperGateway()
	tm, err := manager.NewTraderManager(cf.Config, gateway)
	if err != nil {
		return err
	}
	if cf.DecisionLogDir != "" {
		tm.SetDecisionLogger(logger.NewDecisionLogger(cf.DecisionLogDir))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tm.Start(ctx); err != nil {
		return err
	}

	if port := apiPort(cf); port > 0 {
		dbPath := cf.DatabasePath
		if dbPath == "" {
			dbPath = "scalper.db"
		}
		db, err := config.NewDatabase(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		srv, err := api.NewServer(db, cf.Config, os.Getenv("JWT_SECRET"), cf.CORSOrigins)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Run(port); err != nil {
				log.Error().Err(err).Msg("API服务退出")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("收到退出信号，停止交易")

	tm.Stop()
	return nil
}

// apiPort 环境变量 API_PORT 优先于配置文件。
func apiPort(cf *ConfigFile) int {
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	return cf.APIServerPort
}
