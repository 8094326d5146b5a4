package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBaseURL        = "wss://fstream.binance.com/stream?streams="
	wsReadTimeout    = 90 * time.Second
	wsReconnectDelay = 3 * time.Second
	klineBufferSize  = 500
	tickChannelSize  = 1024
)

// Monitor 订阅K线推送，维护每个交易对的近期K线缓冲，
// 并在K线收盘时向 Ticks 通道投递一个观测。
type Monitor struct {
	symbols  []string
	interval string

	// 测试时可替换为本地服务/更短的重连间隔
	baseURL        string
	reconnectDelay time.Duration

	mu      sync.RWMutex
	klines  map[string][]Kline
	started bool

	ticks chan Tick
}

// NewMonitor 创建行情监控。interval 为决策周期（如 1m/5m）。
func NewMonitor(symbols []string, interval string) *Monitor {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, Normalize(s))
	}
	return &Monitor{
		symbols:        normalized,
		interval:       interval,
		baseURL:        wsBaseURL,
		reconnectDelay: wsReconnectDelay,
		klines:         make(map[string][]Kline),
		ticks:          make(chan Tick, tickChannelSize),
	}
}

// Ticks 返回收盘K线观测通道。
func (m *Monitor) Ticks() <-chan Tick { return m.ticks }

// Start 启动读循环；连接断开后自动重连，ctx 取消后退出并关闭 Ticks。
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.ticks)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := m.runOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("monitor: stream error, reconnecting in %v: %v", m.reconnectDelay, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.reconnectDelay):
			}
		}
	}()
	return nil
}

func (m *Monitor) streamURL() string {
	streams := make([]string, 0, len(m.symbols))
	for _, s := range m.symbols {
		streams = append(streams, strings.ToLower(s)+"@kline_"+m.interval)
	}
	return m.baseURL + strings.Join(streams, "/")
}

func (m *Monitor) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// done 保证本次连接结束时监视goroutine一并退出，重连不会累积泄漏
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := m.handleMessage(raw); err != nil {
			// 单条消息解析失败不中断整条流
			log.Printf("monitor: drop message: %v", err)
		}
	}
}

// combinedKlineEvent 组合流的K线推送结构
type combinedKlineEvent struct {
	Data struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Final     bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (m *Monitor) handleMessage(raw []byte) error {
	var evt combinedKlineEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return fmt.Errorf("unmarshal kline event: %w", err)
	}
	if evt.Data.EventType != "kline" {
		return nil
	}

	open, err := parseFloat(evt.Data.Kline.Open)
	if err != nil {
		return err
	}
	high, err := parseFloat(evt.Data.Kline.High)
	if err != nil {
		return err
	}
	low, err := parseFloat(evt.Data.Kline.Low)
	if err != nil {
		return err
	}
	closePrice, err := parseFloat(evt.Data.Kline.Close)
	if err != nil {
		return err
	}
	volume, err := parseFloat(evt.Data.Kline.Volume)
	if err != nil {
		return err
	}

	k := Kline{
		OpenTime:  evt.Data.Kline.OpenTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: evt.Data.Kline.CloseTime,
	}
	symbol := Normalize(evt.Data.Symbol)

	// 只有收盘K线才进入缓冲并触发决策，未收盘的更新直接丢弃
	if !evt.Data.Kline.Final {
		return nil
	}

	m.appendKline(symbol, k)

	select {
	case m.ticks <- TickFromKline(symbol, k):
	default:
		// 消费端落后时丢弃，决不阻塞读循环
		log.Printf("monitor: tick channel full, dropping %s bar", symbol)
	}
	return nil
}

func (m *Monitor) appendKline(symbol string, k Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.klines[symbol]
	if n := len(buf); n > 0 && buf[n-1].OpenTime == k.OpenTime {
		buf[n-1] = k
	} else {
		buf = append(buf, k)
	}
	if len(buf) > klineBufferSize {
		buf = buf[len(buf)-klineBufferSize:]
	}
	m.klines[symbol] = buf
}

// GetCurrentKlines 返回某交易对当前缓冲的收盘K线（升序副本）。
func (m *Monitor) GetCurrentKlines(symbol string) ([]Kline, error) {
	symbol = Normalize(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf, ok := m.klines[symbol]
	if !ok || len(buf) == 0 {
		return nil, fmt.Errorf("no klines buffered for %s", symbol)
	}
	out := make([]Kline, len(buf))
	copy(out, buf)
	return out, nil
}

// Preload 用REST历史数据预热K线缓冲，避免冷启动时指标长期不可用。
func (m *Monitor) Preload(ctx context.Context, loader *HistoryLoader, lookback time.Duration) error {
	end := time.Now().UTC()
	start := end.Add(-lookback)
	for _, symbol := range m.symbols {
		klines, err := loader.Load(ctx, symbol, m.interval, start, end)
		if err != nil {
			return fmt.Errorf("preload %s: %w", symbol, err)
		}
		m.mu.Lock()
		if len(klines) > klineBufferSize {
			klines = klines[len(klines)-klineBufferSize:]
		}
		m.klines[symbol] = klines
		m.mu.Unlock()
	}
	return nil
}
