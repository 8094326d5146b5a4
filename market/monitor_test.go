package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// 行情监控测试
// =============================================================================

const finalKlineMsg = `{"data":{"e":"kline","s":"BTCUSDT","k":` +
	`{"t":1709546400000,"T":1709546459999,"o":"100","h":"101","l":"99","c":"100.5","v":"1000","x":true}}}`

const openKlineMsg = `{"data":{"e":"kline","s":"BTCUSDT","k":` +
	`{"t":1709546460000,"T":1709546519999,"o":"100.5","h":"102","l":"100","c":"101","v":"500","x":false}}}`

// klineServer 每个连接推送一条收盘K线后立刻断开，逼迫客户端重连。
func klineServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(finalKlineMsg))
		_ = c.Close()
	}))
}

func TestMonitorHandleMessage(t *testing.T) {
	m := NewMonitor([]string{"BTCUSDT"}, "1m")

	t.Run("未收盘K线直接丢弃", func(t *testing.T) {
		if err := m.handleMessage([]byte(openKlineMsg)); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
		if _, err := m.GetCurrentKlines("BTCUSDT"); err == nil {
			t.Error("未收盘K线不应进入缓冲")
		}
	})

	t.Run("收盘K线进入缓冲并投递观测", func(t *testing.T) {
		if err := m.handleMessage([]byte(finalKlineMsg)); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
		klines, err := m.GetCurrentKlines("BTCUSDT")
		if err != nil {
			t.Fatalf("GetCurrentKlines: %v", err)
		}
		if len(klines) != 1 || klines[0].Close != 100.5 {
			t.Errorf("klines = %+v", klines)
		}
		select {
		case tick := <-m.Ticks():
			if tick.Symbol != "BTCUSDT" || tick.Price != 100.5 {
				t.Errorf("tick = %+v", tick)
			}
		default:
			t.Error("收盘K线应投递一个观测")
		}
	})

	t.Run("同一开盘时间的K线覆盖而非追加", func(t *testing.T) {
		if err := m.handleMessage([]byte(finalKlineMsg)); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
		klines, _ := m.GetCurrentKlines("BTCUSDT")
		if len(klines) != 1 {
			t.Errorf("缓冲K线数 = %d, 期望 1", len(klines))
		}
	})
}

func TestMonitorReconnectDoesNotLeakWatchers(t *testing.T) {
	srv := klineServer(t)
	defer srv.Close()

	m := NewMonitor([]string{"BTCUSDT"}, "1m")
	m.baseURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?streams="
	m.reconnectDelay = 5 * time.Millisecond

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 每个连接只给一条K线，收到10个观测即经历了10次重连
	received := 0
	timeout := time.After(10 * time.Second)
	for received < 10 {
		select {
		case _, ok := <-m.Ticks():
			if !ok {
				t.Fatal("Ticks 通道提前关闭")
			}
			received++
		case <-timeout:
			t.Fatalf("超时，仅收到 %d 个观测", received)
		}
	}

	// 连接监视goroutine必须随连接结束退出，不随重连次数累积
	grew := runtime.NumGoroutine() - before
	if grew >= 8 {
		t.Errorf("重连 %d 次后 goroutine 增长 %d，连接监视goroutine疑似泄漏", received, grew)
	}

	cancel()
	for range m.Ticks() {
	}
}
