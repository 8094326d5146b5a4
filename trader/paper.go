package trader

import (
	"context"
	"sync"
)

// PaperGateway 干跑模式下的内存执行网关：记录收到的意图，从不触达真实交易所。
type PaperGateway struct {
	mu      sync.Mutex
	orders  []OrderIntent
	closes  []string
}

// NewPaperGateway 创建纸面网关。
func NewPaperGateway() *PaperGateway {
	return &PaperGateway{}
}

func (g *PaperGateway) SubmitOrder(_ context.Context, intent OrderIntent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, intent)
	return nil
}

func (g *PaperGateway) ClosePosition(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes = append(g.closes, symbol)
	return nil
}

// Orders 返回已提交意图的副本。
func (g *PaperGateway) Orders() []OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]OrderIntent, len(g.orders))
	copy(out, g.orders)
	return out
}

// Closes 返回已收到的平仓指令交易对列表。
func (g *PaperGateway) Closes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.closes))
	copy(out, g.closes)
	return out
}
