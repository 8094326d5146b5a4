package trader

import "context"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceDay TimeInForce = "day"
)

// OrderIntent 决策引擎产出的下单意图。
// 核心只生成意图，不直接对接任何交易所协议；落地由执行网关负责。
type OrderIntent struct {
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	OrderType   OrderType   `json:"order_type"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force"`
}

// ExecutionGateway 执行网关。提交失败只做日志记录，
// 不回滚策略/风控状态，也不在决策循环里阻塞重试。
type ExecutionGateway interface {
	// SubmitOrder 提交开仓意图。
	SubmitOrder(ctx context.Context, intent OrderIntent) error
	// ClosePosition 按交易对整体平仓。
	ClosePosition(ctx context.Context, symbol string) error
}
