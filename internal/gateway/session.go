package gateway

import (
	"context"

	"trades-cli/internal/order"
)

// Session 为与券商网关的一次连接，由调用方显式持有并传递。
type Session interface {
	// AccountValues 返回账户汇总字段。
	AccountValues(ctx context.Context) ([]AccountValue, error)
	// ContractDetails 返回标的合约信息与交易时段。
	ContractDetails(ctx context.Context, inst order.Instrument) (ContractDetails, error)
	// SnapshotQuote 返回一次性报价快照。
	SnapshotQuote(ctx context.Context, inst order.Instrument) (Quote, error)
	// HistoricalBars 返回按时间升序排列的历史K线。
	HistoricalBars(ctx context.Context, inst order.Instrument, req HistoricalRequest) ([]Bar, error)
	// Positions 返回当前持仓。
	Positions(ctx context.Context) ([]Position, error)
	// SubmitOrder 以本地关联令牌提交订单，网关编号通过 Events 异步返回。
	SubmitOrder(ctx context.Context, token string, spec order.Spec) error
	// CancelOrder 撤销指定编号的订单，撤单结果通过 Events 异步返回。
	CancelOrder(ctx context.Context, id string) error
	// OpenOrders 返回网关上的未完成订单。
	OpenOrders(ctx context.Context) ([]OrderSnapshot, error)
	// WhatIf 评估订单对保证金的影响，不实际下单。
	WhatIf(ctx context.Context, spec order.Spec) (MarginImpact, error)
	// Events 返回订单状态事件流，至少投递一次且可能乱序，Close 后关闭。
	Events() <-chan Event
	// Close 断开连接。
	Close() error
}
