package execution

import (
	"context"

	"trades-cli/internal/order"
)

// Submitter 为下单所需的最小网关能力。
type Submitter interface {
	SubmitOrder(ctx context.Context, token string, spec order.Spec) error
}

// Trader 抽象执行器接口，方便切换真实或模拟下单。
type Trader interface {
	Submit(ctx context.Context, gw Submitter, spec order.Spec) (order.Handle, error)
	SubmitBatch(ctx context.Context, gw Submitter, specs []order.Spec) (BatchResult, error)
}

var _ Trader = (*Executor)(nil)
