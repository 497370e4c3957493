package execution

import (
	"errors"
	"time"

	"go.uber.org/multierr"

	"trades-cli/internal/order"
)

// ErrEmptyBatch 表示批量下单没有任何订单。
var ErrEmptyBatch = errors.New("execution: 批量订单为空")

// Options 控制下单重试。
type Options struct {
	MaxRetry      int
	RetryWait     time.Duration
	SubmitTimeout time.Duration
}

// Outcome 为批量中单个订单的结果。
// 成功或结果未知时 Token 与 Order 为登记时的订单快照。
type Outcome struct {
	Index int
	Spec  order.Spec
	Token string
	Order order.Order
	Err   error
}

// OK 判断该订单是否提交成功。
func (o Outcome) OK() bool {
	return o.Err == nil
}

// BatchResult 与输入一一对应，顺序一致。
type BatchResult struct {
	Outcomes []Outcome
}

// Succeeded 返回提交成功的条目。
func (r BatchResult) Succeeded() []Outcome {
	return r.filter(true)
}

// Failed 返回提交失败的条目。
func (r BatchResult) Failed() []Outcome {
	return r.filter(false)
}

// Err 合并所有失败条目的错误，全部成功时为 nil。
func (r BatchResult) Err() error {
	var err error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			err = multierr.Append(err, o.Err)
		}
	}
	return err
}

func (r BatchResult) filter(ok bool) []Outcome {
	out := make([]Outcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.OK() == ok {
			out = append(out, o)
		}
	}
	return out
}
