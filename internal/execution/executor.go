package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-cli/internal/gateway"
	"trades-cli/internal/metrics"
	"trades-cli/internal/order"
)

const (
	defaultMaxRetry      = 3
	defaultSubmitTimeout = 5 * time.Second
)

// Executor 负责登记并提交订单。
type Executor struct {
	tracker       *order.Tracker
	logger        *zap.Logger
	metrics       *metrics.Metrics
	maxRetry      int
	retryWait     time.Duration
	submitTimeout time.Duration
}

// NewExecutor 创建执行器，m 可以为 nil。
func NewExecutor(tracker *order.Tracker, opts Options, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = defaultMaxRetry
	}
	if opts.RetryWait < 0 {
		opts.RetryWait = 0
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	return &Executor{
		tracker:       tracker,
		logger:        logger,
		metrics:       m,
		maxRetry:      opts.MaxRetry,
		retryWait:     opts.RetryWait,
		submitTimeout: opts.SubmitTimeout,
	}
}

// Submit 生成关联令牌并登记订单后提交。
// 网关明确拒绝时撤销登记；超时或连接中断时结果未知，保留登记并返回句柄和 order.ErrOutcomeUnknown。
func (e *Executor) Submit(ctx context.Context, gw Submitter, spec order.Spec) (order.Handle, error) {
	token := e.tracker.NewToken()
	handle, err := e.tracker.RegisterPending(spec, token)
	if err != nil {
		return order.Handle{}, fmt.Errorf("execution: 登记订单失败: %w", err)
	}

	err = e.submitOrder(ctx, gw, token, spec)
	e.metrics.RecordSubmission(err)
	switch {
	case err == nil:
		return handle, nil
	case gateway.IsUncertain(err):
		e.logger.Warn("下单结果未知，保留待定订单等待网关回报",
			zap.String("token", token),
			zap.String("spec", spec.String()),
			zap.Error(err),
		)
		return handle, fmt.Errorf("execution: token %s: %w: %w", token, order.ErrOutcomeUnknown, err)
	default:
		e.tracker.Discard(token)
		return order.Handle{}, err
	}
}

// SubmitBatch 逐个提交订单，单个失败不影响其余订单，也不回滚已成功的订单。
func (e *Executor) SubmitBatch(ctx context.Context, gw Submitter, specs []order.Spec) (BatchResult, error) {
	if len(specs) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}

	result := BatchResult{Outcomes: make([]Outcome, len(specs))}
	for i, spec := range specs {
		outcome := Outcome{Index: i, Spec: spec}
		handle, err := e.Submit(ctx, gw, spec)
		if handle.Token != "" {
			outcome.Token = handle.Token
			outcome.Order, _ = e.tracker.Pending(handle.Token)
		}
		if err != nil {
			outcome.Err = fmt.Errorf("第 %d 笔 %s: %w", i+1, spec, err)
			e.logger.Warn("批量订单单笔提交失败",
				zap.Int("index", i),
				zap.String("spec", spec.String()),
				zap.Error(err),
			)
		}
		result.Outcomes[i] = outcome
	}
	return result, nil
}

// submitOrder 仅对限频重试：限频表示请求未被受理，其余错误重发同一令牌可能产生重复订单。
func (e *Executor) submitOrder(ctx context.Context, gw Submitter, token string, spec order.Spec) error {
	var err error
	for attempt := 1; attempt <= e.maxRetry; attempt++ {
		err = e.submitOnce(ctx, gw, token, spec)
		if err == nil {
			return nil
		}

		if !errors.Is(err, gateway.ErrThrottled) || attempt == e.maxRetry {
			break
		}

		wait := time.Duration(attempt) * e.retryWait
		e.logger.Warn("下单限频，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("token", token),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("execution: 等待重试时取消: %w", err)
		case <-time.After(wait):
		}
	}

	if errors.Is(err, gateway.ErrThrottled) {
		return fmt.Errorf("execution: 重试后仍下单失败: %w", err)
	}
	return fmt.Errorf("execution: 下单失败: %w", err)
}

func (e *Executor) submitOnce(ctx context.Context, gw Submitter, token string, spec order.Spec) error {
	callCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	defer cancel()
	err := gw.SubmitOrder(callCtx, token, spec)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w: %v", gateway.ErrTimeout, context.DeadlineExceeded, err)
	}
	return err
}
