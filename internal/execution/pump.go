package execution

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"trades-cli/internal/gateway"
	"trades-cli/internal/metrics"
	"trades-cli/internal/order"
)

// Pump 将网关事件流送入 Tracker。
type Pump struct {
	tracker *order.Tracker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPump 创建事件泵。
func NewPump(tracker *order.Tracker, m *metrics.Metrics, logger *zap.Logger) *Pump {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pump{tracker: tracker, metrics: m, logger: logger}
}

// Run 持续消费事件，直到 ctx 取消或事件流关闭。
func (p *Pump) Run(ctx context.Context, events <-chan gateway.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				p.logger.Info("网关事件流已关闭")
				return nil
			}
			p.Handle(ev)
		}
	}
}

// Handle 处理单个事件。过期、非法或无法关联的事件只记录日志。
func (p *Pump) Handle(ev gateway.Event) {
	fields := []zap.Field{
		zap.String("token", ev.Token),
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)),
	}

	if ev.OrderID == "" {
		if ev.Token != "" && ev.Status.Terminal() && p.tracker.Discard(ev.Token) {
			p.logger.Warn("订单在分配编号前被拒绝", append(fields, zap.String("reason", ev.Reason))...)
			return
		}
		p.drop("missing_id", "事件缺少订单编号", fields)
		return
	}

	if _, ok := p.tracker.Get(ev.OrderID); !ok {
		if ev.Token == "" {
			p.drop("unknown_order", "事件对应的订单未登记", fields)
			return
		}
		if err := p.tracker.BindIdentifier(ev.Token, ev.OrderID); err != nil {
			p.drop("unknown_correlation", "无法关联订单编号", append(fields, zap.Error(err)))
			return
		}
	}

	if ev.Status == "" || ev.Status == order.StatusPendingSubmit {
		return
	}

	err := p.tracker.Apply(order.Update{ID: ev.OrderID, Status: ev.Status, Reason: ev.Reason, AsOfVersion: order.AnyVersion})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrStaleEvent):
		p.logger.Debug("忽略过期事件", append(fields, zap.Error(err))...)
	case errors.Is(err, order.ErrInvalidTransition):
		p.metrics.RecordDropped("invalid_transition")
		p.logger.Warn("忽略非法状态迁移", append(fields, zap.Error(err))...)
	default:
		p.metrics.RecordDropped("apply_failed")
		p.logger.Warn("应用订单事件失败", append(fields, zap.Error(err))...)
	}
}

func (p *Pump) drop(reason, msg string, fields []zap.Field) {
	p.metrics.RecordDropped(reason)
	p.logger.Warn(msg, fields...)
}
