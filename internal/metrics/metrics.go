// Package metrics 提供命令、下单与订单状态的 Prometheus 指标。
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

const namespace = "trades_cli"

// Metrics 指标集合。nil 指针上的记录方法为空操作。
type Metrics struct {
	registry *prometheus.Registry

	// 命令执行次数
	CommandsTotal *prometheus.CounterVec
	// 订单提交次数
	SubmissionsTotal *prometheus.CounterVec
	// 订单状态迁移次数
	TransitionsTotal *prometheus.CounterVec
	// 被丢弃的网关事件
	DroppedEventsTotal *prometheus.CounterVec
	// 未终结订单数
	OrdersOpen prometheus.Gauge
}

// New 创建指标实例并注册到独立的 Registry。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched by name and result",
		}, []string{"command", "result"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Order submissions by result",
		}, []string{"result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by target status",
		}, []string{"status"}),
		DroppedEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Gateway events that could not be applied",
		}, []string{"reason"}),
		OrdersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders_open",
			Help:      "Orders registered and not yet terminal",
		}),
	}
	m.registry.MustRegister(
		m.CommandsTotal,
		m.SubmissionsTotal,
		m.TransitionsTotal,
		m.DroppedEventsTotal,
		m.OrdersOpen,
	)
	return m
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand 记录一次命令执行。
func (m *Metrics) RecordCommand(name string, err error) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name, resultLabel(err)).Inc()
}

// RecordSubmission 记录一次下单结果。
func (m *Metrics) RecordSubmission(err error) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordDropped 记录被丢弃的事件。
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedEventsTotal.WithLabelValues(reason).Inc()
}

// ObserveChange 作为 order.Observer 统计状态迁移与未终结订单数。
func (m *Metrics) ObserveChange(c order.Change) {
	if m == nil {
		return
	}
	switch c.Kind {
	case order.ChangeRegistered:
		if !c.Order.Terminal() {
			m.OrdersOpen.Inc()
		}
	case order.ChangeDiscarded:
		m.OrdersOpen.Dec()
	case order.ChangeStatus:
		m.TransitionsTotal.WithLabelValues(string(c.Order.Status)).Inc()
		if c.Order.Status.Terminal() && !c.From.Terminal() {
			m.OrdersOpen.Dec()
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, order.ErrValidation):
		return "invalid"
	case errors.Is(err, gateway.ErrRejected):
		return "rejected"
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, order.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
