package monitor

import (
	"time"

	"trades-cli/internal/order"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrderRegistered EventType = "order_registered"
	EventOrderBound      EventType = "order_bound"
	EventOrderStatus     EventType = "order_status"
	EventOrderDiscarded  EventType = "order_discarded"
	EventCommand         EventType = "command"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	OrderID   string      `json:"order_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderPayload 记录订单生命周期变化。
type OrderPayload struct {
	Token      string       `json:"token"`
	OrderID    string       `json:"order_id,omitempty"`
	From       order.Status `json:"from,omitempty"`
	Status     order.Status `json:"status"`
	Version    uint64       `json:"version"`
	Spec       string       `json:"spec"`
	Reason     string       `json:"reason,omitempty"`
	Replaces   string       `json:"replaces,omitempty"`
	ReplacedBy string       `json:"replaced_by,omitempty"`
}

// CommandPayload 记录一次命令执行。
type CommandPayload struct {
	Command string `json:"command"`
	Raw     string `json:"raw"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

var changeTypes = map[order.ChangeKind]EventType{
	order.ChangeRegistered: EventOrderRegistered,
	order.ChangeBound:      EventOrderBound,
	order.ChangeStatus:     EventOrderStatus,
	order.ChangeDiscarded:  EventOrderDiscarded,
}

// OrderEvent 将订单变化转换为监控事件。
func OrderEvent(c order.Change) Event {
	o := c.Order
	ts := o.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Event{
		Type:      changeTypes[c.Kind],
		OrderID:   o.ID,
		Timestamp: ts,
		Payload: OrderPayload{
			Token:      o.Token,
			OrderID:    o.ID,
			From:       c.From,
			Status:     o.Status,
			Version:    o.Version,
			Spec:       o.Spec.String(),
			Reason:     o.Reason,
			Replaces:   o.Replaces,
			ReplacedBy: o.ReplacedBy,
		},
	}
}
