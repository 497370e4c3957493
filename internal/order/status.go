package order

import "strings"

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPendingSubmit  Status = "PendingSubmit"
	StatusWorking        Status = "Working"
	StatusPendingReplace Status = "PendingReplace"
	StatusFilled         Status = "Filled"
	StatusCancelled      Status = "Cancelled"
	StatusRejected       Status = "Rejected"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPendingSubmit:  {StatusWorking, StatusFilled, StatusCancelled, StatusRejected},
	StatusWorking:        {StatusPendingReplace, StatusFilled, StatusCancelled, StatusRejected},
	StatusPendingReplace: {StatusWorking, StatusFilled, StatusCancelled, StatusRejected},
}

// CanTransition 判断状态机是否允许 from -> to。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// gatewayStatuses 将各家网关的状态字符串归一化。
var gatewayStatuses = map[string]Status{
	"pendingsubmit":    StatusPendingSubmit,
	"apipending":       StatusPendingSubmit,
	"pending_new":      StatusPendingSubmit,
	"accepted":         StatusWorking,
	"presubmitted":     StatusWorking,
	"submitted":        StatusWorking,
	"new":              StatusWorking,
	"open":             StatusWorking,
	"working":          StatusWorking,
	"partially_filled": StatusWorking,
	"partiallyfilled":  StatusWorking,
	"replaced":         StatusCancelled,
	"filled":           StatusFilled,
	"closed":           StatusFilled,
	"cancelled":        StatusCancelled,
	"canceled":         StatusCancelled,
	"apicancelled":     StatusCancelled,
	"expired":          StatusCancelled,
	"done_for_day":     StatusCancelled,
	"rejected":         StatusRejected,
	"inactive":         StatusRejected,
}

// ParseStatus 将网关状态字符串映射为内部状态，无法识别时返回 false。
func ParseStatus(raw string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	status, ok := gatewayStatuses[key]
	return status, ok
}
