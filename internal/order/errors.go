package order

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 为所有参数校验失败的公共根错误。
	ErrValidation = errors.New("order: 参数校验失败")
	// ErrStaleEvent 表示重复或过期的状态事件，已被忽略。
	ErrStaleEvent = errors.New("order: 过期或重复的状态事件")
	// ErrInvalidTransition 表示状态机不允许的迁移。
	ErrInvalidTransition = errors.New("order: 非法状态迁移")
	// ErrUnknownCorrelation 表示关联令牌未登记或已绑定。
	ErrUnknownCorrelation = errors.New("order: 未知的关联令牌")
	// ErrDuplicateToken 表示关联令牌重复登记。
	ErrDuplicateToken = errors.New("order: 关联令牌重复")
	// ErrDuplicateIdentifier 表示网关编号已被其它订单占用。
	ErrDuplicateIdentifier = errors.New("order: 订单编号重复")
	// ErrNotFound 表示订单不存在。
	ErrNotFound = errors.New("order: 订单不存在")
	// ErrInvalidState 表示订单当前状态不支持该操作。
	ErrInvalidState = errors.New("order: 订单状态不允许该操作")
	// ErrUnsupportedKind 表示订单类型不支持该操作。
	ErrUnsupportedKind = errors.New("order: 订单类型不支持该操作")
	// ErrTimeout 表示等待网关确认超时。
	ErrTimeout = errors.New("order: 等待确认超时")
	// ErrReplaceFailed 表示撤单成功但重新下单失败。
	ErrReplaceFailed = errors.New("order: 原单已撤销但重新下单失败")
	// ErrOutcomeUnknown 表示提交结果未知，订单保留待定登记，由后续事件或挂单同步确认。
	ErrOutcomeUnknown = errors.New("order: 下单结果未知")
)

// ValidationError 描述具体的字段校验失败。
type ValidationError struct {
	Command string
	Field   string
	Value   string
	Reason  string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg = fmt.Sprintf("%s=%q: %s", e.Field, e.Value, e.Reason)
	}
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	return "参数错误 " + msg
}

// Is 使 errors.Is(err, ErrValidation) 成立。
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
