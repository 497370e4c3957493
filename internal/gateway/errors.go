package gateway

import (
	"context"
	"errors"
)

var (
	// ErrConnection 表示网关不可达或连接中断。
	ErrConnection = errors.New("gateway: 网关连接失败")
	// ErrTimeout 表示等待网关响应超时。
	ErrTimeout = errors.New("gateway: 等待网关响应超时")
	// ErrRejected 表示网关拒绝了请求。
	ErrRejected = errors.New("gateway: 请求被拒绝")
	// ErrThrottled 表示触发限频。
	ErrThrottled = errors.New("gateway: 请求过于频繁")
	// ErrNotFound 表示标的或订单不存在。
	ErrNotFound = errors.New("gateway: 标的或订单不存在")
	// ErrUnsupported 表示当前网关不支持该操作。
	ErrUnsupported = errors.New("gateway: 网关不支持该操作")
	// ErrClosed 表示会话已关闭。
	ErrClosed = errors.New("gateway: 会话已关闭")
)

// IsRetryable 判断错误是否为限频或瞬时网络故障。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrConnection)
}

// IsUncertain 判断下单错误是否意味着结果未知：请求可能已被网关受理。
func IsUncertain(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection) || errors.Is(err, context.DeadlineExceeded)
}
