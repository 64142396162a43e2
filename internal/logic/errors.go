package logic

import (
	"errors"
	"fmt"
)

// 业务错误定义，handler 层据此映射HTTP状态码
var (
	ErrBatchNotFound     = errors.New("批次不存在")
	ErrShipmentNotFound  = errors.New("出货单不存在")
	ErrCompanyNotFound   = errors.New("企业不存在")
	ErrInventoryNotFound = errors.New("库存记录不存在")
	ErrUnauthorized      = errors.New("无权执行此操作")
	ErrInsufficientStock = errors.New("库存不足")
	ErrInvalidTransition = errors.New("状态流转不合法")
	ErrLedgerUnavailable = errors.New("账本服务不可用，请稍后重试")
)

// NewInsufficientStockError 库存不足错误，附带可用数量
func NewInsufficientStockError(available, requested int64) error {
	return fmt.Errorf("%w: 可用数量 %d, 请求数量 %d", ErrInsufficientStock, available, requested)
}

// NewInvalidTransitionError 非法状态流转错误
func NewInvalidTransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
