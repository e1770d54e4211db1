package service

import (
	"errors"

	"groupbuy/pkg/response"
)

// Kind 错误大类，handler 和调用方按它决定是否可以重试
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindExpired   Kind = "expired"
	KindInvalid   Kind = "invalid"
	KindTransient Kind = "transient"
	KindTimeout   Kind = "timeout"
)

// Error 对外暴露的业务错误，Code 直接使用 pkg/response 的业务码
type Error struct {
	Code    int
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is 同一业务码视为同一错误，包装过底层原因的也能和哨兵比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code int, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// wrap 保留哨兵的码和类别，附带底层原因
func wrap(sentinel *Error, cause error) *Error {
	return &Error{Code: sentinel.Code, Kind: sentinel.Kind, Message: sentinel.Message, err: cause}
}

var (
	ErrGoodsNotFound         = newError(response.CodeGoodsNotFound, KindNotFound, "商品不存在")
	ErrGroupBuyDisabled      = newError(response.CodeGroupBuyDisabled, KindInvalid, "该商品未开启拼团")
	ErrMisconfiguredGroupBuy = newError(response.CodeMisconfiguredGroupBuy, KindInvalid, "商品拼团配置不合法")
	ErrGroupNotFound         = newError(response.CodeGroupNotFound, KindNotFound, "拼团不存在")
	ErrGroupExpired          = newError(response.CodeGroupExpired, KindExpired, "拼团已过期")
	ErrGroupFull             = newError(response.CodeGroupFull, KindConflict, "拼团人数已满")
	ErrAlreadyJoined         = newError(response.CodeAlreadyJoined, KindConflict, "已参加该拼团")
	ErrUserNotFound          = newError(response.CodeUserNotFound, KindNotFound, "用户不存在")
	ErrInvalidQuantity       = newError(response.CodeInvalidQuantity, KindInvalid, "购买数量超出允许范围")
	ErrTimeout               = newError(response.CodeTimeout, KindTimeout, "请求超时，请重试")

	ErrOrderNotFound      = newError(response.CodeOrderNotFound, KindNotFound, "订单不存在")
	ErrOrderStatusInvalid = newError(response.CodeOrderStatusInvalid, KindConflict, "订单状态不允许该操作")
	ErrBalanceNotEnough   = newError(response.CodeBalanceNotEnough, KindConflict, "余额不足")
	ErrInvalidAmount      = newError(response.CodeInvalidAmount, KindInvalid, "金额必须大于0")
)

// KindOf 非业务错误按 transient 处理
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
