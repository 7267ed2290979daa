// Package errno 定义资金核心对外暴露的错误码。
// 所有错误都是可比较的哨兵值，调用方使用 errors.Is 判断，
// 包装时统一使用 fmt.Errorf("...: %w", err)。
package errno

import (
	"errors"
	"fmt"
)

// Kind 错误分类，决定调用层的处理方式
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternal
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "state_conflict"
	case KindExternal:
		return "external"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

type Error struct {
	Code string
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

// Is 按错误码比较，便于 WithMsg 生成的副本与哨兵值匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMsg 返回同错误码、不同描述的副本
func (e *Error) WithMsg(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Msg: fmt.Sprintf(format, args...)}
}

func newErr(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

var (
	ErrInvalidAmount     = newErr("INVALID_AMOUNT", KindValidation, "amount must be positive")
	ErrInvalidCurrency   = newErr("INVALID_CURRENCY", KindValidation, "unsupported currency")
	ErrInvalidCause      = newErr("INVALID_CAUSE", KindValidation, "cause does not match amount")
	ErrInvalidArgument   = newErr("INVALID_ARGUMENT", KindValidation, "invalid argument")
	ErrInvalidAllocation = newErr("INVALID_ALLOCATION", KindValidation, "invalid allocation")
	ErrSelfTransfer      = newErr("SELF_TRANSFER", KindValidation, "cannot transfer to yourself")

	ErrBalanceNotFound    = newErr("BALANCE_NOT_FOUND", KindNotFound, "balance record not found")
	ErrRecipientNotFound  = newErr("RECIPIENT_NOT_FOUND", KindNotFound, "recipient not found")
	ErrCodeNotFound       = newErr("CODE_NOT_FOUND", KindNotFound, "redemption code not found")
	ErrWithdrawalNotFound = newErr("WITHDRAWAL_NOT_FOUND", KindNotFound, "withdrawal request not found")
	ErrLaunchNotFound     = newErr("LAUNCH_NOT_FOUND", KindNotFound, "token launch not found")
	ErrBuyRequestNotFound = newErr("BUY_REQUEST_NOT_FOUND", KindNotFound, "buy request not found")
	ErrSettingNotFound    = newErr("SETTING_NOT_FOUND", KindNotFound, "setting not found")

	ErrBalanceFrozen           = newErr("BALANCE_FROZEN", KindConflict, "balance is frozen")
	ErrInsufficientBalance     = newErr("INSUFFICIENT_BALANCE", KindConflict, "insufficient balance")
	ErrCodeAlreadyClaimed      = newErr("CODE_ALREADY_CLAIMED", KindConflict, "redemption code already claimed")
	ErrCodeExpired             = newErr("CODE_EXPIRED", KindConflict, "redemption code expired")
	ErrClaimInProgress         = newErr("CLAIM_IN_PROGRESS", KindConflict, "redemption code is being claimed")
	ErrInvalidState            = newErr("INVALID_STATE", KindConflict, "invalid state transition")
	ErrPendingWithdrawalExists = newErr("PENDING_WITHDRAWAL_EXISTS", KindConflict, "a pending withdrawal already exists")
	ErrDuplicateCode           = newErr("DUPLICATE_CODE", KindConflict, "redemption code collision")

	ErrExternalTransferFailed = newErr("EXTERNAL_TRANSFER_FAILED", KindExternal, "external transfer failed")
	ErrPriceUnavailable       = newErr("PRICE_UNAVAILABLE", KindExternal, "price unavailable")
	ErrPartnerRedeemFailed    = newErr("PARTNER_REDEEM_FAILED", KindExternal, "partner redemption failed")
	ErrDeploymentFailed       = newErr("DEPLOYMENT_FAILED", KindExternal, "token deployment failed")

	ErrStorageTransaction = newErr("STORAGE_TRANSACTION_FAILED", KindStorage, "storage transaction failed")
)

// Storage 把底层存储错误包装成 STORAGE_TRANSACTION_FAILED，已是业务错误的原样返回
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageTransaction, err)
}

// KindOf 返回错误链上第一个业务错误的分类
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf 返回错误码，非业务错误返回 INTERNAL
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// IsRetryable 存储失败、外部依赖失败与 claim 并发冲突可由调用方整体重试
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindStorage, KindExternal:
		return true
	}
	return errors.Is(err, ErrClaimInProgress)
}
