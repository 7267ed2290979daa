package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

// ExternalResult 外部动作成功后的引用
type ExternalResult struct {
	Reference string `json:"reference"`
	TxHash    string `json:"tx_hash,omitempty"`
	Address   string `json:"address,omitempty"`
}

// EscrowSubject 托管扣费对应的业务记录，状态由它自己维护。
// 所有方法都在持有用户余额行锁的事务内调用，实现方再锁定自身的行。
type EscrowSubject interface {
	SubjectID() string
	// Begin DRAFT -> PENDING_EXTERNAL，其他状态返回 INVALID_STATE
	Begin(ctx context.Context, tx engine.Tx, now time.Time) error
	// Succeed 以同一结果重复调用时不报错
	Succeed(ctx context.Context, tx engine.Tx, now time.Time, res *ExternalResult) error
	// Fail 迁移到 FAILED；已是 FAILED 时返回 false，表示退款已经做过
	Fail(ctx context.Context, tx engine.Tx, now time.Time, reason string) (bool, error)
}

// FeeEscrow 两阶段扣费：先扣费并锁定业务状态，再执行外部动作，失败则原路退回
type FeeEscrow struct {
	engine *engine.Engine
	comp   *CompensationService
}

func NewFeeEscrow(e *engine.Engine, comp *CompensationService) *FeeEscrow {
	return &FeeEscrow{engine: e, comp: comp}
}

type finalizePayload struct {
	SubjectID string         `json:"subject_id"`
	Result    ExternalResult `json:"result"`
}

type feeRefundPayload struct {
	SubjectID string          `json:"subject_id"`
	Fee       decimal.Decimal `json:"fee"`
	Reason    string          `json:"reason"`
}

// ExecuteWithFee 外部动作失败时返回的错误包装了原始错误；
// 退款事务本身失败时写入补偿记录，并返回合并后的错误。
func (f *FeeEscrow) ExecuteWithFee(
	ctx context.Context,
	userID string,
	fee decimal.Decimal,
	subject EscrowSubject,
	feeCause, refundCause model.Cause,
	action func(ctx context.Context) (*ExternalResult, error),
) (*ExternalResult, error) {
	if !fee.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	err := f.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		if _, err := op.Apply(model.CurrencyToken, fee.Neg(), feeCause); err != nil {
			return err
		}
		return subject.Begin(ctx, op.Tx(), op.Now())
	})
	if err != nil {
		metrics.RecordEscrow("rejected")
		return nil, err
	}

	res, actErr := action(ctx)
	if actErr == nil {
		if err := f.Finalize(ctx, userID, subject, res); err != nil {
			// 外部动作不可撤回，费用照扣；状态由补偿任务补写
			payload := finalizePayload{SubjectID: subject.SubjectID(), Result: *res}
			if cerr := f.comp.Record(ctx, model.CompensateLaunchFinalize, subject.SubjectID(), userID, payload, err); cerr != nil {
				metrics.RecordEscrow("finalize_lost")
				return nil, errors.Join(err, cerr)
			}
			metrics.RecordEscrow("finalize_deferred")
			hlog.CtxErrorf(ctx, "[FeeEscrow] 外部动作成功但状态更新失败，已转补偿 subject=%s ref=%s: %v", subject.SubjectID(), res.Reference, err)
			return res, nil
		}
		metrics.RecordEscrow("succeeded")
		return res, nil
	}

	hlog.CtxWarnf(ctx, "[FeeEscrow] 外部动作失败，退回费用 subject=%s fee=%s: %v", subject.SubjectID(), fee, actErr)
	wrapped := fmt.Errorf("external action for %s failed: %w", subject.SubjectID(), actErr)
	if err := f.Refund(ctx, userID, fee, subject, refundCause, actErr.Error()); err != nil {
		metrics.RecordEscrow("refund_deferred")
		payload := feeRefundPayload{SubjectID: subject.SubjectID(), Fee: fee, Reason: actErr.Error()}
		cerr := f.comp.Record(ctx, model.CompensateFeeRefund, subject.SubjectID(), userID, payload, err)
		return nil, errors.Join(wrapped, err, cerr)
	}
	metrics.RecordEscrow("refunded")
	return nil, wrapped
}

// Finalize 外部动作成功后落下业务状态，不涉及余额
func (f *FeeEscrow) Finalize(ctx context.Context, userID string, subject EscrowSubject, res *ExternalResult) error {
	return f.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		return subject.Succeed(ctx, op.Tx(), op.Now(), res)
	})
}

// Refund 退款与 FAILED 状态在同一事务，重复调用不会重复退款
func (f *FeeEscrow) Refund(ctx context.Context, userID string, fee decimal.Decimal, subject EscrowSubject, refundCause model.Cause, reason string) error {
	return f.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		changed, err := subject.Fail(ctx, op.Tx(), op.Now(), reason)
		if err != nil || !changed {
			return err
		}
		_, err = op.Apply(model.CurrencyToken, fee, refundCause)
		return err
	})
}
