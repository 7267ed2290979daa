package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
)

// stubSubject 不落库的托管对象，failErr/succeedErr 非空时对应方法返回该错误
type stubSubject struct {
	id         string
	status     model.LaunchStatus
	failErr    error
	succeedErr error
}

func (s *stubSubject) SubjectID() string { return s.id }

func (s *stubSubject) Begin(context.Context, engine.Tx, time.Time) error {
	if s.status != model.LaunchDraft {
		return errno.ErrInvalidState
	}
	s.status = model.LaunchPendingExternal
	return nil
}

func (s *stubSubject) Succeed(context.Context, engine.Tx, time.Time, *service.ExternalResult) error {
	if s.succeedErr != nil {
		return s.succeedErr
	}
	s.status = model.LaunchSucceeded
	return nil
}

func (s *stubSubject) Fail(context.Context, engine.Tx, time.Time, string) (bool, error) {
	if s.failErr != nil {
		return false, s.failErr
	}
	if s.status == model.LaunchFailed {
		return false, nil
	}
	s.status = model.LaunchFailed
	return true, nil
}

var (
	stubFee    = model.DeploymentFee{LaunchID: "l1", Tier: "FUN"}
	stubRefund = model.DeploymentRefund{LaunchID: "l1", Reason: "failed"}
)

func TestExecuteWithFeeSuccess(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	escrow := service.NewFeeEscrow(e.eng, e.comp)
	subject := &stubSubject{id: "l1", status: model.LaunchDraft}

	res, err := escrow.ExecuteWithFee(ctx, "alice", dec("3"), subject, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) {
			assert.Equal(t, model.LaunchPendingExternal, subject.status)
			assertDec(t, "7", e.balance(t, "alice").TokenAvailable)
			return &service.ExternalResult{Reference: "ref-1"}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", res.Reference)
	assert.Equal(t, model.LaunchSucceeded, subject.status)
	assertDec(t, "7", e.balance(t, "alice").TokenAvailable)
	e.assertBalanced(t, "alice")
}

func TestExecuteWithFeeRefundsOnFailure(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	escrow := service.NewFeeEscrow(e.eng, e.comp)
	subject := &stubSubject{id: "l1", status: model.LaunchDraft}
	boom := errors.New("signer offline")

	_, err := escrow.ExecuteWithFee(ctx, "alice", dec("3"), subject, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.LaunchFailed, subject.status)

	assertDec(t, "10", e.balance(t, "alice").TokenAvailable)
	entries := e.store.Entries("alice")
	require.Len(t, entries, 3)
	assert.Equal(t, model.CauseDeploymentFee, entries[1].CauseType)
	assert.Equal(t, model.CauseDeploymentRefund, entries[2].CauseType)
	assert.True(t, entries[1].Amount.Add(entries[2].Amount).IsZero())
	e.assertBalanced(t, "alice")

	// 重复退款不产生新流水
	require.NoError(t, escrow.Refund(ctx, "alice", dec("3"), subject, stubRefund, "again"))
	assert.Len(t, e.store.Entries("alice"), 3)
}

func TestExecuteWithFeeInsufficientBalance(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "1", "")
	escrow := service.NewFeeEscrow(e.eng, e.comp)
	subject := &stubSubject{id: "l1", status: model.LaunchDraft}
	called := false

	_, err := escrow.ExecuteWithFee(ctx, "alice", dec("3"), subject, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) {
			called = true
			return &service.ExternalResult{}, nil
		})
	assert.ErrorIs(t, err, errno.ErrInsufficientBalance)
	assert.False(t, called)
	assert.Equal(t, model.LaunchDraft, subject.status)

	_, err = escrow.ExecuteWithFee(ctx, "alice", dec("0"), subject, stubFee, stubRefund, nil)
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
}

func TestExecuteWithFeeDefersFailedRefund(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	escrow := service.NewFeeEscrow(e.eng, e.comp)
	storeDown := errors.New("connection reset")
	subject := &stubSubject{id: "l1", status: model.LaunchDraft, failErr: storeDown}
	boom := errors.New("signer offline")

	_, err := escrow.ExecuteWithFee(ctx, "alice", dec("3"), subject, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, storeDown)

	comps := e.store.Compensations()
	require.Len(t, comps, 1)
	assert.Equal(t, model.CompensateFeeRefund, comps[0].Kind)
	assert.Equal(t, "l1", comps[0].RefID)
	assert.JSONEq(t, `{"subject_id":"l1","fee":"3","reason":"signer offline"}`, string(comps[0].Payload))
	assertDec(t, "7", e.balance(t, "alice").TokenAvailable)
}

func TestExecuteWithFeeDefersFailedFinalize(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	escrow := service.NewFeeEscrow(e.eng, e.comp)
	storeDown := errors.New("connection reset")
	subject := &stubSubject{id: "l1", status: model.LaunchDraft, succeedErr: storeDown}

	res, err := escrow.ExecuteWithFee(ctx, "alice", dec("3"), subject, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) {
			return &service.ExternalResult{Reference: "ref-1", TxHash: "0xabc"}, nil
		})
	require.NoError(t, err, "external action is irreversible, the fee stays charged")
	assert.Equal(t, "ref-1", res.Reference)
	assert.Equal(t, model.LaunchPendingExternal, subject.status)

	comps := e.store.Compensations()
	require.Len(t, comps, 1)
	assert.Equal(t, model.CompensateLaunchFinalize, comps[0].Kind)
	assert.Equal(t, "l1", comps[0].RefID)
	assert.JSONEq(t, `{"subject_id":"l1","result":{"reference":"ref-1","tx_hash":"0xabc"}}`, string(comps[0].Payload))
	assertDec(t, "7", e.balance(t, "alice").TokenAvailable)
	assert.Len(t, e.store.Entries("alice"), 2, "no refund")
	e.assertBalanced(t, "alice")
}
