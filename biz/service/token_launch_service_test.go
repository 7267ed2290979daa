package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/conf"
	"github.com/gogogo1024/custody-ledger/gateway"
)

type fakeDeployer struct {
	calls atomic.Int32
	err   error
	hook  func()
	last  gateway.DeployParams
}

func (f *fakeDeployer) DeployToken(ctx context.Context, p gateway.DeployParams) (*gateway.DeployReceipt, error) {
	f.calls.Add(1)
	f.last = p
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.DeployReceipt{Reference: p.LaunchID, TokenAddress: "0xtoken", TxHash: "0xdeploy"}, nil
}

var testFees = service.LaunchFees{FunFee: dec("1"), SuperFee: dec("100"), SuperPlatformFee: dec("10")}

func newLaunchService(e *env, d gateway.TokenDeployer) *service.TokenLaunchService {
	return service.NewTokenLaunchService(e.eng, service.NewFeeEscrow(e.eng, e.comp), d, e.comp, testFees)
}

func funInput() *service.CreateLaunchInput {
	return &service.CreateLaunchInput{
		Tier:        model.TierFun,
		Metadata:    model.TokenMetadata{Name: "Moon Cat", Symbol: "MCAT", Decimals: 2},
		TotalSupply: dec("1000"),
		Allocations: []model.AllocationShare{
			share(model.AllocCreator, "33.33"),
			share(model.AllocCommunity, "66.67"),
		},
	}
}

func superInput() *service.CreateLaunchInput {
	return &service.CreateLaunchInput{
		Tier:        model.TierSuper,
		Metadata:    model.TokenMetadata{Name: "Super Coin", Symbol: "SUPR", Decimals: 18},
		TotalSupply: dec("1000000000"),
		Allocations: []model.AllocationShare{
			share(model.AllocCreator, "40"),
			share(model.AllocTeam, "20"),
			share(model.AllocLiquidity, "40"),
		},
		Vesting: []model.VestingSchedule{{
			Category:       model.AllocTeam,
			Type:           model.VestingLinear,
			TGETime:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			DurationMonths: 12,
			Frequency:      model.FrequencyMonthly,
		}},
	}
}

func TestParseLaunchFees(t *testing.T) {
	f, err := service.ParseLaunchFees(conf.Ledger{FunTierFee: "1", SuperTierFee: "100", SuperPlatformFee: "10"})
	require.NoError(t, err)
	assertDec(t, "100", f.SuperFee)

	_, err = service.ParseLaunchFees(conf.Ledger{FunTierFee: "1", SuperTierFee: "10", SuperPlatformFee: "20"})
	assert.Error(t, err)
	_, err = service.ParseLaunchFees(conf.Ledger{FunTierFee: "x", SuperTierFee: "10", SuperPlatformFee: "1"})
	assert.Error(t, err)
}

func TestCreateLaunchInputValidate(t *testing.T) {
	assert.NoError(t, funInput().Validate())
	assert.NoError(t, superInput().Validate())

	mutate := map[string]func(in *service.CreateLaunchInput){
		"bad symbol":         func(in *service.CreateLaunchInput) { in.Metadata.Symbol = "moon" },
		"decimals":           func(in *service.CreateLaunchInput) { in.Metadata.Decimals = 19 },
		"supply too small":   func(in *service.CreateLaunchInput) { in.TotalSupply = dec("999") },
		"fractional supply":  func(in *service.CreateLaunchInput) { in.TotalSupply = dec("1000.5") },
		"fun supply too big": func(in *service.CreateLaunchInput) { in.TotalSupply = dec("1000001") },
		"unknown tier":       func(in *service.CreateLaunchInput) { in.Tier = "MEGA" },
		"shares":             func(in *service.CreateLaunchInput) { in.Allocations[0].Percent = dec("10") },
		"vesting orphan": func(in *service.CreateLaunchInput) {
			in.Vesting = []model.VestingSchedule{{Category: model.AllocTeam, Type: model.VestingCliff, TGETime: time.Now(), CliffMonths: 6}}
		},
	}
	for name, fn := range mutate {
		in := funInput()
		fn(in)
		assert.Error(t, in.Validate(), name)
	}

	in := superInput()
	in.Allocations = []model.AllocationShare{share(model.AllocCreator, "97"), share(model.AllocLiquidity, "3")}
	in.Vesting = nil
	assert.ErrorIs(t, in.Validate(), errno.ErrInvalidAllocation)

	in = superInput()
	in.TotalSupply = dec("1000000000001")
	assert.ErrorIs(t, in.Validate(), errno.ErrInvalidArgument)
}

func TestCreateDraftSplitsBaseUnits(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "", "")
	s := newLaunchService(e, &fakeDeployer{})

	l, err := s.CreateDraft(ctx, "alice", funInput())
	require.NoError(t, err)
	assert.Equal(t, model.LaunchDraft, l.Status)
	assertDec(t, "1", l.FeeAmount)
	assertDec(t, "1", l.PlatformFee)
	assert.True(t, l.LiquidityAmount.IsZero())
	require.Len(t, l.Allocations, 2)
	// 1000 * 10^2 = 100000 个最小单位
	assertDec(t, "33330", l.Allocations[0].Amount)
	assertDec(t, "66670", l.Allocations[1].Amount)

	got, err := s.Get(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	_, err = s.Get(ctx, "mallory", l.ID)
	assert.ErrorIs(t, err, errno.ErrLaunchNotFound)

	_, err = s.CreateDraft(ctx, "ghost", funInput())
	assert.ErrorIs(t, err, errno.ErrBalanceNotFound)

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateDraft(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "150", "")
	s := newLaunchService(e, &fakeDeployer{})
	l, err := s.CreateDraft(ctx, "alice", funInput())
	require.NoError(t, err)

	e.clock.Advance(time.Second)
	up, err := s.UpdateDraft(ctx, "alice", l.ID, superInput())
	require.NoError(t, err)
	assert.Equal(t, l.ID, up.ID)
	assert.Equal(t, model.TierSuper, up.Tier)
	assertDec(t, "100", up.FeeAmount)
	assertDec(t, "90", up.LiquidityAmount)
	assert.Len(t, up.Allocations, 3)
	assert.True(t, up.UpdatedAt.After(l.UpdatedAt))
	assert.Equal(t, l.CreatedAt, up.CreatedAt)

	got, err := s.Get(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, "SUPR", got.Metadata.Symbol)

	_, err = s.UpdateDraft(ctx, "bob", l.ID, funInput())
	assert.ErrorIs(t, err, errno.ErrLaunchNotFound)
	bad := funInput()
	bad.TotalSupply = dec("10")
	_, err = s.UpdateDraft(ctx, "alice", l.ID, bad)
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)

	_, err = s.Deploy(ctx, "alice", l.ID)
	require.NoError(t, err)
	assertDec(t, "50", e.balance(t, "alice").TokenAvailable)
	_, err = s.UpdateDraft(ctx, "alice", l.ID, funInput())
	assert.ErrorIs(t, err, errno.ErrInvalidState)
}

func TestDeployRejectsDraftChangedMidway(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	s := newLaunchService(e, &fakeDeployer{})
	l, err := s.CreateDraft(ctx, "alice", funInput())
	require.NoError(t, err)
	stale := service.LaunchSubjectAt(l.ID, l.UpdatedAt)

	e.clock.Advance(time.Second)
	_, err = s.UpdateDraft(ctx, "alice", l.ID, funInput())
	require.NoError(t, err)

	escrow := service.NewFeeEscrow(e.eng, e.comp)
	_, err = escrow.ExecuteWithFee(ctx, "alice", dec("1"), stale, stubFee, stubRefund,
		func(context.Context) (*service.ExternalResult, error) {
			t.Fatal("deployment must not start")
			return nil, nil
		})
	assert.ErrorIs(t, err, errno.ErrInvalidState)
	assertDec(t, "10", e.balance(t, "alice").TokenAvailable)
	got, _ := s.Get(ctx, "alice", l.ID)
	assert.Equal(t, model.LaunchDraft, got.Status)
}

func TestDeploySuperTier(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "150", "")
	d := &fakeDeployer{}
	s := newLaunchService(e, d)
	l, err := s.CreateDraft(ctx, "alice", superInput())
	require.NoError(t, err)
	assertDec(t, "90", l.LiquidityAmount)

	out, err := s.Deploy(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LaunchSucceeded, out.Status)
	assert.Equal(t, "0xtoken", out.TokenAddress)
	assert.NotNil(t, out.DeployedAt)
	assertDec(t, "50", e.balance(t, "alice").TokenAvailable)

	assert.Equal(t, "SUPR", d.last.Symbol)
	assertDec(t, "1000000000000000000000000000", d.last.TotalSupply)
	require.Len(t, d.last.Allocations, 3)
	e.assertBalanced(t, "alice")

	_, err = s.Deploy(ctx, "alice", l.ID)
	assert.ErrorIs(t, err, errno.ErrInvalidState)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestDeployFailureRefundsFee(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "5", "")
	d := &fakeDeployer{err: &gateway.StatusError{Status: 500, Message: "signer unavailable"}}
	s := newLaunchService(e, d)
	l, err := s.CreateDraft(ctx, "alice", funInput())
	require.NoError(t, err)

	_, err = s.Deploy(ctx, "alice", l.ID)
	assert.ErrorIs(t, err, errno.ErrDeploymentFailed)
	assert.Equal(t, errno.KindExternal, errno.KindOf(err))

	got, err := s.Get(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LaunchFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	assertDec(t, "5", e.balance(t, "alice").TokenAvailable)
	entries := e.store.Entries("alice")
	require.Len(t, entries, 3)
	assert.True(t, entries[1].Amount.Add(entries[2].Amount).IsZero())
	e.assertBalanced(t, "alice")
}

func TestDeployStateWriteFailureIsCompensated(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "5", "")
	storeDown := errors.New("connection reset")
	d := &fakeDeployer{}
	d.hook = func() { e.store.FailLaunchSaves(storeDown) }
	s := newLaunchService(e, d)
	l, err := s.CreateDraft(ctx, "alice", funInput())
	require.NoError(t, err)

	out, err := s.Deploy(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LaunchPendingExternal, out.Status)
	assertDec(t, "4", e.balance(t, "alice").TokenAvailable)

	comps := e.store.Compensations()
	require.Len(t, comps, 1)
	assert.Equal(t, model.CompensateLaunchFinalize, comps[0].Kind)
	assert.Equal(t, l.ID, comps[0].RefID)

	done, dead, err := e.comp.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, done+dead, "store still failing")

	e.store.FailLaunchSaves(nil)
	done, _, err = e.comp.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	got, err := s.Get(ctx, "alice", l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LaunchSucceeded, got.Status)
	assert.Equal(t, l.ID, got.ExternalRef)
	assert.Equal(t, "0xtoken", got.TokenAddress)
	assert.Equal(t, "0xdeploy", got.TxHash)
	assert.NotNil(t, got.DeployedAt)

	// 状态已补写，重复执行不报错
	require.NoError(t, service.NewFeeEscrow(e.eng, e.comp).Finalize(ctx, "alice", service.LaunchSubject(l.ID),
		&service.ExternalResult{Reference: l.ID, TxHash: "0xdeploy", Address: "0xtoken"}))
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Len(t, e.store.Entries("alice"), 2)
	e.assertBalanced(t, "alice")
}

func TestDeployInsufficientFee(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "99", "")
	d := &fakeDeployer{}
	s := newLaunchService(e, d)
	l, err := s.CreateDraft(ctx, "alice", superInput())
	require.NoError(t, err)

	_, err = s.Deploy(ctx, "alice", l.ID)
	assert.ErrorIs(t, err, errno.ErrInsufficientBalance)
	assert.Zero(t, d.calls.Load())
	got, _ := s.Get(ctx, "alice", l.ID)
	assert.Equal(t, model.LaunchDraft, got.Status)
}
