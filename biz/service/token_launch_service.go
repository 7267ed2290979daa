package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/util"
	"github.com/gogogo1024/custody-ledger/conf"
	"github.com/gogogo1024/custody-ledger/gateway"
)

var (
	minSupply       = decimal.NewFromInt(1_000)
	maxFunSupply    = decimal.NewFromInt(1_000_000)
	maxSuperSupply  = decimal.NewFromInt(1_000_000_000_000)
	minLiquidityPct = decimal.NewFromInt(5)
)

// LaunchFees 发币费用（代币计价）；SUPER 档费用中平台费以外的部分注入流动性
type LaunchFees struct {
	FunFee           decimal.Decimal
	SuperFee         decimal.Decimal
	SuperPlatformFee decimal.Decimal
}

func ParseLaunchFees(c conf.Ledger) (LaunchFees, error) {
	var (
		f   LaunchFees
		err error
	)
	if f.FunFee, err = decimal.NewFromString(c.FunTierFee); err != nil {
		return f, fmt.Errorf("fun_tier_fee: %w", err)
	}
	if f.SuperFee, err = decimal.NewFromString(c.SuperTierFee); err != nil {
		return f, fmt.Errorf("super_tier_fee: %w", err)
	}
	if f.SuperPlatformFee, err = decimal.NewFromString(c.SuperPlatformFee); err != nil {
		return f, fmt.Errorf("super_platform_fee: %w", err)
	}
	if !f.FunFee.IsPositive() || !f.SuperFee.IsPositive() || f.SuperPlatformFee.IsNegative() || f.SuperPlatformFee.GreaterThan(f.SuperFee) {
		return f, fmt.Errorf("invalid launch fees %+v", f)
	}
	return f, nil
}

// split 返回 总费用、平台费、流动性
func (f LaunchFees) split(tier model.Tier) (fee, platform, liquidity decimal.Decimal) {
	if tier == model.TierSuper {
		return f.SuperFee, f.SuperPlatformFee, f.SuperFee.Sub(f.SuperPlatformFee)
	}
	return f.FunFee, f.FunFee, decimal.Zero
}

type CreateLaunchInput struct {
	Tier        model.Tier              `json:"tier"`
	Metadata    model.TokenMetadata     `json:"metadata"`
	TotalSupply decimal.Decimal         `json:"total_supply"`
	Allocations []model.AllocationShare `json:"allocations"`
	Vesting     []model.VestingSchedule `json:"vesting,omitempty"`
}

// Validate 入参一次性校验：档位、元数据、供应量、分配比例与解锁计划
func (in *CreateLaunchInput) Validate() error {
	if err := in.Metadata.Validate(); err != nil {
		return errno.ErrInvalidArgument.WithMsg("metadata: %v", err)
	}
	if !in.TotalSupply.IsInteger() || in.TotalSupply.LessThan(minSupply) {
		return errno.ErrInvalidArgument.WithMsg("total supply must be a whole number >= %s", minSupply)
	}
	switch in.Tier {
	case model.TierFun:
		if in.TotalSupply.GreaterThan(maxFunSupply) {
			return errno.ErrInvalidArgument.WithMsg("FUN tier supply must not exceed %s", maxFunSupply)
		}
	case model.TierSuper:
		if in.TotalSupply.GreaterThan(maxSuperSupply) {
			return errno.ErrInvalidArgument.WithMsg("SUPER tier supply must not exceed %s", maxSuperSupply)
		}
		var liquidity []model.AllocationShare
		for _, a := range in.Allocations {
			if a.Category == model.AllocLiquidity {
				liquidity = append(liquidity, a)
			}
		}
		if len(liquidity) != 1 || liquidity[0].Percent.LessThan(minLiquidityPct) {
			return errno.ErrInvalidAllocation.WithMsg("SUPER tier needs exactly one LIQUIDITY allocation of at least %s%%", minLiquidityPct)
		}
	default:
		return errno.ErrInvalidArgument.WithMsg("unknown tier %q", in.Tier)
	}
	if err := ValidateShares(in.Allocations); err != nil {
		return err
	}
	categories := make(map[model.AllocationCategory]bool, len(in.Allocations))
	for _, a := range in.Allocations {
		categories[a.Category] = true
	}
	for _, v := range in.Vesting {
		if err := v.Validate(); err != nil {
			return errno.ErrInvalidArgument.WithMsg("vesting: %v", err)
		}
		if !categories[v.Category] {
			return errno.ErrInvalidArgument.WithMsg("vesting references missing allocation %s", v.Category)
		}
	}
	return nil
}

// TokenLaunchService 发币申请：草稿校验与拆分，部署时走托管扣费
type TokenLaunchService struct {
	engine   *engine.Engine
	store    engine.Store
	escrow   *FeeEscrow
	deployer gateway.TokenDeployer
	fees     LaunchFees
}

func NewTokenLaunchService(e *engine.Engine, escrow *FeeEscrow, deployer gateway.TokenDeployer, comp *CompensationService, fees LaunchFees) *TokenLaunchService {
	s := &TokenLaunchService{
		engine:   e,
		store:    e.Store(),
		escrow:   escrow,
		deployer: deployer,
		fees:     fees,
	}
	comp.Register(model.CompensateFeeRefund, s.compensateRefund)
	comp.Register(model.CompensateLaunchFinalize, s.compensateFinalize)
	return s
}

func (s *TokenLaunchService) CreateDraft(ctx context.Context, userID string, in *CreateLaunchInput) (*model.TokenLaunch, error) {
	if _, err := s.store.GetBalance(ctx, userID); err != nil {
		return nil, errno.Storage(err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	baseUnits := in.TotalSupply.Shift(in.Metadata.Decimals)
	allocations, err := SplitSupply(baseUnits, in.Allocations)
	if err != nil {
		return nil, err
	}
	fee, platform, liquidity := s.fees.split(in.Tier)
	now := s.engine.Now()
	l := &model.TokenLaunch{
		ID:              util.NewUUID(),
		UserID:          userID,
		Tier:            in.Tier,
		Status:          model.LaunchDraft,
		Metadata:        in.Metadata,
		TotalSupply:     in.TotalSupply,
		Allocations:     allocations,
		Vesting:         in.Vesting,
		FeeAmount:       fee,
		PlatformFee:     platform,
		LiquidityAmount: liquidity,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateLaunch(ctx, l); err != nil {
		return nil, errno.Storage(err)
	}
	hlog.CtxInfof(ctx, "[Launch] 草稿创建 id=%s user=%s symbol=%s tier=%s", l.ID, userID, l.Metadata.Symbol, l.Tier)
	return l, nil
}

// UpdateDraft 以完整入参替换草稿并重新拆分，只允许 DRAFT
func (s *TokenLaunchService) UpdateDraft(ctx context.Context, userID, id string, in *CreateLaunchInput) (*model.TokenLaunch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	allocations, err := SplitSupply(in.TotalSupply.Shift(in.Metadata.Decimals), in.Allocations)
	if err != nil {
		return nil, err
	}
	fee, platform, liquidity := s.fees.split(in.Tier)
	var out *model.TokenLaunch
	err = s.store.InTx(ctx, func(tx engine.Tx) error {
		l, err := tx.LockLaunch(ctx, id)
		if err != nil {
			return err
		}
		if l.UserID != userID {
			return errno.ErrLaunchNotFound
		}
		if l.Status != model.LaunchDraft {
			return errno.ErrInvalidState.WithMsg("launch %s is %s", id, l.Status)
		}
		l.Tier = in.Tier
		l.Metadata = in.Metadata
		l.TotalSupply = in.TotalSupply
		l.Allocations = allocations
		l.Vesting = in.Vesting
		l.FeeAmount = fee
		l.PlatformFee = platform
		l.LiquidityAmount = liquidity
		l.UpdatedAt = s.engine.Now()
		out = l
		return tx.SaveLaunch(ctx, l)
	})
	if err != nil {
		return nil, errno.Storage(err)
	}
	hlog.CtxInfof(ctx, "[Launch] 草稿更新 id=%s user=%s symbol=%s tier=%s", id, userID, out.Metadata.Symbol, out.Tier)
	return out, nil
}

func (s *TokenLaunchService) Get(ctx context.Context, userID, id string) (*model.TokenLaunch, error) {
	l, err := s.store.GetLaunch(ctx, id)
	if err != nil {
		return nil, errno.Storage(err)
	}
	if l.UserID != userID {
		return nil, errno.ErrLaunchNotFound
	}
	return l, nil
}

func (s *TokenLaunchService) List(ctx context.Context, userID string) ([]*model.TokenLaunch, error) {
	ls, err := s.store.ListLaunches(ctx, userID)
	return ls, errno.Storage(err)
}

// Deploy 扣除部署费后调用签名服务部署合约，失败时退回费用
func (s *TokenLaunchService) Deploy(ctx context.Context, userID, id string) (*model.TokenLaunch, error) {
	l, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if l.Status != model.LaunchDraft {
		return nil, errno.ErrInvalidState.WithMsg("launch %s is %s", id, l.Status)
	}

	params := gateway.DeployParams{
		LaunchID:        l.ID,
		Owner:           userID,
		Name:            l.Metadata.Name,
		Symbol:          l.Metadata.Symbol,
		Decimals:        l.Metadata.Decimals,
		TotalSupply:     l.TotalSupply.Shift(l.Metadata.Decimals),
		LiquidityAmount: l.LiquidityAmount,
	}
	for _, a := range l.Allocations {
		params.Allocations = append(params.Allocations, gateway.DeployAllocation{
			Category: string(a.Category),
			Wallet:   a.TargetWallet,
			Amount:   a.Amount,
		})
	}

	var actionErr error
	action := func(ctx context.Context) (*ExternalResult, error) {
		r, err := s.deployer.DeployToken(ctx, params)
		if err != nil {
			actionErr = err
			return nil, err
		}
		return &ExternalResult{Reference: r.Reference, TxHash: r.TxHash, Address: r.TokenAddress}, nil
	}
	feeCause := model.DeploymentFee{
		LaunchID:        l.ID,
		Tier:            string(l.Tier),
		PlatformFee:     l.PlatformFee,
		LiquidityAmount: l.LiquidityAmount,
	}
	refundCause := model.DeploymentRefund{LaunchID: l.ID, Reason: "deployment failed"}

	_, err = s.escrow.ExecuteWithFee(ctx, userID, l.FeeAmount, launchSubject{id: l.ID, version: l.UpdatedAt}, feeCause, refundCause, action)
	if err != nil {
		if actionErr != nil {
			return nil, fmt.Errorf("%w: %w", errno.ErrDeploymentFailed, err)
		}
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Launch] 部署成功 id=%s symbol=%s", l.ID, l.Metadata.Symbol)
	return s.Get(ctx, userID, id)
}

func (s *TokenLaunchService) compensateRefund(ctx context.Context, c *model.Compensation) error {
	p, err := decodePayload[feeRefundPayload](c)
	if err != nil {
		return err
	}
	refund := model.DeploymentRefund{LaunchID: p.SubjectID, Reason: p.Reason}
	return s.escrow.Refund(ctx, c.UserID, p.Fee, launchSubject{id: p.SubjectID}, refund, p.Reason)
}

func (s *TokenLaunchService) compensateFinalize(ctx context.Context, c *model.Compensation) error {
	p, err := decodePayload[finalizePayload](c)
	if err != nil {
		return err
	}
	return s.escrow.Finalize(ctx, c.UserID, launchSubject{id: p.SubjectID}, &p.Result)
}

// launchSubject 发币申请作为托管扣费的业务对象。
// version 非零时 Begin 要求草稿自读取后未被修改
type launchSubject struct {
	id      string
	version time.Time
}

func (l launchSubject) SubjectID() string {
	return l.id
}

func (l launchSubject) Begin(ctx context.Context, tx engine.Tx, now time.Time) error {
	t, err := tx.LockLaunch(ctx, l.id)
	if err != nil {
		return err
	}
	if t.Status != model.LaunchDraft {
		return errno.ErrInvalidState.WithMsg("launch %s is %s, want %s", l.id, t.Status, model.LaunchDraft)
	}
	if !l.version.IsZero() && !t.UpdatedAt.Equal(l.version) {
		return errno.ErrInvalidState.WithMsg("launch %s changed during deployment, retry", l.id)
	}
	t.Status = model.LaunchPendingExternal
	t.UpdatedAt = now
	return tx.SaveLaunch(ctx, t)
}

func (l launchSubject) Succeed(ctx context.Context, tx engine.Tx, now time.Time, res *ExternalResult) error {
	t, err := tx.LockLaunch(ctx, l.id)
	if err != nil {
		return err
	}
	if t.Status == model.LaunchSucceeded && t.ExternalRef == res.Reference {
		return nil
	}
	if t.Status != model.LaunchPendingExternal {
		return errno.ErrInvalidState.WithMsg("launch %s is %s, want %s", l.id, t.Status, model.LaunchPendingExternal)
	}
	t.Status = model.LaunchSucceeded
	t.ExternalRef = res.Reference
	t.TxHash = res.TxHash
	t.TokenAddress = res.Address
	t.DeployedAt = &now
	t.UpdatedAt = now
	return tx.SaveLaunch(ctx, t)
}

func (l launchSubject) Fail(ctx context.Context, tx engine.Tx, now time.Time, reason string) (bool, error) {
	t, err := tx.LockLaunch(ctx, l.id)
	if err != nil {
		return false, err
	}
	switch t.Status {
	case model.LaunchFailed:
		return false, nil
	case model.LaunchPendingExternal:
	default:
		return false, errno.ErrInvalidState.WithMsg("launch %s is %s, cannot fail", l.id, t.Status)
	}
	t.Status = model.LaunchFailed
	t.FailureReason = reason
	t.UpdatedAt = now
	return true, tx.SaveLaunch(ctx, t)
}

