package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/util"
	"github.com/gogogo1024/custody-ledger/gateway"
)

const (
	DefaultTargetPlatform = "SGTRADING"
	maxCodeAttempts       = 5
	leasePollInterval     = 50 * time.Millisecond
)

// TransferEvents 软锁状态变更事件，见 biz/dal/kafka.Publisher
type TransferEvents interface {
	PublishTransfer(t *model.ExternalTransfer, at time.Time)
}

type SoftLockConfig struct {
	CodePrefix        string
	CodeTTL           time.Duration
	ClaimLeaseTTL     time.Duration
	SettlementAddress string
	SweepBatch        int
}

type Reservation struct {
	TransferID     string          `json:"transfer_id"`
	Code           string          `json:"code"`
	AmountToken    decimal.Decimal `json:"amount_token"`
	AmountFiat     decimal.Decimal `json:"amount_fiat"`
	Rate           decimal.Decimal `json:"rate"`
	TargetPlatform string          `json:"target_platform"`
	Status         string          `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type ClaimResult struct {
	TransferID  string          `json:"transfer_id"`
	UserID      string          `json:"user_id"`
	AmountToken decimal.Decimal `json:"amount_token"`
	AmountFiat  decimal.Decimal `json:"amount_fiat"`
	Rate        decimal.Decimal `json:"rate"`
	ExternalRef string          `json:"external_ref"`
	ClaimedAt   time.Time       `json:"claimed_at"`
}

// SoftLockService 外部转出：预留（可用 -> 冻结）、合作方凭码领取、过期释放。
// 领取时先拿到记录上的租约再调用外部网关，网关调用期间不持有任何行锁；
// 过期释放（惰性与定时清扫）共用 expire，租约有效的记录不会被释放。
type SoftLockService struct {
	engine  *engine.Engine
	store   engine.Store
	rates   RateSource
	gateway gateway.ValueTransferer
	comp    *CompensationService
	events  TransferEvents
	pool    *ants.Pool
	cfg     SoftLockConfig
	newCode func() (string, error)
}

func NewSoftLockService(e *engine.Engine, rates RateSource, gw gateway.ValueTransferer, comp *CompensationService, cfg SoftLockConfig) *SoftLockService {
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "SGT"
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.ClaimLeaseTTL <= 0 {
		cfg.ClaimLeaseTTL = 2 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}
	s := &SoftLockService{
		engine:  e,
		store:   e.Store(),
		rates:   rates,
		gateway: gw,
		comp:    comp,
		cfg:     cfg,
	}
	prefix := cfg.CodePrefix
	s.newCode = func() (string, error) { return newRedemptionCode(prefix) }
	comp.Register(model.CompensateClaimSettlement, s.compensateSettlement)
	return s
}

// WithEvents 设置事件投递，可为空
func (s *SoftLockService) WithEvents(ev TransferEvents) *SoftLockService {
	s.events = ev
	return s
}

// WithPool 清扫时用协程池并发释放，未设置时串行
func (s *SoftLockService) WithPool(p *ants.Pool) *SoftLockService {
	s.pool = p
	return s
}

// newRedemptionCode PREFIX-XXXXXXXX-XXXXXXXX，16 位大写十六进制随机数
func newRedemptionCode(prefix string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate redemption code: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(b[:]))
	return prefix + "-" + h[:8] + "-" + h[8:], nil
}

func (s *SoftLockService) Reserve(ctx context.Context, userID string, amount decimal.Decimal, targetPlatform string) (*Reservation, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if targetPlatform == "" {
		targetPlatform = DefaultTargetPlatform
	}
	rate, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, errno.ErrPriceUnavailable
	}
	amountFiat := amount.Mul(rate).Round(2)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		var tr *model.ExternalTransfer
		err = s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
			if err := op.Lock(amount); err != nil {
				return err
			}
			now := op.Now()
			tr = &model.ExternalTransfer{
				ID:             util.NewUUID(),
				UserID:         userID,
				Code:           code,
				AmountToken:    amount,
				AmountFiat:     amountFiat,
				Rate:           rate,
				TargetPlatform: targetPlatform,
				Status:         model.TransferPendingClaim,
				ExpiresAt:      now.Add(s.cfg.CodeTTL),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return op.Tx().CreateTransfer(ctx, tr)
		})
		if errors.Is(err, errno.ErrDuplicateCode) {
			hlog.CtxWarnf(ctx, "[SoftLock] 兑换码冲突，重新生成 attempt=%d", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.RecordTransfer("reserved")
		s.publish(tr, tr.CreatedAt)
		hlog.CtxInfof(ctx, "[SoftLock] 预留成功 user=%s transfer=%s amount=%s fiat=%s expires=%s",
			userID, tr.ID, amount, amountFiat, tr.ExpiresAt.Format(time.RFC3339))
		return &Reservation{
			TransferID:     tr.ID,
			Code:           tr.Code,
			AmountToken:    tr.AmountToken,
			AmountFiat:     tr.AmountFiat,
			Rate:           tr.Rate,
			TargetPlatform: tr.TargetPlatform,
			Status:         string(tr.Status),
			ExpiresAt:      tr.ExpiresAt,
		}, nil
	}
	return nil, errno.ErrDuplicateCode.WithMsg("could not allocate a unique code after %d attempts", maxCodeAttempts)
}

// Claim 合作方凭码领取。并发领取同一个码时只有拿到租约的请求会调用网关，
// 其余请求等待租约结束后重新判断：通常看到 CODE_ALREADY_CLAIMED；
// 若获胜者的网关调用失败，则由等待者接着尝试。ctx 结束仍未拿到租约返回 CLAIM_IN_PROGRESS。
func (s *SoftLockService) Claim(ctx context.Context, code string) (*ClaimResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errno.ErrCodeNotFound
	}
	for {
		tr, err := s.store.GetTransfer(ctx, code)
		if err != nil {
			return nil, errno.Storage(err)
		}
		now := s.engine.Now()
		switch tr.Status {
		case model.TransferClaimed:
			return nil, errno.ErrCodeAlreadyClaimed
		case model.TransferExpired:
			return nil, errno.ErrCodeExpired
		}
		// 外部转账已成功，只差本地扣款
		if tr.SettlementPending() {
			return nil, errno.ErrCodeAlreadyClaimed
		}
		if tr.Expirable(now) {
			if _, err := s.expire(ctx, tr); err != nil {
				hlog.CtxWarnf(ctx, "[SoftLock] 惰性过期失败 code=%s: %v", code, err)
			}
			return nil, errno.ErrCodeExpired
		}

		token := util.NewUUID()
		ok, err := s.store.AcquireClaimLease(ctx, code, token, now, now.Add(s.cfg.ClaimLeaseTTL))
		if err != nil {
			return nil, errno.Storage(err)
		}
		if ok {
			return s.claimWithLease(ctx, tr, token)
		}
		select {
		case <-ctx.Done():
			metrics.RecordTransfer("claim_busy")
			return nil, errno.ErrClaimInProgress
		case <-time.After(leasePollInterval):
		}
	}
}

func (s *SoftLockService) claimWithLease(ctx context.Context, tr *model.ExternalTransfer, token string) (*ClaimResult, error) {
	bal, err := s.store.GetBalance(ctx, tr.UserID)
	if err != nil {
		s.releaseLease(ctx, tr.Code, token)
		return nil, errno.Storage(err)
	}
	if bal.Frozen() {
		s.releaseLease(ctx, tr.Code, token)
		return nil, errno.ErrBalanceFrozen
	}

	// 网关调用必须在租约到期前返回，否则可能与清扫并发
	gctx, cancel := context.WithTimeout(ctx, s.cfg.ClaimLeaseTTL-s.cfg.ClaimLeaseTTL/4)
	receipt, err := s.gateway.SubmitValueTransfer(gctx, gateway.TransferRequest{
		Destination: s.cfg.SettlementAddress,
		Amount:      tr.AmountToken,
		Asset:       string(model.CurrencyToken),
		Reference:   tr.ID,
		Memo:        tr.Code,
	})
	cancel()
	if err != nil {
		s.releaseLease(ctx, tr.Code, token)
		metrics.RecordTransfer("claim_failed")
		hlog.CtxWarnf(ctx, "[SoftLock] 外部转账失败，保持待领取 code=%s: %v", tr.Code, err)
		return nil, fmt.Errorf("%w: %w", errno.ErrExternalTransferFailed, err)
	}

	ref := externalRef(receipt)
	settled, err := s.settle(ctx, tr.UserID, tr.Code, ref)
	if err != nil {
		// 外部转账已经完成：先落下外部凭证，使该码不能再被领取或过期，再把扣款交给补偿任务
		merr := s.store.MarkSettlementPending(ctx, tr.Code, ref, s.engine.Now())
		payload := settlementPayload{Code: tr.Code, ExternalRef: ref}
		cerr := s.comp.Record(ctx, model.CompensateClaimSettlement, tr.Code, tr.UserID, payload, err)
		if merr != nil || cerr != nil {
			// 未能持久化时不向合作方报告成功，重试使用同一 Reference，签名服务不会重复出账
			s.releaseLease(ctx, tr.Code, token)
			return nil, errors.Join(errno.Storage(err), merr, cerr)
		}
		metrics.RecordTransfer("claim_deferred")
		hlog.CtxErrorf(ctx, "[SoftLock] 外部转账成功但落账失败，已转补偿 code=%s ref=%s: %v", tr.Code, ref, err)
		now := s.engine.Now()
		return &ClaimResult{
			TransferID:  tr.ID,
			UserID:      tr.UserID,
			AmountToken: tr.AmountToken,
			AmountFiat:  tr.AmountFiat,
			Rate:        tr.Rate,
			ExternalRef: ref,
			ClaimedAt:   now,
		}, nil
	}
	metrics.RecordTransfer("claimed")
	s.publish(settled, *settled.ClaimedAt)
	hlog.CtxInfof(ctx, "[SoftLock] 领取成功 code=%s user=%s amount=%s ref=%s", tr.Code, tr.UserID, tr.AmountToken, ref)
	return &ClaimResult{
		TransferID:  settled.ID,
		UserID:      settled.UserID,
		AmountToken: settled.AmountToken,
		AmountFiat:  settled.AmountFiat,
		Rate:        settled.Rate,
		ExternalRef: settled.ExternalRef,
		ClaimedAt:   *settled.ClaimedAt,
	}, nil
}

func externalRef(r *gateway.TransferReceipt) string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.Reference
}

func (s *SoftLockService) releaseLease(ctx context.Context, code, token string) {
	if err := s.store.ReleaseClaimLease(ctx, code, token); err != nil {
		hlog.CtxWarnf(ctx, "[SoftLock] 释放租约失败 code=%s，等待其自然过期: %v", code, err)
	}
}

// settle 外部转账成功后的唯一扣款。已 CLAIMED 时不做任何事；
// 待落账标记写入失败时记录可能已被过期释放，此时改从可用余额扣款。
func (s *SoftLockService) settle(ctx context.Context, userID, code, ref string) (*model.ExternalTransfer, error) {
	var out *model.ExternalTransfer
	err := s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		tr, err := op.Tx().LockTransfer(ctx, code)
		if err != nil {
			return err
		}
		if tr.Status == model.TransferClaimed {
			out = tr
			return nil
		}
		cause := model.ExternalTransferDebit{
			TransferID:     tr.ID,
			Code:           tr.Code,
			ExternalRef:    ref,
			TargetPlatform: tr.TargetPlatform,
			AmountFiat:     tr.AmountFiat,
			Rate:           tr.Rate,
		}
		if tr.Status == model.TransferExpired {
			_, err = op.Apply(model.CurrencyToken, tr.AmountToken.Neg(), cause)
		} else {
			_, err = op.SettleLocked(tr.AmountToken, cause)
		}
		if err != nil {
			return err
		}
		now := op.Now()
		tr.Status = model.TransferClaimed
		tr.ExternalRef = ref
		tr.ClaimedAt = &now
		tr.ClaimToken = ""
		tr.ClaimLeaseUntil = nil
		tr.UpdatedAt = now
		out = tr
		return op.Tx().SaveTransfer(ctx, tr)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type settlementPayload struct {
	Code        string `json:"code"`
	ExternalRef string `json:"external_ref"`
}

func (s *SoftLockService) compensateSettlement(ctx context.Context, c *model.Compensation) error {
	p, err := decodePayload[settlementPayload](c)
	if err != nil {
		return err
	}
	tr, err := s.settle(ctx, c.UserID, p.Code, p.ExternalRef)
	if err != nil {
		return err
	}
	s.publish(tr, tr.UpdatedAt)
	return nil
}

// expire 惰性过期与定时清扫共用：重新加锁检查，只处理仍待领取、已过期、无有效租约且未进入待落账的记录
func (s *SoftLockService) expire(ctx context.Context, tr *model.ExternalTransfer) (bool, error) {
	var expired *model.ExternalTransfer
	err := s.engine.Atomically(ctx, tr.UserID, func(op *engine.Op) error {
		cur, err := op.Tx().LockTransfer(ctx, tr.Code)
		if err != nil {
			return err
		}
		now := op.Now()
		if !cur.Expirable(now) {
			return nil
		}
		if err := op.Unlock(cur.AmountToken); err != nil {
			return err
		}
		cur.Status = model.TransferExpired
		cur.ClaimToken = ""
		cur.ClaimLeaseUntil = nil
		cur.UpdatedAt = now
		if err := op.Tx().SaveTransfer(ctx, cur); err != nil {
			return err
		}
		expired = cur
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}
	metrics.RecordTransfer("expired")
	s.publish(expired, expired.UpdatedAt)
	hlog.CtxInfof(ctx, "[SoftLock] 已过期并退回 code=%s user=%s amount=%s", expired.Code, expired.UserID, expired.AmountToken)
	return true, nil
}

// SweepExpired 分页释放所有过期记录，返回本轮释放的数量。可重复执行。
func (s *SoftLockService) SweepExpired(ctx context.Context) (int, error) {
	now := s.engine.Now()
	total := 0
	for {
		list, err := s.store.ListExpirable(ctx, now, s.cfg.SweepBatch)
		if err != nil {
			return total, errno.Storage(err)
		}
		if len(list) == 0 {
			return total, nil
		}
		n := s.expireBatch(ctx, list)
		total += n
		// 一页都没处理掉（例如余额冻结），留给下一轮
		if n == 0 || len(list) < s.cfg.SweepBatch {
			return total, nil
		}
	}
}

func (s *SoftLockService) expireBatch(ctx context.Context, list []*model.ExternalTransfer) int {
	var (
		wg sync.WaitGroup
		n  atomic.Int64
	)
	run := func(tr *model.ExternalTransfer) {
		defer wg.Done()
		ok, err := s.expire(ctx, tr)
		if err != nil {
			hlog.CtxWarnf(ctx, "[SoftLock] 清扫过期失败 code=%s: %v", tr.Code, err)
			return
		}
		if ok {
			n.Add(1)
		}
	}
	for _, tr := range list {
		wg.Add(1)
		if s.pool == nil {
			run(tr)
			continue
		}
		if err := s.pool.Submit(func() { run(tr) }); err != nil {
			run(tr)
		}
	}
	wg.Wait()
	return int(n.Load())
}

// ListTransfers 用户的软锁记录，读取时顺带释放已过期的记录
func (s *SoftLockService) ListTransfers(ctx context.Context, userID string, limit int) ([]*model.ExternalTransfer, error) {
	if limit <= 0 || limit > engine.MaxHistory {
		limit = engine.MaxHistory
	}
	list, err := s.store.ListTransfers(ctx, userID, limit)
	if err != nil {
		return nil, errno.Storage(err)
	}
	now := s.engine.Now()
	for _, tr := range list {
		if !tr.Expirable(now) {
			continue
		}
		ok, err := s.expire(ctx, tr)
		if err != nil {
			hlog.CtxWarnf(ctx, "[SoftLock] 惰性过期失败 code=%s: %v", tr.Code, err)
			continue
		}
		if ok {
			tr.Status = model.TransferExpired
		}
	}
	return list, nil
}

func (s *SoftLockService) publish(tr *model.ExternalTransfer, at time.Time) {
	if s.events != nil && tr != nil {
		s.events.PublishTransfer(tr, at)
	}
}
