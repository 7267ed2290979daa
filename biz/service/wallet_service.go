package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/util"
	"github.com/gogogo1024/custody-ledger/gateway"
)

// MinInternalTransfer 站内转账最小金额
var MinInternalTransfer = decimal.New(1, -6)

// WalletService 用户与管理员发起的余额操作，全部是账本引擎的调用方
type WalletService struct {
	engine  *engine.Engine
	store   engine.Store
	rates   RateSource
	partner gateway.PartnerRedeemer
	comp    *CompensationService
}

func NewWalletService(e *engine.Engine, rates RateSource, partner gateway.PartnerRedeemer, comp *CompensationService) *WalletService {
	s := &WalletService{
		engine:  e,
		store:   e.Store(),
		rates:   rates,
		partner: partner,
		comp:    comp,
	}
	comp.Register(model.CompensateTransferReversal, s.compensateReversal)
	comp.Register(model.CompensatePartnerCredit, s.compensatePartnerCredit)
	return s
}

type AdjustInput struct {
	Currency model.Currency  `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Credit   bool            `json:"credit"`
	Reason   string          `json:"reason"`
}

// ManualAdjust 管理员手工调账，审计记录与流水同事务
func (s *WalletService) ManualAdjust(ctx context.Context, adminID, userID string, in AdjustInput) (*model.LedgerEntry, error) {
	if !in.Currency.Valid() {
		return nil, errno.ErrInvalidCurrency
	}
	if !in.Amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, errno.ErrInvalidArgument.WithMsg("reason required")
	}
	amount := in.Amount
	if !in.Credit {
		amount = amount.Neg()
	}
	cause := model.AdminAdjust{Credit: in.Credit, AdminID: adminID, Reason: in.Reason}
	var entry *model.LedgerEntry
	err := s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		var err error
		if entry, err = op.Apply(in.Currency, amount, cause); err != nil {
			return err
		}
		return op.Audit(&model.AdminAuditLog{
			AdminID:      adminID,
			Action:       string(cause.Type()),
			TargetUserID: userID,
			Payload: map[string]any{
				"currency": in.Currency,
				"amount":   amount.String(),
				"reason":   in.Reason,
				"entry_id": entry.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 手工调账 admin=%s user=%s %s %s", adminID, userID, amount, in.Currency)
	return entry, nil
}

func (s *WalletService) Freeze(ctx context.Context, adminID, userID, reason string) error {
	return s.setStatus(ctx, adminID, userID, reason, model.BalanceFrozen)
}

func (s *WalletService) Unfreeze(ctx context.Context, adminID, userID, reason string) error {
	return s.setStatus(ctx, adminID, userID, reason, model.BalanceActive)
}

func (s *WalletService) setStatus(ctx context.Context, adminID, userID, reason string, status model.BalanceStatus) error {
	action := "FREEZE_BALANCE"
	if status == model.BalanceActive {
		action = "UNFREEZE_BALANCE"
	}
	audit := &model.AdminAuditLog{
		AdminID:      adminID,
		Action:       action,
		TargetUserID: userID,
		Payload:      map[string]any{"reason": reason},
	}
	if err := s.engine.SetStatus(ctx, userID, status, audit); err != nil {
		return err
	}
	hlog.CtxInfof(ctx, "[Wallet] %s admin=%s user=%s", action, adminID, userID)
	return nil
}

type InternalTransferResult struct {
	TransferID string          `json:"transfer_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	DebitID    uint64          `json:"debit_entry_id,string"`
	CreditID   uint64          `json:"credit_entry_id,string"`
}

type reversalPayload struct {
	TransferID string          `json:"transfer_id"`
	PeerUserID string          `json:"peer_user_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// InternalTransfer 站内转账（代币）。先扣转出方、再入转入方，两个独立事务，
// 入账失败时立即冲正，冲正也失败则写补偿记录。
func (s *WalletService) InternalTransfer(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, note string) (*InternalTransferResult, error) {
	if toUserID == "" {
		return nil, errno.ErrInvalidArgument.WithMsg("recipient required")
	}
	if amount.LessThan(MinInternalTransfer) {
		return nil, errno.ErrInvalidAmount.WithMsg("minimum transfer is %s", MinInternalTransfer)
	}
	if fromUserID == toUserID {
		return nil, errno.ErrSelfTransfer
	}
	if _, err := s.store.GetBalance(ctx, toUserID); err != nil {
		if errors.Is(err, errno.ErrBalanceNotFound) {
			return nil, errno.ErrRecipientNotFound
		}
		return nil, errno.Storage(err)
	}

	transferID := util.NewUUID()
	debit, err := s.engine.ApplyEntry(ctx, fromUserID, model.CurrencyToken, amount.Neg(),
		model.InternalTransfer{TransferID: transferID, PeerUserID: toUserID, Note: note})
	if err != nil {
		return nil, err
	}
	credit, err := s.engine.ApplyEntry(ctx, toUserID, model.CurrencyToken, amount,
		model.InternalTransfer{Incoming: true, TransferID: transferID, PeerUserID: fromUserID, Note: note})
	if err != nil {
		hlog.CtxErrorf(ctx, "[Wallet] 站内转账入账失败，冲正 transfer=%s: %v", transferID, err)
		p := reversalPayload{TransferID: transferID, PeerUserID: toUserID, Amount: amount}
		if rerr := s.reverse(ctx, fromUserID, p); rerr != nil {
			cerr := s.comp.Record(ctx, model.CompensateTransferReversal, transferID, fromUserID, p, rerr)
			return nil, errors.Join(err, rerr, cerr)
		}
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 站内转账 transfer=%s %s -> %s amount=%s", transferID, fromUserID, toUserID, amount)
	return &InternalTransferResult{
		TransferID: transferID,
		From:       fromUserID,
		To:         toUserID,
		Amount:     amount,
		DebitID:    debit.ID,
		CreditID:   credit.ID,
	}, nil
}

func (s *WalletService) reverse(ctx context.Context, userID string, p reversalPayload) error {
	_, err := s.engine.ApplyEntry(ctx, userID, model.CurrencyToken, p.Amount,
		model.InternalTransfer{Incoming: true, TransferID: p.TransferID, PeerUserID: p.PeerUserID, Note: "reversal"})
	return err
}

// compensateReversal 冲正前检查流水，已有同一转账的冲正则跳过
func (s *WalletService) compensateReversal(ctx context.Context, c *model.Compensation) error {
	p, err := decodePayload[reversalPayload](c)
	if err != nil {
		return err
	}
	done, err := s.hasEntry(ctx, c.UserID, model.CauseInternalTransferCredit, func(cause model.Cause) bool {
		it, ok := cause.(model.InternalTransfer)
		return ok && it.TransferID == p.TransferID
	})
	if err != nil || done {
		return err
	}
	return s.reverse(ctx, c.UserID, p)
}

// hasEntry 在最近的流水中查找匹配的记录
func (s *WalletService) hasEntry(ctx context.Context, userID string, t model.CauseType, match func(model.Cause) bool) (bool, error) {
	entries, err := s.store.ListEntries(ctx, userID, "", engine.MaxHistory)
	if err != nil {
		return false, errno.Storage(err)
	}
	for _, e := range entries {
		if e.CauseType != t {
			continue
		}
		cause, err := e.Cause()
		if err != nil {
			continue
		}
		if match(cause) {
			return true, nil
		}
	}
	return false, nil
}

type TradeResult struct {
	OrderID     string          `json:"order_id"`
	AmountToken decimal.Decimal `json:"amount_token"`
	AmountFiat  decimal.Decimal `json:"amount_fiat"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	Balance     model.Balance   `json:"balance"`
}

// Buy 用法币余额买入代币，两条流水同事务
func (s *WalletService) Buy(ctx context.Context, userID string, amount decimal.Decimal) (*TradeResult, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	price, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	cost := amount.Mul(price).Round(2)
	if !cost.IsPositive() {
		return nil, errno.ErrInvalidAmount.WithMsg("amount too small to price")
	}
	res := &TradeResult{OrderID: util.NewUUID(), AmountToken: amount, AmountFiat: cost, PriceUSD: price}
	err = s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		if _, err := op.Apply(model.CurrencyFiat, cost.Neg(),
			model.BuyWithFiat{OrderID: res.OrderID, PriceUSD: price, CounterAmount: amount}); err != nil {
			return err
		}
		if _, err := op.Apply(model.CurrencyToken, amount,
			model.BuyWithFiat{OrderID: res.OrderID, PriceUSD: price, CounterAmount: cost}); err != nil {
			return err
		}
		res.Balance = op.Balance()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRun("buy", "ok")
	return res, nil
}

// Sell 卖出代币到法币余额
func (s *WalletService) Sell(ctx context.Context, userID string, amount decimal.Decimal) (*TradeResult, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	price, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	value := amount.Mul(price).Round(2)
	if !value.IsPositive() {
		return nil, errno.ErrInvalidAmount.WithMsg("amount too small to price")
	}
	res := &TradeResult{OrderID: util.NewUUID(), AmountToken: amount, AmountFiat: value, PriceUSD: price}
	err = s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		if _, err := op.Apply(model.CurrencyToken, amount.Neg(),
			model.Sell{OrderID: res.OrderID, PriceUSD: price, CounterAmount: value}); err != nil {
			return err
		}
		if _, err := op.Apply(model.CurrencyFiat, value,
			model.Sell{Proceeds: true, OrderID: res.OrderID, PriceUSD: price, CounterAmount: amount}); err != nil {
			return err
		}
		res.Balance = op.Balance()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRun("sell", "ok")
	return res, nil
}

type WithdrawalInput struct {
	Amount  decimal.Decimal        `json:"amount"`
	Method  model.WithdrawalMethod `json:"method"`
	Details map[string]string      `json:"details"`
}

// RequestWithdrawal 法币提现：申请即扣款，同一用户同时只能有一笔待审核
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (*model.WithdrawalRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if in.Method != model.WithdrawalCrypto && in.Method != model.WithdrawalBank {
		return nil, errno.ErrInvalidArgument.WithMsg("unknown withdrawal method %q", in.Method)
	}
	amount := in.Amount.Round(2)
	var w *model.WithdrawalRequest
	err := s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		pending, err := op.Tx().HasPendingWithdrawal(ctx, userID)
		if err != nil {
			return err
		}
		if pending {
			return errno.ErrPendingWithdrawalExists
		}
		now := op.Now()
		w = &model.WithdrawalRequest{
			ID:         util.NewUUID(),
			UserID:     userID,
			AmountFiat: amount,
			Method:     in.Method,
			Details:    in.Details,
			Status:     model.WithdrawalPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := op.Apply(model.CurrencyFiat, amount.Neg(),
			model.WithdrawalRequestDebit{WithdrawalID: w.ID, Method: string(in.Method)}); err != nil {
			return err
		}
		return op.Tx().CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 提现申请 id=%s user=%s amount=%s method=%s", w.ID, userID, amount, in.Method)
	return w, nil
}

func (s *WalletService) ListWithdrawals(ctx context.Context, userID string) ([]*model.WithdrawalRequest, error) {
	ws, err := s.store.ListWithdrawals(ctx, userID)
	return ws, errno.Storage(err)
}

// ListWithdrawalsByStatus 管理端按状态列出全部用户的提现申请
func (s *WalletService) ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.WithdrawalRequest, error) {
	if status != "" && status != model.WithdrawalPending && status != model.WithdrawalApproved && status != model.WithdrawalRejected {
		return nil, errno.ErrInvalidArgument.WithMsg("unknown withdrawal status %q", status)
	}
	if limit <= 0 || limit > engine.MaxHistory {
		limit = engine.MaxHistory
	}
	ws, err := s.store.ListWithdrawalsByStatus(ctx, status, limit)
	return ws, errno.Storage(err)
}

// ApproveWithdrawal 资金在申请时已扣，审核通过只改状态
func (s *WalletService) ApproveWithdrawal(ctx context.Context, adminID, userID, withdrawalID, notes string) (*model.WithdrawalRequest, error) {
	return s.review(ctx, adminID, userID, withdrawalID, notes, model.WithdrawalApproved)
}

// RejectWithdrawal 驳回并退回法币
func (s *WalletService) RejectWithdrawal(ctx context.Context, adminID, userID, withdrawalID, notes string) (*model.WithdrawalRequest, error) {
	return s.review(ctx, adminID, userID, withdrawalID, notes, model.WithdrawalRejected)
}

func (s *WalletService) review(ctx context.Context, adminID, userID, withdrawalID, notes string, to model.WithdrawalStatus) (*model.WithdrawalRequest, error) {
	var w *model.WithdrawalRequest
	err := s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		var err error
		if w, err = op.Tx().LockWithdrawal(ctx, withdrawalID); err != nil {
			return err
		}
		if w.UserID != userID {
			return errno.ErrWithdrawalNotFound
		}
		if w.Status != model.WithdrawalPending {
			return errno.ErrInvalidState.WithMsg("withdrawal %s is %s", withdrawalID, w.Status)
		}
		if to == model.WithdrawalRejected {
			if _, err := op.Apply(model.CurrencyFiat, w.AmountFiat,
				model.WithdrawalRejectedCredit{WithdrawalID: w.ID, AdminID: adminID, Reason: notes}); err != nil {
				return err
			}
		}
		now := op.Now()
		w.Status = to
		w.AdminNotes = notes
		w.ReviewedBy = adminID
		w.ReviewedAt = &now
		w.UpdatedAt = now
		if err := op.Tx().SaveWithdrawal(ctx, w); err != nil {
			return err
		}
		return op.Audit(&model.AdminAuditLog{
			AdminID:      adminID,
			Action:       "WITHDRAWAL_" + string(to),
			TargetUserID: userID,
			Payload:      map[string]any{"withdrawal_id": w.ID, "amount": w.AmountFiat.String(), "notes": notes},
		})
	})
	if err != nil {
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 提现审核 id=%s status=%s admin=%s", withdrawalID, to, adminID)
	return w, nil
}

// bankFiatPerUSD 银行汇款支持的法币及每 1 USD 对应的数量
var bankFiatPerUSD = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"INR": decimal.NewFromInt(83),
	"AED": decimal.RequireFromString("3.67"),
}

type BankBuyInput struct {
	BankRegion      string          `json:"bank_region"`
	FiatAmount      decimal.Decimal `json:"fiat_amount"`
	FiatCurrency    string          `json:"fiat_currency"`
	PaymentProofURL string          `json:"payment_proof_url"`
	ReferenceNote   string          `json:"reference_note"`
}

// RequestBankBuy 登记银行汇款买币申请，按当前价格锁定可得代币数量，审核通过前不动余额
func (s *WalletService) RequestBankBuy(ctx context.Context, userID string, in BankBuyInput) (*model.BuyRequest, error) {
	fiat := in.FiatAmount.Round(2)
	if !fiat.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(in.FiatCurrency))
	perUSD, ok := bankFiatPerUSD[currency]
	if !ok {
		return nil, errno.ErrInvalidArgument.WithMsg("unsupported fiat currency %q", in.FiatCurrency)
	}
	price, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	amount := fiat.Div(perUSD).Div(price).Round(8)
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount.WithMsg("amount too small to price")
	}
	var r *model.BuyRequest
	err = s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		if b := op.Balance(); b.Frozen() {
			return errno.ErrBalanceFrozen
		}
		now := op.Now()
		r = &model.BuyRequest{
			ID:              util.NewUUID(),
			UserID:          userID,
			BankRegion:      in.BankRegion,
			FiatAmount:      fiat,
			FiatCurrency:    currency,
			PaymentProofURL: in.PaymentProofURL,
			ReferenceNote:   in.ReferenceNote,
			LockedPriceUSD:  price,
			LockedToken:     amount,
			LockedAt:        now,
			Status:          model.BuyRequestPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return op.Tx().CreateBuyRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 银行买币申请 id=%s user=%s fiat=%s %s token=%s price=%s", r.ID, userID, fiat, currency, amount, price)
	return r, nil
}

// ListBuyRequests userID 为空时列出全部用户的申请
func (s *WalletService) ListBuyRequests(ctx context.Context, userID string, status model.BuyRequestStatus, limit int) ([]*model.BuyRequest, error) {
	switch status {
	case "", model.BuyRequestPending, model.BuyRequestApproved, model.BuyRequestRejected:
	default:
		return nil, errno.ErrInvalidArgument.WithMsg("unknown buy request status %q", status)
	}
	if limit <= 0 || limit > engine.MaxHistory {
		limit = engine.MaxHistory
	}
	rs, err := s.store.ListBuyRequests(ctx, userID, status, limit)
	return rs, errno.Storage(err)
}

// ApproveBuyRequest 确认到账后按锁定数量入账代币
func (s *WalletService) ApproveBuyRequest(ctx context.Context, adminID, userID, requestID, notes string) (*model.BuyRequest, error) {
	return s.reviewBuy(ctx, adminID, userID, requestID, notes, model.BuyRequestApproved)
}

func (s *WalletService) RejectBuyRequest(ctx context.Context, adminID, userID, requestID, notes string) (*model.BuyRequest, error) {
	return s.reviewBuy(ctx, adminID, userID, requestID, notes, model.BuyRequestRejected)
}

func (s *WalletService) reviewBuy(ctx context.Context, adminID, userID, requestID, notes string, to model.BuyRequestStatus) (*model.BuyRequest, error) {
	var r *model.BuyRequest
	err := s.engine.Atomically(ctx, userID, func(op *engine.Op) error {
		var err error
		if r, err = op.Tx().LockBuyRequest(ctx, requestID); err != nil {
			return err
		}
		if r.UserID != userID {
			return errno.ErrBuyRequestNotFound
		}
		if r.Status != model.BuyRequestPending {
			return errno.ErrInvalidState.WithMsg("buy request %s is %s", requestID, r.Status)
		}
		if to == model.BuyRequestApproved {
			if _, err := op.Apply(model.CurrencyToken, r.LockedToken, model.BankDepositCredit{
				DepositRequestID: r.ID,
				FiatAmount:       r.FiatAmount,
				FiatCurrency:     r.FiatCurrency,
				PriceUSD:         r.LockedPriceUSD,
			}); err != nil {
				return err
			}
		}
		now := op.Now()
		r.Status = to
		r.AdminNotes = notes
		r.ReviewedBy = adminID
		r.ReviewedAt = &now
		r.UpdatedAt = now
		if err := op.Tx().SaveBuyRequest(ctx, r); err != nil {
			return err
		}
		return op.Audit(&model.AdminAuditLog{
			AdminID:      adminID,
			Action:       "BUY_REQUEST_" + string(to),
			TargetUserID: userID,
			Payload: map[string]any{
				"buy_request_id": r.ID,
				"fiat_amount":    r.FiatAmount.String(),
				"fiat_currency":  r.FiatCurrency,
				"token_amount":   r.LockedToken.String(),
				"notes":          notes,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 银行买币审核 id=%s status=%s admin=%s", requestID, to, adminID)
	return r, nil
}

type partnerCreditPayload struct {
	Code       string          `json:"code"`
	PartnerRef string          `json:"partner_ref"`
	Amount     decimal.Decimal `json:"amount"`
}

// RedeemPartnerCode 合作方兑换码：先在合作方核销，再给用户入账法币。
// 核销成功后入账失败写补偿记录，用户的钱不会丢。
func (s *WalletService) RedeemPartnerCode(ctx context.Context, userID, code string) (*model.LedgerEntry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errno.ErrInvalidArgument.WithMsg("code required")
	}
	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, errno.Storage(err)
	}
	// 冻结账户先拒绝，避免核销后无法入账
	if bal.Frozen() {
		return nil, errno.ErrBalanceFrozen
	}
	credit, err := s.partner.VerifyAndBurnCode(ctx, code)
	if err != nil {
		hlog.CtxWarnf(ctx, "[Wallet] 合作方核销失败 user=%s: %v", userID, err)
		return nil, fmt.Errorf("%w: %w", errno.ErrPartnerRedeemFailed, err)
	}
	cause := model.PartnerDeposit{PartnerRef: credit.Reference, Code: code}
	entry, err := s.engine.ApplyEntry(ctx, userID, model.CurrencyFiat, credit.Amount, cause)
	if err != nil {
		p := partnerCreditPayload{Code: code, PartnerRef: credit.Reference, Amount: credit.Amount}
		if cerr := s.comp.Record(ctx, model.CompensatePartnerCredit, code, userID, p, err); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	hlog.CtxInfof(ctx, "[Wallet] 合作方兑换入账 user=%s amount=%s ref=%s", userID, credit.Amount, credit.Reference)
	return entry, nil
}

func (s *WalletService) compensatePartnerCredit(ctx context.Context, c *model.Compensation) error {
	p, err := decodePayload[partnerCreditPayload](c)
	if err != nil {
		return err
	}
	done, err := s.hasEntry(ctx, c.UserID, model.CausePartnerDepositCredit, func(cause model.Cause) bool {
		pd, ok := cause.(model.PartnerDeposit)
		return ok && pd.Code == p.Code
	})
	if err != nil || done {
		return err
	}
	_, err = s.engine.ApplyEntry(ctx, c.UserID, model.CurrencyFiat, p.Amount, model.PartnerDeposit{PartnerRef: p.PartnerRef, Code: p.Code})
	return err
}
