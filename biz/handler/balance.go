package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/middleware"
)

// GetBalance 首次访问时开户
func (h *Handler) GetBalance(ctx context.Context, c *app.RequestContext) {
	b, err := h.engine.OpenBalance(ctx, middleware.UserID(c))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, b)
}

// ListLedger 流水查询，currency 可选，最多 100 条
func (h *Handler) ListLedger(ctx context.Context, c *app.RequestContext) {
	currency := model.Currency(c.Query("currency"))
	if currency != "" && !currency.Valid() {
		renderError(ctx, c, errno.ErrInvalidCurrency)
		return
	}
	entries, err := h.engine.History(ctx, middleware.UserID(c), currency, queryLimit(c, engine.MaxHistory))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"entries": entries})
}

type internalTransferRequest struct {
	ToUserID string          `json:"to_user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
}

func (h *Handler) InternalTransfer(ctx context.Context, c *app.RequestContext) {
	var req internalTransferRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.wallet.InternalTransfer(ctx, middleware.UserID(c), req.ToUserID, req.Amount, req.Note)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

type tradeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) Buy(ctx context.Context, c *app.RequestContext) {
	var req tradeRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.wallet.Buy(ctx, middleware.UserID(c), req.Amount)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

func (h *Handler) Sell(ctx context.Context, c *app.RequestContext) {
	var req tradeRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.wallet.Sell(ctx, middleware.UserID(c), req.Amount)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

func (h *Handler) RequestWithdrawal(ctx context.Context, c *app.RequestContext) {
	var req service.WithdrawalInput
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.wallet.RequestWithdrawal(ctx, middleware.UserID(c), req)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, w)
}

func (h *Handler) ListWithdrawals(ctx context.Context, c *app.RequestContext) {
	list, err := h.wallet.ListWithdrawals(ctx, middleware.UserID(c))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"withdrawals": list})
}

// RequestBankBuy 银行汇款买币，价格在申请时锁定
func (h *Handler) RequestBankBuy(ctx context.Context, c *app.RequestContext) {
	var req service.BankBuyInput
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.wallet.RequestBankBuy(ctx, middleware.UserID(c), req)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, r)
}

func (h *Handler) ListBuyRequests(ctx context.Context, c *app.RequestContext) {
	list, err := h.wallet.ListBuyRequests(ctx, middleware.UserID(c),
		model.BuyRequestStatus(c.Query("status")), queryLimit(c, engine.MaxHistory))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"buy_requests": list})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// RedeemPartnerCode 合作方兑换码充值法币
func (h *Handler) RedeemPartnerCode(ctx context.Context, c *app.RequestContext) {
	var req redeemRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.wallet.RedeemPartnerCode(ctx, middleware.UserID(c), req.Code)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, entry)
}
