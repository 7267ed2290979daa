package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/middleware"
)

func (h *Handler) AdminAdjust(ctx context.Context, c *app.RequestContext) {
	var req service.AdjustInput
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.wallet.ManualAdjust(ctx, middleware.AdminID(c), c.Param("id"), req)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, entry)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminFreeze(ctx context.Context, c *app.RequestContext) {
	h.setStatus(ctx, c, h.wallet.Freeze)
}

func (h *Handler) AdminUnfreeze(ctx context.Context, c *app.RequestContext) {
	h.setStatus(ctx, c, h.wallet.Unfreeze)
}

func (h *Handler) setStatus(ctx context.Context, c *app.RequestContext,
	fn func(ctx context.Context, adminID, userID, reason string) error) {
	var req reasonRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID := c.Param("id")
	if err := fn(ctx, middleware.AdminID(c), userID, req.Reason); err != nil {
		renderError(ctx, c, err)
		return
	}
	b, err := h.engine.GetBalance(ctx, userID)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, b)
}

// AdminReconcile 对账，drift 非零说明流水与余额不一致
func (h *Handler) AdminReconcile(ctx context.Context, c *app.RequestContext) {
	r, err := h.engine.Reconcile(ctx, c.Param("id"))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, r)
}

type reviewRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes"`
}

func (h *Handler) AdminApproveWithdrawal(ctx context.Context, c *app.RequestContext) {
	review(ctx, c, h.wallet.ApproveWithdrawal)
}

func (h *Handler) AdminRejectWithdrawal(ctx context.Context, c *app.RequestContext) {
	review(ctx, c, h.wallet.RejectWithdrawal)
}

// AdminListWithdrawals 全部用户的提现申请，status 可选
func (h *Handler) AdminListWithdrawals(ctx context.Context, c *app.RequestContext) {
	list, err := h.wallet.ListWithdrawalsByStatus(ctx, model.WithdrawalStatus(c.Query("status")), queryLimit(c, engine.MaxHistory))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"withdrawals": list})
}

func (h *Handler) AdminListBuyRequests(ctx context.Context, c *app.RequestContext) {
	list, err := h.wallet.ListBuyRequests(ctx, c.Query("user_id"), model.BuyRequestStatus(c.Query("status")), queryLimit(c, engine.MaxHistory))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"buy_requests": list})
}

func (h *Handler) AdminApproveBuyRequest(ctx context.Context, c *app.RequestContext) {
	review(ctx, c, h.wallet.ApproveBuyRequest)
}

func (h *Handler) AdminRejectBuyRequest(ctx context.Context, c *app.RequestContext) {
	review(ctx, c, h.wallet.RejectBuyRequest)
}

// review 审核类接口：路径带申请 id，请求体带所属用户与备注
func review[T any](ctx context.Context, c *app.RequestContext,
	fn func(ctx context.Context, adminID, userID, id, notes string) (T, error)) {
	var req reviewRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := fn(ctx, middleware.AdminID(c), req.UserID, c.Param("id"), req.Notes)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, out)
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (h *Handler) AdminSetPrice(ctx context.Context, c *app.RequestContext) {
	var req priceRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.price.SetPrice(ctx, middleware.AdminID(c), req.Price); err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"price": req.Price})
}
