package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/middleware"
)

type reserveRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	TargetPlatform string          `json:"target_platform"`
}

// ReserveExternalTransfer 预留代币并生成兑换码
func (h *Handler) ReserveExternalTransfer(ctx context.Context, c *app.RequestContext) {
	var req reserveRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.softlock.Reserve(ctx, middleware.UserID(c), req.Amount, req.TargetPlatform)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, res)
}

func (h *Handler) ListExternalTransfers(ctx context.Context, c *app.RequestContext) {
	list, err := h.softlock.ListTransfers(ctx, middleware.UserID(c), queryLimit(c, 50))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"transfers": list})
}

type claimRequest struct {
	Code string `json:"code"`
}

// ClaimExternalTransfer 合作方凭码领取，成功后才扣减冻结
func (h *Handler) ClaimExternalTransfer(ctx context.Context, c *app.RequestContext) {
	var req claimRequest
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.softlock.Claim(ctx, req.Code)
	if err != nil {
		hlog.CtxWarnf(ctx, "[Claim] code=%s failed: %v", req.Code, err)
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}
