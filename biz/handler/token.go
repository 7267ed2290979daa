package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/middleware"
)

func (h *Handler) CreateLaunch(ctx context.Context, c *app.RequestContext) {
	var req service.CreateLaunchInput
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.launches.CreateDraft(ctx, middleware.UserID(c), &req)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, l)
}

// UpdateLaunch 整体替换草稿内容
func (h *Handler) UpdateLaunch(ctx context.Context, c *app.RequestContext) {
	var req service.CreateLaunchInput
	if err := c.BindAndValidate(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.launches.UpdateDraft(ctx, middleware.UserID(c), c.Param("id"), &req)
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, l)
}

// DeployLaunch 扣费并调用部署，失败时费用已退回
func (h *Handler) DeployLaunch(ctx context.Context, c *app.RequestContext) {
	l, err := h.launches.Deploy(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, l)
}

func (h *Handler) GetLaunch(ctx context.Context, c *app.RequestContext) {
	l, err := h.launches.Get(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, l)
}

func (h *Handler) ListLaunches(ctx context.Context, c *app.RequestContext) {
	list, err := h.launches.List(ctx, middleware.UserID(c))
	if err != nil {
		renderError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"launches": list})
}
