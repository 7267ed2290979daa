package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/service"
)

// Handler 对外接口，只做参数绑定与错误码映射，业务全部在 service 层
type Handler struct {
	engine   *engine.Engine
	wallet   *service.WalletService
	softlock *service.SoftLockService
	launches *service.TokenLaunchService
	price    *service.PriceService
}

func New(e *engine.Engine, wallet *service.WalletService, softlock *service.SoftLockService,
	launches *service.TokenLaunchService, price *service.PriceService) *Handler {
	return &Handler{
		engine:   e,
		wallet:   wallet,
		softlock: softlock,
		launches: launches,
		price:    price,
	}
}

// StatusOf 错误分类 -> HTTP 状态码
func StatusOf(err error) int {
	switch errno.KindOf(err) {
	case errno.KindValidation:
		return consts.StatusBadRequest
	case errno.KindNotFound:
		return consts.StatusNotFound
	case errno.KindConflict:
		return consts.StatusConflict
	case errno.KindExternal:
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

func renderError(ctx context.Context, c *app.RequestContext, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "[Handler] %s %s: %v", c.Method(), c.Path(), err)
		// 存储细节不外露
		msg = "internal error"
	}
	c.JSON(status, map[string]interface{}{
		"code":      errno.CodeOf(err),
		"error":     msg,
		"retryable": errno.IsRetryable(err),
	})
}

func badRequest(c *app.RequestContext, err error) {
	c.JSON(consts.StatusBadRequest, map[string]interface{}{
		"code":  errno.ErrInvalidArgument.Code,
		"error": err.Error(),
	})
}

// queryLimit limit 参数，非法或缺省时返回 def
func queryLimit(c *app.RequestContext, def int) int {
	v := c.Query("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func Ping(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{"message": "pong"})
}
