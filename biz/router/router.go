package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"

	"github.com/gogogo1024/custody-ledger/biz/handler"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/middleware"
)

type PartnerOptions struct {
	Secret  string
	Limiter *middleware.RateLimiter
}

// Register 注册全部路由
func Register(r *server.Hertz, h *handler.Handler, partner PartnerOptions) {
	r.GET("/ping", handler.Ping)
	r.GET("/metrics", adaptor.HertzHandler(metrics.Handler()))

	v1 := r.Group("/api/v1")

	user := v1.Group("", middleware.RequireUser())
	user.GET("/balance", h.GetBalance)
	user.GET("/ledger", h.ListLedger)
	user.POST("/transfers/external", h.ReserveExternalTransfer)
	user.GET("/transfers/external", h.ListExternalTransfers)
	user.POST("/transfers/internal", h.InternalTransfer)
	user.POST("/buy", h.Buy)
	user.POST("/sell", h.Sell)
	user.POST("/withdrawals", h.RequestWithdrawal)
	user.GET("/withdrawals", h.ListWithdrawals)
	user.POST("/buy/bank", h.RequestBankBuy)
	user.GET("/buy/bank", h.ListBuyRequests)
	user.POST("/redeem", h.RedeemPartnerCode)
	user.POST("/tokens", h.CreateLaunch)
	user.GET("/tokens", h.ListLaunches)
	user.GET("/tokens/:id", h.GetLaunch)
	user.PUT("/tokens/:id", h.UpdateLaunch)
	user.POST("/tokens/:id/deploy", h.DeployLaunch)

	p := v1.Group("/partner")
	if partner.Limiter != nil {
		p.Use(partner.Limiter.Handler())
	}
	p.Use(middleware.PartnerAuth(partner.Secret))
	p.POST("/transfers/claim", h.ClaimExternalTransfer)

	admin := v1.Group("/admin", middleware.RequireAdmin())
	admin.POST("/users/:id/adjust", h.AdminAdjust)
	admin.POST("/users/:id/freeze", h.AdminFreeze)
	admin.POST("/users/:id/unfreeze", h.AdminUnfreeze)
	admin.GET("/users/:id/reconcile", h.AdminReconcile)
	admin.GET("/withdrawals", h.AdminListWithdrawals)
	admin.POST("/withdrawals/:id/approve", h.AdminApproveWithdrawal)
	admin.POST("/withdrawals/:id/reject", h.AdminRejectWithdrawal)
	admin.GET("/buy-requests", h.AdminListBuyRequests)
	admin.POST("/buy-requests/:id/approve", h.AdminApproveBuyRequest)
	admin.POST("/buy-requests/:id/reject", h.AdminRejectBuyRequest)
	admin.PUT("/price", h.AdminSetPrice)
}
