package middleware

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderAdminID       = "X-Admin-ID"
	HeaderPartnerSecret = "X-Internal-Secret"

	keyUserID  = "user_id"
	keyAdminID = "admin_id"
)

// RequireUser 上游网关已完成认证，这里只读取用户标识
func RequireUser() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		uid := string(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]interface{}{
				"code":  "UNAUTHENTICATED",
				"error": "missing " + HeaderUserID,
			})
			return
		}
		c.Set(keyUserID, uid)
		c.Next(ctx)
	}
}

func RequireAdmin() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		aid := string(c.GetHeader(HeaderAdminID))
		if aid == "" {
			c.AbortWithStatusJSON(consts.StatusForbidden, map[string]interface{}{
				"code":  "FORBIDDEN",
				"error": "admin only",
			})
			return
		}
		c.Set(keyAdminID, aid)
		c.Next(ctx)
	}
}

func UserID(c *app.RequestContext) string {
	return c.GetString(keyUserID)
}

func AdminID(c *app.RequestContext) string {
	return c.GetString(keyAdminID)
}
