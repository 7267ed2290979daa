package middleware

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"
)

// PartnerAuth 合作方回调使用共享密钥
func PartnerAuth(secret string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		got := c.GetHeader(HeaderPartnerSecret)
		if secret == "" || subtle.ConstantTimeCompare(got, []byte(secret)) != 1 {
			hlog.CtxWarnf(ctx, "[PartnerAuth] rejected request from %s", c.ClientIP())
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]interface{}{
				"code":  "UNAUTHENTICATED",
				"error": "invalid partner secret",
			})
			return
		}
		c.Next(ctx)
	}
}

// RateLimiter 按客户端 IP 的令牌桶
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		// 简单上限，避免 key 无限增长
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Handler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if rl.limit <= 0 {
			c.Next(ctx)
			return
		}
		key := c.ClientIP()
		if !rl.get(key).Allow() {
			hlog.CtxWarnf(ctx, "[RateLimiter] rate limit exceeded key=%s path=%s", key, c.Path())
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]interface{}{
				"code":  "RATE_LIMITED",
				"error": "too many requests",
			})
			return
		}
		c.Next(ctx)
	}
}
