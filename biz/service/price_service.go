package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

// RateSource 代币对法币的当前官方价格
type RateSource interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// PriceCache 见 biz/dal/redis.PriceCache
type PriceCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// PriceService 官方价格存放在 settings 表，读路径走缓存
type PriceService struct {
	store engine.SettingStore
	cache PriceCache
	key   string
	now   func() time.Time
}

func NewPriceService(store engine.SettingStore, cache PriceCache, key string, now func() time.Time) *PriceService {
	if now == nil {
		now = time.Now
	}
	return &PriceService{store: store, cache: cache, key: key, now: now}
}

func (p *PriceService) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(ctx, p.key); ok {
			if rate, err := parseRate(v); err == nil {
				return rate, nil
			}
		}
	}
	st, err := p.store.GetSetting(ctx, p.key)
	if errors.Is(err, errno.ErrSettingNotFound) {
		return decimal.Zero, errno.ErrPriceUnavailable.WithMsg("official price %s not set", p.key)
	}
	if err != nil {
		return decimal.Zero, errno.Storage(err)
	}
	rate, err := parseRate(st.Value)
	if err != nil {
		hlog.CtxErrorf(ctx, "[Price] 官方价格配置非法 key=%s value=%q", p.key, st.Value)
		return decimal.Zero, err
	}
	if p.cache != nil {
		p.cache.Set(ctx, p.key, rate.String())
	}
	return rate, nil
}

// SetPrice 管理员调整官方价格，写库后刷新缓存
func (p *PriceService) SetPrice(ctx context.Context, adminID string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errno.ErrInvalidAmount.WithMsg("price must be positive")
	}
	st := &model.Setting{Key: p.key, Value: price.String(), UpdatedBy: adminID, UpdatedAt: p.now()}
	if err := p.store.PutSetting(ctx, st); err != nil {
		return errno.Storage(err)
	}
	if p.cache != nil {
		p.cache.Set(ctx, p.key, st.Value)
	}
	hlog.CtxInfof(ctx, "[Price] 官方价格更新 key=%s price=%s admin=%s", p.key, st.Value, adminID)
	return nil
}

func parseRate(v string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(v)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, errno.ErrPriceUnavailable.WithMsg("invalid official price %q", v)
	}
	return rate, nil
}
