package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
)

const priceKey = "SGC_OFFICIAL_PRICE_USD"

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func TestPriceServiceReadsThroughCache(t *testing.T) {
	e := newEnv(t)
	cache := &mapCache{m: map[string]string{}}
	p := service.NewPriceService(e.store, cache, priceKey, e.clock.Now)

	_, err := p.CurrentRate(ctx)
	assert.ErrorIs(t, err, errno.ErrPriceUnavailable)

	require.NoError(t, p.SetPrice(ctx, "admin", dec("0.25")))
	rate, err := p.CurrentRate(ctx)
	require.NoError(t, err)
	assertDec(t, "0.25", rate)

	st, err := e.store.GetSetting(ctx, priceKey)
	require.NoError(t, err)
	assert.Equal(t, "admin", st.UpdatedBy)

	// 缓存优先
	cache.Set(ctx, priceKey, "0.3")
	rate, err = p.CurrentRate(ctx)
	require.NoError(t, err)
	assertDec(t, "0.3", rate)

	// 缓存内容非法时回源
	cache.Set(ctx, priceKey, "garbage")
	rate, err = p.CurrentRate(ctx)
	require.NoError(t, err)
	assertDec(t, "0.25", rate)

	assert.ErrorIs(t, p.SetPrice(ctx, "admin", dec("0")), errno.ErrInvalidAmount)
}

func TestPriceServiceRejectsBadSetting(t *testing.T) {
	e := newEnv(t)
	p := service.NewPriceService(e.store, nil, priceKey, nil)
	require.NoError(t, e.store.PutSetting(ctx, &model.Setting{Key: priceKey, Value: "-1"}))

	_, err := p.CurrentRate(ctx)
	assert.ErrorIs(t, err, errno.ErrPriceUnavailable)
}
