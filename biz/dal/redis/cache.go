package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/redis/go-redis/v9"

	"github.com/gogogo1024/custody-ledger/biz/model"
)

const (
	balanceKeyPrefix  = "custody:balance:"
	fenceKeyPrefix    = "custody:balance:fence:"
	DefaultBalanceTTL = 5 * time.Second
	// fenceTTL 需覆盖一次读库回填的最长耗时
	fenceTTL = time.Minute
)

// setIfNotStale 行版本（微秒）早于失效栅栏时不回填
var setIfNotStale = redis.NewScript(`
local fence = redis.call('GET', KEYS[2])
if fence and tonumber(fence) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// BalanceCache 余额查询缓存，提交后删除并立栅栏，读时回填
type BalanceCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewBalanceCache(client redis.Cmdable, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func (c *BalanceCache) Get(ctx context.Context, userID string) (*model.Balance, bool) {
	raw, err := c.client.Get(ctx, balanceKeyPrefix+userID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			hlog.CtxWarnf(ctx, "[BalanceCache] get failed, user=%s, err=%v", userID, err)
		}
		return nil, false
	}
	var b model.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false
	}
	return &b, true
}

// Set 与栅栏比较在脚本内原子完成；版本按微秒比较，与 Postgres 时间精度一致
func (c *BalanceCache) Set(ctx context.Context, b *model.Balance) {
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	keys := []string{balanceKeyPrefix + b.UserID, fenceKeyPrefix + b.UserID}
	if err := setIfNotStale.Run(ctx, c.client, keys, raw, b.UpdatedAt.UnixMicro(), c.ttl.Milliseconds()).Err(); err != nil {
		hlog.CtxWarnf(ctx, "[BalanceCache] set failed, user=%s, err=%v", b.UserID, err)
	}
}

func (c *BalanceCache) Invalidate(ctx context.Context, committed *model.Balance) {
	userID := committed.UserID
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, fenceKeyPrefix+userID, committed.UpdatedAt.UnixMicro(), fenceTTL)
		p.Del(ctx, balanceKeyPrefix+userID)
		return nil
	})
	if err != nil {
		// 栅栏没写成时退化为 TTL 内的短暂陈旧
		hlog.CtxWarnf(ctx, "[BalanceCache] invalidate failed, user=%s, err=%v", userID, err)
	}
}

// PriceCache 官方价格缓存，值为十进制字符串
type PriceCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewPriceCache(client redis.Cmdable, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func (c *PriceCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, "custody:price:"+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			hlog.CtxWarnf(ctx, "[PriceCache] get failed, key=%s, err=%v", key, err)
		}
		return "", false
	}
	return v, true
}

func (c *PriceCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, "custody:price:"+key, value, c.ttl).Err(); err != nil {
		hlog.CtxWarnf(ctx, "[PriceCache] set failed, key=%s, err=%v", key, err)
	}
}
