package main

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"
	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/gogogo1024/custody-ledger/biz/dal/kafka"
	"github.com/gogogo1024/custody-ledger/biz/dal/pg"
	"github.com/gogogo1024/custody-ledger/biz/dal/redis"
	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/handler"
	"github.com/gogogo1024/custody-ledger/biz/router"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/conf"
	"github.com/gogogo1024/custody-ledger/gateway"
	"github.com/gogogo1024/custody-ledger/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	c := conf.GetConf()

	logger, flush := initLogger(c)
	defer flush()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	// 存储
	store, err := pg.Init(ctx, c.Postgres)
	if err != nil {
		hlog.Fatalf("postgres init failed: %v", err)
	}
	defer store.Close()

	rdb, err := redis.NewClient(ctx, c.Redis)
	if err != nil {
		hlog.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	writers, err := kafka.NewWriters(c.Kafka)
	if err != nil {
		hlog.Fatalf("kafka init failed: %v", err)
	}
	defer writers.Close()
	publisher := kafka.NewPublisher(writers, c.Kafka.Topics["ledger_entries"], c.Kafka.Topics["external_transfers"])
	defer publisher.Close()

	// 账本引擎与业务服务
	e := engine.NewEngine(store,
		engine.WithCommitHook(publisher),
		engine.WithBalanceCache(redis.NewBalanceCache(rdb, redis.DefaultBalanceTTL)),
		engine.WithLogger(logger.Named("ledger")),
	)
	comp := service.NewCompensationService(store, e.Now)
	price := service.NewPriceService(store, redis.NewPriceCache(rdb, c.Pricing.CacheTTL), c.Pricing.PriceKey, e.Now)

	chain, err := gateway.NewChainClient(c.Gateway)
	if err != nil {
		hlog.Fatalf("chain gateway init failed: %v", err)
	}
	partnerClient, err := gateway.NewPartnerClient(c.Gateway)
	if err != nil {
		hlog.Fatalf("partner gateway init failed: %v", err)
	}

	pool, err := ants.NewPool(c.Ledger.SweepWorkers)
	if err != nil {
		hlog.Fatalf("worker pool init failed: %v", err)
	}
	defer pool.Release()

	softlock := service.NewSoftLockService(e, price, chain, comp, service.SoftLockConfig{
		CodePrefix:        c.Ledger.CodePrefix,
		CodeTTL:           c.Ledger.CodeTTL,
		ClaimLeaseTTL:     c.Ledger.ClaimLeaseTTL,
		SettlementAddress: c.Gateway.SettlementAddr,
		SweepBatch:        c.Ledger.SweepBatch,
	}).WithEvents(publisher).WithPool(pool)

	fees, err := service.ParseLaunchFees(c.Ledger)
	if err != nil {
		hlog.Fatalf("invalid launch fees: %v", err)
	}
	launches := service.NewTokenLaunchService(e, service.NewFeeEscrow(e, comp), chain, comp, fees)
	wallet := service.NewWalletService(e, price, partnerClient, comp)

	// 服务注册与后台任务，多节点时由 Consul 锁保证只有一个节点在跑
	var locker service.Locker
	consul, err := service.NewConsulHelperWithAddrs(c.Registry.RegistryAddress)
	if err != nil {
		hlog.Warnf("consul unavailable, background tasks run without leader lock: %v", err)
	} else {
		locker = consul
		if err := consul.Register(c.Registry.NodeID, c.Hertz.Port); err != nil {
			hlog.Warnf("consul register failed: %v", err)
		}
		defer func() { _ = consul.Deregister(c.Registry.NodeID) }()
	}
	sweeper := service.NewSweeper(softlock, comp, locker)
	if err := sweeper.Start(c.Ledger.SweepSpec, c.Ledger.CompensateSpec); err != nil {
		hlog.Fatalf("sweeper start failed: %v", err)
	}

	// HTTP
	h := server.New(server.WithHostPorts(c.Hertz.Address), server.WithExitWaitTime(shutdownTimeout))
	registerMiddleware(h, c)
	router.Register(h, handler.New(e, wallet, softlock, launches, price), router.PartnerOptions{
		Secret:  c.Partner.InternalSecret,
		Limiter: middleware.NewRateLimiter(c.Partner.RateLimit, c.Partner.Burst),
	})

	// Spin 收到 SIGINT/SIGTERM 后先停后台任务，再退出
	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		sweeper.Stop(ctx)
	})

	hlog.Infof("custody ledger listening on %s (env=%s)", c.Hertz.Address, c.Env)
	h.Spin()
}

func registerMiddleware(h *server.Hertz, c *conf.Config) {
	if c.Hertz.EnablePprof {
		pprof.Register(h)
	}
	if c.Hertz.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if c.Hertz.EnableAccessLog {
		h.Use(accesslog.New())
	}
	h.Use(cors.Default())
}
