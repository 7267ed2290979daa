package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/robfig/cron/v3"

	"github.com/gogogo1024/custody-ledger/biz/metrics"
)

const (
	sweepLockKey      = "custody/lock/softlock_sweep"
	compensateLockKey = "custody/lock/compensate_retry"
	sweepJobTimeout   = time.Minute
)

// Locker 多节点部署时保证后台任务同一时刻只在一个节点执行
type Locker interface {
	TryLock(key string) (unlock func(), ok bool, err error)
}

// Sweeper 定时任务：过期兑换码回收、补偿记录重试
type Sweeper struct {
	softlock *SoftLockService
	comp     *CompensationService
	locker   Locker
	cron     *cron.Cron
}

// NewSweeper locker 为 nil 时按单节点运行
func NewSweeper(softlock *SoftLockService, comp *CompensationService, locker Locker) *Sweeper {
	l := cronLogger{}
	return &Sweeper{
		softlock: softlock,
		comp:     comp,
		locker:   locker,
		cron:     cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)), cron.WithLogger(l)),
	}
}

// Start 按 cron 表达式注册任务并启动，例如 "@every 30s"
func (s *Sweeper) Start(sweepSpec, compensateSpec string) error {
	if _, err := s.cron.AddFunc(sweepSpec, func() { s.run("softlock_sweep", sweepLockKey, s.SweepOnce) }); err != nil {
		return fmt.Errorf("sweep spec %q: %w", sweepSpec, err)
	}
	if _, err := s.cron.AddFunc(compensateSpec, func() { s.run("compensate_retry", compensateLockKey, s.CompensateOnce) }); err != nil {
		return fmt.Errorf("compensate spec %q: %w", compensateSpec, err)
	}
	s.cron.Start()
	hlog.Infof("[Sweeper] 已启动 sweep=%s compensate=%s", sweepSpec, compensateSpec)
	return nil
}

// Stop 等待正在执行的任务结束
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		hlog.Warnf("[Sweeper] 停止超时，放弃等待")
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	n, err := s.softlock.SweepExpired(ctx)
	if n > 0 {
		hlog.CtxInfof(ctx, "[Sweeper] 回收过期兑换码 %d 条", n)
	}
	return err
}

func (s *Sweeper) CompensateOnce(ctx context.Context) error {
	done, dead, err := s.comp.RetryPending(ctx)
	if done+dead > 0 {
		hlog.CtxInfof(ctx, "[Sweeper] 补偿重试 done=%d dead=%d", done, dead)
	}
	return err
}

func (s *Sweeper) run(task, key string, fn func(ctx context.Context) error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(key)
		if err != nil {
			hlog.Warnf("[Sweeper] %s 获取Consul锁失败: %v", task, err)
			metrics.RecordRun(task, "lock_error")
			return
		}
		if !ok {
			metrics.RecordRun(task, "skipped")
			return
		}
		defer unlock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sweepJobTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		hlog.Errorf("[Sweeper] %s 执行失败: %v", task, err)
		metrics.RecordRun(task, "error")
		return
	}
	metrics.RecordRun(task, "ok")
}

// cronLogger 把 cron 的日志转到 hlog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	hlog.Debugf("[cron] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	hlog.Errorf("[cron] %s: %v %v", msg, err, keysAndValues)
}
