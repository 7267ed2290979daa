package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/util"
)

// CompensateFunc 执行一次补偿，必须幂等：同一记录可能被重复执行
type CompensateFunc func(ctx context.Context, c *model.Compensation) error

// CompensationService 外部动作成功但本地落账失败时的补偿记录与重试。
// 各业务在构造时注册自己的补偿函数，重试任务按 Kind 分发。
type CompensationService struct {
	store    engine.CompensationStore
	now      func() time.Time
	handlers map[model.CompensationKind]CompensateFunc
	batch    int
}

func NewCompensationService(store engine.CompensationStore, now func() time.Time) *CompensationService {
	if now == nil {
		now = time.Now
	}
	return &CompensationService{
		store:    store,
		now:      now,
		handlers: make(map[model.CompensationKind]CompensateFunc),
		batch:    100,
	}
}

// Register 只在启动阶段调用
func (s *CompensationService) Register(kind model.CompensationKind, fn CompensateFunc) {
	s.handlers[kind] = fn
}

// Record 写入待补偿记录；同一 kind+ref 重复写入会被忽略
func (s *CompensationService) Record(ctx context.Context, kind model.CompensationKind, refID, userID string, payload any, cause error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	now := s.now()
	c := &model.Compensation{
		ID:        util.NewUUID(),
		Kind:      kind,
		RefID:     refID,
		UserID:    userID,
		Payload:   raw,
		Status:    model.CompensationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		c.LastError = cause.Error()
	}
	if err := s.store.SaveCompensation(ctx, c); err != nil {
		hlog.CtxErrorf(ctx, "[Compensate] 写入补偿记录失败 kind=%s ref=%s payload=%s: %v", kind, refID, raw, err)
		return err
	}
	hlog.CtxWarnf(ctx, "[Compensate] 已记录补偿 kind=%s ref=%s user=%s cause=%v", kind, refID, userID, cause)
	return nil
}

// RetryPending 执行一轮补偿，返回成功数与转为 DEAD 的数量
func (s *CompensationService) RetryPending(ctx context.Context) (done, dead int, err error) {
	list, err := s.store.ListPendingCompensations(ctx, s.batch)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range list {
		if ctx.Err() != nil {
			return done, dead, ctx.Err()
		}
		switch s.retryOne(ctx, c) {
		case model.CompensationDone:
			done++
		case model.CompensationDead:
			dead++
		}
	}
	return done, dead, nil
}

func (s *CompensationService) retryOne(ctx context.Context, c *model.Compensation) model.CompensationStatus {
	fn, ok := s.handlers[c.Kind]
	var runErr error
	if !ok {
		runErr = fmt.Errorf("no handler for %s", c.Kind)
	} else {
		runErr = fn(ctx, c)
	}

	now := s.now()
	c.LastRetryTime = &now
	c.UpdatedAt = now
	if runErr == nil {
		c.Status = model.CompensationDone
		c.LastError = ""
		metrics.RecordRun("compensate_"+string(c.Kind), "done")
	} else {
		c.RetryCount++
		c.LastError = runErr.Error()
		if c.RetryCount >= model.MaxCompensateRetry {
			c.Status = model.CompensationDead
			metrics.RecordRun("compensate_"+string(c.Kind), "dead")
			hlog.CtxErrorf(ctx, "[Compensate] 超过最大重试次数，需人工处理 kind=%s ref=%s: %v", c.Kind, c.RefID, runErr)
		} else {
			metrics.RecordRun("compensate_"+string(c.Kind), "retry")
			hlog.CtxWarnf(ctx, "[Compensate] 补偿失败 kind=%s ref=%s retry=%d: %v", c.Kind, c.RefID, c.RetryCount, runErr)
		}
	}
	if err := s.store.UpdateCompensation(ctx, c); err != nil {
		hlog.CtxErrorf(ctx, "[Compensate] 更新补偿记录失败 id=%s: %v", c.ID, err)
	}
	return c.Status
}

func decodePayload[T any](c *model.Compensation) (T, error) {
	var v T
	if err := json.Unmarshal(c.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", c.Kind, err)
	}
	return v, nil
}
