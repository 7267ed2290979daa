// Package engine 是余额变动的唯一入口：追加流水与更新余额在同一存储事务内完成。
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/metrics"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/util"
)

// MaxHistory 单次查询流水的上限
const MaxHistory = 100

// Commit 事务提交后的快照，交给 CommitHook 做缓存失效、事件投递等
type Commit struct {
	UserID  string
	Balance model.Balance
	Entries []*model.LedgerEntry
}

// CommitHook 在事务提交后调用，失败不影响已提交的变动
type CommitHook interface {
	AfterCommit(ctx context.Context, c *Commit)
}

// BalanceCache 余额读缓存，只服务查询，资金变动始终以存储中的行锁为准。
// Invalidate 传入刚提交的余额行，实现方记下它的 UpdatedAt；
// 之后 Set 的行若比该版本旧（读库与提交并发时出现），必须丢弃。
type BalanceCache interface {
	Get(ctx context.Context, userID string) (*model.Balance, bool)
	Set(ctx context.Context, b *model.Balance)
	Invalidate(ctx context.Context, committed *model.Balance)
}

type Engine struct {
	store  Store
	nextID func() (uint64, error)
	now    func() time.Time
	hooks  []CommitHook
	cache  BalanceCache
	logger *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() (uint64, error)) Option {
	return func(e *Engine) { e.nextID = fn }
}

func WithCommitHook(h CommitHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

func WithBalanceCache(c BalanceCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		nextID: util.NextID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.L()
	}
	return e
}

func (e *Engine) Store() Store {
	return e.store
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// ApplyEntry 追加一条流水并同步更新可用余额
func (e *Engine) ApplyEntry(ctx context.Context, userID string, currency model.Currency, amount decimal.Decimal, cause model.Cause) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := e.Atomically(ctx, userID, func(op *Op) error {
		var err error
		entry, err = op.Apply(currency, amount, cause)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Atomically 在一个事务内锁定用户余额行并执行 fn。
// fn 只能通过 Op 修改余额；余额行在 fn 成功后统一写回。
func (e *Engine) Atomically(ctx context.Context, userID string, fn func(op *Op) error) error {
	var op *Op
	err := e.store.InTx(ctx, func(tx Tx) error {
		bal, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		op = &Op{engine: e, ctx: ctx, tx: tx, bal: bal, now: e.now()}
		if err := fn(op); err != nil {
			return err
		}
		if op.dirty {
			bal.UpdatedAt = op.now
			return tx.SaveBalance(ctx, bal)
		}
		return nil
	})
	if err != nil {
		err = errno.Storage(err)
		metrics.RecordReject(errno.CodeOf(err))
		return err
	}
	e.afterCommit(ctx, op)
	return nil
}

func (e *Engine) afterCommit(ctx context.Context, op *Op) {
	if op == nil || !op.dirty {
		return
	}
	c := &Commit{UserID: op.bal.UserID, Balance: *op.bal, Entries: op.entries}
	for _, entry := range c.Entries {
		metrics.RecordEntry(string(entry.CauseType), string(entry.Currency))
		e.logger.Info("ledger entry committed",
			zap.Uint64("entry_id", entry.ID),
			zap.String("user_id", entry.UserID),
			zap.String("currency", string(entry.Currency)),
			zap.String("amount", entry.Amount.String()),
			zap.String("cause", string(entry.CauseType)),
		)
	}
	if e.cache != nil {
		e.cache.Invalidate(ctx, &c.Balance)
	}
	for _, h := range e.hooks {
		h.AfterCommit(ctx, c)
	}
}

// OpenBalance 首次使用时建档，重复调用返回已有记录
func (e *Engine) OpenBalance(ctx context.Context, userID string) (*model.Balance, error) {
	if userID == "" {
		return nil, errno.ErrInvalidArgument.WithMsg("user id required")
	}
	now := e.now()
	b := &model.Balance{
		ID:             util.NewUUID(),
		UserID:         userID,
		TokenAvailable: decimal.Zero,
		TokenLocked:    decimal.Zero,
		FiatAvailable:  decimal.Zero,
		Status:         model.BalanceActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := e.store.CreateBalance(ctx, b); err != nil {
		return nil, errno.Storage(err)
	}
	return e.store.GetBalance(ctx, userID)
}

// GetBalance 读穿缓存；回填是否生效由缓存按最近一次提交的版本判定
func (e *Engine) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	if e.cache != nil {
		if b, ok := e.cache.Get(ctx, userID); ok {
			return b, nil
		}
	}
	b, err := e.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, errno.Storage(err)
	}
	if e.cache != nil {
		e.cache.Set(ctx, b)
	}
	return b, nil
}

// History 最新的流水在前；currency 为空表示全部币种
func (e *Engine) History(ctx context.Context, userID string, currency model.Currency, limit int) ([]*model.LedgerEntry, error) {
	if currency != "" && !currency.Valid() {
		return nil, errno.ErrInvalidCurrency
	}
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	entries, err := e.store.ListEntries(ctx, userID, currency, limit)
	return entries, errno.Storage(err)
}

// SetStatus 冻结 / 解冻，审计记录与状态变更同事务
func (e *Engine) SetStatus(ctx context.Context, userID string, status model.BalanceStatus, audit *model.AdminAuditLog) error {
	if status != model.BalanceActive && status != model.BalanceFrozen {
		return errno.ErrInvalidArgument.WithMsg("unknown balance status %q", status)
	}
	return e.Atomically(ctx, userID, func(op *Op) error {
		if op.bal.Status == status {
			return nil
		}
		op.bal.Status = status
		op.dirty = true
		if audit != nil {
			return op.Audit(audit)
		}
		return nil
	})
}

type ReconcileLine struct {
	Currency  model.Currency  `json:"currency"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Drift     decimal.Decimal `json:"drift"`
}

type Reconciliation struct {
	UserID   string          `json:"user_id"`
	Lines    []ReconcileLine `json:"lines"`
	Balanced bool            `json:"balanced"`
}

// Reconcile 对账：每个币种的流水之和应等于 可用 + 冻结
func (e *Engine) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	b, err := e.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, errno.Storage(err)
	}
	sums, err := e.store.SumEntries(ctx, userID)
	if err != nil {
		return nil, errno.Storage(err)
	}
	r := &Reconciliation{UserID: userID, Balanced: true}
	for _, c := range []model.Currency{model.CurrencyToken, model.CurrencyFiat} {
		line := ReconcileLine{
			Currency:  c,
			LedgerSum: sums[c],
			Available: b.Available(c),
			Locked:    b.Locked(c),
		}
		line.Drift = line.LedgerSum.Sub(b.Holdings(c))
		if !line.Drift.IsZero() {
			r.Balanced = false
		}
		r.Lines = append(r.Lines, line)
	}
	if !r.Balanced {
		e.logger.Error("ledger drift detected", zap.String("user_id", userID), zap.Any("lines", r.Lines))
	}
	return r, nil
}

// Op 事务内的余额操作句柄，只在 Atomically 的回调中有效
type Op struct {
	engine  *Engine
	ctx     context.Context
	tx      Tx
	bal     *model.Balance
	now     time.Time
	dirty   bool
	entries []*model.LedgerEntry
}

// Tx 附属记录（软锁、发币申请、提现单等）使用同一事务
func (op *Op) Tx() Tx {
	return op.tx
}

func (op *Op) Now() time.Time {
	return op.now
}

func (op *Op) Balance() model.Balance {
	return *op.bal
}

func (op *Op) checkActive() error {
	if op.bal.Frozen() {
		return errno.ErrBalanceFrozen
	}
	return nil
}

// Apply 追加流水，可用余额 += amount
func (op *Op) Apply(currency model.Currency, amount decimal.Decimal, cause model.Cause) (*model.LedgerEntry, error) {
	if !currency.Valid() {
		return nil, errno.ErrInvalidCurrency
	}
	if cause == nil {
		return nil, errno.ErrInvalidCause.WithMsg("cause required")
	}
	if amount.IsZero() {
		return nil, errno.ErrInvalidAmount
	}
	if !model.Allows(cause, amount) {
		return nil, errno.ErrInvalidCause.WithMsg("%s does not accept amount %s", cause.Type(), amount)
	}
	if err := op.checkActive(); err != nil {
		return nil, err
	}
	next := op.bal.Available(currency).Add(amount)
	if next.IsNegative() {
		return nil, errno.ErrInsufficientBalance
	}
	entry, err := op.append(currency, amount, cause)
	if err != nil {
		return nil, err
	}
	op.bal.SetAvailable(currency, next)
	return entry, nil
}

// Lock 可用 -> 冻结，只是预留，不产生流水
func (op *Op) Lock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errno.ErrInvalidAmount
	}
	if err := op.checkActive(); err != nil {
		return err
	}
	if op.bal.TokenAvailable.LessThan(amount) {
		return errno.ErrInsufficientBalance
	}
	op.bal.TokenAvailable = op.bal.TokenAvailable.Sub(amount)
	op.bal.TokenLocked = op.bal.TokenLocked.Add(amount)
	op.dirty = true
	return nil
}

// Unlock 冻结 -> 可用，预留被释放
func (op *Op) Unlock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errno.ErrInvalidAmount
	}
	if err := op.checkActive(); err != nil {
		return err
	}
	if op.bal.TokenLocked.LessThan(amount) {
		return errno.ErrInvalidState.WithMsg("locked %s is below release amount %s", op.bal.TokenLocked, amount)
	}
	op.bal.TokenLocked = op.bal.TokenLocked.Sub(amount)
	op.bal.TokenAvailable = op.bal.TokenAvailable.Add(amount)
	op.dirty = true
	return nil
}

// SettleLocked 冻结资金真正离开平台：冻结 -= amount，并记一笔扣款流水
func (op *Op) SettleLocked(amount decimal.Decimal, cause model.Cause) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	if cause == nil || cause.Direction() != model.DirectionDebit {
		return nil, errno.ErrInvalidCause.WithMsg("settlement needs a debit cause")
	}
	if err := op.checkActive(); err != nil {
		return nil, err
	}
	if op.bal.TokenLocked.LessThan(amount) {
		return nil, errno.ErrInvalidState.WithMsg("locked %s is below settle amount %s", op.bal.TokenLocked, amount)
	}
	entry, err := op.append(model.CurrencyToken, amount.Neg(), cause)
	if err != nil {
		return nil, err
	}
	op.bal.TokenLocked = op.bal.TokenLocked.Sub(amount)
	return entry, nil
}

// Audit 管理员审计记录随资金变动一起提交
func (op *Op) Audit(a *model.AdminAuditLog) error {
	if a.ID == "" {
		a.ID = util.NewUUID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = op.now
	}
	return op.tx.AppendAudit(op.ctx, a)
}

func (op *Op) append(currency model.Currency, amount decimal.Decimal, cause model.Cause) (*model.LedgerEntry, error) {
	meta, err := json.Marshal(cause)
	if err != nil {
		return nil, fmt.Errorf("marshal %s metadata: %w", cause.Type(), err)
	}
	id, err := op.engine.nextID()
	if err != nil {
		return nil, fmt.Errorf("generate entry id: %w", err)
	}
	entry := &model.LedgerEntry{
		ID:        id,
		UserID:    op.bal.UserID,
		BalanceID: op.bal.ID,
		Currency:  currency,
		Amount:    amount,
		CauseType: cause.Type(),
		Metadata:  meta,
		CreatedAt: op.now,
	}
	if err := op.tx.AppendEntry(op.ctx, entry); err != nil {
		return nil, err
	}
	op.entries = append(op.entries, entry)
	op.dirty = true
	return entry, nil
}
