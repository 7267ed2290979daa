package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/model"
)

// Tx 单个存储事务内可用的操作。
// Lock* 方法在事务结束前持有行锁；同一事务内先锁余额行，再锁其附属记录。
type Tx interface {
	LockBalance(ctx context.Context, userID string) (*model.Balance, error)
	SaveBalance(ctx context.Context, b *model.Balance) error
	AppendEntry(ctx context.Context, e *model.LedgerEntry) error

	CreateTransfer(ctx context.Context, t *model.ExternalTransfer) error
	LockTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error)
	SaveTransfer(ctx context.Context, t *model.ExternalTransfer) error

	LockLaunch(ctx context.Context, id string) (*model.TokenLaunch, error)
	SaveLaunch(ctx context.Context, l *model.TokenLaunch) error

	CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	SaveWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error
	HasPendingWithdrawal(ctx context.Context, userID string) (bool, error)

	CreateBuyRequest(ctx context.Context, r *model.BuyRequest) error
	LockBuyRequest(ctx context.Context, id string) (*model.BuyRequest, error)
	SaveBuyRequest(ctx context.Context, r *model.BuyRequest) error

	AppendAudit(ctx context.Context, a *model.AdminAuditLog) error
}

type BalanceStore interface {
	// CreateBalance 已存在时不报错，返回 false
	CreateBalance(ctx context.Context, b *model.Balance) (bool, error)
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)
	ListEntries(ctx context.Context, userID string, currency model.Currency, limit int) ([]*model.LedgerEntry, error)
	SumEntries(ctx context.Context, userID string) (map[model.Currency]decimal.Decimal, error)
}

type TransferStore interface {
	GetTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error)
	ListTransfers(ctx context.Context, userID string, limit int) ([]*model.ExternalTransfer, error)
	// ListExpirable 返回已过期、仍为 PENDING_CLAIM 且没有有效领取租约的记录
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*model.ExternalTransfer, error)
	// AcquireClaimLease 条件更新：仅当记录待领取、未过期且无有效租约时成功
	AcquireClaimLease(ctx context.Context, code, token string, now, until time.Time) (bool, error)
	ReleaseClaimLease(ctx context.Context, code, token string) error
	// MarkSettlementPending 外部转账成功但扣款失败时记下外部凭证，之后该记录不再参与领取与过期
	MarkSettlementPending(ctx context.Context, code, ref string, now time.Time) error
}

type LaunchStore interface {
	CreateLaunch(ctx context.Context, l *model.TokenLaunch) error
	GetLaunch(ctx context.Context, id string) (*model.TokenLaunch, error)
	ListLaunches(ctx context.Context, userID string) ([]*model.TokenLaunch, error)
}

type WithdrawalStore interface {
	ListWithdrawals(ctx context.Context, userID string) ([]*model.WithdrawalRequest, error)
	// ListWithdrawalsByStatus 管理端列表，status 为空时不过滤
	ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.WithdrawalRequest, error)
}

type BuyRequestStore interface {
	// ListBuyRequests userID、status 为空时不按该字段过滤，按创建时间倒序
	ListBuyRequests(ctx context.Context, userID string, status model.BuyRequestStatus, limit int) ([]*model.BuyRequest, error)
}

type CompensationStore interface {
	// SaveCompensation 同一 kind+ref 只保留一条
	SaveCompensation(ctx context.Context, c *model.Compensation) error
	ListPendingCompensations(ctx context.Context, limit int) ([]*model.Compensation, error)
	UpdateCompensation(ctx context.Context, c *model.Compensation) error
}

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	PutSetting(ctx context.Context, s *model.Setting) error
}

// Store 账本存储。InTx 内 fn 返回错误时整个事务回滚。
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	BalanceStore
	TransferStore
	LaunchStore
	WithdrawalStore
	BuyRequestStore
	CompensationStore
	SettingStore
}
