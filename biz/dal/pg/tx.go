package pg

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

// gormTx 事务内操作，Lock* 使用 SELECT ... FOR UPDATE
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) forUpdate(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	if err := t.forUpdate(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, notFound(err, errno.ErrBalanceNotFound)
	}
	return &b, nil
}

func (t *gormTx) SaveBalance(ctx context.Context, b *model.Balance) error {
	return t.db.WithContext(ctx).Model(&model.Balance{}).Where("id = ?", b.ID).Updates(map[string]any{
		"token_available": b.TokenAvailable,
		"token_locked":    b.TokenLocked,
		"fiat_available":  b.FiatAvailable,
		"status":          b.Status,
		"updated_at":      b.UpdatedAt,
	}).Error
}

func (t *gormTx) AppendEntry(ctx context.Context, e *model.LedgerEntry) error {
	return t.db.WithContext(ctx).Create(e).Error
}

func (t *gormTx) CreateTransfer(ctx context.Context, tr *model.ExternalTransfer) error {
	err := t.db.WithContext(ctx).Create(tr).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errno.ErrDuplicateCode
	}
	return err
}

func (t *gormTx) LockTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error) {
	var tr model.ExternalTransfer
	if err := t.forUpdate(ctx).Where("code = ?", code).First(&tr).Error; err != nil {
		return nil, notFound(err, errno.ErrCodeNotFound)
	}
	return &tr, nil
}

func (t *gormTx) SaveTransfer(ctx context.Context, tr *model.ExternalTransfer) error {
	return t.db.WithContext(ctx).Save(tr).Error
}

func (t *gormTx) LockLaunch(ctx context.Context, id string) (*model.TokenLaunch, error) {
	var l model.TokenLaunch
	if err := t.forUpdate(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err, errno.ErrLaunchNotFound)
	}
	return &l, nil
}

func (t *gormTx) SaveLaunch(ctx context.Context, l *model.TokenLaunch) error {
	return t.db.WithContext(ctx).Save(l).Error
}

func (t *gormTx) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	return t.db.WithContext(ctx).Create(w).Error
}

func (t *gormTx) LockWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	if err := t.forUpdate(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, notFound(err, errno.ErrWithdrawalNotFound)
	}
	return &w, nil
}

func (t *gormTx) SaveWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	return t.db.WithContext(ctx).Save(w).Error
}

func (t *gormTx) HasPendingWithdrawal(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND status = ?", userID, model.WithdrawalPending).
		Count(&n).Error
	return n > 0, err
}

func (t *gormTx) CreateBuyRequest(ctx context.Context, r *model.BuyRequest) error {
	return t.db.WithContext(ctx).Create(r).Error
}

func (t *gormTx) LockBuyRequest(ctx context.Context, id string) (*model.BuyRequest, error) {
	var r model.BuyRequest
	if err := t.forUpdate(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err, errno.ErrBuyRequestNotFound)
	}
	return &r, nil
}

func (t *gormTx) SaveBuyRequest(ctx context.Context, r *model.BuyRequest) error {
	return t.db.WithContext(ctx).Save(r).Error
}

func (t *gormTx) AppendAudit(ctx context.Context, a *model.AdminAuditLog) error {
	return t.db.WithContext(ctx).Create(a).Error
}
