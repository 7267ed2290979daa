package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

// Store 基于 GORM 的账本存储；pool 可为空，为空时聚合查询走 GORM
type Store struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

var _ engine.Store = (*Store)(nil)

func NewStore(db *gorm.DB, pool *pgxpool.Pool) *Store {
	return &Store{db: db, pool: pool}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// notFound 把 gorm.ErrRecordNotFound 转为业务错误
func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

func (s *Store) CreateBalance(ctx context.Context, b *model.Balance) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(b)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, notFound(err, errno.ErrBalanceNotFound)
	}
	return &b, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, currency model.Currency, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	db := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if currency != "" {
		db = db.Where("currency = ?", currency)
	}
	err := db.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

const sumEntriesSQL = `SELECT currency, COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE user_id = $1 GROUP BY currency`

// SumEntries 对账用，按币种汇总流水
func (s *Store) SumEntries(ctx context.Context, userID string) (map[model.Currency]decimal.Decimal, error) {
	sums := make(map[model.Currency]decimal.Decimal)
	if s.pool == nil {
		var rows []struct {
			Currency model.Currency
			Total    decimal.Decimal
		}
		err := s.db.WithContext(ctx).Model(&model.LedgerEntry{}).
			Select("currency, COALESCE(SUM(amount), 0) AS total").
			Where("user_id = ?", userID).
			Group("currency").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			sums[r.Currency] = r.Total
		}
		return sums, nil
	}
	rows, err := s.pool.Query(ctx, sumEntriesSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var currency, total string
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, err
		}
		sums[model.Currency(currency)] = d
	}
	return sums, rows.Err()
}

func (s *Store) GetTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error) {
	var t model.ExternalTransfer
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&t).Error; err != nil {
		return nil, notFound(err, errno.ErrCodeNotFound)
	}
	return &t, nil
}

func (s *Store) ListTransfers(ctx context.Context, userID string, limit int) ([]*model.ExternalTransfer, error) {
	var ts []*model.ExternalTransfer
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&ts).Error
	return ts, err
}

func (s *Store) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*model.ExternalTransfer, error) {
	var ts []*model.ExternalTransfer
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ? AND COALESCE(external_ref, '') = ''", model.TransferPendingClaim, now).
		Where("claim_lease_until IS NULL OR claim_lease_until < ?", now).
		Order("expires_at").
		Limit(limit).
		Find(&ts).Error
	return ts, err
}

// AcquireClaimLease 单条条件 UPDATE，依赖行锁保证只有一个领取者成功
func (s *Store) AcquireClaimLease(ctx context.Context, code, token string, now, until time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.ExternalTransfer{}).
		Where("code = ? AND status = ? AND expires_at >= ? AND COALESCE(external_ref, '') = ''", code, model.TransferPendingClaim, now).
		Where("claim_lease_until IS NULL OR claim_lease_until < ?", now).
		Updates(map[string]any{"claim_token": token, "claim_lease_until": until, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseClaimLease(ctx context.Context, code, token string) error {
	return s.db.WithContext(ctx).Model(&model.ExternalTransfer{}).
		Where("code = ? AND claim_token = ?", code, token).
		Updates(map[string]any{"claim_token": "", "claim_lease_until": nil}).Error
}

func (s *Store) MarkSettlementPending(ctx context.Context, code, ref string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.ExternalTransfer{}).
		Where("code = ? AND status = ?", code, model.TransferPendingClaim).
		Updates(map[string]any{"external_ref": ref, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transfer %s is no longer pending", code)
	}
	return nil
}

func (s *Store) CreateLaunch(ctx context.Context, l *model.TokenLaunch) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *Store) GetLaunch(ctx context.Context, id string) (*model.TokenLaunch, error) {
	var l model.TokenLaunch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err, errno.ErrLaunchNotFound)
	}
	return &l, nil
}

func (s *Store) ListLaunches(ctx context.Context, userID string) ([]*model.TokenLaunch, error) {
	var ls []*model.TokenLaunch
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&ls).Error
	return ls, err
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]*model.WithdrawalRequest, error) {
	var ws []*model.WithdrawalRequest
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&ws).Error
	return ws, err
}

func (s *Store) ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.WithdrawalRequest, error) {
	var ws []*model.WithdrawalRequest
	q := s.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&ws).Error
	return ws, err
}

func (s *Store) ListBuyRequests(ctx context.Context, userID string, status model.BuyRequestStatus, limit int) ([]*model.BuyRequest, error) {
	var rs []*model.BuyRequest
	q := s.db.WithContext(ctx)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&rs).Error
	return rs, err
}

func (s *Store) SaveCompensation(ctx context.Context, c *model.Compensation) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "kind"}, {Name: "ref_id"}}, DoNothing: true}).
		Create(c).Error
}

func (s *Store) ListPendingCompensations(ctx context.Context, limit int) ([]*model.Compensation, error) {
	var cs []*model.Compensation
	err := s.db.WithContext(ctx).Where("status = ?", model.CompensationPending).
		Order("created_at").Limit(limit).Find(&cs).Error
	return cs, err
}

func (s *Store) UpdateCompensation(ctx context.Context, c *model.Compensation) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *Store) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	var st model.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&st).Error; err != nil {
		return nil, notFound(err, errno.ErrSettingNotFound)
	}
	return &st, nil
}

func (s *Store) PutSetting(ctx context.Context, st *model.Setting) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
		}).
		Create(st).Error
}
