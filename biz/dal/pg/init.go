package pg

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/conf"
)

// Init 初始化 pgx 连接池与 GORM，按配置执行表结构迁移
func Init(ctx context.Context, c conf.Postgres) (*Store, error) {
	pool, err := NewPool(ctx, c.DSN)
	if err != nil {
		return nil, err
	}
	db, err := NewGorm(c)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if c.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to auto migrate: %w", err)
		}
	}
	hlog.Infof("[PG] 初始化完成, auto_migrate=%v", c.AutoMigrate)
	return NewStore(db, pool), nil
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func NewGorm(c conf.Postgres) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(c.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init gorm: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return db.AutoMigrate(
		&model.Balance{},
		&model.LedgerEntry{},
		&model.ExternalTransfer{},
		&model.TokenLaunch{},
		&model.WithdrawalRequest{},
		&model.BuyRequest{},
		&model.AdminAuditLog{},
		&model.Compensation{},
		&model.Setting{},
	)
}
