package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleet-telemetry/common/config"

	_ "github.com/lib/pq"
)

const (
	defaultPingTimeout = 10 * time.Second
	pingAttempts       = 3
)

// NewPostgresDB 打开 PostgreSQL 连接池并确认可用
// 启动时数据库可能尚未就绪，Ping 失败会按 1s、2s 间隔重试。
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Redacted(), err)
	}
	configurePool(db, cfg)

	if err := pingWithRetry(db, pingAttempts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Redacted(), err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func pingWithRetry(db *sql.DB, attempts int) error {
	wait := time.Second
	var err error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(wait)
			wait *= 2
		}
	}
	return err
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
