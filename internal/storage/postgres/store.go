package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout = 5 * time.Second
	// applicationName виден в pg_stat_activity.
	applicationName = "storefront"
)

// poolConfig - лимиты пула database/sql.
type poolConfig struct {
	maxConns     int
	connLifetime time.Duration
	connIdleTime time.Duration
}

// Option меняет пул соединений, открываемый Open.
type Option func(*poolConfig)

// WithMaxConns ограничивает число открытых соединений; idle-лимит равен ему же.
// Неположительное значение игнорируется.
func WithMaxConns(n int) Option {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

// WithConnLifetime задаёт максимальный возраст соединения.
func WithConnLifetime(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.connLifetime = d
		}
	}
}

// Store - пул соединений с базой витрины.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN драйвером pgx, открывает пул и проверяет соединение.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = applicationName
	}

	pool := poolConfig{maxConns: 25, connLifetime: 30 * time.Minute, connIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&pool)
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(pool.maxConns)
	db.SetMaxIdleConns(pool.maxConns)
	db.SetConnMaxLifetime(pool.connLifetime)
	db.SetConnMaxIdleTime(pool.connIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema доводит схему до последней миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
