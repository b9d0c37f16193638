package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RowSourceConfig controls the pool used to stream unprocessed rows.
type RowSourceConfig struct {
	DSN             string
	Table           string
	DomainColumn    string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RowSource streams rows that have not been enriched yet.
type RowSource struct {
	pool   queryCloser
	table  string
	column string
}

// NewRowSource creates a pool-backed RowSource using the provided config.
func NewRowSource(ctx context.Context, cfg RowSourceConfig) (*RowSource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	src, err := NewRowSourceWithPool(pool, cfg.Table, cfg.DomainColumn)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return src, nil
}

// NewRowSourceWithPool constructs a RowSource from an existing pool (primarily for testing).
func NewRowSourceWithPool(pool queryCloser, table, column string) (*RowSource, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "domains"
	}
	if column == "" {
		column = "domain"
	}
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if !validIdentifier.MatchString(column) {
		return nil, fmt.Errorf("invalid column name %q", column)
	}
	return &RowSource{pool: pool, table: table, column: column}, nil
}

// Close releases the underlying pool resources.
func (s *RowSource) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EachUnprocessed calls fn for every row whose status_code is 0 or NULL,
// streaming rows rather than loading the table. A NULL domain arrives as "".
// Iteration stops at the first error fn returns.
func (s *RowSource) EachUnprocessed(ctx context.Context, fn func(id int64, domain string) error) error {
	query := fmt.Sprintf(
		`SELECT id, COALESCE(%s, '') FROM %s WHERE status_code = 0 OR status_code IS NULL`,
		s.column, s.table,
	)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query unprocessed rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			domain string
		)
		if err := rows.Scan(&id, &domain); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(id, domain); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}
