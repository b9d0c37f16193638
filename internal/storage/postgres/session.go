// Package postgres provides the Postgres-backed result store and row source.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
)

// StatementName names the prepared UPDATE on every session connection.
const StatementName = "persist_result"

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var errSessionClosed = errors.New("store session closed")

// pgConn is the subset of *pgx.Conn a session needs.
type pgConn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error)
	Ping(context.Context) error
	Close(context.Context) error
}

// connectFunc opens a brand-new connection.
type connectFunc func(ctx context.Context) (pgConn, error)

// SessionConfig controls a worker's dedicated connection.
type SessionConfig struct {
	DSN   string
	Table string
}

// Session is one worker's dedicated connection to the result table. It is
// not shared between workers.
type Session struct {
	mu      sync.Mutex
	conn    pgConn
	connect connectFunc
	query   string
	closed  bool
}

// NewSession dials a dedicated connection for one worker.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	connect := func(ctx context.Context) (pgConn, error) {
		conn, err := pgx.ConnectConfig(ctx, connCfg.Copy())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	}
	conn, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	return NewSessionWithConn(conn, cfg.Table, connect)
}

// NewSessionWithConn constructs a session from an existing connection (primarily for testing).
func NewSessionWithConn(conn pgConn, table string, connect connectFunc) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	if table == "" {
		table = "domains"
	}
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Session{
		conn:    conn,
		connect: connect,
		query:   updateQuery(table),
	}, nil
}

func updateQuery(table string) string {
	return fmt.Sprintf(`UPDATE %s SET
	status_code = $1,
	title = $2,
	description = $3,
	emails = $4,
	socials = $5,
	tech_stack = $6,
	is_ecommerce = $7,
	has_ads = $8,
	last_checked = NOW()
WHERE id = $9`, table)
}

func (s *Session) current() (pgConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSessionClosed
	}
	return s.conn, nil
}

// Ping checks the current connection.
func (s *Session) Ping(ctx context.Context) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Redial replaces the current connection with a brand-new one. The old
// connection is closed best-effort.
func (s *Session) Redial(ctx context.Context) error {
	if _, err := s.current(); err != nil {
		return err
	}
	if s.connect == nil {
		return fmt.Errorf("redial: no connect function configured")
	}
	fresh, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("redial: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = fresh.Close(ctx)
		return errSessionClosed
	}
	old := s.conn
	s.conn = fresh
	s.mu.Unlock()

	_ = old.Close(ctx)
	return nil
}

// Prepare readies the UPDATE statement on the current connection and returns
// a writer bound to it.
func (s *Session) Prepare(ctx context.Context) (enricher.ResultWriter, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Prepare(ctx, StatementName, s.query); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", StatementName, err)
	}
	return &resultWriter{conn: conn}, nil
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("close postgres connection: %w", err)
	}
	return nil
}

type resultWriter struct {
	conn pgConn
}

// WriteResult updates the row for res.JobID. Writing the same result twice
// leaves the row unchanged apart from last_checked.
func (w *resultWriter) WriteResult(ctx context.Context, res enricher.AnalysisResult) error {
	args, err := updateArgs(res)
	if err != nil {
		return err
	}
	if _, err := w.conn.Exec(ctx, StatementName, args...); err != nil {
		return fmt.Errorf("update result %d: %w", res.JobID, err)
	}
	return nil
}

func updateArgs(res enricher.AnalysisResult) ([]any, error) {
	emails, err := jsonArg(res.Parsed, res.Emails)
	if err != nil {
		return nil, fmt.Errorf("marshal emails: %w", err)
	}
	socials, err := jsonArg(res.Parsed, res.Socials)
	if err != nil {
		return nil, fmt.Errorf("marshal socials: %w", err)
	}
	tech, err := jsonArg(res.Parsed, res.TechStack)
	if err != nil {
		return nil, fmt.Errorf("marshal tech stack: %w", err)
	}
	return []any{
		res.StatusCode,
		res.Title,
		nullableString(res.Parsed, res.Description),
		emails,
		socials,
		tech,
		res.IsEcommerce,
		res.HasAds,
		res.JobID,
	}, nil
}

// jsonArg encodes v as JSON text, or SQL NULL for results that never reached
// extraction.
func jsonArg(parsed bool, v any) (any, error) {
	if !parsed {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableString(parsed bool, s string) any {
	if !parsed {
		return nil
	}
	return s
}
