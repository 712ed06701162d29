// Package gateway runs SQL for one search request on a single pinned
// connection. Temporary relations are session scoped in PostgreSQL, so every
// statement of a request, including the final cleanup, goes through the same
// Session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ilvar/espg/internal/logger"
	"github.com/ilvar/espg/internal/metrics"
)

// Querier is the statement surface of a pgx connection or pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReleaseFunc hands the connection back. broken asks for the connection to be
// closed rather than reused.
type ReleaseFunc func(broken bool)

const cleanupTimeout = 5 * time.Second

// Session serializes statements on one connection. A pgx connection cannot
// run two statements at once, so concurrent aggregation tasks queue here.
type Session struct {
	mu      sync.Mutex
	conn    Querier
	release ReleaseFunc
	prefix  string
	seq     int
	temps   []string
	closed  bool
	log     *slog.Logger
}

// NewSession wraps conn. release may be nil.
func NewSession(conn Querier, release ReleaseFunc, tempPrefix string) *Session {
	if tempPrefix == "" {
		tempPrefix = "espg_tmp"
	}
	return &Session{
		conn:    conn,
		release: release,
		prefix:  tempPrefix,
		log:     logger.Get(),
	}
}

// WithLogger attaches request-scoped attributes to statement logs.
func (s *Session) WithLogger(l *slog.Logger) *Session {
	s.mu.Lock()
	s.log = l
	s.mu.Unlock()
	return s
}

var errClosed = errors.New("session closed")

func (s *Session) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, sql string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.log.Debug("exec", "sql", sql)
	_, err := s.conn.Exec(ctx, sql)
	return err
}

// QueryScalar returns the first column of the first row. A query that
// produces no result yields nil.
func (s *Session) QueryScalar(ctx context.Context, sql string) (any, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	s.log.Debug("query scalar", "sql", sql)
	var value any
	if err := s.conn.QueryRow(ctx, sql).Scan(&value); err != nil {
		if IsNoResults(err) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

// QueryRows streams the result of sql through fn. The session stays locked
// until fn returns, so fn must not issue statements on the same session.
func (s *Session) QueryRows(ctx context.Context, sql string, fn func(pgx.Rows) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.log.Debug("query rows", "sql", sql)
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := fn(rows); err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// TempName returns a relation name unique within this session.
func (s *Session) TempName(hash uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("%s_%016x_%d", s.prefix, hash, s.seq)
	s.seq++
	return name
}

// CreateTemp materializes selectSQL as a temporary relation and registers it
// for cleanup.
func (s *Session) CreateTemp(ctx context.Context, name string, selectSQL string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	sql := "CREATE TEMP TABLE " + name + " AS " + selectSQL
	s.log.Debug("create temp", "table", name, "sql", sql)
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create temp relation %s: %w", name, err)
	}
	s.temps = append(s.temps, name)
	metrics.TempRelationsCreated.Inc()
	metrics.TempRelationsActive.Inc()
	return nil
}

// TempTables lists the relations created so far, oldest first.
func (s *Session) TempTables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.temps...)
}

// Close drops every temporary relation, newest first, and releases the
// connection. It runs even when ctx is already cancelled. If a drop fails the
// connection is closed so no relation can outlive the request.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	temps := s.temps
	s.temps = nil
	s.mu.Unlock()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	for i := len(temps) - 1; i >= 0; i-- {
		if _, err := s.conn.Exec(cleanupCtx, "DROP TABLE IF EXISTS "+temps[i]); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", temps[i], err))
			continue
		}
		s.log.Debug("dropped temp", "table", temps[i])
	}
	metrics.TempRelationsActive.Sub(float64(len(temps)))

	broken := len(errs) > 0
	if broken {
		metrics.SessionsDiscarded.Inc()
		s.log.Warn("temp cleanup failed, discarding connection", "errors", len(errs))
	}
	if s.release != nil {
		s.release(broken)
	}
	return errors.Join(errs...)
}

// IsNoResults reports the backing-store errors that mean "empty result"
// rather than failure.
func IsNoResults(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no results")
}
