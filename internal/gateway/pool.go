package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool hands out pinned sessions backed by pgxpool connections.
type Pool struct {
	pool       *pgxpool.Pool
	tempPrefix string
}

func NewPool(ctx context.Context, connString string, tempPrefix string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Pool{pool: pool, tempPrefix: tempPrefix}, nil
}

// Acquire pins one connection for the lifetime of a request. The caller must
// Close the session.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	release := func(broken bool) {
		if !broken {
			conn.Release()
			return
		}
		raw := conn.Hijack()
		_ = raw.Close(context.Background())
	}
	return NewSession(conn, release, p.tempPrefix), nil
}

// Querier exposes the pool for statements that do not touch temporary
// relations.
func (p *Pool) Querier() Querier {
	return p.pool
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Pool) Close() {
	p.pool.Close()
}
