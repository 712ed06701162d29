package search

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/gateway/gatewaytest"
)

// scripted answers statements by exact SQL, falling back to prefix matches.
type scripted struct {
	mu      sync.Mutex
	scalars map[string]any
	rows    map[string][][]any
}

func newScripted() *scripted {
	return &scripted{scalars: map[string]any{}, rows: map[string][][]any{}}
}

func (s *scripted) conn() *gatewaytest.Conn {
	return &gatewaytest.Conn{
		RowFn: func(sql string, _ []any) ([]any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if v, ok := s.scalars[sql]; ok {
				return []any{v}, nil
			}
			return nil, nil
		},
		QueryFn: func(sql string, _ []any) ([][]any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if v, ok := s.rows[sql]; ok {
				return v, nil
			}
			for prefix, v := range s.rows {
				if strings.HasSuffix(prefix, "*") && strings.HasPrefix(sql, strings.TrimSuffix(prefix, "*")) {
					return v, nil
				}
			}
			return nil, nil
		},
	}
}

type fieldMapping struct {
	typ    string
	format string
}

type fakeResolver struct {
	indices  []catalog.Index
	mappings map[string]fieldMapping
}

func (f *fakeResolver) Resolve(_ context.Context, pattern string) ([]catalog.Index, error) {
	return catalog.MatchPattern(f.indices, pattern), nil
}

func (f *fakeResolver) FirstFieldType(_ context.Context, _ []string, _ []string, field string) (string, bool, error) {
	m, ok := f.mappings[field]
	return m.typ, ok, nil
}

func (f *fakeResolver) FirstFieldFormat(_ context.Context, _ []string, _ []string, field string) (string, bool, error) {
	m, ok := f.mappings[field]
	return m.format, ok && m.format != "", nil
}

type fakeSessions struct {
	conn     *gatewaytest.Conn
	released bool
	broken   bool
}

func (f *fakeSessions) Acquire(context.Context) (*gateway.Session, error) {
	return gateway.NewSession(f.conn, func(broken bool) {
		f.released = true
		f.broken = broken
	}, "tmp"), nil
}

func newEngine(t *testing.T, workers int) *Engine {
	t.Helper()
	e, err := NewEngine(workers)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e
}
