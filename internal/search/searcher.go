package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/logger"
)

// Resolver expands index patterns and answers mapping lookups.
type Resolver interface {
	Mappings
	Resolve(ctx context.Context, pattern string) ([]catalog.Index, error)
}

// SessionSource hands out pinned sessions.
type SessionSource interface {
	Acquire(ctx context.Context) (*gateway.Session, error)
}

type Shards struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type HitsEnvelope struct {
	Total    int64   `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// Response is the search envelope.
type Response struct {
	Took         int64          `json:"took"`
	TimedOut     bool           `json:"timed_out"`
	Shards       Shards         `json:"_shards"`
	Hits         HitsEnvelope   `json:"hits"`
	Aggregations map[string]any `json:"aggregations,omitempty"`
}

// Request names what to search.
type Request struct {
	IndexPattern string
	Types        []string
	Body         []byte
	Params       Params
}

// Searcher runs search requests end to end.
type Searcher struct {
	resolver Resolver
	sessions SessionSource
	engine   *Engine
}

func NewSearcher(resolver Resolver, sessions SessionSource, engine *Engine) *Searcher {
	return &Searcher{resolver: resolver, sessions: sessions, engine: engine}
}

// Search parses the body, plans and executes it on one pinned session and
// builds the response. Temporary relations are dropped before it returns,
// whatever the outcome.
func (s *Searcher) Search(ctx context.Context, r Request) (resp *Response, err error) {
	start := time.Now()
	log := logger.Get()
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		log = l
	}

	req, err := ParseRequest(r.Body, r.Params)
	if err != nil {
		return nil, err
	}
	target, err := s.resolve(ctx, r.IndexPattern, r.Types)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, eserr.ShardFailed(err)
	}
	session.WithLogger(log)
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			log.Warn("search cleanup failed", "error", cerr)
		}
	}()

	plan := BuilderFor(target).Build(req, target, session.TempName)
	for _, t := range plan.Temps {
		if err := session.CreateTemp(ctx, t.Name, t.Select); err != nil {
			return nil, eserr.From(err)
		}
	}

	total, hits, err := fetchHits(ctx, session, plan, req.From, req.Size)
	if err != nil {
		return nil, eserr.From(err)
	}

	resp = &Response{
		Shards: Shards{Total: 1, Successful: 1},
		Hits:   HitsEnvelope{Total: total, MaxScore: constantScore, Hits: hits},
	}

	if !req.Aggregations.Empty() {
		x := &AggregationExec{
			Indices:     target.Names(),
			Types:       target.Types,
			Distributed: target.Distributed(),
			Mappings:    s.resolver,
			Session:     session,
			Components:  plan.Base,
			Request:     req,
		}
		aggs, err := s.engine.Execute(ctx, x, req.Aggregations)
		if err != nil {
			return nil, eserr.From(err)
		}
		resp.Aggregations = aggs
		log.Debug("aggregations evaluated", "temp_tables", len(x.TempTables()))
	}

	resp.Took = time.Since(start).Milliseconds()
	log.Info("search complete",
		"indices", strings.Join(target.Names(), ","),
		"total", total,
		"took_ms", resp.Took,
	)
	return resp, nil
}

func (s *Searcher) resolve(ctx context.Context, pattern string, types []string) (Target, error) {
	indices, err := s.resolver.Resolve(ctx, pattern)
	if err != nil {
		return Target{}, eserr.From(err)
	}
	if len(indices) == 0 {
		if pattern == "" {
			pattern = "_all"
		}
		return Target{}, eserr.IndexNotFound(pattern)
	}
	return Target{Indices: indices, Types: types}, nil
}

// Explain returns the SQL a search would start with, without running it.
func (s *Searcher) Explain(ctx context.Context, r Request) ([]string, error) {
	req, err := ParseRequest(r.Body, r.Params)
	if err != nil {
		return nil, err
	}
	target, err := s.resolve(ctx, r.IndexPattern, r.Types)
	if err != nil {
		return nil, err
	}
	return ExplainPlan(req, target), nil
}

// ExplainPlan renders the statements a plan issues for the hits.
func ExplainPlan(req *RequestBodySearch, target Target) []string {
	seq := 0
	name := func(hash uint64) string {
		n := fmt.Sprintf("espg_tmp_%016x_%d", hash, seq)
		seq++
		return n
	}
	return BuilderFor(target).Build(req, target, name).Statements()
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger to ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}
