package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ilvar/espg/internal/aggregation"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/logger"
	"github.com/ilvar/espg/internal/metrics"
)

// Mappings answers field mapping questions for the targeted indices.
type Mappings interface {
	FirstFieldType(ctx context.Context, indices []string, types []string, field string) (string, bool, error)
	FirstFieldFormat(ctx context.Context, indices []string, types []string, field string) (string, bool, error)
}

// AggregationExec is the state shared by every node of one request's
// aggregation tree.
type AggregationExec struct {
	Indices     []string
	Types       []string
	Distributed bool
	Mappings    Mappings
	Session     *gateway.Session
	Components  QueryComponents
	Request     *RequestBodySearch
	Results     map[string]any

	mu    sync.Mutex
	temps []string
}

// TempTables lists the relations the aggregation tree materialized.
func (x *AggregationExec) TempTables() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.temps...)
}

// materialize creates a temp relation holding the rows selected by comp and
// returns components reading from it.
func (x *AggregationExec) materialize(ctx context.Context, comp QueryComponents, projection string) (QueryComponents, error) {
	name := x.Session.TempName(x.Request.Hash)
	if err := x.Session.CreateTemp(ctx, name, comp.Select(projection)); err != nil {
		return QueryComponents{}, err
	}
	x.mu.Lock()
	x.temps = append(x.temps, name)
	x.mu.Unlock()

	from := name
	if x.Distributed {
		from = name + " AS " + hitsAlias
	}
	return QueryComponents{From: from, TempTables: append(append([]string(nil), comp.TempTables...), name)}, nil
}

type nodeState int32

const (
	statePending nodeState = iota
	stateExecuting
	stateMerged
)

func (s nodeState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateExecuting:
		return "executing"
	case stateMerged:
		return "merged"
	}
	return "unknown"
}

type nodeTask struct {
	agg    aggregation.Aggregation
	state  atomic.Int32
	result any
	err    error
}

func (t *nodeTask) advance(to nodeState) {
	t.state.Store(int32(to))
}

func (t *nodeTask) State() nodeState {
	return nodeState(t.state.Load())
}

// Engine evaluates aggregation trees. Sibling nodes run as tasks on a shared
// worker pool; each node waits for all of its children before merging them.
type Engine struct {
	pool *ants.Pool
	log  *slog.Logger
}

// NewEngine starts a pool of the given size. A size of zero or less runs every
// node on the caller's goroutine.
func NewEngine(workers int) (*Engine, error) {
	e := &Engine{log: logger.Get()}
	if workers <= 0 {
		return e, nil
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			e.log.Error("aggregation worker panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("aggregation pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Release stops the worker pool.
func (e *Engine) Release() {
	if e.pool != nil {
		_ = e.pool.ReleaseTimeout(3 * time.Second)
	}
}

// submit queues run on the pool. A saturated pool runs the task inline, so a
// parent blocked on its children never starves them of workers.
func (e *Engine) submit(run func()) {
	if e.pool == nil || e.pool.Submit(run) != nil {
		run()
	}
}

// Execute evaluates root against x and stores the merged results in
// x.Results.
func (e *Engine) Execute(ctx context.Context, x *AggregationExec, root *aggregation.Root) (map[string]any, error) {
	if root.Empty() {
		x.Results = map[string]any{}
		return x.Results, nil
	}
	results, err := e.evalLevel(ctx, x, root.Children, x.Components)
	if err != nil {
		return nil, err
	}
	x.Results = results
	return results, nil
}

// evalLevel fans children out and joins them. Results are merged in
// declaration order, so a later sibling with a duplicate name wins.
func (e *Engine) evalLevel(ctx context.Context, x *AggregationExec, children []aggregation.Aggregation, comp QueryComponents) (map[string]any, error) {
	tasks := make([]*nodeTask, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		t := &nodeTask{agg: child}
		tasks[i] = t
		wg.Add(1)
		run := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.err = fmt.Errorf("aggregation [%s] panicked: %v", t.agg.Name(), r)
				}
			}()
			if err := ctx.Err(); err != nil {
				t.err = err
				return
			}
			t.advance(stateExecuting)
			t.result, t.err = e.evalNode(ctx, x, t.agg, comp)
		}
		if len(children) == 1 {
			run()
			continue
		}
		e.submit(run)
	}
	wg.Wait()

	out := make(map[string]any, len(tasks))
	for _, t := range tasks {
		if t.err != nil {
			return nil, t.err
		}
		out[t.agg.Name()] = t.result
		t.advance(stateMerged)
	}
	return out, nil
}

func kind(agg aggregation.Aggregation) string {
	switch agg.(type) {
	case aggregation.Avg:
		return "avg"
	case aggregation.Min:
		return "min"
	case aggregation.Max:
		return "max"
	case aggregation.Sum:
		return "sum"
	case aggregation.Stats:
		return "stats"
	case aggregation.Cardinality:
		return "cardinality"
	case aggregation.ValueCount:
		return "value_count"
	case aggregation.Percentiles:
		return "percentiles"
	case *aggregation.Range:
		return "range"
	case *aggregation.DateHistogram:
		return "date_histogram"
	}
	return "unknown"
}

func (e *Engine) evalNode(ctx context.Context, x *AggregationExec, agg aggregation.Aggregation, comp QueryComponents) (any, error) {
	typ := kind(agg)
	start := time.Now()
	defer func() {
		metrics.AggregationDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}()

	switch a := agg.(type) {
	case aggregation.Avg:
		return x.singleValue(ctx, comp, a.Field, "AVG")
	case aggregation.Min:
		return x.singleValue(ctx, comp, a.Field, "MIN")
	case aggregation.Max:
		return x.singleValue(ctx, comp, a.Field, "MAX")
	case aggregation.Sum:
		return x.singleValue(ctx, comp, a.Field, "SUM")
	case aggregation.Stats:
		return x.stats(ctx, comp, a.Field)
	case aggregation.Cardinality:
		return x.count(ctx, comp, "COUNT(DISTINCT "+textField(a.Field)+")")
	case aggregation.ValueCount:
		return x.count(ctx, comp, "COUNT("+textField(a.Field)+")")
	case aggregation.Percentiles:
		return x.percentiles(ctx, comp, a.Field, a.Percents)
	case *aggregation.Range:
		return e.rangeBuckets(ctx, x, a, comp)
	case *aggregation.DateHistogram:
		return e.dateHistogram(ctx, x, a, comp)
	}
	return nil, fmt.Errorf("aggregation [%s] of type %s cannot be evaluated", agg.Name(), typ)
}
