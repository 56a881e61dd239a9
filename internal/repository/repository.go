// Package repository is the loading facade: it compiles aggregate
// mappings into prepared query plans once, then serves FindAll,
// FindByID, and FindAllByID by executing the single aggregate query and
// extracting instances from its result stream.
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aggload/internal/dbexec"
	"aggload/internal/extract"
	"aggload/internal/logging"
	"aggload/internal/observability"
	"aggload/internal/queryplan"
	"aggload/internal/schema"
	"aggload/internal/structure"
)

const (
	opFindAll     = "find_all"
	opFindByID    = "find_by_id"
	opFindAllByID = "find_all_by_id"
)

// Repository loads aggregates through a query executor. Preparation
// (structure build, query construction, extraction planning) happens
// once per aggregate type and is cached; the cache is safe for
// concurrent use.
type Repository struct {
	executor dbexec.QueryExecutor
	logger   *logging.Logger
	metrics  *observability.LoaderMetrics
	inst     extract.Instantiator
	tracer   trace.Tracer

	mu       sync.Mutex
	prepared map[*schema.Entity]*preparedAggregate
}

type preparedAggregate struct {
	sel  *queryplan.Select
	plan *extract.Plan
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithMetrics enables loader metrics recording.
func WithMetrics(metrics *observability.LoaderMetrics) Option {
	return func(r *Repository) { r.metrics = metrics }
}

// WithInstantiator swaps how extracted instances are constructed.
func WithInstantiator(inst extract.Instantiator) Option {
	return func(r *Repository) { r.inst = inst }
}

// New creates a repository over a query executor.
func New(executor dbexec.QueryExecutor, opts ...Option) *Repository {
	r := &Repository{
		executor: executor,
		logger:   logging.FromContext(context.Background()),
		inst:     extract.MapInstantiator{},
		tracer:   otel.Tracer("aggload"),
		prepared: map[*schema.Entity]*preparedAggregate{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare compiles the aggregate mapping into a query plan without
// executing anything. Find operations prepare lazily; calling Prepare
// up front surfaces mapping errors at startup instead.
func (r *Repository) Prepare(ctx context.Context, root *schema.Entity) error {
	_, err := r.prepare(ctx, root)
	return err
}

// SQL renders the FindAll query for an aggregate, for inspection.
func (r *Repository) SQL(ctx context.Context, root *schema.Entity) (string, error) {
	p, err := r.prepare(ctx, root)
	if err != nil {
		return "", err
	}
	query, err := p.sel.FindAll()
	if err != nil {
		return "", err
	}
	return query.SQL, nil
}

// FindAll loads every instance of the aggregate.
func (r *Repository) FindAll(ctx context.Context, root *schema.Entity) ([]any, error) {
	return r.find(ctx, root, opFindAll, func(sel *queryplan.Select) (queryplan.SQLQuery, error) {
		return sel.FindAll()
	})
}

// FindByID loads the aggregate instance with the given root id, or nil
// when no such instance exists.
func (r *Repository) FindByID(ctx context.Context, root *schema.Entity, id any) (any, error) {
	results, err := r.find(ctx, root, opFindByID, func(sel *queryplan.Select) (queryplan.SQLQuery, error) {
		return sel.FindByID(id)
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// FindAllByID loads the aggregate instances matching the given root ids.
// Ids without a matching instance are skipped, not errors.
func (r *Repository) FindAllByID(ctx context.Context, root *schema.Entity, ids ...any) ([]any, error) {
	return r.find(ctx, root, opFindAllByID, func(sel *queryplan.Select) (queryplan.SQLQuery, error) {
		return sel.FindAllByID(ids...)
	})
}

func (r *Repository) prepare(ctx context.Context, root *schema.Entity) (*preparedAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.prepared[root]; ok {
		if r.metrics != nil {
			r.metrics.RecordPlanCacheHit(ctx, root.Name)
		}
		return p, nil
	}
	if r.metrics != nil {
		r.metrics.RecordPlanCacheMiss(ctx, root.Name)
	}

	builder, mapping, err := structure.FromEntity(root)
	if err != nil {
		return nil, err
	}
	node, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("repository: building structure for %s: %w", root.Name, err)
	}
	sel := queryplan.CreateSelect(node, builder.RootTable())
	plan, err := extract.NewPlan(node, mapping, sel.Aliases())
	if err != nil {
		return nil, fmt.Errorf("repository: planning extraction for %s: %w", root.Name, err)
	}

	if r.metrics != nil {
		r.metrics.RecordStructureBuilt(ctx, root.Name)
	}
	r.logger.Debug("aggregate structure prepared",
		observability.QueryLogFields(ctx, observability.QueryInfo{Aggregate: root.Name})...,
	)

	p := &preparedAggregate{sel: sel, plan: plan}
	r.prepared[root] = p
	return p, nil
}

func (r *Repository) find(
	ctx context.Context,
	root *schema.Entity,
	operation string,
	render func(*queryplan.Select) (queryplan.SQLQuery, error),
) ([]any, error) {
	p, err := r.prepare(ctx, root)
	if err != nil {
		return nil, err
	}
	query, err := render(p.sel)
	if err != nil {
		return nil, fmt.Errorf("repository: rendering %s for %s: %w", operation, root.Name, err)
	}

	queryID := uuid.NewString()
	info := observability.QueryInfo{
		Aggregate: root.Name,
		Operation: operation,
		QueryID:   queryID,
		ArgCount:  len(query.Args),
	}
	ctx = logging.WithQueryIDContext(ctx, queryID)
	logger := r.logger.WithQueryID(queryID)

	ctx, span := r.tracer.Start(ctx, "aggload.query",
		trace.WithAttributes(observability.QuerySpanAttributes(info)...),
	)
	defer span.End()

	if r.metrics != nil {
		r.metrics.IncrementActiveQueries(ctx)
		defer r.metrics.DecrementActiveQueries(ctx)
	}

	start := time.Now()
	results, rowCount, err := r.execute(ctx, logger, p, query)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordQuery(ctx, duration, err != nil, operation)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("aggregate query failed",
			append(observability.QueryLogFields(ctx, info), "error", err)...,
		)
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordRowsScanned(ctx, rowCount, root.Name)
		r.metrics.RecordAggregatesLoaded(ctx, int64(len(results)), root.Name)
	}
	logger.Info("aggregate query completed",
		append(observability.QueryLogFields(ctx, info),
			"duration_ms", duration.Milliseconds(),
			"rows", rowCount,
			"aggregates", len(results),
		)...,
	)
	return results, nil
}

func (r *Repository) execute(
	ctx context.Context,
	logger *logging.Logger,
	p *preparedAggregate,
	query queryplan.SQLQuery,
) ([]any, int64, error) {
	rows, err := r.executor.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: executing aggregate query: %w", err)
	}
	defer rows.Close()

	stream := &countingStream{RowStream: dbexec.NewRowStream(rows)}
	extractor := extract.NewExtractor(p.plan,
		extract.WithInstantiator(r.inst),
		extract.WithLogger(logger.Logger),
	)
	results, err := extractor.ExtractData(stream)
	if err != nil {
		return nil, stream.count, err
	}
	return results, stream.count, nil
}

// countingStream counts consumed rows for metrics.
type countingStream struct {
	dbexec.RowStream
	count int64
}

func (c *countingStream) Next() bool {
	ok := c.RowStream.Next()
	if ok {
		c.count++
	}
	return ok
}
