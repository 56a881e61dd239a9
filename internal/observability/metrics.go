package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LoaderMetrics holds custom metrics for aggregate loading
type LoaderMetrics struct {
	queryDuration     metric.Float64Histogram
	queryCounter      metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeQueries     metric.Int64UpDownCounter
	rowsScanned       metric.Int64Histogram
	aggregatesLoaded  metric.Int64Histogram
	structuresBuilt   metric.Int64Counter
	planCacheHits     metric.Int64Counter
	planCacheMisses   metric.Int64Counter
}

// InitLoaderMetrics initializes loader-specific metrics
func InitLoaderMetrics() (*LoaderMetrics, error) {
	meter := otel.Meter("aggload")

	queryDuration, err := meter.Float64Histogram(
		"aggload.query.duration",
		metric.WithDescription("Duration of aggregate queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"aggload.queries.total",
		metric.WithDescription("Total number of aggregate queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"aggload.errors.total",
		metric.WithDescription("Total number of failed aggregate queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"aggload.queries.active",
		metric.WithDescription("Number of aggregate queries in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	rowsScanned, err := meter.Int64Histogram(
		"aggload.rows.scanned",
		metric.WithDescription("Number of flattened rows consumed per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows scanned histogram: %w", err)
	}

	aggregatesLoaded, err := meter.Int64Histogram(
		"aggload.aggregates.loaded",
		metric.WithDescription("Number of aggregate instances materialized per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregates loaded histogram: %w", err)
	}

	structuresBuilt, err := meter.Int64Counter(
		"aggload.structures.built",
		metric.WithDescription("Number of analytic structures built from aggregate schemas"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create structures built counter: %w", err)
	}

	planCacheHits, err := meter.Int64Counter(
		"aggload.plan_cache.hits",
		metric.WithDescription("Number of prepared-plan cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache hits counter: %w", err)
	}

	planCacheMisses, err := meter.Int64Counter(
		"aggload.plan_cache.misses",
		metric.WithDescription("Number of prepared-plan cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache misses counter: %w", err)
	}

	return &LoaderMetrics{
		queryDuration:    queryDuration,
		queryCounter:     queryCounter,
		errorCounter:     errorCounter,
		activeQueries:    activeQueries,
		rowsScanned:      rowsScanned,
		aggregatesLoaded: aggregatesLoaded,
		structuresBuilt:  structuresBuilt,
		planCacheHits:    planCacheHits,
		planCacheMisses:  planCacheMisses,
	}, nil
}

// RecordQuery records one executed aggregate query with its duration and outcome
func (m *LoaderMetrics) RecordQuery(ctx context.Context, duration time.Duration, failed bool, operation string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Bool("failed", failed),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// RecordRowsScanned records the number of flattened rows a query produced
func (m *LoaderMetrics) RecordRowsScanned(ctx context.Context, count int64, aggregate string) {
	m.rowsScanned.Record(ctx, count, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
	))
}

// RecordAggregatesLoaded records the number of root instances materialized
func (m *LoaderMetrics) RecordAggregatesLoaded(ctx context.Context, count int64, aggregate string) {
	m.aggregatesLoaded.Record(ctx, count, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
	))
}

// RecordStructureBuilt records one schema-to-structure compilation
func (m *LoaderMetrics) RecordStructureBuilt(ctx context.Context, aggregate string) {
	m.structuresBuilt.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
	))
}

func (m *LoaderMetrics) RecordPlanCacheHit(ctx context.Context, aggregate string) {
	m.planCacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
	))
}

func (m *LoaderMetrics) RecordPlanCacheMiss(ctx context.Context, aggregate string) {
	m.planCacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate", aggregate),
	))
}

// IncrementActiveQueries increments the in-flight query counter
func (m *LoaderMetrics) IncrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the in-flight query counter
func (m *LoaderMetrics) DecrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the LoaderMetrics instance
func InitMetrics(logger *slog.Logger) (*LoaderMetrics, error) {
	metrics, err := InitLoaderMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loader metrics: %w", err)
	}

	logger.Info("custom loader metrics initialized")
	return metrics, nil
}

type loaderMetricsContextKey struct{}

// ContextWithLoaderMetrics stores loader metrics in the provided context.
func ContextWithLoaderMetrics(ctx context.Context, metrics *LoaderMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loaderMetricsContextKey{}, metrics)
}

// LoaderMetricsFromContext retrieves loader metrics from the context.
func LoaderMetricsFromContext(ctx context.Context) *LoaderMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(loaderMetricsContextKey{}).(*LoaderMetrics)
	return metrics
}
