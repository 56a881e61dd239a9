package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"aggload/internal/config"
	"aggload/internal/dbexec"
	"aggload/internal/logging"
	"aggload/internal/naming"
	"aggload/internal/observability"
	"aggload/internal/repository"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aggload error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.Bool("sql", false, "Print the aggregate query instead of executing it")
	pflag.String("id", "", "Load the aggregate instance with this root id")
	pflag.StringSlice("ids", nil, "Load the aggregate instances with these root ids")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("aggload %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if loggerProvider != nil {
		defer func() { _ = loggerProvider.Shutdown(context.Background(), logger.Logger) }()
	}

	tracerProvider, err := initTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracerProvider != nil {
		defer func() { _ = tracerProvider.Shutdown(context.Background(), logger.Logger) }()
	}

	metrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	namer := naming.NewNamer(cfg.Naming)
	root, err := cfg.Mapping.ResolveAggregate(namer)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if printSQL, _ := pflag.CommandLine.GetBool("sql"); printSQL {
		repo := repository.New(nil, repository.WithLogger(logger))
		query, err := repo.SQL(ctx, root)
		if err != nil {
			return err
		}
		fmt.Println(query)
		return nil
	}

	db, err := connectDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.New(dbexec.NewStandardExecutor(db),
		repository.WithLogger(logger),
		repository.WithMetrics(metrics),
	)
	if err := repo.Prepare(ctx, root); err != nil {
		return err
	}

	id, _ := pflag.CommandLine.GetString("id")
	ids, _ := pflag.CommandLine.GetStringSlice("ids")

	var result any
	switch {
	case id != "":
		instance, err := repo.FindByID(ctx, root, id)
		if err != nil {
			return err
		}
		if instance == nil {
			return fmt.Errorf("no %s with id %q", root.Name, id)
		}
		result = instance
	case len(ids) > 0:
		args := make([]any, len(ids))
		for i, v := range ids {
			args[i] = v
		}
		instances, err := repo.FindAllByID(ctx, root, args...)
		if err != nil {
			return err
		}
		result = instances
	default:
		instances, err := repo.FindAll(ctx, root)
		if err != nil {
			return err
		}
		result = instances
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func initLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	return observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	db, err := otelsql.Open("mysql", cfg.Database.DSN(),
		otelsql.WithAttributes(semconv.DBSystemMySQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL)); err != nil {
		logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
	}

	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	effectiveDatabase, databaseSource, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.String("database_source", databaseSource),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return db, nil
}
