package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/bramble/config"
	alertrepo "github.com/Ramsey-B/bramble/internal/repositories/alert"
	connectionrepo "github.com/Ramsey-B/bramble/internal/repositories/connection"
	entityrepo "github.com/Ramsey-B/bramble/internal/repositories/entity"
	relationshiprepo "github.com/Ramsey-B/bramble/internal/repositories/relationship"
	tagrepo "github.com/Ramsey-B/bramble/internal/repositories/tag"
	workunitrepo "github.com/Ramsey-B/bramble/internal/repositories/workunit"
	"github.com/Ramsey-B/bramble/pkg/adapter"
	"github.com/Ramsey-B/bramble/pkg/alerting"
	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/analysis/analyzers"
	"github.com/Ramsey-B/bramble/pkg/catalog"
	"github.com/Ramsey-B/bramble/pkg/completion"
	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/kafka"
	"github.com/Ramsey-B/bramble/pkg/linker"
	"github.com/Ramsey-B/bramble/pkg/logging"
	"github.com/Ramsey-B/bramble/pkg/middleware"
	"github.com/Ramsey-B/bramble/pkg/reconcile"
	"github.com/Ramsey-B/bramble/pkg/redis"
	alertroutes "github.com/Ramsey-B/bramble/pkg/routes/alert"
	dlqroutes "github.com/Ramsey-B/bramble/pkg/routes/dlq"
	"github.com/Ramsey-B/bramble/pkg/routes/health"
	workunitroutes "github.com/Ramsey-B/bramble/pkg/routes/workunit"
	"github.com/Ramsey-B/bramble/pkg/scheduler"
	"github.com/Ramsey-B/bramble/pkg/startup"
	"github.com/Ramsey-B/bramble/pkg/tagging"
	"github.com/Ramsey-B/bramble/pkg/tracing"
	"github.com/Ramsey-B/bramble/pkg/tracing/exporters"
	"github.com/Ramsey-B/bramble/pkg/worker"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flushLogs := logging.New(cfg.PrettyLogs)
	defer flushLogs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("failed to set up tracing")
		os.Exit(1)
	}
	defer shutdownTracing()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.WithError(err).Error("bramble exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger ectologger.Logger) error {
	// database
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)
	sqlxDB, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlxDB.Close()
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlxDB, logger)

	// migrations
	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// redis
	redisClient, err := redis.NewClient(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	locker := redis.NewLocker(redisClient, cfg.AppName)
	streams := redis.NewStreams(redisClient)
	dlq := redis.NewDLQ(redisClient, cfg.RedisStreamsDLQ)

	// kafka
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: brokers,
		Topic:   cfg.KafkaEventTopic,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer)

	// repositories
	workUnits := workunitrepo.NewRepository(db, logger)
	entities := entityrepo.NewRepository(db, logger)
	relationships := relationshiprepo.NewRepository(db, logger)
	alerts := alertrepo.NewRepository(db, logger)
	tags := tagrepo.NewRepository(db, logger)
	connections := connectionrepo.NewRepository(db, logger)

	// pipeline
	entityReconciler := reconcile.NewEntities(entities, logger, cfg.ReconcileChunkSize, cfg.PrunePageSize)
	relationshipReconciler := reconcile.NewRelationships(relationships, logger, cfg.ReconcileChunkSize)
	deduplicator := alerting.NewDeduplicator(alerts, logger)
	tagger := tagging.NewApplier(tags, logger, cfg.ReconcileChunkSize)
	tracker := completion.NewTracker(redisClient, logger, cfg.CompletionTTL)

	orchestrator := analysis.NewOrchestrator(logger)
	orchestrator.Register(&analyzers.MFACoverage{})
	orchestrator.Register(&analyzers.StaleIdentity{})
	orchestrator.Register(&analyzers.TamperProtection{})
	orchestrator.Register(&analyzers.BackupCompliance{})

	adapters := adapter.NewRegistry()
	linkers := linker.NewRegistry()
	for _, name := range catalog.Integrations() {
		spec, err := catalog.Get(name)
		if err != nil {
			continue
		}
		for _, kind := range spec.Kinds {
			if kind.FanOut() {
				linkers.Register(linker.NewSiteMembership(name))
				break
			}
		}
	}

	finalizer := worker.NewFinalizer(tracker, emitter, streams, cfg.RedisStreamsJobQueue, logger)
	cycleAnalysis := worker.NewCycleAnalysis(entities, relationships, orchestrator, deduplicator, tagger, emitter, logger)

	syncWorker := worker.NewSyncWorker(
		workUnits,
		connections,
		adapters,
		linkers,
		entityReconciler,
		relationshipReconciler,
		entities,
		finalizer,
		cycleAnalysis,
		emitter,
		logger,
	)

	processorConfig := worker.DefaultProcessorConfig()
	processorConfig.JobQueue = cfg.RedisStreamsJobQueue
	processorConfig.ConsumerGroup = cfg.RedisStreamsConsumerGroup
	processorConfig.DLQStream = cfg.RedisStreamsDLQ
	processorConfig.WorkerCount = cfg.WorkerCount
	processorConfig.MaxRetries = cfg.WorkerMaxRetries
	if cfg.RedisStreamsConsumerName != "" {
		processorConfig.ConsumerName = cfg.RedisStreamsConsumerName
	}
	processor := worker.NewProcessor(streams, dlq, syncWorker.HandleJob, logger, processorConfig)

	sched := scheduler.NewScheduler(workUnits, connections, streams, scheduler.NewRedisDispatchLocker(locker), adapters, logger, scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		BatchSize:    cfg.SchedulerBatchSize,
		LockTTL:      cfg.SchedulerLockTTL,
		JobQueue:     cfg.RedisStreamsJobQueue,
	})
	jobReconciler := scheduler.NewReconciler(workUnits, logger, cfg.ReconcilerInterval, cfg.WorkUnitRetention)

	fanOut := worker.NewFanOutPolicy(workUnits, tracker, finalizer, logger)
	fanOutConsumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: brokers,
		Topic:   cfg.KafkaEventTopic,
		GroupID: cfg.KafkaFanOutConsumerGroup,
	}, fanOut.Handle, logger)

	// dependency container for the route handlers
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create di container: %w", err)
	}
	if err := registerDependencies(container, logger, workUnits, alerts, sched, dlq, streams); err != nil {
		return err
	}

	// http
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.RequestContext())

	checker := health.NewChecker(db, redisClient, version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	workunitroutes.Register(api.Group("/work-units"))
	alertroutes.Register(api.Group("/alerts"))
	dlqroutes.Register(api.Group("/dlq"))

	// lifecycle graph: startup recovery runs before workers pull jobs, the
	// scheduler dispatches only once the processor is consuming
	st := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	st.AddDependency(&component{
		name:  "job-reconciler",
		start: jobReconciler.Start,
		stop:  func(context.Context) error { jobReconciler.Stop(); return nil },
	})
	st.AddDependency(&component{
		name:  "queue-processor",
		deps:  []string{"job-reconciler"},
		start: processor.Start,
		stop:  func(context.Context) error { processor.Stop(); return nil },
	})
	if cfg.SchedulerEnabled {
		st.AddDependency(&component{
			name:  "scheduler",
			deps:  []string{"queue-processor"},
			start: sched.Start,
			stop:  func(context.Context) error { sched.Stop(); return nil },
		})
	}
	st.AddDependency(&component{
		name: "fanout-consumer",
		start: func(ctx context.Context) error {
			fanOutConsumer.Start(ctx)
			return nil
		},
		stop: func(context.Context) error { return fanOutConsumer.Stop() },
	})
	st.AddDependency(&component{
		name: "http-server",
		start: func(context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				logger.WithField("addr", addr).Info("starting http server")
				if err := e.Start(addr); err != nil {
					logger.WithError(err).Info("http server stopped")
					cancel()
				}
			}()
			return nil
		},
		stop: e.Shutdown,
	})

	if err := st.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)

	// wait for a signal or a fatal server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}
	checker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := st.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}

	logger.Info("shutdown complete")
	return nil
}

// component adapts start/stop funcs to the startup dependency graph
type component struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (c *component) GetName() string { return c.name }

func (c *component) DependsOn() []string { return c.deps }

func (c *component) Start(ctx context.Context) error { return c.start(ctx) }

func (c *component) Stop(ctx context.Context) error { return c.stop(ctx) }

func registerDependencies(
	container ectocontainer.DIContainer,
	logger ectologger.Logger,
	workUnits *workunitrepo.Repository,
	alerts *alertrepo.Repository,
	sched *scheduler.Scheduler,
	dlq *redis.DLQ,
	streams *redis.Streams,
) error {
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[*workunitrepo.Repository](container, workUnits); err != nil {
		return fmt.Errorf("failed to register work unit repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*alertrepo.Repository](container, alerts); err != nil {
		return fmt.Errorf("failed to register alert repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*scheduler.Scheduler](container, sched); err != nil {
		return fmt.Errorf("failed to register scheduler: %w", err)
	}
	if err := ectoinject.RegisterInstance[*redis.DLQ](container, dlq); err != nil {
		return fmt.Errorf("failed to register dlq: %w", err)
	}
	if err := ectoinject.RegisterInstance[*redis.Streams](container, streams); err != nil {
		return fmt.Errorf("failed to register streams: %w", err)
	}
	return nil
}

func setupTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	var exporter sdktrace.SpanExporter
	if cfg.OTLPEnabled {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	} else {
		exporter = &exporters.ConsoleExporter{}
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}
