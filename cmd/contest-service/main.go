package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	commonmw "eduoj/internal/common/http/middleware"
	"eduoj/internal/common/mq"
	"eduoj/internal/common/storage"
	"eduoj/internal/contest/controller"
	"eduoj/internal/contest/repository"
	"eduoj/internal/contest/service"
	"eduoj/internal/language"
	"eduoj/internal/schema"
	"eduoj/pkg/utils/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const defaultConfigPath = "configs/contest_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Optional .env file with secrets")
	migrate := flag.Bool("migrate", false, "Apply the database schema before serving")
	flag.Parse()

	if err := loadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	database, err := openDatabase(appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()
	if *migrate {
		if err := schema.Migrate(ctx, database); err != nil {
			logger.Error(ctx, "apply schema failed", zap.Error(err))
			return
		}
		logger.Info(ctx, "schema applied", zap.String("driver", appCfg.Database.Driver))
	}
	dbProvider := db.NewStaticProvider(database)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(ctx, "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(ctx, "init minio failed", zap.Error(err))
		return
	}

	languages := language.Default()
	if len(appCfg.Contest.Languages) > 0 {
		languages, err = language.NewRegistry(appCfg.Contest.Languages)
		if err != nil {
			logger.Error(ctx, "init language registry failed", zap.Error(err))
			return
		}
	}

	routes, dispatcher, err := buildServices(appCfg, dbProvider, database, redisCache, mqClient, objStorage, languages)
	if err != nil {
		logger.Error(ctx, "init services failed", zap.Error(err))
		return
	}

	resultConsumer := service.NewResultConsumer(mqClient, dispatcher)
	consumerOpts := appCfg.Contest.ResultConsumer.toSubscribeOptions(appCfg.Topics.ConsumerGroup, appCfg.Topics.ResultsDLQ)
	if err := resultConsumer.Subscribe(ctx, appCfg.Topics.Results, appCfg.Topics.ConsumerGroup, consumerOpts); err != nil {
		logger.Error(ctx, "subscribe judge results failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(ctx, "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, routes, map[string]pinger{
		"database": database,
		"redis":    redisCache,
		"kafka":    mqClient,
	})
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		logger.Error(ctx, "init grpc listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "contest http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info(ctx, "contest grpc health server started", zap.String("addr", appCfg.GRPC.Addr))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	healthServer.Shutdown()
	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
	grpcServer.GracefulStop()
}

func openDatabase(cfg DatabaseConfig) (*db.SQLDatabase, error) {
	switch cfg.Driver {
	case "postgres":
		return db.NewPostgreSQLWithConfig(&cfg.PoolConfig)
	case "sqlite":
		return db.NewSQLite(cfg.DSN)
	default:
		return db.NewMySQLWithConfig(&cfg.PoolConfig)
	}
}

// buildServices wires repositories, services and controllers.
func buildServices(cfg *AppConfig, provider db.Provider, database db.Database, redisCache *cache.RedisCache, mqClient mq.Producer, objStorage storage.ObjectStorage, languages *language.Registry) (controller.Routes, *service.Dispatcher, error) {
	c := cfg.Contest
	taskRepo := repository.NewTaskRepositoryWithTTL(database, redisCache, c.TaskCacheTTL, c.TaskEmptyTTL)
	submissionRepo := repository.NewSubmissionRepositoryWithTTL(database, redisCache, c.SubmissionCacheTTL, c.SubmissionEmptyTTL)
	contestRepo := repository.NewContestRepository(database)
	participantRepo := repository.NewParticipantRepository(database)
	artifactRepo := repository.NewArtifactRepository(database)
	store, err := repository.NewArtifactStore(objStorage, c.ArtifactBucket)
	if err != nil {
		return controller.Routes{}, nil, err
	}
	snapshots, err := repository.NewScoreboardCache(redisCache, c.ScoreboardTTL)
	if err != nil {
		return controller.Routes{}, nil, err
	}
	publisher := service.NewMQEventPublisher(mqClient, cfg.Topics.ContestEvents, cfg.Topics.Judge)

	aggregator, err := service.NewAggregator(service.AggregatorConfig{
		Provider:     provider,
		Contests:     contestRepo,
		Participants: participantRepo,
		Stats:        repository.NewScoreboardRepository(database),
		Cache:        snapshots,
		Timeouts:     c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	registry, err := service.NewRegistry(service.RegistryConfig{
		Participants: participantRepo,
		Contests:     contestRepo,
		Scoreboard:   aggregator,
		Timeouts:     c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	dispatcher, err := service.NewDispatcher(service.DispatcherConfig{
		Provider:    provider,
		Submissions: submissionRepo,
		Tasks:       taskRepo,
		Artifacts:   artifactRepo,
		Store:       store,
		Languages:   languages,
		Publisher:   publisher,
		Retry:       c.Retry,
		Timeouts:    c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	submissions, err := service.NewSubmissionService(service.SubmissionConfig{
		Provider:       provider,
		Submissions:    submissionRepo,
		Artifacts:      artifactRepo,
		Tasks:          taskRepo,
		Contests:       contestRepo,
		Store:          store,
		Cache:          redisCache,
		Languages:      languages,
		Registry:       registry,
		Dispatcher:     dispatcher,
		Scoreboard:     aggregator,
		MaxCodeBytes:   c.MaxCodeBytes,
		IdempotencyTTL: c.IdempotencyTTL,
		RateLimit:      c.RateLimit,
		Timeouts:       c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	tasks, err := service.NewTaskService(service.TaskConfig{
		Provider:  provider,
		Tasks:     taskRepo,
		Validator: submissions,
		Timeouts:  c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	clock, err := service.NewClockService(service.ClockConfig{
		Provider:   provider,
		Contests:   contestRepo,
		Tasks:      taskRepo,
		Publisher:  publisher,
		Scoreboard: aggregator,
		Timeouts:   c.Timeouts,
	})
	if err != nil {
		return controller.Routes{}, nil, err
	}
	dispatcher.AddHandler(aggregator)
	dispatcher.AddHandler(tasks)

	verifier, err := commonmw.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return controller.Routes{}, nil, err
	}
	return controller.Routes{
		Tasks:       controller.NewTaskController(tasks, submissions, c.MaxUploadBytes),
		Contests:    controller.NewContestController(clock, registry, aggregator, submissions, c.MaxUploadBytes),
		Submissions: controller.NewSubmissionController(submissions, dispatcher, registry),
		Auth:        commonmw.Authenticate(verifier),
		Judge:       commonmw.JudgeToken(cfg.Auth.JudgeToken),
	}, dispatcher, nil
}
