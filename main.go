package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"wellbook/config"
	"wellbook/cron"
	"wellbook/database"
	bookingRepo "wellbook/database/repository/booking"
	ledgerRepo "wellbook/database/repository/ledger"
	serviceRepo "wellbook/database/repository/service"
	userRepo "wellbook/database/repository/user"
	"wellbook/handlers"
	"wellbook/middleware"
	"wellbook/models"
	"wellbook/routes"
	"wellbook/services/availability"
	"wellbook/services/booking"
	"wellbook/services/events"
	"wellbook/services/notification"
	"wellbook/services/slots"
	"wellbook/services/tokens"
	"wellbook/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := utils.NewLogger(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	loc, _ := cfg.Location()
	clock := utils.SystemClock{Location: loc}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("main: mongo connection failed", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.DatabaseName)

	// repositories.
	bookings := bookingRepo.NewMongoBookingRepo(db, cfg.StoreTimeout)
	ledgerStore := ledgerRepo.NewMongoLedgerRepo(db, cfg.LedgerTransactional, cfg.StoreTimeout)
	services := serviceRepo.NewMongoServiceRepo(db, cfg.StoreTimeout)
	users := userRepo.NewMongoUserRepo(db, cfg.StoreTimeout)

	if err := bookings.EnsureIndexes(ctx); err != nil {
		logger.Fatal("main: booking indexes", zap.Error(err))
	}
	if err := ledgerStore.EnsureIndexes(ctx); err != nil {
		logger.Fatal("main: ledger indexes", zap.Error(err))
	}

	catalog, err := slots.NewCatalog(cfg.SlotLabels())
	if err != nil {
		logger.Fatal("main: slot catalog", zap.Error(err))
	}

	// availability cache kept warm by the change feed.
	index := availability.NewIndex(bookings, logger, cfg.StoreTimeout)
	relay := availability.NewRelay(bookings, index, logger)
	relay.Start(ctx)
	defer relay.Stop()

	ledger := tokens.NewLedger(ledgerStore, clock, logger)

	// side effects.
	var notifier notification.Notifier = notification.LogNotifier{Logger: logger}
	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := utils.NewFCMClient(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Warn("main: push notifications disabled", zap.Error(err))
		} else {
			notifier = notification.NewFCMNotifier(fcm, users, notification.DefaultBreakerConfig, logger)
		}
	}
	eventRouter := events.NewRouter(logger, cfg.SideEffectTimeout)
	eventRouter.Handle("token-reward", tokens.RewardHandler(ledger, cfg.BookingCompletedReward), models.EventBookingCompleted)
	eventRouter.Handle("notify", notification.NewDispatcher(notifier).Handle)

	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB)
	if err != nil {
		logger.Warn("main: redis unavailable", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	engineCfg := booking.EngineConfig{
		Bookings: bookings,
		Services: services,
		Catalog:  catalog,
		Clock:    clock,
		Location: loc,
		Logger:   logger,
	}

	if cfg.UseTaskQueue && redisClient != nil {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		queue := asynq.NewClient(redisOpt)
		defer queue.Close()
		engineCfg.Publisher = cron.NewQueuePublisher(queue, eventRouter, logger)
	} else {
		async := events.NewAsyncPublisher(eventRouter, logger)
		defer async.Close()
		engineCfg.Publisher = async
	}
	engine := booking.NewEngine(engineCfg)

	if cfg.UseTaskQueue && redisClient != nil {
		worker := cron.NewWorker(cron.WorkerConfig{
			Redis:     asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB},
			SweepSpec: cfg.CompletionSweepCron,
		}, eventRouter, engine, logger)
		if err := worker.Start(); err != nil {
			logger.Fatal("main: task worker", zap.Error(err))
		}
		defer worker.Shutdown()
	}

	// health.
	var redisPing utils.Pinger
	if redisClient != nil {
		redisPing = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		redisPing = func(context.Context) error { return errors.New("redis not configured") }
	}
	monitor := utils.NewHealthMonitor(
		func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		redisPing,
		clock,
	)
	go monitor.Run(ctx, 30*time.Second)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(utils.ErrorHandler(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.NewRateLimiter(cfg.MaxRequestsPerMin, logger).Middleware())

	handlerBundle := &handlers.HandlerBundle{
		Availability: handlers.NewAvailabilityHandler(index, engine, logger),
		Booking:      handlers.NewBookingHandler(engine, logger),
		Tokens:       handlers.NewTokenHandler(ledger, logger),
	}
	routes.RegisterRoutes(router, handlerBundle, utils.NewTokenVerifier(cfg.JWTSecret), monitor)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.AppPort,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar().Info("main: server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}
	logger.Sugar().Info("main: server stopped gracefully")
}
