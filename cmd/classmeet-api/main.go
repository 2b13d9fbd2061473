package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classmeet-api/api/swagger"
	"github.com/noah-isme/classmeet-api/internal/handler"
	"github.com/noah-isme/classmeet-api/internal/repository"
	"github.com/noah-isme/classmeet-api/internal/service"
	"github.com/noah-isme/classmeet-api/pkg/cache"
	"github.com/noah-isme/classmeet-api/pkg/config"
	"github.com/noah-isme/classmeet-api/pkg/database"
	"github.com/noah-isme/classmeet-api/pkg/jobs"
	"github.com/noah-isme/classmeet-api/pkg/logger"
)

// @title ClassMeet API
// @version 1.0.0
// @description Class session lifecycle, attendance and notifications.
// @BasePath /api/v1
// @schemes http

const notificationRestoreLimit = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	var (
		store service.SessionStore
		db    *sqlx.DB
	)
	switch cfg.SessionStore {
	case config.StorePostgres:
		conn, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer conn.Close()
		if err := repository.Migrate(ctx, conn); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		db = conn
		store = repository.NewSessionRepository(conn)
		checks["postgres"] = func(ctx context.Context) error { return conn.PingContext(ctx) }
	default:
		store = repository.NewMemorySessionStore()
	}

	var cacheRepo service.CacheRepository
	if cfg.Board.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("board cache disabled, redis unavailable", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, "classmeet", logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	boardCache := service.NewCacheService(cacheRepo, metrics, cfg.Board.CacheTTL, logr, cacheRepo != nil)

	var (
		notifyOpts []service.NotificationOption
		archive    *repository.NotificationRepository
	)
	if db != nil && cfg.Notifications.ArchiveEnabled {
		archive = repository.NewNotificationRepository(db)
		queue := jobs.NewQueue("notification-archive", service.ArchiveHandler(archive), jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()
		notifyOpts = append(notifyOpts, service.WithNotificationQueue(queue))
	}
	notifications := service.NewNotificationService(metrics, logr, notifyOpts...)
	if archive != nil {
		restored, err := notifications.Restore(ctx, archive, notificationRestoreLimit)
		if err != nil {
			logr.Warn("could not restore notification history", zap.Error(err))
		} else {
			logr.Info("notification history restored", zap.Int("count", restored))
		}
	}

	engine := service.NewSessionService(store, notifications, nil, logr,
		service.WithSessionLocation(cfg.Location()),
		service.WithReminderLead(cfg.Sweep.ReminderLead),
		service.WithSessionCache(boardCache),
		service.WithSessionMetrics(metrics),
	)
	query := service.NewSessionQueryService(store, boardCache, logr)

	if cfg.Sweep.Enabled {
		stopSweeper := service.NewSweeper(engine, cfg.Sweep.Interval, logr).Start(ctx)
		defer stopSweeper()
	}

	router := newRouter(cfg, logr, routerDeps{
		sessions:      handler.NewSessionHandler(engine, query),
		notifications: handler.NewNotificationHandler(notifications),
		metrics:       handler.NewMetricsHandler(metrics, checks),
		metricsSvc:    metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.SessionStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
