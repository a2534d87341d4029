package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/cache"
	"github.com/zaqqye/qr_backend_v1/internal/config"
	"github.com/zaqqye/qr_backend_v1/internal/controllers"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/events"
	"github.com/zaqqye/qr_backend_v1/internal/jobs"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/routes"
	"github.com/zaqqye/qr_backend_v1/internal/ws"
)

func serveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed built-in templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			log.Info().Msg("migration complete")
			return closeDB(db)
		},
	}
}

func cleanupLogsCmd(cfg *config.Config) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup-logs",
		Short: "Delete application logs older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)
			deleted, err := jobs.CleanupLogs(cmd.Context(), db, days, time.Now())
			if err != nil {
				return err
			}
			applog.New(db, log.Logger, nil).Log(cmd.Context(), applog.Entry{
				Event:    applog.EventLogsCleanup,
				Message:  fmt.Sprintf("deleted %d log entries older than %d days", deleted, days),
				Metadata: map[string]any{"deleted": deleted, "older_than_days": days, "source": "cli"},
			})
			log.Info().Int64("deleted", deleted).Int("older_than_days", days).Msg("logs cleanup done")
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", cfg.LogRetentionDays, "delete entries older than this many days")
	return cmd
}

func cleanupSessionsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Delete expired or revoked refresh sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)
			deleted, err := jobs.CleanupSessions(cmd.Context(), db, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", deleted).Msg("sessions cleanup done")
			return nil
		},
	}
}

func openDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Migrate(db, cfg.RLSEnabled); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	if err := database.SeedTemplates(ctx, database.NewTenancy(db, cfg.RLSEnabled)); err != nil {
		return nil, fmt.Errorf("template seed failed: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; continuing without cache, queue and shared rate limits")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nats, err := events.Connect(cfg.NATSURL, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable; events disabled")
		} else {
			defer nats.Close()
			publisher = nats
		}
	}

	hub := ws.NewLogHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	logger := applog.New(db, log.Logger, hub)

	var queue controllers.CleanupQueue
	if rdb != nil {
		opt := rdb.Options()
		asynqOpt := asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}

		enq := jobs.NewEnqueuer(asynqOpt, log.Logger)
		defer enq.Close()
		queue = enq

		worker := jobs.NewWorker(asynqOpt, &jobs.Handlers{DB: db, Logger: logger, Log: log.Logger})
		if err := worker.Start(); err != nil {
			log.Warn().Err(err).Msg("asynq worker failed to start")
		} else {
			defer worker.Shutdown()
		}

		scheduler, err := jobs.NewScheduler(asynqOpt, cfg.LogRetentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("asynq scheduler setup failed")
		} else if err := scheduler.Start(); err != nil {
			log.Warn().Err(err).Msg("asynq scheduler failed to start")
		} else {
			defer scheduler.Shutdown()
		}
	}

	providers := controllers.SetupOAuth(cfg)

	if !cfg.IsDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(routes.Recovery(logger), middleware.RequestLogger(log.Logger))
	if err := routes.Register(r, routes.Deps{
		DB:     db,
		Cfg:    cfg,
		Logger: logger,
		Redis:  rdb,
		Events: publisher,
		Cache:  cache.NewImageCache(rdb, 0),
		Queue:  queue,
		Hub:    hub,
	}); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Log(ctx, applog.Entry{
		Event:    applog.EventStartup,
		Message:  "server starting on :" + port,
		Metadata: map[string]any{"oauth_providers": providers, "redis": rdb != nil, "rls": cfg.RLSEnabled},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
