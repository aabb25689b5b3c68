package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"taskflow/internal/auth"
	"taskflow/internal/board"
	"taskflow/internal/broadcast"
	"taskflow/internal/config"
	"taskflow/internal/db"
	httpx "taskflow/internal/http"
	"taskflow/internal/jobs"
	"taskflow/internal/logging"
	"taskflow/internal/realtime"
)

var serveSkipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket endpoint and job worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSkipMigrate, "skip-migrate", false, "Do not migrate the schema on start")
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if !serveSkipMigrate {
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	backbone, closeRedis, err := newBackbone(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	svc := &board.Service{DB: gdb}
	hub := realtime.NewHub(realtime.Options{
		Backbone: backbone,
		Members:  svc,
		Logger:   logger,
	})
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start backbone: %w", err)
	}
	defer func() {
		if err := hub.Close(); err != nil {
			logger.Warn("hub close failed", slog.String("error", err.Error()))
		}
	}()

	jwtSvc := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, gdb, jwtSvc, hub, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if cfg.WorkerEnabled {
		go newWorker(cfg, gdb, svc, hub, logger).Run(workerCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.HTTPAddr), slog.String("instance_id", cfg.InstanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancelWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBackbone picks the Redis backbone when REDIS_URL is set and in-process
// delivery otherwise.
func newBackbone(cfg config.Config, logger *slog.Logger) (realtime.Backbone, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("room fan-out is local to this instance")
		return realtime.NewLocalBackbone(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("room fan-out via redis; presence snapshots stay per instance", slog.String("channel", cfg.RedisChannel))
	return realtime.NewRedisBackbone(rdb, cfg.RedisChannel, cfg.InstanceID, logger), closeFn, nil
}

func newWorker(cfg config.Config, gdb *gorm.DB, svc *board.Service, hub *realtime.Hub, logger *slog.Logger) *jobs.Worker {
	return &jobs.Worker{
		ID:     "worker-" + cfg.InstanceID,
		Queue:  &jobs.Repo{DB: gdb},
		Logger: logger,
		Handlers: map[string]jobs.Handler{
			jobs.TypeTaskDue: &board.DueReminder{
				Svc:         svc,
				Broadcaster: broadcast.New(hub, logger),
				Logger:      logger,
			},
		},
	}
}
