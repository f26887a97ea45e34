package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/mkessel/outrider/internal/config"
	"github.com/mkessel/outrider/internal/notify"
	"github.com/mkessel/outrider/internal/platform/logger"
	"github.com/mkessel/outrider/internal/platform/postgres"
	"github.com/mkessel/outrider/internal/queue"
	"github.com/mkessel/outrider/internal/store"
)

// app bundles the dependencies shared by the subcommands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *sql.DB
	taskStore    store.TaskStore
	messageStore store.MessageStore
}

// newApp loads configuration, sets up logging, and connects to the database.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &app{
		cfg:          cfg,
		logger:       log,
		db:           db,
		taskStore:    postgres.NewPostgresTaskStore(db, log),
		messageStore: postgres.NewPostgresMessageStore(db, log),
	}, nil
}

// close releases the application's resources.
func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database connection", "error", err)
	}
}

// queueService constructs the queue service over the app's stores.
func (a *app) queueService() (queue.QueueService, error) {
	return queue.NewQueueService(a.db, a.taskStore, a.messageStore, a.logger)
}

// notifier returns a redis-backed notifier when redis is configured, and a
// logging fallback otherwise.
func (a *app) notifier() (notify.Notifier, error) {
	if a.cfg.Notify.RedisURL == "" {
		a.logger.Info("redis not configured, notifications will be logged")
		return notify.NewLogNotifier(a.logger), nil
	}

	opts, err := redis.ParseURL(a.cfg.Notify.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return notify.NewRedisNotifier(redis.NewClient(opts), a.logger), nil
}
