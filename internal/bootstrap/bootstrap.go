// Package bootstrap assembles the runtime shared by the api, scheduler and
// pipelinectl binaries: database, event bus, notifications, locking, job
// archive and the pipeline module.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/adapters/storage"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/email"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/notification"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/notification/sse"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/service"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/settings"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/db"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/lock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/validator"
)

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// Options select the optional parts of the runtime.
type Options struct {
	// Migrate applies pending goose migrations after connecting.
	Migrate bool
	// Queue receives asynchronous maintenance requests. Nil disables them.
	Queue service.MaintenanceQueue
}

// Runtime holds everything a binary needs to serve pipeline operations.
type Runtime struct {
	Pool          *pgxpool.Pool
	Bus           *events.InMemoryBus
	Notifications *notification.Module
	Pipeline      *pipeline.Module
	Settings      *settings.Settings
	// Archive is nil when object storage is disabled or unreachable.
	Archive       storage.ArchiveService
	ArchiveBucket string

	closers []func()
}

// Open connects to the infrastructure and builds the pipeline module.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if err := WithRetry(ctx, log, "database connection", connectAttempts, connectDelay, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.Pool = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.closers = append(rt.closers, rt.Pool.Close)
	log.Info("database connection established")

	if opts.Migrate {
		if err := WithRetry(ctx, log, "database migrations", connectAttempts, connectDelay, func() error {
			return db.RunMigrations(ctx, rt.Pool)
		}); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations complete")
	}

	s, err := loadSettings(cfg.GetPipelineSettingsPath())
	if err != nil {
		return nil, err
	}
	rt.Settings = s

	store := repository.New(rt.Pool)
	rt.Bus = events.NewInMemoryBus(log)

	notifications := notification.NewService(store, store, email.NewSender(cfg), log)
	notifications.SetBaseURL(cfg.GetAppBaseURL())
	rt.Notifications = notification.NewModule(notifications, sse.New(log), log)
	rt.Notifications.RegisterHandlers(rt.Bus)
	rt.closers = append(rt.closers, rt.Notifications.Close)

	locker, err := rt.locker(cfg, log)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:     store,
		Settings:  s,
		Sink:      notifications,
		Bus:       rt.Bus,
		Clock:     clock.System{},
		Locker:    locker,
		Queue:     opts.Queue,
		Config:    cfg,
		Validator: validator.New(),
		Log:       log,
	}
	if archive, bucket := openArchive(ctx, cfg, log); archive != nil {
		deps.Archive = archive
		deps.ArchiveBucket = bucket
		rt.Archive, rt.ArchiveBucket = archive, bucket
	}

	rt.Pipeline, err = pipeline.NewModule(deps)
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// Maintenance returns the orchestrator shared by the worker and the CLI.
func (rt *Runtime) Maintenance() *maintenance.Orchestrator {
	return rt.Pipeline.Maintenance()
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Bus != nil {
		rt.Bus.Wait()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) locker(cfg config.RedisConfig, log *logger.Logger) (lock.Locker, error) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; maintenance runs without a distributed lock")
		return lock.Noop{}, nil
	}
	client, err := lock.NewRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return lock.NewRedisLocker(client), nil
}

func loadSettings(path string) (*settings.Settings, error) {
	if path == "" {
		return settings.Default(), nil
	}
	s, err := settings.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load pipeline settings: %w", err)
	}
	return s, nil
}

// openArchive returns nil when object storage is disabled or unreachable;
// maintenance then keeps summaries in the database only.
func openArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage.MinIOService, string) {
	if !cfg.IsMinIOEnabled() {
		return nil, ""
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		return nil, ""
	}
	bucket := cfg.GetMinioBucketJobLogs()
	if err := WithRetry(ctx, log, "ensure job-log bucket", connectAttempts, connectDelay, func() error {
		return svc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		return nil, ""
	}
	log.Info("storage service initialized", "jobLogsBucket", bucket)
	return svc, bucket
}

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
