package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/agent"
	"github.com/crewsnap/crewsnap/internal/api"
	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/config"
	"github.com/crewsnap/crewsnap/internal/lock"
	"github.com/crewsnap/crewsnap/internal/logging"
	"github.com/crewsnap/crewsnap/internal/queue"
	"github.com/crewsnap/crewsnap/internal/remote"
	"github.com/crewsnap/crewsnap/internal/store"
	"github.com/crewsnap/crewsnap/internal/uploader"
	"github.com/crewsnap/crewsnap/internal/watch"
)

// Params holds the resolved agent configuration passed to the fx module.
type Params struct {
	AgentName  string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideQueue,
			provideRemote,
			provideWorker,
			provideWatcher,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(agent.LogPath(p.AgentName), p.AgentName)
}

func provideConfig(p Params, logger *zap.Logger) *config.Config {
	path := p.ConfigPath
	if path == "" {
		path = agent.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Warn("config not loaded, using defaults", zap.String("path", path), zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := agent.EnsureDir(p.AgentName); err != nil {
		return nil, err
	}
	logger.Info("acquiring agent lock", zap.String("agent", p.AgentName))
	l, err := lock.Acquire(agent.Dir(p.AgentName))
	if err != nil {
		return nil, err
	}
	logger.Info("agent lock acquired")
	return l, nil
}

// provideStore opens the local queue store. Failure aborts daemon startup:
// without the store there is no offline capture.
func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := agent.DBPath(p.AgentName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	// Startup retention pass: completed uploads past the window are dropped.
	now := time.Now().UnixMilli()
	if n, err := db.PruneCompleted(now - cfg.CompletedRetention().Milliseconds()); err != nil {
		logger.Warn("retention prune failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("expired completed uploads pruned", zap.Int64("count", n))
	}
	// Uploads interrupted by a previous crash become retryable again.
	if n, err := db.ReclaimStale(now-cfg.StaleTimeout().Milliseconds(), now); err != nil {
		logger.Warn("stale reclaim failed", zap.Error(err))
	} else if n > 0 {
		logger.Warn("interrupted uploads reclaimed", zap.Int64("count", n))
	}

	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideQueue(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *queue.Queue {
	return queue.New(db, b, logger, cfg.Remote.TenantID, agent.Dir(p.AgentName), cfg.Storage.MaxUsedPercent)
}

func provideRemote(cfg *config.Config) *remote.Client {
	return remote.New(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.TenantID, cfg.UploadTimeout())
}

func provideWorker(cfg *config.Config, db *store.DB, client *remote.Client, b *bus.Bus, logger *zap.Logger) *uploader.Worker {
	return uploader.NewWorker(db, client, b, logger, uploader.Config{
		MaxAttempts:  cfg.Uploader.MaxAttempts,
		PollInterval: cfg.PollInterval(),
		BackoffBase:  cfg.BackoffBase(),
		BackoffMax:   cfg.BackoffMax(),
		StaleTimeout: cfg.StaleTimeout(),
		Retention:    cfg.CompletedRetention(),
		MaxPerRun:    cfg.Uploader.MaxUploadsPerRun,
	})
}

// provideWatcher returns nil when no drop directory is configured.
func provideWatcher(cfg *config.Config, q *queue.Queue, logger *zap.Logger) *watch.Watcher {
	if cfg.Watch.Dir == "" {
		return nil
	}
	return watch.New(cfg.Watch.Dir, cfg.Watch.ContactID, cfg.Watch.ProjectID, q, logger)
}

func provideHandler(q *queue.Queue, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(q, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, cfg *config.Config, worker *uploader.Worker, watcher *watch.Watcher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start control API server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API server error", zap.Error(err))
				}
			}()

			if cfg.Remote.BaseURL == "" {
				logger.Warn("remote endpoint not configured, uploads deferred until set")
			} else {
				worker.Start(context.Background())
			}

			if watcher != nil {
				if err := watcher.Start(context.Background()); err != nil {
					logger.Error("drop watcher failed to start", zap.Error(err))
				}
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if watcher != nil {
				watcher.Stop()
			}
			worker.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
