package daemon

import (
	"context"

	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/gateway"
	"github.com/matheus3301/bbsync/internal/lock"
	"github.com/matheus3301/bbsync/internal/logging"
	"github.com/matheus3301/bbsync/internal/session"
	"github.com/matheus3301/bbsync/internal/socket"
	"github.com/matheus3301/bbsync/internal/status"
	"github.com/matheus3301/bbsync/internal/store"
	intsync "github.com/matheus3301/bbsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string
	Password    string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSupervisor,
			provideTypingTracker,
			provideReconciler,
			provideCoordinator,
			provideClient,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSupervisor(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *socket.Supervisor {
	return socket.NewSupervisor(socket.Config{}, b, machine, logger)
}

func provideTypingTracker() *intsync.TypingTracker {
	return intsync.NewTypingTracker(0)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideCoordinator(db *store.DB, b *bus.Bus, rec *intsync.Reconciler, typing *intsync.TypingTracker, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(db, b, rec, typing, logger)
}

func provideClient(p Params) *gateway.Client {
	return gateway.NewClient(p.ServerURL, p.Password)
}

func provideGateway(client *gateway.Client, db *store.DB, b *bus.Bus, rec *intsync.Reconciler, sup *socket.Supervisor, logger *zap.Logger) *gateway.Gateway {
	return gateway.NewGateway(client, db, b, rec, sup, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, sup *socket.Supervisor, coord *intsync.Coordinator, gw *gateway.Gateway, client *gateway.Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The coordinator must be consuming before the socket opens so
			// no early event is dropped.
			coord.Start(context.Background())

			if err := client.Ping(ctx); err != nil {
				logger.Warn("bridge not reachable yet", zap.Error(err))
			} else if info, err := client.ServerInfo(ctx); err == nil {
				logger.Info("bridge reachable",
					zap.String("server_version", info.ServerVersion),
					zap.String("os_version", info.OSVersion))
			}

			if err := sup.Connect(p.ServerURL, p.Password); err != nil {
				return err
			}

			// Warm the cache in the background; reads are served from the
			// cache meanwhile.
			go func() {
				if err := gw.Refresh(context.Background()); err != nil {
					logger.Warn("initial refresh failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			sup.Disconnect()
			coord.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
