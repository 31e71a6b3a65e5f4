// Package daemon composes the session daemon: one process per session,
// owning the cache, the chat channel and the upload queue, controlled
// over a unix socket.
package daemon

import (
	"context"

	"github.com/achadosufc/achados/internal/api"
	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/config"
	"github.com/achadosufc/achados/internal/gateway"
	"github.com/achadosufc/achados/internal/items"
	"github.com/achadosufc/achados/internal/lock"
	"github.com/achadosufc/achados/internal/logging"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/session"
	"github.com/achadosufc/achados/internal/status"
	"github.com/achadosufc/achados/internal/store"
	intsync "github.com/achadosufc/achados/internal/sync"
	"github.com/achadosufc/achados/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideBackendClient,
			provideGateway,
			provideSyncEngine,
			provideItemRepository,
			provideUploadWorker,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults")
		return config.Default()
	}
	return cfg
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
	dbPath := session.CachePath(p.SessionName)
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

func provideCredentials(p Params) (*auth.Store, error) {
	return auth.NewStore(session.CredentialsPath(p.SessionName))
}

func provideBackendClient(cfg *config.Config, creds *auth.Store, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.BackendURL, creds, logger)
}

func provideGateway(cfg *config.Config, creds *auth.Store, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *gateway.Session {
	return gateway.NewSession(cfg.SocketURL, creds, b, machine, logger)
}

func provideSyncEngine(db *store.DB, gw *gateway.Session, b *bus.Bus, creds *auth.Store, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, gw, b, creds, logger)
}

func provideItemRepository(db *store.DB, client *rest.Client, b *bus.Bus, logger *zap.Logger) *items.Repository {
	return items.NewRepository(db, client, b, logger)
}

func provideUploadWorker(db *store.DB, client *rest.Client, b *bus.Bus, logger *zap.Logger) *upload.Worker {
	return upload.NewWorker(db, client, b, logger)
}

func provideAPIHandler(
	p Params,
	machine *status.Machine,
	creds *auth.Store,
	client *rest.Client,
	gw *gateway.Session,
	engine *intsync.Engine,
	repo *items.Repository,
	worker *upload.Worker,
	db *store.DB,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Handler {
	return &api.Handler{
		Machine:  machine,
		Creds:    creds,
		Backend:  client,
		Gateway:  gw,
		Engine:   engine,
		Items:    repo,
		Uploads:  worker,
		DB:       db,
		Bus:      b,
		MediaDir: session.MediaDir(p.SessionName),
		Logger:   logger,
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, gw *gateway.Session, engine *intsync.Engine, worker *upload.Worker, creds *auth.Store, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start()
			worker.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Bring the chat channel up when a stored credential is
			// still usable; otherwise wait for a login over the API.
			if creds.Current().Valid() {
				go func() {
					if err := gw.Connect(context.Background()); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop()
			engine.Stop()
			gw.Close()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
