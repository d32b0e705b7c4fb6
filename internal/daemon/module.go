package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"rcsd/internal/bus"
	"rcsd/internal/call"
	"rcsd/internal/capability"
	"rcsd/internal/chat"
	"rcsd/internal/contact"
	"rcsd/internal/lock"
	"rcsd/internal/logging"
	"rcsd/internal/metrics"
	"rcsd/internal/profile"
	"rcsd/internal/recorder"
	"rcsd/internal/registration"
	"rcsd/internal/registry"
	"rcsd/internal/settings"
	"rcsd/internal/sharing"
	"rcsd/internal/store"
	"rcsd/internal/webserver"
)

// errNoTransport rejects outbound group chats when no signaling
// transport was attached through Params.
var errNoTransport = errors.New("no signaling transport attached")

// Params holds the resolved profile configuration passed to the fx
// module, plus the signaling hooks an embedding application attaches.
// Nil hooks leave the daemon runnable without a transport: capability
// probes are stamped and counted but not sent, and outbound group chat
// initiation is rejected.
type Params struct {
	Profile    string
	ConfigPath string // optional override for testing; empty = ~/.rcsd/config.toml
	ListenAddr string // optional override; empty = settings value

	DirectProbe   capability.ProbeFunc
	PresenceProbe capability.ProbeFunc
	Launcher      chat.Launcher
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideMetrics,
			provideCallMonitor,
			provideRegistration,
			provideCapabilityStore,
			provideRequesters,
			providePoller,
			provideRemover,
			provideSharingService,
			provideChatDirectory,
			provideRecorder,
			provideWebserver,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (*settings.Settings, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	s, err := settings.Load(path)
	if os.IsNotExist(err) {
		// First run: persist the defaults so the operator has a file to
		// edit.
		s = settings.Default()
		if saveErr := settings.Save(path, s); saveErr != nil {
			return nil, saveErr
		}
		return s, nil
	}
	return s, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideCallMonitor(b *bus.Bus, logger *zap.Logger) *call.Monitor {
	return call.NewMonitor(b, logger)
}

func provideRegistration(b *bus.Bus) *registration.Machine {
	return registration.NewMachine(b)
}

func provideCapabilityStore(s *settings.Settings, db *store.DB) *capability.Store {
	return capability.NewStore(db,
		s.Chat.ImStoreForwardAlwaysOn, s.Chat.FtStoreForwardAlwaysOn)
}

func provideRequesters(p Params, cs *capability.Store, m *metrics.Metrics, logger *zap.Logger) *capability.Requesters {
	return capability.NewRequesters(p.DirectProbe, p.PresenceProbe, cs, m, logger)
}

func providePoller(s *settings.Settings, db *store.DB, cs *capability.Store, reqs *capability.Requesters, m *metrics.Metrics, logger *zap.Logger) *capability.Poller {
	period := time.Duration(s.Capability.PollingPeriodSeconds) * time.Second
	return capability.NewPoller(period, s.Capability.ExpiryTimeoutSeconds,
		db, cs, reqs.Direct, reqs.Presence, m, logger)
}

func provideRemover(logger *zap.Logger) *registry.Remover {
	return registry.NewRemover(logger)
}

func provideSharingService(s *settings.Settings, monitor *call.Monitor, db *store.DB, b *bus.Bus, m *metrics.Metrics, remover *registry.Remover, logger *zap.Logger) *sharing.Service {
	return sharing.NewService(sharing.Options{
		Calls:        monitor,
		Contacts:     db,
		History:      db,
		Bus:          b,
		Metrics:      m,
		Remover:      remover,
		Logger:       logger,
		MaxImageSize: s.Sharing.MaxImageSize,
	})
}

func provideChatDirectory(p Params, machine *registration.Machine, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Directory {
	launcher := p.Launcher
	if launcher == nil {
		launcher = func(context.Context, []contact.ID, string) (chat.GroupSession, error) {
			return nil, errNoTransport
		}
	}
	return chat.NewDirectory(chat.Options{
		Registration: machine,
		Contacts:     db,
		History:      db,
		Launcher:     launcher,
		Bus:          b,
		Metrics:      m,
		Logger:       logger,
	})
}

func provideRecorder(db *store.DB, b *bus.Bus, logger *zap.Logger) *recorder.Engine {
	return recorder.NewEngine(db, b, logger)
}

func provideWebserver(p Params, s *settings.Settings, m *metrics.Metrics, svc *sharing.Service, dir *chat.Directory, machine *registration.Machine, db *store.DB, logger *zap.Logger) *webserver.Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = s.HTTPListenAddr
	}
	return webserver.New(addr, m, svc, dir, machine, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, monitor *call.Monitor, svc *sharing.Service, dir *chat.Directory, remover *registry.Remover, reqs *capability.Requesters, poller *capability.Poller, rec *recorder.Engine, ws *webserver.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Sharing sessions ride on a live call; drop them with it.
			monitor.SetOnEnded(svc.HandleCallEnded)

			remover.Start(context.Background())
			reqs.Start(context.Background())
			rec.Start(context.Background())
			poller.Start()
			if err := ws.Start(); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := ws.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			poller.Stop()
			svc.AbortAll("daemon shutdown")
			dir.Wait()
			// Flush deferred removals while the journal is still up.
			remover.Drain()
			remover.Stop()
			rec.Stop()
			reqs.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
