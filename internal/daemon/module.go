package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/config"
	"github.com/bibswap/swapchat/internal/httpapi"
	"github.com/bibswap/swapchat/internal/lock"
	"github.com/bibswap/swapchat/internal/logging"
	"github.com/bibswap/swapchat/internal/paramstore"
	"github.com/bibswap/swapchat/internal/session"
	"github.com/bibswap/swapchat/internal/status"
	"github.com/bibswap/swapchat/internal/store"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"github.com/bibswap/swapchat/internal/translate"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the command line settings passed to the fx module.
type Params struct {
	ConfigPath string
	SocketPath string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSessionProvider,
			provideUpstream,
			provideTranslationService,
			provideDetector,
			provideReconciler,
			provideChatService,
			provideConversationService,
			NewServer,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.LogLevel, "swapchatd")
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(bus.WithDropHook(func(evt bus.Event) {
		logger.Warn("bus subscriber full, event dropped", zap.String("kind", evt.Kind), zap.String("key", evt.Key))
	}))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, p Params, logger *zap.Logger) (*lock.Lock, error) {
	socket := p.SocketPath
	if socket == "" {
		socket = cfg.SocketPath()
	}
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir, lock.Info{
		PID:      os.Getpid(),
		Socket:   socket,
		HTTPAddr: cfg.HTTPAddr,
		Started:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its holder.
func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
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

func provideSessionProvider(cfg *config.Config) (*session.Provider, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required to run the daemon")
	}
	return session.NewProvider(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
}

// provideUpstream builds the translation client. It returns nil when
// translation is disabled.
func provideUpstream(cfg *config.Config, m *status.Machine, logger *zap.Logger) (*monitoredTranslator, error) {
	tc := cfg.Translation
	if !tc.Enabled {
		logger.Info("translation disabled")
		return nil, nil
	}
	opts := []translate.Option{
		translate.WithBaseURL(tc.BaseURL),
		translate.WithTimeout(tc.Timeout),
	}
	if tc.APIKey != "" {
		opts = append(opts, translate.WithAPIKey(tc.APIKey))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ps, err := paramstore.NewFromEnv(ctx, tc.AWSRegion)
		if err != nil {
			return nil, err
		}
		opts = append(opts, translate.WithParamStore(ps, tc.APIKeyParam))
	}
	client, err := translate.NewClient(tc.Model, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("translation enabled", zap.String("model", tc.Model))
	return &monitoredTranslator{
		upstream: client,
		health:   newTranslationHealth(m, degradeAfter, logger.Named("translation")),
	}, nil
}

func provideTranslationService(db *store.DB, up *monitoredTranslator, logger *zap.Logger) *translate.Service {
	if up == nil {
		return translate.NewService(db, nil, logger)
	}
	return translate.NewService(db, up, logger)
}

// provideDetector returns nil when translation is disabled.
func provideDetector(db *store.DB, up *monitoredTranslator, b *bus.Bus, logger *zap.Logger) *translate.Detector {
	if up == nil {
		return nil
	}
	return translate.NewDetector(db, up, b, logger)
}

func provideReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, b, logger)
}

func provideChatService(db *store.DB, b *bus.Bus, rec *intsync.Reconciler, tr *translate.Service, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, b, rec, tr, logger)
}

func provideConversationService(cfg *config.Config, c *chat.Service, tr *translate.Service, b *bus.Bus, m *status.Machine, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(c, tr, b, m, cfg.Sync.PushBuffer, logger)
}

// provideHTTPServer returns nil when http_addr is empty.
func provideHTTPServer(cfg *config.Config, c *chat.Service, provider *session.Provider, b *bus.Bus, logger *zap.Logger) *httpapi.Server {
	if cfg.HTTPAddr == "" {
		logger.Info("HTTP API disabled")
		return nil
	}
	return httpapi.New(c, provider, b, httpapi.Options{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SendPerMinute:  cfg.HTTP.SendPerMinute,
		PushBuffer:     cfg.Sync.PushBuffer,
		ShareBaseURL:   cfg.ShareBaseURL,
	}, logger.Named("http"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *httpapi.Server, detector *translate.Detector, db *store.DB, lk *lock.Lock, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if detector != nil {
				detector.Start(context.Background())
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if httpSrv != nil {
				go func() {
					if err := httpSrv.Start(); err != nil {
						logger.Error("HTTP server error", zap.Error(err))
					}
				}()
			}

			return machine.Transition(status.Ready, "serving")
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping, "shutdown requested")
			if httpSrv != nil {
				if err := httpSrv.Stop(ctx); err != nil {
					logger.Warn("error stopping HTTP server", zap.Error(err))
				}
			}
			srv.Stop(ctx)
			if detector != nil {
				detector.Stop()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
