package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/lined/internal/api"
	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/config"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/lock"
	"github.com/matheus3301/lined/internal/logging"
	"github.com/matheus3301/lined/internal/session"
	"github.com/matheus3301/lined/internal/status"
	"github.com/matheus3301/lined/internal/store"
	intsync "github.com/matheus3301/lined/internal/sync"
	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// loginTimeout bounds the login handshake at startup.
const loginTimeout = 30 * time.Second

// ExitSuperseded is the exit code used when another client takes over the
// account.
const ExitSuperseded = 3

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default

	// Config replaces the session's config file when set.
	Config *config.Config
	// Secret replaces the secret read from the configured environment
	// variable when set.
	Secret string
	// Talk replaces the endpoints derived from Config.Server when set.
	Talk *talk.Options
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
			provideTalkClient,
			provideSession,
			provideDirectory,
			provideChatStore,
			provideIndex,
			provideReconciler,
			provideIndexer,
			provideSyncEngine,
			provideContactService,
			provideConversationService,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		path := session.AccountConfigPath(p.SessionName)
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), cfg.Account.Identity)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideTalkClient(p Params, cfg *config.Config, logger *zap.Logger) (*talk.Client, error) {
	opts := talk.Options{
		CommandAddr: cfg.Server.CommandAddr,
		SyncAddr:    cfg.Server.SyncAddr,
		Application: cfg.Server.Application,
		Insecure:    cfg.Server.Insecure,
	}
	if p.Talk != nil {
		opts = *p.Talk
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = cfg.Sync.PollTimeout()
	}
	return talk.Dial(opts, logger.Named("talk"))
}

// provideSession logs in. It depends on the lock so that a second daemon
// fails before it can supersede the first one's login.
func provideSession(p Params, cfg *config.Config, client *talk.Client, _ *lock.Lock, logger *zap.Logger) (*session.Session, error) {
	secret := p.Secret
	if secret == "" {
		var err error
		if secret, err = cfg.Secret(); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()
	return session.Authenticate(ctx, client, cfg.Account.Identity, secret, logger)
}

func provideDirectory(sess *session.Session, b *bus.Bus, logger *zap.Logger) *directory.Cache {
	return directory.New(sess, b, logger.Named("directory"))
}

func provideChatStore(sess *session.Session, dir *directory.Cache, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.Store {
	return chat.NewStore(sess, dir, b, logger.Named("chat"), cfg.Sync.HistoryDepth)
}

func provideIndex(logger *zap.Logger) (*store.DB, error) {
	db, err := store.OpenMemory()
	if err != nil {
		return nil, err
	}
	logger.Info("search index initialized")
	return db, nil
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideIndexer(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Indexer {
	return intsync.NewIndexer(db, b, logger.Named("index"))
}

func provideSyncEngine(sess *session.Session, convs *chat.Store, m *status.Machine, b *bus.Bus, rec *intsync.Reconciler, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	engine := intsync.NewEngine(sess, convs, m, b, logger.Named("sync"), intsync.Options{
		BatchSize:     cfg.Sync.BatchSize,
		RetryInterval: cfg.Sync.RetryInterval(),
	})
	engine.SetReconciler(rec)
	return engine
}

func provideContactService(dir *directory.Cache, logger *zap.Logger) *api.ContactService {
	return api.NewContactService(dir, logger)
}

func provideConversationService(convs *chat.Store, db *store.DB, dir *directory.Cache, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(convs, db, dir, logger)
}

func provideSyncService(p Params, sess *session.Session, engine *intsync.Engine, dir *directory.Cache, convs *chat.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.SyncService {
	info := api.SyncInfo{SessionName: p.SessionName, Identity: sess.Identity()}
	return api.NewSyncService(info, engine, dir, convs, db, b, logger)
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Server     *Server
	Sync       *api.SyncService
	Lock       *lock.Lock
	Client     *talk.Client
	DB         *store.DB
	Directory  *directory.Cache
	Indexer    *intsync.Indexer
	Engine     *intsync.Engine
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	logger := p.Logger
	runCtx, cancel := context.WithCancel(context.Background())
	superseded := p.Bus.Subscribe(bus.KindSuperseded, 1)

	// release frees everything the providers opened. It runs on stop and
	// when startup fails after the providers succeeded.
	release := func(ctx context.Context) error {
		superseded.Close()
		p.Indexer.Stop()
		p.Sync.Close()
		p.Server.Stop(ctx)

		var errs []error
		errs = append(errs, p.Client.Close(), p.DB.Close())
		if err := p.Lock.Release(); err != nil {
			logger.Warn("error releasing lock", zap.Error(err))
		}
		return errors.Join(errs...)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Index first so the initial contact import is mirrored.
			p.Indexer.Start(runCtx)

			if err := p.Directory.Refresh(ctx); err != nil {
				cancel()
				if rerr := release(ctx); rerr != nil {
					logger.Warn("error releasing resources after failed start", zap.Error(rerr))
				}
				return fmt.Errorf("initial contact refresh: %w", err)
			}

			p.Engine.Start(runCtx, nil)

			go func() {
				select {
				case evt := <-superseded.C:
					logger.Error("account is in use by another client, shutting down", zap.Any("reason", evt.Payload))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(ExitSuperseded))
				case <-runCtx.Done():
				}
			}()

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Engine.Stop()
			// Abort a long poll in flight; a batch being applied still finishes.
			cancel()
			if err := p.Engine.Wait(ctx); err != nil {
				logger.Warn("sync loop did not stop in time", zap.Error(err))
			}
			err := release(ctx)
			logger.Info("daemon stopped")
			return err
		},
	})
}
