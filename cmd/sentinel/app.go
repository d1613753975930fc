package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/apisentinel/sentinel/internal/config"
	"github.com/apisentinel/sentinel/internal/cryptobox"
	"github.com/apisentinel/sentinel/internal/gate"
	"github.com/apisentinel/sentinel/internal/guard"
	"github.com/apisentinel/sentinel/internal/guard/store"
	"github.com/apisentinel/sentinel/internal/identity"
	"github.com/apisentinel/sentinel/internal/keystore"
	"github.com/apisentinel/sentinel/internal/ledger"
	"github.com/apisentinel/sentinel/internal/observability"
	"github.com/apisentinel/sentinel/internal/retention"
	"github.com/apisentinel/sentinel/internal/server"
	"github.com/apisentinel/sentinel/internal/timeframe"
)

// breakerTimeout is how long the counter-store circuit stays open
// before probing Redis again.
const breakerTimeout = 30 * time.Second

// application wires every component together.
type application struct {
	cfg       *config.Config
	logger    observability.Logger
	db        *sqlx.DB
	counters  store.Store
	keys      *keystore.Manager
	gate      *gate.Gate
	server    *server.Server
	retention *retention.Scheduler

	serverErr chan error
}

// newApplication builds the full component graph from configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	ctx := context.Background()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return nil, err
	}

	keyStore, err := keystore.NewSQLStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init key store: %w", err)
	}

	strategy, err := digestStrategy(cfg.Auth)
	if err != nil {
		return nil, err
	}
	keys := keystore.NewManager(keyStore, strategy, keystore.WithLogger(logger))

	events, err := ledger.NewSQLLedger(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init usage ledger: %w", err)
	}

	counters, err := counterStore(cfg.Counters, logger)
	if err != nil {
		return nil, err
	}

	owners, err := identity.NewSQLProvider(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init identity provider: %w", err)
	}

	rate := guard.NewRateLimiter(
		cfg.Auth.RateLimit.Limit,
		timeframe.ParseBucket(cfg.Auth.RateLimit.Bucket).Duration(),
		counters, events,
		guard.WithRateLimiterLogger(logger),
		guard.WithRateCacheTTL(cfg.Auth.RateCacheTTL.Duration()),
	)
	failures := guard.NewFailureGuard(
		cfg.Auth.FailureLimit.Limit,
		timeframe.ParseBucket(cfg.Auth.FailureLimit.Bucket).Duration(),
		counters, events, keys,
		guard.WithFailureGuardLogger(logger),
	)

	g, err := gate.New(authPolicy(cfg.Auth), keys, rate, failures, owners, events,
		gate.WithGateLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init gate: %w", err)
	}

	srv := server.New(cfg.Server, server.Deps{
		Gate:   g,
		Keys:   keys,
		Owners: owners,
		Events: events,
	}, logger)

	app := &application{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		counters:  counters,
		keys:      keys,
		gate:      g,
		server:    srv,
		serverErr: make(chan error, 1),
	}

	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(keyStore, events, cfg.Retention,
			retention.WithSweeperLogger(logger))
		app.retention = retention.NewScheduler(sweeper, cfg.Retention.Schedule, logger)
	}

	return app, nil
}

// Start performs rotation detection, starts the retention scheduler
// and launches the HTTP server.
func (a *application) Start() error {
	ctx := context.Background()

	regenerated, err := a.keys.RotateAndRegenerateAll(ctx)
	if err != nil {
		return fmt.Errorf("rotation check: %w", err)
	}
	if regenerated > 0 {
		a.logger.Warn("keys regenerated after rotation",
			observability.Int("regenerated", regenerated))
	}

	if a.retention != nil {
		if err := a.retention.Start(ctx); err != nil {
			return fmt.Errorf("start retention scheduler: %w", err)
		}
	}

	go func() {
		a.serverErr <- a.server.Start()
	}()
	return nil
}

// Stop shuts everything down in reverse start order.
func (a *application) Stop(ctx context.Context) {
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("failed to stop HTTP server", observability.Error(err))
	}
	if a.retention != nil {
		a.retention.Stop()
	}
	if err := a.counters.Close(); err != nil {
		a.logger.Error("failed to close counter store", observability.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", observability.Error(err))
	}
}

// ApplyAuthConfig applies a reloaded auth configuration: the policy is
// swapped on the running gate and rotation detection re-runs so a
// changed encryption key or mode regenerates every stored key. Limits
// and counter backends are wired at startup and need a restart.
func (a *application) ApplyAuthConfig(auth config.AuthConfig) error {
	strategy, err := digestStrategy(auth)
	if err != nil {
		return err
	}
	a.keys.ReplaceStrategy(strategy)

	regenerated, err := a.keys.RotateAndRegenerateAll(context.Background())
	if err != nil {
		return fmt.Errorf("rotation check: %w", err)
	}
	if regenerated > 0 {
		a.logger.Warn("keys regenerated after rotation",
			observability.Int("regenerated", regenerated))
	}

	return a.gate.UpdatePolicy(authPolicy(auth))
}

// openDatabase opens the SQLite database with WAL enabled. SQLite
// allows one writer; a single connection avoids SQLITE_BUSY errors.
func openDatabase(cfg config.StorageConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// digestStrategy selects hashed or encrypted at-rest storage.
func digestStrategy(auth config.AuthConfig) (keystore.DigestStrategy, error) {
	if !auth.UseEncryption {
		return keystore.HashedMode(), nil
	}
	box, err := cryptobox.NewFromBase64(auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return keystore.EncryptedMode(box), nil
}

// counterStore builds the configured counter backend. Redis gets a
// circuit breaker so a dead backend fails fast instead of stalling
// every request.
func counterStore(cfg config.CountersConfig, logger observability.Logger) (store.Store, error) {
	if cfg.Backend != "redis" {
		return store.NewMemoryStore(), nil
	}

	redisCfg := store.DefaultRedisConfig()
	redisCfg.Addr = cfg.Redis.Addr
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}
	if d := cfg.Redis.DialTimeout.Duration(); d > 0 {
		redisCfg.DialTimeout = d
	}
	if d := cfg.Redis.ReadTimeout.Duration(); d > 0 {
		redisCfg.ReadTimeout = d
	}

	inner, err := store.NewRedisStore(redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return store.NewBreakerStore(inner, breakerTimeout,
		store.WithBreakerLogger(logger)), nil
}

// authPolicy maps the auth configuration onto a gate policy.
func authPolicy(auth config.AuthConfig) gate.Policy {
	return gate.Policy{
		HeaderName:   auth.HeaderName,
		AllowedPaths: auth.AllowedPaths,
		WhitelistIPs: auth.WhitelistIPs,
		BlacklistIPs: auth.BlacklistIPs,
	}
}
