// Package app wires the motionhub server runtime: config, logging, storage, HTTP routes and the
// realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"motionhub/cmd/identity"
	authapi "motionhub/cmd/internal/auth/api"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/migrations"
	"motionhub/cmd/internal/realtime"
	"motionhub/cmd/internal/seed"
	"motionhub/cmd/internal/sensors"
	sensorsapi "motionhub/cmd/internal/sensors/api"
	"motionhub/cmd/internal/timeseries"
	"motionhub/cmd/security/password"
)

// App is the motionhub server runtime. It owns the DB pool, the broadcast group and the optional
// InfluxDB mirror, and closes them on shutdown.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	kafka  *realtime.KafkaGroup
	influx *timeseries.InfluxSink

	registry    *prometheus.Registry
	httpMetrics *httpMetrics

	ws          *realtime.WSGateway
	sensorsAPI  *sensorsapi.Handler
	accountsAPI *authapi.Handler
}

// New constructs a fully wired App. Any partially opened resource is released on error.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	a := &App{cfg: cfg, log: log, registry: newRegistry()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()
	a.httpMetrics = newHTTPMetrics(a.registry)

	policy, err := sensors.ParseOwnerConflictPolicy(cfg.OwnerConflict)
	if err != nil {
		return nil, err
	}
	hasher, err := newTokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	jwt, err := session.NewJWTManager(sessCfg)
	if err != nil {
		return nil, err
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	seedFile, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return nil, err
	}

	accounts, devices, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	var ingestOpts []sensors.IngestorOption
	ingestOpts = append(ingestOpts,
		sensors.WithLogger(log),
		sensors.WithMetrics(sensors.NewMetrics(a.registry)),
	)
	if cfg.Influx.Enabled() {
		if err := cfg.Influx.Validate(); err != nil {
			return nil, err
		}
		if a.influx, err = timeseries.NewInfluxSink(cfg.Influx); err != nil {
			return nil, err
		}
		if perr := a.influx.Ping(ctx); perr != nil {
			log.Warn("influx.ping.fail", "url", cfg.Influx.URL, "err", perr)
		}
		ingestOpts = append(ingestOpts, sensors.WithMirror(a.influx))
		log.Info("influx.mirror.enabled", "bucket", cfg.Influx.Bucket)
	}
	ingestor := sensors.NewIngestor(devices, policy, ingestOpts...)

	rtMetrics := realtime.NewMetrics(a.registry)
	hub := realtime.NewHub(log, rtMetrics)
	var group realtime.Group = hub
	if cfg.Kafka.Enabled() {
		if a.kafka, err = realtime.NewKafkaGroup(cfg.Kafka, hub, log); err != nil {
			return nil, err
		}
		group = a.kafka
		log.Info("realtime.kafka.enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	resolver := session.NewResolver(accounts, devices, hasher, jwt, session.WithBootstrap(seedFile.Bootstrap))
	deviceTokens := session.NewDeviceTokens(devices, accounts, hasher, sessCfg.DeviceTokenBytes)
	authn := session.NewAuthenticator(resolver, deviceTokens, session.NewMetrics(a.registry), log)

	res, err := seed.NewSeeder(log, accounts, passwords, deviceTokens).Apply(ctx, seedFile)
	if err != nil {
		return nil, err
	}
	if res != (seed.Result{}) {
		log.Info("seed.applied", "accounts", res.AccountsCreated, "devices", res.DevicesCreated, "tokens", res.TokensSet)
	}

	a.ws = realtime.NewWSGateway(log, authn, ingestor, group, realtime.GatewayConfigFromEnv(), rtMetrics)
	a.sensorsAPI = sensorsapi.NewHandler(log, devices, ingestor, group, deviceTokens, authn, sensorsapi.Config{
		AllowAnonymousIngest: cfg.IngestAllowAnonymous,
	})
	a.accountsAPI, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), authapi.Deps{
		Accounts:      accounts,
		Passwords:     passwords,
		JWT:           jwt,
		Hasher:        hasher,
		APITokenBytes: sessCfg.APITokenBytes,
		Auth:          authn,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openStores selects Postgres when a database URL is configured and in-memory stores otherwise.
func (a *App) openStores(ctx context.Context) (identity.Store, sensors.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), sensors.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.dbPool = pool

	if a.cfg.DBMigrate {
		if err := migrations.Up(ctx, pool, a.cfg.DatabaseURL, a.cfg.DBSchema, a.log); err != nil {
			return nil, nil, err
		}
	}

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	devices, err := sensors.NewPostgresStore(pool, a.cfg.DBSchema)
	if err != nil {
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "migrated", a.cfg.DBMigrate)
	return accounts, devices, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.routes(a.registry)
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// WriteTimeout stays unset so long-lived websocket sessions are not cut off; /api requests
		// are bounded by a context deadline instead.
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	if a.kafka != nil {
		bg.Go(func() {
			if err := a.kafka.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("realtime.kafka.run.fail", "err", err)
			}
		})
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", sensorsWSURL(base),
		"db_enabled", a.dbPool != nil,
		"kafka_enabled", a.kafka != nil,
		"influx_enabled", a.influx != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	stopBackground()
	bg.Wait()

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) closeResources() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn("realtime.kafka.close.fail", "err", err)
		}
		a.kafka = nil
	}
	if a.influx != nil {
		a.influx.Close()
		a.influx = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
