// Package runtime assembles the configured application: stores, services,
// middleware and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/NStream-Network/stream_layer/internal/app"
	"github.com/NStream-Network/stream_layer/internal/app/httpapi"
	"github.com/NStream-Network/stream_layer/internal/app/metrics"
	feesvc "github.com/NStream-Network/stream_layer/internal/app/services/fees"
	streamsvc "github.com/NStream-Network/stream_layer/internal/app/services/streams"
	"github.com/NStream-Network/stream_layer/internal/app/storage/postgres"
	"github.com/NStream-Network/stream_layer/internal/config"
	"github.com/NStream-Network/stream_layer/internal/middleware"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	core   *app.Application
	server *http.Server
	db     *sql.DB
}

// NewApplication constructs an application instance from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	core, err := app.New(stores, app.Options{
		Streams: streamsvc.Config{
			RateCeiling:           cfg.Streams.RateCeiling,
			StorageUnitsPerStream: cfg.Streams.StorageUnitsPerStream,
			Manager:               cfg.Streams.Manager,
			AssetWhitelist:        cfg.Streams.AssetWhitelistSlice(),
		},
		Fees: feesvc.Config{
			RateBps:   cfg.Fees.RateBps,
			Recipient: cfg.Fees.Recipient,
		},
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", auth.Handler(limiter.Handler(httpapi.NewHandler(core))))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		core:   core,
		server: server,
		db:     db,
	}, nil
}

// Run starts the background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and the
// database connection.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.core.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_DSN not set; using in-memory store")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}

	return app.Stores{
		Accounts:  store,
		Streams:   store,
		Transfers: store,
		Fees:      store,
	}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
