package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/config"
	"github.com/ehr/fhirstore/internal/domain/admin"
	"github.com/ehr/fhirstore/internal/domain/clinical"
	"github.com/ehr/fhirstore/internal/domain/device"
	"github.com/ehr/fhirstore/internal/domain/identity"
	"github.com/ehr/fhirstore/internal/platform/auth"
	"github.com/ehr/fhirstore/internal/platform/changefeed"
	"github.com/ehr/fhirstore/internal/platform/db"
	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/docstore/pgstore"
	"github.com/ehr/fhirstore/internal/platform/docstore/sqlitestore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
	"github.com/ehr/fhirstore/internal/platform/middleware"
	"github.com/ehr/fhirstore/internal/platform/resource"
	"github.com/ehr/fhirstore/internal/platform/versioned"
)

// storeBackend is the opened document store behind the server.
type storeBackend struct {
	driver string
	raw    docstore.Database
	db     docstore.Database
	pool   *pgxpool.Pool
}

// Database returns the database handed to the versioned stores,
// instrumented when metrics are enabled.
func (b *storeBackend) Database() docstore.Database { return b.db }

func (b *storeBackend) Close() error { return b.raw.Close() }

type collectionCreator interface {
	EnsureCollections(ctx context.Context, names ...string) error
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storeBackend, error) {
	b := &storeBackend{driver: cfg.StoreDriver}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		b.raw = docstore.NewMemoryDatabase()
		logger.Warn().Msg("using the in-memory store; data is lost on exit")
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "fhirstore",
		})
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.raw = pgstore.New(pool)
		logger.Info().Msg("connected to database")
	case config.DriverSQLite:
		sdb, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.raw = sdb
		logger.Info().Str("path", sdb.Path()).Msg("opened sqlite store")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	b.db = b.raw
	if cfg.MetricsEnabled {
		b.db = docstore.InstrumentedDatabase{Database: b.raw}
	}
	return b, nil
}

// newRegistry registers every resource type the server serves.
func newRegistry() *fhir.Registry {
	reg := fhir.NewRegistry()
	identity.Register(reg)
	admin.Register(reg)
	clinical.Register(reg)
	device.Register(reg)
	return reg
}

// initStore creates the backing collections of every registered type and
// returns their names. The in-memory backend needs no setup.
func initStore(ctx context.Context, b *storeBackend, reg *fhir.Registry) ([]string, error) {
	var names []string
	for _, t := range reg.Types() {
		names = append(names, t, docstore.HistoryCollectionName(t))
	}
	if creator, ok := b.raw.(collectionCreator); ok {
		if err := creator.EnsureCollections(ctx, names...); err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	return names, nil
}

// buildStores opens one versioned store per type served under base, with
// the search parameters of that base.
func buildStores(database docstore.Database, reg *fhir.Registry, base string, logger zerolog.Logger, opts ...versioned.Option) (map[string]*versioned.Store, error) {
	if !reg.IsKnownBase(base) {
		return nil, fmt.Errorf("unknown FHIR base version %q", base)
	}
	stores := make(map[string]*versioned.Store)
	for _, t := range reg.Types() {
		table, err := reg.SearchParams(t, base)
		if err != nil {
			logger.Debug().Str("resource_type", t).Str("base", base).Msg("type not served under base")
			continue
		}
		stores[t] = versioned.New(t,
			database.Collection(t),
			database.Collection(docstore.HistoryCollectionName(t)),
			table,
			append([]versioned.Option{versioned.WithLogger(logger)}, opts...)...,
		)
	}
	return stores, nil
}

func baseURL(cfg *config.Config) string {
	if cfg.FHIRBaseURL != "" {
		return cfg.FHIRBaseURL
	}
	return fmt.Sprintf("http://localhost:%s/fhir", cfg.Port)
}

func buildServer(cfg *config.Config, logger zerolog.Logger, b *storeBackend, reg *fhir.Registry) (*echo.Echo, error) {
	hub := changefeed.NewHub(logger)
	stores, err := buildStores(b.Database(), reg, cfg.FHIRBaseVersion, logger, versioned.WithListener(hub.Listener()))
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = resource.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(middleware.Metrics())
	}
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", "If-None-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", "Location", "Last-Modified", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	rateLimitCfg.Skipper = auth.AuthSkipper
	e.Use(middleware.RateLimit(rateLimitCfg))

	// Auth middleware
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger, nil))

	e.GET("/health", db.HealthHandler(b.raw, b.driver, b.pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	base := baseURL(cfg)
	fhirGroup := e.Group("/fhir")
	fhirGroup.GET("/metadata", fhir.CapabilityHandler(reg, cfg.FHIRBaseVersion, base))
	changefeed.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(fhirGroup)
	for _, t := range reg.Types() {
		if store, ok := stores[t]; ok {
			resource.NewHandler(store, base, logger).RegisterRoutes(fhirGroup)
		}
	}

	return e, nil
}
