package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/surgiform/surgiform/internal/config"
	"github.com/surgiform/surgiform/internal/domain/wizard"
	"github.com/surgiform/surgiform/internal/platform/blobstore"
	"github.com/surgiform/surgiform/internal/platform/db"
	"github.com/surgiform/surgiform/internal/platform/events"
	"github.com/surgiform/surgiform/internal/platform/gateway"
	"github.com/surgiform/surgiform/internal/platform/middleware"
	"github.com/surgiform/surgiform/internal/platform/pdfdoc"
	"github.com/surgiform/surgiform/internal/platform/statestore"
)

const (
	version       = "0.1.0"
	purgeInterval = 10 * time.Minute
)

// backends holds the storage and messaging clients selected by config.
type backends struct {
	store     statestore.Store
	blobs     blobstore.BlobStore
	publisher events.Publisher
	pool      *pgxpool.Pool
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.close()
		return nil, err
	}

	switch cfg.StateStore {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, pool.Close)
		b.pool = pool
		b.store = statestore.NewPostgresStore(pool, cfg.StateTTL)
		logger.Info().Msg("connected to database")
	case config.StoreRedis:
		client, err := statestore.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.store = statestore.NewRedisStore(client, cfg.StateTTL)
		logger.Info().Msg("connected to redis")
	default:
		b.store = statestore.NewMemoryStore(cfg.StateTTL)
		if !cfg.IsDev() {
			logger.Warn().Msg("wizard state is kept in memory and lost on restart")
		}
	}

	switch cfg.BlobStore {
	case config.StoreMinio:
		store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fail(err)
		}
		b.blobs = store
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("connected to object storage")
	default:
		b.blobs = blobstore.NewInMemoryBlobStore()
	}

	if cfg.EventsEnabled() {
		var opts []events.AMQPOption
		if cfg.AMQPSigningSecret != "" {
			opts = append(opts, events.WithSigningSecret(cfg.AMQPSigningSecret))
		}
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger, opts...)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, func() { pub.Close() })
		b.publisher = pub
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to message broker")
	} else {
		b.publisher = events.NewNoopPublisher(logger)
	}

	return b, nil
}

func newAssembler(cfg *config.Config, logger zerolog.Logger) (*pdfdoc.Assembler, error) {
	opts := []pdfdoc.Option{pdfdoc.WithLabels(pdfdoc.LabelsFor(cfg.PDFLocale))}
	if cfg.PDFFontPath != "" {
		font, err := pdfdoc.LoadFont(cfg.PDFFontPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pdfdoc.WithFonts(font, font))
	}
	asm := pdfdoc.NewAssembler(logger, opts...)
	if err := asm.CheckCoverage(); err != nil {
		return nil, fmt.Errorf("PDF_FONT_PATH: %w", err)
	}
	return asm, nil
}

// newEcho builds the HTTP server with the middleware chain and every route.
func newEcho(cfg *config.Config, logger zerolog.Logger, b *backends, svc *wizard.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, middleware.RequestIDHeader, "If-None-Match"},
		ExposeHeaders: []string{echo.HeaderContentDisposition, "ETag", middleware.RequestIDHeader},
	}))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.SignatureBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger))

	h := wizard.NewHandler(svc)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/backend", h.BackendHealth)
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.ETag("/api/v1/"))

	h.RegisterRoutes(apiV1)
	blobstore.NewBlobHandler(b.blobs).RegisterRoutes(apiV1)

	return e
}

// purgeLoop removes expired sessions from stores that do not expire keys
// on their own.
func purgeLoop(ctx context.Context, p statestore.Purger, logger zerolog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("expired session state removed")
			}
		}
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer b.close()

	asm, err := newAssembler(cfg, logger)
	if err != nil {
		return err
	}
	client := gateway.NewClient(cfg.BackendURL, logger,
		gateway.WithGenerateTimeout(cfg.GenerateTimeout),
		gateway.WithHealthTimeout(cfg.HealthTimeout),
	)
	svc := wizard.NewService(b.store, client, asm, b.blobs, b.publisher, logger,
		wizard.WithValidationTTL(cfg.StateTTL),
	)
	e := newEcho(cfg, logger, b, svc)

	if p, ok := b.store.(statestore.Purger); ok && cfg.StateTTL > 0 {
		go purgeLoop(ctx, p, logger)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.BackendURL).Str("state_store", cfg.StateStore).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
