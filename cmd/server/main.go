// Package main is the entrypoint for the try-on API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/api"
	"github.com/kiranshivaraju/tryon/internal/api/handler"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/apikey"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/blob"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/internal/metrics"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/internal/tryon"
	"github.com/kiranshivaraju/tryon/internal/tuning"
)

const (
	shutdownTimeout = 30 * time.Second
	tryOnResultTTL  = 24 * time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "blob_driver", cfg.Blob.Driver, "renderer", cfg.TryOn.Renderer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create blob store
	blobs, err := blob.New(ctx, cfg.Blob, cfg.Server.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}
	slog.Info("blob store initialized", "driver", cfg.Blob.Driver)

	// 6. Create tuning service client
	m := metrics.New()
	client := astria.NewHTTPClient(cfg.Astria, m)

	// 7. Create store and seed the admin key
	pgStore := store.NewPostgresStore(pool)
	if err := bootstrapAdminKey(ctx, cfg.Bootstrap, pgStore); err != nil {
		return err
	}

	// 8. Build router with dependencies
	deps, err := newDependencies(cfg, pgStore, redisCache, blobs, client, m)
	if err != nil {
		return err
	}
	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TryOn.Renderer == "astria" {
		// Rendering polls the tuning service for up to RenderTimeout.
		srv.WriteTimeout = cfg.TryOn.RenderTimeout + 10*time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "callback_url", cfg.Server.PublicBaseURL+"/api/v1/callbacks/tunes")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newDependencies wires the services and handlers behind the router.
func newDependencies(cfg *config.Config, st store.Store, ca cache.Cache, blobs blob.Store, client astria.Client, m *metrics.Metrics) (api.Dependencies, error) {
	renderer, err := tryon.NewRenderer(cfg.TryOn, client)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("create renderer: %w", err)
	}

	tuningSvc := tuning.NewService(st, blobs, client, ca, m, tuning.Options{
		CallbackURL:        cfg.CallbackURL(),
		IdentityBaseTuneID: cfg.Astria.IdentityBaseTuneID,
		ProductBaseTuneID:  cfg.Astria.ProductBaseTuneID,
		UploadConcurrency:  cfg.Tuning.UploadConcurrency,
		StatusTTL:          cfg.Redis.StatusCacheTTL,
	})
	reconciler := tuning.NewReconciler(st, ca, m, cfg.Redis.StatusCacheTTL)
	tryOnSvc := tryon.NewService(st, ca, renderer, m, tryOnResultTTL)
	maxBytes := cfg.Tuning.MaxUploadBytes

	deps := api.Dependencies{
		Auth:           mw.NewAuth(st),
		RateLimit:      mw.NewRateLimit(ca, cfg.Server.RateLimitPerMin),
		CallbackSecret: cfg.Callback.Secret,

		HealthHandler:   handler.NewHealthHandler(st, ca),
		MetricsHandler:  m.Handler(),
		CallbackHandler: handler.NewCallbackHandler(reconciler),

		CreateModel: handler.NewCreateModelHandler(tuningSvc, maxBytes),
		ListModels:  handler.NewListModelsHandler(tuningSvc),
		GetModel:    handler.NewGetModelHandler(tuningSvc),
		ModelStatus: handler.NewModelStatusHandler(tuningSvc),
		RetryModel:  handler.NewRetryModelHandler(tuningSvc),
		DeleteModel: handler.NewDeleteModelHandler(tuningSvc),

		CreateProduct: handler.NewCreateProductHandler(tuningSvc),
		GetProduct:    handler.NewGetProductHandler(tuningSvc),
		TuneProduct:   handler.NewProductTuneHandler(tuningSvc, maxBytes),

		TryOnHandler: handler.NewTryOnHandler(tryOnSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
	}
	if fs, ok := blobs.(*blob.FileStore); ok {
		deps.BlobHandler = fs.Handler()
	}

	slog.Info("services initialized", "renderer", renderer.Name())
	return deps, nil
}

// bootstrapAdminKey seeds the configured admin key, if any.
func bootstrapAdminKey(ctx context.Context, cfg config.BootstrapConfig, st store.Store) error {
	if cfg.AdminKey == "" {
		return nil
	}
	ownerID, err := uuid.Parse(cfg.AdminOwnerID)
	if err != nil {
		return fmt.Errorf("parse BOOTSTRAP_ADMIN_OWNER_ID: %w", err)
	}
	created, err := apikey.Bootstrap(ctx, st, cfg.AdminKey, ownerID)
	if err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}
	if created {
		slog.Info("admin key bootstrapped", "owner_id", ownerID, "key_prefix", cfg.AdminKey[:apikey.PrefixLen])
	}
	return nil
}
