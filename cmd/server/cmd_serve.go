package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cache"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/config"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/httpapi"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/logger"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/metrics"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/service"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store/memory"
	pgstore "github.com/crossnetg1-dev/cidpos-sub001/internal/store/postgres"
)

const seedAdminUsername = "admin"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	if runMigrations {
		if cfg.DatabaseURL == "" {
			return errors.New("--migrate needs DATABASE_URL")
		}
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { runClosers(closers, log) }()

	cacheStore := cache.Cache(cache.Noop{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", "error", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		log.Info("cache: noop")
	}

	m := metrics.New()
	svc := newService(cfg, repo, cacheStore, m, log)

	if _, isMemory := repo.(*memory.Store); isMemory && cfg.SeedAdminPassword != "" {
		if err := seedAdmin(ctx, svc, cfg.SeedAdminPassword); err != nil {
			return err
		}
		log.Info("in-memory store seeded", "username", seedAdminUsername)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.SessionTTL(), cfg.SessionCookieName, cfg.CookieSecure)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       m,
		Logger:        log,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("cidpos listening", "addr", cfg.Address(), "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// openRepository picks postgres when DATABASE_URL is set and refuses to fall
// back to memory if the database is unreachable.
func openRepository(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.New(), nil, nil
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	log.Info("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

func newService(cfg config.Config, repo store.Repository, cacheStore cache.Cache, m *metrics.Metrics, log *slog.Logger) *service.Service {
	return service.New(repo, service.Options{
		Cache:        cacheStore,
		Metrics:      m,
		Logger:       log,
		Location:     cfg.Location(),
		DashboardTTL: cfg.DashboardCacheTTL(),
	})
}

func seedAdmin(ctx context.Context, svc *service.Service, password string) error {
	_, err := svc.Bootstrap(ctx, domain.SetupRequest{
		Name:     "Administrator",
		Username: seedAdminUsername,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("seed in-memory store: %w", err)
	}
	return nil
}

func runClosers(closers []func() error, log *slog.Logger) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", "error", err)
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
