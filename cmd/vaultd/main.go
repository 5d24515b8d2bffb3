// Command vaultd runs the commitment vault server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/commitlock/vault/pkg/api"
	"github.com/commitlock/vault/pkg/assets"
	"github.com/commitlock/vault/pkg/attestation"
	"github.com/commitlock/vault/pkg/audit"
	"github.com/commitlock/vault/pkg/auth"
	"github.com/commitlock/vault/pkg/certificate"
	"github.com/commitlock/vault/pkg/config"
	"github.com/commitlock/vault/pkg/emergency"
	"github.com/commitlock/vault/pkg/observability"
	"github.com/commitlock/vault/pkg/ratelimit"
	"github.com/commitlock/vault/pkg/store"
	"github.com/commitlock/vault/pkg/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	access := auth.NewAccessControl()
	if err := access.Initialize(cfg.AdminAccount); err != nil {
		return fmt.Errorf("initialize access control: %w", err)
	}

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	var supported []string
	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}
		supported = profile.SupportedAssets
		applyRateLimits(limiter, profile.RateLimits)
	}

	control := emergency.NewControl(cfg.AdminAccount)
	registry := certificate.NewRegistry()
	ledger := assets.NewLedger()
	auditLog := audit.NewLog()

	obs, err := newObservability(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if obs != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}()
	}

	emitters := []vault.Emitter{auditLog}
	if obs != nil {
		emitters = append(emitters, obs)
	}
	if cfg.AuditLogPath != "" {
		f, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit log file: %w", err)
		}
		defer f.Close()
		emitters = append(emitters, audit.NewFileSinkWithWriter(f))
	}

	v, err := vault.New(vault.Config{
		Store:           st,
		Assets:          ledger,
		Certificates:    registry,
		Access:          access,
		Limiter:         limiter,
		Emergency:       control,
		Emitters:        emitters,
		VaultAccount:    cfg.VaultAccount,
		SupportedAssets: supported,
	})
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	tokens := auth.NewTokenManager([]byte(cfg.JWTSecret), "commitlock-vault", 24*time.Hour)
	engine := attestation.NewEngine(v, access)

	server := api.NewServer(api.ServerConfig{
		Addr:          ":" + cfg.Port,
		Handlers: api.NewHandlers(api.HandlersConfig{
			Ledger:    v,
			Attest:    engine,
			Emergency: control,
			Audit:     audit.NewExporter(auditLog),
			Access:    access,
		}),
		Authenticator: api.NewAuthenticator(tokens),
		Logger:        logger.With("component", "api"),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "backend", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		return store.OpenPostgres(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newLimiter picks the Redis-backed limiter when an address is
// configured, so limits hold across replicas.
func newLimiter(cfg *config.Config) (vault.RateLimiter, func()) {
	if cfg.RedisAddr != "" {
		rl := ratelimit.NewRedisLimiter(cfg.RedisAddr, "", 0)
		return rl, func() { _ = rl.Close() }
	}
	return ratelimit.NewLimiter(), func() {}
}

func applyRateLimits(limiter vault.RateLimiter, limits map[string]config.RateLimitConfig) {
	type policySetter interface {
		SetPolicy(operation string, p ratelimit.Policy)
	}
	setter, ok := limiter.(policySetter)
	if !ok {
		return
	}
	for op, rl := range limits {
		setter.SetPolicy(op, ratelimit.Policy{PerMinute: rl.PerMinute, Burst: rl.Burst})
	}
}

func newObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Environment = getenvDefault("ENVIRONMENT", obsCfg.Environment)
	obsCfg.Insecure = true
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("telemetry enabled", "endpoint", cfg.OTLPEndpoint)
	return provider, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
