package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/covenant-data/covenant/pkg/api"
	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/auth"
	"github.com/covenant-data/covenant/pkg/cache"
	"github.com/covenant-data/covenant/pkg/config"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
	"github.com/covenant-data/covenant/pkg/observability"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const shutdownTimeout = 15 * time.Second

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}

	logger := newLogger(stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store initialisation failed", "error", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			return 1
		}
		defer func() { _ = redisClient.Close() }()
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		logger.Error("metrics initialisation failed", "error", err)
		return 1
	}

	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
	}
	if cfg.WebhookURL != "" {
		opts = append(opts, workflow.WithNotifier(
			notify.NewWebhook(cfg.WebhookURL, []byte(cfg.WebhookSecret), logger)))
	}
	if redisClient != nil {
		opts = append(opts, workflow.WithCache(
			cache.NewRedis(redisClient, cache.DefaultTTL, logger)))
	}
	svc := workflow.NewService(st, audit.NewRecorderWithWriter(stdout), opts...)

	var signer *auth.TokenSigner
	if cfg.TokenSecret != "" {
		signer = auth.NewTokenSigner([]byte(cfg.TokenSecret), auth.DefaultTokenTTL)
	}

	var limiter auth.Limiter
	if cfg.RateLimitRPM > 0 {
		policy := auth.LimitPolicy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}
		if redisClient != nil {
			limiter = auth.NewRedisLimiter(redisClient, policy)
		} else {
			limiter = auth.NewLocalLimiter(policy)
		}
	}

	server := api.NewServer(svc, st, signer, limiter, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "store", cfg.StoreDriver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
			return 1
		}
	}
	return 0
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	case "sqlite", "postgres":
		driver := cfg.StoreDriver
		dialect := store.DialectSQLite
		if driver == "postgres" {
			dialect = store.DialectPostgres
		}
		db, err := sql.Open(driverName(driver), cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", driver, err)
		}
		st := store.NewSQLStore(db, dialect)
		if err := st.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
		logger.Info("database connected", "driver", driver)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func driverName(driver string) string {
	if driver == "postgres" {
		return "postgres"
	}
	// modernc.org/sqlite registers as "sqlite".
	return "sqlite"
}

// runToken mints a service token from the configured signing secret so
// automation can authenticate without a stored API key.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		teamID string
		scope  string
		ttl    time.Duration
		secret string
	)
	fs.StringVar(&teamID, "team", "", "Team UUID the token acts as (REQUIRED)")
	fs.StringVar(&scope, "scope", "read", "Token scope: read, write or admin")
	fs.DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	fs.StringVar(&secret, "secret", os.Getenv("COVENANT_TOKEN_SECRET"), "Signing secret (default $COVENANT_TOKEN_SECRET)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if teamID == "" || secret == "" {
		fmt.Fprintln(stderr, "Error: --team and a signing secret are required")
		fs.Usage()
		return 2
	}
	id, err := parseTeamID(teamID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	kscope, err := parseScope(scope)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	signer := auth.NewTokenSigner([]byte(secret), ttl)
	token, err := signer.Issue(id, kscope, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func parseTeamID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--team must be a UUID: %w", err)
	}
	return id, nil
}

func parseScope(raw string) (model.KeyScope, error) {
	scope := model.KeyScope(raw)
	switch scope {
	case model.ScopeRead, model.ScopeWrite, model.ScopeAdmin:
		return scope, nil
	}
	return "", fmt.Errorf("unknown scope %q (want read, write or admin)", raw)
}
