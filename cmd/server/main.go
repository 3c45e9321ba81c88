package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/flowcollab/internal/adapter/httpserver"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/adapter/postgres"
	"github.com/pscheid92/flowcollab/internal/adapter/push"
	"github.com/pscheid92/flowcollab/internal/adapter/redis"
	"github.com/pscheid92/flowcollab/internal/collab"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/config"
	"github.com/pscheid92/flowcollab/internal/platform/correlation"
	"github.com/pscheid92/flowcollab/internal/platform/logging"
	"github.com/pscheid92/flowcollab/internal/platform/retry"
	"github.com/pscheid92/flowcollab/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type appMetrics struct {
	registry  *prometheus.Registry
	push      *metrics.PushMetrics
	collab    *metrics.CollabMetrics
	directory *metrics.DirectoryMetrics
	redis     *metrics.RedisMetrics
	database  *metrics.DatabaseMetrics
	http      *metrics.HTTPMetrics
}

func setupMetrics() appMetrics {
	reg := metrics.NewRegistry()
	return appMetrics{
		registry:  reg,
		push:      metrics.NewPushMetrics(reg),
		collab:    metrics.NewCollabMetrics(reg),
		directory: metrics.NewDirectoryMetrics(reg),
		redis:     metrics.NewRedisMetrics(reg),
		database:  metrics.NewDatabaseMetrics(reg),
		http:      metrics.NewHTTPMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func connectPolicy(what string) retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Connection attempt failed, retrying", "target", what, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	pool, err := retry.Do(ctx, connectPolicy("postgres"), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.DatabaseMigrate {
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
	}
	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m appMetrics) *goredis.Client {
	client, err := retry.Do(ctx, connectPolicy("redis"), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL,
			redis.WithHook(redis.NewMetricsHook(m.redis)),
			redis.WithHook(redis.NewCircuitBreakerHook(m.directory.ObserveBreaker)),
		)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupDirectory layers the profile lookup: Postgres behind a circuit
// breaker, optionally fronted by the Redis cache. Without a database editors
// are shown by id only.
func setupDirectory(cfg *config.Config, pool *pgxpool.Pool, rdb *goredis.Client, m appMetrics) domain.UserDirectory {
	if pool == nil {
		return collab.IDOnlyDirectory{}
	}

	var dir domain.UserDirectory = postgres.NewBreakerDirectory(postgres.NewUserRepo(pool), m.directory.ObserveBreaker)
	if rdb != nil {
		dir = redis.NewUserCache(rdb, dir, cfg.UserCacheTTL, m.directory)
	}
	return dir
}

func healthChecks(hub *push.Hub, pool *pgxpool.Pool, rdb *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{
		Name: "hub",
		Check: func(context.Context) error {
			if hub.ConnectionCount() < 0 {
				return errors.New("hub not responding")
			}
			return nil
		},
	}}
	if pool != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	}
	if rdb != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, hub *push.Hub, stopSubscriber context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopSubscriber()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", version.Get().String(), "push_backend", cfg.PushBackend)

	m := setupMetrics()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), connectTimeout)
	defer cancelConnect()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool = setupDB(connectCtx, cfg, m.database)
		defer pool.Close()
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(connectCtx, cfg, m)
		defer func() { _ = redisClient.Close() }()
	}

	// The hub and the service reference each other; svc is assigned before
	// the server accepts the first connection.
	var svc *collab.Service
	hub := push.NewHub(push.HubConfig{
		PingInterval:   cfg.PingInterval,
		MaxConnections: cfg.MaxConnections,
		Addressing:     push.Addressing(cfg.SessionAddressing),
		Metrics:        m.push,
		OnConnect: func(sessionID, userID string) {
			ctx := correlation.WithSession(context.Background(), sessionID, userID)
			if err := svc.SessionConnected(ctx, sessionID); err != nil {
				slog.WarnContext(ctx, "Failed to send presence to new session", "error", err)
			}
		},
		OnDisconnect: func(userID string) {
			svc.UserDisconnected(context.Background(), userID)
		},
	}, clock)

	emitter := collab.NewEmitter(hub, setupDirectory(cfg, pool, redisClient, m), m.collab)
	svc = collab.NewService(collab.NewPresenceTracker(), collab.NewDraftStore(nil), emitter,
		collab.WithDisconnectCleanup(cfg.PresenceCleanupOnDisconnect),
		collab.WithMetrics(m.collab),
	)
	dispatcher := collab.NewDispatcher(svc, m.collab)

	identity := push.NewCookieIdentity(push.NewCookieStore(cfg.SessionSecret, cfg.IsProduction()))
	origins := push.NewOriginPolicy(cfg.AppURL, cfg.AllowedOrigins(), !cfg.IsProduction(), m.push)
	var backend httpserver.PushHandler
	switch cfg.PushBackend {
	case config.PushBackendSSE:
		backend = push.NewSSEBackend(hub, identity, origins, m.push)
	default:
		backend = push.NewWebSocketBackend(hub, identity, dispatcher.HandleInbound, origins.Allow, m.push)
	}

	subscriberCtx, stopSubscriber := context.WithCancel(context.Background())
	defer stopSubscriber()
	if redisClient != nil {
		go redis.NewSavedSubscriber(redisClient, svc).Start(subscriberCtx)
	}

	var savedNotifier httpserver.SavedNotifier = svc
	if redisClient != nil {
		savedNotifier = redis.NewSavedPublisher(redisClient, svc)
	}

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Push:         backend,
		Saved:        savedNotifier,
		Metrics:      metrics.Handler(m.registry),
		HTTPMetrics:  m.http,
		PushMetrics:  m.push,
		HealthChecks: healthChecks(hub, pool, redisClient),
	})

	done := runGracefulShutdown(srv, hub, stopSubscriber)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
