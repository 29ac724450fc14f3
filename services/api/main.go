package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/handler"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/repository"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
	"github.com/chatcore/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "use the in-memory store (nothing is persisted)")
	flag.Parse()

	cfg := config.Load()
	logger.Configure(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting chat core API")
	if *inMemory {
		cfg.Store.Engine = "memory"
	}

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev && cfg.Store.Engine == "postgres" {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var store storage.Store
	switch cfg.Store.Engine {
	case "memory":
		logger.Info("store: in-memory engine, data is lost on exit")
		store = memory.New()
	default:
		pool := openPostgres(cfg)
		if *migrate {
			pool.Close()
			return
		}
		pg := repository.NewStore(pool)
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pg.ResetPresence(resetCtx); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
		resetCancel()
		store = pg
	}
	defer store.Close()

	var locker storage.PairLocker = memory.NewLocker()
	if cfg.RedisURL != "" {
		rc := startup.ConnectRedisWithRetry(cfg.RedisURL, 30*time.Second, "")
		defer rc.Close()
		locker = rc
		logger.Info("direct chat lock: redis")
	}

	core := service.New(store, locker, service.Options{
		StorageTimeout:  cfg.Store.Timeout,
		RetryAttempts:   cfg.Store.RetryAttempts,
		RetryBackoff:    cfg.Store.RetryBackoff,
		GroupMemberCap:  cfg.Store.GroupMemberCap,
		GlobalMemberCap: cfg.Store.GlobalMemberCap,
		MaxPageSize:     cfg.Store.MaxPageSize,
	})
	bootstrapRooms(core, cfg.GlobalRooms)

	identity := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil, core.Accounts)
	if cfg.AuthServiceURL == "" {
		if !*dev && !*inMemory {
			logger.Error("AUTH_SERVICE_URL is required outside -dev/-memory")
			os.Exit(1)
		}
		logger.Info("identity: trusting X-User-Id headers (dev mode)")
		identity = middleware.HeaderIdentity(core.Accounts)
	}

	api := handler.NewAPI(core)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id", "X-User-Name", "X-User-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/limits", handler.ServeLimits(handler.LimitsFromConfig(cfg)))

	r.Group(func(r chi.Router) {
		r.Use(identity)
		r.Use(middleware.RateLimitAPI)
		api.Mount(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func openPostgres(cfg *config.Config) *pgxpool.Pool {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MinConns = min(4, poolCfg.MaxConns)

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := startup.Migrate(ctx, pool, migrations.Files); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	logger.Info("database connected, migrations applied")
	return pool
}

func bootstrapRooms(core *service.Core, names []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, name := range names {
		room, err := core.Directory.BootstrapGlobalRoom(ctx, name)
		if err != nil {
			logger.Errorf("bootstrap room %q: %v", name, err)
			continue
		}
		logger.Infof("global room %q ready (%s)", room.Name, room.ID)
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatcore"
		password = "chatcore_secret"
		database = "chatcore"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
