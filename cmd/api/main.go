package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appruns "github.com/bryanwahyu/trustinn/internal/application/runs"
	"github.com/bryanwahyu/trustinn/internal/config"
	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	mysqlp "github.com/bryanwahyu/trustinn/internal/infra/db/mysql"
	"github.com/bryanwahyu/trustinn/internal/infra/db/postgres"
	"github.com/bryanwahyu/trustinn/internal/infra/db/sqlite"
	"github.com/bryanwahyu/trustinn/internal/infra/executor/process"
	"github.com/bryanwahyu/trustinn/internal/infra/executor/streaming"
	"github.com/bryanwahyu/trustinn/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/trustinn/internal/infra/storage"
	"github.com/bryanwahyu/trustinn/internal/middleware"
)

func main() {
	// path config.yaml
	path := config.Path()

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load", "path", path, "error", err)
		os.Exit(1)
	}
	log := cfg.NewLogger(os.Stderr)
	slog.SetDefault(log)

	ctx := context.Background()
	checkers := map[string]middleware.HealthChecker{}

	// run history
	db, repo, err := openHistory(ctx, cfg)
	if err != nil {
		log.Error("database connect", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// transcript store
	var artifacts domain.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Error("minio init", "endpoint", cfg.Minio.Endpoint, "error", err)
			os.Exit(1)
		}
		store.PresignTTL = time.Duration(cfg.Minio.PresignSec) * time.Second
		store.Log = log
		artifacts = store
		checkers["storage"] = middleware.CheckerFunc(store.Ping)
	}

	// executors
	reg := tools.NewRegistry(cfg.Tools.Root)
	runner := process.NewRunner()
	runner.Dir = cfg.Tools.WorkDir
	streamer := streaming.NewStreamer()
	streamer.Dir = cfg.Tools.WorkDir
	streamer.DrainTimeout = time.Duration(cfg.Tools.DrainTimeoutSec) * time.Second

	metrics := middleware.NewMetrics()
	svc := appruns.NewService(appruns.NewOrchestrator(reg, runner, streamer, log), repo, artifacts, log)
	svc.TempDir = cfg.Tools.TempDir
	svc.Observer = metrics

	root := &middleware.InstallRootChecker{Root: reg.Root}
	checkers["tools"] = root

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go limiter.Run(5*time.Minute, stopSweep)

	handler := httpserver.NewRouter(svc, reg, httpserver.Options{
		Log:         log,
		Metrics:     metrics,
		APIKeys:     cfg.Auth.APIKeys,
		RateLimiter: limiter,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Health:      checkers,
		Ready:       root,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// runs and streams last as long as the tool; no write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", addr, "tools_root", reg.Root(), "history", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	// Cancel tool runs first. Websocket streams are hijacked, so
	// srv.Shutdown would neither cancel nor wait for them.
	if err := svc.Shutdown(ctx2); err != nil {
		log.Warn("runs shutdown", "error", err)
	}
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("shutdown", "error", err)
	}
}

// openHistory connects the configured run repository. An empty driver
// disables history and returns a nil repository.
func openHistory(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, mysqlp.NewRunRepository(db), nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, postgres.NewRunRepository(db), nil
	case "sqlite":
		db, err := sqlite.Open(ctx, config.ExpandHome(cfg.Database.Path))
		if err != nil {
			return nil, nil, err
		}
		return db, sqlite.NewRunRepository(db), nil
	default:
		return nil, nil, nil
	}
}
