package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"hrplatform/backend/internal/api"
	"hrplatform/backend/internal/auth"
	"hrplatform/backend/internal/cache"
	"hrplatform/backend/internal/config"
	"hrplatform/backend/internal/logging"
	"hrplatform/backend/internal/repository"
	"hrplatform/backend/internal/services"
	selftls "hrplatform/backend/internal/tls"
)

var inMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flow engine HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&inMemory, "in-memory", false, "use the in-memory store instead of Postgres (for local development)")
}

func serve(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.NewLogger()

	var store repository.FlowStore
	if inMemory {
		log.Info("using in-memory store; all data is lost on shutdown")
		store = repository.NewMemoryFlowStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		if err := repository.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		store = repository.NewPostgresFlowStore(pool)
	}

	var versionCache services.VersionCache
	if cfg.Redis.Enable {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer client.Close()
		versionCache = cache.NewRedisVersionCache(client, 0)
		log.Info("version cache enabled", "addr", cfg.Redis.Addr)
	}

	definitions := services.NewDefinitionService(store)
	versions := services.NewVersionService(store, versionCache)
	steps := services.NewStepService(store)
	execution := services.NewExecutionService(store, versions)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(log)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("hrflow"))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	flows := e.Group("/api/v1/flows", auth.Middleware([]byte(cfg.Auth.JWTSecret)))
	api.NewFlowHandler(definitions, versions, steps, execution).Register(flows)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS.Enable {
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				log.Info("generating self-signed certificate", "cert", cfg.TLS.CertFile)
				if err := selftls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
					errCh <- err
					return
				}
			}
			errCh <- e.StartTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		errCh <- e.Start(addr)
	}()
	log.Info("server started", "addr", addr, "tls", cfg.TLS.Enable)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}
