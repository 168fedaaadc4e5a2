package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"clientflow/backend/internal/api"
	"clientflow/backend/internal/auth"
	"clientflow/backend/internal/authz"
	"clientflow/backend/internal/config"
	"clientflow/backend/internal/eventlog"
	"clientflow/backend/internal/ledger"
	"clientflow/backend/internal/lifecycle"
	"clientflow/backend/internal/logging"
	"clientflow/backend/internal/mcp"
	"clientflow/backend/internal/notify"
	"clientflow/backend/internal/repository"
	"clientflow/backend/internal/services"
	"clientflow/backend/internal/tls"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "clientflow-server",
		Short: "Clientflow workflow coordination service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to the config directory")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"notifier_mode", cfg.Notifier.Mode,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting Clientflow Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	store := repository.NewPostgresStore(dbPool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// Initialize engines
	events := eventlog.New(store, logger)

	asyncNotifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()

	summaries := services.NewHTTPSummaryClient(cfg.Summary.URL)
	engine := lifecycle.NewEngine(store, events, asyncNotifier, summaries, logger)
	authzEngine := authz.NewEngine(store, events, logger)
	actionLedger := ledger.New(store, events, engine, logger)

	logger.Info("Engines initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("clientflow"))

	// Initialize authentication
	authn, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authn.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authn.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authn.LogoutHandler)))

	// Mount REST API handlers behind auth on /api/v1
	apiServer := api.NewServer(engine, authzEngine, actionLedger, events, logger)
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authn.RequireAuth))
	apiServer.Register(apiGroup)

	e.GET("/health", apiServer.HandleHealth)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(authzEngine, engine, actionLedger, logger)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Drain in-flight notifier dispatches before the process exits.
		if async, ok := asyncNotifier.(*notify.Async); ok {
			async.Wait()
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

// buildNotifier selects the dispatch transport from configuration. The
// returned closer releases transport resources on shutdown.
func buildNotifier(cfg *config.Config, logger *logging.Logger) (notify.Notifier, func()) {
	switch cfg.Notifier.Mode {
	case "webhook":
		return notify.NewAsync(notify.NewWebhookDispatcher(cfg.Notifier.WebhookURL), logger), func() {}
	case "redis":
		dispatcher := notify.NewRedisDispatcher(
			cfg.Notifier.Redis.Address,
			cfg.Notifier.Redis.Password,
			cfg.Notifier.Redis.DB,
			cfg.Notifier.Redis.Channel,
		)
		return notify.NewAsync(dispatcher, logger), func() {
			if err := dispatcher.Close(); err != nil {
				logger.Error("failed to close redis dispatcher", "error", err)
			}
		}
	default:
		logger.Info("Notifier disabled")
		return notify.Nop{}, func() {}
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
