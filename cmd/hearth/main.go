// Hearth hub server: accepts client channels, runs the condition scanner and
// relays cross-process notifications.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/hearthhq/hearth/pkg/api"
	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/cleanup"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/scanner"
	"github.com/hearthhq/hearth/pkg/telemetry"
	"github.com/hearthhq/hearth/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Hearth",
		"version", version.GitCommit,
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("Failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	auditStore := database.NewAuditStore(dbClient.DB())
	auditSink := audit.Multi{audit.NewLogSink(), auditStore}

	// 3. Hub
	identity := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	hub := events.NewHub(cfg.Hub, identity, auditSink)
	hub.Start(ctx)

	var publisher scanner.Publisher = hub
	if cfg.Fanout == config.FanoutPostgres {
		notifyListener := events.NewNotifyListener(dbConfig.DSN(), hub)
		if err := notifyListener.Start(ctx); err != nil {
			slog.Error("Failed to start NotifyListener", "error", err)
			os.Exit(1)
		}
		defer notifyListener.Stop(context.Background())
		hub.SetListener(notifyListener)
		publisher = events.NewPostgresPublisher(dbClient.DB())
	}
	slog.Info("Connection hub started", "fanout", cfg.Fanout)

	// 4. Scanner
	var sc *scanner.Scanner
	if cfg.Scanner.IsEnabled() {
		sc = scanner.New(
			scanner.DefaultRules(database.NewStore(dbClient.DB()), cfg.Scanner),
			publisher,
			auditSink,
			scanner.WithRunTimeout(cfg.Scanner.RunTimeout),
			scanner.WithRunOnStart(cfg.Scanner.RunOnStart),
		)
		sc.Start(ctx)
		slog.Info("Condition scanner started", "rules", sc.Rules())
	} else {
		slog.Info("Condition scanner disabled")
	}

	// 5. Retention
	cleanupService := cleanup.NewService(cfg.Retention, auditStore)
	cleanupService.Start(ctx)

	// 6. HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpServer := api.NewServer(cfg, hub, identity)
	httpServer.SetDatabase(dbClient)
	httpServer.SetAuditStore(auditStore)
	if sc != nil {
		httpServer.SetScanner(sc)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Hearth started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop producers before the hub closes channels.
	if sc != nil {
		sc.Stop()
	}
	cleanupService.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	hub.Stop()

	slog.Info("Hearth shut down")
}
