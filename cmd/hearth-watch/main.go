// hearth-watch connects to a hub as one identity and prints everything it
// receives, driving the same subscriber adapters an application would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/client"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/slack"
	"github.com/hearthhq/hearth/pkg/subscriber"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment", "path", ".env")
	}

	cfg := config.DefaultClientConfig()
	url := flag.String("url", getEnv("HEARTH_URL", cfg.URL), "Hub WebSocket URL")
	token := flag.String("token", os.Getenv("HEARTH_TOKEN"), "Access token")
	tenant := flag.String("tenant", "", "Mint a development token for this tenant using HEARTH_JWT_SECRET")
	user := flag.String("user", "hearth-watch", "User ID for a minted token")
	flag.Parse()
	cfg.URL = *url

	if *token == "" && *tenant != "" {
		minted, err := auth.IssueToken(os.Getenv("HEARTH_JWT_SECRET"), getEnv("HEARTH_JWT_ISSUER", "hearth"),
			auth.Identity{UserID: *user, TenantID: *tenant, Role: "member"}, time.Hour)
		if err != nil {
			slog.Error("Failed to mint token", "error", err)
			os.Exit(1)
		}
		*token = minted
	}
	if *token == "" {
		slog.Error("A token is required: pass -token, set HEARTH_TOKEN, or use -tenant with HEARTH_JWT_SECRET")
		os.Exit(2)
	}

	reg := client.NewRegistry(cfg, &client.WebSocketDialer{})
	defer reg.Close()

	id := client.Identity{Key: *user, Token: *token}
	cache := subscriber.NewMemoryCache()
	counter := subscriber.NewCounterAdapter(func(n int64) {
		slog.Info("Unread count changed", "unread", n)
	})
	subscriber.Register(reg, id,
		subscriber.NewInvalidationAdapter(cache),
		subscriber.NewAlertAdapter(subscriber.LogAlerter{}),
		counter,
	)

	// Optional: forward high and critical incidents to a Slack channel.
	slackService := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL: os.Getenv("HEARTH_DASHBOARD_URL"),
	})
	if slackService != nil {
		subscriber.Register(reg, id, subscriber.NewAlertAdapter(slackService))
		slog.Info("Slack incident alerts enabled")
	}
	reg.AddListener(id, printEnvelope)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := reg.Connect(ctx, id); err != nil {
		// Transient failures keep retrying in the background; a rejected
		// token does not.
		slog.Warn("Initial connect failed", "url", cfg.URL, "error", err)
	}

	<-ctx.Done()
	slog.Info("Shutting down", "status", reg.Status(id), "unread", counter.Count())
	reg.Close()
	slackService.Close()
}

func printEnvelope(env events.Envelope) {
	fmt.Printf("%s %-22s %s\n", env.Timestamp.Format(time.RFC3339), env.Type, string(env.Data))
}
