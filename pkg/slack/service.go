package slack

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hearthhq/hearth/pkg/subscriber"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts incident alerts to a Slack channel. It implements
// subscriber.Alerter.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger

	wg sync.WaitGroup
}

var _ subscriber.Alerter = (*Service)(nil)

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// Alert posts in the background: it is called on a connection's read
// goroutine and must not block on Slack.
func (s *Service) Alert(a subscriber.Alert) {
	if s == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.NotifyIncident(context.Background(), a)
	}()
}

// NotifyIncident posts the alert. An escalation is threaded under the
// incident's earlier message when one is found in recent history.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyIncident(ctx context.Context, a subscriber.Alert) {
	if s == nil {
		return
	}

	var threadTS string
	if a.Escalated {
		var err error
		threadTS, err = s.client.FindIncidentThread(ctx, a.IncidentID)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for incident",
				"incident_id", a.IncidentID,
				"error", err)
		}
	}

	blocks := BuildIncidentMessage(a, s.dashboardURL)
	if err := s.client.Post(ctx, blocks, fallbackText(a), threadTS); err != nil {
		s.logger.Error("Failed to send Slack incident alert",
			"incident_id", a.IncidentID,
			"severity", a.Severity,
			"error", err)
	}
}

// Close waits for in-flight posts.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
