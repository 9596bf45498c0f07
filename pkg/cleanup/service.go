// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hearthhq/hearth/pkg/config"
)

// AuditPruner deletes audit entries older than a cutoff. Implemented by
// database.AuditStore.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically prunes the audit trail. Deletion is idempotent, so
// every server process can run it.
type Service struct {
	config *config.RetentionConfig
	audit  AuditPruner
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, audit AuditPruner) *Service {
	return &Service{
		config: cfg,
		audit:  audit,
		now:    time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"audit_retention_days", s.config.AuditRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneAudit(ctx)
}

func (s *Service) pruneAudit(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.AuditRetentionDays)
	count, err := s.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: audit prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned audit entries", "count", count, "cutoff", cutoff)
	}
}
