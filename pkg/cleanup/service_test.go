package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/config"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

func (f *fakePruner) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.cutoffs...)
}

func TestService_PrunesWithRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	svc := NewService(&config.RetentionConfig{AuditRetentionDays: 30, CleanupInterval: time.Hour}, pruner)
	svc.now = func() time.Time { return now }

	svc.runAll(context.Background())

	calls := pruner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), calls[0])
}

func TestService_PruneErrorIsNotFatal(t *testing.T) {
	pruner := &fakePruner{err: assert.AnError}
	svc := NewService(config.DefaultRetentionConfig(), pruner)

	svc.runAll(context.Background())
	svc.runAll(context.Background())
	assert.Len(t, pruner.calls(), 2)
}

func TestService_StartRunsImmediatelyAndOnTicker(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(&config.RetentionConfig{AuditRetentionDays: 1, CleanupInterval: 20 * time.Millisecond}, pruner)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return len(pruner.calls()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	svc.Stop()

	n := len(pruner.calls())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(pruner.calls()), "no runs after Stop")
	svc.Stop() // idempotent
}
