package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/telemetry"
)

// RunResult summarises one rule run.
type RunResult struct {
	Rule          string
	Matched       int
	Emitted       int
	Skipped       int // side-effect not applied or failed
	PublishErrors int
	Err           error // query failure or recovered panic
}

// Scanner schedules and interprets rules. Each rule runs on its own
// goroutine; runs of different rules, and overlapping runs of the same rule
// triggered through RunOnce, may execute concurrently.
type Scanner struct {
	rules      []Rule
	publisher  Publisher
	audit      audit.Sink
	runTimeout time.Duration
	runOnStart bool
	metrics    *telemetry.Instruments
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithRunTimeout bounds each rule run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.runTimeout = d }
}

// WithRunOnStart runs every rule once when Start is called.
func WithRunOnStart(v bool) Option {
	return func(s *Scanner) { s.runOnStart = v }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a Scanner. A nil sink records nothing.
func New(rules []Rule, publisher Publisher, sink audit.Sink, opts ...Option) *Scanner {
	if sink == nil {
		sink = audit.Multi{}
	}
	s := &Scanner{
		rules:      rules,
		publisher:  publisher,
		audit:      sink,
		runTimeout: 2 * time.Minute,
		metrics:    telemetry.Metrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the rule names in registration order.
func (s *Scanner) Rules() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name
	}
	return names
}

// Start launches one scheduling goroutine per rule.
func (s *Scanner) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, rule := range s.rules {
		s.wg.Add(1)
		go s.schedule(ctx, rule)
	}

	slog.Info("Condition scanner started", "rules", s.Rules(), "run_on_start", s.runOnStart)
}

// Stop cancels scheduling and waits for in-flight runs to return.
func (s *Scanner) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	slog.Info("Condition scanner stopped")
}

func (s *Scanner) schedule(ctx context.Context, rule Rule) {
	defer s.wg.Done()
	log := slog.With("rule", rule.Name)

	if s.runOnStart {
		s.RunRule(ctx, rule, s.now())
	}

	for {
		next, err := gronx.NextTickAfter(rule.Schedule, s.now(), false)
		if err != nil {
			log.Error("Invalid rule schedule; rule disabled", "schedule", rule.Schedule, "error", err)
			return
		}

		// Measured on the scanner's clock, not the wall clock, so a
		// replaced clock cannot produce a past deadline.
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.RunRule(ctx, rule, s.now())
	}
}

// ErrUnknownRule is returned by RunOnce for a rule that is not loaded.
var ErrUnknownRule = errors.New("unknown rule")

// RunOnce runs the named rule immediately.
func (s *Scanner) RunOnce(ctx context.Context, name string) (RunResult, error) {
	for _, rule := range s.rules {
		if rule.Name == name {
			return s.RunRule(ctx, rule, s.now()), nil
		}
	}
	return RunResult{}, fmt.Errorf("%w: %q", ErrUnknownRule, name)
}

// RunRule executes one pass of rule. For each matched row the side-effect is
// applied first; a row whose side-effect was not applied is skipped. Publish
// failures are logged and the pass continues. A panic is recovered and
// reported in the result.
func (s *Scanner) RunRule(ctx context.Context, rule Rule, now time.Time) (res RunResult) {
	res.Rule = rule.Name
	log := slog.With("rule", rule.Name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("rule %s panicked: %v", rule.Name, r)
			log.Error("Scan rule panicked", "panic", r, "stack", string(debug.Stack()))
		}
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		s.metrics.ScannerRuns.Add(context.Background(), 1, telemetry.Attrs("rule", rule.Name, "outcome", outcome))
		if res.Emitted > 0 {
			s.metrics.ScannerEmitted.Add(context.Background(), int64(res.Emitted), telemetry.Attr("rule", rule.Name))
		}
		log.Debug("Scan rule finished",
			"matched", res.Matched,
			"emitted", res.Emitted,
			"skipped", res.Skipped,
			"publish_errors", res.PublishErrors,
			"duration", time.Since(start))
	}()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	rows, err := rule.Query(ctx, now)
	if err != nil {
		res.Err = fmt.Errorf("query failed: %w", err)
		log.Error("Scan rule query failed", "error", err)
		return res
	}
	res.Matched = len(rows)

	for _, row := range rows {
		if ctx.Err() != nil {
			log.Warn("Scan rule interrupted", "error", ctx.Err())
			break
		}
		s.processRow(ctx, rule, row, now, &res)
	}

	if res.Emitted > 0 {
		log.Info("Scan rule emitted events", "count", res.Emitted)
	}
	return res
}

func (s *Scanner) processRow(ctx context.Context, rule Rule, row Row, now time.Time, res *RunResult) {
	log := slog.With("rule", rule.Name, "row_id", row.ID, "tenant_id", row.TenantID)

	if rule.SideEffect != nil {
		applied, err := rule.SideEffect(ctx, row, now)
		if err != nil {
			log.Error("Scan rule side-effect failed", "error", err)
			res.Skipped++
			return
		}
		if !applied {
			// Another run already transitioned this row.
			res.Skipped++
			return
		}
	}

	tenantID, env, err := rule.Emit(row)
	if err != nil {
		// The row is already marked; the audit entry is all that is left of it.
		log.Error("Failed to build envelope", "error", err)
		res.Skipped++
		s.recordEmission(ctx, rule, row, row.TenantID, "", now, map[string]any{
			"published": false,
			"error":     err.Error(),
		})
		return
	}

	published := true
	if err := s.publisher.Publish(ctx, tenantID, env); err != nil {
		// The row is already marked; this event is lost.
		log.Warn("Failed to publish scan event", "error", err)
		res.PublishErrors++
		published = false
	} else {
		res.Emitted++
	}

	s.recordEmission(ctx, rule, row, tenantID, string(env.Type), now, map[string]any{"published": published})
}

func (s *Scanner) recordEmission(ctx context.Context, rule Rule, row Row, tenantID, eventType string, now time.Time, detail map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		TenantID:  tenantID,
		Source:    "scanner:" + rule.Name,
		Action:    audit.ActionEventEmitted,
		SubjectID: row.ID,
		EventType: eventType,
		Detail:    detail,
		CreatedAt: now,
	})
	if err != nil {
		slog.Error("Failed to record audit entry", "rule", rule.Name, "row_id", row.ID, "error", err)
	}
}
