// ABOUTME: Scheduled maintenance: prunes stale task mappings and checks webhook health
// ABOUTME: Runs on a robfig/cron schedule alongside the webhook server

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/coven-asana/internal/asana"
)

// WebhookLister lists registered webhooks.
type WebhookLister interface {
	GetWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error)
}

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Checked         int
	Pruned          int
	CheckFailed     int
	UnhealthyHooks  int
	WebhookCheckErr error
}

// Sweeper runs periodic maintenance.
type Sweeper struct {
	reconciler *Reconciler
	webhooks   WebhookLister // nil skips webhook checks
	targetURL  string
	schedule   string
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper. schedule uses standard cron syntax or
// descriptors such as "@every 15m".
func NewSweeper(reconciler *Reconciler, webhooks WebhookLister, targetURL, schedule string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		reconciler: reconciler,
		webhooks:   webhooks,
		targetURL:  targetURL,
		schedule:   schedule,
		logger:     logger.With("component", "sweeper"),
	}
}

// Start schedules Sweep. The schedule stops when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("maintenance sweep scheduled", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	for _, entry := range s.reconciler.Mappings() {
		if ctx.Err() != nil {
			return res
		}
		res.Checked++
		_, pruned, err := s.reconciler.checkMapping(ctx, entry.TaskGID)
		if err != nil {
			res.CheckFailed++
			s.logger.Warn("mapping check failed, keeping it", "task_gid", entry.TaskGID, "error", err)
			continue
		}
		if pruned {
			res.Pruned++
		}
	}

	if s.webhooks != nil {
		res.UnhealthyHooks, res.WebhookCheckErr = s.checkWebhooks(ctx)
	}

	s.logger.Info("maintenance sweep finished",
		"checked", res.Checked,
		"pruned", res.Pruned,
		"check_failed", res.CheckFailed,
		"unhealthy_webhooks", res.UnhealthyHooks)
	return res
}

func (s *Sweeper) checkWebhooks(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	hooks, err := s.webhooks.GetWebhooks(ctx, "")
	if err != nil {
		s.logger.Warn("failed to list webhooks", "error", err)
		return 0, err
	}

	unhealthy := 0
	for _, h := range hooks {
		if h.Target != s.targetURL {
			continue
		}
		if !h.Active || failingSinceLastSuccess(h) {
			unhealthy++
			s.logger.Warn("webhook unhealthy",
				"webhook_gid", h.GID,
				"active", h.Active,
				"last_failure_content", h.LastFailureContent)
		}
	}
	return unhealthy, nil
}

func failingSinceLastSuccess(h asana.Webhook) bool {
	if h.LastFailureAt == nil {
		return false
	}
	return h.LastSuccessAt == nil || h.LastFailureAt.After(*h.LastSuccessAt)
}
