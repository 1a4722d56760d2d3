// ABOUTME: Tests for the maintenance sweep
// ABOUTME: Covers stale mapping pruning, webhook health checks and scheduling

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-asana/internal/asana"
)

type fakeWebhooks struct {
	hooks []asana.Webhook
	err   error
}

func (f *fakeWebhooks) GetWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error) {
	return f.hooks, f.err
}

const sweepTarget = "https://bridge.example.com/webhooks/asana"

func TestSweep_PrunesStaleMappings(t *testing.T) {
	h := newHarness(t)
	h.convs.live["conv-live"] = true
	require.NoError(t, h.mappings.Set("T1", "conv-live"))
	require.NoError(t, h.mappings.Set("T2", "conv-gone"))

	res := NewSweeper(h.r, nil, sweepTarget, "@every 1h", nil).Sweep(context.Background())
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Pruned)
	assert.NoError(t, res.WebhookCheckErr)

	entries := h.r.Mappings()
	require.Len(t, entries, 1)
	assert.Equal(t, "T1", entries[0].TaskGID)
	assert.Contains(t, h.listeners.removed, "conv-gone")
}

func TestSweep_KeepsMappingsWhenExistenceUnknown(t *testing.T) {
	h := newHarness(t)
	h.convs.existsErr = errors.New("database is locked")
	require.NoError(t, h.mappings.Set("T1", "conv-1"))
	require.NoError(t, h.mappings.Set("T2", "conv-2"))

	res := NewSweeper(h.r, nil, sweepTarget, "@every 1h", nil).Sweep(context.Background())
	assert.Equal(t, 2, res.Checked)
	assert.Zero(t, res.Pruned)
	assert.Equal(t, 2, res.CheckFailed)
	assert.Len(t, h.r.Mappings(), 2)
	assert.Empty(t, h.listeners.removed)
}

func TestSweep_WebhookHealth(t *testing.T) {
	h := newHarness(t)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	hooks := &fakeWebhooks{hooks: []asana.Webhook{
		{GID: "w1", Active: true, Target: sweepTarget, LastSuccessAt: &newer},
		{GID: "w2", Active: false, Target: sweepTarget},
		{GID: "w3", Active: true, Target: sweepTarget, LastFailureAt: &newer, LastSuccessAt: &older},
		{GID: "w4", Active: true, Target: sweepTarget, LastFailureAt: &older, LastSuccessAt: &newer},
		{GID: "w5", Active: false, Target: "https://elsewhere.example.com/hook"},
	}}

	res := NewSweeper(h.r, hooks, sweepTarget, "@every 1h", nil).Sweep(context.Background())
	assert.Equal(t, 2, res.UnhealthyHooks)
	assert.NoError(t, res.WebhookCheckErr)
}

func TestSweep_WebhookListFailure(t *testing.T) {
	h := newHarness(t)
	hooks := &fakeWebhooks{err: errors.New("rate limited")}

	res := NewSweeper(h.r, hooks, sweepTarget, "@every 1h", nil).Sweep(context.Background())
	assert.Error(t, res.WebhookCheckErr)
	assert.Zero(t, res.UnhealthyHooks)
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	err := NewSweeper(h.r, nil, sweepTarget, "not a schedule", nil).Start(context.Background())
	assert.Error(t, err)
}

func TestSweeper_StartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSweeper(h.r, nil, sweepTarget, "@every 1h", nil)
	require.NoError(t, s.Start(ctx))
	s.Stop()
	s.Stop() // idempotent
}
