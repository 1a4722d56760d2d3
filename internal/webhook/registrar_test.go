// ABOUTME: Tests for webhook registration management
// ABOUTME: Covers loopback rejection, replacement on create, delete and status

package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/store"
)

type fakeWebhookAPI struct {
	hooks   []asana.Webhook
	created []asana.WebhookCreateRequest
	deleted []string
	listErr error
}

func (f *fakeWebhookAPI) GetWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.hooks, nil
}

func (f *fakeWebhookAPI) CreateWebhook(ctx context.Context, req asana.WebhookCreateRequest) (*asana.Webhook, string, error) {
	f.created = append(f.created, req)
	hook := asana.Webhook{GID: "new-hook", Active: true, Target: req.Target}
	f.hooks = append(f.hooks, hook)
	return &hook, "handshake-secret", nil
}

func (f *fakeWebhookAPI) DeleteWebhook(ctx context.Context, gid string) error {
	f.deleted = append(f.deleted, gid)
	kept := f.hooks[:0]
	for _, h := range f.hooks {
		if h.GID != gid {
			kept = append(kept, h)
		}
	}
	f.hooks = kept
	return nil
}

const publicTarget = "https://bridge.example.com/webhooks/asana"

func newRegistrar(api WebhookAPI, target string) (*Registrar, *store.MockStore) {
	settings := store.NewMockStore()
	cfg := RegistrarConfig{WorkspaceGID: "W1", ProjectGID: "P1", TargetURL: target}
	return NewRegistrar(cfg, api, NewSecretCache(settings, nil), nil), settings
}

func TestIsLoopbackURL(t *testing.T) {
	for _, u := range []string{
		"http://localhost:8080/webhooks/asana",
		"http://127.0.0.1/webhooks/asana",
		"http://[::1]:9000/webhooks/asana",
		"http://127.0.0.2/",
		"http://api.localhost/",
		"not a url",
	} {
		assert.True(t, IsLoopbackURL(u), u)
	}
	assert.False(t, IsLoopbackURL(publicTarget))
	assert.False(t, IsLoopbackURL("https://203.0.113.7/webhooks/asana"))
}

func TestRegistrar_CreateRejectsLoopback(t *testing.T) {
	api := &fakeWebhookAPI{}
	r, _ := newRegistrar(api, "http://localhost:8080/webhooks/asana")

	_, err := r.Create(context.Background())
	assert.ErrorIs(t, err, ErrLoopbackTarget)
	assert.Empty(t, api.created)
}

func TestRegistrar_CreateRequiresConfiguration(t *testing.T) {
	_, err := NewRegistrar(RegistrarConfig{WorkspaceGID: "W1", TargetURL: publicTarget}, &fakeWebhookAPI{}, NewSecretCache(nil, nil), nil).
		Create(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewRegistrar(RegistrarConfig{WorkspaceGID: "W1", ProjectGID: "P1", TargetURL: publicTarget}, nil, NewSecretCache(nil, nil), nil).
		Create(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRegistrar_CreateReplacesExisting(t *testing.T) {
	api := &fakeWebhookAPI{hooks: []asana.Webhook{
		{GID: "old", Target: publicTarget},
		{GID: "unrelated", Target: "https://other.example.com/hook"},
	}}
	r, settings := newRegistrar(api, publicTarget)

	hook, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-hook", hook.GID)
	assert.Equal(t, []string{"old"}, api.deleted)

	require.Len(t, api.created, 1)
	req := api.created[0]
	assert.Equal(t, "P1", req.Resource)
	assert.Equal(t, publicTarget, req.Target)
	assert.Equal(t, []asana.WebhookFilter{
		{ResourceType: "task", Action: "changed", Fields: []string{"assignee"}},
		{ResourceType: "story", Action: "added"},
	}, req.Filters)

	secret, err := settings.GetSetting(context.Background(), store.SettingWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "handshake-secret", secret)
}

func TestRegistrar_Delete(t *testing.T) {
	api := &fakeWebhookAPI{hooks: []asana.Webhook{{GID: "h1", Target: publicTarget}}}
	r, settings := newRegistrar(api, publicTarget)
	ctx := context.Background()
	require.NoError(t, settings.SetSetting(ctx, store.SettingWebhookSecret, "old-secret"))

	n, err := r.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = settings.GetSetting(ctx, store.SettingWebhookSecret)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.Delete(ctx)
	assert.ErrorIs(t, err, ErrNoWebhook)
}

func TestRegistrar_Status(t *testing.T) {
	success := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	api := &fakeWebhookAPI{hooks: []asana.Webhook{{
		GID:           "h1",
		Active:        true,
		Target:        publicTarget,
		Resource:      asana.Resource{GID: "P1", Name: "Engineering"},
		LastSuccessAt: &success,
	}}}
	r, _ := newRegistrar(api, publicTarget)

	st := r.Status(context.Background())
	assert.True(t, st.IsRegistered)
	assert.Equal(t, "h1", st.WebhookGID)
	require.NotNil(t, st.IsActive)
	assert.True(t, *st.IsActive)
	assert.Equal(t, "Engineering", st.ResourceName)
	require.NotNil(t, st.LastSuccessAt)
	assert.Equal(t, "2024-01-02T03:04:05Z", *st.LastSuccessAt)
	assert.Nil(t, st.LastFailureAt)

	api.hooks = nil
	assert.Equal(t, Status{}, r.Status(context.Background()))

	api.listErr = errors.New("rate limited")
	st = r.Status(context.Background())
	assert.False(t, st.IsRegistered)
	assert.Equal(t, "rate limited", st.ErrorMessage)
}
