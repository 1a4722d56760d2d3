// ABOUTME: Holds the webhook handshake secret in memory, backed by the settings store
// ABOUTME: A cold cache falls back to the persisted value so restarts keep verifying

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-asana/internal/store"
)

// SettingsStore persists instance settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// SecretCache is the process-wide webhook secret. The zero value is not usable.
type SecretCache struct {
	mu       sync.RWMutex
	secret   string
	settings SettingsStore // optional
	logger   *slog.Logger
}

// NewSecretCache creates a cache. settings may be nil, in which case secrets
// only live for the lifetime of the process.
func NewSecretCache(settings SettingsStore, logger *slog.Logger) *SecretCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretCache{
		settings: settings,
		logger:   logger.With("component", "webhook-secrets"),
	}
}

// Get returns the secret, loading it from settings when memory is empty.
func (c *SecretCache) Get(ctx context.Context) (string, bool) {
	c.mu.RLock()
	secret := c.secret
	c.mu.RUnlock()
	if secret != "" {
		return secret, true
	}
	if c.settings == nil {
		return "", false
	}

	persisted, err := c.settings.GetSetting(ctx, store.SettingWebhookSecret)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to load webhook secret", "error", err)
		}
		return "", false
	}
	if persisted == "" {
		return "", false
	}

	c.mu.Lock()
	if c.secret == "" {
		c.secret = persisted
	}
	secret = c.secret
	c.mu.Unlock()
	c.logger.Info("loaded webhook secret from settings")
	return secret, true
}

// Set stores the secret in memory and persists it.
func (c *SecretCache) Set(ctx context.Context, secret string) error {
	c.mu.Lock()
	c.secret = secret
	c.mu.Unlock()

	if c.settings == nil {
		return nil
	}
	if err := c.settings.SetSetting(ctx, store.SettingWebhookSecret, secret); err != nil {
		return fmt.Errorf("persisting webhook secret: %w", err)
	}
	return nil
}

// Clear forgets the secret in memory and in settings.
func (c *SecretCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.secret = ""
	c.mu.Unlock()

	if c.settings == nil {
		return nil
	}
	if err := c.settings.DeleteSetting(ctx, store.SettingWebhookSecret); err != nil {
		return fmt.Errorf("clearing webhook secret: %w", err)
	}
	return nil
}

// Count returns how many secrets are held in memory (0 or 1).
func (c *SecretCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.secret == "" {
		return 0
	}
	return 1
}
