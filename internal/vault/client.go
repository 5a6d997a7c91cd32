package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"market-signal-bot/config"
	"market-signal-bot/internal/logging"

	"github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when no key is stored for a provider
var ErrKeyNotFound = errors.New("API key not found")

// Client reads provider and LLM API keys from a KV v2 mount
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]string // provider -> key
	cacheEnabled bool
	logger       *logging.Logger
}

// NewClient creates a new Vault client. A disabled config gives a client
// backed only by its in-memory cache.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config:       cfg,
		cache:        make(map[string]string),
		cacheEnabled: true,
		logger:       logging.WithComponent("vault"),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client

	return c, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// StoreKey stores the API key for a provider
func (c *Client) StoreKey(ctx context.Context, provider, key string) error {
	provider = normalizeProvider(provider)
	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":  key,
				"provider": provider,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(provider), secretData); err != nil {
			return fmt.Errorf("failed to store API key in vault: %w", err)
		}
	}

	if c.cacheEnabled || !c.config.Enabled {
		c.mu.Lock()
		c.cache[provider] = key
		c.mu.Unlock()
	}
	return nil
}

// GetKey retrieves the API key for a provider
func (c *Client) GetKey(ctx context.Context, provider string) (string, error) {
	provider = normalizeProvider(provider)

	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[provider]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return "", ErrKeyNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(provider))
	if err != nil {
		return "", fmt.Errorf("failed to read API key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format")
	}
	key := getString(data, "api_key")
	if key == "" {
		return "", ErrKeyNotFound
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[provider] = key
		c.mu.Unlock()
	}
	return key, nil
}

// ResolveKey prefers the Vault key and falls back to the configured value
func (c *Client) ResolveKey(ctx context.Context, provider, fallback string) string {
	key, err := c.GetKey(ctx, provider)
	if err == nil {
		return key
	}
	if !errors.Is(err, ErrKeyNotFound) {
		c.logger.Warn("Vault lookup failed, using configured key", "provider", provider, "error", err)
	}
	return fallback
}

// DeleteKey removes the API key for a provider
func (c *Client) DeleteKey(ctx context.Context, provider string) error {
	provider = normalizeProvider(provider)

	c.mu.Lock()
	delete(c.cache, provider)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(provider)); err != nil {
		return fmt.Errorf("failed to delete API key from vault: %w", err)
	}
	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath returns the path for storing a secret
func (c *Client) secretPath(provider string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

// metadataPath returns the metadata path for a secret
func (c *Client) metadataPath(provider string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
