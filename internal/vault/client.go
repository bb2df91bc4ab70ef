// Package vault stores Deriv API tokens in HashiCorp Vault. When Vault is
// disabled the client degrades to an in-memory store so development setups
// can run with tokens from the database or environment.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"deriv-trading-bot/config"
)

// TokenData is the per-account token material kept for a user
type TokenData struct {
	Token       string `json:"token"`
	AccountType string `json:"account_type"` // demo or real
	LoginID     string `json:"login_id,omitempty"`
}

// Client wraps the Vault API client with a read-through cache
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*TokenData
}

// NewClient builds a Vault client, or a cache-only client when disabled
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*TokenData),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*TokenData),
	}, nil
}

// StoreToken writes a user's token for one account type
func (c *Client) StoreToken(ctx context.Context, userID string, data TokenData) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(userID, data.AccountType)] = &data
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"token":        data.Token,
			"account_type": data.AccountType,
			"login_id":     data.LoginID,
		},
	}

	path := c.secretPath(userID, data.AccountType)
	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store token in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, data.AccountType)] = &data
	c.mu.Unlock()
	return nil
}

// GetToken retrieves a user's token for an account type
func (c *Client) GetToken(ctx context.Context, userID, accountType string) (*TokenData, error) {
	c.mu.RLock()
	if cached, ok := c.cache[c.cacheKey(userID, accountType)]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("token not found and vault is disabled")
	}

	path := c.secretPath(userID, accountType)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("token not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	tokenData := &TokenData{
		Token:       getString(data, "token"),
		AccountType: getString(data, "account_type"),
		LoginID:     getString(data, "login_id"),
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, accountType)] = tokenData
	c.mu.Unlock()
	return tokenData, nil
}

// DeleteToken removes a user's token for an account type
func (c *Client) DeleteToken(ctx context.Context, userID, accountType string) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, accountType))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.metadataPath(userID, accountType)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete token from vault: %w", err)
	}
	return nil
}

// InvalidateUser drops cached tokens for a user
func (c *Client) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, accountType := range []string{"demo", "real"} {
		delete(c.cache, c.cacheKey(userID, accountType))
	}
}

// IsEnabled reports whether Vault is the backing store
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

func (c *Client) secretPath(userID, accountType string) string {
	return fmt.Sprintf("%s/data/%s/%s/deriv_%s", c.config.MountPath, c.config.SecretPath, userID, accountType)
}

func (c *Client) metadataPath(userID, accountType string) string {
	return fmt.Sprintf("%s/metadata/%s/%s/deriv_%s", c.config.MountPath, c.config.SecretPath, userID, accountType)
}

func (c *Client) cacheKey(userID, accountType string) string {
	return userID + "/deriv_" + accountType
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
