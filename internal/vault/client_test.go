package vault

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"market-signal-bot/config"
)

func TestDisabledClientUsesCache(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	if _, err := c.GetKey(ctx, "alphavantage"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
	if got := c.ResolveKey(ctx, "alphavantage", "env-key"); got != "env-key" {
		t.Errorf("Expected fallback key, got %q", got)
	}

	c.StoreKey(ctx, " AlphaVantage ", "stored")
	if got := c.ResolveKey(ctx, "alphavantage", "env-key"); got != "stored" {
		t.Errorf("Expected stored key, got %q", got)
	}

	c.DeleteKey(ctx, "alphavantage")
	if _, err := c.GetKey(ctx, "alphavantage"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected key to be deleted, got %v", err)
	}
}

func TestEnabledClientReadsKV(t *testing.T) {
	var reads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			t.Errorf("Missing vault token")
		}
		switch r.URL.Path {
		case "/v1/secret/data/market-signal/providers/polygon":
			reads++
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"data":{"api_key":"pk_123","provider":"polygon"},"metadata":{"version":1}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "root",
		MountPath:  "secret",
		SecretPath: "market-signal/providers",
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		key, err := c.GetKey(ctx, "polygon")
		if err != nil || key != "pk_123" {
			t.Fatalf("Expected pk_123, got %q %v", key, err)
		}
	}
	if reads != 1 {
		t.Errorf("Expected cached second read, got %d vault reads", reads)
	}

	if got := c.ResolveKey(ctx, "claude", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback for a missing secret, got %q", got)
	}
}
