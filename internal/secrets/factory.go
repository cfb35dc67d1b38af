package secrets

import (
	"fmt"
	"log/slog"
	"os"
)

// Config holds configuration for the credential store backend.
type Config struct {
	// Backend selects which backend to use: "1password", "local", or "auto".
	// "auto" uses 1Password if configured, otherwise falls back to local.
	Backend string

	OnePasswordHost    string // OP_CONNECT_HOST
	OnePasswordToken   string // OP_CONNECT_TOKEN
	OnePasswordVaultID string // OP_VAULT_ID

	// LocalDir is the local storage directory (default: ~/.fleetwatch/credentials).
	LocalDir string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv(backend, token string) Config {
	return Config{
		Backend:            orDefault(backend, "auto"),
		OnePasswordHost:    os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken:   orDefault(token, os.Getenv("OP_CONNECT_TOKEN")),
		OnePasswordVaultID: os.Getenv("OP_VAULT_ID"),
		LocalDir:           os.Getenv("FLEETWATCH_CREDENTIAL_DIR"),
	}
}

// NewCredentialStore creates a CredentialStore based on configuration.
func NewCredentialStore(cfg Config, logger *slog.Logger) (CredentialStore, error) {
	backend := orDefault(cfg.Backend, "auto")

	switch backend {
	case "1password":
		return NewOnePasswordCredentialStore(OnePasswordConfig{
			Host: cfg.OnePasswordHost, Token: cfg.OnePasswordToken, VaultID: cfg.OnePasswordVaultID,
		}, logger)

	case "local":
		return NewLocalCredentialStore(cfg.LocalDir, logger)

	case "auto":
		if cfg.OnePasswordHost != "" && cfg.OnePasswordToken != "" && cfg.OnePasswordVaultID != "" {
			store, err := NewOnePasswordCredentialStore(OnePasswordConfig{
				Host: cfg.OnePasswordHost, Token: cfg.OnePasswordToken, VaultID: cfg.OnePasswordVaultID,
			}, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password credential store, falling back to local storage", "error", err)
				return NewLocalCredentialStore(cfg.LocalDir, logger)
			}
			return store, nil
		}
		logger.Info("1Password connect settings not set, using local credential storage")
		return NewLocalCredentialStore(cfg.LocalDir, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
