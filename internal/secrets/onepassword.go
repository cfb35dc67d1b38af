package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordCredentialStore stores notification channel credentials in
// 1Password using the Connect API.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault holding credentials
type OnePasswordCredentialStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string
	Token   string
	VaultID string
}

// NewOnePasswordCredentialStore creates a 1Password-backed credential store.
func NewOnePasswordCredentialStore(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordCredentialStore, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "fleetwatch-control-plane")

	return &OnePasswordCredentialStore{
		client:  client,
		vaultID: cfg.VaultID,
		logger:  logger,
		cache:   make(map[string]string),
	}, nil
}

func (s *OnePasswordCredentialStore) Get(ctx context.Context, ref string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[ref]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	items, err := s.client.GetItemsByTitle(ref, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("listing 1password items for %s: %w", ref, err)
	}
	if len(items) == 0 {
		return "", nil
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("fetching 1password item %s: %w", ref, err)
	}

	value := fieldValue(item, "credential")
	s.mu.Lock()
	s.cache[ref] = value
	s.mu.Unlock()
	return value, nil
}

func (s *OnePasswordCredentialStore) Set(ctx context.Context, ref, value string) error {
	items, err := s.client.GetItemsByTitle(ref, s.vaultID)
	if err != nil {
		return fmt.Errorf("listing 1password items for %s: %w", ref, err)
	}

	item := &onepassword.Item{
		Title:    ref,
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: s.vaultID},
		Fields: []*onepassword.ItemField{
			{Label: "credential", Value: value, Purpose: onepassword.FieldPurposePassword},
		},
	}

	if len(items) > 0 {
		item.ID = items[0].ID
		if _, err := s.client.UpdateItem(item, s.vaultID); err != nil {
			return fmt.Errorf("updating 1password item %s: %w", ref, err)
		}
	} else {
		if _, err := s.client.CreateItem(item, s.vaultID); err != nil {
			return fmt.Errorf("creating 1password item %s: %w", ref, err)
		}
	}

	s.mu.Lock()
	s.cache[ref] = value
	s.mu.Unlock()
	return nil
}

func (s *OnePasswordCredentialStore) Close() error { return nil }

func fieldValue(item *onepassword.Item, label string) string {
	for _, f := range item.Fields {
		if f.Label == label {
			return f.Value
		}
	}
	return ""
}
