package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LocalCredentialStore stores credential values on the local filesystem, one
// file per ref. Intended for development and testing only.
type LocalCredentialStore struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewLocalCredentialStore creates a local filesystem-backed credential store.
// If baseDir is empty, it defaults to ~/.fleetwatch/credentials.
func NewLocalCredentialStore(baseDir string, logger *slog.Logger) (*LocalCredentialStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".fleetwatch", "credentials")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	logger.Info("using local credential store", "path", baseDir)

	return &LocalCredentialStore{
		baseDir: baseDir,
		logger:  logger,
		cache:   make(map[string]string),
	}, nil
}

func (s *LocalCredentialStore) Get(ctx context.Context, ref string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[ref]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credential %s: %w", ref, err)
	}

	value := string(data)
	s.mu.Lock()
	s.cache[ref] = value
	s.mu.Unlock()
	return value, nil
}

func (s *LocalCredentialStore) Set(ctx context.Context, ref, value string) error {
	if err := os.WriteFile(s.path(ref), []byte(value), 0600); err != nil {
		return fmt.Errorf("writing credential %s: %w", ref, err)
	}
	s.mu.Lock()
	s.cache[ref] = value
	s.mu.Unlock()
	return nil
}

func (s *LocalCredentialStore) Close() error { return nil }

func (s *LocalCredentialStore) path(ref string) string {
	return filepath.Join(s.baseDir, ref+".secret")
}
