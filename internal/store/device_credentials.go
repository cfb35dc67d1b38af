package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// DEVICE CREDENTIALS
// =============================================================================

// SetDeviceSecret hashes and stores a device's MQTT authentication secret.
// Plaintext never touches disk; only the bcrypt hash is persisted.
func (s *Store) SetDeviceSecret(ctx context.Context, deviceID, plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing device secret for %s: %w", deviceID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO device_credentials (device_id, secret_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (device_id) DO UPDATE SET secret_hash = EXCLUDED.secret_hash, updated_at = NOW()
	`, deviceID, hash)
	if err != nil {
		return fmt.Errorf("store device secret for %s: %w", deviceID, err)
	}
	return nil
}

// VerifyDeviceSecret checks a plaintext secret presented at MQTT connect
// time against the stored bcrypt hash. Returns false, nil for an unknown
// device rather than an error, so the MQTT broker hook can uniformly reject.
func (s *Store) VerifyDeviceSecret(ctx context.Context, deviceID, plaintext string) (bool, error) {
	var hash []byte
	err := s.pool.QueryRow(ctx, `
		SELECT secret_hash FROM device_credentials WHERE device_id = $1
	`, deviceID).Scan(&hash)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup device secret for %s: %w", deviceID, err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(plaintext)); err != nil {
		return false, nil
	}
	return true, nil
}
