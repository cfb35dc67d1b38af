package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// =============================================================================
// SYNTHETIC CHECKS
// =============================================================================

// ListSyntheticChecks returns every non-paused synthetic check, for the
// prober's scheduling loop.
func (s *Store) ListSyntheticChecks(ctx context.Context) ([]types.SyntheticCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, url, http_enabled, ssl_enabled, interval_seconds,
			expected_status_code, response_match, latency_warning_ms, latency_critical_ms,
			paused, created_at, updated_at,
			last_http_success, last_http_status_code, last_http_latency_ms, last_http_error, last_http_checked_at,
			last_ssl_valid, last_ssl_not_after, last_ssl_days_to_expiry, last_ssl_issuer, last_ssl_error, last_ssl_checked_at,
			ssl_renewal_detected_at, ssl_last_reminder_bucket
		FROM synthetic_checks WHERE paused = false
	`)
	if err != nil {
		return nil, fmt.Errorf("list synthetic checks: %w", err)
	}
	defer rows.Close()

	var checks []types.SyntheticCheck
	for rows.Next() {
		c, intervalSeconds, err := scanSyntheticCheck(rows)
		if err != nil {
			return nil, err
		}
		c.Interval = secondsToDuration(intervalSeconds)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// syntheticRowScanner abstracts pgx.Row and pgx.Rows over the shared scan
// list used by both ListSyntheticChecks and GetSyntheticCheck.
type syntheticRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyntheticCheck(row syntheticRowScanner) (types.SyntheticCheck, int64, error) {
	var c types.SyntheticCheck
	var intervalSeconds int64

	var httpSuccess *bool
	var httpStatusCode *int
	var httpLatencyMs *float64
	var httpError *string
	var httpCheckedAt *time.Time

	var sslValid *bool
	var sslNotAfter *time.Time
	var sslDaysToExpiry *int
	var sslIssuer *string
	var sslError *string
	var sslCheckedAt *time.Time
	var sslRenewalDetectedAt *time.Time
	var sslLastReminderBucket *string

	err := row.Scan(&c.ID, &c.Name, &c.URL, &c.HTTP, &c.SSL, &intervalSeconds,
		&c.ExpectedStatusCode, &c.ResponseMatch, &c.LatencyWarningMs, &c.LatencyCriticalMs,
		&c.Paused, &c.CreatedAt, &c.UpdatedAt,
		&httpSuccess, &httpStatusCode, &httpLatencyMs, &httpError, &httpCheckedAt,
		&sslValid, &sslNotAfter, &sslDaysToExpiry, &sslIssuer, &sslError, &sslCheckedAt,
		&sslRenewalDetectedAt, &sslLastReminderBucket)
	if err != nil {
		return c, 0, err
	}

	if httpCheckedAt != nil {
		c.LastHTTPResult = &types.ProbeOutcome{
			Success:   httpSuccess != nil && *httpSuccess,
			LatencyMs: derefFloat(httpLatencyMs),
			CheckedAt: *httpCheckedAt,
		}
		if httpStatusCode != nil {
			c.LastHTTPResult.StatusCode = *httpStatusCode
		}
		if httpError != nil {
			c.LastHTTPResult.Error = *httpError
		}
	}

	if sslCheckedAt != nil {
		c.LastSSLResult = &types.SSLOutcome{
			Valid:             sslValid != nil && *sslValid,
			CheckedAt:         *sslCheckedAt,
			RenewalDetectedAt: sslRenewalDetectedAt,
		}
		if sslNotAfter != nil {
			c.LastSSLResult.NotAfter = *sslNotAfter
		}
		if sslDaysToExpiry != nil {
			c.LastSSLResult.DaysToExpiry = *sslDaysToExpiry
		}
		if sslIssuer != nil {
			c.LastSSLResult.Issuer = *sslIssuer
		}
		if sslError != nil {
			c.LastSSLResult.Error = *sslError
		}
		if sslLastReminderBucket != nil {
			c.LastSSLResult.LastReminderBucket = *sslLastReminderBucket
		}
	}

	return c, intervalSeconds, nil
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// RecordProbeOutcome persists the HTTP leg's latest result.
func (s *Store) RecordProbeOutcome(ctx context.Context, checkID string, o *types.ProbeOutcome) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE synthetic_checks
		SET last_http_success = $2, last_http_status_code = $3, last_http_latency_ms = $4,
			last_http_error = $5, last_http_checked_at = $6, updated_at = NOW()
		WHERE id = $1
	`, checkID, o.Success, o.StatusCode, o.LatencyMs, o.Error, o.CheckedAt)
	if err != nil {
		return fmt.Errorf("record probe outcome for %s: %w", checkID, err)
	}
	return nil
}

// RecordSSLOutcome persists the SSL leg's latest result, including the
// renewal-detection and reminder-bucket bookkeeping.
func (s *Store) RecordSSLOutcome(ctx context.Context, checkID string, o *types.SSLOutcome) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE synthetic_checks
		SET last_ssl_valid = $2, last_ssl_not_after = $3, last_ssl_days_to_expiry = $4,
			last_ssl_issuer = $5, last_ssl_error = $6, last_ssl_checked_at = $7,
			ssl_renewal_detected_at = $8, ssl_last_reminder_bucket = $9, updated_at = NOW()
		WHERE id = $1
	`, checkID, o.Valid, o.NotAfter, o.DaysToExpiry, o.Issuer, o.Error, o.CheckedAt,
		o.RenewalDetectedAt, o.LastReminderBucket)
	if err != nil {
		return fmt.Errorf("record ssl outcome for %s: %w", checkID, err)
	}
	return nil
}

// GetSyntheticCheck retrieves a single check by ID, used after a probe
// completes to read back the previous NotAfter for renewal detection.
func (s *Store) GetSyntheticCheck(ctx context.Context, id string) (*types.SyntheticCheck, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, url, http_enabled, ssl_enabled, interval_seconds,
			expected_status_code, response_match, latency_warning_ms, latency_critical_ms,
			paused, created_at, updated_at,
			last_http_success, last_http_status_code, last_http_latency_ms, last_http_error, last_http_checked_at,
			last_ssl_valid, last_ssl_not_after, last_ssl_days_to_expiry, last_ssl_issuer, last_ssl_error, last_ssl_checked_at,
			ssl_renewal_detected_at, ssl_last_reminder_bucket
		FROM synthetic_checks WHERE id = $1
	`, id)
	c, intervalSeconds, err := scanSyntheticCheck(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get synthetic check %s: %w", id, err)
	}
	c.Interval = secondsToDuration(intervalSeconds)
	return &c, nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
