package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// SyntheticStore is the slice of internal/store this package needs to fold
// upcoming SSL expiries into the weekly renewal digest alongside license
// assets.
type SyntheticStore interface {
	ListSyntheticChecks(ctx context.Context) ([]types.SyntheticCheck, error)
}

// WeeklyDigest sends a combined license + SSL renewal summary every Friday
// in the configured time zone, using robfig/cron's expression parser rather
// than a hand-rolled day-of-week check — the one recurring calendar-shaped
// schedule in the system, as opposed to every other component's fixed-
// interval ticker.
type WeeklyDigest struct {
	licenses   Store
	synthetics SyntheticStore
	notifier   Notifier
	loc        *time.Location
	logger     *slog.Logger

	cron *cron.Cron
}

// NewWeeklyDigest creates a WeeklyDigest. loc is the fleet's configured time
// zone (config.Timezone), so "Friday" means Friday there, not in UTC or the
// host's local zone.
func NewWeeklyDigest(licenses Store, synthetics SyntheticStore, notifier Notifier, loc *time.Location, logger *slog.Logger) *WeeklyDigest {
	return &WeeklyDigest{
		licenses:   licenses,
		synthetics: synthetics,
		notifier:   notifier,
		loc:        loc,
		logger:     logger.With("component", "license_weekly_digest"),
		cron:       cron.New(cron.WithLocation(loc)),
	}
}

// Start registers the Friday-00:00 job and starts the cron scheduler's own
// goroutine. Stop must be called on shutdown.
func (w *WeeklyDigest) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc("0 0 * * FRI", func() { w.send(ctx) })
	if err != nil {
		return fmt.Errorf("schedule weekly renewal digest: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job to finish.
func (w *WeeklyDigest) Stop() {
	<-w.cron.Stop().Done()
}

func (w *WeeklyDigest) send(ctx context.Context) {
	now := time.Now().In(w.loc)

	assets, err := w.licenses.ListLicenseAssets(ctx)
	if err != nil {
		w.logger.Error("failed to list license assets for weekly digest", "error", err)
		return
	}
	checks, err := w.synthetics.ListSyntheticChecks(ctx)
	if err != nil {
		w.logger.Error("failed to list synthetic checks for weekly digest", "error", err)
		return
	}

	body := renderWeeklyDigest(assets, checks, now)
	n := types.Notification{
		Kind:     types.KindDigest,
		Title:    "Weekly renewal digest",
		Body:     body,
		Severity: types.SeverityInfo,
		SentAt:   now,
	}
	if err := w.notifier.Send(ctx, n); err != nil {
		w.logger.Error("failed to send weekly renewal digest", "error", err)
	}
}

func renderWeeklyDigest(assets []types.LicenseAsset, checks []types.SyntheticCheck, now time.Time) string {
	var b strings.Builder
	b.WriteString("Upcoming license renewals:\n")
	anyLicense := false
	for _, a := range assets {
		days := int(a.RenewalDate.Sub(now).Hours() / 24)
		if days < 0 || days > 30 {
			continue
		}
		anyLicense = true
		fmt.Fprintf(&b, "  %s renews in %d days (%s)\n", a.Name, days, a.RenewalDate.Format("2006-01-02"))
	}
	if !anyLicense {
		b.WriteString("  none due within 30 days\n")
	}

	b.WriteString("\nUpcoming SSL certificate expiries:\n")
	anySSL := false
	for _, c := range checks {
		if !c.SSL || c.LastSSLResult == nil {
			continue
		}
		if c.LastSSLResult.DaysToExpiry < 0 || c.LastSSLResult.DaysToExpiry > 30 {
			continue
		}
		anySSL = true
		fmt.Fprintf(&b, "  %s expires in %d days\n", c.Name, c.LastSSLResult.DaysToExpiry)
	}
	if !anySSL {
		b.WriteString("  none due within 30 days\n")
	}

	return b.String()
}
