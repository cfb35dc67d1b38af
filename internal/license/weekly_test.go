package license

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetwatch/control-plane/pkg/types"
)

func TestRenderWeeklyDigestListsUpcomingRenewals(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	assets := []types.LicenseAsset{
		{Name: "VoIP trunk license", RenewalDate: now.Add(10 * 24 * time.Hour)},
		{Name: "far out license", RenewalDate: now.Add(90 * 24 * time.Hour)},
	}
	checks := []types.SyntheticCheck{
		{Name: "public site", SSL: true, LastSSLResult: &types.SSLOutcome{DaysToExpiry: 5}},
		{Name: "internal tool", SSL: true, LastSSLResult: &types.SSLOutcome{DaysToExpiry: 200}},
		{Name: "http only", SSL: false},
	}

	body := renderWeeklyDigest(assets, checks, now)

	if !strings.Contains(body, "VoIP trunk license renews in 10 days") {
		t.Errorf("expected near-term license renewal in digest, got:\n%s", body)
	}
	if strings.Contains(body, "far out license") {
		t.Errorf("license renewing in 90 days should be excluded, got:\n%s", body)
	}
	if !strings.Contains(body, "public site expires in 5 days") {
		t.Errorf("expected near-term SSL expiry in digest, got:\n%s", body)
	}
	if strings.Contains(body, "internal tool") {
		t.Errorf("SSL cert expiring in 200 days should be excluded, got:\n%s", body)
	}
	if strings.Contains(body, "http only") {
		t.Errorf("non-SSL check should never appear, got:\n%s", body)
	}
}

func TestRenderWeeklyDigestHandlesNoneUpcoming(t *testing.T) {
	now := time.Now()
	body := renderWeeklyDigest(nil, nil, now)

	if !strings.Contains(body, "none due within 30 days") {
		t.Errorf("expected 'none due' fallback text, got:\n%s", body)
	}
}
