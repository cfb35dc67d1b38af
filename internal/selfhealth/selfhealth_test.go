package selfhealth

import "testing"

func TestSampleReportsKnownStatusAndGoroutines(t *testing.T) {
	s := New()
	snap := s.Sample()
	if snap.Status != "healthy" && snap.Status != "degraded" {
		t.Fatalf("unexpected status %q", snap.Status)
	}
	if snap.Goroutines <= 0 {
		t.Errorf("expected at least 1 goroutine, got %d", snap.Goroutines)
	}
}
