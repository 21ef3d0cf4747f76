package pool

import (
	"testing"
	"time"
)

func testConfig() Config {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Config{
		StartTime:  start,
		EndTime:    start.Add(30 * 24 * time.Hour),
		LoanAmount: 10_000_000,
		LoanPeriod: 7 * 24 * time.Hour,
	}
}

func TestPhaseAtBoundaries(t *testing.T) {
	cfg := testConfig()
	cooldown := cfg.EndTime.Add(-cfg.LoanPeriod)

	cases := []struct {
		name string
		now  time.Time
		want Phase
	}{
		{"before start", cfg.StartTime.Add(-time.Second), PhaseWarmup},
		{"at start", cfg.StartTime, PhaseActive},
		{"mid active", cfg.StartTime.Add(10 * 24 * time.Hour), PhaseActive},
		{"just before cooldown", cooldown.Add(-time.Second), PhaseActive},
		{"at cooldown boundary", cooldown, PhaseCooldown},
		{"just before end", cfg.EndTime.Add(-time.Second), PhaseCooldown},
		{"at end", cfg.EndTime, PhaseEnded},
		{"after end", cfg.EndTime.Add(time.Hour), PhaseEnded},
	}

	for _, tc := range cases {
		if got := PhaseAt(tc.now, cfg); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseWarmup.String() != "warmup" || PhaseEnded.String() != "ended" {
		t.Fatalf("unexpected phase names")
	}
}
