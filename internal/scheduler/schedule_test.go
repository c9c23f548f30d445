package scheduler

import (
	"testing"
	"time"
)

func TestComputeNextRunFixedInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval int
		want     time.Time
	}{
		{"one hour", 3600, now.Add(time.Hour)},
		{"five minutes", 300, now.Add(5 * time.Minute)},
		{"one second", 1, now.Add(time.Second)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun("", tt.interval, now)
			if err != nil {
				t.Fatalf("ComputeNextRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("next = %v, want exactly %v", got, tt.want)
			}
		})
	}
}

func TestComputeNextRunCron(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		name string
		spec string
	}{
		{"five field daily", "0 3 * * *"},
		{"five field weekly", "0 5 * * 1"},
		{"six field with seconds", "30 */5 * * * *"},
		{"descriptor daily", "@daily"},
		{"descriptor every", "@every 90s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			first, err := ComputeNextRun(tt.spec, 0, now)
			if err != nil {
				t.Fatalf("ComputeNextRun(%q): %v", tt.spec, err)
			}
			if !first.After(now) {
				t.Fatalf("next %v not strictly after %v", first, now)
			}
			// Feeding the result back in must keep moving forward.
			second, err := ComputeNextRun(tt.spec, 0, first)
			if err != nil {
				t.Fatalf("ComputeNextRun(%q) second call: %v", tt.spec, err)
			}
			if !second.After(first) {
				t.Fatalf("second occurrence %v not after first %v", second, first)
			}
		})
	}
}

func TestComputeNextRunCronWinsOverInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	got, err := ComputeNextRun("0 3 * * *", 60, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next = %v, want the cron time %v, not now+interval", got, want)
	}
}

func TestComputeNextRunRejectsInvalid(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name     string
		spec     string
		interval int
	}{
		{"garbage expression", "not a cron", 0},
		{"too many fields", "* * * * * * *", 0},
		{"out of range minute", "61 * * * *", 0},
		{"no schedule at all", "", 0},
		{"negative interval", "", -5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeNextRun(tt.spec, tt.interval, now); err == nil {
				t.Fatalf("ComputeNextRun(%q, %d) accepted an invalid schedule", tt.spec, tt.interval)
			}
		})
	}
}
