package format

import (
	"strings"
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// TestNewETATracker verifies proper initialization.
func TestNewETATracker(t *testing.T) {
	t.Parallel()
	e := NewETATracker()
	if e.startTime.IsZero() {
		t.Error("startTime should not be zero")
	}
	if e.progressRate != 0 || e.ETA() != 0 {
		t.Errorf("fresh tracker should have no rate, got %f / %v", e.progressRate, e.ETA())
	}
}

// TestETATrackerUpdate verifies rate smoothing and the projection.
func TestETATrackerUpdate(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newETATracker(clock.now)

	clock.advance(10 * time.Second)
	eta := e.Update(0.25)
	// 25% in 10s leaves 75% at 2.5%/s.
	if diff := eta - 30*time.Second; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("ETA = %v, want 30s", eta)
	}

	clock.advance(10 * time.Second)
	e.Update(0.75)
	// New sample 5%/s, smoothed: 0.3*0.05 + 0.7*0.025 = 0.0325/s.
	rate := 0.0325
	want := time.Duration(0.25 / rate * float64(time.Second))
	if diff := e.ETA() - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("ETA = %v, want %v", e.ETA(), want)
	}
	if e.Elapsed() != 20*time.Second {
		t.Errorf("Elapsed() = %v", e.Elapsed())
	}

	clock.advance(time.Second)
	if e.Update(1) != 0 {
		t.Error("ETA should be 0 once complete")
	}
}

// TestETATrackerEdgeCases verifies clamping and regressions.
func TestETATrackerEdgeCases(t *testing.T) {
	t.Parallel()
	t.Run("Progress exceeds 1.0", func(t *testing.T) {
		t.Parallel()
		e := NewETATracker()
		e.Update(1.5)
		if e.Progress() != 1 {
			t.Errorf("progress should be clamped to 1, got %f", e.Progress())
		}
	})

	t.Run("Negative progress", func(t *testing.T) {
		t.Parallel()
		e := NewETATracker()
		e.Update(-0.5)
		if e.Progress() != 0 {
			t.Errorf("progress should be clamped to 0, got %f", e.Progress())
		}
	})

	t.Run("Progress going backwards is ignored", func(t *testing.T) {
		t.Parallel()
		clock := &fakeClock{t: time.Unix(0, 0)}
		e := newETATracker(clock.now)
		clock.advance(time.Second)
		e.Update(0.5)
		clock.advance(time.Second)
		e.Update(0.2)
		if e.Progress() != 0.5 {
			t.Errorf("progress = %f, want 0.5", e.Progress())
		}
	})
}

// TestETACapping verifies that ETA is capped at reasonable values.
func TestETACapping(t *testing.T) {
	t.Parallel()
	e := NewETATracker()
	e.lastProgress = 0.001
	e.progressRate = 0.0000001

	if eta := e.ETA(); eta > maxETA {
		t.Errorf("ETA = %v, should be capped at %v", eta, maxETA)
	}
}

// TestFormatETA verifies ETA formatting.
func TestFormatETA(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		eta      time.Duration
		expected string
	}{
		{"Zero duration", 0, "calculating..."},
		{"Negative duration", -time.Second, "calculating..."},
		{"Less than a second", 500 * time.Millisecond, "< 1s"},
		{"One second", time.Second, "1s"},
		{"Multiple seconds", 45 * time.Second, "45s"},
		{"One minute", time.Minute, "1m"},
		{"Minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"One hour", time.Hour, "1h"},
		{"Hours and minutes", time.Hour + 15*time.Minute, "1h15m"},
		{"Multiple hours", 3*time.Hour + 45*time.Minute, "3h45m"},
		{"Hours only (no minutes)", 2 * time.Hour, "2h"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := FormatETA(tc.eta)
			if result != tc.expected {
				t.Errorf("FormatETA(%v) = %q, want %q", tc.eta, result, tc.expected)
			}
		})
	}
}

// TestFormatProgressBarWithETA verifies combined progress and ETA formatting.
func TestFormatProgressBarWithETA(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name        string
		progress    float64
		eta         time.Duration
		width       int
		containsETA bool
		containsPct bool
	}{
		{
			name:        "Zero progress",
			progress:    0,
			eta:         time.Minute,
			width:       10,
			containsETA: true,
			containsPct: true,
		},
		{
			name:        "50% progress",
			progress:    0.5,
			eta:         30 * time.Second,
			width:       20,
			containsETA: true,
			containsPct: true,
		},
		{
			name:        "Complete",
			progress:    1.0,
			eta:         0,
			width:       10,
			containsETA: true,
			containsPct: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := FormatProgressBarWithETA(tc.progress, tc.eta, tc.width)

			if tc.containsETA {
				if !strings.Contains(result, "ETA:") {
					t.Errorf("FormatProgressBarWithETA result should contain 'ETA:', got %q", result)
				}
			}
			if tc.containsPct {
				if !strings.Contains(result, "%") {
					t.Errorf("FormatProgressBarWithETA result should contain '%%', got %q", result)
				}
			}
			// Should contain progress bar characters
			if !strings.Contains(result, "[") || !strings.Contains(result, "]") {
				t.Errorf("FormatProgressBarWithETA result should contain progress bar brackets, got %q", result)
			}
		})
	}
}

// TestProgressBar verifies progress bar rendering.
func TestProgressBar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		progress float64
		length   int
		expected string
	}{
		{0.0, 10, "\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591"},
		{0.5, 10, "\u2588\u2588\u2588\u2588\u2588\u2591\u2591\u2591\u2591\u2591"},
		{1.0, 10, "\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588"},
		{1.2, 10, "\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588\u2588"}, // Cap at 1.0
		{-0.1, 10, "\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591\u2591"},  // Floor at 0.0
	}

	for _, tt := range tests {
		got := ProgressBar(tt.progress, tt.length)
		if got != tt.expected {
			t.Errorf("ProgressBar(%f, %d) = %s; want %s", tt.progress, tt.length, got, tt.expected)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0µs"},
		{850 * time.Microsecond, "850µs"},
		{42*time.Millisecond + 900*time.Microsecond, "42ms"},
		{1500 * time.Millisecond, "1.5s"},
		{12345 * time.Millisecond, "12.35s"},
		{3*time.Minute + 7*time.Second + 400*time.Millisecond, "3m7s"},
		{2 * time.Hour, "2h0m0s"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBudget(t *testing.T) {
	t.Parallel()
	for d, want := range map[time.Duration]string{
		0:                "none",
		-time.Second:     "none",
		10 * time.Minute: "10m0s",
	} {
		if got := FormatBudget(d); got != want {
			t.Errorf("FormatBudget(%v) = %q, want %q", d, got, want)
		}
	}
}

// TestFormatNumberString verifies thousand separator formatting.
func TestFormatNumberString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"1", "1"},
		{"12", "12"},
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"-1234", "-1,234"},
	}

	for _, tt := range tests {
		got := FormatNumberString(tt.input)
		if got != tt.expected {
			t.Errorf("FormatNumberString(%q) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

// TestFormatCount verifies integer formatting.
func TestFormatCount(t *testing.T) {
	t.Parallel()
	if got := FormatCount(1048576); got != "1,048,576" {
		t.Errorf("FormatCount() = %q", got)
	}
}
