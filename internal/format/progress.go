package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// etaSmoothing is the weight of the newest rate sample in the moving
	// average.
	etaSmoothing = 0.3
	// maxETA caps projections for jobs that barely move.
	maxETA = 24 * time.Hour
)

// ETATracker projects the remaining time of a job from successive progress
// readings in [0, 1]. The rate is an exponential moving average so that a
// burst of fast tiles does not make the estimate jump. It is not safe for
// concurrent use.
type ETATracker struct {
	startTime    time.Time
	lastTime     time.Time
	lastProgress float64
	progressRate float64
	now          func() time.Time
}

// NewETATracker starts a tracker at the current time.
func NewETATracker() *ETATracker {
	return newETATracker(time.Now)
}

func newETATracker(now func() time.Time) *ETATracker {
	start := now()
	return &ETATracker{startTime: start, lastTime: start, now: now}
}

// Update records a progress reading and returns the new ETA. Readings are
// clamped to [0, 1]; a reading lower than the previous one is ignored.
func (e *ETATracker) Update(progress float64) time.Duration {
	progress = clamp01(progress)
	now := e.now()
	if progress > e.lastProgress {
		if dt := now.Sub(e.lastTime).Seconds(); dt > 0 {
			rate := (progress - e.lastProgress) / dt
			if e.progressRate == 0 {
				e.progressRate = rate
			} else {
				e.progressRate = etaSmoothing*rate + (1-etaSmoothing)*e.progressRate
			}
		}
		e.lastProgress = progress
		e.lastTime = now
	}
	return e.ETA()
}

// Progress returns the last accepted reading.
func (e *ETATracker) Progress() float64 { return e.lastProgress }

// Elapsed returns the time since the tracker started.
func (e *ETATracker) Elapsed() time.Duration { return e.now().Sub(e.startTime) }

// ETA returns the projected remaining time, 0 while no rate is known.
func (e *ETATracker) ETA() time.Duration {
	if e.progressRate <= 0 || e.lastProgress >= 1 {
		return 0
	}
	seconds := (1 - e.lastProgress) / e.progressRate
	if seconds > maxETA.Seconds() {
		return maxETA
	}
	return time.Duration(seconds * float64(time.Second))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// FormatETA renders an ETA compactly: "< 1s", "45s", "2m30s", "1h15m".
func FormatETA(eta time.Duration) string {
	switch {
	case eta <= 0:
		return "calculating..."
	case eta < time.Second:
		return "< 1s"
	case eta < time.Minute:
		return fmt.Sprintf("%ds", int(eta.Seconds()))
	case eta < time.Hour:
		m, s := int(eta.Minutes()), int(eta.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h, m := int(eta.Hours()), int(eta.Minutes())%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// ProgressBar renders a bar of the given length, clamping progress to
// [0, 1].
func ProgressBar(progress float64, length int) string {
	filled := int(clamp01(progress) * float64(length))
	return strings.Repeat("█", filled) + strings.Repeat("░", length-filled)
}

// FormatProgressBarWithETA renders "[bar] 42.0% ETA: 1m5s".
func FormatProgressBarWithETA(progress float64, eta time.Duration, width int) string {
	return fmt.Sprintf("[%s] %5.1f%% ETA: %s", ProgressBar(progress, width), clamp01(progress)*100, FormatETA(eta))
}

// FormatNumberString inserts thousands separators into a decimal string.
func FormatNumberString(s string) string {
	if s == "" {
		return s
	}
	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}
	n := len(s)
	if n <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.Grow(n + n/3 + 1)
	b.WriteString(sign)
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > len(sign) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int) string {
	return FormatNumberString(fmt.Sprint(n))
}
