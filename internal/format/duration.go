package format

import (
	"fmt"
	"time"
)

// FormatElapsed renders a job or tile duration. Sub-second values keep
// their unit ("850µs", "42ms"), values under a minute keep two decimals
// ("1.5s", "12.34s") and longer ones are rounded to the second ("3m7s").
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// FormatBudget renders a job time budget, where zero means unbounded.
func FormatBudget(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}
