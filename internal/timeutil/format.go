package timeutil

import (
	"fmt"
	"time"
)

// FormatAgo describes how long before now t happened, for history listings.
// Anything older than a week is shown as a date.
func FormatAgo(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	elapsed := now.Sub(t)
	if elapsed < 0 {
		elapsed = 0
	}

	seconds := int(elapsed.Seconds())
	minutes := int(elapsed.Minutes())
	hours := int(elapsed.Hours())
	days := hours / 24

	switch {
	case seconds < 30:
		return "just now"
	case seconds < 90:
		return "a minute ago"
	case minutes < 45:
		return fmt.Sprintf("%d minutes ago", minutes)
	case minutes < 90:
		return "an hour ago"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case t.Year() == now.Year():
		return fmt.Sprintf("on %s", t.Format("Jan 2"))
	default:
		return fmt.Sprintf("on %s", t.Format("Jan 2 2006"))
	}
}

// FormatDuration formats a handler run time compactly.
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
