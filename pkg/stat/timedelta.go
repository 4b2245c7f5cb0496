package stat

import (
	"fmt"
	"math"
	"time"
)

// PrettyTimeDelta formats d as e.g. "1d2h3m4.5s", "1m5.0s" or "0.250s".
func PrettyTimeDelta(d time.Duration) string {
	seconds := d.Seconds()
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}

	days := math.Floor(seconds / 86400)
	seconds -= days * 86400
	hours := math.Floor(seconds / 3600)
	seconds -= hours * 3600
	minutes := math.Floor(seconds / 60)
	seconds -= minutes * 60

	switch {
	case days > 0:
		return fmt.Sprintf("%s%dd%dh%dm%.1fs", sign, int(days), int(hours), int(minutes), seconds)
	case hours > 0:
		return fmt.Sprintf("%s%dh%dm%.1fs", sign, int(hours), int(minutes), seconds)
	case minutes > 0:
		return fmt.Sprintf("%s%dm%.1fs", sign, int(minutes), seconds)
	default:
		return fmt.Sprintf("%s%.3fs", sign, seconds)
	}
}
