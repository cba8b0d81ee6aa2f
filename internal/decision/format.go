package decision

import (
	"fmt"
	"math"
)

// FormatDistance renders meters as "240m" below a kilometer and "1.2km" above
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// FormatDuration renders seconds as "30s", "2m" or "2m 30s"
func FormatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(math.Round(seconds)))
	}
	minutes := int(seconds / 60)
	rest := int(math.Round(math.Mod(seconds, 60)))
	if rest == 60 {
		minutes++
		rest = 0
	}
	if rest == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, rest)
}
