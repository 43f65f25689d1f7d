package selfdestruct

import (
	"fmt"
	"time"

	"secure.mail/internal/models"
)

// Presets are the named self-destruct shortcuts offered to clients.
// MaxReads 0 without DeleteAfterRead means reads are not limited.
func Presets() map[string]models.SelfDestructConfig {
	return map[string]models.SelfDestructConfig{
		"1hour":      {Enabled: true, ExpiresAfter: time.Hour},
		"24hours":    {Enabled: true, ExpiresAfter: 24 * time.Hour},
		"7days":      {Enabled: true, ExpiresAfter: 7 * 24 * time.Hour},
		"readOnce":   {Enabled: true, DeleteAfterRead: true, MaxReads: 1},
		"read3Times": {Enabled: true, DeleteAfterRead: true, MaxReads: 3},
	}
}

// FormatRemaining renders a countdown such as "2d 3h" or "45s".
func FormatRemaining(ms int64) string {
	if ms <= 0 {
		return "expired"
	}
	d := time.Duration(ms) * time.Millisecond
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
