package dashboard

import (
	"fmt"
	"time"
)

// RelativeTime はthenからnowまでの経過時間を"Just now"、"5m ago"、"3h ago"、"2d ago"の形式で返す。
// 未来の時刻は"Just now"として扱う。
func RelativeTime(now, then time.Time) string {
	d := now.Sub(then)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
