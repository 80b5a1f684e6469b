package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/axsddlr/prsync/internal/stats"
)

// FormatDuration formats an elapsed duration compactly.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// CompletionSummary renders the final one-line run summary.
func CompletionSummary(s stats.Snapshot) string {
	if s.BucketsTotal == 0 {
		return "nothing to transfer"
	}
	summary := fmt.Sprintf("transferred %d/%d buckets (%s files, %s) in %s",
		s.BucketsDone, s.BucketsTotal,
		FormatCount(s.FilesSent), stats.FormatBytes(s.BytesSent),
		FormatDuration(s.Elapsed),
	)
	if s.BucketsFailed > 0 {
		summary += fmt.Sprintf(", %d failed", s.BucketsFailed)
	}
	return summary
}
