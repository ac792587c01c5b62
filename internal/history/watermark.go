// Package history merges the live job queue with completed-job history files
// and hands callers a watermark for their next incremental poll.
package history

import (
	"fmt"
	"time"
)

// OverlapSeconds is subtracted from the current time when issuing a watermark
// and from the caller's watermark when selecting files, so jobs completing
// around the boundary are reported twice rather than never.
const OverlapSeconds = 2

// NextWatermark returns the completedSince value the caller should send next time.
func NextWatermark(now time.Time) int64 {
	return now.Unix() - OverlapSeconds
}

// Eligible reports whether a history file modified at modTime may hold jobs
// completed at or after completedSince.
func Eligible(modTime time.Time, completedSince int64) bool {
	return modTime.Unix() >= completedSince-OverlapSeconds
}

// Marker is the line separating live data from history data.
func Marker(next int64) string {
	return fmt.Sprintf("-- CompletedSince: %d\n", next)
}
