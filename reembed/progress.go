package reembed

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressTracker reports re-embedding progress on a terminal bar.
type ProgressTracker struct {
	w         io.Writer
	bar       *progressbar.ProgressBar
	total     int
	processed int
	startTime time.Time
}

// NewProgressTracker creates a tracker writing to w. A nil writer discards output.
func NewProgressTracker(w io.Writer) *ProgressTracker {
	if w == nil {
		w = io.Discard
	}
	return &ProgressTracker{w: w}
}

// Start resets the tracker for total entries.
func (pt *ProgressTracker) Start(total int) {
	pt.total = total
	pt.processed = 0
	pt.startTime = time.Now()
	pt.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(pt.w),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Re-embedding"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(pt.w)
		}),
	)
}

// Add records n more processed entries.
func (pt *ProgressTracker) Add(n int) {
	pt.processed += n
	if pt.bar != nil {
		_ = pt.bar.Add(n)
	}
}

// Processed returns the number of entries recorded so far.
func (pt *ProgressTracker) Processed() int {
	return pt.processed
}

// Elapsed returns the time since Start.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// Finish completes the bar.
func (pt *ProgressTracker) Finish() {
	if pt.bar != nil {
		_ = pt.bar.Finish()
	}
}
