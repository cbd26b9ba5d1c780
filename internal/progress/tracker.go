package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker shows per-table sync progress on the terminal.
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker for the given phase label and table count.
func New(label string, tables int) *Tracker {
	t := &Tracker{
		total:     int64(tables),
		startTime: time.Now(),
	}
	t.bar = progressbar.NewOptions64(
		t.total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tables"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return t
}

// TableDone marks one table finished, successful or not.
func (t *Tracker) TableDone() {
	t.current.Add(1)
	if t.bar != nil {
		t.bar.Add64(1)
	}
}

// Finish completes the bar and prints the phase summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	fmt.Println()
	fmt.Printf("Processed %d of %d tables in %s\n",
		t.current.Load(), t.total, elapsed.Round(time.Second))
}
