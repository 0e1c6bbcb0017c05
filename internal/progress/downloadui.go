package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// downloadBar renders one archive download with mpb. Each bar owns its own
// mpb.Progress so it can be waited on independently.
type downloadBar struct {
	out        io.Writer
	progress   *mpb.Progress
	bar        *mpb.Bar
	desc       string
	total      int64
	startTime  time.Time
	lastUpdate time.Time
	current    int64
}

func newDownloadBar(out io.Writer) *downloadBar {
	return &downloadBar{out: out}
}

// Start creates the bar. A non-positive total (no Content-Length) renders a
// spinner with a byte counter.
func (d *downloadBar) Start(total int64, description string) {
	d.desc = description
	d.total = total
	d.startTime = time.Now()
	d.lastUpdate = d.startTime
	d.progress = mpb.New(
		mpb.WithOutput(d.out),
		mpb.WithRefreshRate(300*time.Millisecond),
		mpb.WithWidth(60),
	)

	label := mpb.PrependDecorators(
		decor.Name(truncatePath(description, 2), decor.WCSyncSpaceR),
	)

	if total <= 0 {
		d.bar = d.progress.New(0, mpb.SpinnerStyle(),
			label,
			mpb.AppendDecorators(
				decor.CurrentKibiByte("% .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
		return
	}

	d.bar = d.progress.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		label,
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if s.Total == 0 {
					return fmt.Sprintf("%6.2f%%", 0.0)
				}
				return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// Update moves the bar to current bytes. EWMA is fed the elapsed time since
// the previous update so speed and ETA stay accurate.
func (d *downloadBar) Update(current int64) {
	if d.bar == nil {
		return
	}
	now := time.Now()
	d.bar.EwmaSetCurrent(current, now.Sub(d.lastUpdate))
	d.lastUpdate = now
	d.current = current
}

// Finish completes the bar and prints a summary line above it.
func (d *downloadBar) Finish() {
	if d.bar == nil {
		return
	}
	d.bar.SetTotal(-1, true)
	d.progress.Wait()

	elapsed := time.Since(d.startTime)
	speed := float64(d.current) / elapsed.Seconds() / (1024 * 1024)
	fmt.Fprintf(d.out, "✓ %s (%.1f MiB, %s, %.1f MiB/s)\n",
		truncatePath(d.desc, 2),
		float64(d.current)/(1024*1024),
		elapsed.Round(time.Second),
		speed)
}

// Error aborts the bar, leaving it visible, and prints the failure.
func (d *downloadBar) Error(err error) {
	if d.bar != nil {
		d.bar.Abort(false)
		d.progress.Wait()
	}
	fmt.Fprintf(d.out, "✗ %s: %v\n", truncatePath(d.desc, 2), err)
}

// truncatePath keeps the last maxComponents elements of path.
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return path
	}
	return filepath.Join(append([]string{"..."}, parts[len(parts)-maxComponents:]...)...)
}
