package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/status"
)

// PollUI shows one spinner per stream while a job is polled.
type PollUI struct {
	out        io.Writer
	isTerminal bool

	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[models.StreamKind]*mpb.Bar
	files    map[models.StreamKind]int
	last     map[models.StreamKind]string
}

// NewPollUI creates a poll display writing to out.
func NewPollUI(out *os.File) *PollUI {
	isTerminal := term.IsTerminal(int(out.Fd()))
	if isTerminal {
		enableWindowsANSI(out)
	}
	return newPollUI(out, isTerminal)
}

func newPollUI(out io.Writer, isTerminal bool) *PollUI {
	return &PollUI{
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[models.StreamKind]*mpb.Bar),
		files:      make(map[models.StreamKind]int),
		last:       make(map[models.StreamKind]string),
	}
}

func (u *PollUI) ensureBars(jobID int64) {
	if u.progress != nil || !u.isTerminal {
		return
	}
	u.progress = mpb.New(
		mpb.WithOutput(u.out),
		mpb.WithRefreshRate(300*time.Millisecond),
	)
	for _, s := range models.Streams {
		stream := s
		u.bars[stream] = u.progress.New(0, mpb.SpinnerStyle(),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("job %d %-6s", jobID, stream), decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string {
					u.mu.Lock()
					defer u.mu.Unlock()
					if u.last[stream] == "" {
						return "waiting"
					}
					return fmt.Sprintf("%d archive(s), last %s", u.files[stream], u.last[stream])
				}, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}
}

// StreamPolled records the outcome of one stream in one round.
// file is empty unless an archive was written.
func (u *PollUI) StreamPolled(jobID int64, stream models.StreamKind, round int, code status.Code, file string, done bool) {
	u.mu.Lock()
	u.ensureBars(jobID)
	if file != "" {
		u.files[stream]++
		u.last[stream] = file
	}
	bar := u.bars[stream]
	u.mu.Unlock()

	if !u.isTerminal {
		switch {
		case file != "":
			fmt.Fprintf(u.out, "job %d %s round %d: saved %s\n", jobID, stream, round, file)
		case done:
			fmt.Fprintf(u.out, "job %d %s: complete\n", jobID, stream)
		}
		return
	}
	if bar != nil && done {
		bar.SetTotal(-1, true)
	}
}

// PollFinished tears the display down. err is nil when the job completed.
func (u *PollUI) PollFinished(jobID int64, err error) {
	u.mu.Lock()
	p := u.progress
	bars := u.bars
	infoFiles, outputFiles := u.files[models.StreamInfo], u.files[models.StreamOutput]
	u.mu.Unlock()

	if p != nil {
		for _, bar := range bars {
			if err != nil {
				bar.Abort(false)
			} else {
				bar.SetTotal(-1, true)
			}
		}
		p.Wait()
	}

	if err != nil {
		fmt.Fprintf(u.out, "✗ job %d: polling stopped: %v\n", jobID, err)
		return
	}
	fmt.Fprintf(u.out, "✓ job %d: polling finished, %d info and %d output archive(s) saved\n", jobID, infoFiles, outputFiles)
}
