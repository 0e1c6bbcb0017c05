// Package poll retrieves the results of a running job round by round until
// both of its streams report completion.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
	"github.com/rescale/jobshell/internal/validation"
)

// Phase is the lifecycle of one poll run.
type Phase int

const (
	Running Phase = iota
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Downloader fetches incremental archives. *session.Client implements it.
type Downloader interface {
	DownloadSince(ctx context.Context, req session.DeltaRequest) (session.Delta, error)
}

// Observer is told about every stream of every round and about the end of
// the run. progress.PollUI implements it.
type Observer interface {
	StreamPolled(jobID int64, stream models.StreamKind, round int, code status.Code, file string, done bool)
	PollFinished(jobID int64, err error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Job names the job to poll and where its archives go.
type Job struct {
	ID int64
	// Out is the base output path; round files are derived from it.
	Out       string
	Overwrite bool
}

// State is the progress of one run. It is never shared between runs.
type State struct {
	JobID int64
	Base  string
	Ext   string
	// InfoRound and OutputRound are the numbers the next archive of each
	// stream will be written under. They start at the first unused number.
	InfoRound   int
	OutputRound int
	InfoDone    bool
	OutputDone  bool
	// Saved counts the archives written by this run.
	Saved int
	Phase Phase
}

// newState numbers the first round of each stream after any round file
// already on disk, so an earlier poll's archives are never replaced.
func newState(job Job) *State {
	base, ext := validation.SplitExtension(job.Out)
	st := &State{
		JobID:       job.ID,
		Base:        base,
		Ext:         ext,
		InfoRound:   1,
		OutputRound: 1,
		Phase:       Running,
	}
	for _, stream := range models.Streams {
		for validation.PathExists(st.FileName(stream)) {
			st.advance(stream)
		}
	}
	return st
}

// FileName returns the path the next archive of stream is written to.
func (s *State) FileName(stream models.StreamKind) string {
	return fmt.Sprintf("%s-%s-%d%s", s.Base, stream, s.round(stream), s.Ext)
}

func (s *State) round(stream models.StreamKind) int {
	if stream == models.StreamInfo {
		return s.InfoRound
	}
	return s.OutputRound
}

func (s *State) advance(stream models.StreamKind) {
	if stream == models.StreamInfo {
		s.InfoRound++
	} else {
		s.OutputRound++
	}
}

func (s *State) done(stream models.StreamKind) bool {
	if stream == models.StreamInfo {
		return s.InfoDone
	}
	return s.OutputDone
}

func (s *State) markDone(stream models.StreamKind) {
	if stream == models.StreamInfo {
		s.InfoDone = true
	} else {
		s.OutputDone = true
	}
}

// Poller drives the incremental retrieval of one job at a time.
type Poller struct {
	Downloader Downloader
	Tracker    *tracker.Tracker
	Interval   time.Duration
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
	// Observer is optional.
	Observer Observer
	// MaxRounds stops the run after that many rounds when positive.
	MaxRounds int
	Logger    *logging.Logger
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls job until both streams are complete, an error occurs, or the
// context is cancelled. It returns status.JobDone with a nil error once
// everything has been retrieved. On MaxRounds exhaustion it returns
// status.OK with the state still Running.
func (p *Poller) Run(ctx context.Context, job Job) (*State, status.Code, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	st := newState(job)
	logger.Debug().
		Int64("job", job.ID).
		Str("out", job.Out).
		Dur("interval", p.Interval).
		Msg("Polling started")

	for round := 1; ; round++ {
		for _, stream := range models.Streams {
			if st.done(stream) {
				continue
			}
			if err := p.pollStream(ctx, st, job, stream, round); err != nil {
				st.Phase = Failed
				logger.Error().Err(err).Int64("job", job.ID).Str("stream", string(stream)).Int("round", round).Msg("Polling failed")
				p.finish(job.ID, err)
				return st, status.CodeOf(err), err
			}
		}

		if st.InfoDone && st.OutputDone {
			st.Phase = Done
			logger.Info().Int64("job", job.ID).Int("rounds", round).Msg("All results retrieved")
			p.finish(job.ID, nil)
			return st, status.JobDone, nil
		}
		if p.MaxRounds > 0 && round >= p.MaxRounds {
			logger.Debug().Int64("job", job.ID).Int("rounds", round).Msg("Round limit reached")
			p.finish(job.ID, nil)
			return st, status.OK, nil
		}

		if err := sleep(ctx, p.Interval); err != nil {
			st.Phase = Failed
			err = status.Wrap(status.ServerError, err)
			p.finish(job.ID, err)
			return st, status.ServerError, err
		}
	}
}

func (p *Poller) pollStream(ctx context.Context, st *State, job Job, stream models.StreamKind, round int) error {
	file := st.FileName(stream)
	since := p.Tracker.Get(tracker.Key{JobID: job.ID, Stream: stream})

	d, err := p.Downloader.DownloadSince(ctx, session.DeltaRequest{
		JobID:     job.ID,
		Stream:    stream,
		Since:     since,
		Dest:      file,
		Overwrite: job.Overwrite,
	})
	if err != nil {
		return err
	}

	written := ""
	if d.Status == status.OK {
		written = file
		st.advance(stream)
		st.Saved++
	}
	if d.JobDone {
		st.markDone(stream)
	}
	if p.Observer != nil {
		p.Observer.StreamPolled(job.ID, stream, round, d.Status, written, d.JobDone)
	}
	return nil
}

func (p *Poller) finish(jobID int64, err error) {
	if p.Observer != nil {
		p.Observer.PollFinished(jobID, err)
	}
}
