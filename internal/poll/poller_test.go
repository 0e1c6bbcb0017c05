package poll

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/session/sessiontest"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
)

// step is one scripted DownloadSince answer.
type step struct {
	delta session.Delta
	err   error
}

type scriptedDownloader struct {
	mu      sync.Mutex
	tracker *tracker.Tracker
	script  map[models.StreamKind][]step
	calls   []session.DeltaRequest
}

func (d *scriptedDownloader) DownloadSince(_ context.Context, req session.DeltaRequest) (session.Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	steps := d.script[req.Stream]
	if len(steps) == 0 {
		return session.Delta{Status: status.NoNewData}, nil
	}
	s := steps[0]
	d.script[req.Stream] = steps[1:]
	if s.err == nil && s.delta.Status == status.OK {
		d.tracker.Advance(tracker.Key{JobID: req.JobID, Stream: req.Stream}, s.delta.MaxIndex)
	}
	return s.delta, s.err
}

type polledEvent struct {
	stream models.StreamKind
	round  int
	code   status.Code
	file   string
	done   bool
}

type recordingObserver struct {
	events   []polledEvent
	finished []error
}

func (o *recordingObserver) StreamPolled(_ int64, stream models.StreamKind, round int, code status.Code, file string, done bool) {
	o.events = append(o.events, polledEvent{stream, round, code, file, done})
}

func (o *recordingObserver) PollFinished(_ int64, err error) {
	o.finished = append(o.finished, err)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRun_RoundFileNames(t *testing.T) {
	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{
		models.StreamInfo: {
			{delta: session.Delta{Status: status.OK, MaxIndex: 2}},
			{delta: session.Delta{Status: status.NoNewData, MaxIndex: 2}},
			{delta: session.Delta{Status: status.OK, MaxIndex: 3, JobDone: true}},
		},
		models.StreamOutput: {
			{delta: session.Delta{Status: status.OK, MaxIndex: 1}},
			{delta: session.Delta{Status: status.OK, MaxIndex: 4}},
			{delta: session.Delta{Status: status.NoNewData, MaxIndex: 4, JobDone: true}},
		},
	}}
	obs := &recordingObserver{}
	p := &Poller{Downloader: dl, Tracker: tr, Interval: time.Second, Sleep: noSleep, Observer: obs}

	st, code, err := p.Run(context.Background(), Job{ID: 7, Out: "/tmp/res.tar.gz"})
	require.NoError(t, err)
	assert.Equal(t, status.JobDone, code)
	assert.Equal(t, Done, st.Phase)
	assert.Equal(t, "/tmp/res", st.Base)
	assert.Equal(t, ".tar.gz", st.Ext)
	assert.Equal(t, 3, st.InfoRound)
	assert.Equal(t, 3, st.OutputRound)
	assert.Equal(t, 4, st.Saved)

	var files []string
	for _, ev := range obs.events {
		if ev.file != "" {
			files = append(files, ev.file)
		}
	}
	assert.Equal(t, []string{
		"/tmp/res-info-1.tar.gz",
		"/tmp/res-output-1.tar.gz",
		"/tmp/res-output-2.tar.gz",
		"/tmp/res-info-2.tar.gz",
	}, files)
	assert.Equal(t, []error{nil}, obs.finished)

	// since follows the tracker.
	require.Len(t, dl.calls, 6)
	assert.EqualValues(t, 0, dl.calls[0].Since)
	assert.EqualValues(t, 2, dl.calls[2].Since)
	assert.EqualValues(t, 1, dl.calls[3].Since)
	assert.EqualValues(t, 4, dl.calls[5].Since)
}

func TestRun_DoneStreamIsNotPolledAgain(t *testing.T) {
	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{
		models.StreamInfo: {
			{delta: session.Delta{Status: status.NoNewData, JobDone: true}},
		},
		models.StreamOutput: {
			{delta: session.Delta{Status: status.NoNewData}},
			{delta: session.Delta{Status: status.NoNewData}},
			{delta: session.Delta{Status: status.OK, MaxIndex: 1, JobDone: true}},
		},
	}}
	p := &Poller{Downloader: dl, Tracker: tr, Sleep: noSleep}

	_, code, err := p.Run(context.Background(), Job{ID: 1, Out: "out.zip"})
	require.NoError(t, err)
	assert.Equal(t, status.JobDone, code)

	info := 0
	for _, c := range dl.calls {
		if c.Stream == models.StreamInfo {
			info++
		}
	}
	assert.Equal(t, 1, info)
	assert.Len(t, dl.calls, 4)
}

func TestRun_ErrorAbortsImmediately(t *testing.T) {
	tr := tracker.New()
	boom := status.New(status.ArchiveNotFound)
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{
		models.StreamInfo: {
			{err: boom},
		},
	}}
	obs := &recordingObserver{}
	slept := 0
	p := &Poller{Downloader: dl, Tracker: tr, Observer: obs, Sleep: func(context.Context, time.Duration) error {
		slept++
		return nil
	}}

	st, code, err := p.Run(context.Background(), Job{ID: 1, Out: "out.zip"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, status.ArchiveNotFound, code)
	assert.Equal(t, Failed, st.Phase)
	assert.Len(t, dl.calls, 1, "output stream must not be polled after a failure")
	assert.Zero(t, slept)
	require.Len(t, obs.finished, 1)
	assert.Error(t, obs.finished[0])
}

func TestRun_CancelDuringSleep(t *testing.T) {
	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Poller{Downloader: dl, Tracker: tr, Interval: time.Hour}
	st, code, err := p.Run(ctx, Job{ID: 1, Out: "out.zip"})
	assert.Equal(t, status.ServerError, code)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Failed, st.Phase)
}

func TestRun_MaxRounds(t *testing.T) {
	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{}}
	p := &Poller{Downloader: dl, Tracker: tr, Sleep: noSleep, MaxRounds: 3}

	st, code, err := p.Run(context.Background(), Job{ID: 1, Out: "out.zip"})
	require.NoError(t, err)
	assert.Equal(t, status.OK, code)
	assert.Equal(t, Running, st.Phase)
	assert.Len(t, dl.calls, 6)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestRun_AgainstServer(t *testing.T) {
	srv := sessiontest.NewServer(t, "alice", "s3cret")
	job := srv.AddJob("alice")
	srv.AddResult(job, models.StreamInfo, "boot")
	srv.AddResult(job, models.StreamOutput, "row 1")

	tr := tracker.New()
	client, err := session.New(session.Connection{BaseURL: srv.BaseURL, Username: "alice", Password: "s3cret"},
		session.Options{Config: config.New(), Tracker: tr, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background()))

	round := 0
	sleep := func(context.Context, time.Duration) error {
		round++
		switch round {
		case 1:
			srv.AddResult(job, models.StreamOutput, "row 2")
			srv.Complete(job, models.StreamInfo)
		case 2:
			srv.Complete(job, models.StreamOutput)
		}
		return nil
	}

	out := filepath.Join(t.TempDir(), "result.zip")
	p := &Poller{Downloader: client, Tracker: tr, Sleep: sleep, MaxRounds: 10}
	st, code, err := p.Run(context.Background(), Job{ID: job, Out: out})
	require.NoError(t, err)
	assert.Equal(t, status.JobDone, code)
	assert.Equal(t, Done, st.Phase)

	dir := filepath.Dir(out)
	assert.Equal(t, []string{"info-1.txt"}, sessiontest.ArchiveEntries(t, filepath.Join(dir, "result-info-1.zip")))
	assert.Equal(t, []string{"output-1.txt"}, sessiontest.ArchiveEntries(t, filepath.Join(dir, "result-output-1.zip")))
	assert.Equal(t, []string{"output-2.txt"}, sessiontest.ArchiveEntries(t, filepath.Join(dir, "result-output-2.zip")))
	assert.EqualValues(t, 2, tr.Get(tracker.Key{JobID: job, Stream: models.StreamOutput}))
	assert.EqualValues(t, 1, tr.Get(tracker.Key{JobID: job, Stream: models.StreamInfo}))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestRun_SkipsExistingRoundFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"r-info-1.zip", "r-info-2.zip", "r-output-1.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("earlier"), 0600))
	}

	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{
		models.StreamInfo:   {{delta: session.Delta{Status: status.OK, MaxIndex: 4, JobDone: true}}},
		models.StreamOutput: {{delta: session.Delta{Status: status.OK, MaxIndex: 2, JobDone: true}}},
	}}
	p := &Poller{Downloader: dl, Tracker: tr, Sleep: noSleep}

	st, code, err := p.Run(context.Background(), Job{ID: 3, Out: filepath.Join(dir, "r.zip"), Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, status.JobDone, code)
	assert.Equal(t, 2, st.Saved)
	require.Len(t, dl.calls, 2)
	assert.Equal(t, filepath.Join(dir, "r-info-3.zip"), dl.calls[0].Dest)
	assert.Equal(t, filepath.Join(dir, "r-output-2.zip"), dl.calls[1].Dest)

	for _, name := range []string{"r-info-1.zip", "r-info-2.zip", "r-output-1.zip"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "earlier", string(data))
	}
}

func TestRun_FirstRoundPartialData(t *testing.T) {
	tr := tracker.New()
	dl := &scriptedDownloader{tracker: tr, script: map[models.StreamKind][]step{
		models.StreamInfo: {
			{delta: session.Delta{Status: status.OK, MaxIndex: 5}},
		},
		models.StreamOutput: {
			{delta: session.Delta{Status: status.NoNewData, MaxIndex: 0}},
		},
	}}

	var sleeps, callsBeforeSleep int
	var infoIdx, outputIdx int64
	p := &Poller{
		Downloader: dl,
		Tracker:    tr,
		Interval:   time.Second,
		MaxRounds:  2,
		Sleep: func(context.Context, time.Duration) error {
			sleeps++
			if sleeps == 1 {
				infoIdx = tr.Get(tracker.Key{JobID: 9, Stream: models.StreamInfo})
				outputIdx = tr.Get(tracker.Key{JobID: 9, Stream: models.StreamOutput})
				callsBeforeSleep = len(dl.calls)
			}
			return nil
		},
	}

	st, code, err := p.Run(context.Background(), Job{ID: 9, Out: "r.zip"})
	require.NoError(t, err)
	assert.Equal(t, status.OK, code)

	assert.Equal(t, 1, sleeps, "one sleep between round 1 and round 2")
	assert.EqualValues(t, 5, infoIdx)
	assert.EqualValues(t, 0, outputIdx)
	assert.Equal(t, 2, callsBeforeSleep, "round 1 polls both streams before sleeping")
	assert.False(t, st.InfoDone)
	assert.False(t, st.OutputDone)
	assert.Equal(t, Running, st.Phase)
	require.Len(t, dl.calls, 4, "both streams polled again in round 2")
	assert.EqualValues(t, 5, dl.calls[2].Since)
	assert.EqualValues(t, 0, dl.calls[3].Since)
}
