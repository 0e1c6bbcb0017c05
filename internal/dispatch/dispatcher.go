// Package dispatch turns command lines into session operations. It owns the
// current session, the completion tracker shared by every session, and the
// reconnect-once policy applied after each command.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rescale/jobshell/internal/command"
	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/constants"
	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/notify"
	"github.com/rescale/jobshell/internal/poll"
	"github.com/rescale/jobshell/internal/progress"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
	"github.com/rescale/jobshell/internal/validation"
)

// Outcome is the result of one command line.
type Outcome struct {
	Code status.Code
	// MissingParam names the absent parameter when Code is MissingParam.
	MissingParam string
	// Unnecessary lists ignored parameters. Reported even on success.
	Unnecessary []string
	// Message carries error detail for the user, if any.
	Message string
}

// Options configures a Dispatcher. Zero values get defaults.
type Options struct {
	Config   *config.Config
	Logger   *logging.Logger
	Out      io.Writer
	Progress progress.Sink
	// PollObserver returns the display for one poll run.
	PollObserver func() poll.Observer
	Notifier     *notify.Notifier
	Sleep        poll.SleepFunc
	// Connect overrides how sessions are created and logged in.
	Connect ConnectFunc
}

// Dispatcher executes command lines one at a time. It is not safe for
// concurrent use.
type Dispatcher struct {
	cfg          *config.Config
	logger       *logging.Logger
	out          io.Writer
	progress     progress.Sink
	pollObserver func() poll.Observer
	notifier     *notify.Notifier
	sleep        poll.SleepFunc

	tracker     *tracker.Tracker
	connect     ConnectFunc
	reconnector *Reconnector
	client      *session.Client
}

// New creates a dispatcher with no session.
func New(opts Options) *Dispatcher {
	if opts.Config == nil {
		opts.Config = config.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Progress == nil {
		opts.Progress = progress.NoOp{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewNotifier(false, opts.Logger)
	}

	d := &Dispatcher{
		cfg:          opts.Config,
		logger:       opts.Logger,
		out:          opts.Out,
		progress:     opts.Progress,
		pollObserver: opts.PollObserver,
		notifier:     opts.Notifier,
		sleep:        opts.Sleep,
		tracker:      tracker.New(),
	}
	d.connect = opts.Connect
	if d.connect == nil {
		d.connect = d.login
	}
	d.reconnector = &Reconnector{Connect: d.connect, Logger: d.logger}
	return d
}

// login builds a client that shares the dispatcher's tracker and logs it in.
func (d *Dispatcher) login(ctx context.Context, conn session.Connection) (*session.Client, error) {
	c, err := session.New(conn, session.Options{
		Config:   d.cfg,
		Tracker:  d.tracker,
		Logger:   d.logger,
		Progress: d.progress,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Tracker returns the completion tracker shared by every session.
func (d *Dispatcher) Tracker() *tracker.Tracker {
	return d.tracker
}

// LoggedIn reports whether a session is held.
func (d *Dispatcher) LoggedIn() bool {
	return d.client != nil
}

// Close logs out of any open session.
func (d *Dispatcher) Close(ctx context.Context) {
	if d.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, constants.LogoutTimeout)
	defer cancel()
	if err := d.client.Logout(ctx); err != nil {
		d.logger.Debugf("Logout on close failed: %v", err)
	}
	d.client.Close()
	d.client = nil
}

// Login opens a session without going through the command parser, so
// credentials may contain anything, including "key=" sequences.
func (d *Dispatcher) Login(ctx context.Context, conn session.Connection) Outcome {
	if d.client != nil {
		return Outcome{Code: status.ConnectionExists}
	}
	code, err := d.open(ctx, conn)
	out := Outcome{Code: code}
	if err != nil {
		out.Message = err.Error()
	}
	return out
}

// Execute runs one command line. Parsing and validation failures return
// before any request is sent.
func (d *Dispatcher) Execute(ctx context.Context, line string) Outcome {
	name, params, err := command.ExtractParams(line)
	if err != nil {
		return Outcome{Code: status.CodeOf(err), Message: err.Error()}
	}
	if name == "" {
		return Outcome{Code: status.OK}
	}

	cmd := command.Lookup(name)
	if cmd == command.Unknown {
		return Outcome{Code: status.BadCommand, Message: fmt.Sprintf("unknown command %q", name)}
	}

	res := validation.Validate(cmd, params)
	out := Outcome{Code: res.Code, MissingParam: res.MissingParam, Unnecessary: res.Unnecessary}
	if !res.OK() {
		return out
	}

	if cmd.NeedsSession() && d.client == nil {
		out.Code = status.NotLoggedIn
		return out
	}
	if cmd == command.Login && d.client != nil {
		out.Code = status.ConnectionExists
		return out
	}

	start := time.Now()
	code, err := d.run(ctx, cmd, params)
	out.Code = code
	if err != nil {
		out.Message = err.Error()
	}
	d.logger.Debug().
		Str("command", cmd.String()).
		Int("code", int(code)).
		Dur("elapsed", time.Since(start)).
		Msg("Command finished")

	if cmd.NeedsSession() && d.client != nil {
		fresh, rc := d.reconnector.Check(ctx, d.client)
		d.client = fresh
		if rc == status.ConnectionLost {
			out.Code = status.ConnectionLost
		}
	}
	return out
}

// run invokes the operation behind cmd. Validation has already passed, so
// parameter conversions here cannot fail.
func (d *Dispatcher) run(ctx context.Context, cmd command.Name, p command.Params) (status.Code, error) {
	switch cmd {
	case command.Exit:
		return status.Exit, nil
	case command.Help:
		return d.help(p)
	case command.Login:
		return d.doLogin(ctx, p)
	case command.Logout:
		return d.doLogout(ctx)
	case command.PushDataset:
		return d.pushDataset(ctx, p)
	case command.PushQuery:
		return d.pushQuery(ctx, p)
	case command.CreateJob:
		return d.createJob(ctx, p)
	case command.GetDataset:
		return d.getDataset(ctx, p)
	case command.GetJob:
		return d.getJob(ctx, p)
	case command.Poll:
		return d.poll(ctx, p)
	case command.Stat:
		return d.stat(ctx, p)
	case command.ListDatasets, command.ListQueries, command.ListJobs:
		return d.list(ctx, cmd, p)
	case command.SetVisibility:
		return d.setVisibility(ctx, p)
	case command.Pause, command.Resume:
		return d.pauseResume(ctx, cmd, p)
	case command.RemoveDataset, command.RemoveQuery, command.RemoveJob:
		return d.remove(ctx, cmd, p)
	case command.Unknown:
		return status.BadCommand, nil
	default:
		return status.BadCommand, fmt.Errorf("command %s has no handler", cmd)
	}
}

func result(err error, success status.Code) (status.Code, error) {
	if err != nil {
		return status.CodeOf(err), err
	}
	return success, nil
}
