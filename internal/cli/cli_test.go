package cli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/dispatch"
	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/session/sessiontest"
	"github.com/rescale/jobshell/internal/status"
)

func init() {
	color.NoColor = true
}

func newTestDispatcher(t *testing.T) (*sessiontest.Server, *dispatch.Dispatcher, *bytes.Buffer) {
	t.Helper()
	srv := sessiontest.NewServer(t, "alice", "s3cret")
	cfg := config.New()
	cfg.BaseURL = srv.BaseURL
	cfg.Poll.MaxRounds = 10

	out := &bytes.Buffer{}
	d := dispatch.New(dispatch.Options{
		Config: cfg,
		Logger: logging.Discard(),
		Out:    out,
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})
	t.Cleanup(func() { d.Close(context.Background()) })
	return srv, d, out
}

func TestReporter(t *testing.T) {
	tests := []struct {
		name    string
		outcome dispatch.Outcome
		want    string
	}{
		{"ok prints nothing", dispatch.Outcome{Code: status.OK}, ""},
		{"exit prints nothing", dispatch.Outcome{Code: status.Exit}, ""},
		{"login", dispatch.Outcome{Code: status.Login}, "logged in\n"},
		{"error", dispatch.Outcome{Code: status.NotLoggedIn}, "error -22: not logged in\n"},
		{"error with detail", dispatch.Outcome{Code: status.ServerError, Message: "boom"}, "error -26: server error (boom)\n"},
		{
			"missing param",
			dispatch.Outcome{Code: status.MissingParam, MissingParam: "pass"},
			"missing parameter: pass\nerror -3: missing required parameter\n",
		},
		{
			"ignored params",
			dispatch.Outcome{Code: status.Logout, Unnecessary: []string{"x", "y"}},
			"warning: ignored parameter(s): x, y\nlogged out\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b bytes.Buffer
			newReporter(&b).report(tt.outcome)
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestRunShell(t *testing.T) {
	_, d, out := newTestDispatcher(t)

	input := strings.Join([]string{
		"# comment",
		"",
		"login user=alice pass=s3cret",
		"bogus",
		"logout",
		"exit",
		"login user=alice pass=s3cret",
	}, "\n")

	var rep bytes.Buffer
	err := runShell(context.Background(), d, strings.NewReader(input), newReporter(&rep), false)
	require.NoError(t, err)

	assert.Contains(t, rep.String(), "logged in\n")
	assert.Contains(t, rep.String(), "error -1: unknown command or bad command syntax\n")
	assert.Contains(t, rep.String(), "logged out\n")
	assert.Equal(t, 1, strings.Count(rep.String(), "logged in\n"), "lines after exit must not run")
	assert.False(t, d.LoggedIn())
	assert.Contains(t, out.String(), "logged in as alice")
}

func TestRunShell_Prompt(t *testing.T) {
	_, d, _ := newTestDispatcher(t)

	var rep bytes.Buffer
	err := runShell(context.Background(), d, strings.NewReader("help\n"), newReporter(&rep), true)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(rep.String(), "jobshell> "))
}

func TestRunShell_Cancelled(t *testing.T) {
	srv, d, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rep bytes.Buffer
	err := runShell(ctx, d, strings.NewReader("help\nlogin user=alice pass=s3cret\n"), newReporter(&rep), false)
	require.NoError(t, err)
	assert.Equal(t, 0, srv.Requests())
}

func TestRunShell_LongLine(t *testing.T) {
	_, d, _ := newTestDispatcher(t)
	line := "stat id=1 note=" + strings.Repeat("a", bufio.MaxScanTokenSize*2)

	var rep bytes.Buffer
	err := runShell(context.Background(), d, strings.NewReader(line+"\n"), newReporter(&rep), false)
	require.NoError(t, err)
	assert.Contains(t, rep.String(), "not logged in")
}

func TestRunScript(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		_, d, _ := newTestDispatcher(t)
		script := "login user=alice pass=s3cret\nlsj user=alice\nlogout\n"
		var rep bytes.Buffer
		require.NoError(t, runScript(context.Background(), d, strings.NewReader(script), newReporter(&rep), false))
	})

	t.Run("stops at first failure", func(t *testing.T) {
		_, d, _ := newTestDispatcher(t)
		script := "login user=alice pass=wrong\nlogin user=alice pass=s3cret\n"
		var rep bytes.Buffer
		err := runScript(context.Background(), d, strings.NewReader(script), newReporter(&rep), false)
		require.Error(t, err)
		assert.Equal(t, "line 1: bad username or password", err.Error())
		assert.False(t, d.LoggedIn())
	})

	t.Run("keep going counts failures", func(t *testing.T) {
		_, d, _ := newTestDispatcher(t)
		script := "stat id=1\nlogin user=alice pass=s3cret\nstat id=abc\nlogout\n"
		var rep bytes.Buffer
		err := runScript(context.Background(), d, strings.NewReader(script), newReporter(&rep), true)
		require.Error(t, err)
		assert.Equal(t, "2 command(s) failed", err.Error())
		assert.Contains(t, rep.String(), "logged out")
	})

	t.Run("exit ends the script", func(t *testing.T) {
		_, d, _ := newTestDispatcher(t)
		var rep bytes.Buffer
		err := runScript(context.Background(), d, strings.NewReader("exit\nbogus\n"), newReporter(&rep), false)
		require.NoError(t, err)
	})
}

func TestExecOne(t *testing.T) {
	srv, d, out := newTestDispatcher(t)
	job := srv.AddJob("alice")
	srv.AddResult(job, models.StreamOutput, "hello")
	srv.Complete(job, models.StreamInfo)
	srv.Complete(job, models.StreamOutput)

	dir := t.TempDir()
	conn := session.Connection{BaseURL: srv.BaseURL, Username: "alice", Password: "s3cret"}
	line := "getj id=" + itoa(job) + " out=" + filepath.Join(dir, "job.zip")

	var rep bytes.Buffer
	require.NoError(t, execOne(context.Background(), d, conn, line, newReporter(&rep)))
	assert.Contains(t, rep.String(), "logged in")
	assert.Contains(t, out.String(), "saved")

	_, err := os.Stat(filepath.Join(dir, "job.zip"))
	assert.NoError(t, err)
}

func TestExecOne_BadLogin(t *testing.T) {
	srv, d, _ := newTestDispatcher(t)
	conn := session.Connection{BaseURL: srv.BaseURL, Username: "alice", Password: "nope"}

	var rep bytes.Buffer
	err := execOne(context.Background(), d, conn, "lsj user=alice", newReporter(&rep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	assert.Contains(t, rep.String(), "error -20: bad username or password")
}

func TestExecOne_PasswordWithEquals(t *testing.T) {
	srv, d, _ := newTestDispatcher(t)
	srv.SetPassword("alice", "pa ss=word")
	conn := session.Connection{BaseURL: srv.BaseURL, Username: "alice", Password: "pa ss=word"}

	var rep bytes.Buffer
	require.NoError(t, execOne(context.Background(), d, conn, "lsj user=alice", newReporter(&rep)))
}

func TestExecOne_CommandFails(t *testing.T) {
	srv, d, _ := newTestDispatcher(t)
	conn := session.Connection{BaseURL: srv.BaseURL, Username: "alice", Password: "s3cret"}

	var rep bytes.Buffer
	err := execOne(context.Background(), d, conn, "stat id=999", newReporter(&rep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")
}

func TestWriteConfig(t *testing.T) {
	cfg := config.New()
	cfg.HTTP.ProxyPassword = "hunter2"

	var ini bytes.Buffer
	require.NoError(t, writeConfig(&ini, cfg, "ini"))
	assert.Contains(t, ini.String(), "[server]")

	var y bytes.Buffer
	require.NoError(t, writeConfig(&y, cfg, "yaml"))
	assert.Contains(t, y.String(), "base_url: "+cfg.BaseURL)
	assert.Contains(t, y.String(), "interval: 5s")
	assert.NotContains(t, y.String(), "hunter2")

	assert.Error(t, writeConfig(&bytes.Buffer{}, cfg, "toml"))
}

func TestPromptConfig(t *testing.T) {
	input := strings.Join([]string{
		"https://jobs.example.org/js",
		"",
		"2.5",
		"y",
		"y",
		"basic",
		"proxy.corp",
		"3128",
		"bob",
		"n",
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg := promptConfig(bufio.NewReader(strings.NewReader(input)), &out)

	assert.Equal(t, "https://jobs.example.org/js", cfg.BaseURL)
	assert.Equal(t, config.New().AcceptLanguage, cfg.AcceptLanguage)
	assert.Equal(t, 2500*time.Millisecond, cfg.Poll.Interval)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, "basic", cfg.HTTP.ProxyMode)
	assert.Equal(t, "proxy.corp", cfg.HTTP.ProxyHost)
	assert.Equal(t, 3128, cfg.HTTP.ProxyPort)
	assert.Equal(t, "bob", cfg.HTTP.ProxyUser)
	assert.Empty(t, cfg.LogFile)
	assert.NoError(t, cfg.Validate())
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
