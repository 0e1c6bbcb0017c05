package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "")
	l.Infof("downloaded %d bytes", 42)

	if !strings.Contains(buf.String(), "downloaded 42 bytes") {
		t.Errorf("expected message in console output, got %q", buf.String())
	}
}

func TestFileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "jobshell.log")
	l := NewLogger(&buf, path)
	l.Warn().Int64("job", 7).Msg("stream stalled")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"job":7`) {
		t.Errorf("expected JSON field in log file, got %q", data)
	}
}

func TestFormattedHelpers(t *testing.T) {
	SetVerbose(true)
	defer SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	l := NewLogger(&buf, "")
	l.Debugf("logout failed: %v", errors.New("eof"))
	l.Warnf("session to %s lost", "http://h/js")
	l.Errorf("reconnect as %s failed", "alice")

	out := buf.String()
	for _, want := range []string{"logout failed: eof", "session to http://h/js lost", "reconnect as alice failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestLeveledAdapter(t *testing.T) {
	SetVerbose(true)
	defer SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	l := NewLogger(&buf, "")
	a := l.Leveled()
	a.Warn("retrying request", "url", "http://h/jobs", "attempt", 2, "error", errors.New("reset"), "dangling")

	out := buf.String()
	for _, want := range []string{"retrying request", "attempt", "reset", "dangling"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Infof("nothing")
	if err := l.Close(); err != nil {
		t.Errorf("Close on discard logger: %v", err)
	}
}
