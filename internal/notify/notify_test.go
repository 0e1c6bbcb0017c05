package notify

import (
	"errors"
	"strings"
	"testing"
)

type sent struct {
	title, message string
}

func recordingNotifier(enabled bool, fail bool) (*Notifier, *[]sent) {
	var got []sent
	n := NewNotifier(enabled, nil)
	n.send = func(title, message string) error {
		got = append(got, sent{title, message})
		if fail {
			return errors.New("no notification daemon")
		}
		return nil
	}
	return n, &got
}

func TestPollDone(t *testing.T) {
	n, got := recordingNotifier(true, false)
	n.PollDone(42, "/tmp/results.zip", 3)

	if len(*got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(*got))
	}
	if (*got)[0].title != "Job Complete" {
		t.Errorf("unexpected title %q", (*got)[0].title)
	}
	if !strings.Contains((*got)[0].message, "Job 42") {
		t.Errorf("message does not name the job: %q", (*got)[0].message)
	}
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	n, got := recordingNotifier(false, false)
	n.PollDone(1, "/tmp/a.zip", 1)
	n.PollFailed(1, "boom")

	if len(*got) != 0 {
		t.Errorf("disabled notifier sent %d notifications", len(*got))
	}

	n.SetEnabled(true)
	if !n.IsEnabled() {
		t.Error("SetEnabled(true) had no effect")
	}
	n.PollFailed(1, "boom")
	if len(*got) != 1 {
		t.Errorf("expected 1 notification after enabling, got %d", len(*got))
	}
}

func TestSendFailureIsNotFatal(t *testing.T) {
	n, got := recordingNotifier(true, true)
	n.PollFailed(7, strings.Repeat("x", 300))

	if len(*got) != 1 {
		t.Fatalf("expected a send attempt")
	}
	if len((*got)[0].message) > 120 {
		t.Errorf("error text was not truncated: %d bytes", len((*got)[0].message))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abc", 3, "abc"},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	tests := []struct {
		input string
		short bool
	}{
		{"/short/path", false},
		{"/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/file.zip", true},
	}

	for _, tt := range tests {
		result := shortenPath(tt.input)
		if tt.short && len(result) >= len(tt.input) {
			t.Errorf("shortenPath(%q) was not shortened: %q", tt.input, result)
		}
		if !tt.short && result != tt.input {
			t.Errorf("shortenPath(%q) = %q, want unchanged", tt.input, result)
		}
	}
}
