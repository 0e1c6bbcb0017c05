package sanitize

import (
	"testing"
)

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"CRLF", "stat id=3\r\n", "stat id=3"},
		{"bare CR", "stat id=3\r", "stat id=3"},
		{"BOM", "\uFEFFlogin user=a pass=b", "login user=a pass=b"},
		{"zero-width space", "getj\u200B id=1 out=/tmp/a.zip", "getj id=1 out=/tmp/a.zip"},
		{"soft hyphen", "pa\u00ADuse id=2", "pause id=2"},
		{"inner spaces kept", "  create id=1 qid=2 name=my   job  ", "create id=1 qid=2 name=my   job"},
		{"tabs trimmed", "\tlsj\t", "lsj"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLine(tt.input); got != tt.expected {
				t.Errorf("SanitizeLine(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
