// Package models defines data structures shared by the jobshell client.
package models

import "fmt"

// StreamKind names one of the two result streams every job produces.
type StreamKind string

const (
	// StreamInfo carries logs, progress and diagnostics.
	StreamInfo StreamKind = "info"
	// StreamOutput carries result files.
	StreamOutput StreamKind = "output"
)

// Streams lists the stream kinds in polling order.
var Streams = []StreamKind{StreamInfo, StreamOutput}

// ParseStreamKind converts user input to a StreamKind.
func ParseStreamKind(s string) (StreamKind, error) {
	switch StreamKind(s) {
	case StreamInfo, StreamOutput:
		return StreamKind(s), nil
	default:
		return "", fmt.Errorf("unknown stream %q (expected info or output)", s)
	}
}

func (k StreamKind) String() string {
	return string(k)
}
