// Package notify provides desktop notifications for jobshell.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/jobshell/internal/logging"
)

// Notifier sends desktop notifications when long-running polls finish.
type Notifier struct {
	logger  *logging.Logger
	enabled bool
	mu      sync.RWMutex

	// send delivers a notification. Replaced in tests.
	send func(title, message string) error
}

// NewNotifier creates a notifier. A nil logger falls back to the default CLI logger.
func NewNotifier(enabled bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Notifier{
		logger:  logger,
		enabled: enabled,
		send: func(title, message string) error {
			// Windows toast, macOS notification center, D-Bus on Linux.
			return beeep.Notify(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// PollDone announces that a job's streams have been fully drained.
func (n *Notifier) PollDone(jobID int64, outputPath string, files int) {
	if !n.IsEnabled() {
		return
	}

	title := "Job Complete"
	message := fmt.Sprintf("Job %d finished, %d archive(s) saved next to:\n%s", jobID, files, shortenPath(outputPath))

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Int64("job", jobID).Msg("Failed to send poll complete notification")
	}
}

// PollFailed announces that polling stopped with an error.
func (n *Notifier) PollFailed(jobID int64, errorMsg string) {
	if !n.IsEnabled() {
		return
	}

	title := "Polling Failed"
	message := fmt.Sprintf("Job %d:\n%s", jobID, truncate(errorMsg, 100))

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Int64("job", jobID).Msg("Failed to send poll failed notification")
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}

	return short
}
