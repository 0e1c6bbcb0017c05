package dispatch

import (
	"context"

	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/status"
)

// ConnectFunc builds a fresh client for conn and logs it in.
type ConnectFunc func(ctx context.Context, conn session.Connection) (*session.Client, error)

// Reconnector restores a session the server has dropped. It makes exactly
// one login attempt per check.
type Reconnector struct {
	Connect ConnectFunc
	Logger  *logging.Logger
}

// Check returns client unchanged while it is valid. Otherwise it logs in
// again with the same connection and returns the replacement, or nil and
// status.ConnectionLost if that fails.
func (r *Reconnector) Check(ctx context.Context, client *session.Client) (*session.Client, status.Code) {
	if client == nil || client.Valid() {
		return client, status.OK
	}

	conn := client.Connection()
	client.Close()

	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.Warnf("Session to %s lost, logging in again as %s", conn.BaseURL, conn.Username)

	fresh, err := r.Connect(ctx, conn)
	if err != nil {
		logger.Errorf("Reconnect to %s failed: %v", conn.BaseURL, err)
		return nil, status.ConnectionLost
	}

	logger.Infof("Session restored for %s", conn.Username)
	return fresh, status.OK
}
