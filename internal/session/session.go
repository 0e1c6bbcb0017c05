// Package session implements the authenticated client for the job server:
// login, uploads, job management and archive downloads.
package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rescale/jobshell/internal/config"
	xhttp "github.com/rescale/jobshell/internal/http"
	"github.com/rescale/jobshell/internal/logging"
	"github.com/rescale/jobshell/internal/progress"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
)

// Connection is the durable identity of a session: where to connect and as
// whom. It is all a reconnect needs.
type Connection struct {
	BaseURL  string
	Username string
	Password string
}

// Options carries the collaborators a Client is built with. Zero values
// get defaults.
type Options struct {
	Config   *config.Config
	Tracker  *tracker.Tracker
	Logger   *logging.Logger
	Progress progress.Sink
	// Clients overrides the transport handle. When nil a fresh one is built
	// from Config.HTTP.
	Clients *xhttp.Clients
}

// Client is one logged-in (or logging-in) session with the server.
type Client struct {
	conn     Connection
	base     string
	cfg      *config.Config
	tracker  *tracker.Tracker
	logger   *logging.Logger
	progress progress.Sink

	api      *http.Client
	transfer *http.Client

	mu    sync.Mutex
	token string
}

// New builds a client for conn with its own transport handle. It does not
// contact the server; call Login.
func New(conn Connection, opts Options) (*Client, error) {
	if opts.Config == nil {
		opts.Config = config.New()
	}
	if opts.Tracker == nil {
		opts.Tracker = tracker.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}
	if opts.Progress == nil {
		opts.Progress = progress.NoOp{}
	}
	if conn.BaseURL == "" {
		conn.BaseURL = opts.Config.BaseURL
	}
	if _, err := url.Parse(conn.BaseURL); err != nil {
		return nil, status.Wrap(status.BadAddress, err)
	}

	clients := opts.Clients
	if clients == nil {
		var err error
		clients, err = xhttp.NewClients(opts.Config.HTTP, opts.Logger)
		if err != nil {
			return nil, status.Wrap(status.ServerError, err)
		}
	}

	return &Client{
		conn:     conn,
		base:     strings.TrimSuffix(conn.BaseURL, "/"),
		cfg:      opts.Config,
		tracker:  opts.Tracker,
		logger:   opts.Logger,
		progress: opts.Progress,
		api:      clients.API,
		transfer: clients.Transfer,
	}, nil
}

// Connection returns the descriptor this client was built from.
func (c *Client) Connection() Connection {
	return c.conn
}

// Tracker returns the completion tracker shared with this client.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Valid reports whether the client holds a session token.
func (c *Client) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// invalidate drops the session token.
func (c *Client) invalidate(reason string) {
	c.mu.Lock()
	had := c.token != ""
	c.token = ""
	c.mu.Unlock()
	if had {
		c.logger.Debug().Str("reason", reason).Msg("Session invalidated")
	}
}

// updateToken applies any token cookie in resp: a fresh value replaces the
// stored one, an expired or empty one invalidates the session.
func (c *Client) updateToken(resp *http.Response) {
	for _, ck := range resp.Cookies() {
		if ck.Name != c.cfg.TokenCookie {
			continue
		}
		expired := ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now()))
		if ck.Value == "" || expired {
			c.invalidate("token cookie expired")
			continue
		}
		c.setToken(ck.Value)
	}
}

// Login performs the three-step login sequence. Credentials are accepted
// only if the server issued a token different from the anonymous one.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.send(ctx, c.api, http.MethodGet, "/login", nil, nil, "")
	if err != nil {
		c.logger.Error().Err(err).Str("url", c.base).Msg("Cannot reach server")
		if !config.IsDefaultBaseURL(c.base) {
			return status.Wrap(status.BadAddress, err)
		}
		return status.Wrap(status.ServerError, err)
	}
	drainClose(resp)
	if resp.StatusCode >= http.StatusInternalServerError {
		return status.Errorf(status.ServerError, "GET /login: %s", resp.Status)
	}
	initial := c.currentToken()

	form := url.Values{}
	form.Set("username", c.conn.Username)
	form.Set("password", c.conn.Password)
	resp, err = c.send(ctx, c.api, http.MethodPost, "/login", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		c.logger.Error().Err(err).Msg("Login request failed")
		return status.Wrap(status.ServerError, err)
	}
	drainClose(resp)
	if resp.StatusCode >= http.StatusInternalServerError {
		return status.Errorf(status.ServerError, "POST /login: %s", resp.Status)
	}

	resp, err = c.send(ctx, c.api, http.MethodGet, "/login", nil, nil, "")
	if err != nil {
		c.logger.Error().Err(err).Msg("Login confirmation failed")
		return status.Wrap(status.ServerError, err)
	}
	drainClose(resp)

	token := c.currentToken()
	if token == "" || token == initial {
		c.setToken("")
		return status.New(status.BadCredentials)
	}

	c.logger.Debug().Str("user", c.conn.Username).Str("url", c.base).Msg("Logged in")
	return nil
}

// Logout ends the session on the server. The local token is dropped even
// if the request fails.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.doRequest(ctx, c.api, http.MethodGet, "/logout", nil, nil, "")
	c.setToken("")
	if err != nil {
		return err
	}
	drainClose(resp)
	return nil
}

// Close releases idle connections held by the transport handle.
func (c *Client) Close() {
	c.api.CloseIdleConnections()
	c.transfer.CloseIdleConnections()
}
