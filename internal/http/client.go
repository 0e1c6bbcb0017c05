// Package http builds the HTTP clients used by a session: a retrying client
// for small API calls and a streaming client for archive transfers.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/rescale/jobshell/internal/config"
	"github.com/rescale/jobshell/internal/constants"
	"github.com/rescale/jobshell/internal/logging"
)

// Clients is the transport handle owned by one session.
type Clients struct {
	// API carries login, listing and mutation requests. It retries
	// transient failures only when max_retries is positive.
	API *nethttp.Client
	// Transfer carries uploads and downloads. Bodies are streamed and
	// never buffered for replay.
	Transfer *nethttp.Client
}

// NewClients builds a fresh pair of clients with their own connection pools.
func NewClients(cfg config.HTTPConfig, logger *logging.Logger) (*Clients, error) {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}

	apiBase, err := newClient(cfg, logger, false)
	if err != nil {
		return nil, err
	}
	transfer, err := newClient(cfg, logger, true)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = apiBase
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Backoff = FullJitterBackoff
	retryClient.Logger = logger.Leveled()
	// Hand the last response back unchanged so status mapping stays in the session.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Clients{
		API:      retryClient.StandardClient(),
		Transfer: transfer,
	}, nil
}

// newClient creates a client with proxy support. Transfer clients get
// HTTP/2 and disable compression, since archives are already compressed.
//
// HTTP/2 is turned off when a proxy is active (proxies often break
// multiplexed streams mid-transfer) or when DISABLE_HTTP2=true.
func newClient(cfg config.HTTPConfig, logger *logging.Logger, transfer bool) (*nethttp.Client, error) {
	tr := newTransport(cfg)

	if transfer {
		tr.DisableCompression = true
		tr.ForceAttemptHTTP2 = true
		_ = http2.ConfigureTransport(tr)
	}

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	rt, err := applyProxy(tr, cfg, logger)
	if err != nil {
		return nil, err
	}

	// No overall timeout: dial and response-header timeouts bound the wait,
	// and long transfers are cancelled through their context.
	return &nethttp.Client{Transport: rt}, nil
}

// WithoutRedirects returns a shallow copy of c that returns redirect
// responses to the caller instead of following them. c is not modified.
func WithoutRedirects(c *nethttp.Client) *nethttp.Client {
	cp := *c
	cp.CheckRedirect = func(*nethttp.Request, []*nethttp.Request) error {
		return nethttp.ErrUseLastResponse
	}
	return &cp
}
