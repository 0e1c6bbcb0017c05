package constants

import (
	"time"
)

// Wire protocol
const (
	// CompletionMarkerHeader is set to CompletionMarkerValue once a stream
	// will produce no further results.
	CompletionMarkerHeader = "X-Completion-Marker"
	CompletionMarkerValue  = "complete"

	// MaxCompletionIndexHeader carries the highest completion index the
	// server has produced for the requested stream.
	MaxCompletionIndexHeader = "X-Max-Completion-Index"

	// RequestIDHeader carries a per-request uuid for server-side correlation.
	RequestIDHeader = "X-Request-ID"
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond the
	// announced archive size (15%)
	DiskSpaceBufferPercent = 0.15
)

// Transfers
const (
	// PartFileSuffix is appended to a download destination while it is being written.
	PartFileSuffix = ".part"

	// CopyBufferSize - buffer used when streaming archives to disk (1 MB)
	CopyBufferSize = 1024 * 1024

	// ProgressUpdateInterval - interval for progress bar updates (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// ErrorBodyLimit - maximum bytes read from an error response body (64 KB)
	ErrorBodyLimit = 64 * 1024
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// Retry configuration for the API client
const (
	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)

// Session
const (
	// LogoutTimeout bounds the best-effort logout issued when the shell exits.
	LogoutTimeout = 10 * time.Second
)
