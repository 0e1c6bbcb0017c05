package session

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/jobshell/internal/constants"
	"github.com/rescale/jobshell/internal/diskspace"
	xhttp "github.com/rescale/jobshell/internal/http"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/progress"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
	"github.com/rescale/jobshell/internal/util/buffers"
)

// DeltaRequest asks for the results of one job stream newer than Since.
type DeltaRequest struct {
	JobID     int64
	Stream    models.StreamKind
	Since     int64
	Dest      string
	Overwrite bool
}

// Delta is the outcome of an incremental download.
type Delta struct {
	// Status is OK when an archive was written and NoNewData otherwise.
	Status status.Code
	// JobDone is set when the server reports the stream complete.
	JobDone bool
	// MaxIndex is the highest completion index the server announced.
	MaxIndex int64
	// Bytes written to Dest.
	Bytes int64
}

// signals are the download headers the server attaches to archive responses.
type signals struct {
	complete   bool
	maxIndex   int64
	hasMax     bool
	attachment bool
}

func readSignals(h http.Header) signals {
	var s signals
	s.complete = strings.EqualFold(strings.TrimSpace(h.Get(constants.CompletionMarkerHeader)), constants.CompletionMarkerValue)
	if raw := strings.TrimSpace(h.Get(constants.MaxCompletionIndexHeader)); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			s.maxIndex = n
			s.hasMax = true
		}
	}
	if cd := h.Get("Content-Disposition"); cd != "" {
		if disposition, _, err := mime.ParseMediaType(cd); err == nil {
			s.attachment = strings.EqualFold(disposition, "attachment")
		}
	}
	return s
}

// DownloadSince fetches the results of req.Stream with a completion index
// above req.Since and writes them to req.Dest. The tracker advances to the
// announced maximum only after the archive is safely on disk.
//
// Redirects are not followed for this request.
func (c *Client) DownloadSince(ctx context.Context, req DeltaRequest) (Delta, error) {
	query := url.Values{}
	query.Set("stream", string(req.Stream))
	query.Set("since", strconv.FormatInt(req.Since, 10))
	path := fmt.Sprintf("/jobs/%d/archive", req.JobID)

	resp, err := c.doRequest(ctx, xhttp.WithoutRedirects(c.transfer), http.MethodGet, path, query, nil, "")
	if err != nil {
		return Delta{}, err
	}
	defer drainClose(resp)

	sig := readSignals(resp.Header)
	if !sig.hasMax {
		return Delta{}, status.Errorf(status.ServerError, "GET %s: missing or malformed %s", path, constants.MaxCompletionIndexHeader)
	}

	if sig.maxIndex <= req.Since {
		return Delta{Status: status.NoNewData, JobDone: sig.complete, MaxIndex: sig.maxIndex}, nil
	}
	if !sig.attachment {
		return Delta{}, status.New(status.ArchiveNotFound)
	}

	n, err := c.writeArchive(resp, req.Dest, req.Overwrite)
	if err != nil {
		return Delta{}, err
	}

	key := tracker.Key{JobID: req.JobID, Stream: req.Stream}
	c.tracker.Advance(key, sig.maxIndex)
	c.logger.Debug().
		Int64("job", req.JobID).
		Str("stream", string(req.Stream)).
		Int64("since", req.Since).
		Int64("max_index", sig.maxIndex).
		Int64("bytes", n).
		Msg("Incremental archive saved")

	return Delta{Status: status.OK, JobDone: sig.complete, MaxIndex: sig.maxIndex, Bytes: n}, nil
}

// DownloadDataset fetches a dataset archive.
func (c *Client) DownloadDataset(ctx context.Context, id int64, dest string, overwrite bool) (int64, error) {
	return c.downloadFull(ctx, fmt.Sprintf("/datasets/%d/archive", id), nil, dest, overwrite)
}

// DownloadJob fetches every result of a job, or of one stream when stream
// is set. The tracker is not consulted or updated.
func (c *Client) DownloadJob(ctx context.Context, id int64, stream models.StreamKind, dest string, overwrite bool) (int64, error) {
	query := url.Values{}
	if stream != "" {
		query.Set("stream", string(stream))
	}
	return c.downloadFull(ctx, fmt.Sprintf("/jobs/%d/archive", id), query, dest, overwrite)
}

func (c *Client) downloadFull(ctx context.Context, path string, query url.Values, dest string, overwrite bool) (int64, error) {
	resp, err := c.doRequest(ctx, c.transfer, http.MethodGet, path, query, nil, "")
	if err != nil {
		return 0, err
	}
	defer drainClose(resp)

	if !readSignals(resp.Header).attachment {
		return 0, status.New(status.ArchiveNotFound)
	}
	return c.writeArchive(resp, dest, overwrite)
}

// writeArchive streams resp.Body to dest through a ".part" file that is
// synced and renamed into place. Any failure removes the partial file.
func (c *Client) writeArchive(resp *http.Response, dest string, overwrite bool) (n int64, err error) {
	if !overwrite {
		if _, statErr := os.Stat(dest); statErr == nil {
			return 0, status.Errorf(status.FileExists, "%s", dest)
		}
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, status.Wrap(status.ServerError, fmt.Errorf("failed to create directory: %w", err))
		}
	}

	if resp.ContentLength > 0 {
		if err := diskspace.CheckAvailableSpace(dest, resp.ContentLength, 1+constants.DiskSpaceBufferPercent); err != nil {
			if diskspace.IsInsufficientSpaceError(err) {
				c.logger.Warn().Err(err).Str("dest", dest).Msg("Not enough disk space for archive")
				return 0, status.Wrap(status.InsufficientQuota, err)
			}
			return 0, status.Wrap(status.ServerError, err)
		}
	}

	part := dest + constants.PartFileSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, status.Wrap(status.ServerError, fmt.Errorf("failed to create %s: %w", part, err))
	}

	reporter := c.progress.NewReporter(progress.Download)
	reporter.Start(resp.ContentLength, dest)

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(part)
			reporter.Error(err)
		}
	}()

	buf := buffers.GetCopyBuffer()
	defer buffers.PutCopyBuffer(buf)

	pw := progress.NewProgressWriter(f, reporter)
	if _, err = io.CopyBuffer(pw, resp.Body, *buf); err != nil {
		return 0, status.Wrap(status.ServerError, fmt.Errorf("download interrupted: %w", err))
	}
	if resp.ContentLength > 0 && pw.Written() != resp.ContentLength {
		err = status.Errorf(status.ServerError, "short download: got %d of %d bytes", pw.Written(), resp.ContentLength)
		return 0, err
	}
	if err = f.Sync(); err != nil {
		return 0, status.Wrap(status.ServerError, err)
	}
	if err = f.Close(); err != nil {
		return 0, status.Wrap(status.ServerError, err)
	}
	if err = os.Rename(part, dest); err != nil {
		return 0, status.Wrap(status.ServerError, err)
	}

	reporter.Finish()
	return pw.Written(), nil
}

// IsNoNewData reports whether d announced nothing newer than requested.
func (d Delta) IsNoNewData() bool {
	return d.Status == status.NoNewData
}
