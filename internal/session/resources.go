package session

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/progress"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/util/buffers"
)

// DatasetUpload describes a new dataset. Exactly one of File and URL is set.
type DatasetUpload struct {
	Name        string
	File        string
	URL         string
	Description string
	Public      bool
}

// QueryUpload describes a new query file.
type QueryUpload struct {
	Name        string
	File        string
	Description string
	Public      bool
}

// JobSpec describes a job to create.
type JobSpec struct {
	DatasetID int64
	QueryIDs  []int64
	Traversal models.Traversal
	// Timeout in seconds; zero leaves the server default.
	Timeout int64
	// MemoryGiB; zero leaves the server default.
	MemoryGiB float64
	Name      string
	Public    bool
}

// ListFilter narrows a listing to one id or one owner. Both zero lists
// everything visible to the user.
type ListFilter struct {
	ID   int64
	User string
}

type createdResponse struct {
	ID int64 `json:"id"`
}

// UploadDataset creates a dataset from a local archive or a remote URL and
// returns its id.
func (c *Client) UploadDataset(ctx context.Context, up DatasetUpload) (int64, error) {
	fields := map[string]string{
		"name":        up.Name,
		"description": up.Description,
		"public":      strconv.FormatBool(up.Public),
	}
	if up.URL != "" {
		fields["url"] = up.URL
	}
	return c.uploadMultipart(ctx, "/datasets", fields, up.File)
}

// UploadQuery creates a query from a local file and returns its id.
func (c *Client) UploadQuery(ctx context.Context, up QueryUpload) (int64, error) {
	fields := map[string]string{
		"name":        up.Name,
		"description": up.Description,
		"public":      strconv.FormatBool(up.Public),
	}
	return c.uploadMultipart(ctx, "/queries", fields, up.File)
}

// uploadMultipart streams fields and an optional file through a pipe so
// the file is never held in memory.
func (c *Client) uploadMultipart(ctx context.Context, path string, fields map[string]string, file string) (int64, error) {
	var (
		f    *os.File
		size int64
	)
	if file != "" {
		var err error
		f, err = os.Open(file)
		if err != nil {
			return 0, status.Wrap(status.FileNotFound, err)
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	reporter := progress.Reporter(progress.NewNoOpProgress())
	if f != nil {
		reporter = c.progress.NewReporter(progress.Upload)
		reporter.Start(size, filepath.Base(file))
	}

	go func() {
		pw.CloseWithError(writeParts(mw, fields, f, reporter))
	}()

	resp, err := c.doRequest(ctx, c.transfer, http.MethodPost, path, nil, pr, mw.FormDataContentType())
	if err != nil {
		reporter.Error(err)
		return 0, err
	}

	var created createdResponse
	if err := decodeJSON(resp, &created); err != nil {
		reporter.Error(err)
		return 0, err
	}
	reporter.Finish()

	c.logger.Debug().Str("path", path).Int64("id", created.ID).Int64("bytes", size).Msg("Upload complete")
	return created.ID, nil
}

func writeParts(mw *multipart.Writer, fields map[string]string, f *os.File, reporter progress.Reporter) error {
	for _, k := range []string{"name", "description", "public", "url"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	if f != nil {
		part, err := mw.CreateFormFile("file", filepath.Base(f.Name()))
		if err != nil {
			return err
		}
		buf := buffers.GetCopyBuffer()
		defer buffers.PutCopyBuffer(buf)
		if _, err := io.CopyBuffer(part, progress.NewProgressReader(f, reporter), *buf); err != nil {
			return err
		}
	}

	return mw.Close()
}

// CreateJob submits a new job and returns its id.
func (c *Client) CreateJob(ctx context.Context, spec JobSpec) (int64, error) {
	ids := make([]string, len(spec.QueryIDs))
	for i, id := range spec.QueryIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	form := url.Values{}
	form.Set("datasetId", strconv.FormatInt(spec.DatasetID, 10))
	form.Set("queryIds", strings.Join(ids, ","))
	form.Set("public", strconv.FormatBool(spec.Public))
	if spec.Traversal != "" {
		form.Set("traversal", string(spec.Traversal))
	}
	if spec.Timeout > 0 {
		form.Set("timeout", strconv.FormatInt(spec.Timeout, 10))
	}
	if spec.MemoryGiB > 0 {
		form.Set("memory", strconv.FormatFloat(spec.MemoryGiB, 'f', -1, 64))
	}
	if spec.Name != "" {
		form.Set("name", spec.Name)
	}

	resp, err := c.doRequest(ctx, c.api, http.MethodPost, "/jobs", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return 0, err
	}

	var created createdResponse
	if err := decodeJSON(resp, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// List returns the resources of one type, optionally filtered.
func (c *Client) List(ctx context.Context, typ models.ResourceType, filter ListFilter) ([]models.Resource, error) {
	query := url.Values{}
	switch {
	case filter.ID > 0:
		query.Set("id", strconv.FormatInt(filter.ID, 10))
	case filter.User != "":
		query.Set("user", filter.User)
	}

	resp, err := c.doRequest(ctx, c.api, http.MethodGet, "/"+string(typ), query, nil, "")
	if err != nil {
		return nil, err
	}

	var items []models.Resource
	if err := decodeJSON(resp, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// JobStatus returns the server's view of one job.
func (c *Client) JobStatus(ctx context.Context, id int64) (*models.Job, error) {
	resp, err := c.doRequest(ctx, c.api, http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil, nil, "")
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := decodeJSON(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SetVisibility makes a dataset, query or job public or private.
func (c *Client) SetVisibility(ctx context.Context, typ models.ResourceType, id int64, public bool) error {
	form := url.Values{}
	form.Set("public", strconv.FormatBool(public))
	return c.post(ctx, fmt.Sprintf("/%s/%d/visibility", typ, id), form)
}

// PauseJob suspends a running job.
func (c *Client) PauseJob(ctx context.Context, id int64) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%d/pause", id), nil)
}

// ResumeJob resumes a paused job.
func (c *Client) ResumeJob(ctx context.Context, id int64) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%d/resume", id), nil)
}

// Delete removes a dataset, query or job.
func (c *Client) Delete(ctx context.Context, typ models.ResourceType, id int64) error {
	resp, err := c.doRequest(ctx, c.api, http.MethodDelete, fmt.Sprintf("/%s/%d", typ, id), nil, nil, "")
	if err != nil {
		return err
	}
	drainClose(resp)
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	resp, err := c.doRequest(ctx, c.api, http.MethodPost, path, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	drainClose(resp)
	return nil
}
