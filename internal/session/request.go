package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/rescale/jobshell/internal/constants"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/version"
)

// errorBody is the JSON error envelope of non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorKinds = map[string]status.Code{
	"permission_denied":  status.PermissionDenied,
	"name_not_unique":    status.NameNotUnique,
	"insufficient_quota": status.InsufficientQuota,
	"url_not_allowed":    status.URLNotAllowed,
	"not_found":          status.BadID,
}

// send issues one request with the session headers and token. It does not
// require a valid session and does not interpret the status code.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept-Language", c.cfg.AcceptLanguage)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set(constants.RequestIDHeader, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.currentToken(); token != "" {
		req.AddCookie(&http.Cookie{Name: c.cfg.TokenCookie, Value: token})
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	c.updateToken(resp)
	return resp, nil
}

// doRequest performs an authenticated request. Transport failures become
// ServerError; non-2xx responses are decoded into coded errors and closed.
// On success the caller owns resp.Body.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if !c.Valid() {
		return nil, status.New(status.NotLoggedIn)
	}

	resp, err := c.send(ctx, hc, method, path, query, body, contentType)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("Request failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Wrap(status.ServerError, err)
		}
		return nil, status.Wrap(status.ServerError, fmt.Errorf("%s %s: %w", method, path, err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer drainClose(resp)
		return nil, c.decodeError(method, path, resp)
	}
	return resp, nil
}

// decodeError maps an error response to a status error.
func (c *Client) decodeError(method, path string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidate("server returned 401")
	}

	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, constants.ErrorBodyLimit))
	_ = json.Unmarshal(raw, &eb)

	code, ok := errorKinds[eb.Error]
	if !ok {
		code = codeForStatus(resp.StatusCode)
	}

	msg := eb.Message
	if msg == "" {
		msg = resp.Status
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("kind", eb.Error).
		Msg(msg)

	return status.Errorf(code, "%s %s: %s", method, path, msg)
}

func codeForStatus(httpStatus int) status.Code {
	switch httpStatus {
	case http.StatusUnauthorized:
		return status.NotLoggedIn
	case http.StatusForbidden:
		return status.PermissionDenied
	case http.StatusNotFound:
		return status.BadID
	case http.StatusConflict:
		return status.NameNotUnique
	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return status.InsufficientQuota
	default:
		return status.ServerError
	}
}

// decodeJSON reads a JSON response body into v and closes it.
func decodeJSON(resp *http.Response, v interface{}) error {
	defer drainClose(resp)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return status.Wrap(status.ServerError, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// drainClose reads what is left of the body so the connection can be
// reused, then closes it.
func drainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, constants.ErrorBodyLimit))
	_ = resp.Body.Close()
}
