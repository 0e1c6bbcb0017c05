// Package validation checks command parameters before any network call is
// made. Nothing in this package talks to the server; the only I/O is stat
// calls against the local file system.
package validation

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UploadArchiveExtensions are the archive types the server unpacks as
// datasets. Order matters: longer suffixes first.
var UploadArchiveExtensions = []string{".tar.gz", ".tgz", ".tar", ".zip"}

// DownloadArchiveExtensions are the types the server produces for downloads.
var DownloadArchiveExtensions = []string{".zip"}

// allowedURLSchemes are the remote sources the server fetches datasets from.
var allowedURLSchemes = map[string]bool{"http": true, "https": true, "ftp": true}

// PositiveInt parses a strictly positive base-10 integer.
func PositiveInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("not positive: %d", v)
	}
	return v, nil
}

// IDList parses a comma-separated list of positive integers. Empty entries
// ("1,,2", "1,") are rejected.
func IDList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty id list")
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := PositiveInt(part)
		if err != nil {
			return nil, fmt.Errorf("bad id list entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PositiveReal parses a strictly positive finite real number.
func PositiveReal(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("not a positive number: %q", s)
	}
	return v, nil
}

// Bool parses the literals true and false, case-insensitively. Other spellings
// accepted by strconv.ParseBool (1, t, yes...) are rejected on purpose.
func Bool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}

// HasExtension reports whether path ends in one of exts, case-insensitively.
func HasExtension(path string, exts []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SplitExtension splits a path into stem and archive extension, keeping
// compound extensions such as ".tar.gz" whole.
func SplitExtension(path string) (stem, ext string) {
	lower := strings.ToLower(path)
	for _, e := range UploadArchiveExtensions {
		if strings.HasSuffix(lower, e) {
			return path[:len(path)-len(e)], path[len(path)-len(e):]
		}
	}
	ext = filepath.Ext(path)
	return strings.TrimSuffix(path, ext), ext
}

// RegularFileExists reports whether path names an existing regular file.
func RegularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PathExists reports whether anything exists at path.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// SourceURL validates a remote dataset source.
func SourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if !allowedURLSchemes[strings.ToLower(u.Scheme)] || u.Host == "" {
		return nil, fmt.Errorf("url %q not allowed (expected http, https or ftp)", raw)
	}
	return u, nil
}

// ServerAddress validates a server base address given at login.
func ServerAddress(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("address %q must be an absolute http or https url", raw)
	}
	return u, nil
}
