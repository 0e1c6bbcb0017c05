// Package status defines the fixed status codes returned by every jobshell
// command and the error type that carries them through Go error chains.
package status

import (
	"errors"
	"fmt"
)

// Code is a command status. Negative values are errors, zero is plain
// success and small positive values are distinguished successes.
type Code int

// Distinguished successes.
const (
	OK        Code = 0
	Exit      Code = 1
	Login     Code = 2
	Logout    Code = 3
	JobDone   Code = 4
	NoNewData Code = 5
)

// Error codes. The values are part of the command surface and must not be
// renumbered.
const (
	BadCommand        Code = -1
	BadParams         Code = -2
	MissingParam      Code = -3
	BadID             Code = -4
	BadIDList         Code = -5
	BadTimeout        Code = -6
	BadMemory         Code = -7
	BadTraversal      Code = -8
	BadInterval       Code = -9
	BadBoolean        Code = -10
	FileNotFound      Code = -11
	FileExists        Code = -12
	BadArchiveType    Code = -13
	FileAndURL        Code = -14
	URLNotAllowed     Code = -15
	IDAndUser         Code = -16
	PermissionDenied  Code = -17
	NameNotUnique     Code = -18
	InsufficientQuota Code = -19
	BadCredentials    Code = -20
	BadAddress        Code = -21
	NotLoggedIn       Code = -22
	ConnectionExists  Code = -23
	ConnectionLost    Code = -24
	ArchiveNotFound   Code = -25
	ServerError       Code = -26
)

var messages = map[Code]string{
	OK:        "OK",
	Exit:      "bye",
	Login:     "logged in",
	Logout:    "logged out",
	JobDone:   "job finished, all results retrieved",
	NoNewData: "no new data",

	BadCommand:        "unknown command or bad command syntax",
	BadParams:         "bad or duplicate parameter",
	MissingParam:      "missing required parameter",
	BadID:             "invalid id",
	BadIDList:         "invalid id list (expected comma-separated positive integers)",
	BadTimeout:        "invalid timeout (expected a positive integer number of seconds)",
	BadMemory:         "invalid memory value (expected a positive number of GiB)",
	BadTraversal:      "invalid traversal type (expected f, r or b)",
	BadInterval:       "invalid interval (expected a positive number of seconds)",
	BadBoolean:        "invalid boolean (expected true or false)",
	FileNotFound:      "file not found",
	FileExists:        "output file already exists (use ow=true to overwrite)",
	BadArchiveType:    "unsupported archive type",
	FileAndURL:        "file and url are mutually exclusive",
	URLNotAllowed:     "url not allowed",
	IDAndUser:         "id and user are mutually exclusive",
	PermissionDenied:  "permission denied",
	NameNotUnique:     "name is not unique",
	InsufficientQuota: "insufficient quota",
	BadCredentials:    "bad username or password",
	BadAddress:        "server address unreachable (check the url)",
	NotLoggedIn:       "not logged in",
	ConnectionExists:  "already logged in (logout first)",
	ConnectionLost:    "connection lost and re-login failed",
	ArchiveNotFound:   "server announced new data but sent no archive",
	ServerError:       "server error",
}

// Message returns the fixed human-readable message for c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return fmt.Sprintf("unknown status %d", int(c))
}

// IsError reports whether c is an error code.
func (c Code) IsError() bool {
	return c < 0
}

func (c Code) String() string {
	return fmt.Sprintf("%d (%s)", int(c), c.Message())
}

// Codes returns every defined code, used by help output and tests.
func Codes() []Code {
	out := make([]Code, 0, len(messages))
	for c := ServerError; c <= NoNewData; c++ {
		if _, ok := messages[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Error carries a status code together with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.Message()
	}
	return fmt.Sprintf("%s: %v", e.Code.Message(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error carrying code and no further cause.
func New(code Code) error {
	return &Error{Code: code}
}

// Errorf returns an error carrying code with a formatted cause.
func Errorf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches code to err. A nil err yields nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the status carried by err. nil maps to OK and errors
// without a code map to ServerError.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ServerError
}
