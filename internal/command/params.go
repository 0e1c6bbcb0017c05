// Package command parses jobshell command lines of the form
//
//	command key1=value1 key2=value with spaces key3=value3
//
// and resolves command names to the closed set of supported commands.
package command

import (
	"regexp"
	"strings"

	"github.com/rescale/jobshell/internal/status"
)

// keyStart matches the start of a key=value token. A key must follow
// whitespace (or the start of the argument text), so '=' inside a value such
// as a URL query string does not start a new parameter.
var keyStart = regexp.MustCompile(`(?:^|\s)([A-Za-z][A-Za-z0-9_]*)=`)

// Params is an ordered, case-insensitive, immutable key/value map.
type Params struct {
	keys   []string
	values map[string]string
}

// Get returns the value for key and whether it was supplied.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[strings.ToLower(key)]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (p Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Has reports whether key was supplied.
func (p Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Keys returns the supplied keys in the order they appeared.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.keys)
}

// NewParams builds Params from alternating key, value arguments. It is meant
// for tests and programmatic callers; duplicate keys keep the last value.
func NewParams(kv ...string) Params {
	p := Params{values: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		k := strings.ToLower(kv[i])
		if _, seen := p.values[k]; !seen {
			p.keys = append(p.keys, k)
		}
		p.values[k] = kv[i+1]
	}
	return p
}

// ExtractParams splits a command line into its lower-cased command name and
// parameters. Blank lines and comments return an empty name and no error.
func ExtractParams(line string) (string, Params, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", Params{}, nil
	}

	name, rest := line, ""
	if i := strings.IndexFunc(line, isSpace); i >= 0 {
		name, rest = line[:i], strings.TrimSpace(line[i:])
	}
	if strings.Contains(name, "=") {
		return "", Params{}, status.Errorf(status.BadCommand, "missing command name before %q", name)
	}
	name = strings.ToLower(name)

	params := Params{values: make(map[string]string)}
	if rest == "" {
		return name, params, nil
	}

	matches := keyStart.FindAllStringSubmatchIndex(rest, -1)
	if len(matches) == 0 {
		return "", Params{}, status.Errorf(status.BadCommand, "expected key=value parameters, got %q", rest)
	}
	if stray := strings.TrimSpace(rest[:matches[0][0]]); stray != "" {
		return "", Params{}, status.Errorf(status.BadCommand, "unexpected token %q", stray)
	}

	for i, m := range matches {
		key := strings.ToLower(rest[m[2]:m[3]])
		end := len(rest)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		value := strings.TrimSpace(rest[m[1]:end])

		if _, dup := params.values[key]; dup {
			return "", Params{}, status.Errorf(status.BadParams, "duplicate parameter %q", key)
		}
		params.keys = append(params.keys, key)
		params.values[key] = value
	}

	return name, params, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
