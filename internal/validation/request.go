package validation

import (
	"github.com/rescale/jobshell/internal/command"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/status"
)

// Result is the outcome of validating one command. Each call returns its own
// value, so concurrent validations never share diagnostics.
type Result struct {
	Code status.Code
	// MissingParam names the first absent required parameter when Code is
	// status.MissingParam.
	MissingParam string
	// Unnecessary lists supplied parameters the command does not use. They
	// are reported as a warning and never change Code.
	Unnecessary []string
}

// OK reports whether the command may proceed.
func (r Result) OK() bool {
	return !r.Code.IsError()
}

type rule struct {
	required []string
	optional []string
	// oneOf names a pair of parameters of which exactly one is required.
	oneOf [2]string
	// check runs command-specific format checks after the per-key ones.
	check func(p command.Params) status.Code
	// side runs constraints that depend on local state.
	side func(p command.Params) status.Code
}

var listRule = rule{optional: []string{"id", "user"}, check: checkIDOrUser}
var idRule = rule{required: []string{"id"}}

var rules = map[command.Name]rule{
	command.Exit:   {},
	command.Help:   {optional: []string{"cmd"}},
	command.Login:  {required: []string{"user", "pass"}, optional: []string{"url"}, check: checkLoginURL},
	command.Logout: {},
	command.PushDataset: {
		required: []string{"name"},
		optional: []string{"file", "url", "desc", "public"},
		oneOf:    [2]string{"file", "url"},
		check:    checkDatasetSource,
	},
	command.PushQuery: {
		required: []string{"name", "file"},
		optional: []string{"desc", "public"},
		check:    checkQueryFile,
	},
	command.CreateJob: {
		required: []string{"id", "qid"},
		optional: []string{"trav", "timeout", "mem", "name", "public"},
	},
	command.GetDataset: {
		required: []string{"id", "out"},
		optional: []string{"ow"},
		check:    checkDownloadTarget,
		side:     checkOverwrite,
	},
	command.GetJob: {
		required: []string{"id", "out"},
		optional: []string{"stream", "ow"},
		check:    checkDownloadTarget,
		side:     checkOverwrite,
	},
	command.Poll: {
		required: []string{"id", "out"},
		optional: []string{"interval", "ow"},
		check:    checkDownloadTarget,
	},
	command.Stat:          idRule,
	command.ListDatasets:  listRule,
	command.ListQueries:   listRule,
	command.ListJobs:      listRule,
	command.SetVisibility: {required: []string{"type", "id", "public"}},
	command.Pause:         idRule,
	command.Resume:        idRule,
	command.RemoveDataset: idRule,
	command.RemoveQuery:   idRule,
	command.RemoveJob:     idRule,
}

// keyChecks are applied, in this order, to every supplied parameter the
// command accepts.
var keyChecks = []struct {
	key  string
	code status.Code
	ok   func(string) bool
}{
	{"id", status.BadID, func(s string) bool { _, err := PositiveInt(s); return err == nil }},
	{"qid", status.BadIDList, func(s string) bool { _, err := IDList(s); return err == nil }},
	{"trav", status.BadTraversal, func(s string) bool { _, err := models.ParseTraversal(s); return err == nil }},
	{"timeout", status.BadTimeout, func(s string) bool { _, err := PositiveInt(s); return err == nil }},
	{"mem", status.BadMemory, func(s string) bool { _, err := PositiveReal(s); return err == nil }},
	{"interval", status.BadInterval, func(s string) bool { _, err := PositiveReal(s); return err == nil }},
	{"public", status.BadBoolean, func(s string) bool { _, err := Bool(s); return err == nil }},
	{"ow", status.BadBoolean, func(s string) bool { _, err := Bool(s); return err == nil }},
	{"stream", status.BadParams, func(s string) bool { _, err := models.ParseStreamKind(s); return err == nil }},
	{"type", status.BadParams, func(s string) bool { _, err := models.ParseResourceType(s); return err == nil }},
}

// Validate checks p against the rules for name: required parameters first,
// then value formats, then constraints on local state. Unknown parameters are
// collected in Result.Unnecessary.
func Validate(name command.Name, p command.Params) Result {
	r, ok := rules[name]
	if !ok {
		return Result{Code: status.BadCommand}
	}

	res := Result{Unnecessary: unnecessary(r, p)}

	for _, key := range r.required {
		if v, ok := p.Get(key); !ok || v == "" {
			res.Code = status.MissingParam
			res.MissingParam = key
			return res
		}
	}
	if r.oneOf[0] != "" && !p.Has(r.oneOf[0]) && !p.Has(r.oneOf[1]) {
		res.Code = status.MissingParam
		res.MissingParam = r.oneOf[0]
		return res
	}

	accepted := allowed(r)
	for _, kc := range keyChecks {
		if !accepted[kc.key] {
			continue
		}
		if v, ok := p.Get(kc.key); ok && !kc.ok(v) {
			res.Code = kc.code
			return res
		}
	}

	if r.check != nil {
		if code := r.check(p); code.IsError() {
			res.Code = code
			return res
		}
	}
	if r.side != nil {
		if code := r.side(p); code.IsError() {
			res.Code = code
			return res
		}
	}

	res.Code = status.OK
	return res
}

func allowed(r rule) map[string]bool {
	m := make(map[string]bool, len(r.required)+len(r.optional))
	for _, k := range r.required {
		m[k] = true
	}
	for _, k := range r.optional {
		m[k] = true
	}
	return m
}

func unnecessary(r rule, p command.Params) []string {
	accepted := allowed(r)
	var out []string
	for _, k := range p.Keys() {
		if !accepted[k] {
			out = append(out, k)
		}
	}
	return out
}

func checkLoginURL(p command.Params) status.Code {
	if raw, ok := p.Get("url"); ok {
		if _, err := ServerAddress(raw); err != nil {
			return status.BadAddress
		}
	}
	return status.OK
}

func checkDatasetSource(p command.Params) status.Code {
	file, hasFile := p.Get("file")
	raw, hasURL := p.Get("url")
	if hasFile && hasURL {
		return status.FileAndURL
	}
	if hasFile {
		if !RegularFileExists(file) {
			return status.FileNotFound
		}
		if !HasExtension(file, UploadArchiveExtensions) {
			return status.BadArchiveType
		}
		return status.OK
	}
	if _, err := SourceURL(raw); err != nil {
		return status.URLNotAllowed
	}
	return status.OK
}

func checkQueryFile(p command.Params) status.Code {
	if !RegularFileExists(p.Value("file")) {
		return status.FileNotFound
	}
	return status.OK
}

func checkDownloadTarget(p command.Params) status.Code {
	if !HasExtension(p.Value("out"), DownloadArchiveExtensions) {
		return status.BadArchiveType
	}
	return status.OK
}

func checkOverwrite(p command.Params) status.Code {
	if !PathExists(p.Value("out")) {
		return status.OK
	}
	if ow, err := Bool(p.Value("ow")); err == nil && ow {
		return status.OK
	}
	return status.FileExists
}

func checkIDOrUser(p command.Params) status.Code {
	if p.Has("id") && p.Has("user") {
		return status.IDAndUser
	}
	return status.OK
}

// Allowed returns the required and optional parameters of a command, used by
// help output.
func Allowed(name command.Name) (required, optional []string) {
	r := rules[name]
	return append([]string(nil), r.required...), append([]string(nil), r.optional...)
}
