package command

import "sort"

// Name identifies one supported command. The set is closed: every value is
// listed below and dispatchers switch over all of them.
type Name int

const (
	Unknown Name = iota
	Exit
	Help
	Login
	Logout
	PushDataset
	PushQuery
	CreateJob
	GetDataset
	GetJob
	Poll
	Stat
	ListDatasets
	ListQueries
	ListJobs
	SetVisibility
	Pause
	Resume
	RemoveDataset
	RemoveQuery
	RemoveJob
)

var byText = map[string]Name{
	"exit":   Exit,
	"quit":   Exit,
	"help":   Help,
	"login":  Login,
	"logout": Logout,
	"pushd":  PushDataset,
	"pushq":  PushQuery,
	"create": CreateJob,
	"getd":   GetDataset,
	"getj":   GetJob,
	"poll":   Poll,
	"stat":   Stat,
	"lsd":    ListDatasets,
	"lsq":    ListQueries,
	"lsj":    ListJobs,
	"setvis": SetVisibility,
	"pause":  Pause,
	"resume": Resume,
	"rmd":    RemoveDataset,
	"rmq":    RemoveQuery,
	"rmj":    RemoveJob,
}

// canonical is the primary spelling of each command.
var canonical = map[Name]string{
	Exit:          "exit",
	Help:          "help",
	Login:         "login",
	Logout:        "logout",
	PushDataset:   "pushd",
	PushQuery:     "pushq",
	CreateJob:     "create",
	GetDataset:    "getd",
	GetJob:        "getj",
	Poll:          "poll",
	Stat:          "stat",
	ListDatasets:  "lsd",
	ListQueries:   "lsq",
	ListJobs:      "lsj",
	SetVisibility: "setvis",
	Pause:         "pause",
	Resume:        "resume",
	RemoveDataset: "rmd",
	RemoveQuery:   "rmq",
	RemoveJob:     "rmj",
}

// Lookup resolves the exact (lower-cased) command text. There is no prefix
// matching; a typo yields Unknown.
func Lookup(text string) Name {
	return byText[text]
}

func (n Name) String() string {
	if s, ok := canonical[n]; ok {
		return s
	}
	return "unknown"
}

// All returns every known command sorted by its canonical spelling.
func All() []Name {
	out := make([]Name, 0, len(canonical))
	for n := range canonical {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// NeedsSession reports whether the command must run on a logged-in client.
func (n Name) NeedsSession() bool {
	switch n {
	case Unknown, Exit, Help, Login:
		return false
	default:
		return true
	}
}
