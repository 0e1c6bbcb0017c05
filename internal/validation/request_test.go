package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/jobshell/internal/command"
	"github.com/rescale/jobshell/internal/status"
)

func parse(t *testing.T, line string) (command.Name, command.Params) {
	t.Helper()
	name, p, err := command.ExtractParams(line)
	require.NoError(t, err)
	n := command.Lookup(name)
	require.NotEqual(t, command.Unknown, n, "unknown command in %q", line)
	return n, p
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
}

func TestMissingRequiredParamIsNamed(t *testing.T) {
	tests := []struct {
		line    string
		missing string
	}{
		{"login pass=x", "user"},
		{"login user=alice", "pass"},
		{"pushd file=/tmp/x.zip", "name"},
		{"pushd name=ds", "file"},
		{"pushq name=q", "file"},
		{"create qid=1", "id"},
		{"create id=1", "qid"},
		{"getd out=/tmp/x.zip", "id"},
		{"getj id=5", "out"},
		{"poll id=5", "out"},
		{"stat", "id"},
		{"setvis id=1 public=true", "type"},
		{"setvis type=j public=true", "id"},
		{"setvis type=j id=3", "public"},
		{"pause", "id"},
		{"resume", "id"},
		{"rmd", "id"},
		{"rmq", "id"},
		{"rmj", "id"},
		{"getj id=5 out=", "out"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			n, p := parse(t, tt.line)
			res := Validate(n, p)
			assert.Equal(t, status.MissingParam, res.Code)
			assert.Equal(t, tt.missing, res.MissingParam)
		})
	}
}

func TestCreateJobTraversal(t *testing.T) {
	n, p := parse(t, "create id=3 qid=2 trav=x")
	assert.Equal(t, status.BadTraversal, Validate(n, p).Code)

	n, p = parse(t, "create id=3 qid=2 trav=r")
	assert.Equal(t, status.OK, Validate(n, p).Code)
}

func TestCreateJobFormats(t *testing.T) {
	tests := []struct {
		line string
		want status.Code
	}{
		{"create id=0 qid=2", status.BadID},
		{"create id=abc qid=2", status.BadID},
		{"create id=3 qid=2,,4", status.BadIDList},
		{"create id=3 qid=1,2,3", status.OK},
		{"create id=3 qid=2 timeout=-5", status.BadTimeout},
		{"create id=3 qid=2 timeout=1.5", status.BadTimeout},
		{"create id=3 qid=2 timeout=600", status.OK},
		{"create id=3 qid=2 mem=0", status.BadMemory},
		{"create id=3 qid=2 mem=1.5", status.OK},
		{"create id=3 qid=2 public=yes", status.BadBoolean},
		{"create id=3 qid=2 public=TRUE name=my job", status.OK},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			n, p := parse(t, tt.line)
			assert.Equal(t, tt.want, Validate(n, p).Code)
		})
	}
}

func TestDownloadExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "f.zip")
	touch(t, out)

	n, p := parse(t, "getj id=5 out="+out)
	assert.Equal(t, status.FileExists, Validate(n, p).Code)

	n, p = parse(t, "getj id=5 out="+out+" ow=true")
	assert.Equal(t, status.OK, Validate(n, p).Code)

	n, p = parse(t, "getd id=5 out="+out+" ow=false")
	assert.Equal(t, status.FileExists, Validate(n, p).Code)
}

func TestDownloadTargets(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		line string
		want status.Code
	}{
		{"getj id=5 out=" + filepath.Join(dir, "new", "f.zip"), status.OK},
		{"getj id=5 out=" + filepath.Join(dir, "f.tar"), status.BadArchiveType},
		{"getj id=5 out=" + filepath.Join(dir, "f.zip") + " stream=info", status.OK},
		{"getj id=5 out=" + filepath.Join(dir, "f.zip") + " stream=logs", status.BadParams},
		{"getj id=5 out=" + filepath.Join(dir, "f.zip") + " ow=maybe", status.BadBoolean},
		{"poll id=5 out=" + filepath.Join(dir, "r.zip") + " interval=0.5", status.OK},
		{"poll id=5 out=" + filepath.Join(dir, "r.zip") + " interval=0", status.BadInterval},
		{"poll id=x out=" + filepath.Join(dir, "r.zip"), status.BadID},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			n, p := parse(t, tt.line)
			assert.Equal(t, tt.want, Validate(n, p).Code)
		})
	}
}

func TestPollDoesNotCheckExistingBase(t *testing.T) {
	out := filepath.Join(t.TempDir(), "r.zip")
	touch(t, out)

	n, p := parse(t, "poll id=5 out="+out)
	assert.Equal(t, status.OK, Validate(n, p).Code)
}

func TestPushDataset(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "graph.tar.gz")
	text := filepath.Join(dir, "graph.csv")
	touch(t, archive)
	touch(t, text)

	tests := []struct {
		line string
		want status.Code
	}{
		{"pushd name=g file=" + archive, status.OK},
		{"pushd name=g file=" + text, status.BadArchiveType},
		{"pushd name=g file=" + filepath.Join(dir, "missing.zip"), status.FileNotFound},
		{"pushd name=g file=" + dir, status.FileNotFound},
		{"pushd name=g url=https://data.example.com/g.zip", status.OK},
		{"pushd name=g url=file:///etc/passwd", status.URLNotAllowed},
		{"pushd name=g file=" + archive + " url=https://h/g.zip", status.FileAndURL},
		{"pushd name=g file=" + archive + " public=nope", status.BadBoolean},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			n, p := parse(t, tt.line)
			assert.Equal(t, tt.want, Validate(n, p).Code)
		})
	}
}

func TestPushQuery(t *testing.T) {
	q := filepath.Join(t.TempDir(), "q1.txt")

	n, p := parse(t, "pushq name=q1 file="+q)
	assert.Equal(t, status.FileNotFound, Validate(n, p).Code)

	touch(t, q)
	assert.Equal(t, status.OK, Validate(n, p).Code)
}

func TestListings(t *testing.T) {
	tests := []struct {
		line string
		want status.Code
	}{
		{"lsj", status.OK},
		{"lsd user=bob", status.OK},
		{"lsq id=4", status.OK},
		{"lsj id=4 user=bob", status.IDAndUser},
		{"lsj id=-4", status.BadID},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			n, p := parse(t, tt.line)
			assert.Equal(t, tt.want, Validate(n, p).Code)
		})
	}
}

func TestSetVisibility(t *testing.T) {
	n, p := parse(t, "setvis type=q id=2 public=false")
	assert.Equal(t, status.OK, Validate(n, p).Code)

	n, p = parse(t, "setvis type=x id=2 public=false")
	assert.Equal(t, status.BadParams, Validate(n, p).Code)
}

func TestLoginAddress(t *testing.T) {
	n, p := parse(t, "login user=a pass=b url=https://jobs.example.org/server")
	assert.Equal(t, status.OK, Validate(n, p).Code)

	n, p = parse(t, "login user=a pass=b url=jobs.example.org")
	assert.Equal(t, status.BadAddress, Validate(n, p).Code)
}

func TestUnnecessaryParamsAreWarningsOnly(t *testing.T) {
	n, p := parse(t, "stat id=4 verbose=true color=red")
	res := Validate(n, p)

	assert.Equal(t, status.OK, res.Code)
	assert.Equal(t, []string{"verbose", "color"}, res.Unnecessary)
}

func TestUnnecessaryParamsAreNotFormatChecked(t *testing.T) {
	// "trav" is not a logout parameter, so its bad value must not fail the command.
	n, p := parse(t, "logout trav=zzz")
	res := Validate(n, p)

	assert.Equal(t, status.OK, res.Code)
	assert.Equal(t, []string{"trav"}, res.Unnecessary)
}

func TestResultsAreIndependent(t *testing.T) {
	n1, p1 := parse(t, "create qid=1")
	n2, p2 := parse(t, "stat id=2 extra=1")

	r1 := Validate(n1, p1)
	r2 := Validate(n2, p2)

	assert.Equal(t, "id", r1.MissingParam)
	assert.Empty(t, r1.Unnecessary)
	assert.Empty(t, r2.MissingParam)
	assert.Equal(t, []string{"extra"}, r2.Unnecessary)
}

func TestUnknownCommand(t *testing.T) {
	assert.Equal(t, status.BadCommand, Validate(command.Unknown, command.NewParams()).Code)
}

func TestEveryCommandHasRule(t *testing.T) {
	for _, n := range command.All() {
		_, ok := rules[n]
		assert.True(t, ok, "no validation rule for %s", n)
	}
}
