package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rescale/jobshell/internal/command"
	"github.com/rescale/jobshell/internal/models"
	"github.com/rescale/jobshell/internal/poll"
	"github.com/rescale/jobshell/internal/session"
	"github.com/rescale/jobshell/internal/status"
	"github.com/rescale/jobshell/internal/tracker"
	"github.com/rescale/jobshell/internal/validation"
)

func intParam(p command.Params, key string) int64 {
	n, _ := validation.PositiveInt(p.Value(key))
	return n
}

func boolParam(p command.Params, key string) bool {
	b, _ := validation.Bool(p.Value(key))
	return b
}

func (d *Dispatcher) help(p command.Params) (status.Code, error) {
	names := command.All()
	if p.Has("cmd") {
		n := command.Lookup(strings.ToLower(p.Value("cmd")))
		if n == command.Unknown {
			return status.BadCommand, fmt.Errorf("unknown command %q", p.Value("cmd"))
		}
		names = []command.Name{n}
	}

	for _, n := range names {
		required, optional := validation.Allowed(n)
		var b strings.Builder
		b.WriteString(n.String())
		for _, k := range required {
			fmt.Fprintf(&b, " %s=...", k)
		}
		for _, k := range optional {
			fmt.Fprintf(&b, " [%s=...]", k)
		}
		fmt.Fprintln(d.out, b.String())
	}
	return status.OK, nil
}

func (d *Dispatcher) doLogin(ctx context.Context, p command.Params) (status.Code, error) {
	conn := session.Connection{
		BaseURL:  p.Value("url"),
		Username: p.Value("user"),
		Password: p.Value("pass"),
	}
	return d.open(ctx, conn)
}

func (d *Dispatcher) open(ctx context.Context, conn session.Connection) (status.Code, error) {
	if conn.BaseURL == "" {
		conn.BaseURL = d.cfg.BaseURL
	}

	c, err := d.connect(ctx, conn)
	if err != nil {
		return result(err, status.Login)
	}
	d.client = c
	fmt.Fprintf(d.out, "logged in as %s at %s\n", conn.Username, conn.BaseURL)
	return status.Login, nil
}

func (d *Dispatcher) doLogout(ctx context.Context) (status.Code, error) {
	err := d.client.Logout(ctx)
	d.client.Close()
	d.client = nil
	return result(err, status.Logout)
}

func (d *Dispatcher) pushDataset(ctx context.Context, p command.Params) (status.Code, error) {
	id, err := d.client.UploadDataset(ctx, session.DatasetUpload{
		Name:        p.Value("name"),
		File:        p.Value("file"),
		URL:         p.Value("url"),
		Description: p.Value("desc"),
		Public:      boolParam(p, "public"),
	})
	if err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "dataset %d created\n", id)
	return status.OK, nil
}

func (d *Dispatcher) pushQuery(ctx context.Context, p command.Params) (status.Code, error) {
	id, err := d.client.UploadQuery(ctx, session.QueryUpload{
		Name:        p.Value("name"),
		File:        p.Value("file"),
		Description: p.Value("desc"),
		Public:      boolParam(p, "public"),
	})
	if err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "query %d created\n", id)
	return status.OK, nil
}

func (d *Dispatcher) createJob(ctx context.Context, p command.Params) (status.Code, error) {
	qids, _ := validation.IDList(p.Value("qid"))
	spec := session.JobSpec{
		DatasetID: intParam(p, "id"),
		QueryIDs:  qids,
		Name:      p.Value("name"),
		Public:    boolParam(p, "public"),
	}
	if p.Has("trav") {
		spec.Traversal, _ = models.ParseTraversal(p.Value("trav"))
	}
	if p.Has("timeout") {
		spec.Timeout = intParam(p, "timeout")
	}
	if p.Has("mem") {
		spec.MemoryGiB, _ = validation.PositiveReal(p.Value("mem"))
	}

	id, err := d.client.CreateJob(ctx, spec)
	if err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "job %d created\n", id)
	return status.OK, nil
}

func (d *Dispatcher) getDataset(ctx context.Context, p command.Params) (status.Code, error) {
	out := p.Value("out")
	n, err := d.client.DownloadDataset(ctx, intParam(p, "id"), out, boolParam(p, "ow"))
	if err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "saved %s (%d bytes)\n", out, n)
	return status.OK, nil
}

func (d *Dispatcher) getJob(ctx context.Context, p command.Params) (status.Code, error) {
	var stream models.StreamKind
	if p.Has("stream") {
		stream, _ = models.ParseStreamKind(p.Value("stream"))
	}
	out := p.Value("out")
	n, err := d.client.DownloadJob(ctx, intParam(p, "id"), stream, out, boolParam(p, "ow"))
	if err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "saved %s (%d bytes)\n", out, n)
	return status.OK, nil
}

func (d *Dispatcher) poll(ctx context.Context, p command.Params) (status.Code, error) {
	interval := d.cfg.Poll.Interval
	if p.Has("interval") {
		secs, _ := validation.PositiveReal(p.Value("interval"))
		interval = time.Duration(secs * float64(time.Second))
	}

	var obs poll.Observer
	if d.pollObserver != nil {
		obs = d.pollObserver()
	}

	jobID := intParam(p, "id")
	poller := &poll.Poller{
		Downloader: d.client,
		Tracker:    d.tracker,
		Interval:   interval,
		Sleep:      d.sleep,
		Observer:   obs,
		MaxRounds:  d.cfg.Poll.MaxRounds,
		Logger:     d.logger,
	}
	st, code, err := poller.Run(ctx, poll.Job{ID: jobID, Out: p.Value("out"), Overwrite: boolParam(p, "ow")})
	if err != nil {
		d.notifier.PollFailed(jobID, err.Error())
		return code, err
	}
	if code == status.JobDone {
		d.notifier.PollDone(jobID, p.Value("out"), st.Saved)
		if obs == nil {
			fmt.Fprintf(d.out, "job %d: all results retrieved (%d archive(s))\n", jobID, st.Saved)
		}
	}
	return code, nil
}

func (d *Dispatcher) stat(ctx context.Context, p command.Params) (status.Code, error) {
	id := intParam(p, "id")
	job, err := d.client.JobStatus(ctx, id)
	if err != nil {
		return result(err, status.OK)
	}

	fmt.Fprintf(d.out, "Job %d (%s)\n", job.ID, job.Name)
	fmt.Fprintf(d.out, "  Owner:     %s\n", job.Owner)
	fmt.Fprintf(d.out, "  Status:    %s\n", job.Status)
	fmt.Fprintf(d.out, "  Public:    %t\n", job.Public)
	fmt.Fprintf(d.out, "  Dataset:   %d\n", job.DatasetID)
	fmt.Fprintf(d.out, "  Queries:   %s\n", joinIDs(job.QueryIDs))
	if job.Traversal != "" {
		fmt.Fprintf(d.out, "  Traversal: %s\n", job.Traversal)
	}
	for _, s := range models.Streams {
		fmt.Fprintf(d.out, "  Retrieved %-6s up to index %d\n", s, d.tracker.Get(tracker.Key{JobID: id, Stream: s}))
	}
	return status.OK, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

var listTypes = map[command.Name]models.ResourceType{
	command.ListDatasets:  models.Datasets,
	command.ListQueries:   models.Queries,
	command.ListJobs:      models.Jobs,
	command.RemoveDataset: models.Datasets,
	command.RemoveQuery:   models.Queries,
	command.RemoveJob:     models.Jobs,
}

var singular = map[models.ResourceType]string{
	models.Datasets: "dataset",
	models.Queries:  "query",
	models.Jobs:     "job",
}

func (d *Dispatcher) list(ctx context.Context, cmd command.Name, p command.Params) (status.Code, error) {
	typ := listTypes[cmd]
	items, err := d.client.List(ctx, typ, session.ListFilter{ID: intParam(p, "id"), User: p.Value("user")})
	if err != nil {
		return result(err, status.OK)
	}

	if len(items) == 0 {
		fmt.Fprintf(d.out, "No %s found\n", typ)
		return status.OK, nil
	}
	if typ == models.Jobs {
		fmt.Fprintf(d.out, "%-8s %-30s %-15s %-10s %s\n", "ID", "NAME", "OWNER", "STATUS", "PUBLIC")
		for _, r := range items {
			fmt.Fprintf(d.out, "%-8d %-30s %-15s %-10s %t\n", r.ID, truncate(r.Name, 30), r.Owner, r.Status, r.Public)
		}
		return status.OK, nil
	}
	fmt.Fprintf(d.out, "%-8s %-30s %-15s %-6s %s\n", "ID", "NAME", "OWNER", "PUBLIC", "DESCRIPTION")
	for _, r := range items {
		fmt.Fprintf(d.out, "%-8d %-30s %-15s %-6t %s\n", r.ID, truncate(r.Name, 30), r.Owner, r.Public, r.Description)
	}
	return status.OK, nil
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func (d *Dispatcher) setVisibility(ctx context.Context, p command.Params) (status.Code, error) {
	typ, _ := models.ParseResourceType(p.Value("type"))
	return result(d.client.SetVisibility(ctx, typ, intParam(p, "id"), boolParam(p, "public")), status.OK)
}

func (d *Dispatcher) pauseResume(ctx context.Context, cmd command.Name, p command.Params) (status.Code, error) {
	id := intParam(p, "id")
	if cmd == command.Pause {
		return result(d.client.PauseJob(ctx, id), status.OK)
	}
	return result(d.client.ResumeJob(ctx, id), status.OK)
}

func (d *Dispatcher) remove(ctx context.Context, cmd command.Name, p command.Params) (status.Code, error) {
	typ := listTypes[cmd]
	id := intParam(p, "id")
	if err := d.client.Delete(ctx, typ, id); err != nil {
		return result(err, status.OK)
	}
	fmt.Fprintf(d.out, "%s %d deleted\n", singular[typ], id)
	return status.OK, nil
}
