// Package sessiontest provides an in-process job server for tests.
package sessiontest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rescale/jobshell/internal/constants"
	"github.com/rescale/jobshell/internal/models"
)

// Cookie is the session cookie name the server issues.
const Cookie = "JSESSIONID"

type streamKey struct {
	job    int64
	stream models.StreamKind
}

type result struct {
	index int64
	data  []byte
}

// Upload records one dataset or query upload.
type Upload struct {
	Type     models.ResourceType
	Name     string
	Filename string
	URL      string
	Size     int64
}

// Server is a scripted job server. All exported fields may be set before
// the first request; use the methods afterwards.
type Server struct {
	*httptest.Server

	// BaseURL is the address clients should use (server URL plus path prefix).
	BaseURL string

	// RotateTokens issues a fresh token on every authenticated response.
	RotateTokens bool
	// OmitAttachment drops Content-Disposition from archive responses.
	OmitAttachment bool
	// OmitMaxIndex drops the max completion index header.
	OmitMaxIndex bool

	requests int64

	mu        sync.Mutex
	users     map[string]string
	anon      map[string]bool
	tokens    map[string]string
	nextToken int
	nextID    int64
	results   map[streamKey][]result
	complete  map[streamKey]bool
	jobs      map[int64]*models.Job
	resources map[models.ResourceType][]models.Resource
	datasets  map[int64][]byte
	uploads   []Upload
	failures  map[string]int
	log       []string
}

// NewServer starts a server with a single user and registers its shutdown
// with t.
func NewServer(t testing.TB, user, password string) *Server {
	s := &Server{
		users:     map[string]string{user: password},
		anon:      make(map[string]bool),
		tokens:    make(map[string]string),
		nextID:    100,
		results:   make(map[streamKey][]result),
		complete:  make(map[streamKey]bool),
		jobs:      make(map[int64]*models.Job),
		resources: make(map[models.ResourceType][]models.Resource),
		datasets:  make(map[int64][]byte),
		failures:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("POST /{type}", s.authed(s.handleCreate))
	mux.HandleFunc("GET /{type}", s.authed(s.handleList))
	mux.HandleFunc("GET /jobs/{id}", s.authed(s.handleJob))
	mux.HandleFunc("GET /{type}/{id}/archive", s.authed(s.handleArchive))
	mux.HandleFunc("POST /{type}/{id}/{action}", s.authed(s.handleAction))
	mux.HandleFunc("DELETE /{type}/{id}", s.authed(s.handleDelete))

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requests, 1)
		s.mu.Lock()
		s.log = append(s.log, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/jobserver"))
		s.mu.Unlock()
		http.StripPrefix("/jobserver", mux).ServeHTTP(w, r)
	}))
	s.BaseURL = s.Server.URL + "/jobserver"
	t.Cleanup(s.Server.Close)
	return s
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int {
	return int(atomic.LoadInt64(&s.requests))
}

// Log returns "METHOD path" for every request received so far.
func (s *Server) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Uploads returns the uploads received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// SetPassword changes a user's password. Existing sessions stay valid.
func (s *Server) SetPassword(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = password
}

// ExpireSessions forgets every issued token, so the next authenticated
// request gets 401.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// FailNext makes the next request to "METHOD path" fail with code.
func (s *Server) FailNext(method, path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = code
}

// AddJob registers a job owned by owner and returns its id.
func (s *Server) AddJob(owner string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.jobs[id] = &models.Job{ID: id, Name: fmt.Sprintf("job-%d", id), Owner: owner, Status: "running"}
	s.resources[models.Jobs] = append(s.resources[models.Jobs], models.Resource{ID: id, Name: s.jobs[id].Name, Owner: owner, Status: "running"})
	return id
}

// AddDataset registers a dataset archive and returns its id.
func (s *Server) AddDataset(owner, name string, data []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.datasets[id] = data
	s.resources[models.Datasets] = append(s.resources[models.Datasets], models.Resource{ID: id, Name: name, Owner: owner})
	return id
}

// AddResult appends a result to a job stream and returns its completion index.
func (s *Server) AddResult(job int64, stream models.StreamKind, data string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := streamKey{job, stream}
	idx := int64(len(s.results[k]) + 1)
	s.results[k] = append(s.results[k], result{index: idx, data: []byte(data)})
	return idx
}

// Complete marks a job stream as finished.
func (s *Server) Complete(job int64, stream models.StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[streamKey{job, stream}] = true
	if j, ok := s.jobs[job]; ok && s.complete[streamKey{job, models.StreamInfo}] && s.complete[streamKey{job, models.StreamOutput}] {
		j.Status = "completed"
	}
}

// Job returns a copy of the server's job record.
func (s *Server) Job(id int64) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *j, true
}

func (s *Server) issueToken(w http.ResponseWriter, prefix string) string {
	s.nextToken++
	tok := fmt.Sprintf("%s-%d", prefix, s.nextToken)
	http.SetCookie(w, &http.Cookie{Name: Cookie, Value: tok, Path: "/"})
	return tok
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ck, err := r.Cookie(Cookie); err == nil {
		if _, ok := s.tokens[ck.Value]; ok || s.anon[ck.Value] {
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	s.anon[s.issueToken(w, "anon")] = true
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := r.PostForm.Get("username")
	pass, ok := s.users[user]
	if !ok || pass != r.PostForm.Get("password") {
		// Re-render the login page without a new session.
		w.WriteHeader(http.StatusOK)
		return
	}
	s.tokens[s.issueToken(w, "tok")] = user
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ck, err := r.Cookie(Cookie); err == nil {
		delete(s.tokens, ck.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: Cookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user string)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/jobserver")
		if code, ok := s.failures[key]; ok {
			delete(s.failures, key)
			s.mu.Unlock()
			w.WriteHeader(code)
			return
		}
		ck, err := r.Cookie(Cookie)
		var user string
		var valid bool
		if err == nil {
			user, valid = s.tokens[ck.Value]
		}
		if !valid {
			s.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.RotateTokens {
			delete(s.tokens, ck.Value)
			s.tokens[s.issueToken(w, "tok")] = user
		}
		s.mu.Unlock()
		h(w, r, user)
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": msg})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func resourceType(w http.ResponseWriter, r *http.Request) (models.ResourceType, bool) {
	switch t := models.ResourceType(r.PathValue("type")); t {
	case models.Datasets, models.Queries, models.Jobs:
		return t, true
	default:
		http.NotFound(w, r)
		return "", false
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, user string) {
	typ, ok := resourceType(w, r)
	if !ok {
		return
	}
	if typ == models.Jobs {
		s.createJob(w, r, user)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up := Upload{Type: typ}
	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if part.FileName() != "" {
			up.Filename = part.FileName()
			up.Size, _ = io.Copy(io.Discard, part)
			continue
		}
		v, _ := io.ReadAll(part)
		fields[part.FormName()] = string(v)
	}
	up.Name = fields["name"]
	up.URL = fields["url"]
	if strings.HasPrefix(up.URL, "ftp://blocked") {
		writeError(w, http.StatusForbidden, "url_not_allowed", "source not allowed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.resources[typ] {
		if res.Name == up.Name && res.Owner == user {
			writeError(w, http.StatusConflict, "name_not_unique", "name already used")
			return
		}
	}
	s.nextID++
	id := s.nextID
	s.resources[typ] = append(s.resources[typ], models.Resource{
		ID: id, Name: up.Name, Owner: user, Public: fields["public"] == "true", Description: fields["description"],
	})
	if typ == models.Datasets {
		s.datasets[id] = []byte("dataset " + up.Name)
	}
	s.uploads = append(s.uploads, up)
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request, user string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	datasetID, _ := strconv.ParseInt(r.PostForm.Get("datasetId"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[datasetID]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such dataset")
		return
	}
	var qids []int64
	for _, q := range strings.Split(r.PostForm.Get("queryIds"), ",") {
		n, _ := strconv.ParseInt(q, 10, 64)
		qids = append(qids, n)
	}
	mem, _ := strconv.ParseFloat(r.PostForm.Get("memory"), 64)
	timeout, _ := strconv.ParseInt(r.PostForm.Get("timeout"), 10, 64)

	s.nextID++
	id := s.nextID
	name := r.PostForm.Get("name")
	if name == "" {
		name = fmt.Sprintf("job-%d", id)
	}
	s.jobs[id] = &models.Job{
		ID: id, Name: name, Owner: user, Status: "running", Public: r.PostForm.Get("public") == "true",
		DatasetID: datasetID, QueryIDs: qids, Traversal: r.PostForm.Get("traversal"), Timeout: timeout, MemoryGiB: mem,
	}
	s.resources[models.Jobs] = append(s.resources[models.Jobs], models.Resource{ID: id, Name: name, Owner: user, Status: "running"})
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, user string) {
	typ, ok := resourceType(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()
	items := []models.Resource{}
	for _, res := range s.resources[typ] {
		if id := q.Get("id"); id != "" && strconv.FormatInt(res.ID, 10) != id {
			continue
		}
		if u := q.Get("user"); u != "" && res.Owner != u {
			continue
		}
		if typ == models.Jobs {
			if j, ok := s.jobs[res.ID]; ok {
				res.Status = j.Status
				res.Public = j.Public
			}
		}
		items = append(items, res)
	}
	writeJSON(w, items)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, user string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	writeJSON(w, j)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, user string) {
	typ, ok := resourceType(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	_ = r.ParseForm()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch action := r.PathValue("action"); {
	case action == "visibility":
		found := false
		for i := range s.resources[typ] {
			res := &s.resources[typ][i]
			if res.ID != id {
				continue
			}
			found = true
			if res.Owner != user {
				writeError(w, http.StatusForbidden, "permission_denied", "not the owner")
				return
			}
			res.Public = r.PostForm.Get("public") == "true"
			if j, ok := s.jobs[id]; ok {
				j.Public = res.Public
			}
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "no such id")
			return
		}
	case typ == models.Jobs && (action == "pause" || action == "resume"):
		j, ok := s.jobs[id]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		if j.Owner != user {
			writeError(w, http.StatusForbidden, "permission_denied", "not the owner")
			return
		}
		if action == "pause" {
			j.Status = "paused"
		} else {
			j.Status = "running"
		}
	default:
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user string) {
	typ, ok := resourceType(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.resources[typ]
	for i, res := range list {
		if res.ID != id {
			continue
		}
		if res.Owner != user {
			writeError(w, http.StatusForbidden, "permission_denied", "not the owner")
			return
		}
		s.resources[typ] = append(list[:i], list[i+1:]...)
		delete(s.jobs, id)
		delete(s.datasets, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "no such id")
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, user string) {
	typ, ok := resourceType(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if typ == models.Datasets {
		data, ok := s.datasets[id]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no such dataset")
			return
		}
		s.sendArchive(w, fmt.Sprintf("dataset-%d.zip", id), map[string][]byte{"data": data})
		return
	}
	if _, ok := s.jobs[id]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}

	q := r.URL.Query()
	streams := models.Streams
	if sk := q.Get("stream"); sk != "" {
		streams = []models.StreamKind{models.StreamKind(sk)}
	}

	rawSince := q.Get("since")
	since, _ := strconv.ParseInt(rawSince, 10, 64)
	files := map[string][]byte{}
	var maxIndex int64
	for _, st := range streams {
		for _, res := range s.results[streamKey{id, st}] {
			if res.index > maxIndex {
				maxIndex = res.index
			}
			if res.index > since {
				files[fmt.Sprintf("%s-%d.txt", st, res.index)] = res.data
			}
		}
	}

	if rawSince != "" {
		if len(streams) == 1 && s.complete[streamKey{id, streams[0]}] {
			w.Header().Set(constants.CompletionMarkerHeader, constants.CompletionMarkerValue)
		}
		if !s.OmitMaxIndex {
			w.Header().Set(constants.MaxCompletionIndexHeader, strconv.FormatInt(maxIndex, 10))
		}
		if maxIndex <= since {
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	s.sendArchive(w, fmt.Sprintf("job-%d.zip", id), files)
}

func (s *Server) sendArchive(w http.ResponseWriter, filename string, files map[string][]byte) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, _ := zw.Create(name)
		_, _ = fw.Write(files[name])
	}
	_ = zw.Close()

	if !s.OmitAttachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

// ArchiveEntries lists the file names inside a zip archive on disk.
func ArchiveEntries(t testing.TB, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive %s: %v", path, err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}
