package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// RecordedRequest is one request seen by a FakeServer
type RecordedRequest struct {
	Method    string
	Path      string
	Query     string
	Directory string
	Body      string
}

// FakeServer is an in-process opencode server. History items are stored per
// session oldest first and paged the way the real server pages them.
type FakeServer struct {
	*httptest.Server

	mu          sync.Mutex
	projects    []any
	sessions    []map[string]any
	statuses    map[string]any
	messages    map[string][]map[string]any
	todos       map[string]any
	created     int
	providers   any
	failures    map[string]int
	requests    []RecordedRequest
	subscribers map[chan string]struct{}
}

// NewFakeServer starts a FakeServer that is closed with the test
func NewFakeServer(t *testing.T) *FakeServer {
	t.Helper()
	fs := &FakeServer{
		statuses:    make(map[string]any),
		messages:    make(map[string][]map[string]any),
		todos:       make(map[string]any),
		failures:    make(map[string]int),
		subscribers: make(map[chan string]struct{}),
		providers:   map[string]any{"providers": []any{}, "default": map[string]any{}},
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(func() {
		fs.CloseClientConnections()
		fs.Close()
	})
	return fs
}

// AddProject registers a project with the given worktree
func (fs *FakeServer) AddProject(id, worktree string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.projects = append(fs.projects, map[string]any{"id": id, "worktree": worktree})
}

// AddSession registers a session
func (fs *FakeServer) AddSession(id, directory, title string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sessions = append(fs.sessions, map[string]any{
		"id": id, "directory": directory, "title": title,
		"time": map[string]any{"created": 1700000000000, "updated": 1700000000000},
	})
}

// SetStatus sets the reported status of a session
func (fs *FakeServer) SetStatus(sessionID, status string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statuses[sessionID] = map[string]any{"type": status}
}

// SetTodos sets the body of GET /session/{id}/todo
func (fs *FakeServer) SetTodos(sessionID string, todos any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.todos[sessionID] = todos
}

// HasSession reports whether a session with id exists
func (fs *FakeServer) HasSession(id string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, s := range fs.sessions {
		if s["id"] == id {
			return true
		}
	}
	return false
}

// SetProviders sets the body of GET /config/providers
func (fs *FakeServer) SetProviders(v any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.providers = v
}

// AddMessages appends history items, oldest first
func (fs *FakeServer) AddMessages(sessionID string, items ...map[string]any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.messages[sessionID] = append(fs.messages[sessionID], items...)
}

// FailNext makes the next n requests whose path has the given prefix fail
// with 500
func (fs *FakeServer) FailNext(pathPrefix string, n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failures[pathPrefix] = n
}

// HistoryItem builds a history item in the info+parts shape
func HistoryItem(id, role, sessionID, text string) map[string]any {
	return map[string]any{
		"info": map[string]any{"id": id, "role": role, "sessionID": sessionID},
		"parts": []any{
			map[string]any{"type": "text", "text": text},
		},
	}
}

// HistoryItems builds n assistant items with ids prefix0001..prefixNNNN
func HistoryItems(prefix, sessionID string, n int) []map[string]any {
	items := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s%04d", prefix, i)
		items = append(items, HistoryItem(id, "assistant", sessionID, "message "+id))
	}
	return items
}

// Requests returns a copy of the requests seen so far
func (fs *FakeServer) Requests() []RecordedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]RecordedRequest(nil), fs.requests...)
}

// CountRequests counts requests whose path starts with prefix
func (fs *FakeServer) CountRequests(method, prefix string) int {
	n := 0
	for _, r := range fs.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// Publish sends one SSE data frame to every connected stream
func (fs *FakeServer) Publish(data string) {
	fs.mu.Lock()
	subs := make([]chan string, 0, len(fs.subscribers))
	for ch := range fs.subscribers {
		subs = append(subs, ch)
	}
	fs.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// PublishJSON marshals v and publishes it
func (fs *FakeServer) PublishJSON(t *testing.T, v any) {
	t.Helper()
	fs.Publish(string(JSONMarshal(t, v)))
}

// Subscribers returns the number of open event streams
func (fs *FakeServer) Subscribers() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.subscribers)
}

// WaitForSubscribers blocks until n streams are open or the timeout expires
func (fs *FakeServer) WaitForSubscribers(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fs.Subscribers() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d subscribers (have %d)", n, fs.Subscribers())
}

func (fs *FakeServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fs.mu.Lock()
	fs.requests = append(fs.requests, RecordedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		Directory: r.Header.Get("x-opencode-directory"),
		Body:      string(body),
	})
	for prefix, n := range fs.failures {
		if n > 0 && strings.HasPrefix(r.URL.Path, prefix) {
			fs.failures[prefix] = n - 1
			fs.mu.Unlock()
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
	}
	fs.mu.Unlock()

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case path == "/global/event":
		fs.serveEvents(w, r)
	case path == "/project":
		fs.writeLocked(w, func() any { return orEmpty(fs.projects) })
	case path == "/session" && r.Method == http.MethodPost:
		fs.createSession(w, r, body)
	case path == "/session":
		dir := r.Header.Get("x-opencode-directory")
		fs.writeLocked(w, func() any {
			out := make([]any, 0, len(fs.sessions))
			for _, s := range fs.sessions {
				if dir != "" && s["directory"] != dir {
					continue
				}
				out = append(out, s)
			}
			return out
		})
	case path == "/session/status":
		fs.writeLocked(w, func() any { return fs.statuses })
	case path == "/config/providers":
		fs.writeLocked(w, func() any { return fs.providers })
	case strings.HasPrefix(path, "/session/"):
		fs.serveSession(w, r, strings.Split(strings.TrimPrefix(path, "/session/"), "/"))
	default:
		http.NotFound(w, r)
	}
}

func (fs *FakeServer) serveSession(w http.ResponseWriter, r *http.Request, segments []string) {
	id := segments[0]
	if len(segments) == 1 && r.Method == http.MethodDelete {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for i, s := range fs.sessions {
			if s["id"] == id {
				fs.sessions = append(fs.sessions[:i], fs.sessions[i+1:]...)
				delete(fs.messages, id)
				writeJSON(w, true)
				return
			}
		}
		http.NotFound(w, r)
		return
	}
	if len(segments) == 1 {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for _, s := range fs.sessions {
			if s["id"] == id {
				writeJSON(w, s)
				return
			}
		}
		http.NotFound(w, r)
		return
	}

	switch segments[1] {
	case "message":
		if r.Method == http.MethodPost {
			writeJSON(w, map[string]any{"ok": true})
			return
		}
		fs.serveMessages(w, r, id)
	case "command":
		writeJSON(w, map[string]any{"ok": true})
	case "todo":
		fs.writeLocked(w, func() any {
			if todos, ok := fs.todos[id]; ok {
				return todos
			}
			return []any{}
		})
	default:
		http.NotFound(w, r)
	}
}

// createSession adds a session in the requesting directory, newest first
func (fs *FakeServer) createSession(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(body, &req)

	fs.mu.Lock()
	fs.created++
	now := time.Now().UnixMilli()
	s := map[string]any{
		"id":        fmt.Sprintf("ses_new%d", fs.created),
		"directory": r.Header.Get("x-opencode-directory"),
		"title":     req.Title,
		"time":      map[string]any{"created": now, "updated": now},
	}
	fs.sessions = append([]map[string]any{s}, fs.sessions...)
	fs.mu.Unlock()
	writeJSON(w, s)
}

func (fs *FakeServer) serveMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	fs.mu.Lock()
	all := fs.messages[sessionID]
	fs.mu.Unlock()

	indexOf := func(id string) int {
		for i, m := range all {
			if info, ok := m["info"].(map[string]any); ok && info["id"] == id {
				return i
			}
		}
		return -1
	}

	var page []map[string]any
	switch {
	case q.Get("after") != "":
		i := indexOf(q.Get("after"))
		page = all[i+1:]
		if limit > 0 && len(page) > limit {
			page = page[:limit]
		}
	default:
		end := len(all)
		if before := q.Get("before"); before != "" {
			end = indexOf(before)
			if end < 0 {
				end = 0
			}
		}
		start := 0
		if limit > 0 && end-limit > 0 {
			start = end - limit
		}
		page = all[start:end]
	}

	out := make([]any, 0, len(page))
	for _, m := range page {
		out = append(out, m)
	}
	writeJSON(w, out)
}

func (fs *FakeServer) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := make(chan string, 16)
	fs.mu.Lock()
	fs.subscribers[ch] = struct{}{}
	fs.mu.Unlock()
	defer func() {
		fs.mu.Lock()
		delete(fs.subscribers, ch)
		fs.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (fs *FakeServer) writeLocked(w http.ResponseWriter, value func() any) {
	fs.mu.Lock()
	v := value()
	data, err := json.Marshal(v)
	fs.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}
