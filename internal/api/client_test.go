package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/testutil"
)

func TestNewNormalizesURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://host:4096", "http://host:4096"},
		{"http://host:4096/", "http://host:4096"},
		{"http://host:4096/global/event", "http://host:4096"},
		{" http://host:4096/global/event/ ", "http://host:4096"},
	}
	for _, tt := range tests {
		c := New(tt.in)
		if c.BaseURL() != tt.want {
			t.Errorf("New(%q).BaseURL() = %q, want %q", tt.in, c.BaseURL(), tt.want)
		}
		if c.EventURL() != tt.want+"/global/event" {
			t.Errorf("EventURL() = %q", c.EventURL())
		}
	}
}

func TestHealth(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	c := New(fs.URL)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if fs.CountRequests("HEAD", "/") != 1 {
		t.Errorf("expected one HEAD request, got %v", fs.Requests())
	}

	fs.FailNext("/", 1)
	err := c.Health(context.Background())
	var fe *internal.FetchError
	if !errors.As(err, &fe) || fe.Status != 500 {
		t.Errorf("Health() error = %v, want FetchError with status 500", err)
	}
}

func TestHealthUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	err := c.Health(context.Background())
	var fe *internal.FetchError
	if !errors.As(err, &fe) || fe.Op != "HEAD" {
		t.Errorf("Health() error = %v, want FetchError for HEAD", err)
	}
}

func TestProjectsAndSessions(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	fs.AddProject("p1", "/work/alpha")
	fs.AddSession("s1", "/work/alpha", "First")
	fs.SetStatus("s1", "busy")
	ctx := context.Background()

	c := New(fs.URL)
	projects, err := c.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].Name() != "alpha" {
		t.Fatalf("Projects() = %+v", projects)
	}

	pc := c.ForProject(&projects[0])
	sessions, err := pc.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "First" {
		t.Errorf("Sessions() = %+v", sessions)
	}

	reqs := fs.Requests()
	last := reqs[len(reqs)-1]
	if last.Directory != "/work/alpha" {
		t.Errorf("directory header = %q, want /work/alpha", last.Directory)
	}
	if c.Directory() != "" {
		t.Error("ForProject modified the original client")
	}

	statuses, err := pc.SessionStatuses(ctx)
	if err != nil {
		t.Fatalf("SessionStatuses() error = %v", err)
	}
	if statuses["s1"].Type != internal.SessionBusy {
		t.Errorf("SessionStatuses() = %v", statuses)
	}

	s, err := pc.GetSession(ctx, "s1")
	if err != nil || s.ID != "s1" {
		t.Errorf("GetSession() = %+v, %v", s, err)
	}
	if _, err := pc.GetSession(ctx, "missing"); err == nil {
		t.Error("GetSession(missing) expected error")
	}
}

func TestMessagesQuery(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	fs.AddMessages("s1", testutil.HistoryItems("m", "s1", 30)...)
	c := New(fs.URL)
	ctx := context.Background()

	items, err := c.Messages(ctx, "s1", MessageQuery{Limit: 20})
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(items) != 20 {
		t.Fatalf("Messages() returned %d items, want 20", len(items))
	}
	var first struct {
		Info struct {
			ID string `json:"id"`
		} `json:"info"`
	}
	if err := json.Unmarshal(items[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.Info.ID != "m0011" {
		t.Errorf("first id = %q, want m0011", first.Info.ID)
	}

	items, err = c.Messages(ctx, "s1", MessageQuery{Limit: 20, Before: "m0011"})
	if err != nil || len(items) != 10 {
		t.Errorf("Messages(before) = %d items, %v", len(items), err)
	}

	items, err = c.Messages(ctx, "s1", MessageQuery{After: "m0028"})
	if err != nil || len(items) != 2 {
		t.Errorf("Messages(after) = %d items, %v", len(items), err)
	}

	reqs := fs.Requests()
	if q := reqs[len(reqs)-1].Query; q != "after=m0028" {
		t.Errorf("query = %q", q)
	}
}

func TestSendMessageAndCommand(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	c := New(fs.URL)
	ctx := context.Background()

	err := c.SendMessage(ctx, "s1", SendRequest{Text: "hi", Agent: "plan", ProviderID: "anthropic", ModelID: "claude"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	reqs := fs.Requests()
	body := reqs[len(reqs)-1].Body
	for _, want := range []string{`"text":"hi"`, `"agent":"plan"`, `"providerID":"anthropic"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}

	if err := c.SendCommand(ctx, "s1", "/review", []string{"a", "b"}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	reqs = fs.Requests()
	last := reqs[len(reqs)-1]
	if last.Path != "/session/s1/command" || !strings.Contains(last.Body, `"command":"review"`) || !strings.Contains(last.Body, `"arguments":"a b"`) {
		t.Errorf("command request = %+v", last)
	}

	fs.FailNext("/session/s1/message", 1)
	if err := c.SendMessage(ctx, "s1", SendRequest{Text: "x"}); err == nil {
		t.Error("SendMessage() expected error on 500")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantArgs int
	}{
		{"/review a b", "review", 2},
		{"  /init  ", "init", 0},
		{"compact", "compact", 0},
		{"", "", 0},
	}
	for _, tt := range tests {
		name, args := ParseCommand(tt.in)
		if name != tt.wantName || len(args) != tt.wantArgs {
			t.Errorf("ParseCommand(%q) = %q, %v", tt.in, name, args)
		}
	}
}

func TestProviders(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	fs.SetProviders(map[string]any{
		"providers": []any{map[string]any{"id": "anthropic", "name": "Anthropic"}},
		"default":   map[string]any{"anthropic": "claude"},
	})
	pr, err := New(fs.URL).Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	if len(pr.Providers) != 1 || pr.Default["anthropic"] != "claude" {
		t.Errorf("Providers() = %+v", pr)
	}
}

func TestCreateAndDeleteSession(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	c := New(fs.URL).ForProject(&internal.Project{ID: "p1", Worktree: "/work/app"})
	ctx := context.Background()

	s, err := c.CreateSession(ctx, "New work")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if s.ID == "" || s.Title != "New work" || s.Directory != "/work/app" {
		t.Errorf("CreateSession() = %+v", s)
	}
	if !fs.HasSession(s.ID) {
		t.Fatalf("server does not know %s", s.ID)
	}

	if err := c.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if fs.HasSession(s.ID) {
		t.Error("session still present after DeleteSession")
	}

	var fetchErr *internal.FetchError
	if err := c.DeleteSession(ctx, s.ID); !errors.As(err, &fetchErr) || fetchErr.Status != 404 {
		t.Errorf("second DeleteSession() error = %v, want 404 FetchError", err)
	}
}

func TestTodos(t *testing.T) {
	fs := testutil.NewFakeServer(t)
	fs.SetTodos("ses_a", []any{
		map[string]any{"id": "1", "content": "write tests", "status": "in_progress"},
		map[string]any{"id": "2", "content": "ship", "status": "pending"},
	})
	c := New(fs.URL)

	todos, err := c.Todos(context.Background(), "ses_a")
	if err != nil {
		t.Fatalf("Todos() error = %v", err)
	}
	if len(todos) != 2 || todos[0].Content != "write tests" || todos[1].Status != "pending" {
		t.Errorf("Todos() = %+v", todos)
	}

	empty, err := c.Todos(context.Background(), "ses_none")
	if err != nil || len(empty) != 0 {
		t.Errorf("Todos(unknown) = %v, %v", empty, err)
	}
}
