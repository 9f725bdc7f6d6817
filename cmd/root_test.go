package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags puts every flag back to its default so tests don't leak into
// each other through the package-level flag variables
func resetFlags() {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// execute runs the CLI with args and returns everything it printed
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	err := rootCmd.Execute()
	return out.String(), err
}

// isolate points the data directory at a fresh temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

// waitFor polls cond until it holds or a few seconds pass
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

// newServer starts a fake server with one project and two sessions
func newServer(t *testing.T) *testutil.FakeServer {
	t.Helper()
	fs := testutil.NewFakeServer(t)
	fs.AddProject("p1", "/work/app")
	fs.AddSession("ses_alpha", "/work/app", "Fix the parser")
	fs.AddSession("ses_beta", "/work/app", "Write docs")
	fs.AddMessages("ses_alpha",
		testutil.HistoryItem("msg_001", "user", "ses_alpha", "why does parsing fail?"),
		testutil.HistoryItem("msg_002", "assistant", "ses_alpha", "the lexer drops the last token"),
	)
	return fs
}

func TestRootCommand(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{
			name: "version flag",
			args: []string{"--version"},
			want: "commit:",
		},
		{
			name: "help flag",
			args: []string{"--help"},
			want: "opencode-sync",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("Expected output to contain %q, got:\n%s", tt.want, out)
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"export", "healthcheck", "inspect", "list", "models", "open", "paths", "send", "servers", "sessions", "show", "watch"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("Command %q not registered", name)
		}
	}
}

func TestNoServerConfigured(t *testing.T) {
	isolate(t)
	_, err := execute(t, "list")
	if err == nil || !strings.Contains(err.Error(), "no server given") {
		t.Errorf("Expected missing server error, got %v", err)
	}
}

func TestLastServerRemembered(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	if _, err := execute(t, "--server", fs.URL, "list"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	out, err := execute(t, "show", "ses_alpha")
	if err != nil {
		t.Fatalf("show without --server failed: %v", err)
	}
	if !strings.Contains(out, "the lexer drops the last token") {
		t.Errorf("Expected history in output, got:\n%s", out)
	}
}

// savedProject reads the last selected project from local state
func savedProject(t *testing.T) (internal.Project, bool) {
	t.Helper()
	paths, err := internal.DetectDataPaths()
	if err != nil {
		t.Fatalf("DetectDataPaths failed: %v", err)
	}
	store, err := internal.OpenStorage(paths.DatabasePath)
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	defer store.Close()
	var p internal.Project
	found, err := store.Get(context.Background(), internal.KeyLastSelectedProject, &p)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return p, found
}

func TestSessionLookupPersistsOnlyTheMatch(t *testing.T) {
	isolate(t)
	fs := newServer(t)
	fs.AddProject("p2", "/work/lib")
	fs.AddSession("ses_lib", "/work/lib", "Library work")

	if _, err := execute(t, "--server", fs.URL, "show", "ses_missing"); err == nil {
		t.Fatal("Expected error for unknown session")
	}
	if p, found := savedProject(t); found {
		t.Errorf("Failed lookup saved project %s", p.ID)
	}

	if _, err := execute(t, "show", "ses_lib"); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if p, found := savedProject(t); !found || p.ID != "p2" {
		t.Errorf("Expected p2 saved, got %+v (found=%v)", p, found)
	}
}
