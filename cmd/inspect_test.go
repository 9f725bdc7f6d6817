package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

func TestInspectDatabase(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	if _, err := execute(t, "--server", fs.URL, "list"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	out, err := execute(t, "inspect")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	for _, want := range []string{"Table: kv", "key: TEXT", "[PRIMARY KEY]", "@servers", "lastConnectedUrl"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestInspectSession(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	out, err := execute(t, "--server", fs.URL, "inspect", "--session", "ses_alpha")
	if err != nil {
		t.Fatalf("inspect --session failed: %v", err)
	}
	if !strings.Contains(out, "Classified") || !strings.Contains(out, "Unclassified") {
		t.Errorf("Expected both sections, got:\n%s", out)
	}

	out, err = execute(t, "--server", fs.URL, "inspect", "--session", "ses_alpha", "--format", "yaml")
	if err != nil {
		t.Fatalf("inspect --format yaml failed: %v", err)
	}
	if !strings.Contains(out, "classified:") {
		t.Errorf("Expected YAML output, got:\n%s", out)
	}
}

func TestDisplayGrouped(t *testing.T) {
	inspectSampleRows = 1
	defer resetFlags()

	g := classifier.GroupAll([]classifier.ClassifiedMessage{
		{Category: classifier.CategoryMessage, Type: classifier.TypeMessageFinalized},
		{Category: classifier.CategoryMessage, Type: classifier.TypeMessageFinalized},
		{Category: classifier.CategoryUnclassified, Type: classifier.TypeUnclassified, PayloadType: "lsp.updated", DisplayMessage: "first\nsecond"},
		{Category: classifier.CategoryUnclassified, Type: classifier.TypeUnclassified, PayloadType: "lsp.updated", DisplayMessage: "other"},
	})
	var buf bytes.Buffer
	if err := displayGrouped(&buf, g, "text"); err != nil {
		t.Fatalf("displayGrouped failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "message_finalized: 2") {
		t.Errorf("Expected classified count, got:\n%s", out)
	}
	if !strings.Contains(out, "first...") || strings.Contains(out, "other") {
		t.Errorf("Expected one truncated sample, got:\n%s", out)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a\nb", 10, "a..."},
		{"abcdef", 3, "abc..."},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in, tt.n); got != tt.want {
			t.Errorf("firstLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
