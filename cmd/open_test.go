package cmd

import (
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal"
)

func TestParseDeepLink(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    internal.DeepLinkRequest
		wantErr bool
	}{
		{
			name: "bare server",
			raw:  "http://localhost:4096",
			want: internal.DeepLinkRequest{ServerURL: "http://localhost:4096"},
		},
		{
			name: "full link",
			raw:  "opencode://open?server=http%3A%2F%2Fhost%3A4096&project=%2Fwork%2Fapp&session=ses_1",
			want: internal.DeepLinkRequest{ServerURL: "http://host:4096", ProjectPath: "/work/app", SessionID: "ses_1"},
		},
		{
			name:    "link without server",
			raw:     "opencode://open?session=ses_1",
			wantErr: true,
		},
		{
			name:    "not a url",
			raw:     "localhost",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDeepLink(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDeepLink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseDeepLink() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOpenCommand(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	out, err := execute(t, "open", fs.URL, "--project", "/work/app", "--session", "ses_alpha", "--print")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for _, want := range []string{"Connected to " + fs.URL, "Project: app", "Session: ses_alpha", "the lexer drops the last token"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	if _, err := execute(t, "open", fs.URL, "--session", "ses_missing"); err == nil {
		t.Error("Expected error for a session the server does not have")
	}
}
