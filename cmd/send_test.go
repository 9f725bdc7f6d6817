package cmd

import (
	"strings"
	"testing"
	"time"
)

func TestSendCommand(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantPath string
		wantBody string
	}{
		{
			name:     "message",
			args:     []string{"send", "ses_alpha", "please", "fix", "it"},
			wantPath: "/session/ses_alpha/message",
			wantBody: "please fix it",
		},
		{
			name:     "slash command",
			args:     []string{"send", "ses_alpha", "/compact", "now"},
			wantPath: "/session/ses_alpha/command",
			wantBody: "compact",
		},
		{
			name:     "with model",
			args:     []string{"send", "ses_alpha", "hi", "--model", "anthropic/claude"},
			wantPath: "/session/ses_alpha/message",
			wantBody: `"modelID":"claude"`,
		},
		{
			name:    "bad model",
			args:    []string{"send", "ses_alpha", "hi", "--model", "nomodel"},
			wantErr: true,
		},
		{
			name:    "missing text",
			args:    []string{"send", "ses_alpha"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fs.CountRequests("POST", "/session/")
			out, err := execute(t, append([]string{"--server", fs.URL}, tt.args...)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("send error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if after := fs.CountRequests("POST", "/session/"); after != before {
					t.Errorf("Expected no POST on error, got %d", after-before)
				}
				return
			}
			if !strings.Contains(out, "Sent") {
				t.Errorf("Expected confirmation, got:\n%s", out)
			}
			var found bool
			for _, r := range fs.Requests() {
				if r.Method == "POST" && r.Path == tt.wantPath && strings.Contains(r.Body, tt.wantBody) {
					found = true
					if r.Directory != "/work/app" {
						t.Errorf("Expected directory header /work/app, got %q", r.Directory)
					}
				}
			}
			if !found {
				t.Errorf("Expected POST %s with %q, got %+v", tt.wantPath, tt.wantBody, fs.Requests())
			}
		})
	}
}

func TestSendWaitsForReply(t *testing.T) {
	isolate(t)
	fs := newServer(t)

	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if fs.CountRequests("POST", "/session/ses_alpha/message") > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		fs.PublishJSON(t, map[string]any{"payload": map[string]any{
			"type": "message.part.updated",
			"properties": map[string]any{"part": map[string]any{
				"id": "prt_1", "messageID": "msg_reply", "sessionID": "ses_alpha",
				"type": "text", "text": "all fixed",
			}},
		}})
		fs.PublishJSON(t, map[string]any{"payload": map[string]any{
			"type": "message.updated",
			"properties": map[string]any{"info": map[string]any{
				"id": "msg_reply", "role": "assistant", "sessionID": "ses_alpha",
				"time": map[string]any{"created": 1700000000000, "completed": 1700000001000},
			}},
		}})
	}()

	out, err := execute(t, "--server", fs.URL, "send", "ses_alpha", "fix", "--wait", "--timeout", "10s")
	if err != nil {
		t.Fatalf("send --wait failed: %v", err)
	}
	if !strings.Contains(out, "all fixed") {
		t.Errorf("Expected the reply in output, got:\n%s", out)
	}
}
