package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

func TestJSONLExporter_Export(t *testing.T) {
	tests := []struct {
		name       string
		transcript *Transcript
		want       []string
		notWant    []string
	}{
		{
			name:       "empty transcript",
			transcript: transcriptWith("test1", []classifier.ClassifiedMessage{}),
			want:       []string{},
		},
		{
			name:       "transcript with messages",
			transcript: sampleTranscript("test2"),
			want: []string{
				`"role":"user"`,
				`"role":"assistant"`,
				`"timestamp":1700000000000`,
			},
		},
		{
			name: "optimistic bubble without role",
			transcript: transcriptWith("test3", []classifier.ClassifiedMessage{
				{ID: "msg_1_abc", Category: classifier.CategorySent, Type: classifier.TypeSent, Text: "hi", Mode: "build"},
			}),
			want:    []string{`"role":"user"`, `"content":"hi"`},
			notWant: []string{`"messageId"`, `"timestamp"`},
		},
		{
			name: "reasoning included",
			transcript: transcriptWith("test4", []classifier.ClassifiedMessage{
				{ID: "m1", MessageID: "m1", Type: classifier.TypeMessageFinalized, Role: "assistant", Text: "answer", Reasoning: "thinking"},
			}),
			want: []string{`"reasoning":"thinking"`, `"messageId":"m1"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &JSONLExporter{}

			if err := exporter.Export(tt.transcript, &buf); err != nil {
				t.Fatalf("JSONLExporter.Export() error = %v", err)
			}

			output := buf.String()
			lines := strings.Split(strings.TrimSpace(output), "\n")
			if len(tt.transcript.Messages) == 0 {
				if output != "" {
					t.Errorf("Expected empty output, got %q", output)
				}
				return
			}
			if len(lines) != len(tt.transcript.Messages) {
				t.Errorf("Expected %d lines, got %d", len(tt.transcript.Messages), len(lines))
			}
			for _, line := range lines {
				var obj map[string]interface{}
				if err := json.Unmarshal([]byte(line), &obj); err != nil {
					t.Errorf("Line is not valid JSON: %s", line)
				}
			}
			for _, wantStr := range tt.want {
				if !strings.Contains(output, wantStr) {
					t.Errorf("Output should contain %q, got:\n%s", wantStr, output)
				}
			}
			for _, notWantStr := range tt.notWant {
				if strings.Contains(output, notWantStr) {
					t.Errorf("Output should not contain %q, got:\n%s", notWantStr, output)
				}
			}
		})
	}
}

func TestJSONLExporter_Extension(t *testing.T) {
	exporter := &JSONLExporter{}
	if got := exporter.Extension(); got != "jsonl" {
		t.Errorf("JSONLExporter.Extension() = %v, want jsonl", got)
	}
}
