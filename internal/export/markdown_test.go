package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

func TestMarkdownExporter_Export(t *testing.T) {
	titled := sampleTranscript("ses_9")
	titled.Title = "Fix the build"

	tests := []struct {
		name       string
		transcript *Transcript
		want       []string
		notWant    []string
	}{
		{
			name:       "basic transcript",
			transcript: sampleTranscript("test1"),
			want: []string{
				"# Session test1",
				"**Project:** app",
				"**Server:** http://localhost:4096",
				"**Messages:** 2",
				"## Messages",
				"**user:** (2023-11-14T22:13:20Z)",
				"Hello, how are you?",
				"**assistant:** (2023-11-14T22:13:25Z) [plan]",
			},
		},
		{
			name:       "transcript with title",
			transcript: titled,
			want:       []string{"# Session Fix the build", "**ID:** ses_9"},
		},
		{
			name: "reasoning folded",
			transcript: transcriptWith("test3", []classifier.ClassifiedMessage{
				{ID: "m1", Role: "assistant", Text: "answer", Reasoning: "step one"},
			}),
			want:    []string{"<details><summary>Reasoning</summary>", "step one"},
			notWant: []string{" ("},
		},
		{
			name:       "empty transcript",
			transcript: transcriptWith("test5", []classifier.ClassifiedMessage{}),
			want: []string{
				"# Session test5",
				"**Messages:** 0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &MarkdownExporter{}

			if err := exporter.Export(tt.transcript, &buf); err != nil {
				t.Fatalf("MarkdownExporter.Export() error = %v", err)
			}

			output := buf.String()
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

func TestMarkdownExporter_Extension(t *testing.T) {
	exporter := &MarkdownExporter{}
	if got := exporter.Extension(); got != "md" {
		t.Errorf("MarkdownExporter.Extension() = %v, want md", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{
			name:  "basic text",
			input: "Hello world",
			want:  []string{"Hello world"},
		},
		{
			name:    "markdown bold",
			input:   "This is **bold** text",
			want:    []string{"\\*\\*bold\\*\\*"},
			notWant: []string{"**bold**"},
		},
		{
			name:    "markdown underline",
			input:   "This is __underlined__ text",
			want:    []string{"\\_\\_underlined\\_\\_"},
			notWant: []string{"__underlined__"},
		},
		{
			name:  "code block preserved",
			input: "```go\npackage main\n```",
			want:  []string{"```go", "package main", "```"},
		},
		{
			name:    "mixed content",
			input:   "Regular text **bold** and ```code```",
			want:    []string{"\\*\\*bold\\*\\*", "```code```"},
			notWant: []string{"**bold**"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeMarkdown(tt.input)
			for _, wantStr := range tt.want {
				if !strings.Contains(got, wantStr) {
					t.Errorf("escapeMarkdown() should contain %q, got: %s", wantStr, got)
				}
			}
			for _, notWantStr := range tt.notWant {
				if strings.Contains(got, notWantStr) {
					t.Errorf("escapeMarkdown() should not contain %q, got: %s", notWantStr, got)
				}
			}
		})
	}
}


