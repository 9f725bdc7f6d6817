package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

// sampleTranscript builds a transcript with a user prompt and an assistant reply
func sampleTranscript(id string) *Transcript {
	return transcriptWith(id, []classifier.ClassifiedMessage{
		{
			ID: "msg_u1", MessageID: "msg_u1", SessionID: id,
			Category: classifier.CategoryMessage, Type: classifier.TypeSent,
			Role: "user", Text: "Hello, how are you?", Mode: "build",
			Timestamp: 1700000000000,
		},
		{
			ID: "msg_a1", MessageID: "msg_a1", SessionID: id,
			Category: classifier.CategoryMessage, Type: classifier.TypeMessageFinalized,
			Role: "assistant", Text: "I'm doing well, thank you!", Mode: "plan",
			Timestamp: 1700000005000,
		},
	})
}

func transcriptWith(id string, msgs []classifier.ClassifiedMessage) *Transcript {
	return &Transcript{
		SessionID:  id,
		Project:    "app",
		Server:     "http://localhost:4096",
		ExportedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Messages:   msgs,
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		wantType string
		wantExt  string
		wantErr  bool
	}{
		{
			name:     "jsonl format",
			format:   "jsonl",
			wantType: "JSONLExporter",
			wantExt:  "jsonl",
			wantErr:  false,
		},
		{
			name:     "markdown format",
			format:   "md",
			wantType: "MarkdownExporter",
			wantExt:  "md",
			wantErr:  false,
		},
		{
			name:     "markdown format long",
			format:   "markdown",
			wantType: "MarkdownExporter",
			wantExt:  "md",
			wantErr:  false,
		},
		{
			name:     "yaml format",
			format:   "yaml",
			wantType: "YAMLExporter",
			wantExt:  "yaml",
			wantErr:  false,
		},
		{
			name:     "yml alias",
			format:   "yml",
			wantType: "YAMLExporter",
			wantExt:  "yaml",
			wantErr:  false,
		},
		{
			name:     "json format",
			format:   "json",
			wantType: "JSONExporter",
			wantExt:  "json",
			wantErr:  false,
		},
		{
			name:     "unsupported format",
			format:   "xml",
			wantType: "",
			wantExt:  "",
			wantErr:  true,
		},
		{
			name:     "empty format",
			format:   "",
			wantType: "",
			wantExt:  "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if exporter == nil {
					t.Error("NewExporter() returned nil exporter")
					return
				}

				// Verify extension
				if got := exporter.Extension(); got != tt.wantExt {
					t.Errorf("Exporter.Extension() = %v, want %v", got, tt.wantExt)
				}

				// Verify type (rough check)
				switch tt.wantType {
				case "JSONLExporter":
					if _, ok := exporter.(*JSONLExporter); !ok {
						t.Errorf("Expected JSONLExporter, got %T", exporter)
					}
				case "MarkdownExporter":
					if _, ok := exporter.(*MarkdownExporter); !ok {
						t.Errorf("Expected MarkdownExporter, got %T", exporter)
					}
				case "YAMLExporter":
					if _, ok := exporter.(*YAMLExporter); !ok {
						t.Errorf("Expected YAMLExporter, got %T", exporter)
					}
				case "JSONExporter":
					if _, ok := exporter.(*JSONExporter); !ok {
						t.Errorf("Expected JSONExporter, got %T", exporter)
					}
				}
			} else {
				if exporter != nil {
					t.Errorf("NewExporter() returned exporter %T, want nil", exporter)
				}
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	exp := &JSONLExporter{}

	path, err := WriteFile(exp, sampleTranscript("ses_1"), dir)
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if filepath.Base(path) != "ses_1.jsonl" {
		t.Errorf("WriteFile() path = %s, want ses_1.jsonl", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("Expected 2 lines, got %d", lines)
	}
}

func TestWriteFileError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := WriteFile(&JSONExporter{}, sampleTranscript("ses_1"), blocker)
	var exportErr *internal.ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("Expected ExportError, got %v", err)
	}
	if exportErr.Format != "json" {
		t.Errorf("ExportError.Format = %s, want json", exportErr.Format)
	}
}
