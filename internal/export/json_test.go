package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

func TestJSONExporter_Export(t *testing.T) {
	tests := []struct {
		name       string
		transcript *Transcript
		wantCount  int
	}{
		{
			name:       "basic transcript",
			transcript: sampleTranscript("test1"),
			wantCount:  2,
		},
		{
			name:       "empty transcript",
			transcript: transcriptWith("test2", []classifier.ClassifiedMessage{}),
			wantCount:  0,
		},
		{
			name: "raw data is kept",
			transcript: transcriptWith("test3", []classifier.ClassifiedMessage{
				{
					ID: "m1", Category: classifier.CategoryMessage, Type: classifier.TypeMessageFinalized,
					Text: "Hello", Mode: "build",
					RawData: classifier.RawEvent{"info": map[string]any{"id": "m1"}},
				},
			}),
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &JSONExporter{}

			if err := exporter.Export(tt.transcript, &buf); err != nil {
				t.Fatalf("JSONExporter.Export() error = %v", err)
			}

			var decoded Transcript
			if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
				t.Fatalf("Output is not valid JSON: %v", err)
			}
			if decoded.SessionID != tt.transcript.SessionID {
				t.Errorf("SessionID = %s, want %s", decoded.SessionID, tt.transcript.SessionID)
			}
			if len(decoded.Messages) != tt.wantCount {
				t.Errorf("Messages = %d, want %d", len(decoded.Messages), tt.wantCount)
			}
			if !strings.Contains(buf.String(), "\n  ") {
				t.Error("Expected indented output")
			}
		})
	}
}

func TestJSONExporter_Extension(t *testing.T) {
	exporter := &JSONExporter{}
	if got := exporter.Extension(); got != "json" {
		t.Errorf("JSONExporter.Extension() = %v, want json", got)
	}
}
