package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal/classifier"
	"gopkg.in/yaml.v3"
)

func TestYAMLExporter_Export(t *testing.T) {
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
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &YAMLExporter{}

			if err := exporter.Export(tt.transcript, &buf); err != nil {
				t.Fatalf("YAMLExporter.Export() error = %v", err)
			}

			var decoded map[string]interface{}
			if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
				t.Fatalf("Output is not valid YAML: %v", err)
			}
			if decoded["session_id"] != tt.transcript.SessionID {
				t.Errorf("session_id = %v, want %s", decoded["session_id"], tt.transcript.SessionID)
			}
			msgs, _ := decoded["messages"].([]interface{})
			if len(msgs) != tt.wantCount {
				t.Errorf("messages = %d, want %d", len(msgs), tt.wantCount)
			}
			if strings.Contains(buf.String(), "rawdata") {
				t.Error("Raw payloads must not be written to YAML")
			}
		})
	}
}

func TestYAMLExporter_Extension(t *testing.T) {
	exporter := &YAMLExporter{}
	if got := exporter.Extension(); got != "yaml" {
		t.Errorf("YAMLExporter.Extension() = %v, want yaml", got)
	}
}
