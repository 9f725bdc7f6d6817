// Package export writes a session's event list as JSON, JSONL, Markdown or
// YAML.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

// Transcript is the exported view of one session
type Transcript struct {
	SessionID  string                         `json:"sessionId" yaml:"session_id"`
	Title      string                         `json:"title,omitempty" yaml:"title,omitempty"`
	Project    string                         `json:"project,omitempty" yaml:"project,omitempty"`
	Server     string                         `json:"server,omitempty" yaml:"server,omitempty"`
	ExportedAt time.Time                      `json:"exportedAt" yaml:"exported_at"`
	Messages   []classifier.ClassifiedMessage `json:"messages" yaml:"messages"`
}

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(t *Transcript, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: jsonl, md, yaml, json)", format)
	}
}

// WriteFile exports t into dir as <session id>.<ext> and returns the path
func WriteFile(exp Exporter, t *Transcript, dir string) (string, error) {
	path := filepath.Join(dir, t.SessionID+"."+exp.Extension())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	if err := exp.Export(t, f); err != nil {
		_ = f.Close()
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	return path, nil
}
