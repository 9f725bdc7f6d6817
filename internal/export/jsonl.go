package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

// JSONLExporter exports transcripts in JSONL format (one message per line)
type JSONLExporter struct{}

// Export exports a transcript to JSONL format
func (e *JSONLExporter) Export(t *Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, msg := range t.Messages {
		obj := map[string]interface{}{
			"id":      msg.ID,
			"type":    msg.Type,
			"role":    roleOf(msg),
			"content": msg.Text,
			"mode":    msg.Mode,
		}
		if msg.MessageID != "" {
			obj["messageId"] = msg.MessageID
		}
		if msg.Timestamp != 0 {
			obj["timestamp"] = msg.Timestamp
		}
		if msg.Reasoning != "" {
			obj["reasoning"] = msg.Reasoning
		}

		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}

// roleOf names the author of msg; sent bubbles have no role from the server
func roleOf(msg classifier.ClassifiedMessage) string {
	if msg.Role != "" {
		return msg.Role
	}
	if msg.Type == classifier.TypeSent {
		return classifier.RoleUser
	}
	return classifier.RoleAssistant
}
