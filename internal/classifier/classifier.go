// Package classifier maps raw opencode stream and history payloads onto a
// small typed taxonomy. Classification is pure: the same input always yields
// the same ClassifiedMessage and nothing outside the input is consulted.
package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
)

var log = internal.Tag("Classifier")

// Classify maps item onto the taxonomy. currentMode is the mode selected by
// the user and is only consulted for session.status and message.loaded.
// Classify never panics; unexpected shapes come back unclassified.
func Classify(item RawEvent, currentMode string) (msg ClassifiedMessage) {
	payloadType := stringAt(item, "payload", "type")
	if payloadType == "" {
		payloadType = PayloadUnknown
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("Recovered while classifying %s: %v", payloadType, r)
			msg = unclassified(item, payloadType, fmt.Sprintf("Error classifying message: %v", r))
		}
	}()

	sessionID := SessionIDOf(item)
	base := ClassifiedMessage{
		SessionID:   sessionID,
		PayloadType: payloadType,
		ProjectName: projectNameOf(item),
		Timestamp:   timestampOf(item),
		RawData:     item,
	}

	switch payloadType {
	case PayloadSessionStatus:
		status := stringAt(item, "payload", "properties", "status", "type")
		if status == internal.SessionBusy || status == internal.SessionIdle {
			msg = base
			msg.Category = CategoryInternal
			msg.Type = TypeSessionStatus
			msg.SessionStatus = status
			msg.DisplayMessage = "Session status: " + status
			msg.Mode = selectedMode(item, currentMode)
			return msg
		}

	case PayloadMessageLoaded:
		msg = base
		msg.Category = CategoryMessage
		msg.Role = stringAt(item, "payload", "properties", "info", "role")
		msg.Type = typeForRole(msg.Role)
		msg.MessageID = stringAt(item, "payload", "properties", "info", "id")
		msg.ID = msg.MessageID
		msg.Mode = selectedMode(item, currentMode)
		switch parts := lookup(item, "payload", "properties", "parts").(type) {
		case []any:
			msg.Text = joinParts(parts, PartTypeText)
			msg.Reasoning = joinParts(parts, PartTypeReasoning)
		case nil:
		default:
			msg.Text = noContentAvailableText
		}
		return msg

	case PayloadMessageUpdated:
		body := stringAt(item, "payload", "properties", "info", "summary", "body")
		msg = base
		if body != "" {
			msg.Category = CategoryMessage
			msg.Type = TypeMessageFinalized
			msg.Text = body
			msg.Role = stringAt(item, "payload", "properties", "info", "role")
			msg.MessageID = stringAt(item, "payload", "properties", "info", "id")
			msg.ID = msg.MessageID
			msg.Mode = orDefault(stringAt(item, "payload", "properties", "info", "agent"))
			return msg
		}
		msg.Category = CategoryUnclassified
		msg.Type = TypeMessageUpdateIncomplete
		msg.MessageID = stringAt(item, "payload", "properties", "info", "id")
		msg.DisplayMessage = "Incomplete message.update - missing summary body"
		msg.Mode = orDefault(stringAt(item, "info", "mode"))
		return msg

	case PayloadTodoUpdate:
		todos := todosOf(item)
		msg = base
		msg.Category = CategoryInternal
		msg.Type = TypeTodoUpdated
		msg.Todos = todos
		msg.DisplayMessage = fmt.Sprintf("Todo list updated: %d tasks", len(todos))
		msg.Mode = orDefault(stringAt(item, "info", "mode"))
		return msg
	}

	if parts, ok := item["parts"].([]any); ok && hasPartOfType(parts, PartTypeText) {
		msg = base
		msg.Category = CategoryMessage
		msg.Role = stringAt(item, "info", "role")
		msg.Type = typeForRole(msg.Role)
		msg.Text = joinParts(parts, PartTypeText)
		msg.Reasoning = joinParts(parts, PartTypeReasoning)
		msg.MessageID = stringAt(item, "info", "id")
		msg.ID = msg.MessageID
		mode := stringAt(item, "info", "mode")
		if mode == "" {
			mode = stringAt(item, "info", "agent")
		}
		msg.Mode = orDefault(mode)
		return msg
	}

	return unclassified(item, payloadType, indentJSON(item))
}

// SessionIDOf extracts the session id using a fixed precedence across the
// payload shapes the server emits. Reordering the chain reclassifies events.
func SessionIDOf(item RawEvent) string {
	paths := [][]string{
		{"session_id"},
		{"sessionId"},
		{"info", "sessionID"},
		{"payload", "properties", "sessionID"},
		{"payload", "properties", "info", "sessionID"},
		{"payload", "properties", "part", "sessionID"},
	}
	for _, p := range paths {
		if id := stringAt(item, p...); id != "" {
			return id
		}
	}
	return ""
}

// ExtractPart reads a message.part.updated payload. ok is false for any other
// payload type or when the part carries no message id.
func ExtractPart(item RawEvent) (part PartUpdate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			part, ok = PartUpdate{}, false
		}
	}()

	if stringAt(item, "payload", "type") != PayloadMessagePartUpdated {
		return PartUpdate{}, false
	}
	raw, isMap := lookup(item, "payload", "properties", "part").(map[string]any)
	if !isMap {
		return PartUpdate{}, false
	}
	p := RawEvent(raw)

	part = PartUpdate{
		MessageID: stringAt(p, "messageID"),
		SessionID: SessionIDOf(item),
		PartID:    stringAt(p, "id"),
		PartType:  stringAt(p, "type"),
		Delta:     stringAt(item, "payload", "properties", "delta"),
	}
	if text, isString := p["text"].(string); isString {
		part.Text = text
		part.HasText = true
	}
	if seq, isNum := numberAt(p, "sequence"); isNum {
		part.Sequence = int(seq)
		part.HasSequence = true
	}
	if part.MessageID == "" {
		return PartUpdate{}, false
	}
	return part, true
}

// GroupUnclassified buckets unclassified messages by payload type
func GroupUnclassified(messages []ClassifiedMessage) map[string][]ClassifiedMessage {
	grouped := make(map[string][]ClassifiedMessage)
	for _, m := range messages {
		if m.Category != CategoryUnclassified {
			continue
		}
		key := m.PayloadType
		if key == "" {
			key = PayloadUnknown
		}
		grouped[key] = append(grouped[key], m)
	}
	return grouped
}

// Grouped is every message bucketed by classified/unclassified, then by type
type Grouped struct {
	Classified   map[string][]ClassifiedMessage `json:"classified" yaml:"classified"`
	Unclassified map[string][]ClassifiedMessage `json:"unclassified" yaml:"unclassified"`
}

// GroupAll buckets messages for the debug view
func GroupAll(messages []ClassifiedMessage) Grouped {
	g := Grouped{
		Classified:   make(map[string][]ClassifiedMessage),
		Unclassified: make(map[string][]ClassifiedMessage),
	}
	for _, m := range messages {
		key := m.Type
		if key == "" {
			key = m.PayloadType
		}
		if key == "" {
			key = PayloadUnknown
		}
		if m.Category == CategoryUnclassified {
			g.Unclassified[key] = append(g.Unclassified[key], m)
		} else {
			g.Classified[key] = append(g.Classified[key], m)
		}
	}
	return g
}

func unclassified(item RawEvent, payloadType, display string) ClassifiedMessage {
	return ClassifiedMessage{
		Category:       CategoryUnclassified,
		Type:           TypeUnclassified,
		PayloadType:    payloadType,
		SessionID:      safeSessionID(item),
		ProjectName:    safeProjectName(item),
		DisplayMessage: display,
		Mode:           orDefault(safeString(item, "info", "mode")),
		RawData:        item,
	}
}

func typeForRole(role string) string {
	if role == RoleUser {
		return TypeSent
	}
	return TypeMessageFinalized
}

// selectedMode prefers the caller's mode; an empty one falls back to the
// message's own info.mode rather than straight to DefaultMode
func selectedMode(item RawEvent, currentMode string) string {
	if currentMode != "" {
		return currentMode
	}
	return orDefault(stringAt(item, "info", "mode"))
}

func orDefault(mode string) string {
	if mode == "" {
		return DefaultMode
	}
	return mode
}

func projectNameOf(item RawEvent) string {
	if name := stringAt(item, "projectName"); name != "" {
		return name
	}
	return internal.ProjectDisplayName(stringAt(item, "directory"))
}

// timestampOf prefers the payload's info, then a top-level info (history shape)
func timestampOf(item RawEvent) int64 {
	for _, prefix := range [][]string{{"payload", "properties", "info"}, {"info"}} {
		if ts, ok := numberAt(item, append(append([]string{}, prefix...), "time", "created")...); ok {
			return int64(ts)
		}
		if ts, ok := numberAt(item, append(append([]string{}, prefix...), "created")...); ok {
			return int64(ts)
		}
	}
	return 0
}

func todosOf(item RawEvent) []Todo {
	raw, _ := lookup(item, "payload", "properties", "todos").([]any)
	todos := make([]Todo, 0, len(raw))
	for _, t := range raw {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		todos = append(todos, Todo{
			ID:       stringAt(m, "id"),
			Content:  stringAt(m, "content"),
			Status:   stringAt(m, "status"),
			Priority: stringAt(m, "priority"),
		})
	}
	return todos
}

func hasPartOfType(parts []any, partType string) bool {
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok && stringAt(m, "type") == partType {
			return true
		}
	}
	return false
}

func joinParts(parts []any, partType string) string {
	var texts []string
	for _, p := range parts {
		m, ok := p.(map[string]any)
		if !ok || stringAt(m, "type") != partType {
			continue
		}
		texts = append(texts, stringAt(m, "text"))
	}
	return strings.Join(texts, "\n")
}

func indentJSON(item RawEvent) string {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(item))
	}
	return string(data)
}

// lookup walks nested maps. Any non-map step yields nil.
func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			// RawEvent values nested by hand in tests
			if ev, isEvent := cur.(RawEvent); isEvent {
				node = ev
			} else {
				return nil
			}
		}
		cur = node[key]
	}
	return cur
}

func stringAt(m map[string]any, path ...string) string {
	s, _ := lookup(m, path...).(string)
	return s
}

func numberAt(m map[string]any, path ...string) (float64, bool) {
	switch v := lookup(m, path...).(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func safeString(m map[string]any, path ...string) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	return stringAt(m, path...)
}

func safeSessionID(item RawEvent) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	return SessionIDOf(item)
}

func safeProjectName(item RawEvent) (name string) {
	defer func() {
		if recover() != nil {
			name = internal.ProjectDisplayName("")
		}
	}()
	return projectNameOf(item)
}
