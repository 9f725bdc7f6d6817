package history

import (
	"encoding/json"
	"strings"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

// Shape is the layout a history item arrived in
type Shape string

const (
	ShapeLoaded  Shape = "loaded"  // info + parts at top level
	ShapeFlat    Shape = "flat"    // info without parts, or properties.info
	ShapeMinimal Shape = "minimal" // only an id or a type
	ShapeUnknown Shape = "unknown"
)

// DetectShape reports the layout of a decoded history item
func DetectShape(item map[string]any) Shape {
	info, hasInfo := item["info"].(map[string]any)
	props, _ := item["properties"].(map[string]any)
	_, hasParts := item["parts"]
	_, hasPropParts := props["parts"]
	_, hasPropInfo := props["info"].(map[string]any)

	switch {
	case hasInfo && info != nil && (hasParts || hasPropParts):
		return ShapeLoaded
	case hasPropInfo || hasInfo:
		return ShapeFlat
	case str(item, "messageId") != "" || str(item, "id") != "" || str(item, "type") != "":
		return ShapeMinimal
	}
	return ShapeUnknown
}

// Normalize decodes one history item and rewrites it into the info+parts
// event the classifier understands. ok is false for items that are not JSON
// objects or have no recognizable shape.
func Normalize(raw json.RawMessage, sessionID, projectName string) (classifier.RawEvent, bool) {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return nil, false
	}
	return NormalizeItem(item, sessionID, projectName)
}

// NormalizeItem is Normalize for an already decoded item
func NormalizeItem(item map[string]any, sessionID, projectName string) (classifier.RawEvent, bool) {
	shape := DetectShape(item)
	if shape == ShapeUnknown {
		log.Warn("Unknown history item structure (keys: %s)", keysOf(item))
		return nil, false
	}

	props, _ := item["properties"].(map[string]any)
	info, _ := item["info"].(map[string]any)
	if info == nil {
		info, _ = props["info"].(map[string]any)
	}
	if info == nil {
		info = map[string]any{}
	}

	rawParts, _ := item["parts"].([]any)
	if rawParts == nil {
		rawParts, _ = props["parts"].([]any)
	}

	messageID := first(str(item, "messageId"), str(item, "id"), str(info, "id"))
	sid := first(str(item, "sessionId"), str(item, "session_id"), str(info, "sessionID"), sessionID)

	role := first(str(info, "role"), str(item, "role"))
	if role == "" {
		switch strings.ToLower(str(item, "type")) {
		case "user", "sent", "message.created":
			role = classifier.RoleUser
		case "system", "system_message":
			role = "system"
		}
	}
	if role == "" && (hasPart(rawParts, classifier.PartTypeReasoning) || hasPart(rawParts, "output")) {
		role = classifier.RoleAssistant
	}

	parts := canonicalParts(rawParts)
	if !hasPart(parts, classifier.PartTypeText) {
		if text := fallbackText(item, info, rawParts); text != "" {
			parts = append(parts, map[string]any{"type": classifier.PartTypeText, "text": text})
		}
	}

	canonInfo := map[string]any{
		"id":        messageID,
		"role":      role,
		"sessionID": sid,
	}
	if mode := first(str(info, "mode"), str(item, "mode")); mode != "" {
		canonInfo["mode"] = mode
	}
	if agent := first(str(info, "agent"), str(item, "agent")); agent != "" {
		canonInfo["agent"] = agent
	}
	if t, ok := info["time"].(map[string]any); ok {
		canonInfo["time"] = t
	} else if created, ok := info["created"]; ok {
		canonInfo["created"] = created
	} else if created, ok := item["created"]; ok {
		canonInfo["created"] = created
	}

	ev := classifier.RawEvent{
		"info":      canonInfo,
		"parts":     parts,
		"sessionId": sid,
	}
	if projectName != "" {
		ev["projectName"] = projectName
	} else if name := str(item, "projectName"); name != "" {
		ev["projectName"] = name
	}
	return ev, true
}

// canonicalParts maps content to text and output parts to text parts
func canonicalParts(raw []any) []any {
	out := make([]any, 0, len(raw))
	for _, p := range raw {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		partType := str(m, "type")
		if partType == "output" {
			partType = classifier.PartTypeText
		}
		out = append(out, map[string]any{
			"type": partType,
			"text": first(str(m, "content"), str(m, "text")),
		})
	}
	return out
}

func fallbackText(item, info map[string]any, rawParts []any) string {
	var texts []string
	for _, p := range rawParts {
		m, ok := p.(map[string]any)
		if !ok || str(m, "type") == classifier.PartTypeReasoning {
			continue
		}
		if t := first(str(m, "content"), str(m, "text")); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if msg := str(item, "message"); msg != "" {
		return msg
	}
	if summary, ok := info["summary"].(map[string]any); ok {
		if body := str(summary, "body"); body != "" {
			return body
		}
	}
	return str(info, "message")
}

func hasPart(parts []any, partType string) bool {
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok && str(m, "type") == partType {
			return true
		}
	}
	return false
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func keysOf(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return strings.Join(keys, ", ")
}
