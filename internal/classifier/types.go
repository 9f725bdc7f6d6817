package classifier

// Category is the coarse bucket a payload is sorted into
type Category string

const (
	CategoryMessage      Category = "message"
	CategoryInternal     Category = "internal"
	CategoryUnclassified Category = "unclassified"
	CategorySent         Category = "sent"
)

// Message types produced by Classify
const (
	TypeSessionStatus           = "session_status"
	TypeSent                    = "sent"
	TypeMessageFinalized        = "message_finalized"
	TypeMessageUpdateIncomplete = "message_update_incomplete"
	TypeTodoUpdated             = "todo_updated"
	TypeUnclassified            = "unclassified"
)

// Payload types understood by the taxonomy
const (
	PayloadSessionStatus      = "session.status"
	PayloadSessionIdle        = "session.idle"
	PayloadMessageLoaded      = "message.loaded"
	PayloadMessageUpdated     = "message.updated"
	PayloadMessagePartUpdated = "message.part.updated"
	PayloadTodoUpdate         = "todo.update"
	PayloadUnknown            = "unknown"
)

const (
	DefaultMode            = "build"
	RoleUser               = "user"
	RoleAssistant          = "assistant"
	PartTypeText           = "text"
	PartTypeReasoning      = "reasoning"
	noContentAvailableText = "No content available"
)

// RawEvent is one decoded stream or history payload. Its shape varies by
// payload.type.
type RawEvent map[string]any

// ClassifiedMessage is the typed view of a RawEvent
type ClassifiedMessage struct {
	ID             string   `json:"id,omitempty" yaml:"id,omitempty"`
	MessageID      string   `json:"messageId,omitempty" yaml:"message_id,omitempty"`
	SessionID      string   `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
	Category       Category `json:"category" yaml:"category"`
	Type           string   `json:"type" yaml:"type"`
	PayloadType    string   `json:"payloadType,omitempty" yaml:"payload_type,omitempty"`
	Role           string   `json:"role,omitempty" yaml:"role,omitempty"`
	Text           string   `json:"message,omitempty" yaml:"message,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	DisplayMessage string   `json:"displayMessage,omitempty" yaml:"display_message,omitempty"`
	Mode           string   `json:"mode" yaml:"mode"`
	Timestamp      int64    `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	ProjectName    string   `json:"projectName,omitempty" yaml:"project_name,omitempty"`
	SessionStatus  string   `json:"sessionStatus,omitempty" yaml:"session_status,omitempty"`
	Todos          []Todo   `json:"todos,omitempty" yaml:"todos,omitempty"`
	RawData        RawEvent `json:"rawData,omitempty" yaml:"-"`
}

// Todo is one entry of a todo.update payload
type Todo struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Content  string `json:"content" yaml:"content"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// IsDisplayable reports whether the message belongs in the conversation view
func (m ClassifiedMessage) IsDisplayable() bool {
	return m.Category == CategoryMessage || m.Category == CategorySent
}

// PartUpdate is a streamed fragment read from a message.part.updated payload
type PartUpdate struct {
	MessageID   string
	SessionID   string
	PartID      string
	PartType    string
	Text        string
	HasText     bool
	Delta       string
	Sequence    int
	HasSequence bool
}
