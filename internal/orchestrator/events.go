package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/messagestore"
)

// decodeFrame parses one stream frame: a single event object or an array
func decodeFrame(data string) ([]classifier.RawEvent, error) {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "[") {
		var batch []classifier.RawEvent
		if err := json.Unmarshal([]byte(trimmed), &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var ev classifier.RawEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return nil, err
	}
	return []classifier.RawEvent{ev}, nil
}

// HandleData processes one raw stream frame
func (o *Orchestrator) HandleData(data string) {
	batch, err := decodeFrame(data)
	if err != nil {
		log.Warn("Dropping undecodable frame: %v", err)
		return
	}
	for _, ev := range batch {
		if ev != nil {
			o.HandleEvent(ev)
		}
	}
}

// HandleEvent classifies a live event and folds it into the session view
func (o *Orchestrator) HandleEvent(ev classifier.RawEvent) {
	var notify []func()
	o.mu.Lock()
	o.handleEventLocked(ev, &notify)
	o.mu.Unlock()
	run(notify)
}

func (o *Orchestrator) handleEventLocked(ev classifier.RawEvent, notify *[]func()) {
	msg := classifier.Classify(ev, o.mode)
	o.recordLocked(msg)
	selected := o.selectedSessionIDLocked()

	if part, ok := classifier.ExtractPart(ev); ok {
		o.applyPartLocked(part, selected, notify)
		return
	}

	switch {
	case msg.Type == classifier.TypeSessionStatus && msg.SessionID != "":
		o.statuses[msg.SessionID] = msg.SessionStatus
	case msg.PayloadType == classifier.PayloadSessionIdle && msg.SessionID != "":
		o.statuses[msg.SessionID] = internal.SessionIdle
	}

	if msg.SessionID != "" && msg.SessionID != selected {
		log.Debug("Dropping %s for session %s (selected %q)", msg.PayloadType, msg.SessionID, selected)
		return
	}

	if msg.Type == classifier.TypeTodoUpdated {
		o.todos = msg.Todos
		return
	}

	if msg.Type == classifier.TypeMessageUpdateIncomplete && msg.MessageID != "" {
		if role, agent, done := completion(ev); done {
			msg.Category = classifier.CategoryMessage
			msg.Role = role
			msg.Type = classifier.TypeMessageFinalized
			if role == classifier.RoleUser {
				msg.Type = classifier.TypeSent
			}
			msg.ID = msg.MessageID
			msg.DisplayMessage = ""
			if agent != "" {
				msg.Mode = agent
			}
		}
	}

	if !msg.IsDisplayable() {
		return
	}
	o.deliverLocked(msg, notify)
}

// recordLocked keeps the debug lists
func (o *Orchestrator) recordLocked(msg classifier.ClassifiedMessage) {
	o.all = appendBounded(o.all, msg)
	if msg.Category == classifier.CategoryUnclassified {
		o.unclassified = appendBounded(o.unclassified, msg)
	}
}

func appendBounded(list []classifier.ClassifiedMessage, msg classifier.ClassifiedMessage) []classifier.ClassifiedMessage {
	list = append(list, msg)
	if over := len(list) - maxDebugMessages; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

// applyPartLocked stores a streamed part and releases a held finalize once
// its message has content
func (o *Orchestrator) applyPartLocked(part classifier.PartUpdate, selected string, notify *[]func()) {
	if part.SessionID != "" && part.SessionID != selected {
		return
	}
	o.store.AddPart(part.MessageID, messagestore.PartFromUpdate(part))
	o.store.SetSession(part.MessageID, part.SessionID)

	if held, ok := o.held[part.MessageID]; ok {
		text := o.store.AssembleMessageText(part.MessageID)
		if text == "" {
			return
		}
		delete(o.held, part.MessageID)
		o.streaming[part.MessageID] = true
		held.Text = text
		log.Debug("Releasing held message %s", part.MessageID)
		o.deliverLocked(held, notify)
		return
	}

	// a message released from hold keeps following its parts
	if o.streaming[part.MessageID] {
		i := o.indexByMessageIDLocked(part.MessageID)
		if i < 0 {
			return
		}
		text := o.store.AssembleMessageText(part.MessageID)
		if text == "" || text == o.events[i].Text {
			return
		}
		o.events[i].Text = text
		o.notifyEventLocked(o.events[i], notify)
	}
}

// deliverLocked finalizes msg in the store and places it in the list. A
// finalize without content is held until parts arrive.
func (o *Orchestrator) deliverLocked(msg classifier.ClassifiedMessage, notify *[]func()) {
	if msg.MessageID != "" {
		if msg.Text == "" {
			msg.Text = o.store.AssembleMessageText(msg.MessageID)
		}
		if msg.Text == "" {
			o.held[msg.MessageID] = msg
			log.Debug("Holding %s until content arrives", msg.MessageID)
			return
		}
		rec := o.store.FinalizeMessage(msg.MessageID, messagestore.FinalFields{
			Role:      msg.Role,
			SessionID: msg.SessionID,
			Text:      msg.Text,
			RawData:   msg.RawData,
		})
		msg.Text = rec.Text
		delete(o.held, msg.MessageID)
	}

	if o.confirmEchoLocked(msg, notify) {
		return
	}
	o.upsertLocked(msg, notify)
}

// confirmEchoLocked drops the server echo of an optimistic bubble and tags
// the bubble with the server message id
func (o *Orchestrator) confirmEchoLocked(msg classifier.ClassifiedMessage, notify *[]func()) bool {
	if msg.Role != classifier.RoleUser && msg.Type != classifier.TypeSent {
		return false
	}
	text := strings.TrimSpace(msg.Text)
	for i, p := range o.pending {
		if p.text != text || (msg.SessionID != "" && p.sessionID != msg.SessionID) {
			continue
		}
		o.pending = append(o.pending[:i:i], o.pending[i+1:]...)
		if j := o.indexByIDLocked(p.id); j >= 0 && msg.MessageID != "" {
			o.events[j].MessageID = msg.MessageID
			o.notifyEventLocked(o.events[j], notify)
		}
		if msg.MessageID != "" {
			o.lastReceivedID = msg.MessageID
		}
		log.Debug("Confirmed sent message %s as %s", p.id, msg.MessageID)
		return true
	}
	return false
}

// upsertLocked updates the event with the same message id in place or
// appends msg
func (o *Orchestrator) upsertLocked(msg classifier.ClassifiedMessage, notify *[]func()) {
	if msg.ID == "" {
		msg.ID = msg.MessageID
	}
	if msg.ID == "" {
		msg.ID = o.ids.Next()
	}
	if msg.MessageID != "" {
		o.lastReceivedID = msg.MessageID
		if i := o.indexByMessageIDLocked(msg.MessageID); i >= 0 {
			msg.ID = o.events[i].ID
			o.events[i] = msg
			o.notifyEventLocked(msg, notify)
			return
		}
	}
	o.events = append(o.events, msg)
	o.notifyEventLocked(msg, notify)
}

func (o *Orchestrator) notifyEventLocked(msg classifier.ClassifiedMessage, notify *[]func()) {
	if o.opts.OnEvent == nil {
		return
	}
	fn := o.opts.OnEvent
	*notify = append(*notify, func() { fn(msg) })
}

func (o *Orchestrator) indexByMessageIDLocked(messageID string) int {
	for i := range o.events {
		if o.events[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) indexByIDLocked(id string) int {
	for i := range o.events {
		if o.events[i].ID == id {
			return i
		}
	}
	return -1
}

// completion reports whether a message.updated payload describes a finished
// message: an assistant reply with info.time.completed, or any user message.
func completion(ev classifier.RawEvent) (role, agent string, done bool) {
	payload, _ := ev["payload"].(map[string]any)
	props, _ := payload["properties"].(map[string]any)
	info, _ := props["info"].(map[string]any)
	if info == nil {
		return "", "", false
	}
	role, _ = info["role"].(string)
	agent, _ = info["agent"].(string)
	if role == classifier.RoleUser {
		return role, agent, true
	}
	t, _ := info["time"].(map[string]any)
	return role, agent, t != nil && t["completed"] != nil
}
