// Package messagestore accumulates streamed message parts per message id and
// assembles them into display text.
package messagestore

import (
	"sort"
	"strings"
	"sync"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

var log = internal.Tag("MessageStore")

// Part is one fragment of a message. Text is cumulative when HasText is set;
// Delta is appended to whatever the part already accumulated.
type Part struct {
	PartID      string
	PartType    string
	Text        string
	HasText     bool
	Delta       string
	Sequence    int
	HasSequence bool
}

// PartFromUpdate converts a classified part update into a store Part
func PartFromUpdate(u classifier.PartUpdate) Part {
	return Part{
		PartID:      u.PartID,
		PartType:    u.PartType,
		Text:        u.Text,
		HasText:     u.HasText,
		Delta:       u.Delta,
		Sequence:    u.Sequence,
		HasSequence: u.HasSequence,
	}
}

// Record is the accumulated state of one message
type Record struct {
	MessageID string
	SessionID string
	Role      string
	Parts     []Part
	Finalized bool
	Text      string
	RawData   classifier.RawEvent
}

// FinalFields are merged into a record by FinalizeMessage. Empty fields keep
// the record's current values.
type FinalFields struct {
	Role      string
	SessionID string
	Text      string
	RawData   classifier.RawEvent
}

// Store maps message ids to records. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New creates an empty Store
func New() *Store {
	return &Store{records: make(map[string]*Record)}
}

func (s *Store) record(messageID string) *Record {
	rec, ok := s.records[messageID]
	if !ok {
		rec = &Record{MessageID: messageID}
		s.records[messageID] = rec
	}
	return rec
}

// AddPart inserts part into the message, replacing any part with the same id.
// A part carrying cumulative text replaces wholesale, so replays are
// harmless; a delta-only update appends to the existing part.
func (s *Store) AddPart(messageID string, part Part) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(messageID)
	if part.PartID == "" {
		rec.Parts = append(rec.Parts, part)
		return
	}

	for i := range rec.Parts {
		existing := &rec.Parts[i]
		if existing.PartID != part.PartID {
			continue
		}
		merged := part
		if !part.HasText {
			// delta-only update: keep accumulated state and append
			merged.Text = existing.Text
			merged.HasText = existing.HasText
			merged.Delta = existing.Delta + part.Delta
		}
		if !part.HasSequence && existing.HasSequence {
			merged.Sequence = existing.Sequence
			merged.HasSequence = true
		}
		if merged.PartType == "" {
			merged.PartType = existing.PartType
		}
		*existing = merged
		return
	}
	rec.Parts = append(rec.Parts, part)
}

// SetSession records which session a message belongs to
func (s *Store) SetSession(messageID, sessionID string) {
	if messageID == "" || sessionID == "" {
		return
	}
	s.mu.Lock()
	s.record(messageID).SessionID = sessionID
	s.mu.Unlock()
}

// FinalizeMessage merges fields into the record and marks it finalized. An
// empty Text falls back to the text assembled from parts.
func (s *Store) FinalizeMessage(messageID string, fields FinalFields) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(messageID)
	if fields.Role != "" {
		rec.Role = fields.Role
	}
	if fields.SessionID != "" {
		rec.SessionID = fields.SessionID
	}
	if fields.RawData != nil {
		rec.RawData = fields.RawData
	}
	if fields.Text != "" {
		rec.Text = fields.Text
	} else if assembled := assemble(rec.Parts); assembled != "" {
		rec.Text = assembled
	}
	rec.Finalized = true
	log.Debug("Finalized %s (%d parts, %d chars)", messageID, len(rec.Parts), len(rec.Text))
	return rec.copy()
}

// AssembleMessageText returns the display text built from the message parts
func (s *Store) AssembleMessageText(messageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[messageID]
	if !ok {
		return ""
	}
	return assemble(rec.Parts)
}

// Get returns a copy of the record for messageID
func (s *Store) Get(messageID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[messageID]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// HasContent reports whether any part of the message carries text
func (s *Store) HasContent(messageID string) bool {
	return s.AssembleMessageText(messageID) != ""
}

// Len returns the number of tracked messages
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ClearStore drops every record
func (s *Store) ClearStore() {
	s.mu.Lock()
	n := len(s.records)
	s.records = make(map[string]*Record)
	s.mu.Unlock()
	if n > 0 {
		log.Debug("Cleared %d records", n)
	}
}

func (r *Record) copy() Record {
	c := *r
	c.Parts = append([]Part(nil), r.Parts...)
	return c
}

// assemble orders parts by sequence when every part has one, otherwise keeps
// arrival order. Cumulative text takes precedence over deltas.
func assemble(parts []Part) string {
	ordered := make([]Part, 0, len(parts))
	for _, p := range parts {
		if p.PartType == "" || p.PartType == classifier.PartTypeText {
			ordered = append(ordered, p)
		}
	}
	if len(ordered) == 0 {
		return ""
	}

	allSequenced := true
	for _, p := range ordered {
		if !p.HasSequence {
			allSequenced = false
			break
		}
	}
	if allSequenced {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Sequence < ordered[j].Sequence
		})
	}

	var texts []string
	for _, p := range ordered {
		if p.HasText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}

	var b strings.Builder
	for _, p := range ordered {
		b.WriteString(p.Delta)
	}
	return b.String()
}
