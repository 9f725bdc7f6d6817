package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator makes ids for optimistic bubbles: msg_<unix ms>_<suffix>.
// Each orchestrator owns one.
type IDGenerator struct {
	now func() time.Time
}

// NewIDGenerator creates a generator reading time from now
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a fresh id
func (g *IDGenerator) Next() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("msg_%d_%s", g.now().UnixMilli(), suffix)
}
