package history

import (
	"context"
	"sync"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

// Page is the outcome of a LoadOlder call
type Page struct {
	Events     []classifier.ClassifiedMessage
	FromBuffer bool
	HasMore    bool
	Err        error
}

// Pager walks one session's history backwards. Each network page fetches
// OlderLimit items but only DisplayLimit are handed out; the rest is
// buffered and drained before the next request.
type Pager struct {
	fetcher     Fetcher
	sessionID   string
	projectName string
	cfg         internal.HistoryConfig

	mu        sync.Mutex
	cursor    string
	buffer    []classifier.ClassifiedMessage // chronological
	seen      map[string]struct{}
	exhausted bool
}

// NewPager creates a Pager for one session
func NewPager(fetcher Fetcher, sessionID, projectName string, cfg internal.HistoryConfig) *Pager {
	def := internal.DefaultConfig().History
	if cfg.InitialLimit <= 0 {
		cfg.InitialLimit = def.InitialLimit
	}
	if cfg.OlderLimit <= 0 {
		cfg.OlderLimit = def.OlderLimit
	}
	if cfg.DisplayLimit <= 0 || cfg.DisplayLimit > cfg.OlderLimit {
		cfg.DisplayLimit = min(def.DisplayLimit, cfg.OlderLimit)
	}
	return &Pager{
		fetcher:     fetcher,
		sessionID:   sessionID,
		projectName: projectName,
		cfg:         cfg,
		seen:        make(map[string]struct{}),
	}
}

// SessionID returns the session the pager walks
func (p *Pager) SessionID() string {
	return p.sessionID
}

// Cursor returns the oldest message id fetched so far
func (p *Pager) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Buffered returns the number of fetched items not yet handed out
func (p *Pager) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// HasMore reports whether LoadOlder can return anything
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer) > 0 || !p.exhausted
}

// LoadInitial loads the newest page and resets pagination
func (p *Pager) LoadInitial(ctx context.Context) Result {
	res := LoadHistoricalMessages(ctx, p.fetcher, Request{
		SessionID:   p.sessionID,
		ProjectName: p.projectName,
		Limit:       p.cfg.InitialLimit,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
	p.seen = make(map[string]struct{})
	p.cursor = res.OldestID
	p.exhausted = res.Err == nil && res.Fetched < p.cfg.InitialLimit
	p.remember(res.Events)
	return res
}

// LoadOlder returns the next older slice of history. current is the list the
// caller already displays; nothing in it is returned again.
func (p *Pager) LoadOlder(ctx context.Context, current []classifier.ClassifiedMessage) Page {
	known := idSet(current)

	p.mu.Lock()
	if len(p.buffer) > 0 {
		page := p.drainBuffer(known)
		p.mu.Unlock()
		log.Debug("Served %d older messages from buffer", len(page.Events))
		return page
	}
	if p.exhausted {
		p.mu.Unlock()
		return Page{HasMore: false}
	}
	cursor := p.cursor
	p.mu.Unlock()

	res := LoadHistoricalMessages(ctx, p.fetcher, Request{
		SessionID:   p.sessionID,
		ProjectName: p.projectName,
		Limit:       p.cfg.OlderLimit,
		Before:      cursor,
	})
	if res.Err != nil {
		return Page{Err: res.Err, HasMore: true}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cursor != cursor {
		// another LoadOlder or LoadInitial moved the cursor meanwhile
		return Page{HasMore: len(p.buffer) > 0 || !p.exhausted}
	}

	fresh := make([]classifier.ClassifiedMessage, 0, len(res.Events))
	for _, ev := range res.Events {
		if ev.MessageID != "" {
			if _, dup := p.seen[ev.MessageID]; dup {
				continue
			}
			if _, dup := known[ev.MessageID]; dup {
				continue
			}
		}
		fresh = append(fresh, ev)
	}

	if res.OldestID != "" && res.OldestID != cursor {
		p.cursor = res.OldestID
	}
	if res.Fetched < p.cfg.OlderLimit || len(fresh) == 0 {
		p.exhausted = true
	}
	p.remember(fresh)

	split := len(fresh) - p.cfg.DisplayLimit
	if split < 0 {
		split = 0
	}
	p.buffer = append(append([]classifier.ClassifiedMessage(nil), fresh[:split]...), p.buffer...)
	display := fresh[split:]
	log.Debug("Loaded %d older messages (%d shown, %d buffered)", len(fresh), len(display), len(p.buffer))

	return Page{
		Events:  display,
		HasMore: len(p.buffer) > 0 || !p.exhausted,
	}
}

// LoadMessagesSince fetches every message newer than sinceID for gap
// recovery. Events already in current are dropped. An empty sinceID reloads
// the newest page.
func (p *Pager) LoadMessagesSince(ctx context.Context, sinceID string, current []classifier.ClassifiedMessage) Result {
	req := Request{SessionID: p.sessionID, ProjectName: p.projectName, After: sinceID}
	if sinceID == "" {
		req.Limit = p.cfg.InitialLimit
	}
	res := LoadHistoricalMessages(ctx, p.fetcher, req)
	if res.Err != nil {
		return res
	}

	known := idSet(current)
	kept := res.Events[:0]
	for _, ev := range res.Events {
		if _, dup := known[ev.MessageID]; ev.MessageID != "" && dup {
			continue
		}
		kept = append(kept, ev)
	}
	res.Events = kept

	p.mu.Lock()
	p.remember(kept)
	if p.cursor == "" {
		p.cursor = res.OldestID
	}
	p.mu.Unlock()
	return res
}

// drainBuffer hands out the newest DisplayLimit buffered items. Caller holds mu.
func (p *Pager) drainBuffer(known map[string]struct{}) Page {
	start := len(p.buffer) - p.cfg.DisplayLimit
	if start < 0 {
		start = 0
	}
	taken := p.buffer[start:]
	p.buffer = append([]classifier.ClassifiedMessage(nil), p.buffer[:start]...)

	events := make([]classifier.ClassifiedMessage, 0, len(taken))
	for _, ev := range taken {
		if _, dup := known[ev.MessageID]; ev.MessageID != "" && dup {
			continue
		}
		events = append(events, ev)
	}
	return Page{
		Events:     events,
		FromBuffer: true,
		HasMore:    len(p.buffer) > 0 || !p.exhausted,
	}
}

func (p *Pager) remember(events []classifier.ClassifiedMessage) {
	for _, ev := range events {
		if ev.MessageID != "" {
			p.seen[ev.MessageID] = struct{}{}
		}
	}
}

func idSet(events []classifier.ClassifiedMessage) map[string]struct{} {
	set := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.MessageID != "" {
			set[ev.MessageID] = struct{}{}
		}
	}
	return set
}
