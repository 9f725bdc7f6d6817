package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/testutil"
)

type stubFetcher struct {
	items []json.RawMessage
	err   error
	calls int
}

func (s *stubFetcher) Messages(_ context.Context, _ string, _ api.MessageQuery) ([]json.RawMessage, error) {
	s.calls++
	return s.items, s.err
}

func raws(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out
}

func TestLoadHistoricalMessagesScenario(t *testing.T) {
	f := &stubFetcher{items: raws(`{"info":{"id":"m1","role":"assistant"},"parts":[{"type":"text","text":"Hello"}]}`)}
	res := LoadHistoricalMessages(context.Background(), f, Request{SessionID: "s1", Limit: 20})

	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.MessageID != "m1" || ev.Text != "Hello" || ev.Category != classifier.CategoryMessage {
		t.Errorf("event = %+v", ev)
	}
	if ev.Role != classifier.RoleAssistant {
		t.Errorf("Role = %q, want assistant", ev.Role)
	}
	if ev.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", ev.SessionID)
	}
}

func TestLoadHistoricalMessagesSkipsMalformedAndDuplicates(t *testing.T) {
	f := &stubFetcher{items: raws(
		`{"info":{"id":"m1","role":"user"},"parts":[{"type":"text","text":"question"}]}`,
		`"just a string"`,
		`{"unrelated":true}`,
		`{"info":{"id":"m1","role":"user"},"parts":[{"type":"text","text":"question"}]}`,
		`{"info":{"id":"m2","role":"assistant"},"parts":[{"type":"text","content":"answer"}]}`,
		`{"id":"m3","type":"file.edited"}`,
	)}
	res := LoadHistoricalMessages(context.Background(), f, Request{SessionID: "s1"})

	if len(res.Events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(res.Events), res.Events)
	}
	if res.Events[0].Type != classifier.TypeSent {
		t.Errorf("user item Type = %q, want sent", res.Events[0].Type)
	}
	if res.Events[1].Text != "answer" {
		t.Errorf("content part Text = %q, want answer", res.Events[1].Text)
	}
	if len(res.Unclassified) != 1 || res.Events[2].Category != classifier.CategoryUnclassified {
		t.Errorf("Unclassified = %+v", res.Unclassified)
	}
	if res.OldestID != "m1" || res.NewestID != "m3" {
		t.Errorf("OldestID/NewestID = %q/%q", res.OldestID, res.NewestID)
	}
	if res.Fetched != 6 {
		t.Errorf("Fetched = %d, want 6", res.Fetched)
	}
}

func TestLoadHistoricalMessagesError(t *testing.T) {
	f := &stubFetcher{err: errors.New("boom")}
	res := LoadHistoricalMessages(context.Background(), f, Request{SessionID: "s1"})

	var fe *internal.FetchError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("Err = %v, want *FetchError", res.Err)
	}
	if len(res.Events) != 0 || res.GroupedUnclassified == nil {
		t.Errorf("expected empty non-nil result, got %+v", res)
	}
}

func TestLoadHistoricalMessagesNoSession(t *testing.T) {
	f := &stubFetcher{}
	res := LoadHistoricalMessages(context.Background(), f, Request{})
	if f.calls != 0 || len(res.Events) != 0 || res.Err != nil {
		t.Errorf("expected no-op, got calls=%d res=%+v", f.calls, res)
	}
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantShape Shape
		wantText  string
		wantRole  string
		wantType  string
	}{
		{
			name:      "info and parts",
			input:     `{"info":{"id":"a","role":"assistant","mode":"plan"},"parts":[{"type":"text","text":"x"}]}`,
			wantShape: ShapeLoaded,
			wantText:  "x",
			wantRole:  "assistant",
			wantType:  classifier.TypeMessageFinalized,
		},
		{
			name:      "flat with summary",
			input:     `{"info":{"id":"b","role":"assistant","summary":{"body":"summed"}}}`,
			wantShape: ShapeFlat,
			wantText:  "summed",
			wantRole:  "assistant",
			wantType:  classifier.TypeMessageFinalized,
		},
		{
			name:      "properties nesting",
			input:     `{"properties":{"info":{"id":"c","role":"user"},"parts":[{"type":"text","text":"y"}]}}`,
			wantShape: ShapeFlat,
			wantText:  "y",
			wantRole:  "user",
			wantType:  classifier.TypeSent,
		},
		{
			name:      "minimal with message",
			input:     `{"id":"d","type":"sent","message":"hello"}`,
			wantShape: ShapeMinimal,
			wantText:  "hello",
			wantRole:  "user",
			wantType:  classifier.TypeSent,
		},
		{
			name:      "reasoning implies assistant",
			input:     `{"info":{"id":"e"},"parts":[{"type":"reasoning","text":"hmm"},{"type":"output","content":"done"}]}`,
			wantShape: ShapeLoaded,
			wantText:  "done",
			wantRole:  "assistant",
			wantType:  classifier.TypeMessageFinalized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item map[string]any
			if err := json.Unmarshal([]byte(tt.input), &item); err != nil {
				t.Fatal(err)
			}
			if got := DetectShape(item); got != tt.wantShape {
				t.Errorf("DetectShape() = %q, want %q", got, tt.wantShape)
			}
			ev, ok := NormalizeItem(item, "s1", "")
			if !ok {
				t.Fatal("NormalizeItem() ok = false")
			}
			msg := classifier.Classify(ev, "")
			if msg.Text != tt.wantText || msg.Role != tt.wantRole || msg.Type != tt.wantType {
				t.Errorf("classified = text %q role %q type %q", msg.Text, msg.Role, msg.Type)
			}
		})
	}
}

func newPager(t *testing.T, n int) (*testutil.FakeServer, *Pager) {
	t.Helper()
	fs := testutil.NewFakeServer(t)
	fs.AddMessages("s1", testutil.HistoryItems("m", "s1", n)...)
	p := NewPager(api.New(fs.URL), "s1", "proj", internal.DefaultConfig().History)
	return fs, p
}

func ids(events []classifier.ClassifiedMessage) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.MessageID)
	}
	return out
}

func TestPagerOlderPageBuffersRemainder(t *testing.T) {
	fs, p := newPager(t, 40)
	ctx := context.Background()

	initial := p.LoadInitial(ctx)
	if len(initial.Events) != 20 || initial.Events[0].MessageID != "m0021" {
		t.Fatalf("LoadInitial() = %v", ids(initial.Events))
	}
	list := initial.Events

	page := p.LoadOlder(ctx, list)
	if page.Err != nil || page.FromBuffer {
		t.Fatalf("first LoadOlder() = %+v", page)
	}
	if len(page.Events) != 10 || page.Events[0].MessageID != "m0011" || page.Events[9].MessageID != "m0020" {
		t.Fatalf("first LoadOlder() events = %v", ids(page.Events))
	}
	if p.Buffered() != 10 {
		t.Errorf("Buffered() = %d, want 10", p.Buffered())
	}
	list = append(append([]classifier.ClassifiedMessage(nil), page.Events...), list...)

	before := fs.CountRequests("GET", "/session/s1/message")
	page = p.LoadOlder(ctx, list)
	if !page.FromBuffer {
		t.Error("second LoadOlder() not served from buffer")
	}
	if got := fs.CountRequests("GET", "/session/s1/message"); got != before {
		t.Errorf("buffered LoadOlder() issued %d requests", got-before)
	}
	if len(page.Events) != 10 || page.Events[0].MessageID != "m0001" {
		t.Errorf("second LoadOlder() events = %v", ids(page.Events))
	}
	list = append(append([]classifier.ClassifiedMessage(nil), page.Events...), list...)

	page = p.LoadOlder(ctx, list)
	if len(page.Events) != 0 || page.HasMore {
		t.Errorf("third LoadOlder() = %+v, want empty and exhausted", page)
	}
	if p.HasMore() {
		t.Error("HasMore() = true after exhaustion")
	}
}

func TestPagerNeverRepeatsKnownIDs(t *testing.T) {
	fs, p := newPager(t, 25)
	ctx := context.Background()
	list := p.LoadInitial(ctx).Events

	// a live event already shows m0005
	list = append(list, classifier.ClassifiedMessage{MessageID: "m0005"})

	page := p.LoadOlder(ctx, list)
	seen := map[string]bool{}
	for _, ev := range list {
		seen[ev.MessageID] = true
	}
	for _, ev := range page.Events {
		if seen[ev.MessageID] {
			t.Errorf("LoadOlder() returned known id %s", ev.MessageID)
		}
	}
	if len(page.Events) != 4 {
		t.Errorf("LoadOlder() = %v, want 4 events", ids(page.Events))
	}
	if page.HasMore {
		t.Error("short page should exhaust the pager")
	}
	if p.Cursor() != "m0001" {
		t.Errorf("Cursor() = %q, want m0001", p.Cursor())
	}
	_ = fs
}

func TestPagerErrorKeepsCursor(t *testing.T) {
	fs, p := newPager(t, 40)
	ctx := context.Background()
	list := p.LoadInitial(ctx).Events
	cursor := p.Cursor()

	fs.FailNext("/session/s1/message", 1)
	page := p.LoadOlder(ctx, list)
	if page.Err == nil {
		t.Fatal("expected error")
	}
	if p.Cursor() != cursor || !page.HasMore {
		t.Errorf("cursor moved to %q after failure", p.Cursor())
	}

	page = p.LoadOlder(ctx, list)
	if page.Err != nil || len(page.Events) != 10 {
		t.Errorf("retry LoadOlder() = %+v", page)
	}
}

func TestLoadMessagesSince(t *testing.T) {
	fs, p := newPager(t, 20)
	ctx := context.Background()
	list := p.LoadInitial(ctx).Events

	fs.AddMessages("s1", testutil.HistoryItem("n1", "assistant", "s1", "new one"), testutil.HistoryItem("n2", "assistant", "s1", "new two"))
	// n1 already arrived over the live stream
	list = append(list, classifier.ClassifiedMessage{MessageID: "n1"})

	res := p.LoadMessagesSince(ctx, "m0020", list)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := ids(res.Events); len(got) != 1 || got[0] != "n2" {
		t.Errorf("LoadMessagesSince() = %v, want [n2]", got)
	}

	reqs := fs.Requests()
	if q := reqs[len(reqs)-1].Query; q != "after=m0020" {
		t.Errorf("query = %q, want after=m0020", q)
	}
}

func TestLoadMessagesSinceLongGap(t *testing.T) {
	fs, p := newPager(t, 20)
	ctx := context.Background()
	list := p.LoadInitial(ctx).Events

	// more than a page went by while suspended
	fs.AddMessages("s1", testutil.HistoryItems("g", "s1", 45)...)

	res := p.LoadMessagesSince(ctx, "m0020", list)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	got := ids(res.Events)
	if len(got) != 45 {
		t.Fatalf("LoadMessagesSince() returned %d events, want 45", len(got))
	}
	if got[0] != "g0001" || got[44] != "g0045" {
		t.Errorf("LoadMessagesSince() range = %s..%s", got[0], got[44])
	}
}

func TestLoadMessagesSinceEmptyID(t *testing.T) {
	fs, p := newPager(t, 30)
	res := p.LoadMessagesSince(context.Background(), "", nil)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 20 {
		t.Errorf("LoadMessagesSince(\"\") returned %d events, want newest 20", len(res.Events))
	}
	reqs := fs.Requests()
	if q := reqs[len(reqs)-1].Query; q != "limit=20" {
		t.Errorf("query = %q, want limit=20", q)
	}
}
