// Package history loads paginated session history from the server and turns
// it into classified events.
package history

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/classifier"
)

var log = internal.Tag("History")

// Fetcher returns one raw page of session history. *api.Client implements it.
type Fetcher interface {
	Messages(ctx context.Context, sessionID string, q api.MessageQuery) ([]json.RawMessage, error)
}

// Request selects the page to load
type Request struct {
	SessionID   string
	ProjectName string
	Limit       int
	Before      string
	After       string
}

// Result is one loaded page. Err is set instead of returning an error so a
// failed load degrades to an empty page.
type Result struct {
	Events              []classifier.ClassifiedMessage
	Unclassified        []classifier.ClassifiedMessage
	GroupedUnclassified map[string][]classifier.ClassifiedMessage
	GroupedAll          classifier.Grouped
	// OldestID and NewestID are the first and last message ids the server
	// returned, before de-duplication.
	OldestID string
	NewestID string
	Fetched  int
	Err      error
}

func emptyResult(err error) Result {
	return Result{
		GroupedUnclassified: map[string][]classifier.ClassifiedMessage{},
		GroupedAll:          classifier.GroupAll(nil),
		Err:                 err,
	}
}

// LoadHistoricalMessages fetches one page, normalizes each item, classifies
// it and drops repeated message ids. Events keep server order.
func LoadHistoricalMessages(ctx context.Context, fetcher Fetcher, req Request) Result {
	if fetcher == nil || req.SessionID == "" {
		log.Warn("LoadHistoricalMessages called without fetcher or session id")
		return emptyResult(nil)
	}
	// a forward (after) request is unbounded so a gap is filled in one go
	if req.Limit <= 0 && req.After == "" {
		req.Limit = internal.DefaultConfig().History.InitialLimit
	}

	log.Debug("Loading session %s (limit=%d before=%q after=%q)", req.SessionID, req.Limit, req.Before, req.After)
	items, err := fetcher.Messages(ctx, req.SessionID, api.MessageQuery{
		Limit:  req.Limit,
		Before: req.Before,
		After:  req.After,
	})
	if err != nil {
		log.Error("Failed to load historical messages: %v", err)
		var fe *internal.FetchError
		if !errors.As(err, &fe) {
			err = &internal.FetchError{Op: "GET", URL: "/session/" + req.SessionID + "/message", Err: err}
		}
		return emptyResult(err)
	}

	res := emptyResult(nil)
	res.Fetched = len(items)
	seen := make(map[string]struct{}, len(items))

	for i, raw := range items {
		ev, ok := Normalize(raw, req.SessionID, req.ProjectName)
		if !ok {
			log.Warn("Skipping malformed history item %d", i)
			continue
		}

		msg := classifier.Classify(ev, "")
		if msg.MessageID == "" {
			if info, ok := ev["info"].(map[string]any); ok {
				msg.MessageID, _ = info["id"].(string)
			}
		}
		if msg.SessionID == "" {
			msg.SessionID = req.SessionID
		}
		if msg.ID == "" {
			msg.ID = msg.MessageID
		}
		if msg.ID == "" {
			msg.ID = "hist_" + uuid.NewString()
		}

		if msg.MessageID != "" {
			if res.OldestID == "" {
				res.OldestID = msg.MessageID
			}
			res.NewestID = msg.MessageID
			if _, dup := seen[msg.MessageID]; dup {
				log.Debug("Skipping duplicate message %s", msg.MessageID)
				continue
			}
			seen[msg.MessageID] = struct{}{}
		}

		if msg.Category == classifier.CategoryUnclassified {
			res.Unclassified = append(res.Unclassified, msg)
		}
		res.Events = append(res.Events, msg)
	}

	res.GroupedUnclassified = classifier.GroupUnclassified(res.Unclassified)
	res.GroupedAll = classifier.GroupAll(res.Events)
	log.Debug("Loaded %d events (%d fetched)", len(res.Events), res.Fetched)
	return res
}
