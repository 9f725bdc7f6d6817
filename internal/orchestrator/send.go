package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/connection"
)

// SendMessage shows text as a local bubble at once and posts it to the
// selected session. On failure the bubble is retracted and the error
// returned. The server echo later confirms the bubble instead of adding a
// second copy.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (classifier.ClassifiedMessage, error) {
	return o.send(ctx, text, func(client *api.Client, sessionID, mode string, model *internal.ModelSelection) error {
		req := api.SendRequest{Text: text, Agent: mode}
		if model != nil {
			req.ProviderID = model.ProviderID
			req.ModelID = model.ModelID
		}
		return client.SendMessage(ctx, sessionID, req)
	})
}

// SendCommand runs "/name args" in the selected session with the same
// optimistic bubble as SendMessage
func (o *Orchestrator) SendCommand(ctx context.Context, text string) (classifier.ClassifiedMessage, error) {
	name, args := api.ParseCommand(text)
	if name == "" {
		return classifier.ClassifiedMessage{}, ErrEmptyMessage
	}
	return o.send(ctx, text, func(client *api.Client, sessionID, _ string, _ *internal.ModelSelection) error {
		return client.SendCommand(ctx, sessionID, name, args)
	})
}

type postFunc func(client *api.Client, sessionID, mode string, model *internal.ModelSelection) error

func (o *Orchestrator) send(ctx context.Context, text string, post postFunc) (classifier.ClassifiedMessage, error) {
	if strings.TrimSpace(text) == "" {
		return classifier.ClassifiedMessage{}, ErrEmptyMessage
	}
	if o.machine.State() != connection.StateConnected {
		return classifier.ClassifiedMessage{}, ErrNotConnected
	}

	var notify []func()
	o.mu.Lock()
	if o.selectedSession == nil {
		o.mu.Unlock()
		return classifier.ClassifiedMessage{}, ErrNoSession
	}
	client := o.scopedClientLocked()
	if client == nil {
		o.mu.Unlock()
		return classifier.ClassifiedMessage{}, ErrNoServer
	}
	sessionID := o.selectedSession.ID
	mode := o.mode
	var model *internal.ModelSelection
	if o.model != nil {
		m := *o.model
		model = &m
	}
	bubble := classifier.ClassifiedMessage{
		ID:          o.ids.Next(),
		SessionID:   sessionID,
		Category:    classifier.CategorySent,
		Type:        classifier.TypeSent,
		Role:        classifier.RoleUser,
		Text:        text,
		Mode:        mode,
		Timestamp:   o.opts.Now().UnixMilli(),
		ProjectName: o.projectNameLocked(),
	}
	o.events = append(o.events, bubble)
	o.pending = append(o.pending, pendingSend{id: bubble.ID, text: strings.TrimSpace(text), sessionID: sessionID})
	o.notifyEventLocked(bubble, &notify)
	o.mu.Unlock()
	run(notify)

	if err := post(client, sessionID, mode, model); err != nil {
		log.Warn("Send to %s failed, retracting %s: %v", sessionID, bubble.ID, err)
		o.retract(bubble.ID)
		return bubble, fmt.Errorf("send to session %s: %w", sessionID, err)
	}
	log.Debug("Sent %s to %s", bubble.ID, sessionID)
	return bubble, nil
}

// retract removes an optimistic bubble by id
func (o *Orchestrator) retract(id string) {
	o.mu.Lock()
	if i := o.indexByIDLocked(id); i >= 0 {
		o.events = append(o.events[:i:i], o.events[i+1:]...)
	}
	for i, p := range o.pending {
		if p.id == id {
			o.pending = append(o.pending[:i:i], o.pending[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	if o.opts.OnRetract != nil {
		o.opts.OnRetract(id)
	}
}

// Model returns the model used for outgoing messages, or nil for the
// server default
func (o *Orchestrator) Model() *internal.ModelSelection {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.model == nil {
		return nil
	}
	m := *o.model
	return &m
}

// SetModel selects and persists the model for outgoing messages
func (o *Orchestrator) SetModel(ctx context.Context, providerID, modelID string) {
	sel := internal.ModelSelection{
		ProviderID: providerID,
		ModelID:    modelID,
		Timestamp:  o.opts.Now().UnixMilli(),
	}
	o.mu.Lock()
	o.model = &sel
	o.mu.Unlock()
	o.persist(ctx, internal.KeyLastSelectedModel, sel)
}

func (o *Orchestrator) loadSavedModel(ctx context.Context) {
	o.mu.Lock()
	loaded := o.model != nil
	o.mu.Unlock()
	if loaded {
		return
	}
	var sel internal.ModelSelection
	found, err := o.kv.Get(ctx, internal.KeyLastSelectedModel, &sel)
	if err != nil {
		log.Warn("Failed to load saved model: %v", err)
		return
	}
	if !found || sel.ProviderID == "" || sel.ModelID == "" {
		return
	}
	o.mu.Lock()
	o.model = &sel
	o.mu.Unlock()
}
