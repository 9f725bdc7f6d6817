package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/connection"
	"github.com/iksnae/opencode-sync/internal/history"
)

// LoadProjects fetches the project list. A deep link queued while the list
// was empty is replayed afterwards.
func (o *Orchestrator) LoadProjects(ctx context.Context) ([]internal.Project, error) {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	if client == nil {
		return nil, ErrNoServer
	}

	projects, err := client.Projects(ctx)
	if err != nil {
		log.Warn("Failed to load projects: %v", err)
		return nil, err
	}

	o.mu.Lock()
	o.projects = projects
	var queued *internal.DeepLinkRequest
	if len(projects) > 0 && o.pendingDeepLink != nil {
		queued = o.pendingDeepLink
		o.pendingDeepLink = nil
	}
	o.mu.Unlock()
	log.Debug("Loaded %d projects", len(projects))

	if queued != nil {
		if err := o.kv.Delete(ctx, internal.KeyPendingDeepLink); err != nil {
			log.Warn("Failed to clear queued deep link: %v", err)
		}
		log.Info("Replaying queued deep link for session %q", queued.SessionID)
		if err := o.HandleDeepLink(ctx, *queued); err != nil {
			log.Warn("Queued deep link failed: %v", err)
		}
	}
	return append([]internal.Project(nil), projects...), nil
}

// Projects returns the loaded project list
func (o *Orchestrator) Projects() []internal.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]internal.Project(nil), o.projects...)
}

// Sessions returns the sessions of the selected project, newest first
func (o *Orchestrator) Sessions() []internal.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]internal.Session(nil), o.sessions...)
}

// SelectedProject returns the selected project or nil
func (o *Orchestrator) SelectedProject() *internal.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selectedProject == nil {
		return nil
	}
	p := *o.selectedProject
	return &p
}

// SelectedSession returns the selected session or nil
func (o *Orchestrator) SelectedSession() *internal.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selectedSession == nil {
		return nil
	}
	s := *o.selectedSession
	return &s
}

// SelectProject makes project current, clears the session view and loads
// its sessions
func (o *Orchestrator) SelectProject(ctx context.Context, project internal.Project) ([]internal.Session, error) {
	o.mu.Lock()
	if o.client == nil {
		o.mu.Unlock()
		return nil, ErrNoServer
	}
	p := project
	o.selectedProject = &p
	o.selectedSession = nil
	o.sessions = nil
	o.pager = nil
	o.resetSessionLocked()
	client := o.client.ForProject(&p)
	o.mu.Unlock()

	o.persist(ctx, internal.KeyLastSelectedProject, project)

	sessions, err := client.Sessions(ctx)
	if err != nil {
		log.Warn("Failed to load sessions for %s: %v", project.Path(), err)
		return nil, err
	}
	sortSessions(sessions)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selectedProject == nil || o.selectedProject.ID != project.ID {
		log.Debug("Discarding sessions of deselected project %s", project.ID)
		return sessions, nil
	}
	o.sessions = sessions
	return append([]internal.Session(nil), sessions...), nil
}

// FindSession looks sessionID up across every project without changing the
// selection. An exact id wins over a prefix match.
func (o *Orchestrator) FindSession(ctx context.Context, sessionID string) (internal.Project, internal.Session, error) {
	o.mu.Lock()
	client := o.client
	projects := append([]internal.Project(nil), o.projects...)
	o.mu.Unlock()
	if client == nil {
		return internal.Project{}, internal.Session{}, ErrNoServer
	}

	var (
		prefixProject internal.Project
		prefixSession *internal.Session
	)
	for _, p := range projects {
		sessions, err := client.ForProject(&p).Sessions(ctx)
		if err != nil {
			log.Debug("Skipping project %s: %v", p.Path(), err)
			continue
		}
		for _, s := range sessions {
			if s.ID == sessionID {
				return p, s, nil
			}
			if prefixSession == nil && sessionID != "" && strings.HasPrefix(s.ID, sessionID) {
				cp := s
				prefixProject, prefixSession = p, &cp
			}
		}
	}
	if prefixSession != nil {
		return prefixProject, *prefixSession, nil
	}
	return internal.Project{}, internal.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// SelectSession switches to sessionID: the store and event list are cleared
// and the newest history page is loaded. A load that finishes after another
// session was selected is discarded.
func (o *Orchestrator) SelectSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	if o.client == nil {
		o.mu.Unlock()
		return ErrNoServer
	}
	session := internal.Session{ID: sessionID}
	for _, s := range o.sessions {
		if s.ID == sessionID {
			session = s
			break
		}
	}
	o.selectedSession = &session
	o.resetSessionLocked()
	pager := history.NewPager(o.scopedClientLocked(), sessionID, o.projectNameLocked(), o.cfg.History)
	o.pager = pager
	o.mu.Unlock()

	log.Info("Selected session %s", sessionID)
	o.persist(ctx, internal.KeyLastSelectedSession, session)

	res := pager.LoadInitial(ctx)

	o.mu.Lock()
	if o.selectedSessionIDLocked() != sessionID || o.pager != pager {
		o.mu.Unlock()
		log.Debug("Discarding stale history for %s", sessionID)
		return nil
	}
	o.mergeHistoryLocked(res)
	o.mu.Unlock()

	if err := o.LoadTodos(ctx); err != nil {
		log.Debug("Todo load failed: %v", err)
	}
	if err := o.RefreshStatuses(ctx); err != nil {
		log.Debug("Status refresh failed: %v", err)
	}
	return res.Err
}

// LoadTodos fetches the selected session's todo list
func (o *Orchestrator) LoadTodos(ctx context.Context) error {
	o.mu.Lock()
	client := o.scopedClientLocked()
	id := o.selectedSessionIDLocked()
	o.mu.Unlock()
	if client == nil {
		return ErrNoServer
	}
	if id == "" {
		return ErrNoSession
	}
	todos, err := client.Todos(ctx, id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.selectedSessionIDLocked() == id {
		o.todos = todos
	}
	o.mu.Unlock()
	return nil
}

// RefreshSessions reloads the selected project's session list, keeping the
// selected session
func (o *Orchestrator) RefreshSessions(ctx context.Context) error {
	o.mu.Lock()
	if o.client == nil {
		o.mu.Unlock()
		return ErrNoServer
	}
	if o.selectedProject == nil {
		o.mu.Unlock()
		return ErrNoProject
	}
	projectID := o.selectedProject.ID
	client := o.scopedClientLocked()
	o.mu.Unlock()

	sessions, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	sortSessions(sessions)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selectedProject == nil || o.selectedProject.ID != projectID {
		return nil
	}
	o.sessions = sessions
	if o.selectedSession != nil {
		for _, s := range sessions {
			if s.ID == o.selectedSession.ID {
				cp := s
				o.selectedSession = &cp
				break
			}
		}
	}
	return nil
}

// CreateSession starts a session in the selected project and selects it
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (*internal.Session, error) {
	o.mu.Lock()
	if o.client == nil {
		o.mu.Unlock()
		return nil, ErrNoServer
	}
	if o.selectedProject == nil {
		o.mu.Unlock()
		return nil, ErrNoProject
	}
	client := o.scopedClientLocked()
	o.mu.Unlock()

	session, err := client.CreateSession(ctx, title)
	if err != nil {
		return nil, err
	}
	log.Info("Created session %s", session.ID)

	o.mu.Lock()
	o.sessions = append([]internal.Session{*session}, o.sessions...)
	o.mu.Unlock()

	if err := o.SelectSession(ctx, session.ID); err != nil {
		return session, err
	}
	return session, nil
}

// DeleteSession deletes a session on the server. Deleting the selected
// session clears the conversation view.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	client := o.scopedClientLocked()
	o.mu.Unlock()
	if client == nil {
		return ErrNoServer
	}
	if err := client.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	log.Info("Deleted session %s", sessionID)

	o.mu.Lock()
	kept := o.sessions[:0]
	for _, s := range o.sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	o.sessions = kept
	delete(o.statuses, sessionID)
	wasSelected := o.selectedSessionIDLocked() == sessionID
	if wasSelected {
		o.selectedSession = nil
		o.pager = nil
		o.resetSessionLocked()
	}
	o.mu.Unlock()

	if wasSelected {
		if err := o.kv.Delete(ctx, internal.KeyLastSelectedSession); err != nil {
			log.Warn("Failed to forget deleted session: %v", err)
		}
	}
	return nil
}

func sortSessions(sessions []internal.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt().After(sessions[j].UpdatedAt())
	})
}

// RefreshSession reloads the selected session from scratch, todos included
func (o *Orchestrator) RefreshSession(ctx context.Context) error {
	o.mu.Lock()
	id := o.selectedSessionIDLocked()
	o.mu.Unlock()
	if id == "" {
		return ErrNoSession
	}
	return o.SelectSession(ctx, id)
}

// mergeHistoryLocked puts a freshly loaded page in front of live events that
// arrived while it loaded
func (o *Orchestrator) mergeHistoryLocked(res history.Result) {
	live := o.events
	o.events = make([]classifier.ClassifiedMessage, 0, len(res.Events)+len(live))
	var discard []func()
	for _, ev := range res.Events {
		o.upsertLocked(ev, &discard)
	}
	for _, ev := range live {
		if ev.MessageID != "" && o.indexByMessageIDLocked(ev.MessageID) >= 0 {
			continue
		}
		o.events = append(o.events, ev)
	}
	o.lastReceivedID = lastMessageID(o.events)
	for _, u := range res.Unclassified {
		o.recordLocked(u)
	}
	log.Debug("History merged: %d loaded, %d live", len(res.Events), len(live))
}

func lastMessageID(events []classifier.ClassifiedMessage) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].MessageID != "" {
			return events[i].MessageID
		}
	}
	return ""
}

// LoadOlderMessages prepends the next older slice of history
func (o *Orchestrator) LoadOlderMessages(ctx context.Context) (history.Page, error) {
	o.mu.Lock()
	pager := o.pager
	current := append([]classifier.ClassifiedMessage(nil), o.events...)
	o.mu.Unlock()
	if pager == nil {
		return history.Page{}, ErrNoSession
	}

	page := pager.LoadOlder(ctx, current)
	if page.Err != nil {
		return page, page.Err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pager != pager {
		log.Debug("Discarding older page of a previous session")
		return history.Page{}, nil
	}
	older := make([]classifier.ClassifiedMessage, 0, len(page.Events))
	for _, ev := range page.Events {
		if ev.MessageID != "" && o.indexByMessageIDLocked(ev.MessageID) >= 0 {
			continue
		}
		older = append(older, ev)
	}
	o.events = append(older, o.events...)
	page.Events = older
	return page, nil
}

// HasOlderMessages reports whether LoadOlderMessages can return anything
func (o *Orchestrator) HasOlderMessages() bool {
	o.mu.Lock()
	pager := o.pager
	o.mu.Unlock()
	return pager != nil && pager.HasMore()
}

// HandleForeground recovers after the client was suspended: reconnect a
// dropped stream, fetch what was missed and refresh session statuses.
func (o *Orchestrator) HandleForeground(ctx context.Context) error {
	if o.BaseURL() == "" {
		return nil
	}
	switch o.machine.State() {
	case connection.StateDisconnected, connection.StateReconnecting:
		log.Info("Foreground: reconnecting")
		if err := o.machine.Reconnect(ctx); err != nil {
			log.Warn("Foreground reconnect failed: %v", err)
		}
	}

	o.mu.Lock()
	pager := o.pager
	since := o.lastReceivedID
	current := append([]classifier.ClassifiedMessage(nil), o.events...)
	o.mu.Unlock()

	var loadErr error
	if pager != nil {
		res := pager.LoadMessagesSince(ctx, since, current)
		loadErr = res.Err
		if res.Err == nil {
			var notify []func()
			o.mu.Lock()
			if o.pager == pager {
				for _, ev := range res.Events {
					if o.confirmEchoLocked(ev, &notify) {
						continue
					}
					o.upsertLocked(ev, &notify)
				}
				log.Debug("Foreground: %d missed messages since %q", len(res.Events), since)
			}
			o.mu.Unlock()
			run(notify)
		}
	}

	if err := o.RefreshStatuses(ctx); err != nil {
		log.Debug("Status refresh failed: %v", err)
	}
	return loadErr
}

// RefreshStatuses reloads busy/idle for every session
func (o *Orchestrator) RefreshStatuses(ctx context.Context) error {
	o.mu.Lock()
	client := o.scopedClientLocked()
	o.mu.Unlock()
	if client == nil {
		return ErrNoServer
	}
	statuses, err := client.SessionStatuses(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	for id, st := range statuses {
		o.statuses[id] = st.Type
	}
	o.mu.Unlock()
	return nil
}

// HandleDeepLink opens the session named by req, switching servers when
// needed. Before the project list has loaded the request is queued in a
// single slot, replacing any earlier one.
func (o *Orchestrator) HandleDeepLink(ctx context.Context, req internal.DeepLinkRequest) error {
	if req.ServerURL == "" {
		log.Warn("Deep link missing serverUrl")
		return ErrDeepLinkServer
	}
	target := internal.NormalizeBaseURL(req.ServerURL)
	current := o.BaseURL()
	different := target != current

	if different && req.SessionID != "" {
		if _, err := o.newClient(target).GetSession(ctx, req.SessionID); err != nil {
			log.Warn("Session %s not found on %s: %v", req.SessionID, target, err)
			return fmt.Errorf("deep link session %s on %s: %w", req.SessionID, target, err)
		}
	}

	o.mu.Lock()
	if len(o.projects) == 0 {
		q := req
		o.pendingDeepLink = &q
		o.mu.Unlock()
		log.Debug("Projects not loaded yet, queuing deep link")
		o.persist(ctx, internal.KeyPendingDeepLink, req)
		if current == "" {
			return o.Connect(ctx, target, ConnectOptions{SkipHealthCheck: true})
		}
		return nil
	}
	o.pendingDeepLink = nil
	o.mu.Unlock()

	if different || !o.machine.State().Active() {
		if err := o.Connect(ctx, target, ConnectOptions{}); err != nil {
			return err
		}
	}

	if req.ProjectPath != "" {
		project, ok := o.findProject(req.ProjectPath)
		if !ok {
			log.Debug("Deep link project %s not found", req.ProjectPath)
		} else if _, err := o.SelectProject(ctx, project); err != nil {
			return err
		}
	}

	if req.SessionID == "" {
		return nil
	}
	if !o.hasSession(req.SessionID) {
		o.mu.Lock()
		client := o.scopedClientLocked()
		o.mu.Unlock()
		if client == nil {
			return ErrNoServer
		}
		if _, err := client.GetSession(ctx, req.SessionID); err != nil {
			return fmt.Errorf("deep link session %s: %w", req.SessionID, err)
		}
	}
	return o.SelectSession(ctx, req.SessionID)
}

// PendingDeepLink returns the queued deep link, if any
func (o *Orchestrator) PendingDeepLink() *internal.DeepLinkRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pendingDeepLink == nil {
		return nil
	}
	q := *o.pendingDeepLink
	return &q
}

func (o *Orchestrator) findProject(path string) (internal.Project, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.projects {
		if p.Path() == path || p.Directory == path {
			return p, true
		}
	}
	return internal.Project{}, false
}

func (o *Orchestrator) hasSession(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (o *Orchestrator) projectNameLocked() string {
	if o.selectedProject == nil {
		return ""
	}
	return o.selectedProject.Name()
}

// autoSelect restores the project and session saved by an earlier run
func (o *Orchestrator) autoSelect(ctx context.Context) {
	var project internal.Project
	found, err := o.kv.Get(ctx, internal.KeyLastSelectedProject, &project)
	if err != nil || !found {
		log.Debug("No saved project to restore")
		return
	}
	if p, ok := o.findProject(project.Path()); ok {
		project = p
	}
	if _, err := o.SelectProject(ctx, project); err != nil {
		log.Warn("Auto-select of project %s failed: %v", project.Path(), err)
		return
	}

	var session internal.Session
	found, err = o.kv.Get(ctx, internal.KeyLastSelectedSession, &session)
	if err != nil || !found || session.ID == "" {
		return
	}
	if err := o.SelectSession(ctx, session.ID); err != nil {
		log.Warn("Auto-select of session %s failed: %v", session.ID, err)
	}
}

// Providers lists the models offered by the server
func (o *Orchestrator) Providers(ctx context.Context) (*internal.ProvidersResponse, error) {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	if client == nil {
		return nil, ErrNoServer
	}
	return client.Providers(ctx)
}

var _ history.Fetcher = (*api.Client)(nil)
