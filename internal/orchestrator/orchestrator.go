// Package orchestrator composes the connection machine, classifier, message
// store and history loader into one session-synchronised view of an
// opencode server.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/connection"
	"github.com/iksnae/opencode-sync/internal/history"
	"github.com/iksnae/opencode-sync/internal/messagestore"
)

var log = internal.Tag("Orchestrator")

// maxDebugMessages bounds the all/unclassified debug lists
const maxDebugMessages = 1000

var (
	ErrNoServer        = errors.New("no server connected")
	ErrNoSession       = errors.New("no session selected")
	ErrNoProject       = errors.New("no project selected")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("event stream not connected")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrInvalidURL      = errors.New("invalid server url")
	ErrDeepLinkServer  = errors.New("deep link missing serverUrl")
)

// Options wires an Orchestrator. Zero fields get working defaults.
type Options struct {
	Config     internal.Config
	Store      internal.KeyValueStore
	Transport  connection.Transport
	Prober     connection.Prober
	Scheduler  connection.Scheduler
	HTTPClient *http.Client
	Now        func() time.Time
	// Sleep waits out the post-connect settle delay
	Sleep func(ctx context.Context, d time.Duration) error

	// OnEvent runs for every event appended to or updated in the list
	OnEvent func(msg classifier.ClassifiedMessage)
	// OnRetract runs when a failed send removes its bubble
	OnRetract     func(id string)
	OnStateChange func(newState, oldState connection.State)
	OnError       func(err *internal.ConnectionError)
}

// ConnectOptions tunes Connect
type ConnectOptions struct {
	SkipHealthCheck bool
	// AutoSelect restores the last selected project and session
	AutoSelect bool
}

type pendingSend struct {
	id        string
	text      string
	sessionID string
}

// Orchestrator owns the event list of the selected session. All state is
// guarded by mu; callbacks run after it is released.
type Orchestrator struct {
	opts    Options
	cfg     internal.Config
	machine *connection.Machine
	store   *messagestore.Store
	kv      internal.KeyValueStore
	servers *internal.ServerList
	ids     *IDGenerator

	mu              sync.Mutex
	client          *api.Client
	baseURL         string
	mode            string
	model           *internal.ModelSelection
	projects        []internal.Project
	sessions        []internal.Session
	selectedProject *internal.Project
	selectedSession *internal.Session
	pager           *history.Pager
	events          []classifier.ClassifiedMessage
	all             []classifier.ClassifiedMessage
	unclassified    []classifier.ClassifiedMessage
	pending         []pendingSend
	held            map[string]classifier.ClassifiedMessage
	streaming       map[string]bool
	statuses        map[string]string
	todos           []classifier.Todo
	lastReceivedID  string
	pendingDeepLink *internal.DeepLinkRequest
}

// New creates a disconnected Orchestrator
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.Mode == "" {
		cfg.Mode = classifier.DefaultMode
	}
	if opts.Store == nil {
		opts.Store = internal.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Transport == nil {
		opts.Transport = &connection.HTTPTransport{}
	}

	o := &Orchestrator{
		opts:      opts,
		cfg:       cfg,
		store:     messagestore.New(),
		kv:        opts.Store,
		servers:   internal.NewServerList(opts.Store),
		ids:       NewIDGenerator(opts.Now),
		mode:      cfg.Mode,
		held:      make(map[string]classifier.ClassifiedMessage),
		streaming: make(map[string]bool),
		statuses:  make(map[string]string),
	}
	o.machine = connection.NewMachine(connection.Options{
		Transport:     opts.Transport,
		Prober:        opts.Prober,
		Scheduler:     opts.Scheduler,
		Config:        cfg.Connection,
		OnStateChange: o.handleStateChange,
		OnError:       opts.OnError,
		OnHeartbeat:   o.onHeartbeat,
		OnMessage:     o.HandleData,
	})
	return o
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) newClient(baseURL string) *api.Client {
	opts := []api.Option{api.WithTimeout(o.cfg.Connection.RequestTimeout)}
	if o.opts.HTTPClient != nil {
		opts = append(opts, api.WithHTTPClient(o.opts.HTTPClient))
	}
	return api.New(baseURL, opts...)
}

// Machine exposes the connection machine
func (o *Orchestrator) Machine() *connection.Machine {
	return o.machine
}

// Servers exposes the saved server list
func (o *Orchestrator) Servers() *internal.ServerList {
	return o.servers
}

// Connect validates url, opens the event stream, waits out the settle delay
// and, unless the stream already failed, persists the url and loads
// projects. Connecting to a different server drops the current one first.
func (o *Orchestrator) Connect(ctx context.Context, url string, opts ConnectOptions) error {
	if !internal.ValidateURL(url) {
		return ErrInvalidURL
	}
	base := internal.NormalizeBaseURL(url)

	o.mu.Lock()
	prev := o.baseURL
	o.mu.Unlock()
	if prev != "" && prev != base {
		log.Info("Switching server %s -> %s", prev, base)
		o.Disconnect()
	}

	if err := o.servers.Add(ctx, internal.Server{URL: base}); err != nil {
		log.Warn("Failed to save server %s: %v", base, err)
	}

	client := o.newClient(base)
	if !opts.SkipHealthCheck {
		if err := client.Health(ctx); err != nil {
			o.setServerStatus(base, internal.ServerError)
			return err
		}
	}

	o.mu.Lock()
	o.client = client
	o.baseURL = base
	o.mu.Unlock()

	if err := o.machine.Connect(ctx, base, connection.ConnectOptions{SkipHealthCheck: true}); err != nil {
		return err
	}
	if err := o.opts.Sleep(ctx, o.cfg.Connection.SettleDelay); err != nil {
		return err
	}
	if st := o.machine.Status(); st.State == connection.StateFailed {
		log.Warn("Stream to %s failed during connect", base)
		if st.Err != nil {
			return st.Err
		}
		return ErrNotConnected
	}

	o.persist(ctx, internal.KeyLastConnectedURL, base)
	o.loadSavedModel(ctx)

	if _, err := o.LoadProjects(ctx); err != nil {
		return err
	}
	if opts.AutoSelect {
		o.autoSelect(ctx)
	}
	return nil
}

// Disconnect closes the stream and forgets the server. The event list is
// kept; the part store is wiped.
func (o *Orchestrator) Disconnect() {
	o.machine.Disconnect()
	o.store.ClearStore()

	o.mu.Lock()
	o.client = nil
	o.baseURL = ""
	o.projects = nil
	o.sessions = nil
	o.pager = nil
	o.held = make(map[string]classifier.ClassifiedMessage)
	o.streaming = make(map[string]bool)
	o.pending = nil
	o.mu.Unlock()
}

// Reconnect restarts the stream to the current server; it also leaves FAILED
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	if o.BaseURL() == "" {
		return ErrNoServer
	}
	return o.machine.Reconnect(ctx)
}

// Close releases the stream
func (o *Orchestrator) Close() {
	o.machine.Disconnect()
}

// onHeartbeat refreshes the selected project's sessions and statuses in the
// background. A successful round trip also counts as server liveness.
func (o *Orchestrator) onHeartbeat() {
	o.mu.Lock()
	selected := o.selectedProject != nil
	o.mu.Unlock()
	if !selected {
		return
	}

	timeout := o.cfg.Connection.RequestTimeout
	if timeout <= 0 {
		timeout = internal.DefaultConfig().Connection.RequestTimeout
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := o.RefreshSessions(ctx); err != nil {
			log.Debug("Heartbeat session refresh failed: %v", err)
			return
		}
		if err := o.RefreshStatuses(ctx); err != nil {
			log.Debug("Heartbeat status refresh failed: %v", err)
			return
		}
		o.machine.AcknowledgeHeartbeat()
	}()
}

func (o *Orchestrator) handleStateChange(newState, oldState connection.State) {
	base := o.machine.BaseURL()
	switch newState {
	case connection.StateConnecting, connection.StateReconnecting:
		o.setServerStatus(base, internal.ServerConnecting)
	case connection.StateConnected:
		o.setServerStatus(base, internal.ServerConnected)
	case connection.StateFailed:
		o.setServerStatus(base, internal.ServerError)
	case connection.StateDisconnected:
		o.setServerStatus(base, internal.ServerDisconnected)
	}
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(newState, oldState)
	}
}

func (o *Orchestrator) setServerStatus(base string, status internal.ServerStatus) {
	if base == "" {
		return
	}
	if err := o.servers.UpdateStatus(context.Background(), base, status); err != nil {
		log.Warn("Failed to update status of %s: %v", base, err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, key string, v any) {
	if err := o.kv.Set(ctx, key, v); err != nil {
		log.Warn("Failed to persist %s: %v", key, err)
	}
}

// BaseURL returns the server the orchestrator is bound to
func (o *Orchestrator) BaseURL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseURL
}

// ConnectionStatus returns the machine state, retry counters and last error
func (o *Orchestrator) ConnectionStatus() connection.Status {
	return o.machine.Status()
}

// Mode returns the agent mode used for outgoing messages
func (o *Orchestrator) Mode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetMode changes the agent mode
func (o *Orchestrator) SetMode(mode string) {
	if mode == "" {
		mode = classifier.DefaultMode
	}
	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()
}

// Events returns a copy of the event list
func (o *Orchestrator) Events() []classifier.ClassifiedMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]classifier.ClassifiedMessage(nil), o.events...)
}

// GroupedUnclassified returns unclassified messages keyed by payload type
func (o *Orchestrator) GroupedUnclassified() map[string][]classifier.ClassifiedMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return classifier.GroupUnclassified(o.unclassified)
}

// GroupedAll returns every message seen, split by classification
func (o *Orchestrator) GroupedAll() classifier.Grouped {
	o.mu.Lock()
	defer o.mu.Unlock()
	return classifier.GroupAll(o.all)
}

// Todos returns the latest todo list of the selected session
func (o *Orchestrator) Todos() []classifier.Todo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]classifier.Todo(nil), o.todos...)
}

// Statuses returns busy/idle per session id
func (o *Orchestrator) Statuses() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.statuses))
	for k, v := range o.statuses {
		out[k] = v
	}
	return out
}

// Busy reports whether the selected session is working
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectedSession != nil && o.statuses[o.selectedSession.ID] == internal.SessionBusy
}

// LastReceivedMessageID is the newest server message id in the list
func (o *Orchestrator) LastReceivedMessageID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReceivedID
}

// ClearEvents empties the event list and the part store
func (o *Orchestrator) ClearEvents() {
	o.store.ClearStore()
	o.mu.Lock()
	o.resetSessionLocked()
	o.mu.Unlock()
}

// resetSessionLocked drops everything tied to the selected session
func (o *Orchestrator) resetSessionLocked() {
	o.store.ClearStore()
	o.events = nil
	o.pending = nil
	o.held = make(map[string]classifier.ClassifiedMessage)
	o.streaming = make(map[string]bool)
	o.todos = nil
	o.lastReceivedID = ""
}

func (o *Orchestrator) selectedSessionIDLocked() string {
	if o.selectedSession == nil {
		return ""
	}
	return o.selectedSession.ID
}

// scopedClientLocked returns the client carrying the selected project's directory
func (o *Orchestrator) scopedClientLocked() *api.Client {
	if o.client == nil {
		return nil
	}
	if o.selectedProject == nil {
		return o.client
	}
	return o.client.ForProject(o.selectedProject)
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
