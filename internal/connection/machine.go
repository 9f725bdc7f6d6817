package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/iksnae/opencode-sync/internal"
)

var log = internal.Tag("SSE")

// Options wires a Machine. Zero fields get working defaults.
type Options struct {
	Transport Transport
	Prober    Prober
	Scheduler Scheduler
	Config    internal.ConnectionConfig

	OnStateChange     func(newState, oldState State)
	OnError           func(err *internal.ConnectionError)
	OnHeartbeatMissed func()
	OnHeartbeat       func()
	OnMessage         func(data string)
}

// ConnectOptions tunes a single Connect call
type ConnectOptions struct {
	SkipHealthCheck bool
}

// Status is a snapshot of the machine for display
type Status struct {
	State      State
	BaseURL    string
	RetryCount int
	MaxRetries int
	Err        *internal.ConnectionError
}

// Machine holds at most one live stream and moves it through
// DISCONNECTED, CONNECTING, CONNECTED, RECONNECTING and FAILED.
//
// Every transport callback carries the generation it was opened under;
// callbacks from an older generation are ignored. User callbacks run after
// the lock is released.
type Machine struct {
	opts Options
	cfg  internal.ConnectionConfig

	mu             sync.Mutex
	state          State
	baseURL        string
	skipProbe      bool
	generation     uint64
	stream         Stream
	retryCount     int
	missed         int
	lastErr        *internal.ConnectionError
	retryTimer     Timer
	heartbeatTimer Timer
}

// NewMachine creates a Machine in the DISCONNECTED state
func NewMachine(opts Options) *Machine {
	def := internal.DefaultConfig().Connection
	cfg := opts.Config
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaxMissedBeats <= 0 {
		cfg.MaxMissedBeats = def.MaxMissedBeats
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if opts.Transport == nil {
		opts.Transport = &HTTPTransport{}
	}
	if opts.Prober == nil {
		opts.Prober = HTTPProber{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler()
	}
	return &Machine{opts: opts, cfg: cfg, state: StateDisconnected}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of state, retry counters and the last error
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		BaseURL:    m.baseURL,
		RetryCount: m.retryCount,
		MaxRetries: m.cfg.MaxRetries,
		Err:        m.lastErr,
	}
}

// BaseURL returns the server the machine was last asked to connect to
func (m *Machine) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

// Connect opens the stream at {baseURL}/global/event. It is a no-op while a
// connection is already being made or held, so at most one transport exists.
// A failed reachability probe is returned and enters the retry path.
func (m *Machine) Connect(ctx context.Context, baseURL string, opts ConnectOptions) error {
	var events []func()
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected:
		state := m.state
		m.mu.Unlock()
		log.Debug("Connect ignored, already %s", state)
		return nil
	case StateFailed:
		err := m.lastErr
		m.mu.Unlock()
		log.Warn("Connect refused in FAILED state, call Reconnect")
		if err == nil {
			return &internal.ConnectionError{Kind: internal.ErrorKindUnknown, Message: "connection failed"}
		}
		return err
	}

	m.stopTimersLocked()
	m.closeStreamLocked()
	m.baseURL = internal.NormalizeBaseURL(baseURL)
	m.skipProbe = opts.SkipHealthCheck
	m.retryCount = 0
	m.missed = 0
	m.lastErr = nil
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting, &events)
	m.mu.Unlock()
	run(events)

	log.Info("Connecting to %s", m.BaseURL())
	return m.attempt(ctx, gen)
}

// Disconnect closes the stream and resets counters. Valid from any state.
func (m *Machine) Disconnect() {
	var events []func()
	m.mu.Lock()
	m.generation++
	m.stopTimersLocked()
	m.closeStreamLocked()
	m.retryCount = 0
	m.missed = 0
	m.lastErr = nil
	m.setStateLocked(StateDisconnected, &events)
	m.mu.Unlock()
	run(events)
}

// Reconnect starts a fresh attempt against the last server regardless of the
// current state. It is the only way out of FAILED.
func (m *Machine) Reconnect(ctx context.Context) error {
	var events []func()
	m.mu.Lock()
	if m.baseURL == "" {
		m.mu.Unlock()
		return errors.New("reconnect: no server to connect to")
	}
	m.generation++
	gen := m.generation
	m.stopTimersLocked()
	m.closeStreamLocked()
	m.retryCount = 0
	m.missed = 0
	m.lastErr = nil
	m.setStateLocked(StateConnecting, &events)
	m.mu.Unlock()
	run(events)

	log.Info("Reconnecting to %s", m.BaseURL())
	return m.attempt(ctx, gen)
}

// ClearError forgets the last error
func (m *Machine) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// AcknowledgeHeartbeat records liveness observed outside the stream and
// ends a run of missed beats
func (m *Machine) AcknowledgeHeartbeat() {
	m.mu.Lock()
	m.missed = 0
	m.mu.Unlock()
}

// attempt probes (unless skipped) and opens the stream for generation gen
func (m *Machine) attempt(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return nil
	}
	baseURL, skip := m.baseURL, m.skipProbe
	m.mu.Unlock()

	if !skip {
		if err := m.opts.Prober.Probe(ctx, baseURL); err != nil {
			log.Warn("Server %s unreachable: %v", baseURL, err)
			if ce := m.fail(gen, internal.ErrorKindServerUnreachable, err); ce != nil {
				return ce
			}
			return nil
		}
	}
	m.open(gen, baseURL)
	return nil
}

func (m *Machine) open(gen uint64, baseURL string) {
	h := Handlers{
		OnOpen:    func() { m.handleOpen(gen) },
		OnMessage: func(data string) { m.handleMessage(gen, data) },
		OnError:   func(err error) { m.handleError(gen, err) },
	}
	stream, err := m.opts.Transport.Open(baseURL+"/global/event", h)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.handleError(gen, err)
		return
	}
	m.stream = stream
	m.mu.Unlock()
}

func (m *Machine) handleOpen(gen uint64) {
	var events []func()
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.retryCount = 0
	m.lastErr = nil
	m.setStateLocked(StateConnected, &events)
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	log.Info("Connected to %s", m.BaseURL())
	run(events)
}

func (m *Machine) handleMessage(gen uint64, data string) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.missed = 0
	m.mu.Unlock()

	if m.opts.OnMessage != nil {
		m.opts.OnMessage(data)
	}
}

func (m *Machine) handleError(gen uint64, err error) {
	kind := internal.ErrorKindNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = internal.ErrorKindTimeout
	}
	log.Warn("Stream error: %v", err)
	m.fail(gen, kind, err)
}

// fail closes the stream and either schedules a retry or, once retries are
// spent, enters FAILED.
func (m *Machine) fail(gen uint64, kind internal.ConnectionErrorKind, cause error) *internal.ConnectionError {
	var events []func()
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return nil
	}
	ce := m.failLocked(kind, cause, &events)
	m.mu.Unlock()
	run(events)
	return ce
}

func (m *Machine) failLocked(kind internal.ConnectionErrorKind, cause error, events *[]func()) *internal.ConnectionError {
	m.stopTimersLocked()
	m.closeStreamLocked()
	m.generation++
	gen := m.generation

	ce := &internal.ConnectionError{
		Kind:       kind,
		RetryCount: m.retryCount,
		MaxRetries: m.cfg.MaxRetries,
		Err:        cause,
	}
	if cause != nil {
		ce.Message = cause.Error()
	}
	m.lastErr = ce
	m.notifyErrorLocked(ce, events)

	if m.retryCount >= m.cfg.MaxRetries {
		log.Error("Giving up after %d retries", m.retryCount)
		m.setStateLocked(StateFailed, events)
		return ce
	}

	m.retryCount++
	delay := m.backoff(m.retryCount)
	log.Info("Retry %d/%d in %s", m.retryCount, m.cfg.MaxRetries, delay)
	m.setStateLocked(StateReconnecting, events)
	m.retryTimer = m.opts.Scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := gen != m.generation || m.state != StateReconnecting
		m.mu.Unlock()
		if !stale {
			m.attempt(context.Background(), gen)
		}
	})
	return ce
}

// backoff is base*2^(n-1), capped
func (m *Machine) backoff(n int) time.Duration {
	d := m.cfg.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	return min(d, m.cfg.MaxBackoff)
}

func (m *Machine) scheduleHeartbeatLocked(gen uint64) {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
	}
	m.heartbeatTimer = m.opts.Scheduler.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeat(gen)
	})
}

func (m *Machine) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.opts.OnHeartbeat != nil {
		m.opts.OnHeartbeat()
	}

	var events []func()
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	// a quiet stream is healthy; only a dead transport is a miss
	if m.stream != nil && m.stream.Alive() {
		m.missed = 0
		m.scheduleHeartbeatLocked(gen)
		m.mu.Unlock()
		return
	}

	m.missed++
	log.Warn("Heartbeat missed (%d/%d)", m.missed, m.cfg.MaxMissedBeats)
	if m.opts.OnHeartbeatMissed != nil {
		events = append(events, m.opts.OnHeartbeatMissed)
	}

	if m.missed >= m.cfg.MaxMissedBeats {
		m.stopTimersLocked()
		m.closeStreamLocked()
		m.generation++
		ce := &internal.ConnectionError{
			Kind:       internal.ErrorKindTimeout,
			Message:    "no heartbeat from server",
			RetryCount: m.retryCount,
			MaxRetries: m.cfg.MaxRetries,
		}
		m.lastErr = ce
		m.notifyErrorLocked(ce, &events)
		m.setStateLocked(StateFailed, &events)
		m.mu.Unlock()
		run(events)
		return
	}

	m.stopTimersLocked()
	m.closeStreamLocked()
	m.generation++
	next := m.generation
	baseURL := m.baseURL
	m.setStateLocked(StateReconnecting, &events)
	m.mu.Unlock()
	run(events)

	m.open(next, baseURL)
}

func (m *Machine) setStateLocked(s State, events *[]func()) {
	old := m.state
	if old == s {
		return
	}
	m.state = s
	log.Debug("State %s -> %s", old, s)
	if cb := m.opts.OnStateChange; cb != nil {
		*events = append(*events, func() { cb(s, old) })
	}
}

func (m *Machine) notifyErrorLocked(ce *internal.ConnectionError, events *[]func()) {
	if cb := m.opts.OnError; cb != nil {
		*events = append(*events, func() { cb(ce) })
	}
}

func (m *Machine) stopTimersLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

func (m *Machine) closeStreamLocked() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

func run(events []func()) {
	for _, e := range events {
		e()
	}
}
