package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnState is the lifecycle state of one connected device instance.
type ConnState int

// Connection lifecycle states. Transitions are owned exclusively by the
// Manager's run loop; other goroutines only read the current state.
const (
	StateIdle ConnState = iota
	StateScanning
	StateMatched
	StateConnecting
	StateDiscoveringServices
	StateReady
	StateDisconnected
	StateRetrying
)

// String returns the lowercase state name for logs and diagnostics.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateMatched:
		return "matched"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Params tunes connection behaviour per device class. Chatty gateways
// want long connect timeouts; simple meters reconnect fast.
type Params struct {
	// ConnectTimeout bounds one connection attempt.
	ConnectTimeout time.Duration

	// RetryInitial is the backoff after the first failure.
	RetryInitial time.Duration

	// RetryMax caps the exponential backoff.
	RetryMax time.Duration
}

// DefaultParams are reasonable settings for most battery devices.
func DefaultParams() Params {
	return Params{
		ConnectTimeout: 10 * time.Second,
		RetryInitial:   200 * time.Millisecond,
		RetryMax:       160 * time.Second,
	}
}

// Logger is the minimal logging interface the package needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SessionFunc runs the device protocol over an established connection:
// service setup, auth handshakes, notification loops. It returns when
// the session ends; a nil error means a clean shutdown (ctx cancelled),
// anything else is treated as a disconnect and retried.
type SessionFunc func(ctx context.Context, p Peripheral) error

// ManagerOptions configures a connection Manager.
type ManagerOptions struct {
	// Adapter is the radio to scan and connect with. Required.
	Adapter Adapter

	// MAC restricts matching to one device address. Required.
	MAC string

	// Match is an additional predicate over advertisements (name prefix,
	// manufacturer data, service data). Optional; nil matches any
	// advertisement from MAC.
	Match func(Advertisement) bool

	// Session runs the device protocol once connected. Required.
	Session SessionFunc

	// Params tunes timeouts and backoff. Zero value uses DefaultParams.
	Params Params

	// OnStateChange is invoked after every transition, from the run
	// loop goroutine. Optional. Drivers use it to publish availability.
	OnStateChange func(from, to ConnState)

	// Logger is optional; nil discards logs.
	Logger Logger
}

// Manager drives the connection lifecycle for one device instance.
//
// All state transitions happen on the run loop goroutine. Stop is safe
// to call from any goroutine and returns after the loop has exited and
// the device is disconnected.
type Manager struct {
	adapter Adapter
	mac     string
	match   func(Advertisement) bool
	session SessionFunc
	params  Params
	onState func(from, to ConnState)
	log     Logger

	mu       sync.RWMutex
	state    ConnState
	retries  int
	lastMove time.Time

	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager validates options and creates a stopped Manager.
// No I/O happens until Start.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("%w: adapter is required", ErrInvalidOptions)
	}
	if opts.MAC == "" {
		return nil, fmt.Errorf("%w: mac is required", ErrInvalidOptions)
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidOptions)
	}

	params := opts.Params
	if params.ConnectTimeout <= 0 {
		params.ConnectTimeout = DefaultParams().ConnectTimeout
	}
	if params.RetryInitial <= 0 {
		params.RetryInitial = DefaultParams().RetryInitial
	}
	if params.RetryMax <= 0 {
		params.RetryMax = DefaultParams().RetryMax
	}

	return &Manager{
		adapter: opts.Adapter,
		mac:     opts.MAC,
		match:   opts.Match,
		session: opts.Session,
		params:  params,
		onState: opts.OnStateChange,
		log:     opts.Logger,
		state:   StateIdle,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the run loop. Returns ErrAlreadyStarted on a second call.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop cancels the run loop and blocks until it has exited.
// Safe to call multiple times and before Start.
func (m *Manager) Stop() {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return
	}

	m.stopOnce.Do(func() {
		m.cancel()
		<-m.done
	})
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Retries returns the current consecutive failure count.
func (m *Manager) Retries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retries
}

// transition moves to a new state and notifies the observer.
func (m *Manager) transition(to ConnState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.lastMove = time.Now()
	m.mu.Unlock()

	if from != to && m.onState != nil {
		m.onState(from, to)
	}
	m.logDebug("connection state changed", "mac", m.mac, "from", from.String(), "to", to.String())
}

// run is the lifecycle loop. It exits only when ctx is cancelled.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.transition(StateIdle)

	for {
		if ctx.Err() != nil {
			return
		}

		adv, ok := m.scanForDevice(ctx)
		if !ok {
			continue
		}
		m.transition(StateMatched)
		m.logInfo("device matched", "mac", m.mac, "name", adv.LocalName, "rssi", adv.RSSI)

		p, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logWarn("connect failed", "mac", m.mac, "error", err)
			m.backoff(ctx)
			continue
		}

		m.transition(StateDiscoveringServices)
		m.transition(StateReady)
		m.resetRetries()

		err = m.session(ctx, p)
		_ = p.Disconnect()

		if ctx.Err() != nil {
			return
		}
		m.transition(StateDisconnected)
		m.logWarn("session ended", "mac", m.mac, "error", err)
		m.backoff(ctx)
	}
}

// scanForDevice scans until an advertisement from the configured MAC
// passes the match predicate. Returns false when ctx is cancelled or the
// scan channel closes.
func (m *Manager) scanForDevice(ctx context.Context) (Advertisement, bool) {
	m.transition(StateScanning)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := m.adapter.Scan(scanCtx)
	if err != nil {
		m.logWarn("scan failed", "mac", m.mac, "error", err)
		m.backoff(ctx)
		return Advertisement{}, false
	}

	for {
		select {
		case <-ctx.Done():
			return Advertisement{}, false
		case adv, open := <-ch:
			if !open {
				m.backoff(ctx)
				return Advertisement{}, false
			}
			if !adv.MatchesAddr(m.mac) {
				continue
			}
			if m.match != nil && !m.match(adv) {
				continue
			}
			return adv, true
		}
	}
}

// connect performs one bounded connection attempt.
func (m *Manager) connect(ctx context.Context) (Peripheral, error) {
	m.transition(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, m.params.ConnectTimeout)
	defer cancel()

	p, err := m.adapter.Connect(connectCtx, m.mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return p, nil
}

// backoff sleeps for the current retry interval, doubling it up to the
// cap, then returns. Cancellation cuts the sleep short.
func (m *Manager) backoff(ctx context.Context) {
	m.mu.Lock()
	m.retries++
	delay := m.backoffDelay(m.retries)
	m.mu.Unlock()

	m.transition(StateRetrying)
	m.logDebug("backing off", "mac", m.mac, "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// backoffDelay computes the capped exponential delay for attempt n (1-based).
func (m *Manager) backoffDelay(n int) time.Duration {
	delay := m.params.RetryInitial
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= m.params.RetryMax {
			return m.params.RetryMax
		}
	}
	if delay > m.params.RetryMax {
		return m.params.RetryMax
	}
	return delay
}

func (m *Manager) resetRetries() {
	m.mu.Lock()
	m.retries = 0
	m.mu.Unlock()
}

func (m *Manager) logDebug(msg string, args ...any) {
	if m.log != nil {
		m.log.Debug(msg, args...)
	}
}

func (m *Manager) logInfo(msg string, args ...any) {
	if m.log != nil {
		m.log.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.log != nil {
		m.log.Warn(msg, args...)
	}
}
