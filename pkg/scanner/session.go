package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
)

type SessionState int

const (
	Closed SessionState = iota
	Opening
	Open
	Closing
)

func (s SessionState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is a copy of the session state at one point in time.
type Session struct {
	State    SessionState
	Bound    *devices.Identity
	OpenCode int
}

type operation struct {
	name   string
	cancel context.CancelCauseFunc
}

// Manager owns the one hardware session of the process. Every change to
// the session, the in-flight operation slot and the permission reset on
// detach happens under mu, so a detach is visible to any call that starts
// after HandleDetach returns.
type Manager struct {
	mu        sync.Mutex
	perms     *permissions.Negotiator
	newDriver drivers.Factory
	state     SessionState
	bound     *devices.Identity
	opening   *devices.Identity
	openCode  int
	driver    drivers.Driver
	gen       uint64
	op        *operation
	notify    func(Session)
}

func NewManager(perms *permissions.Negotiator, newDriver drivers.Factory, notify func(Session)) *Manager {
	return &Manager{
		perms:     perms,
		newDriver: newDriver,
		notify:    notify,
	}
}

func (m *Manager) snapshot() Session {
	s := Session{State: m.state, OpenCode: m.openCode}
	if m.bound != nil {
		b := *m.bound
		s.Bound = &b
	} else if m.opening != nil {
		b := *m.opening
		s.Bound = &b
	}
	return s
}

func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) changed(s Session) {
	log.Info().Msgf("session %s", s.State)
	if m.notify != nil {
		m.notify(s)
	}
}

// reset returns to Closed and invalidates everything started under the
// previous generation. Callers hold mu.
func (m *Manager) reset(cause error) drivers.Driver {
	if m.op != nil {
		m.op.cancel(cause)
		m.op = nil
	}
	drv := m.driver
	m.state = Closed
	m.bound = nil
	m.opening = nil
	m.driver = nil
	m.openCode = 0
	m.gen++
	return drv
}

// Open starts a session on a device with granted permission. It returns
// the driver open code. Opening the bound device again is a no-op.
func (m *Manager) Open(id devices.Identity) (int, error) {
	m.mu.Lock()

	switch m.state {
	case Open:
		if m.bound.Same(id) {
			code := m.openCode
			m.mu.Unlock()
			log.Debug().Msgf("session already open on %s", id.SystemID)
			return code, nil
		}
		m.mu.Unlock()
		return 0, ErrDeviceMismatch
	case Opening, Closing:
		m.mu.Unlock()
		return 0, ErrAlreadyOpenOrOpening
	}

	if m.perms.State(id.SystemID) != permissions.Granted {
		m.mu.Unlock()
		return 0, ErrPermissionRequired
	}

	m.state = Opening
	m.opening = &id
	m.gen++
	gen := m.gen
	s := m.snapshot()
	m.mu.Unlock()
	m.changed(s)

	log.Info().Msgf("opening %s", id)

	drv, err := m.newDriver(id)
	if err != nil {
		m.mu.Lock()
		current := m.gen == gen
		if current {
			m.reset(ErrSessionNotOpen)
		}
		s := m.snapshot()
		m.mu.Unlock()
		if current {
			m.changed(s)
		}
		return 0, fmt.Errorf("%w: %w", ErrDriverInit, err)
	}

	code, err := drv.Open()

	m.mu.Lock()
	if m.gen != gen || m.state != Opening {
		// detached while the hardware was opening
		m.mu.Unlock()
		if err == nil && code >= 0 {
			release(drv)
		}
		return 0, ErrDeviceDisconnected
	}

	if err != nil || code < 0 {
		m.reset(ErrSessionNotOpen)
		s := m.snapshot()
		m.mu.Unlock()
		m.changed(s)
		log.Error().Err(err).Msgf("failed to open %s, code: %d", id.SystemID, code)
		return code, &OpenFailedError{Code: code, Err: err}
	}

	m.state = Open
	m.bound = &id
	m.opening = nil
	m.driver = drv
	m.openCode = code
	s = m.snapshot()
	m.mu.Unlock()
	m.changed(s)

	log.Info().Msgf("opened %s, code: %d", id.SystemID, code)
	return code, nil
}

// Close ends the session. Closing an already closed session succeeds.
// The session is Closed afterwards even when the driver reports a
// failure.
func (m *Manager) Close() (bool, error) {
	m.mu.Lock()

	switch m.state {
	case Closed:
		m.mu.Unlock()
		return true, nil
	case Opening, Closing:
		m.mu.Unlock()
		return false, ErrSessionBusy
	}

	if m.op != nil {
		m.op.cancel(ErrSessionNotOpen)
		m.op = nil
	}
	m.state = Closing
	drv := m.driver
	gen := m.gen
	s := m.snapshot()
	m.mu.Unlock()
	m.changed(s)

	code, err := drv.Close()

	m.mu.Lock()
	closed := false
	if m.gen == gen {
		m.reset(ErrSessionNotOpen)
		closed = true
	}
	s = m.snapshot()
	m.mu.Unlock()
	if closed {
		m.changed(s)
	}

	if err != nil || code != 0 {
		log.Error().Err(err).Msgf("error closing device, code: %d", code)
		return false, &CloseFailedError{Code: code, Err: err}
	}

	return true, nil
}

// HandleDetach processes a detach signal. If the device is the bound or
// opening one the session is closed immediately without calling the
// driver, and any operation in flight fails with ErrDeviceDisconnected.
// The device's permission is forgotten in the same critical section.
func (m *Manager) HandleDetach(systemID string) bool {
	m.mu.Lock()

	affected := false
	var drv drivers.Driver
	switch m.state {
	case Open, Closing:
		affected = m.bound != nil && m.bound.SystemID == systemID
	case Opening:
		affected = m.opening != nil && m.opening.SystemID == systemID
	}

	if affected {
		drv = m.reset(ErrDeviceDisconnected)
	}
	m.perms.Forget(systemID)
	s := m.snapshot()
	m.mu.Unlock()

	if affected {
		log.Warn().Msgf("bound device %s detached, session closed", systemID)
		release(drv)
		m.changed(s)
	}

	return affected
}

func release(drv drivers.Driver) {
	if r, ok := drv.(drivers.Releaser); ok {
		r.Release()
	}
}

// begin claims the operation slot for a call against the open session.
// The returned context is cancelled with the reason when the session is
// closed or detached underneath the operation.
func (m *Manager) begin(ctx context.Context, name string) (context.Context, drivers.Driver, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Open {
		return nil, nil, nil, ErrSessionNotOpen
	}
	if m.perms.State(m.bound.SystemID) != permissions.Granted {
		return nil, nil, nil, ErrPermissionRequired
	}
	if m.op != nil {
		log.Debug().Msgf("rejecting %s, %s in progress", name, m.op.name)
		return nil, nil, nil, ErrOperationInProgress
	}

	opCtx, cancel := context.WithCancelCause(ctx)
	op := &operation{name: name, cancel: cancel}
	m.op = op

	done := func() {
		m.mu.Lock()
		if m.op == op {
			m.op = nil
		}
		m.mu.Unlock()
		cancel(nil)
	}

	return opCtx, m.driver, done, nil
}
