package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
)

type State int

const (
	Unknown State = iota
	Requested
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

var ErrDeviceDetached = errors.New("device detached while waiting for permission")

// Prompter is the OS side of permission negotiation.
type Prompter interface {
	// Granted reports whether access is already allowed without a prompt.
	Granted(id devices.Identity) bool
	// Request issues the permission prompt and returns without waiting.
	// The outcome must be delivered later through Negotiator.Resolve.
	Request(id devices.Identity) error
}

type request struct {
	done  chan struct{}
	state State
	err   error
}

type entry struct {
	state State
	req   *request
}

// Negotiator tracks the permission state of every device seen since it
// was last attached.
type Negotiator struct {
	mu       sync.Mutex
	prompter Prompter
	devices  map[string]*entry
	notify   func(systemID string, s State)
}

func NewNegotiator(prompter Prompter, notify func(systemID string, s State)) *Negotiator {
	return &Negotiator{
		prompter: prompter,
		devices:  make(map[string]*entry),
		notify:   notify,
	}
}

func (n *Negotiator) changed(systemID string, s State) {
	log.Debug().Msgf("permission for %s: %s", systemID, s)
	if n.notify != nil {
		n.notify(systemID, s)
	}
}

func (n *Negotiator) State(systemID string) State {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.devices[systemID]
	if !ok {
		return Unknown
	}
	return e.state
}

// EnsurePermission returns immediately if the device is already granted.
// Otherwise it prompts once and blocks until Resolve or Forget is called
// for the device. Concurrent callers for the same device share a single
// prompt. No timeout is applied here; cancelling ctx stops waiting but
// leaves the request outstanding.
func (n *Negotiator) EnsurePermission(ctx context.Context, id devices.Identity) (State, error) {
	n.mu.Lock()

	e, ok := n.devices[id.SystemID]
	if !ok {
		e = &entry{state: Unknown}
		n.devices[id.SystemID] = e
	}

	switch e.state {
	case Granted:
		n.mu.Unlock()
		return Granted, nil
	case Requested:
		req := e.req
		n.mu.Unlock()
		log.Debug().Msgf("joining pending permission request for %s", id.SystemID)
		return wait(ctx, req)
	}

	if n.prompter.Granted(id) {
		e.state = Granted
		n.mu.Unlock()
		n.changed(id.SystemID, Granted)
		return Granted, nil
	}

	req := &request{done: make(chan struct{})}
	e.state = Requested
	e.req = req
	n.mu.Unlock()
	n.changed(id.SystemID, Requested)

	log.Info().Msgf("requesting permission for %s", id)
	err := n.prompter.Request(id)
	if err != nil {
		log.Error().Err(err).Msgf("error requesting permission for %s", id.SystemID)
		n.Resolve(id.SystemID, false)
		return Denied, fmt.Errorf("requesting permission: %w", err)
	}

	return wait(ctx, req)
}

func wait(ctx context.Context, req *request) (State, error) {
	select {
	case <-req.done:
		return req.state, req.err
	case <-ctx.Done():
		return Requested, ctx.Err()
	}
}

// Resolve records the OS permission result and wakes the callers waiting
// on that device only.
func (n *Negotiator) Resolve(systemID string, granted bool) {
	s := Denied
	if granted {
		s = Granted
	}

	n.mu.Lock()
	e, ok := n.devices[systemID]
	if !ok {
		e = &entry{}
		n.devices[systemID] = e
	}
	e.state = s
	if e.req != nil {
		e.req.state = s
		close(e.req.done)
		e.req = nil
	}
	n.mu.Unlock()

	n.changed(systemID, s)
}

// Forget drops everything known about a detached device. Pending waiters
// fail with ErrDeviceDetached.
func (n *Negotiator) Forget(systemID string) {
	n.mu.Lock()
	e, ok := n.devices[systemID]
	if !ok {
		n.mu.Unlock()
		return
	}
	if e.req != nil {
		e.req.state = Unknown
		e.req.err = ErrDeviceDetached
		close(e.req.done)
	}
	delete(n.devices, systemID)
	n.mu.Unlock()

	n.changed(systemID, Unknown)
}

// Snapshot returns the known state of every tracked device.
func (n *Negotiator) Snapshot() map[string]State {
	n.mu.Lock()
	defer n.mu.Unlock()

	ss := make(map[string]State, len(n.devices))
	for sid, e := range n.devices {
		ss[sid] = e.state
	}
	return ss
}
