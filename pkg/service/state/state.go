package state

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
)

const notificationBuffer = 64

type State struct {
	mu             sync.RWMutex
	attached       map[string]devices.Identity
	supported      map[string]bool
	stopService    bool
	autoConnecting bool
	notifications  chan models.Notification
}

func NewState() *State {
	return &State{
		attached:      make(map[string]devices.Identity),
		supported:     make(map[string]bool),
		notifications: make(chan models.Notification, notificationBuffer),
	}
}

// Notifications is consumed by the API server and broadcast to clients.
func (s *State) Notifications() <-chan models.Notification {
	return s.notifications
}

// Notify queues a notification without blocking. Callers may hold other
// locks, so a full queue drops the notification.
func (s *State) Notify(method string, params any) {
	select {
	case s.notifications <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Msgf("notification queue full, dropped %s", method)
	}
}

func (s *State) SetAttached(id devices.Identity, supported bool) {
	s.mu.Lock()
	s.attached[id.SystemID] = id
	s.supported[id.SystemID] = supported
	s.mu.Unlock()
}

func (s *State) RemoveAttached(systemID string) (devices.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.attached[systemID]
	delete(s.attached, systemID)
	delete(s.supported, systemID)
	return id, ok
}

func (s *State) GetAttached(systemID string) (devices.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.attached[systemID]
	return id, ok
}

func (s *State) IsSupported(systemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supported[systemID]
}

// ListAttached returns the attached devices ordered by system ID.
func (s *State) ListAttached() []devices.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]devices.Identity, 0, len(s.attached))
	for _, id := range s.attached {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].SystemID < ids[j].SystemID
	})

	return ids
}

// StartAutoConnect claims the auto-connect slot. Returns false if an
// auto-connect is already running.
func (s *State) StartAutoConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoConnecting {
		return false
	}
	s.autoConnecting = true
	return true
}

func (s *State) EndAutoConnect() {
	s.mu.Lock()
	s.autoConnecting = false
	s.mu.Unlock()
}

func (s *State) StopService() {
	s.mu.Lock()
	s.stopService = true
	s.mu.Unlock()
}

func (s *State) ShouldStopService() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopService
}
