package scanner

import (
	"context"
	"fmt"

	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
)

// Connect negotiates permission for the device if needed and then opens a
// session on it. ctx bounds the permission wait only. A session that is
// busy or bound elsewhere is reported before any prompt is issued.
func (m *Manager) Connect(ctx context.Context, id devices.Identity) (int, error) {
	m.mu.Lock()
	switch m.state {
	case Open:
		if !m.bound.Same(id) {
			m.mu.Unlock()
			return 0, ErrDeviceMismatch
		}
		code := m.openCode
		m.mu.Unlock()
		return code, nil
	case Opening, Closing:
		m.mu.Unlock()
		return 0, ErrAlreadyOpenOrOpening
	}
	m.mu.Unlock()

	s, err := m.perms.EnsurePermission(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("waiting for permission: %w", err)
	} else if s != permissions.Granted {
		return 0, ErrPermissionRequired
	}

	return m.Open(id)
}
