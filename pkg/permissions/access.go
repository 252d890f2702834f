//go:build linux || darwin

package permissions

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"golang.org/x/sys/unix"
)

const (
	DefaultPromptWindow = 10 * time.Second
	accessPollInterval  = 500 * time.Millisecond
)

// AccessPrompter grants permission based on read/write access to the
// device node. There is no consent dialog on these systems, access comes
// from udev rules or group membership, so a request keeps checking for a
// short window (long enough for udev to finish applying a rule after
// attach) before reporting the result.
type AccessPrompter struct {
	// Window is how long a request keeps checking before it is denied.
	Window time.Duration
	// Result delivers the outcome, normally into the hotplug event queue.
	Result func(id devices.Identity, granted bool)
}

func hasAccess(path string) bool {
	if path == "" {
		return false
	}
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}

func (p *AccessPrompter) Granted(id devices.Identity) bool {
	// virtual devices have nothing to check
	if id.Path == "" && id.Source == config.EnumeratorSimulated {
		return true
	}
	return hasAccess(id.Path)
}

func (p *AccessPrompter) Request(id devices.Identity) error {
	if p.Result == nil {
		return errors.New("no permission result handler")
	}
	if id.Path == "" {
		return errors.New("device has no node to check access on")
	}

	window := p.Window
	if window <= 0 {
		window = DefaultPromptWindow
	}

	go func() {
		deadline := time.Now().Add(window)
		for {
			if hasAccess(id.Path) {
				p.Result(id, true)
				return
			}
			if time.Now().After(deadline) {
				log.Warn().Msgf(
					"no read/write access to %s, add a udev rule for %04x:%04x",
					id.Path, id.VendorID, id.ProductID,
				)
				p.Result(id, false)
				return
			}
			time.Sleep(accessPollInterval)
		}
	}()

	return nil
}
