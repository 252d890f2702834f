package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/methods"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/hotplug"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
	"github.com/yeboverify/bioid-bridge/pkg/service/state"
)

// bridge connects OS device signals to the scanner session.
type bridge struct {
	cfg      *config.UserConfig
	st       *state.State
	db       *database.Database
	registry *devices.Registry
	perms    *permissions.Negotiator
	mgr      *scanner.Manager
}

func (b *bridge) record(entry database.HistoryEntry, err error) {
	if b.db == nil {
		return
	}

	entry.Success = err == nil
	if err != nil {
		entry.Message = err.Error()
	}

	if err := b.db.AddHistory(entry); err != nil {
		log.Error().Err(err).Msg("error adding history")
	}
}

// autoConnect requests permission for and opens a scanner in the
// background. Only one runs at a time.
func (b *bridge) autoConnect(ctx context.Context, id devices.Identity) {
	if !b.st.StartAutoConnect() {
		log.Debug().Msgf("auto-connect already running, skipping %s", id.SystemID)
		return
	}

	go func() {
		defer b.st.EndAutoConnect()

		if timeout := b.cfg.GetPermissionTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log.Info().Msgf("auto-connecting to %s", id)
		code, err := b.mgr.Connect(ctx, id)
		b.record(database.HistoryEntry{
			Operation: "connect",
			DeviceId:  id.SystemID,
			Code:      code,
		}, err)
		if err != nil {
			log.Warn().Err(err).Msgf("auto-connect to %s failed", id.SystemID)
			return
		}

		log.Info().Msgf("auto-connected to %s, code: %d", id.SystemID, code)
	}()
}

func (b *bridge) handleEvent(ctx context.Context, e hotplug.Event) {
	switch e.Kind {
	case hotplug.Attached:
		supported := b.registry.Classify(e.Device)
		b.st.SetAttached(e.Device, supported)
		log.Info().Msgf("device attached: %s, supported: %t", e.Device, supported)
		b.st.Notify(models.DevicesAttached, methods.AttachedResponse(
			e.Device,
			supported,
			b.perms.State(e.Device.SystemID),
		))

		if supported && b.cfg.GetAutoConnect() && b.mgr.State() == scanner.Closed {
			b.autoConnect(ctx, e.Device)
		}
	case hotplug.Detached:
		supported := b.st.IsSupported(e.Device.SystemID)
		b.st.RemoveAttached(e.Device.SystemID)
		// synchronous so any call started after this observes the
		// closed session
		bound := b.mgr.HandleDetach(e.Device.SystemID)
		log.Info().Msgf("device detached: %s", e.Device)
		if bound {
			b.record(database.HistoryEntry{
				Operation: "detach",
				DeviceId:  e.Device.SystemID,
			}, scanner.ErrDeviceDisconnected)
		}
		b.st.Notify(models.DevicesDetached, methods.AttachedResponse(
			e.Device,
			supported,
			permissions.Unknown,
		))
	case hotplug.Permission:
		if _, ok := b.st.GetAttached(e.Device.SystemID); !ok {
			log.Debug().Msgf("ignoring permission result for detached %s", e.Device.SystemID)
			return
		}
		b.perms.Resolve(e.Device.SystemID, e.Granted)
	}
}

// run consumes device events until ctx is done or the listener stops.
func (b *bridge) run(ctx context.Context, events <-chan hotplug.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ctx, e)
		}
	}
}
