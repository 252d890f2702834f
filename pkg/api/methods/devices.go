package methods

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
)

const (
	deviceIdPrefix      = "bio-id-"
	defaultDeviceName   = "Bio ID Fingerprint Scanner"
	defaultManufacturer = "Bio ID"
	defaultModel        = "USB Scanner"
	wiredSignalStrength = 100
)

// DeviceId is the client facing id of an attached device.
func DeviceId(id devices.Identity) string {
	return deviceIdPrefix + id.SystemID
}

// SystemId accepts either form of device id and returns the system id.
func SystemId(deviceId string) string {
	return strings.TrimPrefix(deviceId, deviceIdPrefix)
}

func deviceResponse(id devices.Identity, session scanner.Session) models.DeviceResponse {
	name := id.Name
	if name == "" {
		name = defaultDeviceName
	}

	manufacturer := id.Manufacturer
	if manufacturer == "" {
		manufacturer = defaultManufacturer
	}

	model := id.Product
	if model == "" {
		model = defaultModel
	}

	return models.DeviceResponse{
		Id:             DeviceId(id),
		Name:           name,
		Manufacturer:   manufacturer,
		Model:          model,
		IsConnected:    session.State == scanner.Open && session.Bound != nil && session.Bound.Same(id),
		SignalStrength: wiredSignalStrength,
	}
}

func HandleDiscoverDevices(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received discover devices request")

	found, err := env.Registry.Supported()
	if errors.Is(err, devices.ErrNoEnumerators) {
		return nil, models.NewError(models.KindDiscovery, err)
	} else if err != nil {
		log.Warn().Err(err).Msg("partial device enumeration")
	}

	session := env.Session.Snapshot()
	resp := make([]models.DeviceResponse, 0, len(found))
	for _, id := range found {
		resp = append(resp, deviceResponse(id, session))
	}

	log.Info().Msgf("discovery found %d scanners", len(resp))

	if len(found) > 0 &&
		session.State == scanner.Closed &&
		env.Config.GetAutoConnect() &&
		env.AutoConnect != nil {
		env.AutoConnect(found[0])
	}

	return resp, nil
}

// lookup finds an attached device, preferring what the hotplug listener
// has already seen over a fresh enumeration.
func lookup(env requests.RequestEnv, systemID string) (devices.Identity, bool) {
	if env.State != nil {
		if id, ok := env.State.GetAttached(systemID); ok {
			return id, true
		}
	}
	return env.Registry.Lookup(systemID)
}

func HandleConnectToDevice(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received connect to device request")

	var params models.ConnectParams
	err := json.Unmarshal(env.Params, &params)
	if err != nil {
		return nil, models.NewError(models.KindInvalidRequest, ErrInvalidParams)
	}
	if params.DeviceId == "" {
		return nil, models.NewError(models.KindInvalidRequest, ErrMissingDeviceId)
	}

	id, ok := lookup(env, SystemId(params.DeviceId))
	if !ok {
		return nil, models.NewError(models.KindConnection, ErrDeviceNotFound)
	}
	if !env.Registry.Classify(id) {
		return nil, models.NewError(models.KindConnection, ErrNotScanner)
	}

	ctx := envContext(env)
	if timeout := env.Config.GetPermissionTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	code, err := env.Session.Connect(ctx, id)
	record(env, database.HistoryEntry{
		Operation: "connect",
		DeviceId:  id.SystemID,
		Code:      code,
	}, err)
	if err != nil {
		log.Error().Err(err).Msgf("error connecting to %s", id.SystemID)
		return nil, apiError(err, models.KindConnection)
	}

	return models.ConnectResponse{
		Success:  true,
		DeviceId: params.DeviceId,
		Message:  "Connected to " + deviceResponse(id, env.Session.Snapshot()).Name,
	}, nil
}

// openTarget picks the device to open when no id is given: the bound one,
// else the first attached scanner with granted permission.
func openTarget(env requests.RequestEnv) (devices.Identity, error) {
	if s := env.Session.Snapshot(); s.Bound != nil {
		return *s.Bound, nil
	}

	var candidates []devices.Identity
	if env.State != nil {
		for _, id := range env.State.ListAttached() {
			if env.State.IsSupported(id.SystemID) {
				candidates = append(candidates, id)
			}
		}
	}
	if len(candidates) == 0 {
		found, err := env.Registry.Supported()
		if err != nil && len(found) == 0 {
			return devices.Identity{}, err
		}
		candidates = found
	}

	for _, id := range candidates {
		if env.Permissions.State(id.SystemID) == permissions.Granted {
			return id, nil
		}
	}

	if len(candidates) > 0 {
		return devices.Identity{}, scanner.ErrPermissionRequired
	}
	return devices.Identity{}, ErrNoScanner
}

func HandleOpenDevice(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received open device request")

	id, err := openTarget(env)
	if err != nil {
		return nil, apiError(err, models.KindOpen)
	}

	code, err := env.Session.Open(id)
	record(env, database.HistoryEntry{
		Operation: "open",
		DeviceId:  id.SystemID,
		Code:      code,
	}, err)
	if err != nil {
		log.Error().Err(err).Msgf("error opening %s", id.SystemID)
		return nil, apiError(err, models.KindOpen)
	}

	return code, nil
}

func HandleCloseDevice(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received close device request")

	s := env.Session.Snapshot()
	ok, err := env.Session.Close()
	if s.Bound != nil {
		entry := database.HistoryEntry{
			Operation: "close",
			DeviceId:  s.Bound.SystemID,
		}
		var cfe *scanner.CloseFailedError
		if errors.As(err, &cfe) {
			entry.Code = cfe.Code
		}
		record(env, entry, err)
	}
	if err != nil {
		log.Error().Err(err).Msg("error closing device")
		return nil, apiError(err, models.KindClose)
	}

	return ok, nil
}
