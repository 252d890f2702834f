package methods

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
	"github.com/yeboverify/bioid-bridge/pkg/service/state"
)

func SessionResponse(s scanner.Session) models.SessionResponse {
	resp := models.SessionResponse{
		State:    s.State.String(),
		OpenCode: s.OpenCode,
	}
	if s.Bound != nil {
		resp.DeviceId = DeviceId(*s.Bound)
	}
	return resp
}

func AttachedResponse(id devices.Identity, supported bool, perm permissions.State) models.AttachedDeviceResponse {
	return models.AttachedDeviceResponse{
		DeviceId:   DeviceId(id),
		SystemId:   id.SystemID,
		Name:       id.Name,
		VendorId:   fmt.Sprintf("%04x", id.VendorID),
		ProductId:  fmt.Sprintf("%04x", id.ProductID),
		Supported:  supported,
		Permission: perm.String(),
	}
}

// NewStatus builds the status snapshot shared by the status method and
// the plain HTTP endpoint.
func NewStatus(
	cfg *config.UserConfig,
	st *state.State,
	perms *permissions.Negotiator,
	session *scanner.Manager,
) models.StatusResponse {
	resp := models.StatusResponse{
		Session: SessionResponse(session.Snapshot()),
		Devices: make([]models.AttachedDeviceResponse, 0),
		Driver:  cfg.GetDriver(),
	}

	for _, id := range st.ListAttached() {
		resp.Devices = append(resp.Devices, AttachedResponse(
			id,
			st.IsSupported(id.SystemID),
			perms.State(id.SystemID),
		))
	}

	return resp
}

func HandleStatus(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received status request")
	return NewStatus(env.Config, env.State, env.Permissions, env.Session), nil
}

func HandleVersion(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received version request")
	return models.VersionResponse{
		Version:  config.Version,
		Platform: env.Platform.Id(),
	}, nil
}
