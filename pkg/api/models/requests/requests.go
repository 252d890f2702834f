package requests

import (
	"context"

	"github.com/google/uuid"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/platforms"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
	"github.com/yeboverify/bioid-bridge/pkg/service/state"
)

type RequestEnv struct {
	Context     context.Context
	Platform    platforms.Platform
	Config      *config.UserConfig
	State       *state.State
	Database    *database.Database
	Registry    *devices.Registry
	Permissions *permissions.Negotiator
	Session     *scanner.Manager
	Capture     *scanner.Coordinator
	Id          uuid.UUID
	Params      []byte

	// AutoConnect requests permission for and opens a device in the
	// background. It returns immediately.
	AutoConnect func(id devices.Identity)
}
