package methods

import (
	"context"
	"errors"

	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
)

var (
	ErrInvalidParams   = errors.New("invalid params")
	ErrMissingDeviceId = errors.New("missing device id")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrNotScanner      = errors.New("device is not a supported scanner")
	ErrNoScanner       = errors.New("no permitted scanner attached")
)

// kindOf maps a core error to the kind reported for a method, falling
// back to the method's own kind.
func kindOf(err error, fallback string) string {
	switch {
	case errors.Is(err, scanner.ErrSessionNotOpen):
		return models.KindDeviceNotOpen
	case errors.Is(err, scanner.ErrDriverInit):
		return models.KindInitialization
	case errors.Is(err, scanner.ErrOpenFailed):
		return models.KindOpenFailed
	case errors.Is(err, scanner.ErrPermissionRequired):
		// a session whose device lost permission is unusable
		if fallback == models.KindOpen || fallback == models.KindConnection {
			return fallback
		}
		return models.KindDeviceNotOpen
	default:
		return fallback
	}
}

func apiError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	return models.NewError(kindOf(err, fallback), err)
}

func envContext(env requests.RequestEnv) context.Context {
	if env.Context == nil {
		return context.Background()
	}
	return env.Context
}
