package methods

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err      error
		fallback string
		want     string
	}{
		"not open": {
			err:      scanner.ErrSessionNotOpen,
			fallback: models.KindCapture,
			want:     models.KindDeviceNotOpen,
		},
		"driver init": {
			err:      fmt.Errorf("%w: no such port", scanner.ErrDriverInit),
			fallback: models.KindConnection,
			want:     models.KindInitialization,
		},
		"open failed": {
			err:      &scanner.OpenFailedError{Code: -2},
			fallback: models.KindOpen,
			want:     models.KindOpenFailed,
		},
		"permission revoked during capture": {
			err:      scanner.ErrPermissionRequired,
			fallback: models.KindCapture,
			want:     models.KindDeviceNotOpen,
		},
		"permission revoked during detect": {
			err:      scanner.ErrPermissionRequired,
			fallback: models.KindDetect,
			want:     models.KindDeviceNotOpen,
		},
		"open without permission": {
			err:      scanner.ErrPermissionRequired,
			fallback: models.KindOpen,
			want:     models.KindOpen,
		},
		"connect without permission": {
			err:      fmt.Errorf("waiting for permission: %w", scanner.ErrPermissionRequired),
			fallback: models.KindConnection,
			want:     models.KindConnection,
		},
		"timeout": {
			err:      scanner.ErrCaptureTimeout,
			fallback: models.KindCapture,
			want:     models.KindCapture,
		},
		"busy": {
			err:      scanner.ErrOperationInProgress,
			fallback: models.KindDetect,
			want:     models.KindDetect,
		},
		"close failed": {
			err:      &scanner.CloseFailedError{Code: 3},
			fallback: models.KindClose,
			want:     models.KindClose,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindOf(tt.err, tt.fallback))

			err := apiError(tt.err, tt.fallback)
			assert.Equal(t, tt.want, models.ErrorKind(err))
			assert.True(t, errors.Is(err, tt.err))
		})
	}

	assert.Nil(t, apiError(nil, models.KindCapture))
}

func TestDeviceIds(t *testing.T) {
	id := devices.Identity{SystemID: "usb:001:004"}

	assert.Equal(t, "bio-id-usb:001:004", DeviceId(id))
	assert.Equal(t, "usb:001:004", SystemId(DeviceId(id)))
	assert.Equal(t, "usb:001:004", SystemId("usb:001:004"))
}

func TestDeviceResponseFallbacks(t *testing.T) {
	id := devices.Identity{SystemID: "usb:001:004", VendorID: 0x2808}

	resp := deviceResponse(id, scanner.Session{State: scanner.Open, Bound: &id})
	assert.Equal(t, defaultDeviceName, resp.Name)
	assert.Equal(t, defaultManufacturer, resp.Manufacturer)
	assert.Equal(t, defaultModel, resp.Model)
	assert.True(t, resp.IsConnected)
	assert.Equal(t, wiredSignalStrength, resp.SignalStrength)

	resp = deviceResponse(id, scanner.Session{State: scanner.Closed})
	assert.False(t, resp.IsConnected)
}

func TestCaptureConfig(t *testing.T) {
	cfg := config.BaseDefaults()

	cc := captureConfig(cfg, models.CaptureParams{Finger: "right_index"})
	assert.Equal(t, 8000, cc.TimeoutMs)
	assert.Equal(t, 45, cc.MinAreaScorePercent)
	assert.False(t, cc.LatentDetection)
	assert.False(t, cc.LiveFingerDetection)

	timeout, area, lfd := 2000, 60, true
	cc = captureConfig(cfg, models.CaptureParams{
		TimeoutMs:           &timeout,
		MinAreaScorePercent: &area,
		LiveFingerDetection: &lfd,
	})
	assert.Equal(t, 2000, cc.TimeoutMs)
	assert.Equal(t, 60, cc.MinAreaScorePercent)
	assert.True(t, cc.LiveFingerDetection)

	long := 60000
	cc = captureConfig(cfg, models.CaptureParams{TimeoutMs: &long})
	assert.Equal(t, int(scanner.MaxCaptureTimeout.Milliseconds()), cc.TimeoutMs)
}
