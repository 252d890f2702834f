package drivers

import (
	"context"
	"errors"
	"time"

	"github.com/yeboverify/bioid-bridge/pkg/devices"
)

var (
	ErrNotOpen          = errors.New("driver not open")
	ErrInsufficientArea = errors.New("finger area below minimum score")
	ErrUnsupported      = errors.New("not supported by this scanner")
)

// CaptureConfig is passed through to the hardware on every capture.
type CaptureConfig struct {
	TimeoutMs           int
	MinAreaScorePercent int
	LatentDetection     bool
	LiveFingerDetection bool
}

func (c CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Image is an 8-bit grayscale capture, one byte per pixel, row major.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// Driver is the vendor SDK contract for one scanner. Open and Close
// return the SDK result code: Open succeeds with any code >= 0 and Close
// with 0. Calls that talk to the sensor take a context and should return
// early once it is done.
type Driver interface {
	Open() (int, error)
	Close() (int, error)
	DetectFinger(ctx context.Context) (bool, error)
	GetImage(ctx context.Context, cfg CaptureConfig) (Image, error)
	DeviceInfo(ctx context.Context) (string, error)
	SerialNumber(ctx context.Context) (string, error)
}

// Releaser is implemented by drivers holding OS handles which must be
// freed when the device disappears without a hardware close.
type Releaser interface {
	Release()
}

// Factory creates a driver for a scanner, it must not touch the hardware.
type Factory func(id devices.Identity) (Driver, error)

// backgroundLevel is the gray value above which a pixel counts as sensor
// background rather than ridge contact.
const backgroundLevel = 0xc0

// AreaScore is the percentage of the image covered by the finger.
func AreaScore(img Image) int {
	if len(img.Pixels) == 0 {
		return 0
	}

	covered := 0
	for _, p := range img.Pixels {
		if p < backgroundLevel {
			covered++
		}
	}

	return covered * 100 / len(img.Pixels)
}
