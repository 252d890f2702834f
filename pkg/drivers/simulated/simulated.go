package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
)

const (
	OpenCode      = 1
	DefaultWidth  = 512
	DefaultHeight = 512
	DefaultDelay  = 500 * time.Millisecond
)

// SimulatedDriver stands in for a scanner, returning a synthetic print
// after a short delay.
type SimulatedDriver struct {
	mu            sync.Mutex
	id            devices.Identity
	open          bool
	FingerPresent bool
	CaptureDelay  time.Duration
	Width         int
	Height        int
}

func NewDriver(id devices.Identity) *SimulatedDriver {
	return &SimulatedDriver{
		id:           id,
		CaptureDelay: DefaultDelay,
		Width:        DefaultWidth,
		Height:       DefaultHeight,
	}
}

func (d *SimulatedDriver) Open() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	log.Debug().Msgf("simulated scanner %s opened", d.id.SystemID)
	return OpenCode, nil
}

func (d *SimulatedDriver) Close() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return 0, nil
}

func (d *SimulatedDriver) isOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *SimulatedDriver) DetectFinger(ctx context.Context) (bool, error) {
	if !d.isOpen() {
		return false, drivers.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.FingerPresent, nil
}

func (d *SimulatedDriver) GetImage(ctx context.Context, cfg drivers.CaptureConfig) (drivers.Image, error) {
	if !d.isOpen() {
		return drivers.Image{}, drivers.ErrNotOpen
	}

	d.mu.Lock()
	delay, w, h := d.CaptureDelay, d.Width, d.Height
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return drivers.Image{}, ctx.Err()
	case <-time.After(delay):
	}

	img := Print(w, h)
	score := drivers.AreaScore(img)
	if score < cfg.MinAreaScorePercent {
		return drivers.Image{}, fmt.Errorf("%w: %d%% < %d%%", drivers.ErrInsufficientArea, score, cfg.MinAreaScorePercent)
	}

	return img, nil
}

func (d *SimulatedDriver) DeviceInfo(ctx context.Context) (string, error) {
	if !d.isOpen() {
		return "", drivers.ErrNotOpen
	}
	return fmt.Sprintf("%s %s (simulated)", d.id.Manufacturer, d.id.Product), nil
}

func (d *SimulatedDriver) SerialNumber(ctx context.Context) (string, error) {
	if !d.isOpen() {
		return "", drivers.ErrNotOpen
	}
	return fmt.Sprintf("BIOID%d (simulated)", time.Now().UnixMilli()), nil
}

// Print draws an elliptical patch of concentric ridges on a light
// background, covering roughly two thirds of the frame.
func Print(width, height int) drivers.Image {
	px := make([]byte, width*height)
	cx, cy := float64(width)/2, float64(height)/2
	rx, ry := float64(width)*0.45, float64(height)*0.48

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := (float64(x) - cx) / rx
			dy := (float64(y) - cy) / ry
			r := dx*dx + dy*dy
			switch {
			case r > 1:
				px[y*width+x] = 0xF0
			case int(r*40)%2 == 0:
				px[y*width+x] = 0x30
			default:
				px[y*width+x] = 0x90
			}
		}
	}

	return drivers.Image{Width: width, Height: height, Pixels: px}
}
