package zfm_serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 57600
	defaultWidth    = 256
	defaultHeight   = 288
	pollInterval    = 100 * time.Millisecond
)

// ZfmSerialDriver talks to ZFM/R30x family fingerprint modules over a
// UART, usually through a USB serial bridge.
type ZfmSerialDriver struct {
	mu       sync.Mutex
	id       devices.Identity
	path     string
	baudRate int
	password uint32
	port     io.ReadWriteCloser
	product  *ProductInfo
	openPort func(path string, baud int) (io.ReadWriteCloser, error)
}

func NewDriver(id devices.Identity, connectionString string) *ZfmSerialDriver {
	path := id.Path
	if connectionString != "" {
		path = connectionString
	}

	return &ZfmSerialDriver{
		id:       id,
		path:     path,
		baudRate: DefaultBaudRate,
		openPort: openSerial,
	}
}

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	log.Debug().Msgf("connecting to %s", path)

	if runtime.GOOS != "windows" {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	err = port.SetReadTimeout(pollInterval)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	return port, nil
}

func (d *ZfmSerialDriver) Open() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return 0, nil
	}

	port, err := d.openPort(d.path, d.baudRate)
	if err != nil {
		return -1, err
	}

	err = VerifyPassword(port, d.password)
	if err != nil {
		_ = port.Close()
		var ce *ConfirmError
		if errors.As(err, &ce) {
			return -int(ce.Confirm), err
		}
		return -1, err
	}

	pi, err := ReadProdInfo(port)
	if err != nil {
		log.Debug().Err(err).Msg("product info not available")
	} else {
		log.Debug().Msgf("product info: %+v", pi)
		d.product = &pi
	}

	err = AuraLed(port, ledBreathing, ledBlue)
	if err != nil {
		log.Debug().Err(err).Msg("module has no aura led")
	}

	d.port = port
	return 0, nil
}

func (d *ZfmSerialDriver) Close() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return 0, nil
	}

	err := AuraLed(d.port, ledOff, ledBlue)
	if err != nil {
		log.Debug().Err(err).Msg("error turning off led")
	}

	err = d.port.Close()
	d.port = nil
	if err != nil {
		return -1, err
	}

	return 0, nil
}

// Release frees the port without sending anything to the module.
func (d *ZfmSerialDriver) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		_ = d.port.Close()
		d.port = nil
	}
}

func (d *ZfmSerialDriver) DetectFinger(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return false, drivers.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	return GenImg(d.port)
}

func (d *ZfmSerialDriver) size() (int, int) {
	if d.product != nil && d.product.SensorWidth > 0 && d.product.SensorHeight > 0 {
		return d.product.SensorWidth, d.product.SensorHeight
	}
	return defaultWidth, defaultHeight
}

// GetImage polls the sensor until a finger is placed or ctx is done, then
// uploads the image.
func (d *ZfmSerialDriver) GetImage(ctx context.Context, cfg drivers.CaptureConfig) (drivers.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return drivers.Image{}, drivers.ErrNotOpen
	}

	if cfg.LiveFingerDetection || cfg.LatentDetection {
		log.Debug().Msg("live finger and latent detection not supported by module, ignoring")
	}

	for {
		if err := ctx.Err(); err != nil {
			return drivers.Image{}, err
		}

		ok, err := GenImg(d.port)
		if err != nil {
			return drivers.Image{}, err
		} else if ok {
			break
		}

		select {
		case <-ctx.Done():
			return drivers.Image{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	data, err := UpImage(d.port)
	if err != nil {
		return drivers.Image{}, err
	}

	width, _ := d.size()
	pixels := unpackNibbles(data)
	img := drivers.Image{
		Width:  width,
		Height: len(pixels) / width,
		Pixels: pixels,
	}

	score := drivers.AreaScore(img)
	if score < cfg.MinAreaScorePercent {
		return drivers.Image{}, fmt.Errorf("%w: %d%% < %d%%", drivers.ErrInsufficientArea, score, cfg.MinAreaScorePercent)
	}

	return img, nil
}

func (d *ZfmSerialDriver) DeviceInfo(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return "", drivers.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sp, err := ReadSysPara(d.port)
	if err != nil {
		return "", err
	}

	width, height := d.size()
	model := "ZFM fingerprint module"
	sensor := "unknown"
	if d.product != nil {
		model = d.product.Model
		sensor = d.product.Sensor
	}

	return fmt.Sprintf(
		"%s (sensor %s %dx%d, library %d, security level %d, %d baud)",
		model, sensor, width, height, sp.LibrarySize, sp.SecurityLevel, sp.BaudRate,
	), nil
}

func (d *ZfmSerialDriver) SerialNumber(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return "", drivers.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if d.product != nil && d.product.Serial != "" {
		return d.product.Serial, nil
	}

	// older modules have no serial, fall back to the usb bridge
	if d.id.Serial != "" {
		return d.id.Serial, nil
	}

	return "", drivers.ErrUnsupported
}
