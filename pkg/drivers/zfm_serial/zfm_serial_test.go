package zfm_serial

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
)

// fakeModule answers command packets the way a module on the other end
// of the serial port would.
type fakeModule struct {
	mu          sync.Mutex
	out         bytes.Buffer
	commands    []byte
	password    uint32
	fingerAfter int
	genCalls    int
	image       []byte
	prodInfo    []byte
	closed      bool
}

func (m *fakeModule) ack(confirm byte, data ...byte) {
	m.out.Write(encodePacket(pidAck, append([]byte{confirm}, data...)))
}

func (m *fakeModule) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New("port closed")
	}

	_, payload, err := readPacket(bytes.NewReader(p))
	if err != nil {
		return 0, err
	}

	cmd := payload[0]
	m.commands = append(m.commands, cmd)

	switch cmd {
	case cmdVfyPwd:
		if binary.BigEndian.Uint32(payload[1:5]) == m.password {
			m.ack(confirmOk)
		} else {
			m.ack(confirmWrongPwd)
		}
	case cmdGenImg:
		m.genCalls++
		if m.genCalls > m.fingerAfter {
			m.ack(confirmOk)
		} else {
			m.ack(confirmNoFinger)
		}
	case cmdUpImage:
		m.ack(confirmOk)
		for off := 0; off < len(m.image); off += 32 {
			end := off + 32
			pid := byte(pidData)
			if end >= len(m.image) {
				end = len(m.image)
				pid = pidEndData
			}
			m.out.Write(encodePacket(pid, m.image[off:end]))
		}
	case cmdReadSysPara:
		m.ack(confirmOk,
			0x00, 0x00, 0x00, 0x00, 0x00, 0xC8, 0x00, 0x03,
			0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x02, 0x00, 0x06)
	case cmdReadProdInfo:
		if m.prodInfo == nil {
			m.ack(confirmBadCmd)
		} else {
			m.ack(confirmOk, m.prodInfo...)
		}
	case cmdAuraLedConfig:
		m.ack(confirmOk)
	default:
		m.ack(confirmBadCmd)
	}

	return len(p), nil
}

func (m *fakeModule) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out.Len() == 0 {
		// read timeout
		return 0, nil
	}
	return m.out.Read(p)
}

func (m *fakeModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModule) sent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.commands...)
}

func prodInfo(width, height int) []byte {
	b := make([]byte, 46)
	copy(b[0:16], "R503")
	copy(b[16:20], "0001")
	copy(b[20:28], "ZF123456")
	b[28], b[29] = 1, 2
	copy(b[30:38], "FPC1011F")
	binary.BigEndian.PutUint16(b[38:40], uint16(width))
	binary.BigEndian.PutUint16(b[40:42], uint16(height))
	binary.BigEndian.PutUint16(b[42:44], 384)
	binary.BigEndian.PutUint16(b[44:46], 200)
	return b
}

var testDevice = devices.Identity{
	VendorID:  0x10c4,
	ProductID: 0xea60,
	SystemID:  "serial:/dev/ttyUSB0",
	Path:      "/dev/ttyUSB0",
	Serial:    "0001",
}

func openDriver(t *testing.T, m *fakeModule) *ZfmSerialDriver {
	t.Helper()
	d := NewDriver(testDevice, "")
	d.openPort = func(path string, baud int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyUSB0", path)
		assert.Equal(t, DefaultBaudRate, baud)
		return m, nil
	}
	code, err := d.Open()
	require.NoError(t, err)
	require.Equal(t, 0, code)
	return d
}

func TestEncodePacket(t *testing.T) {
	assert.Equal(t,
		[]byte{0xEF, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x03, 0x01, 0x00, 0x05},
		encodePacket(pidCommand, []byte{cmdGenImg}),
	)
	assert.Equal(t,
		[]byte{0xEF, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x07, 0x13, 0x00, 0x00, 0x00, 0x00, 0x00, 0x1B},
		encodePacket(pidCommand, []byte{cmdVfyPwd, 0x00, 0x00, 0x00, 0x00}),
	)
}

func TestReadPacket(t *testing.T) {
	tests := map[string]struct {
		data    []byte
		pid     byte
		payload []byte
		err     error
	}{
		"ack": {
			data:    encodePacket(pidAck, []byte{0x00}),
			pid:     pidAck,
			payload: []byte{0x00},
		},
		"leading garbage": {
			data:    append([]byte{0x00, 0xEF, 0x55}, encodePacket(pidData, []byte{1, 2, 3})...),
			pid:     pidData,
			payload: []byte{1, 2, 3},
		},
		"bad checksum": {
			data: func() []byte {
				p := encodePacket(pidAck, []byte{0x00})
				p[len(p)-1]++
				return p
			}(),
			err: ErrBadChecksum,
		},
		"nothing": {
			data: nil,
			err:  ErrNoPacket,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			m := &fakeModule{}
			m.out.Write(tt.data)

			pid, payload, err := readPacket(m)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pid, pid)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

func TestUnpackNibbles(t *testing.T) {
	assert.Equal(t, []byte{0xA0, 0x50, 0x00, 0xF0}, unpackNibbles([]byte{0xA5, 0x0F}))
}

func TestOpenWrongPassword(t *testing.T) {
	m := &fakeModule{password: 0x1234}
	d := NewDriver(testDevice, "")
	d.openPort = func(string, int) (io.ReadWriteCloser, error) {
		return m, nil
	}

	code, err := d.Open()
	var ce *ConfirmError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, -confirmWrongPwd, code)
	assert.True(t, m.closed)
}

func TestOpenPortFailure(t *testing.T) {
	d := NewDriver(testDevice, "/dev/ttyACM9")
	d.openPort = func(path string, _ int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyACM9", path)
		return nil, errors.New("no such device")
	}

	code, err := d.Open()
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestGetImage(t *testing.T) {
	m := &fakeModule{
		fingerAfter: 2,
		prodInfo:    prodInfo(16, 8),
		image:       bytes.Repeat([]byte{0x22}, 64),
	}
	d := openDriver(t, m)

	img, err := d.GetImage(context.Background(), drivers.CaptureConfig{MinAreaScorePercent: 45})
	require.NoError(t, err)
	assert.Equal(t, 16, img.Width)
	assert.Equal(t, 8, img.Height)
	assert.Len(t, img.Pixels, 128)
	assert.Equal(t, 3, m.genCalls)
}

func TestGetImageInsufficientArea(t *testing.T) {
	m := &fakeModule{
		prodInfo: prodInfo(16, 8),
		image:    bytes.Repeat([]byte{0xFF}, 64),
	}
	d := openDriver(t, m)

	_, err := d.GetImage(context.Background(), drivers.CaptureConfig{MinAreaScorePercent: 45})
	assert.ErrorIs(t, err, drivers.ErrInsufficientArea)
}

func TestGetImageStopsOnContext(t *testing.T) {
	m := &fakeModule{fingerAfter: 1 << 30}
	d := openDriver(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.GetImage(ctx, drivers.CaptureConfig{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDetectFinger(t *testing.T) {
	m := &fakeModule{fingerAfter: 1}
	d := openDriver(t, m)

	present, err := d.DetectFinger(context.Background())
	require.NoError(t, err)
	assert.False(t, present)

	present, err = d.DetectFinger(context.Background())
	require.NoError(t, err)
	assert.True(t, present)
}

func TestDeviceInfoAndSerial(t *testing.T) {
	m := &fakeModule{prodInfo: prodInfo(192, 192)}
	d := openDriver(t, m)

	info, err := d.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "R503 (sensor FPC1011F 192x192, library 200, security level 3, 57600 baud)", info)

	serial, err := d.SerialNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ZF123456", serial)
}

func TestSerialFallsBackToBridge(t *testing.T) {
	d := openDriver(t, &fakeModule{})

	serial, err := d.SerialNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001", serial)
}

func TestCloseAndRelease(t *testing.T) {
	m := &fakeModule{}
	d := openDriver(t, m)

	code, err := d.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, m.closed)
	assert.Equal(t, byte(cmdAuraLedConfig), m.sent()[len(m.sent())-1])

	_, err = d.DetectFinger(context.Background())
	assert.ErrorIs(t, err, drivers.ErrNotOpen)

	m2 := &fakeModule{}
	d2 := openDriver(t, m2)
	before := len(m2.sent())
	d2.Release()
	assert.True(t, m2.closed)
	assert.Len(t, m2.sent(), before)
}
