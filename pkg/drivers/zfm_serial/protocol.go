package zfm_serial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	cmdGenImg        = 0x01
	cmdUpImage       = 0x0A
	cmdReadSysPara   = 0x0F
	cmdVfyPwd        = 0x13
	cmdAuraLedConfig = 0x35
	cmdReadProdInfo  = 0x3C

	pidCommand = 0x01
	pidData    = 0x02
	pidAck     = 0x07
	pidEndData = 0x08

	confirmOk        = 0x00
	confirmRecvError = 0x01
	confirmNoFinger  = 0x02
	confirmBadImage  = 0x03
	confirmWrongPwd  = 0x13
	confirmBadCmd    = 0xFC

	ledBreathing = 0x01
	ledOn        = 0x03
	ledOff       = 0x04
	ledBlue      = 0x02
)

var (
	header          = []byte{0xEF, 0x01}
	defaultAddress  = []byte{0xFF, 0xFF, 0xFF, 0xFF}
	ErrNoPacket     = errors.New("no packet found")
	ErrReadTimeout  = errors.New("timeout reading from module")
	ErrBadChecksum  = errors.New("invalid packet checksum")
	ErrUnexpectedId = errors.New("unexpected packet identifier")
)

type ConfirmError struct {
	Cmd     byte
	Confirm byte
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("command %02x failed: %s", e.Cmd, confirmText(e.Confirm))
}

func confirmText(c byte) string {
	switch c {
	case confirmRecvError:
		return "error receiving packet"
	case confirmNoFinger:
		return "no finger on sensor"
	case confirmBadImage:
		return "failed to collect image"
	case confirmWrongPwd:
		return "wrong password"
	case confirmBadCmd:
		return "illegal command"
	default:
		return fmt.Sprintf("code %02x", c)
	}
}

func checksum(pid byte, length uint16, payload []byte) uint16 {
	sum := uint16(pid) + (length >> 8) + (length & 0xFF)
	for _, b := range payload {
		sum += uint16(b)
	}
	return sum
}

func encodePacket(pid byte, payload []byte) []byte {
	length := uint16(len(payload) + 2)

	pkt := make([]byte, 0, 9+len(payload)+2)
	pkt = append(pkt, header...)
	pkt = append(pkt, defaultAddress...)
	pkt = append(pkt, pid)
	pkt = binary.BigEndian.AppendUint16(pkt, length)
	pkt = append(pkt, payload...)
	pkt = binary.BigEndian.AppendUint16(pkt, checksum(pid, length, payload))

	return pkt
}

func writePacket(w io.Writer, pid byte, payload []byte) error {
	pkt := encodePacket(pid, payload)

	n, err := w.Write(pkt)
	if err != nil {
		return err
	} else if n != len(pkt) {
		return errors.New("write error, not all bytes written")
	}

	return nil
}

// readFull keeps reading until buf is full. The port returns zero bytes on
// each read timeout, maxTries of those in a row gives up.
func readFull(r io.Reader, buf []byte) error {
	tries := 0
	maxTries := 20

	for off := 0; off < len(buf); {
		n, err := r.Read(buf[off:])
		if err != nil {
			return err
		} else if n == 0 {
			tries++
			if tries >= maxTries {
				return ErrReadTimeout
			}
			continue
		}
		tries = 0
		off += n
	}

	return nil
}

// readPacket scans for the next packet header and returns the packet
// identifier and payload with the checksum verified.
func readPacket(r io.Reader) (byte, []byte, error) {
	maxSkip := 64 // bytes to scan through
	prev := byte(0)
	b := make([]byte, 1)

	for i := 0; ; i++ {
		if i >= maxSkip {
			return 0, nil, ErrNoPacket
		}

		err := readFull(r, b)
		if errors.Is(err, ErrReadTimeout) {
			return 0, nil, ErrNoPacket
		} else if err != nil {
			return 0, nil, err
		}

		if prev == header[0] && b[0] == header[1] {
			break
		}
		prev = b[0]
	}

	// address, pid, length
	head := make([]byte, 7)
	err := readFull(r, head)
	if err != nil {
		return 0, nil, err
	}

	pid := head[4]
	length := binary.BigEndian.Uint16(head[5:7])
	if length < 2 {
		return 0, nil, fmt.Errorf("invalid packet length: %d", length)
	}

	body := make([]byte, length)
	err = readFull(r, body)
	if err != nil {
		return 0, nil, err
	}

	payload := body[:length-2]
	sum := binary.BigEndian.Uint16(body[length-2:])
	if sum != checksum(pid, length, payload) {
		return 0, nil, ErrBadChecksum
	}

	return pid, payload, nil
}

// callCommand sends a command packet and returns the confirmation code and
// the rest of the acknowledgement payload.
func callCommand(rw io.ReadWriter, cmd byte, args []byte) (byte, []byte, error) {
	payload := append([]byte{cmd}, args...)
	err := writePacket(rw, pidCommand, payload)
	if err != nil {
		return 0, nil, err
	}

	pid, data, err := readPacket(rw)
	if err != nil {
		return 0, nil, err
	} else if pid != pidAck {
		return 0, nil, fmt.Errorf("%w: %02x", ErrUnexpectedId, pid)
	} else if len(data) < 1 {
		return 0, nil, errors.New("empty acknowledgement")
	}

	return data[0], data[1:], nil
}

func VerifyPassword(rw io.ReadWriter, password uint32) error {
	log.Debug().Msg("running vfypwd")
	args := binary.BigEndian.AppendUint32(nil, password)
	confirm, _, err := callCommand(rw, cmdVfyPwd, args)
	if err != nil {
		return err
	} else if confirm != confirmOk {
		return &ConfirmError{Cmd: cmdVfyPwd, Confirm: confirm}
	}
	return nil
}

// GenImg asks the sensor to capture into its image buffer. It returns
// false without error when no finger is on the sensor.
func GenImg(rw io.ReadWriter) (bool, error) {
	confirm, _, err := callCommand(rw, cmdGenImg, nil)
	if err != nil {
		return false, err
	}

	switch confirm {
	case confirmOk:
		return true, nil
	case confirmNoFinger:
		return false, nil
	default:
		return false, &ConfirmError{Cmd: cmdGenImg, Confirm: confirm}
	}
}

// UpImage uploads the image buffer, which the module sends as a stream of
// data packets at 4 bits per pixel.
func UpImage(rw io.ReadWriter) ([]byte, error) {
	log.Debug().Msg("running upimage")
	confirm, _, err := callCommand(rw, cmdUpImage, nil)
	if err != nil {
		return nil, err
	} else if confirm != confirmOk {
		return nil, &ConfirmError{Cmd: cmdUpImage, Confirm: confirm}
	}

	var buf bytes.Buffer
	for {
		pid, data, err := readPacket(rw)
		if err != nil {
			return nil, fmt.Errorf("reading image data: %w", err)
		}

		switch pid {
		case pidData:
			buf.Write(data)
		case pidEndData:
			buf.Write(data)
			return buf.Bytes(), nil
		default:
			return nil, fmt.Errorf("%w in image data: %02x", ErrUnexpectedId, pid)
		}
	}
}

// unpackNibbles expands 4-bit pixels, high nibble first, to 8-bit gray.
func unpackNibbles(data []byte) []byte {
	px := make([]byte, 0, len(data)*2)
	for _, b := range data {
		px = append(px, b&0xF0, (b&0x0F)<<4)
	}
	return px
}

type SysParams struct {
	Status        uint16
	SystemId      uint16
	LibrarySize   uint16
	SecurityLevel uint16
	Address       uint32
	PacketSize    int
	BaudRate      int
}

func ReadSysPara(rw io.ReadWriter) (SysParams, error) {
	log.Debug().Msg("running readsyspara")
	confirm, data, err := callCommand(rw, cmdReadSysPara, nil)
	if err != nil {
		return SysParams{}, err
	} else if confirm != confirmOk {
		return SysParams{}, &ConfirmError{Cmd: cmdReadSysPara, Confirm: confirm}
	} else if len(data) < 16 {
		return SysParams{}, errors.New("unexpected system parameters response")
	}

	return SysParams{
		Status:        binary.BigEndian.Uint16(data[0:2]),
		SystemId:      binary.BigEndian.Uint16(data[2:4]),
		LibrarySize:   binary.BigEndian.Uint16(data[4:6]),
		SecurityLevel: binary.BigEndian.Uint16(data[6:8]),
		Address:       binary.BigEndian.Uint32(data[8:12]),
		PacketSize:    32 << binary.BigEndian.Uint16(data[12:14]),
		BaudRate:      9600 * int(binary.BigEndian.Uint16(data[14:16])),
	}, nil
}

type ProductInfo struct {
	Model        string
	Batch        string
	Serial       string
	Hardware     string
	Sensor       string
	SensorWidth  int
	SensorHeight int
	TemplateSize int
	DatabaseSize int
}

func asciiField(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}

// ReadProdInfo is only implemented by newer modules, older ones answer
// with an illegal command confirmation.
func ReadProdInfo(rw io.ReadWriter) (ProductInfo, error) {
	log.Debug().Msg("running readprodinfo")
	confirm, data, err := callCommand(rw, cmdReadProdInfo, nil)
	if err != nil {
		return ProductInfo{}, err
	} else if confirm != confirmOk {
		return ProductInfo{}, &ConfirmError{Cmd: cmdReadProdInfo, Confirm: confirm}
	} else if len(data) < 46 {
		return ProductInfo{}, errors.New("unexpected product info response")
	}

	return ProductInfo{
		Model:        asciiField(data[0:16]),
		Batch:        asciiField(data[16:20]),
		Serial:       asciiField(data[20:28]),
		Hardware:     fmt.Sprintf("%d.%d", data[28], data[29]),
		Sensor:       asciiField(data[30:38]),
		SensorWidth:  int(binary.BigEndian.Uint16(data[38:40])),
		SensorHeight: int(binary.BigEndian.Uint16(data[40:42])),
		TemplateSize: int(binary.BigEndian.Uint16(data[42:44])),
		DatabaseSize: int(binary.BigEndian.Uint16(data[44:46])),
	}, nil
}

func AuraLed(rw io.ReadWriter, ctrl byte, color byte) error {
	confirm, _, err := callCommand(rw, cmdAuraLedConfig, []byte{ctrl, 0x80, color, 0x00})
	if err != nil {
		return err
	} else if confirm != confirmOk {
		return &ConfirmError{Cmd: cmdAuraLedConfig, Confirm: confirm}
	}
	return nil
}
