package devices

import (
	"strconv"
	"strings"

	"github.com/yeboverify/bioid-bridge/pkg/config"
	"go.bug.st/serial/enumerator"
)

// SerialEnumerator lists USB serial ports. Most UART fingerprint modules
// are attached through a USB to serial bridge, so the vendor ID is the
// bridge's and classification relies on the port's product string.
type SerialEnumerator struct{}

func (e *SerialEnumerator) Id() string {
	return config.EnumeratorSerial
}

func parseHexId(s string) uint16 {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func (e *SerialEnumerator) Devices() ([]Identity, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var ids []Identity
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}

		name := p.Product
		if name == "" {
			name = p.Name
		}

		ids = append(ids, Identity{
			VendorID:  parseHexId(p.VID),
			ProductID: parseHexId(p.PID),
			SystemID:  "serial:" + p.Name,
			Name:      name,
			Product:   p.Product,
			Serial:    p.SerialNumber,
			Class:     ClassPerInterface,
			Path:      p.Name,
			Source:    config.EnumeratorSerial,
		})
	}

	return ids, nil
}
