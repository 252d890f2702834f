package devices

import (
	"errors"
	"fmt"

	"github.com/karalabe/hid"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

// HidEnumerator lists HID class devices through hidapi. Several scanners
// expose their data interface as HID, and hidapi reports the interface
// level strings which the USB descriptors may not carry.
type HidEnumerator struct{}

func (e *HidEnumerator) Id() string {
	return config.EnumeratorHid
}

func (e *HidEnumerator) Devices() ([]Identity, error) {
	if !hid.Supported() {
		return nil, errors.New("hid unsupported on this platform")
	}

	infos, err := hid.Enumerate(0, 0)
	if err != nil {
		return nil, err
	}

	ids := make([]Identity, 0, len(infos))
	for _, info := range infos {
		name := info.Product
		if name == "" {
			name = fmt.Sprintf("HID %04x:%04x", info.VendorID, info.ProductID)
		}

		ids = append(ids, Identity{
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			SystemID:     "hid:" + info.Path,
			Name:         name,
			Manufacturer: info.Manufacturer,
			Product:      info.Product,
			Serial:       info.Serial,
			Class:        ClassHID,
			Path:         info.Path,
			Source:       config.EnumeratorHid,
		})
	}

	return ids, nil
}
