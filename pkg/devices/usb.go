package devices

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

type UsbEnumerator struct{}

func (e *UsbEnumerator) Id() string {
	return config.EnumeratorUsb
}

// Devices lists every device on every USB bus. Descriptors are read for all
// devices, string descriptors only for the ones the process is allowed to
// open, so a scanner without permission still shows up with its vendor and
// product IDs.
func (e *UsbEnumerator) Devices() ([]Identity, error) {
	ctx := gousb.NewContext()
	defer func(ctx *gousb.Context) {
		err := ctx.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing usb context")
		}
	}(ctx)

	var ids []Identity
	byAddr := make(map[string]int)

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		id := Identity{
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
			SystemID:  fmt.Sprintf("usb:%03d:%03d", desc.Bus, desc.Address),
			Class:     uint8(desc.Class),
			Path:      fmt.Sprintf("/dev/bus/usb/%03d/%03d", desc.Bus, desc.Address),
			Source:    config.EnumeratorUsb,
		}
		id.Name = fmt.Sprintf("USB %04x:%04x", id.VendorID, id.ProductID)

		byAddr[id.SystemID] = len(ids)
		ids = append(ids, id)

		// hubs never carry a scanner, skip opening them
		return desc.Class != gousb.ClassHub
	})
	if err != nil {
		// usually access denied on devices without a udev rule, the
		// descriptors collected above are still valid
		log.Debug().Err(err).Msg("some usb devices could not be opened")
	}

	for _, dev := range devs {
		key := fmt.Sprintf("usb:%03d:%03d", dev.Desc.Bus, dev.Desc.Address)
		i, ok := byAddr[key]
		if !ok {
			_ = dev.Close()
			continue
		}

		if s, err := dev.Manufacturer(); err == nil {
			ids[i].Manufacturer = s
		}
		if s, err := dev.Product(); err == nil {
			ids[i].Product = s
			ids[i].Name = s
		}
		if s, err := dev.SerialNumber(); err == nil {
			ids[i].Serial = s
		}

		err := dev.Close()
		if err != nil {
			log.Warn().Err(err).Msgf("error closing usb device %s", key)
		}
	}

	if len(ids) == 0 && err != nil {
		return nil, err
	}

	return ids, nil
}
