package devices

import "fmt"

// USB base class codes from the device descriptor.
const (
	ClassPerInterface uint8 = 0x00
	ClassHID          uint8 = 0x03
	ClassVendorSpec   uint8 = 0xff
)

// Identity is an attached USB device as reported by one enumeration. It is
// a value type: a new Identity is created on every attach and discarded on
// detach.
type Identity struct {
	VendorID  uint16
	ProductID uint16
	// SystemID is the opaque OS handle of the device, unique while the
	// device stays attached.
	SystemID string
	// Name is the display name.
	Name         string
	Manufacturer string
	Product      string
	Serial       string
	Class        uint8
	// Path is the device node used for access checks and drivers, for
	// example /dev/bus/usb/001/004 or /dev/ttyUSB0.
	Path string
	// Source is the id of the enumerator which reported the device.
	Source string
}

// Same reports whether two identities refer to the same attached device.
func (i Identity) Same(o Identity) bool {
	return i.SystemID == o.SystemID
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (%04x:%04x %s)", i.SystemID, i.VendorID, i.ProductID, i.Name)
}
