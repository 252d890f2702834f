package devices

import "github.com/yeboverify/bioid-bridge/pkg/config"

const (
	SimulatedVendorId  uint16 = 0x2808
	SimulatedProductId uint16 = 0x9338
	SimulatedSystemId         = "sim:bioid-0"
)

// SimulatedEnumerator always reports one virtual scanner. It pairs with
// the simulated driver for running the bridge without hardware.
type SimulatedEnumerator struct{}

func (e *SimulatedEnumerator) Id() string {
	return config.EnumeratorSimulated
}

func (e *SimulatedEnumerator) Devices() ([]Identity, error) {
	return []Identity{SimulatedDevice()}, nil
}

func SimulatedDevice() Identity {
	return Identity{
		VendorID:     SimulatedVendorId,
		ProductID:    SimulatedProductId,
		SystemID:     SimulatedSystemId,
		Name:         "Bio ID Fingerprint Scanner",
		Manufacturer: "Bio ID",
		Product:      "Simulated Scanner",
		Serial:       "SIM0001",
		Class:        ClassVendorSpec,
		Source:       config.EnumeratorSimulated,
	}
}
