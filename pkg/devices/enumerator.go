package devices

import (
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

// Enumerator lists the devices currently attached to the system.
type Enumerator interface {
	// Id returns the enumerator name used in config and Identity.Source.
	Id() string
	// Devices queries the OS device list. Every call reflects the current
	// state, nothing is cached between calls.
	Devices() ([]Identity, error)
}

// NewEnumerators maps enumerator ids from the config to implementations.
// Unknown ids are logged and skipped.
func NewEnumerators(ids []string) []Enumerator {
	var es []Enumerator
	for _, id := range ids {
		switch id {
		case config.EnumeratorUsb:
			es = append(es, &UsbEnumerator{})
		case config.EnumeratorHid:
			es = append(es, &HidEnumerator{})
		case config.EnumeratorSerial:
			es = append(es, &SerialEnumerator{})
		case config.EnumeratorSimulated:
			es = append(es, &SimulatedEnumerator{})
		default:
			log.Warn().Msgf("unknown enumerator in config: %s", id)
		}
	}
	return es
}
