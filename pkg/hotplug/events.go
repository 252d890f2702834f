package hotplug

import "github.com/yeboverify/bioid-bridge/pkg/devices"

type Kind int

const (
	Attached Kind = iota
	Detached
	Permission
)

func (k Kind) String() string {
	switch k {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case Permission:
		return "permission"
	default:
		return "unknown"
	}
}

// Event is an OS signal about a device. Granted is only meaningful for
// Permission events.
type Event struct {
	Kind    Kind
	Device  devices.Identity
	Granted bool
}
