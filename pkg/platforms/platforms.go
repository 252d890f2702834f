package platforms

import (
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
)

type Platform interface {
	// Unique ID of the platform.
	Id() string
	// Folder holding the user config file.
	ConfigFolder() string
	// Folder for the rotating log file.
	LogFolder() string
	// Folder for the history database.
	DataFolder() string
	// Directories watched for device node changes to trigger a rescan.
	HotplugPaths() []string
	// Prompter returns the OS permission mechanism. Outcomes of requests
	// are delivered to result.
	Prompter(result func(id devices.Identity, granted bool)) permissions.Prompter
}
