package linux

import (
	"os"
	"path/filepath"

	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
)

type Platform struct {
	// Root replaces the user's home based folders, used by tests and
	// system installs.
	Root string
}

func (p *Platform) Id() string {
	return "linux"
}

func (p *Platform) base(xdgEnv string, fallback ...string) string {
	if p.Root != "" {
		return filepath.Join(p.Root, fallback[len(fallback)-1], config.AppName)
	}

	if v := os.Getenv(xdgEnv); v != "" {
		return filepath.Join(v, config.AppName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(config.TempDir(), fallback[len(fallback)-1])
	}

	return filepath.Join(append(append([]string{home}, fallback...), config.AppName)...)
}

func (p *Platform) ConfigFolder() string {
	return p.base("XDG_CONFIG_HOME", ".config")
}

func (p *Platform) DataFolder() string {
	return p.base("XDG_DATA_HOME", ".local", "share")
}

func (p *Platform) LogFolder() string {
	return p.base("XDG_STATE_HOME", ".local", "state")
}

func (p *Platform) HotplugPaths() []string {
	paths := []string{"/dev", "/dev/bus/usb"}

	buses, err := filepath.Glob("/dev/bus/usb/[0-9][0-9][0-9]")
	if err == nil {
		paths = append(paths, buses...)
	}

	return paths
}

func (p *Platform) Prompter(result func(id devices.Identity, granted bool)) permissions.Prompter {
	return &permissions.AccessPrompter{
		Window: permissions.DefaultPromptWindow,
		Result: result,
	}
}
