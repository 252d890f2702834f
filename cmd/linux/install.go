package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/rs/zerolog/log"
)

//go:embed conf/bioid-bridge.service
var serviceFile string

const (
	servicePath = "/etc/systemd/system/bioid-bridge.service"
	udevPath    = "/etc/udev/rules.d/60-bioid.rules"
)

// udevRules grants the plugdev group access to USB and serial nodes of the
// given scanner vendors.
func udevRules(vids []uint16) string {
	var sb strings.Builder
	sb.WriteString("# BioID fingerprint scanners\n")
	for _, vid := range vids {
		_, _ = fmt.Fprintf(
			&sb,
			"SUBSYSTEM==\"usb\", ATTRS{idVendor}==\"%04x\", MODE=\"0660\", GROUP=\"plugdev\", TAG+=\"uaccess\"\n",
			vid,
		)
		_, _ = fmt.Fprintf(
			&sb,
			"SUBSYSTEM==\"tty\", ATTRS{idVendor}==\"%04x\", MODE=\"0660\", GROUP=\"plugdev\", TAG+=\"uaccess\"\n",
			vid,
		)
		_, _ = fmt.Fprintf(
			&sb,
			"KERNEL==\"hidraw*\", ATTRS{idVendor}==\"%04x\", MODE=\"0660\", GROUP=\"plugdev\", TAG+=\"uaccess\"\n",
			vid,
		)
	}
	return sb.String()
}

func exeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func install(vids []uint16) error {
	// install and prep systemd service
	if _, err := os.Stat(servicePath); os.IsNotExist(err) {
		log.Info().Msg("installing bioid service")
		dir, err := exeDir()
		if err != nil {
			return err
		}
		contents := strings.ReplaceAll(serviceFile, "%%INSTALL_DIR%%", dir)
		err = os.WriteFile(servicePath, []byte(contents), 0644)
		if err != nil {
			return err
		}
		log.Info().Msg("wrote service file")
		err = exec.Command("systemctl", "daemon-reload").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("reloaded systemd units")
		err = exec.Command("systemctl", "enable", "bioid-bridge").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("enabled bioid service")
	}

	// install udev rules and refresh
	if _, err := os.Stat(udevPath); os.IsNotExist(err) {
		log.Info().Msg("installing udev rules")
		err = os.WriteFile(udevPath, []byte(udevRules(vids)), 0644)
		if err != nil {
			return err
		}
		log.Info().Msg("wrote udev rules")
		err = exec.Command("udevadm", "control", "--reload-rules").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("reloaded udev rules")
		err = exec.Command("udevadm", "trigger").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("triggered udev rules")
	}

	return nil
}

func uninstall() error {
	if _, err := os.Stat(servicePath); !os.IsNotExist(err) {
		log.Info().Msg("uninstalling bioid service")
		err = exec.Command("systemctl", "disable", "bioid-bridge").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("disabled bioid service")
		err = exec.Command("systemctl", "stop", "bioid-bridge").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("stopped bioid service")
		err = exec.Command("systemctl", "daemon-reload").Run()
		if err != nil {
			return err
		}
		log.Info().Msg("reloaded systemd units")
		err = os.Remove(servicePath)
		if err != nil {
			return err
		}
		log.Info().Msg("removed service file")
	}

	if _, err := os.Stat(udevPath); !os.IsNotExist(err) {
		log.Info().Msg("uninstalling udev rules")
		err = os.Remove(udevPath)
		if err != nil {
			return err
		}
		log.Info().Msg("removed udev rules")
	}

	return nil
}
