package config

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	Version           = "1.0.0"
	AppName           = "bioid"
	LogFilename       = "bioid.log"
	HistoryDbFilename = "history.db"
	DefaultApiPort    = "7498"
)

const (
	DriverZfmSerial = "zfm_serial"
	DriverSimulated = "simulated"
)

const (
	EnumeratorUsb       = "usb"
	EnumeratorHid       = "hid"
	EnumeratorSerial    = "serial"
	EnumeratorSimulated = "simulated"
)

const PidFilename = "bioid.pid"

// TempDir returns the runtime folder for the pid file, creating it if needed.
func TempDir() string {
	path := filepath.Join(os.TempDir(), AppName)
	err := os.MkdirAll(path, 0755)
	if err != nil {
		log.Error().Err(err).Msg("error creating temp folder")
	}
	return path
}
