/*
BioID Bridge
Copyright (C) 2024 Yebo Verify

This file is part of BioID Bridge.

BioID Bridge is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

BioID Bridge is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with BioID Bridge.  If not, see <http://www.gnu.org/licenses/>.
*/

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const UserConfigEnv = "BIOID_CONFIG"
const UserAppPathEnv = "BIOID_APP_PATH"

type BioIdConfig struct {
	Driver            string `ini:"driver"`
	ConnectionString  string `ini:"connection_string,omitempty"`
	AutoConnect       bool   `ini:"auto_connect"`
	PermissionTimeout int    `ini:"permission_timeout"`
	ConsoleLogging    bool   `ini:"console_logging"`
	Debug             bool   `ini:"debug"`
}

type DevicesConfig struct {
	VendorId    []string `ini:"vendor_id,omitempty,allowshadow"`
	DeviceClass []string `ini:"device_class,omitempty,allowshadow"`
	NamePattern []string `ini:"name_pattern,omitempty,allowshadow"`
	Enumerator  []string `ini:"enumerator,omitempty,allowshadow"`
}

type CaptureConfig struct {
	TimeoutMs           int  `ini:"timeout_ms"`
	AreaScore           int  `ini:"area_score"`
	LatentDetection     bool `ini:"latent_detection"`
	LiveFingerDetection bool `ini:"live_finger_detection"`
	DetectTimeoutMs     int  `ini:"detect_timeout_ms"`
}

type ApiConfig struct {
	Port string `ini:"port"`
}

type UserConfig struct {
	mu      sync.RWMutex
	AppPath string        `ini:"-"`
	IniPath string        `ini:"-"`
	BioId   BioIdConfig   `ini:"bioid"`
	Devices DevicesConfig `ini:"devices"`
	Capture CaptureConfig `ini:"capture"`
	Api     ApiConfig     `ini:"api"`
}

// BaseDefaults returns the configuration written to disk on first run.
func BaseDefaults() *UserConfig {
	return &UserConfig{
		BioId: BioIdConfig{
			Driver:            DriverZfmSerial,
			AutoConnect:       true,
			PermissionTimeout: 30,
		},
		Devices: DevicesConfig{
			VendorId:    []string{"2808", "1491", "27c6"},
			NamePattern: []string{"*fingerprint*", "*bioid*"},
			Enumerator:  []string{EnumeratorSerial, EnumeratorUsb},
		},
		Capture: CaptureConfig{
			TimeoutMs:       8000,
			AreaScore:       45,
			DetectTimeoutMs: 3000,
		},
		Api: ApiConfig{
			Port: DefaultApiPort,
		},
	}
}

func (c *UserConfig) GetDriver() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.BioId.Driver == "" {
		return DriverZfmSerial
	}
	return c.BioId.Driver
}

func (c *UserConfig) SetDriver(driver string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BioId.Driver = driver
}

func (c *UserConfig) GetConnectionString() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BioId.ConnectionString
}

func (c *UserConfig) SetConnectionString(connectionString string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BioId.ConnectionString = connectionString
}

func (c *UserConfig) GetAutoConnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BioId.AutoConnect
}

func (c *UserConfig) SetAutoConnect(autoConnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BioId.AutoConnect = autoConnect
}

// GetPermissionTimeout is how long an auto-connect or connectToDevice call
// waits for the OS permission result. Zero waits forever.
func (c *UserConfig) GetPermissionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.BioId.PermissionTimeout <= 0 {
		return 0
	}
	return time.Duration(c.BioId.PermissionTimeout) * time.Second
}

func (c *UserConfig) GetConsoleLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BioId.ConsoleLogging
}

func (c *UserConfig) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BioId.Debug
}

func (c *UserConfig) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BioId.Debug = debug
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// GetVendorIds parses the vendor_id allow-list. Entries are hex, with or
// without a 0x prefix. Invalid entries are skipped.
func (c *UserConfig) GetVendorIds() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []uint16
	for _, v := range c.Devices.VendorId {
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "0x")
		id, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			log.Warn().Msgf("invalid vendor_id in config: %s", v)
			continue
		}
		ids = append(ids, uint16(id))
	}

	return ids
}

func (c *UserConfig) GetDeviceClasses() []uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var classes []uint8
	for _, v := range c.Devices.DeviceClass {
		class, err := strconv.ParseUint(strings.TrimSpace(v), 0, 8)
		if err != nil {
			log.Warn().Msgf("invalid device_class in config: %s", v)
			continue
		}
		classes = append(classes, uint8(class))
	}

	return classes
}

func (c *UserConfig) GetNamePatterns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Devices.NamePattern
}

func (c *UserConfig) SetNamePatterns(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Devices.NamePattern = patterns
}

func (c *UserConfig) GetEnumerators() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.BioId.Driver == DriverSimulated {
		return []string{EnumeratorSimulated}
	}
	return c.Devices.Enumerator
}

func (c *UserConfig) GetCaptureTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Capture.TimeoutMs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.Capture.TimeoutMs) * time.Millisecond
}

func (c *UserConfig) GetDetectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Capture.DetectTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Capture.DetectTimeoutMs) * time.Millisecond
}

func (c *UserConfig) GetAreaScore() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.AreaScore
}

func (c *UserConfig) GetLatentDetection() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.LatentDetection
}

func (c *UserConfig) GetLiveFingerDetection() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.LiveFingerDetection
}

func (c *UserConfig) GetApiPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Api.Port == "" {
		return DefaultApiPort
	}
	return c.Api.Port
}

func (c *UserConfig) LoadConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := ini.ShadowLoad(c.IniPath)
	if err != nil {
		return err
	}

	err = cfg.StrictMapTo(c)
	if err != nil {
		return err
	}

	return nil
}

func (c *UserConfig) SaveConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := ini.Empty(ini.LoadOptions{AllowShadows: true})

	ini.PrettyEqual = true
	ini.PrettyFormat = false

	err := cfg.ReflectFrom(c)
	if err != nil {
		return err
	}

	err = cfg.SaveTo(c.IniPath)
	if err != nil {
		return err
	}

	return nil
}

// NewUserConfig resolves the ini path, writes the defaults to disk if no
// config exists yet and otherwise loads the file over the defaults.
func NewUserConfig(configDir string, defaultConfig *UserConfig) (*UserConfig, error) {
	iniPath := os.Getenv(UserConfigEnv)

	exePath, err := os.Executable()
	if err != nil {
		return defaultConfig, err
	}

	appPath := os.Getenv(UserAppPathEnv)
	if appPath != "" {
		exePath = appPath
	}

	if iniPath == "" {
		iniPath = filepath.Join(configDir, AppName+".ini")
	}

	defaultConfig.AppPath = exePath
	defaultConfig.IniPath = iniPath

	if _, err := os.Stat(iniPath); os.IsNotExist(err) {
		err := os.MkdirAll(filepath.Dir(iniPath), 0755)
		if err != nil {
			return defaultConfig, err
		}

		err = defaultConfig.SaveConfig()
		if err != nil {
			log.Error().Err(err).Msg("failed to save new user config to disk")
			return defaultConfig, err
		}

		return defaultConfig, nil
	}

	err = defaultConfig.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load user config")
		return defaultConfig, err
	}

	return defaultConfig, nil
}
