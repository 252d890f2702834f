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

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api"
	"github.com/yeboverify/bioid-bridge/pkg/api/methods"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"github.com/yeboverify/bioid-bridge/pkg/drivers/simulated"
	"github.com/yeboverify/bioid-bridge/pkg/drivers/zfm_serial"
	"github.com/yeboverify/bioid-bridge/pkg/hotplug"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/platforms"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
	"github.com/yeboverify/bioid-bridge/pkg/service/state"
)

// ErrNotSerialPort is returned for devices the serial driver cannot reach,
// for example raw USB nodes when no connection_string is set.
var ErrNotSerialPort = errors.New("device is not a serial port")

type PermissionNotification struct {
	DeviceId string `json:"deviceId"`
	SystemId string `json:"systemId"`
	State    string `json:"state"`
}

// NewDriverFactory returns the constructor for the configured driver.
func NewDriverFactory(cfg *config.UserConfig) drivers.Factory {
	switch cfg.GetDriver() {
	case config.DriverSimulated:
		return func(id devices.Identity) (drivers.Driver, error) {
			return simulated.NewDriver(id), nil
		}
	default:
		return func(id devices.Identity) (drivers.Driver, error) {
			connStr := cfg.GetConnectionString()
			if connStr == "" && id.Source != config.EnumeratorSerial {
				return nil, fmt.Errorf("%w: %s from %s enumerator", ErrNotSerialPort, id.SystemID, id.Source)
			}
			return zfm_serial.NewDriver(id, connStr), nil
		}
	}
}

func Start(
	pl platforms.Platform,
	cfg *config.UserConfig,
) (func() error, error) {
	st := state.NewState()

	log.Info().Msgf("BioID Bridge v%s", config.Version)
	log.Info().Msgf("config path = %s", cfg.IniPath)
	log.Info().Msgf("app path = %s", cfg.AppPath)
	log.Info().Msgf("driver = %s", cfg.GetDriver())
	log.Info().Msgf("connection_string = %s", cfg.GetConnectionString())
	log.Info().Msgf("auto_connect = %t", cfg.GetAutoConnect())
	log.Info().Msgf("enumerators = %v", cfg.GetEnumerators())
	log.Info().Msgf("debug = %t", cfg.GetDebug())

	log.Debug().Msg("opening database")
	db, err := database.Open(pl)
	if err != nil {
		log.Error().Err(err).Msgf("error opening database")
		return nil, err
	}

	registry := devices.NewRegistry(
		devices.NewClassifierFromConfig(cfg),
		devices.NewEnumerators(cfg.GetEnumerators())...,
	)
	listener := hotplug.NewListener(registry, hotplug.DefaultScanInterval, pl.HotplugPaths())

	prompter := pl.Prompter(func(id devices.Identity, granted bool) {
		err := listener.Publish(hotplug.Event{
			Kind:    hotplug.Permission,
			Device:  id,
			Granted: granted,
		})
		if err != nil {
			log.Warn().Err(err).Msgf("dropped permission result for %s", id.SystemID)
		}
	})

	perms := permissions.NewNegotiator(prompter, func(sid string, s permissions.State) {
		st.Notify(models.PermissionsChanged, PermissionNotification{
			DeviceId: methods.DeviceId(devices.Identity{SystemID: sid}),
			SystemId: sid,
			State:    s.String(),
		})
	})

	mgr := scanner.NewManager(perms, NewDriverFactory(cfg), func(s scanner.Session) {
		st.Notify(models.SessionChanged, methods.SessionResponse(s))
	})
	coord := scanner.NewCoordinator(mgr, cfg.GetDetectTimeout())

	ctx, cancel := context.WithCancel(context.Background())

	b := &bridge{
		cfg:      cfg,
		st:       st,
		db:       db,
		registry: registry,
		perms:    perms,
		mgr:      mgr,
	}

	env := requests.RequestEnv{
		Platform:    pl,
		Config:      cfg,
		State:       st,
		Database:    db,
		Registry:    registry,
		Permissions: perms,
		Session:     mgr,
		Capture:     coord,
		AutoConnect: func(id devices.Identity) {
			b.autoConnect(ctx, id)
		},
	}

	go func() {
		err := api.Start(ctx, env)
		if err != nil {
			log.Error().Err(err).Msg("error starting api server")
		}
	}()

	go func() {
		err := listener.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("hotplug listener stopped")
		}
	}()

	go b.run(ctx, listener.Events())

	return func() error {
		if st.ShouldStopService() {
			return nil
		}
		st.StopService()
		cancel()

		_, err := mgr.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing session")
		}

		return db.Close()
	}, nil
}
