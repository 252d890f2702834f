package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/cli"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/platforms/linux"
	"github.com/yeboverify/bioid-bridge/pkg/service"
	"github.com/yeboverify/bioid-bridge/pkg/utils"
)

func main() {
	pl := &linux.Platform{}

	flags := cli.SetupFlags()
	serviceFlag := flag.String(
		"service",
		"",
		"manage bridge service (start|stop|restart|status)",
	)
	installFlag := flag.Bool(
		"install",
		false,
		"install systemd service and udev rules",
	)
	uninstallFlag := flag.Bool(
		"uninstall",
		false,
		"remove systemd service and udev rules",
	)
	flags.Pre(pl)

	cfg := cli.Setup(pl, config.BaseDefaults())

	if *installFlag || *uninstallFlag {
		if os.Geteuid() != 0 {
			_, _ = fmt.Fprintln(os.Stderr, "Install must be run as root.")
			os.Exit(1)
		}

		var err error
		if *installFlag {
			err = install(cfg.GetVendorIds())
		} else {
			err = uninstall()
		}
		if err != nil {
			log.Error().Err(err).Msg("error running installer")
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	svc, err := utils.NewService(utils.ServiceArgs{
		Entry: func() (func() error, error) {
			return service.Start(pl, cfg)
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("error creating service")
		_, _ = fmt.Fprintf(os.Stderr, "Error creating service: %v\n", err)
		os.Exit(1)
	}
	svc.ServiceHandler(serviceFlag)
	flags.Post(pl, cfg)

	if !svc.Running() {
		err := svc.Start()
		fmt.Println("Service not running, starting...")
		if err != nil {
			log.Error().Err(err).Msg("error starting service")
			fmt.Println("Error starting service:", err)
		} else {
			log.Info().Msg("service started manually")
			fmt.Println("Service started.")
		}
	} else {
		fmt.Println("Service is running.")
	}

	fmt.Printf("API listening on ws://localhost:%s\n", cfg.GetApiPort())

	os.Exit(0)
}
