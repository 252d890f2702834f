//go:build linux || darwin

package utils

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

type ServiceEntry func() (func() error, error)

type Service struct {
	daemon  bool
	start   ServiceEntry
	stop    func() error
	pidPath string
}

type ServiceArgs struct {
	Entry    ServiceEntry
	NoDaemon bool
	// PidDir overrides the folder of the pid file, used by tests.
	PidDir string
}

func NewService(args ServiceArgs) (*Service, error) {
	dir := args.PidDir
	if dir == "" {
		dir = config.TempDir()
	}

	return &Service{
		daemon:  !args.NoDaemon,
		start:   args.Entry,
		pidPath: filepath.Join(dir, config.PidFilename),
	}, nil
}

// Create new PID file using current process PID.
func (s *Service) createPidFile() error {
	pid := os.Getpid()
	return os.WriteFile(s.pidPath, []byte(fmt.Sprintf("%d", pid)), 0644)
}

func (s *Service) removePidFile() error {
	return os.Remove(s.pidPath)
}

// Pid returns the process ID of the current running service daemon.
func (s *Service) Pid() (int, error) {
	pid := 0

	if _, err := os.Stat(s.pidPath); err == nil {
		pidFile, err := os.ReadFile(s.pidPath)
		if err != nil {
			return pid, fmt.Errorf("error reading pid file: %w", err)
		}

		pidInt, err := strconv.Atoi(strings.TrimSpace(string(pidFile)))
		if err != nil {
			return pid, fmt.Errorf("error parsing pid: %w", err)
		}

		pid = pidInt
	}

	return pid, nil
}

// Running returns true if the service is running.
func (s *Service) Running() bool {
	pid, err := s.Pid()
	if err != nil {
		return false
	}

	if pid == 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))

	return err == nil
}

func (s *Service) stopService() error {
	log.Info().Msgf("stopping service")

	err := s.stop()
	if err != nil {
		log.Error().Err(err).Msg("error stopping service")
		return err
	}

	err = s.removePidFile()
	if err != nil {
		log.Error().Err(err).Msgf("error removing pid file")
		return err
	}

	return nil
}

// Set up signal handler to stop service on SIGINT or SIGTERM.
// Exits the application on signal.
func (s *Service) setupStopService() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs

		err := s.stopService()
		if err != nil {
			os.Exit(1)
		}

		os.Exit(0)
	}()
}

// Starts the service and blocks until the service is stopped.
func (s *Service) startService() {
	if s.Running() {
		log.Error().Msg("service already running")
		os.Exit(1)
	}

	log.Info().Msg("starting service")

	err := s.createPidFile()
	if err != nil {
		log.Error().Err(err).Msg("error creating pid file")
		os.Exit(1)
	}

	stop, err := s.start()
	if err != nil {
		log.Error().Err(err).Msg("error starting service")

		err = s.removePidFile()
		if err != nil {
			log.Error().Err(err).Msg("error removing pid file")
		}

		os.Exit(1)
	}

	s.stop = stop
	s.setupStopService()

	if s.daemon {
		<-make(chan struct{})
	} else {
		err := s.stopService()
		if err != nil {
			os.Exit(1)
		}

		os.Exit(0)
	}
}

// Start a new service daemon in the background.
func (s *Service) Start() error {
	if s.Running() {
		return fmt.Errorf("service already running")
	}

	binPath := os.Getenv(config.UserAppPathEnv)
	if binPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("error getting absolute binary path: %w", err)
		}
		binPath = exePath
	}

	cmd := exec.Command(binPath, "-service", "exec")
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", config.UserAppPathEnv, binPath))

	err := cmd.Start()
	if err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}

	return nil
}

// Stop the service daemon.
func (s *Service) Stop() error {
	if !s.Running() {
		return fmt.Errorf("service not running")
	}

	pid, err := s.Pid()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Signal(syscall.SIGTERM)
}

func (s *Service) Restart() error {
	if s.Running() {
		err := s.Stop()
		if err != nil {
			return err
		}
	}

	for s.Running() {
		time.Sleep(1 * time.Second)
	}

	return s.Start()
}

func (s *Service) ServiceHandler(cmd *string) {
	if *cmd == "exec" {
		s.startService()
		os.Exit(0)
	} else if *cmd == "start" {
		err := s.Start()
		if err != nil {
			log.Error().Msg(err.Error())
			os.Exit(1)
		}

		os.Exit(0)
	} else if *cmd == "stop" {
		err := s.Stop()
		if err != nil {
			log.Error().Msg(err.Error())
			os.Exit(1)
		}

		os.Exit(0)
	} else if *cmd == "restart" {
		err := s.Restart()
		if err != nil {
			log.Error().Msg(err.Error())
			os.Exit(1)
		}

		os.Exit(0)
	} else if *cmd == "status" {
		if s.Running() {
			os.Exit(0)
		} else {
			os.Exit(1)
		}
	} else if *cmd != "" {
		fmt.Printf("Unknown service argument: %s", *cmd)
		os.Exit(1)
	}
}
