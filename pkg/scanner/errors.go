package scanner

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionRequired   = errors.New("device permission not granted")
	ErrAlreadyOpenOrOpening = errors.New("a session is already open or opening")
	ErrDeviceMismatch       = errors.New("session is bound to a different device")
	ErrOpenFailed           = errors.New("failed to open device")
	ErrDriverInit           = errors.New("failed to initialize driver")
	ErrSessionBusy          = errors.New("session is opening or closing")
	ErrSessionNotOpen       = errors.New("session not open")
	ErrOperationInProgress  = errors.New("another operation is in progress")
	ErrCaptureTimeout       = errors.New("timed out waiting for scanner")
	ErrDeviceDisconnected   = errors.New("device disconnected")
	ErrEmptyImage           = errors.New("scanner returned an empty image")
)

// OpenFailedError carries the driver result code of a failed open.
type OpenFailedError struct {
	Code int
	Err  error
}

func (e *OpenFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to open device, code: %d: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("failed to open device, code: %d", e.Code)
}

func (e *OpenFailedError) Unwrap() error {
	return e.Err
}

func (e *OpenFailedError) Is(target error) bool {
	return target == ErrOpenFailed
}

type CloseFailedError struct {
	Code int
	Err  error
}

func (e *CloseFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to close device, code: %d: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("failed to close device, code: %d", e.Code)
}

func (e *CloseFailedError) Unwrap() error {
	return e.Err
}
