package models

import (
	"errors"

	"github.com/google/uuid"
)

const (
	DevicesAttached    = "devices.attached"
	DevicesDetached    = "devices.detached"
	PermissionsChanged = "permissions.changed"
	SessionChanged     = "session.changed"
)

const (
	MethodDiscoverDevices       = "discoverDevices"
	MethodConnectToDevice       = "connectToDevice"
	MethodOpenDevice            = "openDevice"
	MethodCloseDevice           = "closeDevice"
	MethodDetectFinger          = "detectFinger"
	MethodCaptureFingerprint    = "captureFingerprint"
	MethodGetDeviceInfo         = "getDeviceInfo"
	MethodGetDeviceSerialNumber = "getDeviceSerialNumber"
	MethodStatus                = "status"
	MethodHistory               = "history"
	MethodVersion               = "version"
)

// Error kinds reported to clients.
const (
	KindDiscovery      = "DISCOVERY_ERROR"
	KindConnection     = "CONNECTION_ERROR"
	KindOpenFailed     = "OPEN_FAILED"
	KindOpen           = "OPEN_ERROR"
	KindClose          = "CLOSE_ERROR"
	KindDeviceNotOpen  = "DEVICE_NOT_OPEN"
	KindDetect         = "DETECT_ERROR"
	KindCapture        = "CAPTURE_ERROR"
	KindInfo           = "INFO_ERROR"
	KindSerial         = "SERIAL_ERROR"
	KindInitialization = "INITIALIZATION_ERROR"
	KindInvalidRequest = "INVALID_REQUEST"
)

type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type RequestObject struct {
	JsonRpc string     `json:"jsonrpc"`
	Id      *uuid.UUID `json:"id,omitempty"` // nil for notifications
	Method  string     `json:"method"`
	Params  any        `json:"params,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type ResponseObject struct {
	JsonRpc string       `json:"jsonrpc"`
	Id      uuid.UUID    `json:"id"`
	Result  any          `json:"result"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// ApiError is a method failure with the kind reported to the client.
type ApiError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ApiError) Error() string {
	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func NewError(kind string, err error) *ApiError {
	return &ApiError{Kind: kind, Message: err.Error(), Err: err}
}

// ErrorKind returns the kind of an ApiError anywhere in the chain, or
// empty if there is none.
func ErrorKind(err error) string {
	var ae *ApiError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
