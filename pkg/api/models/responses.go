package models

import (
	"net/http"
	"time"
)

type DeviceResponse struct {
	Id             string `json:"id"`
	Name           string `json:"name"`
	Manufacturer   string `json:"manufacturer"`
	Model          string `json:"model"`
	IsConnected    bool   `json:"isConnected"`
	SignalStrength int    `json:"signalStrength"`
}

type ConnectResponse struct {
	Success  bool   `json:"success"`
	DeviceId string `json:"deviceId"`
	Message  string `json:"message"`
}

type CaptureResponse struct {
	Success  bool    `json:"success"`
	Finger   string  `json:"finger"`
	Template []byte  `json:"template"`
	Quality  float64 `json:"quality"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

type SessionResponse struct {
	State    string `json:"state"`
	DeviceId string `json:"deviceId,omitempty"`
	OpenCode int    `json:"openCode"`
}

type AttachedDeviceResponse struct {
	DeviceId   string `json:"deviceId"`
	SystemId   string `json:"systemId"`
	Name       string `json:"name"`
	VendorId   string `json:"vendorId"`
	ProductId  string `json:"productId"`
	Supported  bool   `json:"supported"`
	Permission string `json:"permission"`
}

type StatusResponse struct {
	Session SessionResponse          `json:"session"`
	Devices []AttachedDeviceResponse `json:"devices"`
	Driver  string                   `json:"driver"`
}

func (sr *StatusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type HistoryResponseEntry struct {
	Id        uint64    `json:"id" csv:"id"`
	Time      time.Time `json:"time" csv:"time"`
	Operation string    `json:"operation" csv:"operation"`
	DeviceId  string    `json:"deviceId" csv:"device_id"`
	Finger    string    `json:"finger,omitempty" csv:"finger"`
	Success   bool      `json:"success" csv:"success"`
	Code      int       `json:"code" csv:"code"`
	Quality   float64   `json:"quality,omitempty" csv:"quality"`
	Message   string    `json:"message,omitempty" csv:"message"`
}

type HistoryResponse struct {
	Entries []HistoryResponseEntry `json:"entries"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}
