package models

type ConnectParams struct {
	DeviceId string `json:"deviceId"`
}

type CaptureParams struct {
	Finger string `json:"finger"`

	// optional overrides of the configured capture defaults
	TimeoutMs           *int  `json:"timeoutMs"`
	MinAreaScorePercent *int  `json:"minAreaScorePercent"`
	LatentDetection     *bool `json:"latentDetection"`
	LiveFingerDetection *bool `json:"liveFingerDetection"`
}

type HistoryParams struct {
	MaxResults *int `json:"maxResults"`
}
