package methods

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
)

func boundId(env requests.RequestEnv) string {
	if s := env.Session.Snapshot(); s.Bound != nil {
		return s.Bound.SystemID
	}
	return ""
}

// captureConfig builds the capture settings from the config defaults and
// any overrides in the request.
func captureConfig(cfg *config.UserConfig, params models.CaptureParams) drivers.CaptureConfig {
	cc := drivers.CaptureConfig{
		TimeoutMs:           int(cfg.GetCaptureTimeout().Milliseconds()),
		MinAreaScorePercent: cfg.GetAreaScore(),
		LatentDetection:     cfg.GetLatentDetection(),
		LiveFingerDetection: cfg.GetLiveFingerDetection(),
	}

	if params.TimeoutMs != nil && *params.TimeoutMs > 0 {
		cc.TimeoutMs = *params.TimeoutMs
	}
	if cc.Timeout() > scanner.MaxCaptureTimeout {
		log.Warn().Msgf("capture timeout %dms above limit, clamped", cc.TimeoutMs)
		cc.TimeoutMs = int(scanner.MaxCaptureTimeout.Milliseconds())
	}
	if params.MinAreaScorePercent != nil {
		cc.MinAreaScorePercent = *params.MinAreaScorePercent
	}
	if params.LatentDetection != nil {
		cc.LatentDetection = *params.LatentDetection
	}
	if params.LiveFingerDetection != nil {
		cc.LiveFingerDetection = *params.LiveFingerDetection
	}

	return cc
}

func HandleDetectFinger(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received detect finger request")

	present, err := env.Capture.DetectFinger(envContext(env))
	if err != nil {
		log.Error().Err(err).Msg("error detecting finger")
		return nil, apiError(err, models.KindDetect)
	}

	return present, nil
}

func HandleCaptureFingerprint(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received capture fingerprint request")

	var params models.CaptureParams
	if len(env.Params) > 0 {
		err := json.Unmarshal(env.Params, &params)
		if err != nil {
			return nil, models.NewError(models.KindInvalidRequest, ErrInvalidParams)
		}
	}

	sid := boundId(env)
	res, err := env.Capture.Capture(envContext(env), scanner.CaptureRequest{
		Finger: params.Finger,
		Config: captureConfig(env.Config, params),
	})
	record(env, database.HistoryEntry{
		Operation: "capture",
		DeviceId:  sid,
		Finger:    params.Finger,
		Quality:   res.Quality,
	}, err)
	if err != nil {
		log.Error().Err(err).Msg("error capturing fingerprint")
		return nil, apiError(err, models.KindCapture)
	}

	return models.CaptureResponse{
		Success:  res.Success,
		Finger:   res.Finger,
		Template: res.Template,
		Quality:  res.Quality,
		Width:    res.Width,
		Height:   res.Height,
	}, nil
}

func HandleGetDeviceInfo(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received device info request")

	info, err := env.Capture.DeviceInfo(envContext(env))
	if err != nil {
		log.Error().Err(err).Msg("error getting device info")
		return nil, apiError(err, models.KindInfo)
	}

	return info, nil
}

func HandleGetDeviceSerialNumber(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received device serial number request")

	sn, err := env.Capture.SerialNumber(envContext(env))
	if err != nil {
		log.Error().Err(err).Msg("error getting serial number")
		return nil, apiError(err, models.KindSerial)
	}

	return sn, nil
}
