package methods

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/database"
)

// record adds an operation outcome to the history. Failures are logged,
// history is never allowed to fail the operation.
func record(env requests.RequestEnv, entry database.HistoryEntry, err error) {
	if env.Database == nil {
		return
	}

	entry.Success = err == nil
	if err != nil {
		entry.Message = err.Error()
	}

	if err := env.Database.AddHistory(entry); err != nil {
		log.Error().Err(err).Msg("error adding history")
	}
}

func HandleHistory(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received history request")

	var params models.HistoryParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, models.NewError(models.KindInvalidRequest, ErrInvalidParams)
		}
	}

	maxResults := 0
	if params.MaxResults != nil {
		maxResults = *params.MaxResults
	}

	if env.Database == nil {
		return nil, errors.New("history is not available")
	}

	entries, err := env.Database.GetHistory(maxResults)
	if err != nil {
		log.Error().Err(err).Msgf("error getting history")
		return nil, errors.New("error getting history")
	}

	resp := models.HistoryResponse{
		Entries: make([]models.HistoryResponseEntry, len(entries)),
	}

	for i, e := range entries {
		resp.Entries[i] = models.HistoryResponseEntry{
			Id:        e.Id,
			Time:      e.Time,
			Operation: e.Operation,
			DeviceId:  e.DeviceId,
			Finger:    e.Finger,
			Success:   e.Success,
			Code:      e.Code,
			Quality:   e.Quality,
			Message:   e.Message,
		}
	}

	return resp, nil
}
