package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrInvalidParams  = errors.New("invalid params")
)

// ResponseError is an error returned by the API for a request.
type ResponseError struct {
	Kind    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// LocalClient sends a single unauthenticated method with params to the local
// running API service, waits for a response until timeout then disconnects.
func LocalClient(
	cfg *config.UserConfig,
	method string,
	params string,
) (string, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   "localhost:" + cfg.GetApiPort(),
		Path:   "/",
	}

	return Call(u, method, params, api.RequestTimeout)
}

// Call sends one request to the API at u and returns the raw JSON result.
func Call(u url.URL, method string, params string, timeout time.Duration) (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}

	req := models.RequestObject{
		JsonRpc: "2.0",
		Id:      &id,
		Method:  method,
	}

	if len(params) == 0 {
		req.Params = nil
	} else if json.Valid([]byte(params)) {
		var ps any
		err := json.Unmarshal([]byte(params), &ps)
		if err != nil {
			return "", err
		}
		req.Params = ps
	} else {
		return "", ErrInvalidParams
	}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return "", err
	}
	defer func(c *websocket.Conn) {
		err := c.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing websocket")
		}
	}(c)

	done := make(chan struct{})
	var resp *models.ResponseObject

	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("error reading message")
				return
			}

			var m models.ResponseObject
			err = json.Unmarshal(message, &m)
			if err != nil {
				continue
			}

			if m.JsonRpc != "2.0" {
				log.Error().Msg("invalid jsonrpc version")
				continue
			}

			// notifications and other clients' traffic
			if m.Id != id {
				continue
			}

			resp = &m
			return
		}
	}()

	err = c.WriteJSON(req)
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return "", ErrRequestTimeout
	}

	if resp == nil {
		return "", ErrRequestTimeout
	}

	if resp.Error != nil {
		return "", &ResponseError{Kind: resp.Error.Kind, Message: resp.Error.Message}
	}

	b, err := json.Marshal(resp.Result)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
