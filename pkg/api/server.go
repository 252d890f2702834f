package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/api/methods"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/config"
)

const (
	RequestTimeout  = 30 * time.Second
	ErrorCode       = 1
	shutdownTimeout = 2 * time.Second
)

var (
	ErrUnknownMethod  = errors.New("unknown method")
	ErrMissingId      = errors.New("missing request id")
	ErrInvalidJson    = errors.New("data not valid json")
	ErrInvalidVersion = errors.New("unsupported payload version")
)

var methodMap = map[string]func(requests.RequestEnv) (any, error){
	// devices
	models.MethodDiscoverDevices: methods.HandleDiscoverDevices,
	models.MethodConnectToDevice: methods.HandleConnectToDevice,
	models.MethodOpenDevice:      methods.HandleOpenDevice,
	models.MethodCloseDevice:     methods.HandleCloseDevice,
	// capture
	models.MethodDetectFinger:          methods.HandleDetectFinger,
	models.MethodCaptureFingerprint:    methods.HandleCaptureFingerprint,
	models.MethodGetDeviceInfo:         methods.HandleGetDeviceInfo,
	models.MethodGetDeviceSerialNumber: methods.HandleGetDeviceSerialNumber,
	// utils
	models.MethodStatus:  methods.HandleStatus,
	models.MethodHistory: methods.HandleHistory,
	models.MethodVersion: methods.HandleVersion,
}

func handleRequest(env requests.RequestEnv, req models.RequestObject) (any, error) {
	log.Debug().Interface("request", req).Msg("received request")

	fn, ok := methodMap[req.Method]
	if !ok {
		return nil, models.NewError(models.KindInvalidRequest, ErrUnknownMethod)
	}

	if req.Id == nil {
		return nil, models.NewError(models.KindInvalidRequest, ErrMissingId)
	}

	var params []byte
	if req.Params != nil {
		var err error
		// double unmarshal to use json decode on params later
		params, err = json.Marshal(req.Params)
		if err != nil {
			return nil, models.NewError(models.KindInvalidRequest, err)
		}
	}

	env.Id = *req.Id
	env.Params = params

	return fn(env)
}

func sendResponse(s *melody.Session, id uuid.UUID, result any) error {
	log.Debug().Interface("result", result).Msg("sending response")

	resp := models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Result:  result,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.Write(data)
}

func sendError(s *melody.Session, id uuid.UUID, err error) error {
	kind := models.ErrorKind(err)
	log.Debug().Str("kind", kind).Str("message", err.Error()).Msg("sending error")

	resp := models.ResponseObject{
		JsonRpc: "2.0",
		Id:      id,
		Error: &models.ErrorObject{
			Code:    ErrorCode,
			Kind:    kind,
			Message: err.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.Write(data)
}

func broadcastNotifications(ctx context.Context, m *melody.Melody, ns <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ns:
			ro := models.RequestObject{
				JsonRpc: "2.0",
				Method:  n.Method,
				Params:  n.Params,
			}

			data, err := json.Marshal(ro)
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification request")
				continue
			}

			err = m.Broadcast(data)
			if err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

func handleMessage(ctx context.Context, env requests.RequestEnv) func(*melody.Session, []byte) {
	return func(s *melody.Session, msg []byte) {
		// ping command for heartbeat operation
		if bytes.Equal(msg, []byte("ping")) {
			err := s.Write([]byte("pong"))
			if err != nil {
				log.Error().Err(err).Msg("sending pong")
			}
			return
		}

		if !json.Valid(msg) {
			log.Error().Msg("data not valid json")
			err := sendError(s, uuid.Nil, models.NewError(models.KindInvalidRequest, ErrInvalidJson))
			if err != nil {
				log.Error().Err(err).Msg("error sending error response")
			}
			return
		}

		var req models.RequestObject
		err := json.Unmarshal(msg, &req)
		if err != nil || req.Method == "" {
			log.Error().Err(err).Msg("message does not match known types")
			return
		}

		id := uuid.Nil
		if req.Id != nil {
			id = *req.Id
		}

		if req.JsonRpc != "2.0" {
			log.Error().Str("jsonrpc", req.JsonRpc).Msg("unsupported payload version")
			err := sendError(s, id, models.NewError(models.KindInvalidRequest, ErrInvalidVersion))
			if err != nil {
				log.Error().Err(err).Msg("error sending error response")
			}
			return
		}

		if req.Id == nil {
			log.Info().Interface("req", req).Msg("received notification, ignoring")
			return
		}

		// requests can block on hardware for seconds
		go func() {
			reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
			defer cancel()

			reqEnv := env
			reqEnv.Context = reqCtx
			resp, err := handleRequest(reqEnv, req)
			if err != nil {
				err := sendError(s, id, err)
				if err != nil {
					log.Error().Err(err).Msg("error sending error response")
				}
				return
			}

			err = sendResponse(s, id, resp)
			if err != nil {
				log.Error().Err(err).Msg("error sending response")
			}
		}()
	}
}

func handleStatus(env requests.RequestEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Info().Msg("received http status request")

		resp := methods.NewStatus(env.Config, env.State, env.Permissions, env.Session)

		err := render.Render(w, r, &resp)
		if err != nil {
			log.Error().Err(err).Msgf("error encoding status response")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// NewRouter builds the HTTP handler serving the websocket API and the
// plain status endpoint. Notifications are broadcast until ctx is done.
func NewRouter(ctx context.Context, env requests.RequestEnv) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*", "capacitor://*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		ExposedHeaders: []string{},
	}))

	m := melody.New()
	m.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	m.HandleMessage(handleMessage(ctx, env))

	go broadcastNotifications(ctx, m, env.State.Notifications())
	go func() {
		<-ctx.Done()
		err := m.Close()
		if err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
	}()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		err := m.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/status", handleStatus(env))
		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(config.Version))
		})
	})

	return r
}

// Start serves the API on the configured port until ctx is done.
func Start(ctx context.Context, env requests.RequestEnv) error {
	srv := &http.Server{
		Addr:    "localhost:" + env.Config.GetApiPort(),
		Handler: NewRouter(ctx, env),
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if err != nil {
			log.Warn().Err(err).Msg("error shutting down api server")
		}
	}()

	log.Info().Msgf("starting api server on %s", srv.Addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
