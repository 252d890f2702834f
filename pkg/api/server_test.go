package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeboverify/bioid-bridge/pkg/api"
	"github.com/yeboverify/bioid-bridge/pkg/api/client"
	"github.com/yeboverify/bioid-bridge/pkg/api/models"
	"github.com/yeboverify/bioid-bridge/pkg/api/models/requests"
	"github.com/yeboverify/bioid-bridge/pkg/config"
	"github.com/yeboverify/bioid-bridge/pkg/database"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"github.com/yeboverify/bioid-bridge/pkg/drivers/simulated"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
	"github.com/yeboverify/bioid-bridge/pkg/platforms/linux"
	"github.com/yeboverify/bioid-bridge/pkg/scanner"
	"github.com/yeboverify/bioid-bridge/pkg/service/state"
)

type testServer struct {
	env requests.RequestEnv
	srv *httptest.Server
	ws  url.URL
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	pl := &linux.Platform{Root: t.TempDir()}
	cfg := config.BaseDefaults()
	cfg.SetDriver(config.DriverSimulated)
	cfg.SetAutoConnect(false)

	db, err := database.Open(pl)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	classifier, err := devices.NewClassifier(cfg.GetVendorIds(), nil, cfg.GetNamePatterns())
	require.NoError(t, err)
	registry := devices.NewRegistry(classifier, &devices.SimulatedEnumerator{})

	st := state.NewState()
	st.SetAttached(devices.SimulatedDevice(), true)

	perms := permissions.NewNegotiator(&permissions.AccessPrompter{}, nil)
	mgr := scanner.NewManager(perms, func(id devices.Identity) (drivers.Driver, error) {
		drv := simulated.NewDriver(id)
		drv.CaptureDelay = 10 * time.Millisecond
		return drv, nil
	}, nil)

	env := requests.RequestEnv{
		Platform:    pl,
		Config:      cfg,
		State:       st,
		Database:    db,
		Registry:    registry,
		Permissions: perms,
		Session:     mgr,
		Capture:     scanner.NewCoordinator(mgr, time.Second),
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(api.NewRouter(ctx, env))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/"

	return &testServer{env: env, srv: srv, ws: *u}
}

func (ts *testServer) call(t *testing.T, method string, params string) (string, error) {
	t.Helper()
	return client.Call(ts.ws, method, params, 5*time.Second)
}

func errorKind(t *testing.T, err error) string {
	t.Helper()
	var re *client.ResponseError
	require.ErrorAs(t, err, &re)
	return re.Kind
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.call(t, models.MethodVersion, "")
	require.NoError(t, err)

	var v models.VersionResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &v))
	assert.Equal(t, config.Version, v.Version)
	assert.Equal(t, "linux", v.Platform)
}

func TestDiscoverDevices(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.call(t, models.MethodDiscoverDevices, "")
	require.NoError(t, err)

	var ds []models.DeviceResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &ds))
	require.Len(t, ds, 1)
	assert.Equal(t, "bio-id-"+devices.SimulatedSystemId, ds[0].Id)
	assert.Equal(t, "Bio ID", ds[0].Manufacturer)
	assert.Equal(t, "Simulated Scanner", ds[0].Model)
	assert.Equal(t, 100, ds[0].SignalStrength)
	assert.False(t, ds[0].IsConnected)
}

func TestCaptureFlow(t *testing.T) {
	ts := newTestServer(t)
	deviceId := "bio-id-" + devices.SimulatedSystemId

	_, err := ts.call(t, models.MethodDetectFinger, "")
	assert.Equal(t, models.KindDeviceNotOpen, errorKind(t, err))

	resp, err := ts.call(t, models.MethodConnectToDevice, `{"deviceId":"`+deviceId+`"}`)
	require.NoError(t, err)
	var cr models.ConnectResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &cr))
	assert.True(t, cr.Success)
	assert.Equal(t, deviceId, cr.DeviceId)

	resp, err = ts.call(t, models.MethodOpenDevice, "")
	require.NoError(t, err)
	assert.Equal(t, "1", resp)

	resp, err = ts.call(t, models.MethodDetectFinger, "")
	require.NoError(t, err)
	assert.Equal(t, "false", resp)

	resp, err = ts.call(t, models.MethodCaptureFingerprint, `{"finger":"right_index","timeoutMs":2000}`)
	require.NoError(t, err)
	var capture models.CaptureResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &capture))
	assert.True(t, capture.Success)
	assert.Equal(t, "right_index", capture.Finger)
	assert.NotEmpty(t, capture.Template)
	assert.GreaterOrEqual(t, capture.Quality, 0.6)
	assert.LessOrEqual(t, capture.Quality, 1.0)

	resp, err = ts.call(t, models.MethodGetDeviceInfo, "")
	require.NoError(t, err)
	assert.Contains(t, resp, "simulated")

	resp, err = ts.call(t, models.MethodGetDeviceSerialNumber, "")
	require.NoError(t, err)
	assert.Contains(t, resp, "BIOID")

	resp, err = ts.call(t, models.MethodCloseDevice, "")
	require.NoError(t, err)
	assert.Equal(t, "true", resp)

	resp, err = ts.call(t, models.MethodHistory, `{"maxResults":10}`)
	require.NoError(t, err)
	var hr models.HistoryResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &hr))
	require.Len(t, hr.Entries, 4)
	assert.Equal(t, "close", hr.Entries[0].Operation)
	assert.Equal(t, "capture", hr.Entries[1].Operation)
	assert.Equal(t, "right_index", hr.Entries[1].Finger)
	assert.Equal(t, "connect", hr.Entries[3].Operation)
}

func TestErrorKinds(t *testing.T) {
	tests := map[string]struct {
		method string
		params string
		kind   string
	}{
		"unknown method": {
			method: "launch",
			kind:   models.KindInvalidRequest,
		},
		"connect missing id": {
			method: models.MethodConnectToDevice,
			params: `{}`,
			kind:   models.KindInvalidRequest,
		},
		"connect unknown device": {
			method: models.MethodConnectToDevice,
			params: `{"deviceId":"bio-id-usb:009:009"}`,
			kind:   models.KindConnection,
		},
		"open without permission": {
			method: models.MethodOpenDevice,
			kind:   models.KindOpen,
		},
		"capture not open": {
			method: models.MethodCaptureFingerprint,
			params: `{"finger":"left_thumb"}`,
			kind:   models.KindDeviceNotOpen,
		},
		"info not open": {
			method: models.MethodGetDeviceInfo,
			kind:   models.KindDeviceNotOpen,
		},
		"serial not open": {
			method: models.MethodGetDeviceSerialNumber,
			kind:   models.KindDeviceNotOpen,
		},
	}

	ts := newTestServer(t)
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ts.call(t, tt.method, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errorKind(t, err))
		})
	}
}

func TestCloseWhenClosed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.call(t, models.MethodCloseDevice, "")
	require.NoError(t, err)
	assert.Equal(t, "true", resp)
}

func TestHttpStatus(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "closed", status.Session.State)
	assert.Equal(t, config.DriverSimulated, status.Driver)
	require.Len(t, status.Devices, 1)
	assert.True(t, status.Devices[0].Supported)
	assert.Equal(t, "unknown", status.Devices[0].Permission)
}

func TestInvalidParamsRejectedByClient(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.call(t, models.MethodHistory, "not json")
	assert.ErrorIs(t, err, client.ErrInvalidParams)
}

func TestCaptureFitsRequestDeadline(t *testing.T) {
	assert.Less(t, scanner.MaxCaptureTimeout, api.RequestTimeout)
}
