package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
	"github.com/yeboverify/bioid-bridge/pkg/drivers/simulated"
	"github.com/yeboverify/bioid-bridge/pkg/permissions"
)

func TestOperationsRequireOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.Capture(ctx, CaptureRequest{Finger: "right_index"})
	assert.ErrorIs(t, err, ErrSessionNotOpen)
	_, err = f.c.DetectFinger(ctx)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
	_, err = f.c.DeviceInfo(ctx)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
	_, err = f.c.SerialNumber(ctx)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestCapture(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)

	res, err := f.c.Capture(context.Background(), CaptureRequest{
		Finger: "right_index",
		Config: drivers.CaptureConfig{TimeoutMs: 8000, MinAreaScorePercent: 45},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "right_index", res.Finger)
	assert.Equal(t, 300, res.Width)
	assert.Equal(t, 400, res.Height)
	assert.Len(t, res.Template, 300*400)
	assert.InDelta(t, 0.85, res.Quality, 0.0001)
	assert.Equal(t, Open, f.m.State())
}

func TestCaptureFailures(t *testing.T) {
	tests := map[string]struct {
		image   drivers.Image
		err     error
		wantErr error
	}{
		"empty image": {
			image:   drivers.Image{Width: 300, Height: 400},
			wantErr: ErrEmptyImage,
		},
		"insufficient area": {
			err:     drivers.ErrInsufficientArea,
			wantErr: drivers.ErrInsufficientArea,
		},
		"hardware error": {
			err:     errors.New("checksum mismatch"),
			wantErr: nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.open(t, scannerA)
			f.drv.set(func(d *fakeDriver) {
				d.image = tt.image
				d.imageErr = tt.err
			})

			res, err := f.c.Capture(context.Background(), CaptureRequest{Finger: "left_index"})
			require.Error(t, err)
			assert.False(t, res.Success)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, Open, f.m.State())
		})
	}
}

func TestOperationInProgress(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	block := make(chan struct{})
	f.drv.set(func(d *fakeDriver) { d.block = block })

	done := make(chan error, 1)
	go func() {
		_, err := f.c.Capture(context.Background(), CaptureRequest{Finger: "right_thumb"})
		done <- err
	}()
	waitFor(t, f.busy)

	_, err := f.c.Capture(context.Background(), CaptureRequest{Finger: "right_thumb"})
	assert.ErrorIs(t, err, ErrOperationInProgress)
	_, err = f.c.DetectFinger(context.Background())
	assert.ErrorIs(t, err, ErrOperationInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, f.busy())

	f.drv.mu.Lock()
	assert.Equal(t, 1, f.drv.captures)
	f.drv.mu.Unlock()
}

func TestDetachDuringCapture(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	f.drv.set(func(d *fakeDriver) {
		d.block = make(chan struct{})
		d.ignoreCtx = true
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.c.Capture(context.Background(), CaptureRequest{
			Finger: "right_index",
			Config: drivers.CaptureConfig{TimeoutMs: 10000},
		})
		done <- err
	}()
	waitFor(t, f.busy)

	assert.True(t, f.m.HandleDetach(scannerA.SystemID))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceDisconnected)
	case <-time.After(time.Second):
		t.Fatal("capture not failed by detach")
	}

	assert.Equal(t, Closed, f.m.State())
	assert.Equal(t, permissions.Unknown, f.perms.State(scannerA.SystemID))

	_, err := f.c.DetectFinger(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotOpen)

	f.drv.mu.Lock()
	assert.True(t, f.drv.released)
	assert.Equal(t, 0, f.drv.closeCalls)
	f.drv.mu.Unlock()
}

func TestCaptureTimeoutKeepsSessionOpen(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	hung := make(chan struct{})
	defer close(hung)
	f.drv.set(func(d *fakeDriver) {
		d.block = hung
		d.ignoreCtx = true
	})

	_, err := f.c.Capture(context.Background(), CaptureRequest{
		Finger: "left_thumb",
		Config: drivers.CaptureConfig{TimeoutMs: 50},
	})
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, Open, f.m.State())
	assert.False(t, f.busy())

	f.drv.set(func(d *fakeDriver) {
		d.block = nil
		d.ignoreCtx = false
	})

	res, err := f.c.Capture(context.Background(), CaptureRequest{
		Finger: "left_thumb",
		Config: drivers.CaptureConfig{TimeoutMs: 1000},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCaptureCallerDeadline(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	f.drv.set(func(d *fakeDriver) { d.block = make(chan struct{}) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.c.Capture(ctx, CaptureRequest{
		Finger: "left_index",
		Config: drivers.CaptureConfig{TimeoutMs: 60000},
	})
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Open, f.m.State())
	assert.False(t, f.busy())
}

func TestCaptureCallerCancelled(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	f.drv.set(func(d *fakeDriver) { d.block = make(chan struct{}) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := f.c.Capture(ctx, CaptureRequest{Finger: "left_index"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, Open, f.m.State())
}

func TestDetectFingerTimeout(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)
	f.drv.set(func(d *fakeDriver) { d.block = make(chan struct{}) })

	_, err := f.c.DetectFinger(context.Background())
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, Open, f.m.State())
}

func TestDeviceInfoAndSerial(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)

	info, err := f.c.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake scanner", info)

	sn, err := f.c.SerialNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FAKE0001", sn)
}

func TestOperationsRevalidatePermission(t *testing.T) {
	f := newFixture(t)
	f.open(t, scannerA)

	f.perms.Forget(scannerA.SystemID)

	_, err := f.c.Capture(context.Background(), CaptureRequest{Finger: "right_index"})
	assert.ErrorIs(t, err, ErrPermissionRequired)
}

type queuedPrompter struct {
	requested chan devices.Identity
}

func (p *queuedPrompter) Granted(devices.Identity) bool { return false }

func (p *queuedPrompter) Request(id devices.Identity) error {
	p.requested <- id
	return nil
}

func simulatedSetup(t *testing.T) (devices.Identity, *permissions.Negotiator, *queuedPrompter, *Manager, *Coordinator) {
	t.Helper()

	classifier, err := devices.NewClassifier([]uint16{0x2808}, nil, nil)
	require.NoError(t, err)
	registry := devices.NewRegistry(classifier, &devices.SimulatedEnumerator{})

	found, err := registry.Supported()
	require.NoError(t, err)
	require.Len(t, found, 1)
	id := found[0]
	assert.Equal(t, uint16(0x2808), id.VendorID)

	prompter := &queuedPrompter{requested: make(chan devices.Identity, 1)}
	perms := permissions.NewNegotiator(prompter, nil)
	m := NewManager(perms, func(id devices.Identity) (drivers.Driver, error) {
		drv := simulated.NewDriver(id)
		drv.CaptureDelay = 10 * time.Millisecond
		return drv, nil
	}, nil)

	return id, perms, prompter, m, NewCoordinator(m, time.Second)
}

type ensureResult struct {
	state permissions.State
	err   error
}

// requestPermission starts a permission request and waits for the prompt.
func requestPermission(t *testing.T, perms *permissions.Negotiator, p *queuedPrompter, id devices.Identity) <-chan ensureResult {
	t.Helper()

	ch := make(chan ensureResult, 1)
	go func() {
		s, err := perms.EnsurePermission(context.Background(), id)
		ch <- ensureResult{s, err}
	}()

	select {
	case req := <-p.requested:
		assert.Equal(t, id.SystemID, req.SystemID)
	case <-time.After(2 * time.Second):
		t.Fatal("permission prompt not issued")
	}
	assert.Equal(t, permissions.Requested, perms.State(id.SystemID))

	return ch
}

func TestSimulatedScannerFlow(t *testing.T) {
	id, perms, prompter, m, c := simulatedSetup(t)
	ctx := context.Background()

	pending := requestPermission(t, perms, prompter, id)

	_, err := m.Open(id)
	assert.ErrorIs(t, err, ErrPermissionRequired)

	perms.Resolve(id.SystemID, true)
	r := <-pending
	require.NoError(t, r.err)
	assert.Equal(t, permissions.Granted, r.state)

	code, err := m.Open(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, code, 0)

	res, err := c.Capture(ctx, CaptureRequest{
		Finger: "right_index",
		Config: drivers.CaptureConfig{TimeoutMs: 8000, MinAreaScorePercent: 45},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Template)
	assert.GreaterOrEqual(t, res.Quality, 0.6)
	assert.LessOrEqual(t, res.Quality, 1.0)

	ok, err := m.Close()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSimulatedScannerDenied(t *testing.T) {
	id, perms, prompter, m, _ := simulatedSetup(t)

	pending := requestPermission(t, perms, prompter, id)
	perms.Resolve(id.SystemID, false)
	r := <-pending
	require.NoError(t, r.err)
	assert.Equal(t, permissions.Denied, r.state)

	_, err := m.Open(id)
	assert.ErrorIs(t, err, ErrPermissionRequired)
	assert.Equal(t, Closed, m.State())
}

func TestConnect(t *testing.T) {
	id, perms, prompter, m, _ := simulatedSetup(t)

	go func() {
		req := <-prompter.requested
		perms.Resolve(req.SystemID, true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.Connect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Open, m.State())

	_, err = m.Connect(ctx, id)
	assert.NoError(t, err)
}

func TestConnectRejectedWithoutPrompt(t *testing.T) {
	tests := map[string]struct {
		setup func(t *testing.T, f *fixture) func()
		want  error
	}{
		"open on another device": {
			setup: func(t *testing.T, f *fixture) func() {
				f.open(t, scannerA)
				return func() {}
			},
			want: ErrDeviceMismatch,
		},
		"opening": {
			setup: func(t *testing.T, f *fixture) func() {
				release := make(chan struct{})
				f.drv.set(func(d *fakeDriver) { d.openBlock = release })
				f.perms.Resolve(scannerA.SystemID, true)

				done := make(chan struct{})
				go func() {
					defer close(done)
					_, _ = f.m.Open(scannerA)
				}()
				waitFor(t, func() bool { return f.m.State() == Opening })

				return func() {
					close(release)
					<-done
				}
			},
			want: ErrAlreadyOpenOrOpening,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			finish := tt.setup(t, f)
			defer finish()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			start := time.Now()
			_, err := f.m.Connect(ctx, scannerB)
			assert.ErrorIs(t, err, tt.want)
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, permissions.Unknown, f.perms.State(scannerB.SystemID))
		})
	}
}
