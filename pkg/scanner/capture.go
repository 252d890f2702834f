package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/drivers"
)

const (
	DefaultCaptureTimeout = 8 * time.Second
	DefaultDetectTimeout  = 3 * time.Second
	DefaultAreaScore      = 45
	// MaxCaptureTimeout keeps a capture inside the API request deadline.
	MaxCaptureTimeout = 25 * time.Second
)

type CaptureRequest struct {
	Finger string
	Config drivers.CaptureConfig
}

// DefaultCaptureConfig matches the scanner SDK defaults: no live finger
// or latent detection, 8 second timeout, 45% minimum area.
func DefaultCaptureConfig() drivers.CaptureConfig {
	return drivers.CaptureConfig{
		TimeoutMs:           int(DefaultCaptureTimeout / time.Millisecond),
		MinAreaScorePercent: DefaultAreaScore,
	}
}

type CaptureResult struct {
	Success  bool
	Finger   string
	Template []byte
	Quality  float64
	Width    int
	Height   int
}

// Coordinator runs detect and capture calls against the open session, one
// at a time.
type Coordinator struct {
	m             *Manager
	detectTimeout time.Duration
	jitter        func() float64
}

func NewCoordinator(m *Manager, detectTimeout time.Duration) *Coordinator {
	if detectTimeout <= 0 {
		detectTimeout = DefaultDetectTimeout
	}

	return &Coordinator{
		m:             m,
		detectTimeout: detectTimeout,
		jitter:        rand.Float64,
	}
}

type callResult[T any] struct {
	v   T
	err error
}

// call runs fn off the caller's goroutine and waits for it, the timeout or
// the operation being invalidated, whichever comes first. The driver call
// may outlive call; it gets the cancelled context and its result is
// dropped.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrCaptureTimeout)
	defer cancel()

	ch := make(chan callResult[T], 1)
	go func() {
		v, err := fn(tctx)
		ch <- callResult[T]{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if tctx.Err() != nil {
			return zero, timeoutCause(tctx)
		}
		return r.v, r.err
	case <-tctx.Done():
		return zero, timeoutCause(tctx)
	}
}

// timeoutCause reports any expired deadline, ours or the caller's, as a
// capture timeout.
func timeoutCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return ErrCaptureTimeout
	}
	return cause
}

func (c *Coordinator) DetectFinger(ctx context.Context) (bool, error) {
	opCtx, drv, done, err := c.m.begin(ctx, "detect")
	if err != nil {
		return false, err
	}
	defer done()

	present, err := call(opCtx, c.detectTimeout, drv.DetectFinger)
	if err != nil {
		return false, err
	}

	log.Debug().Msgf("finger present: %t", present)
	return present, nil
}

// Capture acquires one image and turns it into a result. A timeout or
// hardware failure leaves the session open for a retry; a detach closes
// it and fails the capture with ErrDeviceDisconnected.
func (c *Coordinator) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	opCtx, drv, done, err := c.m.begin(ctx, "capture")
	if err != nil {
		return CaptureResult{}, err
	}
	defer done()

	cfg := req.Config
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = int(DefaultCaptureTimeout / time.Millisecond)
	} else if cfg.Timeout() > MaxCaptureTimeout {
		cfg.TimeoutMs = int(MaxCaptureTimeout / time.Millisecond)
	}

	log.Info().Msgf("capturing fingerprint for: %s", req.Finger)

	img, err := call(opCtx, cfg.Timeout(), func(ctx context.Context) (drivers.Image, error) {
		return drv.GetImage(ctx, cfg)
	})
	if errors.Is(err, ErrCaptureTimeout) || errors.Is(err, ErrDeviceDisconnected) || errors.Is(err, ErrSessionNotOpen) {
		log.Warn().Err(err).Msg("capture aborted")
		return CaptureResult{}, err
	} else if err != nil {
		log.Error().Err(err).Msg("error capturing image")
		return CaptureResult{}, fmt.Errorf("capturing image: %w", err)
	}

	if len(img.Pixels) == 0 {
		return CaptureResult{}, ErrEmptyImage
	}

	quality := Score(img.Width, img.Height, len(img.Pixels), c.jitter())
	log.Info().Msgf("fingerprint captured with quality: %.2f", quality)

	return CaptureResult{
		Success:  true,
		Finger:   req.Finger,
		Template: img.Pixels,
		Quality:  quality,
		Width:    img.Width,
		Height:   img.Height,
	}, nil
}

func (c *Coordinator) DeviceInfo(ctx context.Context) (string, error) {
	opCtx, drv, done, err := c.m.begin(ctx, "info")
	if err != nil {
		return "", err
	}
	defer done()

	return call(opCtx, c.detectTimeout, drv.DeviceInfo)
}

func (c *Coordinator) SerialNumber(ctx context.Context) (string, error) {
	opCtx, drv, done, err := c.m.begin(ctx, "serial")
	if err != nil {
		return "", err
	}
	defer done()

	return call(opCtx, c.detectTimeout, drv.SerialNumber)
}
