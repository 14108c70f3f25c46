// Package webrtc wraps the WebRTC voice-activity detector (via cgo) as a vad
// engine. The WebRTC VAD is the reference implementation of the
// aggressiveness 0–3 model and is considerably more robust than energy
// thresholding in non-stationary noise; prefer it when cgo is acceptable.
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/parley-ai/parley/pkg/provider/vad"
)

// Engine creates WebRTC VAD classifiers.
type Engine struct{}

// Compile-time interface assertion.
var _ vad.Engine = Engine{}

// New returns the WebRTC VAD engine.
func New() Engine { return Engine{} }

// NewClassifier creates a classifier for the given config.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inner, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtcvad: create detector: %w", err)
	}
	if err := inner.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtcvad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	if !inner.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameBytes()/2) {
		return nil, fmt.Errorf("webrtcvad: rate %d / frame %dms not supported", cfg.SampleRate, cfg.FrameMs)
	}
	return &classifier{
		inner:      inner,
		rate:       cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
		mode:       cfg.Aggressiveness,
	}, nil
}

type classifier struct {
	inner      *webrtcvad.VAD
	rate       int
	frameBytes int
	mode       int
}

// IsSpeech classifies one frame with the WebRTC detector.
func (c *classifier) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != c.frameBytes {
		return false, &vad.FrameSizeError{Got: len(frame), Want: c.frameBytes}
	}
	active, err := c.inner.Process(c.rate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtcvad: process frame: %w", err)
	}
	return active, nil
}

// Reset re-applies the mode, which clears the detector's internal smoothing.
func (c *classifier) Reset() {
	_ = c.inner.SetMode(c.mode)
}

// Close releases the detector. The wrapped library frees its state via
// finalizer; nothing to do here.
func (c *classifier) Close() error { return nil }
